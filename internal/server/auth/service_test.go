package auth

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/levelstore/internal/common"
	"github.com/dmitrijs2005/levelstore/internal/cryptox"
	"github.com/dmitrijs2005/levelstore/internal/server/state"
	"github.com/dmitrijs2005/levelstore/internal/server/storage"
	"github.com/dmitrijs2005/levelstore/internal/server/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestService(t *testing.T, opts Options) (*Service, *state.State, *clock) {
	t.Helper()
	st, err := state.New(context.Background(), memory.New(), nil)
	require.NoError(t, err)

	clk := &clock{now: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
	st.Now = clk.Now

	opts.Hasher = cryptox.NewPasswordHasher(cryptox.Argon2Params{
		Memory: 1024, Iterations: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32,
	})
	return NewService(st, opts), st, clk
}

func TestRegister_Success(t *testing.T) {
	s, st, _ := newTestService(t, Options{})
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "Alice@Example.COM", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, u.ID)
	assert.Equal(t, "alice", u.UserName)
	assert.Equal(t, "alice@example.com", u.Email)
	assert.Empty(t, u.PasswordHash)

	raw, err := st.Store.Get(ctx, state.NSUsers, u.ID)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "password123")
	assert.Contains(t, string(raw), "$argon2id$")

	// the public model never serializes the hash
	out, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "argon2")
}

func TestRegister_Validation(t *testing.T) {
	s, _, _ := newTestService(t, Options{MinPasswordLength: 10})
	ctx := context.Background()

	tests := []struct {
		name, username, email, password, msg string
	}{
		{"missing username", "", "a@b.io", "longenough1", "username is required"},
		{"short username", "al", "a@b.io", "longenough1", "at least 3"},
		{"bad email", "alice", "not-an-email", "longenough1", "email is malformed"},
		{"short password", "alice", "a@b.io", "short", "at least 10"},
		{"long password", "alice", "a@b.io", strings.Repeat("x", 129), "at most 128"},
		{"empty password", "alice", "a@b.io", "", "password is required"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.Register(ctx, tt.username, tt.email, tt.password)
			require.ErrorIs(t, err, common.ErrValidation)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}
}

func TestRegister_DuplicatesCaseInsensitive(t *testing.T) {
	s, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	_, err = s.Register(ctx, "bob", "ALICE@example.com", "password123")
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Contains(t, err.Error(), "email already registered")

	_, err = s.Register(ctx, "ALICE", "other@example.com", "password123")
	require.ErrorIs(t, err, common.ErrValidation)
	assert.Contains(t, err.Error(), "username already taken")
}

func TestRegister_ConcurrentSameEmail(t *testing.T) {
	s, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	const n = 8
	var wg sync.WaitGroup
	var mu sync.Mutex
	ok := 0
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Register(ctx, "user"+string(rune('a'+i)), "same@example.com", "password123")
			if err == nil {
				mu.Lock()
				ok++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, ok)
}

func TestLogin_GetSession_Logout(t *testing.T) {
	s, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	res, err := s.Login(ctx, "ALICE@example.com", "password123")
	require.NoError(t, err)
	assert.Len(t, res.Token, 64)
	assert.Equal(t, u.ID, res.User.ID)
	assert.Empty(t, res.User.PasswordHash)

	sess, err := s.GetSession(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, u.ID, sess.UserID)

	who, err := s.Authenticate(ctx, res.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", who.UserName)

	require.NoError(t, s.Logout(ctx, res.Token))
	require.NoError(t, s.Logout(ctx, res.Token))

	_, err = s.GetSession(ctx, res.Token)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestLogin_SymmetricFailure(t *testing.T) {
	s, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	_, errWrong := s.Login(ctx, "alice@example.com", "wrong-password")
	_, errUnknown := s.Login(ctx, "nobody@example.com", "password123")

	require.ErrorIs(t, errWrong, common.ErrorUnauthorized)
	require.ErrorIs(t, errUnknown, common.ErrorUnauthorized)
	assert.Equal(t, errWrong.Error(), errUnknown.Error())
}

func TestLogin_MultipleSessions(t *testing.T) {
	s, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	a, err := s.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)
	b, err := s.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)
	assert.NotEqual(t, a.Token, b.Token)

	require.NoError(t, s.Logout(ctx, a.Token))
	_, err = s.GetSession(ctx, b.Token)
	assert.NoError(t, err, "logging out one session keeps the other")
}

func TestSessionKeyedByDigest(t *testing.T) {
	s, st, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)
	res, err := s.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)

	keys, err := st.Store.List(ctx, state.NSSessions)
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.NotEqual(t, res.Token, keys[0])
	assert.Equal(t, cryptox.TokenDigest(res.Token), keys[0])
}

func TestGetSession_Unknown(t *testing.T) {
	s, _, _ := newTestService(t, Options{})

	_, err := s.GetSession(context.Background(), "")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = s.GetSession(context.Background(), "deadbeef")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestGetSession_TTL(t *testing.T) {
	s, st, clk := newTestService(t, Options{SessionTTL: time.Hour})
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)
	res, err := s.Login(ctx, "alice@example.com", "password123")
	require.NoError(t, err)

	clk.Advance(59 * time.Minute)
	_, err = s.GetSession(ctx, res.Token)
	require.NoError(t, err)

	clk.Advance(2 * time.Minute)
	_, err = s.GetSession(ctx, res.Token)
	assert.ErrorIs(t, err, common.ErrorNotFound)

	_, err = st.Store.Get(ctx, state.NSSessions, cryptox.TokenDigest(res.Token))
	assert.ErrorIs(t, err, storage.ErrNotFound, "expired sessions are removed")
}

func TestGetUserByID(t *testing.T) {
	s, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	got, err := s.GetUserByID(ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, u, got)

	_, err = s.GetUserByID(ctx, "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
	_, err = s.GetUserByID(ctx, "../etc/passwd")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestFindUserByEmail(t *testing.T) {
	s, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	u, err := s.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	got, err := s.FindUserByEmail(ctx, "  Alice@Example.com ")
	require.NoError(t, err)
	assert.Equal(t, u.ID, got.ID)

	_, err = s.FindUserByEmail(ctx, "bob@example.com")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestLogoutAll(t *testing.T) {
	s, _, _ := newTestService(t, Options{})
	ctx := context.Background()

	alice, err := s.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)
	_, err = s.Register(ctx, "bob", "bob@example.com", "password123")
	require.NoError(t, err)

	a1, _ := s.Login(ctx, "alice@example.com", "password123")
	a2, _ := s.Login(ctx, "alice@example.com", "password123")
	b1, _ := s.Login(ctx, "bob@example.com", "password123")

	n, err := s.LogoutAll(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, tok := range []string{a1.Token, a2.Token} {
		_, err := s.GetSession(ctx, tok)
		assert.ErrorIs(t, err, common.ErrorNotFound)
	}
	_, err = s.GetSession(ctx, b1.Token)
	assert.NoError(t, err)
}

type failingStore struct {
	storage.Store
	failGet bool
}

func (f *failingStore) Get(ctx context.Context, ns, key string) ([]byte, error) {
	if f.failGet {
		return nil, errors.New("backend unavailable")
	}
	return f.Store.Get(ctx, ns, key)
}

func TestStorageFailuresAreNotAbsence(t *testing.T) {
	s, st, _ := newTestService(t, Options{})
	ctx := context.Background()

	_, err := s.Register(ctx, "alice", "alice@example.com", "password123")
	require.NoError(t, err)

	st.Store = &failingStore{Store: st.Store, failGet: true}

	_, err = s.Login(ctx, "alice@example.com", "password123")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorUnauthorized)

	_, err = s.GetSession(ctx, "sometoken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorNotFound)
}

// nsFailStore fails every Put into one namespace.
type nsFailStore struct {
	storage.Store
	ns string
}

func (f *nsFailStore) Put(ctx context.Context, ns, key string, value []byte) error {
	if ns == f.ns {
		return errors.New("disk full")
	}
	return f.Store.Put(ctx, ns, key, value)
}

func TestRegister_FailedIndexWriteRollsBack(t *testing.T) {
	for _, ns := range []string{state.NSUsers, state.NSEmails, state.NSUsernames} {
		t.Run(ns, func(t *testing.T) {
			s, st, _ := newTestService(t, Options{})
			ctx := context.Background()
			healthy := st.Store
			st.Store = &nsFailStore{Store: healthy, ns: ns}

			_, err := s.Register(ctx, "alice", "alice@example.com", "password123")
			require.Error(t, err)
			assert.NotErrorIs(t, err, common.ErrValidation)

			for _, check := range []string{state.NSUsers, state.NSEmails, state.NSUsernames} {
				keys, err := healthy.List(ctx, check)
				require.NoError(t, err)
				assert.Empty(t, keys, check)
			}

			st.Store = healthy
			_, err = s.Login(ctx, "alice@example.com", "password123")
			assert.ErrorIs(t, err, common.ErrorUnauthorized)

			u, err := s.Register(ctx, "alice", "alice@example.com", "password123")
			require.NoError(t, err)
			res, err := s.Login(ctx, "alice@example.com", "password123")
			require.NoError(t, err)
			assert.Equal(t, u.ID, res.User.ID)
		})
	}
}

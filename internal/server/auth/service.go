// Package auth manages accounts and bearer-token sessions.
//
// Users live in the users namespace keyed by id. The emails and usernames
// namespaces map a digest of the lower-cased value to the user id, which
// keeps arbitrary addresses inside the storage key alphabet. Sessions are
// keyed by the SHA-256 digest of the token; the token itself is only ever
// handed to the client.
package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/dmitrijs2005/levelstore/internal/common"
	"github.com/dmitrijs2005/levelstore/internal/cryptox"
	"github.com/dmitrijs2005/levelstore/internal/logging"
	"github.com/dmitrijs2005/levelstore/internal/server/models"
	"github.com/dmitrijs2005/levelstore/internal/server/state"
	"github.com/dmitrijs2005/levelstore/internal/server/storage"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

const (
	registerLockKey = "auth:register"
	tokenBytes      = 32
	maxPasswordLen  = 128
)

// ErrInvalidCredentials is returned by Login for an unknown email and for a
// wrong password alike.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid email or password", common.ErrorUnauthorized)

// LoginResult is what a successful Login hands back to the caller.
type LoginResult struct {
	User  *models.User `json:"user"`
	Token string       `json:"token"`
}

// Options tune the service. Zero values fall back to defaults.
type Options struct {
	MinPasswordLength int
	// SessionTTL bounds session age; 0 keeps sessions until logout.
	SessionTTL time.Duration
	Hasher     *cryptox.PasswordHasher
}

type Service struct {
	st         *state.State
	hasher     *cryptox.PasswordHasher
	validate   *validator.Validate
	minPassLen int
	sessionTTL time.Duration
	logger     logging.Logger

	dummyOnce sync.Once
	dummyHash string
}

type registration struct {
	UserName string `validate:"required,min=3,max=64"`
	Email    string `validate:"required,email,max=254"`
	Password string `validate:"required"`
}

// userRecord is the persisted form of a user; unlike models.User it carries
// the password hash through JSON.
type userRecord struct {
	ID           string    `json:"id"`
	UserName     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password_hash"`
	CreatedAt    time.Time `json:"created_at"`
}

func (r *userRecord) public() *models.User {
	return &models.User{
		ID:        r.ID,
		UserName:  r.UserName,
		Email:     r.Email,
		CreatedAt: r.CreatedAt,
	}
}

func NewService(st *state.State, opts Options) *Service {
	if opts.MinPasswordLength <= 0 {
		opts.MinPasswordLength = 8
	}
	if opts.Hasher == nil {
		opts.Hasher = cryptox.NewPasswordHasher(cryptox.DefaultArgon2Params())
	}
	return &Service{
		st:         st,
		hasher:     opts.Hasher,
		validate:   validator.New(validator.WithRequiredStructEnabled()),
		minPassLen: opts.MinPasswordLength,
		sessionTTL: opts.SessionTTL,
		logger:     st.Logger.With("module", "auth"),
	}
}

func indexKey(v string) string {
	return cryptox.TokenDigest(strings.ToLower(strings.TrimSpace(v)))
}

func (s *Service) validationError(err error) error {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		fe := verrs[0]
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			return fmt.Errorf("%w: %s is required", common.ErrValidation, field)
		case "email":
			return fmt.Errorf("%w: email is malformed", common.ErrValidation)
		case "min":
			return fmt.Errorf("%w: %s must be at least %s characters", common.ErrValidation, field, fe.Param())
		case "max":
			return fmt.Errorf("%w: %s must be at most %s characters", common.ErrValidation, field, fe.Param())
		}
		return fmt.Errorf("%w: %s is invalid", common.ErrValidation, field)
	}
	return fmt.Errorf("%w: %v", common.ErrValidation, err)
}

func (s *Service) checkPassword(password string) error {
	tag := fmt.Sprintf("min=%d,max=%d", s.minPassLen, maxPasswordLen)
	if err := s.validate.Var(password, tag); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 && verrs[0].Tag() == "max" {
			return fmt.Errorf("%w: password must be at most %d characters", common.ErrValidation, maxPasswordLen)
		}
		return fmt.Errorf("%w: password must be at least %d characters", common.ErrValidation, s.minPassLen)
	}
	return nil
}

// Register creates an account. Username and email are unique regardless of
// case; the email is stored lower-cased.
func (s *Service) Register(ctx context.Context, username, email, password string) (*models.User, error) {
	in := registration{
		UserName: strings.TrimSpace(username),
		Email:    strings.ToLower(strings.TrimSpace(email)),
		Password: password,
	}
	if err := s.validate.Struct(in); err != nil {
		return nil, s.validationError(err)
	}
	if err := s.checkPassword(password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}

	ctx = context.WithoutCancel(ctx)
	defer s.st.Locks.Lock(registerLockKey)()

	emailKey, nameKey := indexKey(in.Email), indexKey(in.UserName)

	if taken, err := s.exists(ctx, state.NSEmails, emailKey); err != nil {
		return nil, err
	} else if taken {
		return nil, fmt.Errorf("%w: email already registered", common.ErrValidation)
	}
	if taken, err := s.exists(ctx, state.NSUsernames, nameKey); err != nil {
		return nil, err
	} else if taken {
		return nil, fmt.Errorf("%w: username already taken", common.ErrValidation)
	}

	rec := &userRecord{
		ID:           uuid.NewString(),
		UserName:     in.UserName,
		Email:        in.Email,
		PasswordHash: hash,
		CreatedAt:    s.st.Now(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, fmt.Errorf("encode user: %w", err)
	}

	// The user record goes first so an index entry never points at nothing.
	// Anything already written is taken back if a later write fails.
	var written [][2]string
	ok := false
	defer func() {
		if ok {
			return
		}
		for i := len(written) - 1; i >= 0; i-- {
			ns, key := written[i][0], written[i][1]
			if err := s.st.Store.Delete(ctx, ns, key); err != nil {
				s.logger.Error(ctx, "register rollback failed", "namespace", ns, "error", err)
			}
		}
	}()

	steps := []struct {
		ns, key, what string
		value         []byte
	}{
		{state.NSUsers, rec.ID, "user", data},
		{state.NSEmails, emailKey, "email index", []byte(rec.ID)},
		{state.NSUsernames, nameKey, "username index", []byte(rec.ID)},
	}
	for _, step := range steps {
		if err := s.st.Store.Put(ctx, step.ns, step.key, step.value); err != nil {
			s.logger.Error(ctx, "store "+step.what+" failed", "user_id", rec.ID, "error", err)
			return nil, fmt.Errorf("store %s: %w", step.what, err)
		}
		written = append(written, [2]string{step.ns, step.key})
	}
	ok = true

	s.logger.Info(ctx, "user registered", "user_id", rec.ID)
	return rec.public(), nil
}

func (s *Service) exists(ctx context.Context, ns, key string) (bool, error) {
	_, err := s.st.Store.Get(ctx, ns, key)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	s.logger.Error(ctx, "index lookup failed", "namespace", ns, "error", err)
	return false, fmt.Errorf("lookup %s: %w", ns, err)
}

func (s *Service) loadUser(ctx context.Context, id string) (*userRecord, error) {
	if storage.ValidateName(id) != nil {
		return nil, common.ErrorNotFound
	}
	data, err := s.st.Store.Get(ctx, state.NSUsers, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, common.ErrorNotFound
		}
		s.logger.Error(ctx, "load user failed", "user_id", id, "error", err)
		return nil, fmt.Errorf("load user: %w", err)
	}
	rec := &userRecord{}
	if err := json.Unmarshal(data, rec); err != nil {
		return nil, fmt.Errorf("decode user %s: %w", id, err)
	}
	return rec, nil
}

func (s *Service) userByEmail(ctx context.Context, email string) (*userRecord, error) {
	id, err := s.st.Store.Get(ctx, state.NSEmails, indexKey(email))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("lookup email: %w", err)
	}
	return s.loadUser(ctx, string(id))
}

// FindUserByEmail looks a user up by email, ignoring case.
func (s *Service) FindUserByEmail(ctx context.Context, email string) (*models.User, error) {
	rec, err := s.userByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	return rec.public(), nil
}

func (s *Service) dummyVerify(password string) {
	s.dummyOnce.Do(func() {
		s.dummyHash, _ = s.hasher.Hash("levelstore-timing-equalizer")
	})
	s.hasher.Verify(password, s.dummyHash)
}

// Login checks the credentials and opens a new session.
func (s *Service) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	rec, err := s.userByEmail(ctx, email)
	if err != nil {
		if !errors.Is(err, common.ErrorNotFound) {
			s.logger.Error(ctx, "login lookup failed", "error", err)
			return nil, err
		}
		s.dummyVerify(password)
		return nil, ErrInvalidCredentials
	}

	if !s.hasher.Verify(password, rec.PasswordHash) {
		s.logger.Info(ctx, "login rejected", "user_id", rec.ID)
		return nil, ErrInvalidCredentials
	}

	token, err := common.MakeRandHexString(tokenBytes)
	if err != nil {
		return nil, fmt.Errorf("generate token: %w", err)
	}

	sess := &models.Session{UserID: rec.ID, CreatedAt: s.st.Now()}
	data, err := json.Marshal(sess)
	if err != nil {
		return nil, fmt.Errorf("encode session: %w", err)
	}
	if err := s.st.Store.Put(context.WithoutCancel(ctx), state.NSSessions, cryptox.TokenDigest(token), data); err != nil {
		s.logger.Error(ctx, "store session failed", "user_id", rec.ID, "error", err)
		return nil, fmt.Errorf("store session: %w", err)
	}

	s.logger.Info(ctx, "user logged in", "user_id", rec.ID)
	return &LoginResult{User: rec.public(), Token: token}, nil
}

// Logout ends the session behind token. Unknown tokens are ignored.
func (s *Service) Logout(ctx context.Context, token string) error {
	if token == "" {
		return nil
	}
	if err := s.st.Store.Delete(context.WithoutCancel(ctx), state.NSSessions, cryptox.TokenDigest(token)); err != nil {
		s.logger.Error(ctx, "delete session failed", "error", err)
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// GetSession resolves token. An unknown or expired token yields
// common.ErrorNotFound.
func (s *Service) GetSession(ctx context.Context, token string) (*models.Session, error) {
	if token == "" {
		return nil, common.ErrorNotFound
	}
	key := cryptox.TokenDigest(token)

	data, err := s.st.Store.Get(ctx, state.NSSessions, key)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, common.ErrorNotFound
		}
		s.logger.Error(ctx, "load session failed", "error", err)
		return nil, fmt.Errorf("load session: %w", err)
	}

	sess := &models.Session{}
	if err := json.Unmarshal(data, sess); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}

	if s.sessionTTL > 0 && s.st.Now().Sub(sess.CreatedAt) > s.sessionTTL {
		if err := s.st.Store.Delete(context.WithoutCancel(ctx), state.NSSessions, key); err != nil {
			s.logger.Warn(ctx, "expired session cleanup failed", "error", err)
		}
		return nil, common.ErrorNotFound
	}
	return sess, nil
}

// GetUserByID returns the user or common.ErrorNotFound.
func (s *Service) GetUserByID(ctx context.Context, id string) (*models.User, error) {
	rec, err := s.loadUser(ctx, id)
	if err != nil {
		return nil, err
	}
	return rec.public(), nil
}

// Authenticate resolves a bearer token to its user.
func (s *Service) Authenticate(ctx context.Context, token string) (*models.User, error) {
	sess, err := s.GetSession(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.GetUserByID(ctx, sess.UserID)
}

// LogoutAll ends every session of userID and reports how many were removed.
func (s *Service) LogoutAll(ctx context.Context, userID string) (int, error) {
	ctx = context.WithoutCancel(ctx)

	keys, err := s.st.Store.List(ctx, state.NSSessions)
	if err != nil {
		return 0, fmt.Errorf("list sessions: %w", err)
	}

	removed := 0
	for _, key := range keys {
		data, err := s.st.Store.Get(ctx, state.NSSessions, key)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				continue
			}
			return removed, fmt.Errorf("load session: %w", err)
		}
		var sess models.Session
		if err := json.Unmarshal(data, &sess); err != nil || sess.UserID != userID {
			continue
		}
		if err := s.st.Store.Delete(ctx, state.NSSessions, key); err != nil {
			return removed, fmt.Errorf("delete session: %w", err)
		}
		removed++
	}

	s.logger.Info(ctx, "sessions revoked", "user_id", userID, "count", removed)
	return removed, nil
}

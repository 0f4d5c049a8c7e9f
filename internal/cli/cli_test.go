package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dmitrijs2005/levelstore/internal/logging"
	"github.com/dmitrijs2005/levelstore/internal/server/auth"
	"github.com/dmitrijs2005/levelstore/internal/server/config"
	"github.com/dmitrijs2005/levelstore/internal/server/projects"
	"github.com/dmitrijs2005/levelstore/internal/server/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	aliceEmail    = "alice@example.com"
	alicePassword = "password123"
)

// run executes a fresh command tree against the bolt file at dbPath.
func run(t *testing.T, dbPath, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--storage", config.BackendBolt, "--path", dbPath}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

type fixture struct {
	dbPath    string
	projectID string
}

// openState opens the bolt file directly, the way the server would.
func openState(t *testing.T, dbPath string) *state.State {
	t.Helper()
	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.StorageBackend = config.BackendBolt
	cfg.StoragePath = dbPath
	st, err := state.Open(context.Background(), cfg, logging.Nop())
	require.NoError(t, err)
	return st
}

// seed registers alice and gives her one project saved three times, so it
// has two backups.
func seed(t *testing.T) fixture {
	t.Helper()
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "levelstore.db")

	st := openState(t, dbPath)
	defer st.Close()

	as := auth.NewService(st, auth.Options{})
	u, err := as.Register(ctx, "alice", aliceEmail, alicePassword)
	require.NoError(t, err)

	ps := projects.NewService(st, projects.Options{})
	p, err := ps.Create(ctx, u.ID, "Castle")
	require.NoError(t, err)
	for _, doc := range []string{`{"v":1}`, `{"v":2}`, `{"v":3}`} {
		require.NoError(t, ps.SaveScene(ctx, p.ID, []byte(doc)))
	}
	return fixture{dbPath: dbPath, projectID: p.ID}
}

func TestUserAdd_PasswordStdin(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "levelstore.db")

	out, err := run(t, dbPath, alicePassword+"\n", "user", "add", "--username", "alice", "--email", aliceEmail, "--password-stdin")
	require.NoError(t, err)
	assert.Contains(t, out, "created user")
	assert.Contains(t, out, aliceEmail)

	_, err = run(t, dbPath, alicePassword+"\n", "user", "add", "--username", "alice2", "--email", "ALICE@example.com", "--password-stdin")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "email already registered")

	st := openState(t, dbPath)
	defer st.Close()
	res, err := auth.NewService(st, auth.Options{}).Login(context.Background(), aliceEmail, alicePassword)
	require.NoError(t, err)
	assert.NotEmpty(t, res.Token)
}

func TestUserAdd_Prompt(t *testing.T) {
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })

	answers := []string{"password123", "password123"}
	readPassword = func(int) ([]byte, error) {
		a := answers[0]
		answers = answers[1:]
		return []byte(a), nil
	}

	dbPath := filepath.Join(t.TempDir(), "levelstore.db")
	out, err := run(t, dbPath, "", "user", "add", "--username", "bob", "--email", "bob@example.com")
	require.NoError(t, err)
	assert.Contains(t, out, "created user")
}

func TestUserAdd_PromptMismatch(t *testing.T) {
	orig := readPassword
	t.Cleanup(func() { readPassword = orig })

	answers := []string{"password123", "password124"}
	readPassword = func(int) ([]byte, error) {
		a := answers[0]
		answers = answers[1:]
		return []byte(a), nil
	}

	dbPath := filepath.Join(t.TempDir(), "levelstore.db")
	_, err := run(t, dbPath, "", "user", "add", "--username", "bob", "--email", "bob@example.com")
	require.ErrorIs(t, err, errPasswordMismatch)
}

func TestUserAdd_ShortPassword(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "levelstore.db")
	_, err := run(t, dbPath, "short\n", "user", "add", "--username", "carol", "--email", "carol@example.com", "--password-stdin")
	require.Error(t, err)
}

func TestUserAdd_RequiresFlags(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "levelstore.db")
	_, err := run(t, dbPath, alicePassword+"\n", "user", "add", "--email", aliceEmail, "--password-stdin")
	require.Error(t, err)
}

func TestUserLogoutAll(t *testing.T) {
	f := seed(t)

	st := openState(t, f.dbPath)
	as := auth.NewService(st, auth.Options{})
	for range 2 {
		_, err := as.Login(context.Background(), aliceEmail, alicePassword)
		require.NoError(t, err)
	}
	require.NoError(t, st.Close())

	out, err := run(t, f.dbPath, "", "user", "logout-all", aliceEmail)
	require.NoError(t, err)
	assert.Contains(t, out, "revoked 2 session(s)")

	_, err = run(t, f.dbPath, "", "user", "logout-all", "nobody@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no user")
}

func TestProjectList(t *testing.T) {
	f := seed(t)

	out, err := run(t, f.dbPath, "", "project", "list", aliceEmail)
	require.NoError(t, err)
	assert.Contains(t, out, "TITLE")
	assert.Contains(t, out, f.projectID)
	assert.Contains(t, out, "Castle")

	_, err = run(t, f.dbPath, "", "project", "list", "nobody@example.com")
	require.Error(t, err)
}

func TestProjectBackupsAndRevert(t *testing.T) {
	f := seed(t)

	out, err := run(t, f.dbPath, "", "project", "backups", f.projectID)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[1], "0 "))
	assert.True(t, strings.HasPrefix(lines[2], "1 "))

	out, err = run(t, f.dbPath, "", "project", "revert", f.projectID, "0")
	require.NoError(t, err)
	assert.Contains(t, out, "reverted")

	st := openState(t, f.dbPath)
	defer st.Close()
	ps := projects.NewService(st, projects.Options{})
	scene, err := ps.GetScene(context.Background(), f.projectID)
	require.NoError(t, err)
	assert.JSONEq(t, `{"v":1}`, string(scene))
	backups, err := ps.GetBackups(context.Background(), f.projectID)
	require.NoError(t, err)
	require.Len(t, backups, 3)
	assert.JSONEq(t, `{"v":3}`, string(backups[2].Snapshot))
}

func TestProjectRevert_Errors(t *testing.T) {
	f := seed(t)

	_, err := run(t, f.dbPath, "", "project", "revert", f.projectID, "7")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "has no backup 7")

	_, err = run(t, f.dbPath, "", "project", "revert", f.projectID, "first")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid backup index")

	_, err = run(t, f.dbPath, "", "project", "backups", "0000-dead")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not found")
}

func TestProjectExportImport_File(t *testing.T) {
	f := seed(t)
	archivePath := filepath.Join(t.TempDir(), "castle.lsp")

	_, err := run(t, f.dbPath, "", "project", "export", f.projectID, "-o", archivePath)
	require.NoError(t, err)
	info, err := os.Stat(archivePath)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())

	out, err := run(t, f.dbPath, "", "project", "import", aliceEmail, archivePath)
	require.NoError(t, err)
	assert.Contains(t, out, "imported project")
	assert.Contains(t, out, "Castle")

	st := openState(t, f.dbPath)
	defer st.Close()
	as := auth.NewService(st, auth.Options{})
	u, err := as.FindUserByEmail(context.Background(), aliceEmail)
	require.NoError(t, err)
	ps := projects.NewService(st, projects.Options{})
	list, err := ps.ListByOwner(context.Background(), u.ID)
	require.NoError(t, err)
	require.Len(t, list, 2)

	var imported string
	for _, p := range list {
		if p.ID != f.projectID {
			imported = p.ID
		}
	}
	orig, err := ps.Export(context.Background(), f.projectID)
	require.NoError(t, err)
	copied, err := ps.Export(context.Background(), imported)
	require.NoError(t, err)
	assert.JSONEq(t, string(orig.Scene), string(copied.Scene))
	assert.Len(t, copied.Backups, len(orig.Backups))
}

func TestProjectExportImport_Stdio(t *testing.T) {
	f := seed(t)

	archiveData, err := run(t, f.dbPath, "", "project", "export", f.projectID)
	require.NoError(t, err)
	require.NotEmpty(t, archiveData)

	out, err := run(t, f.dbPath, archiveData, "project", "import", aliceEmail, "-")
	require.NoError(t, err)
	assert.Contains(t, out, "imported project")
}

func TestProjectImport_BadArchive(t *testing.T) {
	f := seed(t)

	_, err := run(t, f.dbPath, "definitely not zstd", "project", "import", aliceEmail, "-")
	require.Error(t, err)

	_, err = run(t, f.dbPath, "", "project", "import", aliceEmail, filepath.Join(t.TempDir(), "missing.lsp"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open archive")
}

func TestUnknownBackend(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--storage", "tape", "project", "list", aliceEmail})
	require.Error(t, cmd.ExecuteContext(context.Background()))
}

func TestPing(t *testing.T) {
	orig := waitForServing
	t.Cleanup(func() { waitForServing = orig })

	var got string
	waitForServing = func(_ context.Context, addr string) error {
		got = addr
		return nil
	}

	out, err := run(t, filepath.Join(t.TempDir(), "x.db"), "", "ping", "127.0.0.1:6000")
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:6000", got)
	assert.Contains(t, out, "is serving")

	_, err = run(t, filepath.Join(t.TempDir(), "x.db"), "", "ping")
	require.NoError(t, err)
	assert.Equal(t, ":50051", got)

	waitForServing = func(context.Context, string) error { return errors.New("connection refused") }
	_, err = run(t, filepath.Join(t.TempDir(), "x.db"), "", "ping", "127.0.0.1:6000", "--timeout", "10ms")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not serving")
}

func TestConfigArgs(t *testing.T) {
	cmd := NewRootCmd()
	cmd.SetArgs([]string{"--config", "levelstore.json", "--storage", "sqlite", "--compress", "ping", "x"})
	orig := waitForServing
	t.Cleanup(func() { waitForServing = orig })
	waitForServing = func(context.Context, string) error { return nil }
	cmd.SetOut(&bytes.Buffer{})
	require.NoError(t, cmd.ExecuteContext(context.Background()))

	ping, _, err := cmd.Find([]string{"ping"})
	require.NoError(t, err)
	o := &rootOptions{configFile: "levelstore.json", backend: "sqlite", compress: true, logLevel: "warn"}
	assert.Equal(t, []string{"-c", "levelstore.json", "-s", "sqlite", "-z", "-l", "warn"}, o.configArgs(ping))
}

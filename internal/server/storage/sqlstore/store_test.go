package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/levelstore/internal/server/storage"
	"github.com/dmitrijs2005/levelstore/internal/server/storage/storagetest"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/require"
)

func newStoreWithMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New error: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	s := New(db, Postgres)
	s.now = func() time.Time { return time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC) }
	return s, mock
}

const (
	ensureRe = `(?s)^INSERT\s+INTO\s+kv_namespaces\s*\(name\)\s*VALUES\s*\(\$1\)\s*ON\s+CONFLICT\s*\(name\)\s*DO\s+NOTHING$`
	putRe    = `(?s)^INSERT\s+INTO\s+kv_entries\s*\(namespace,\s*entry_key,\s*value,\s*updated_at\)\s*SELECT.*WHERE\s+EXISTS.*ON\s+CONFLICT\s*\(namespace,\s*entry_key\)\s*DO\s+UPDATE.*$`
	getRe    = `(?s)^SELECT\s+value\s+FROM\s+kv_entries\s+WHERE\s+namespace\s*=\s*\$1\s+AND\s+entry_key\s*=\s*\$2$`
	deleteRe = `(?s)^DELETE\s+FROM\s+kv_entries\s+WHERE\s+namespace\s*=\s*\$1\s+AND\s+entry_key\s*=\s*\$2$`
	listRe   = `(?s)^SELECT\s+entry_key\s+FROM\s+kv_entries\s+WHERE\s+namespace\s*=\s*\$1$`
)

func TestEnsureNamespace_Success(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(ensureRe).WithArgs("projects").WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.EnsureNamespace(context.Background(), "projects"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestEnsureNamespace_DBError(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(ensureRe).WithArgs("projects").WillReturnError(errors.New("db down"))

	err := s.EnsureNamespace(context.Background(), "projects")
	if err == nil || !regexp.MustCompile(`db error: .*db down`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestPut_Success(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(putRe).
		WithArgs("projects", "p1", []byte("v"), time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := s.Put(context.Background(), "projects", "p1", []byte("v")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPut_NoNamespace(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(putRe).
		WithArgs("ghost", "p1", []byte("v"), sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.Put(context.Background(), "ghost", "p1", []byte("v"))
	if !errors.Is(err, storage.ErrNoNamespace) {
		t.Fatalf("want storage.ErrNoNamespace, got %v", err)
	}
}

func TestPut_InvalidKeyNeverReachesDB(t *testing.T) {
	s, mock := newStoreWithMock(t)

	err := s.Put(context.Background(), "projects", "../x", []byte("v"))
	if !errors.Is(err, storage.ErrInvalidName) {
		t.Fatalf("want storage.ErrInvalidName, got %v", err)
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unexpected db traffic: %v", err)
	}
}

func TestGet_Found(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(getRe).
		WithArgs("projects", "p1").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow([]byte(`{"a":1}`)))

	got, err := s.Get(context.Background(), "projects", "p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != `{"a":1}` {
		t.Fatalf("unexpected value: %s", got)
	}
}

func TestGet_NotFound(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(getRe).WithArgs("projects", "missing").WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "projects", "missing")
	if !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("want storage.ErrNotFound, got %v", err)
	}
}

func TestGet_DBError(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectQuery(getRe).WithArgs("projects", "p1").WillReturnError(errors.New("db err"))

	_, err := s.Get(context.Background(), "projects", "p1")
	if err == nil || !regexp.MustCompile(`db error: .*db err`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped db error, got %v", err)
	}
}

func TestDelete_Success(t *testing.T) {
	s, mock := newStoreWithMock(t)

	mock.ExpectExec(deleteRe).WithArgs("sessions", "t1").WillReturnResult(sqlmock.NewResult(0, 0))

	if err := s.Delete(context.Background(), "sessions", "t1"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestList_SortsByteOrder(t *testing.T) {
	s, mock := newStoreWithMock(t)

	rows := sqlmock.NewRows([]string{"entry_key"}).AddRow("b").AddRow("A").AddRow("a")
	mock.ExpectQuery(listRe).WithArgs("projects").WillReturnRows(rows)

	keys, err := s.List(context.Background(), "projects")
	require.NoError(t, err)
	require.Equal(t, []string{"A", "a", "b"}, keys)
}

func TestList_RowError(t *testing.T) {
	s, mock := newStoreWithMock(t)

	rows := sqlmock.NewRows([]string{"entry_key"}).AddRow("a").RowError(0, errors.New("broken row"))
	mock.ExpectQuery(listRe).WithArgs("projects").WillReturnRows(rows)

	_, err := s.List(context.Background(), "projects")
	require.Error(t, err)
}

func TestRunMigrations_UsesDialectDir(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()

	var gotDir string
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		gotDir = dir
		return nil
	}

	require.NoError(t, RunMigrations(context.Background(), db, Postgres))
	require.Equal(t, "postgres", gotDir)

	require.NoError(t, RunMigrations(context.Background(), db, SQLite))
	require.Equal(t, "sqlite", gotDir)
}

func TestRunMigrations_Error(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	orig := gooseUpContext
	defer func() { gooseUpContext = orig }()
	gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
		return errors.New("boom")
	}

	if err := RunMigrations(context.Background(), db, Postgres); err == nil || err.Error() != "boom" {
		t.Fatalf("expected boom, got %v", err)
	}
}

func TestDialectByName(t *testing.T) {
	d, ok := DialectByName("sqlite")
	require.True(t, ok)
	require.Equal(t, "sqlite3", d.GooseDialect)

	_, ok = DialectByName("oracle")
	require.False(t, ok)
}

func TestSQLite_Conformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(context.Background(), SQLite, filepath.Join(t.TempDir(), "kv.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = s.Close() })
		return s
	})
}

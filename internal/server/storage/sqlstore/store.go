// Package sqlstore implements storage.Store on a relational database
// (PostgreSQL via pgx, or SQLite via modernc). Namespaces are rows of
// kv_namespaces; values live in kv_entries keyed by (namespace, entry_key).
// Each operation is a single statement, so a Put is atomic.
package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/levelstore/internal/dbx"
	"github.com/dmitrijs2005/levelstore/internal/server/storage"
	"github.com/dmitrijs2005/levelstore/internal/server/storage/sqlstore/migrations"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite"
)

type Store struct {
	db      dbx.DBTX
	closer  func() error
	dialect Dialect
	now     func() time.Time
}

// New wraps an already opened handle. The schema must exist.
func New(db *sql.DB, d Dialect) *Store {
	return &Store{db: db, closer: db.Close, dialect: d, now: time.Now}
}

// Open connects with the dialect's driver, pings, and migrates the schema.
func Open(ctx context.Context, d Dialect, dsn string) (*Store, error) {
	db, err := sql.Open(d.Driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", d.Name, err)
	}
	if d.Name == SQLite.Name {
		// SQLite allows one writer; queueing in the pool beats SQLITE_BUSY.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping %s: %w", d.Name, err)
	}
	if err := RunMigrations(ctx, db, d); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate %s: %w", d.Name, err)
	}
	return New(db, d), nil
}

// goose keeps its dialect and filesystem in package globals.
var gooseMu sync.Mutex

// gooseUpContext is a seam for testing goose.UpContext.
var gooseUpContext = func(ctx context.Context, db *sql.DB, dir string, opts ...goose.OptionsFunc) error {
	return goose.UpContext(ctx, db, dir, opts...)
}

// RunMigrations applies the embedded migrations for d.
func RunMigrations(ctx context.Context, db *sql.DB, d Dialect) error {
	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations.FS)
	goose.SetLogger(goose.NopLogger())
	if err := goose.SetDialect(d.GooseDialect); err != nil {
		return err
	}
	return gooseUpContext(ctx, db, d.MigrationsDir)
}

func (s *Store) EnsureNamespace(ctx context.Context, ns string) error {
	if err := storage.ValidateName(ns); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.ensureQuery, ns); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, ns, key string, value []byte) error {
	if err := storage.ValidatePair(ns, key); err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}

	res, err := s.db.ExecContext(ctx, s.dialect.putQuery, s.dialect.putArgs(ns, key, value, s.now())...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return storage.ErrNoNamespace
	}
	return nil
}

func (s *Store) Get(ctx context.Context, ns, key string) ([]byte, error) {
	if err := storage.ValidatePair(ns, key); err != nil {
		return nil, err
	}

	var value []byte
	err := s.db.QueryRowContext(ctx, s.dialect.getQuery, ns, key).Scan(&value)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return value, nil
}

func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if err := storage.ValidatePair(ns, key); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.dialect.deleteQuery, ns, key); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, ns string) ([]string, error) {
	if err := storage.ValidateName(ns); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, s.dialect.listQuery, ns)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var keys []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		keys = append(keys, k)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}

	// database collations differ; callers rely on byte order
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer()
}

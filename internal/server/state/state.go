// Package state owns the process-wide resources shared by the services: the
// key-value store, the per-key locks and the root logger. It is opened once
// at startup and closed at shutdown.
package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/levelstore/internal/logging"
	"github.com/dmitrijs2005/levelstore/internal/server/config"
	"github.com/dmitrijs2005/levelstore/internal/server/storage"
	"github.com/dmitrijs2005/levelstore/internal/server/storage/boltstore"
	"github.com/dmitrijs2005/levelstore/internal/server/storage/fsstore"
	"github.com/dmitrijs2005/levelstore/internal/server/storage/memory"
	"github.com/dmitrijs2005/levelstore/internal/server/storage/s3store"
	"github.com/dmitrijs2005/levelstore/internal/server/storage/sqlstore"
)

// Namespaces used by the services.
const (
	NSUsers     = "users"
	NSEmails    = "emails"
	NSUsernames = "usernames"
	NSSessions  = "sessions"
	NSProjects  = "projects"
	NSOwners    = "owners"
)

var namespaces = []string{NSUsers, NSEmails, NSUsernames, NSSessions, NSProjects, NSOwners}

type State struct {
	Store  storage.Store
	Locks  *Locks
	Logger logging.Logger

	// Now is the clock used for every persisted timestamp.
	Now func() time.Time
}

// New wraps an already opened store and ensures every namespace exists.
func New(ctx context.Context, store storage.Store, logger logging.Logger) (*State, error) {
	if logger == nil {
		logger = logging.Nop()
	}
	for _, ns := range namespaces {
		if err := store.EnsureNamespace(ctx, ns); err != nil {
			return nil, fmt.Errorf("ensure namespace %s: %w", ns, err)
		}
	}
	return &State{
		Store:  store,
		Locks:  NewLocks(),
		Logger: logger,
		Now:    func() time.Time { return time.Now().UTC() },
	}, nil
}

// Open opens the configured backend and prepares it.
func Open(ctx context.Context, cfg *config.Config, logger logging.Logger) (*State, error) {
	store, err := openBackend(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s storage: %w", cfg.StorageBackend, err)
	}
	if cfg.CompressValues {
		store = storage.Compressed(store)
	}

	st, err := New(ctx, store, logger)
	if err != nil {
		return nil, errors.Join(err, store.Close())
	}

	st.Logger.Info(ctx, "storage opened", "backend", cfg.StorageBackend, "compressed", cfg.CompressValues)
	return st, nil
}

// openBackend is a seam for tests.
var openBackend = func(ctx context.Context, cfg *config.Config) (storage.Store, error) {
	switch cfg.StorageBackend {
	case config.BackendBolt:
		return boltstore.Open(cfg.StoragePath)
	case config.BackendFS:
		return fsstore.Open(cfg.StoragePath)
	case config.BackendPostgres:
		return sqlstore.Open(ctx, sqlstore.Postgres, cfg.DatabaseDSN)
	case config.BackendSQLite:
		return sqlstore.Open(ctx, sqlstore.SQLite, cfg.StoragePath)
	case config.BackendS3:
		return s3store.Open(ctx, s3store.Options{
			Bucket:       cfg.S3Bucket,
			Prefix:       cfg.S3Prefix,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
		})
	case config.BackendMemory:
		return memory.New(), nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

// Ping performs a cheap read to check that the store answers.
func (s *State) Ping(ctx context.Context) error {
	_, err := s.Store.Get(ctx, NSUsers, "ping")
	if err == nil || errors.Is(err, storage.ErrNotFound) {
		return nil
	}
	return err
}

// Close flushes and releases the store.
func (s *State) Close() error {
	return s.Store.Close()
}

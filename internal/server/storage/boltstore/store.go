// Package boltstore implements storage.Store on a single BoltDB file, one
// bucket per namespace. Every Put commits its own write transaction, which
// bbolt makes atomic and durable (fsync on commit).
package boltstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/dmitrijs2005/levelstore/internal/filex"
	"github.com/dmitrijs2005/levelstore/internal/server/storage"
	"go.etcd.io/bbolt"
)

// Store provides a BoltDB-backed key-value store.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if needed) the BoltDB file at path.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	if _, err := filex.EnsureDir(filepath.Dir(cleanPath)); err != nil {
		return nil, fmt.Errorf("prepare storage dir: %w", err)
	}

	db, err := bbolt.Open(cleanPath, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open storage db: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the underlying BoltDB database.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) EnsureNamespace(ctx context.Context, ns string) error {
	if err := storage.ValidateName(ns); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists([]byte(ns)); err != nil {
			return fmt.Errorf("create bucket %s: %w", ns, err)
		}
		return nil
	})
}

func (s *Store) Put(ctx context.Context, ns, key string, value []byte) error {
	if err := storage.ValidatePair(ns, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return storage.ErrNoNamespace
		}
		return bucket.Put([]byte(key), value)
	})
}

func (s *Store) Get(ctx context.Context, ns, key string) ([]byte, error) {
	if err := storage.ValidatePair(ns, key); err != nil {
		return nil, err
	}

	var out []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return storage.ErrNotFound
		}
		v := bucket.Get([]byte(key))
		if v == nil {
			return storage.ErrNotFound
		}
		// bbolt memory is only valid inside the transaction.
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if err := storage.ValidatePair(ns, key); err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		return bucket.Delete([]byte(key))
	})
}

func (s *Store) List(ctx context.Context, ns string) ([]string, error) {
	if err := storage.ValidateName(ns); err != nil {
		return nil, err
	}

	var keys []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket([]byte(ns))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, _ []byte) error {
			keys = append(keys, string(k))
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return keys, nil
}

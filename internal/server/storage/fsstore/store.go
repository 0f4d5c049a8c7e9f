// Package fsstore implements storage.Store as a directory tree: one
// directory per namespace, one file per key. Writes go to a temporary file
// that is synced and renamed over the target.
package fsstore

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dmitrijs2005/levelstore/internal/filex"
	"github.com/dmitrijs2005/levelstore/internal/server/storage"
)

type Store struct {
	root string
}

// Open prepares root as the store directory.
func Open(root string) (*Store, error) {
	if strings.TrimSpace(root) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dir, err := filex.EnsureDir(root)
	if err != nil {
		return nil, err
	}
	return &Store{root: dir}, nil
}

func (s *Store) EnsureNamespace(ctx context.Context, ns string) error {
	if err := storage.ValidateName(ns); err != nil {
		return err
	}
	_, err := filex.EnsureDir(filepath.Join(s.root, ns))
	return err
}

func (s *Store) Put(ctx context.Context, ns, key string, value []byte) error {
	if err := storage.ValidatePair(ns, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	dir := filepath.Join(s.root, ns)
	if fi, err := os.Stat(dir); err != nil || !fi.IsDir() {
		return storage.ErrNoNamespace
	}

	return filex.WriteFileAtomic(filepath.Join(dir, key), value, 0o600)
}

func (s *Store) Get(ctx context.Context, ns, key string) ([]byte, error) {
	if err := storage.ValidatePair(ns, key); err != nil {
		return nil, err
	}

	b, err := os.ReadFile(filepath.Join(s.root, ns, key))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("read %s/%s: %w", ns, key, err)
	}
	return b, nil
}

func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if err := storage.ValidatePair(ns, key); err != nil {
		return err
	}

	err := os.Remove(filepath.Join(s.root, ns, key))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("remove %s/%s: %w", ns, key, err)
	}
	return nil
}

func (s *Store) List(ctx context.Context, ns string) ([]string, error) {
	if err := storage.ValidateName(ns); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(filepath.Join(s.root, ns))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %s: %w", ns, err)
	}

	keys := make([]string, 0, len(entries))
	for _, e := range entries {
		// in-flight temporaries start with a dot, which no valid key does
		if e.IsDir() || strings.HasPrefix(e.Name(), ".") {
			continue
		}
		keys = append(keys, e.Name())
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error { return nil }

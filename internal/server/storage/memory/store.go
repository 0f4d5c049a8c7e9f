// Package memory provides an in-process storage.Store used by tests and
// ephemeral servers. Nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"

	"github.com/dmitrijs2005/levelstore/internal/server/storage"
)

type Store struct {
	mu   sync.RWMutex
	data map[string]map[string][]byte
}

func New() *Store {
	return &Store{data: make(map[string]map[string][]byte)}
}

func (s *Store) EnsureNamespace(ctx context.Context, ns string) error {
	if err := storage.ValidateName(ns); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[ns]; !ok {
		s.data[ns] = make(map[string][]byte)
	}
	return nil
}

func (s *Store) Put(ctx context.Context, ns, key string, value []byte) error {
	if err := storage.ValidatePair(ns, key); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	bucket, ok := s.data[ns]
	if !ok {
		return storage.ErrNoNamespace
	}
	bucket[key] = append([]byte(nil), value...)
	return nil
}

func (s *Store) Get(ctx context.Context, ns, key string) ([]byte, error) {
	if err := storage.ValidatePair(ns, key); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[ns][key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), v...), nil
}

func (s *Store) Delete(ctx context.Context, ns, key string) error {
	if err := storage.ValidatePair(ns, key); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data[ns], key)
	return nil
}

func (s *Store) List(ctx context.Context, ns string) ([]string, error) {
	if err := storage.ValidateName(ns); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.data[ns]))
	for k := range s.data[ns] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *Store) Close() error { return nil }

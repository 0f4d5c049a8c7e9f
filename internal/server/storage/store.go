// Package storage declares the namespaced key-value contract every durable
// component of the server is built on, together with the shared errors and
// name rules the backends enforce.
//
// Put is atomic per key: a reader observes either the previous committed
// value or the new one. There are no cross-key transactions; callers that
// update several keys must serialize themselves.
package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
)

var (
	// ErrNotFound is returned by Get when the key (or its namespace) is absent.
	ErrNotFound = errors.New("storage: not found")

	// ErrNoNamespace is returned by Put when EnsureNamespace was never called
	// for the target namespace.
	ErrNoNamespace = errors.New("storage: namespace does not exist")

	// ErrInvalidName rejects namespaces and keys outside the portable alphabet.
	ErrInvalidName = errors.New("storage: invalid name")
)

// Store is a namespaced, durable key-value store.
type Store interface {
	// EnsureNamespace creates the namespace if missing. It is idempotent.
	EnsureNamespace(ctx context.Context, ns string) error
	// Put durably and atomically stores value under ns/key.
	Put(ctx context.Context, ns, key string, value []byte) error
	// Get returns the last committed value or ErrNotFound.
	Get(ctx context.Context, ns, key string) ([]byte, error)
	// Delete removes ns/key. Deleting an absent key is not an error.
	Delete(ctx context.Context, ns, key string) error
	// List returns the keys of ns in ascending byte order.
	List(ctx context.Context, ns string) ([]string, error)
	// Close flushes and releases the backend.
	Close() error
}

var nameRe = regexp.MustCompile(`^[A-Za-z0-9_-][A-Za-z0-9._-]{0,199}$`)

// ValidateName checks that s can be used as a namespace or key by every
// backend: it becomes a bucket name, a file name, a SQL value and an object
// key segment.
func ValidateName(s string) error {
	if !nameRe.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidName, s)
	}
	return nil
}

// ValidatePair validates a namespace and key together.
func ValidatePair(ns, key string) error {
	if err := ValidateName(ns); err != nil {
		return err
	}
	return ValidateName(key)
}

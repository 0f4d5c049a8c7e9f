// Package common defines shared constants and sentinel errors used across
// the server layers of levelstore. Callers should use errors.Is to match
// these values.
package common

import "errors"

var (
	// ErrorNotFound marks an expected absence: unknown project, session,
	// user, or an out-of-range backup index.
	ErrorNotFound = errors.New("not found")

	// Service-level errors.
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")

	// ErrValidation wraps caller-correctable input problems.
	ErrValidation = errors.New("validation error")
)

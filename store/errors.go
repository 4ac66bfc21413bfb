package store

import "errors"

var (
	// ErrNoBackend indicates the store was configured without a
	// persistence backend.
	ErrNoBackend = errors.New("store: backend is required")
)

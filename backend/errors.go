package backend

import "errors"

var (
	// ErrNotFound indicates the requested row does not exist (or
	// vanished between read and write). Read paths above this package
	// translate it into an absent value rather than a failure.
	ErrNotFound = errors.New("backend: record not found")

	// ErrUnavailable indicates the backend could not be reached or
	// answered with a server-side failure. Callers keep whatever
	// cached state they already have.
	ErrUnavailable = errors.New("backend: unavailable")

	// ErrObjectNotFound indicates the storage object behind a
	// signed-URL request does not exist.
	ErrObjectNotFound = errors.New("backend: storage object not found")

	// ErrInvalidConfig indicates the client configuration is incomplete.
	ErrInvalidConfig = errors.New("backend: invalid config")
)

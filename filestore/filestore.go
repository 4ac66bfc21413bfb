package filestore

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/datacache/backend"
	"github.com/jonwraymond/datacache/observe"
)

// ErrNoStorage indicates the file store was configured without an
// object-storage backend.
var ErrNoStorage = errors.New("filestore: storage is required")

// Config holds the file store configuration.
type Config struct {
	// Storage resolves paths into signed URLs.
	Storage backend.ObjectStorage

	// RefreshMargin is how close to expiry a cached URL may get before
	// a lookup refreshes it. Default: 30s.
	RefreshMargin time.Duration

	// NegativeTTL is how long a missing object is remembered before a
	// lookup retries the backend. Default: 5s.
	NegativeTTL time.Duration

	// Logger receives resolution diagnostics. Default: no-op.
	Logger observe.Logger

	// Metrics records resolution measurements. Default: no-op.
	Metrics observe.Metrics
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Storage == nil {
		return ErrNoStorage
	}
	return nil
}

// urlEntry is one cached resolution. A zero url marks a negative
// entry: the object was missing, retry after missingUntil.
type urlEntry struct {
	url          string
	expiresAt    time.Time
	missingUntil time.Time
}

// FileStore is the process-wide signed-URL cache. Safe for concurrent
// use.
type FileStore struct {
	storage backend.ObjectStorage
	margin  time.Duration
	negTTL  time.Duration
	log     observe.Logger
	metrics observe.Metrics
	group   singleflight.Group

	mu      sync.Mutex
	entries map[string]urlEntry

	nowFn func() time.Time
}

// New creates a file store.
func New(cfg Config) (*FileStore, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	margin := cfg.RefreshMargin
	if margin == 0 {
		margin = 30 * time.Second
	}
	negTTL := cfg.NegativeTTL
	if negTTL == 0 {
		negTTL = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = observe.NopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.NopMetrics()
	}

	return &FileStore{
		storage: cfg.Storage,
		margin:  margin,
		negTTL:  negTTL,
		log:     logger.WithComponent("filestore"),
		metrics: metrics,
		entries: make(map[string]urlEntry),
		nowFn:   time.Now,
	}, nil
}

// ResolveURL returns a signed URL for the path, from cache when a
// fresh one is held. A missing object yields ("", nil), as does an
// empty path; only transport and server failures are errors.
func (f *FileStore) ResolveURL(ctx context.Context, path string) (string, error) {
	if path == "" {
		return "", nil
	}
	start := f.nowFn()

	f.mu.Lock()
	if url, state := f.lookupLocked(path); state != lookupMiss {
		f.mu.Unlock()
		f.metrics.RecordResolve(ctx, true, f.nowFn().Sub(start), nil)
		return url, nil
	}
	f.mu.Unlock()

	v, err, _ := f.group.Do(path, func() (any, error) {
		return f.resolve(ctx, path)
	})
	f.metrics.RecordResolve(ctx, false, f.nowFn().Sub(start), err)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// CachedURL returns the cached URL for the path when a fresh one is
// held. Cache-only: it never touches the backend.
func (f *FileStore) CachedURL(path string) (string, bool) {
	if path == "" {
		return "", false
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	url, state := f.lookupLocked(path)
	return url, state == lookupHit && url != ""
}

type lookupState int

const (
	lookupMiss lookupState = iota
	lookupHit
	lookupMissing
)

// lookupLocked classifies the cached entry for path: a fresh URL, a
// still-cooling negative entry, or a miss requiring resolution.
func (f *FileStore) lookupLocked(path string) (string, lookupState) {
	entry, ok := f.entries[path]
	if !ok {
		return "", lookupMiss
	}
	now := f.nowFn()

	if entry.url == "" {
		if now.Before(entry.missingUntil) {
			return "", lookupMissing
		}
		return "", lookupMiss
	}
	if now.Before(entry.expiresAt.Add(-f.margin)) {
		return entry.url, lookupHit
	}
	return "", lookupMiss
}

// resolve runs one coalesced backend resolution for path.
func (f *FileStore) resolve(ctx context.Context, path string) (string, error) {
	f.mu.Lock()
	if url, state := f.lookupLocked(path); state != lookupMiss {
		// Resolved while this call waited on the flight group.
		f.mu.Unlock()
		return url, nil
	}
	prior, hadPrior := f.entries[path]
	f.mu.Unlock()

	signed, err := f.storage.ResolveSignedURL(ctx, path)
	switch {
	case errors.Is(err, backend.ErrObjectNotFound):
		f.mu.Lock()
		f.entries[path] = urlEntry{missingUntil: f.nowFn().Add(f.negTTL)}
		f.mu.Unlock()
		f.log.Debug(ctx, "object missing, caching negative entry",
			observe.Field{Key: "path", Value: path},
		)
		return "", nil

	case err != nil:
		// Degrade to the previous URL while it is still literally
		// valid, even inside the refresh margin. Stale-but-working
		// beats a broken image.
		if hadPrior && prior.url != "" && f.nowFn().Before(prior.expiresAt) {
			f.log.Warn(ctx, "resolution failed, serving previous URL",
				observe.Field{Key: "path", Value: path},
				observe.Field{Key: "error", Value: err.Error()},
			)
			return prior.url, nil
		}
		return "", err
	}

	f.mu.Lock()
	f.entries[path] = urlEntry{url: signed.URL, expiresAt: signed.ExpiresAt}
	f.mu.Unlock()
	return signed.URL, nil
}

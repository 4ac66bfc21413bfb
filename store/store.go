package store

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/jonwraymond/datacache/backend"
	"github.com/jonwraymond/datacache/observe"
)

// Config holds the store configuration.
type Config struct {
	// Backend is the persistence layer reads and writes go through.
	Backend backend.Persistence

	// Logger receives store diagnostics. Default: no-op.
	Logger observe.Logger

	// Metrics records fetch/write/publish measurements. Default: no-op.
	Metrics observe.Metrics

	// Tracer emits a span per select and write. Default: no-op.
	Tracer observe.Tracer
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Backend == nil {
		return ErrNoBackend
	}
	return nil
}

// Store is the process-wide store service. Construct one at startup
// and share it by reference; it is safe for concurrent use.
type Store struct {
	backend backend.Persistence
	log     observe.Logger
	metrics observe.Metrics
	tracer  observe.Tracer
	group   singleflight.Group

	// mu guards cache and reg. Listener callbacks always run outside
	// the lock, after the mutation they report, so a listener may call
	// back into the store.
	mu    sync.Mutex
	cache *entityCache
	reg   *registry

	nowFn func() time.Time
	idFn  func() string
}

// New creates a store.
func New(cfg Config) (*Store, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = observe.NopLogger()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observe.NopMetrics()
	}
	tracer := cfg.Tracer
	if tracer == nil {
		tracer = observe.NopTracer()
	}

	return &Store{
		backend: cfg.Backend,
		log:     logger.WithComponent("store"),
		metrics: metrics,
		tracer:  tracer,
		cache:   newEntityCache(),
		reg:     newRegistry(),
		nowFn:   time.Now,
		idFn:    uuid.NewString,
	}, nil
}

// SelectFirst returns the row with the given id, or (nil, nil) when
// the backend reports no such row. The result is cached; concurrent
// calls for one id coalesce into a single backend fetch.
func (s *Store) SelectFirst(ctx context.Context, table, id string) (rec backend.Record, err error) {
	ctx, span := s.tracer.StartSpan(ctx, observe.Op{Component: "store", Kind: "select", Table: table})
	defer func() { s.tracer.EndSpan(span, err) }()

	key := ByIDKey(table, id)
	start := s.nowFn()

	s.mu.Lock()
	if entry, ok := s.cache.get(key); ok {
		entry = entry.clone()
		s.mu.Unlock()
		s.metrics.RecordFetch(ctx, table, true, s.nowFn().Sub(start), nil)
		if entry.State == NotFound {
			return nil, nil
		}
		return entry.Record, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(key.flightKey(), func() (any, error) {
		return s.fetch(ctx, key, func(ctx context.Context) (Entry, error) {
			rec, err := s.backend.GetByID(ctx, table, id)
			if errors.Is(err, backend.ErrNotFound) {
				return Entry{State: NotFound}, nil
			}
			if err != nil {
				return Entry{}, err
			}
			return Entry{State: Loaded, Record: rec}, nil
		})
	})
	s.metrics.RecordFetch(ctx, table, false, s.nowFn().Sub(start), err)
	if err != nil {
		return nil, err
	}

	entry := v.(Entry).clone()
	if entry.State == NotFound {
		return nil, nil
	}
	return entry.Record, nil
}

// SelectMatches returns every row matching the given column
// equalities. Zero matches yield an empty non-nil slice. The full
// result sequence is cached under the (match, options) key.
func (s *Store) SelectMatches(ctx context.Context, table string, match backend.Record, opts backend.QueryOptions) (recs []backend.Record, err error) {
	ctx, span := s.tracer.StartSpan(ctx, observe.Op{Component: "store", Kind: "query", Table: table})
	defer func() { s.tracer.EndSpan(span, err) }()

	key := MatchKey(table, match, opts)
	start := s.nowFn()

	s.mu.Lock()
	if entry, ok := s.cache.get(key); ok {
		entry = entry.clone()
		s.mu.Unlock()
		s.metrics.RecordFetch(ctx, table, true, s.nowFn().Sub(start), nil)
		return entry.Records, nil
	}
	s.mu.Unlock()

	v, err, _ := s.group.Do(key.flightKey(), func() (any, error) {
		return s.fetch(ctx, key, func(ctx context.Context) (Entry, error) {
			recs, err := s.backend.Query(ctx, table, match, opts)
			if err != nil {
				return Entry{}, err
			}
			if recs == nil {
				recs = []backend.Record{}
			}
			return Entry{State: Loaded, Records: recs}, nil
		})
	})
	s.metrics.RecordFetch(ctx, table, false, s.nowFn().Sub(start), err)
	if err != nil {
		return nil, err
	}
	return v.(Entry).clone().Records, nil
}

// SelectFirstMatches returns the first row matching the given column
// equalities, or (nil, nil) when nothing matches.
func (s *Store) SelectFirstMatches(ctx context.Context, table string, match backend.Record) (backend.Record, error) {
	recs, err := s.SelectMatches(ctx, table, match, backend.QueryOptions{})
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, nil
	}
	return recs[0], nil
}

// fetch runs one coalesced backend fetch for key. The generation is
// sampled before the call and the result is discarded when any write
// bumped the key meanwhile; the fresher cached value, if one exists,
// wins.
func (s *Store) fetch(ctx context.Context, key Key, load func(context.Context) (Entry, error)) (Entry, error) {
	s.mu.Lock()
	if entry, ok := s.cache.get(key); ok {
		// Filled while this call waited on the flight group.
		entry = entry.clone()
		s.mu.Unlock()
		return entry, nil
	}
	gen := s.cache.sampleGeneration(key)
	s.mu.Unlock()

	entry, err := load(ctx)
	if err != nil {
		// Backend failure leaves the cache untouched.
		return Entry{}, err
	}

	s.mu.Lock()
	var fns []func()
	if s.cache.putIfGeneration(key, entry, gen) {
		fns = s.reg.collect(key)
	} else {
		s.log.Debug(ctx, "stale fetch discarded",
			observe.Field{Key: "key", Value: key.String()},
		)
		if cur, ok := s.cache.get(key); ok {
			entry = cur.clone()
		}
	}
	s.mu.Unlock()

	s.notify(ctx, key.Table, fns)
	return entry, nil
}

// Insert writes a new row through the backend and returns it as
// stored. A missing id gets a generated UUID and a missing created_at
// the current time, so the caller can reference the row immediately.
// The whole table is invalidated: the new row may satisfy any cached
// match query.
func (s *Store) Insert(ctx context.Context, table string, rec backend.Record) (stored backend.Record, err error) {
	ctx, span := s.tracer.StartSpan(ctx, observe.Op{Component: "store", Kind: "insert", Table: table})
	defer func() { s.tracer.EndSpan(span, err) }()

	rec = backend.CloneRecord(rec)
	if rec == nil {
		rec = backend.Record{}
	}
	if backend.RecordID(rec) == "" {
		rec["id"] = s.idFn()
	}
	if _, ok := rec["created_at"]; !ok {
		rec["created_at"] = s.nowFn().UTC().Format(time.RFC3339)
	}

	start := s.nowFn()
	stored, err = s.backend.Insert(ctx, table, rec)
	s.metrics.RecordWrite(ctx, table, "insert", s.nowFn().Sub(start), err)
	if err != nil {
		s.log.Error(ctx, "insert failed",
			observe.Field{Key: "table", Value: table},
			observe.Field{Key: "error", Value: err.Error()},
		)
		return nil, err
	}

	s.mu.Lock()
	s.cache.invalidateTable(table)
	fns := s.reg.collectTable(table)
	s.mu.Unlock()

	s.notify(ctx, table, fns)
	return stored, nil
}

// Update merges partial into the row server-side, caches the returned
// full row, and publishes. backend.ErrNotFound surfaces to the caller
// and the cache entry flips to not-found so every binding converges on
// the row's disappearance.
func (s *Store) Update(ctx context.Context, table, id string, partial backend.Record) (stored backend.Record, err error) {
	ctx, span := s.tracer.StartSpan(ctx, observe.Op{Component: "store", Kind: "update", Table: table})
	defer func() { s.tracer.EndSpan(span, err) }()

	key := ByIDKey(table, id)

	start := s.nowFn()
	stored, err = s.backend.Update(ctx, table, id, partial)
	s.metrics.RecordWrite(ctx, table, "update", s.nowFn().Sub(start), err)

	if errors.Is(err, backend.ErrNotFound) {
		s.mu.Lock()
		s.cache.put(key, Entry{State: NotFound})
		s.cache.invalidateMatches(table)
		fns := s.reg.collect(key)
		s.mu.Unlock()
		s.notify(ctx, table, fns)
		return nil, err
	}
	if err != nil {
		s.log.Error(ctx, "update failed",
			observe.Field{Key: "table", Value: table},
			observe.Field{Key: "id", Value: id},
			observe.Field{Key: "error", Value: err.Error()},
		)
		return nil, err
	}

	s.mu.Lock()
	s.cache.put(key, Entry{State: Loaded, Record: stored})
	// Cached query results may contain the old snapshot; drop them so
	// notified match subscribers refetch instead of re-reading it.
	s.cache.invalidateMatches(table)
	fns := s.reg.collect(key)
	s.mu.Unlock()

	s.notify(ctx, table, fns)
	return stored, nil
}

// Delete removes the row server-side, flips the cache entry to
// not-found, publishes, and returns the pre-delete value: the
// backend's returned representation, or the cached snapshot as a
// fallback, or nil when the row did not exist. Deleting a row that is
// already gone is not an error.
func (s *Store) Delete(ctx context.Context, table, id string) (prior backend.Record, err error) {
	ctx, span := s.tracer.StartSpan(ctx, observe.Op{Component: "store", Kind: "delete", Table: table})
	defer func() { s.tracer.EndSpan(span, err) }()

	key := ByIDKey(table, id)

	s.mu.Lock()
	if entry, ok := s.cache.get(key); ok && entry.State == Loaded {
		prior = backend.CloneRecord(entry.Record)
	}
	s.mu.Unlock()

	start := s.nowFn()
	removed, err := s.backend.Delete(ctx, table, id)
	s.metrics.RecordWrite(ctx, table, "delete", s.nowFn().Sub(start), err)
	if removed != nil {
		prior = removed
	}
	if err != nil && !errors.Is(err, backend.ErrNotFound) {
		s.log.Error(ctx, "delete failed",
			observe.Field{Key: "table", Value: table},
			observe.Field{Key: "id", Value: id},
			observe.Field{Key: "error", Value: err.Error()},
		)
		return nil, err
	}

	s.mu.Lock()
	s.cache.put(key, Entry{State: NotFound})
	s.cache.invalidateMatches(table)
	fns := s.reg.collect(key)
	s.mu.Unlock()

	s.notify(ctx, table, fns)
	return prior, nil
}

// Snapshot returns a copy of the cached entry for key, when one
// exists. Absence means the key was never fetched (or was
// invalidated), which is distinct from a cached not-found.
func (s *Store) Snapshot(key Key) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.cache.get(key)
	if !ok {
		return Entry{}, false
	}
	return entry.clone(), true
}

// Generation returns the key's current generation counter.
func (s *Store) Generation(key Key) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cache.generation(key)
}

// Subscribe registers fn to run after every change to key (for a
// by-id key, also after changes to any match query on its table). The
// returned cancel is idempotent.
func (s *Store) Subscribe(key Key, fn func()) func() {
	s.mu.Lock()
	id := s.reg.subscribe(key, fn)
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		s.reg.unsubscribe(key, id)
		s.mu.Unlock()
	}
}

// Invalidate drops the entry for key and notifies its subscribers.
func (s *Store) Invalidate(key Key) {
	s.mu.Lock()
	s.cache.invalidate(key)
	fns := s.reg.collect(key)
	s.mu.Unlock()
	s.notify(context.Background(), key.Table, fns)
}

// InvalidateRecord drops the by-id entry for a row and notifies its
// subscribers, including same-table match subscribers.
func (s *Store) InvalidateRecord(table, id string) {
	s.mu.Lock()
	key := ByIDKey(table, id)
	s.cache.invalidate(key)
	s.cache.invalidateMatches(table)
	fns := s.reg.collect(key)
	s.mu.Unlock()
	s.notify(context.Background(), table, fns)
}

// InvalidateTable drops every entry of the table and notifies every
// subscriber on the table.
func (s *Store) InvalidateTable(table string) {
	s.mu.Lock()
	s.cache.invalidateTable(table)
	fns := s.reg.collectTable(table)
	s.mu.Unlock()
	s.notify(context.Background(), table, fns)
}

// notify runs the collected listeners, in order, outside the lock.
func (s *Store) notify(ctx context.Context, table string, fns []func()) {
	if len(fns) == 0 {
		return
	}
	s.metrics.RecordPublish(ctx, table, len(fns))
	for _, fn := range fns {
		fn()
	}
}

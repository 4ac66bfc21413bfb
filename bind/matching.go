package bind

import (
	"context"
	"sync"

	"github.com/jonwraymond/datacache/backend"
	"github.com/jonwraymond/datacache/store"
)

// Matching is a live view of a match query. Unlike ByID, a resolved
// empty result is Loaded with an empty sequence, never Missing.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Ownership: the slice returned by Get is shared between calls;
//     callers must treat it as read-only.
type Matching struct {
	store     *store.Store
	ctx       context.Context
	cancelCtx context.CancelFunc

	mu       sync.Mutex
	opts     Options
	table    string
	match    backend.Record
	qopts    backend.QueryOptions
	state    State
	recs     []backend.Record
	err      error
	onChange func()
	unsub    func()
	disposed bool
	epoch    uint64

	// fetchEpoch is the epoch of the in-flight fetch, zero when none
	// is running; see the ByID field of the same name.
	fetchEpoch uint64
}

// NewMatching creates a binding to the rows of table matching all
// given column equalities, shaped by qopts.
func NewMatching(ctx context.Context, s *store.Store, table string, match backend.Record, qopts backend.QueryOptions, opts Options) *Matching {
	ctx, cancel := context.WithCancel(ctx)
	m := &Matching{
		store:     s,
		ctx:       ctx,
		cancelCtx: cancel,
		opts:      opts,
		table:     table,
		match:     backend.CloneRecord(match),
		qopts:     qopts,
	}

	m.mu.Lock()
	m.rebindLocked()
	m.mu.Unlock()
	return m
}

// Get returns the current sequence and state. The slice is non-nil
// exactly in the Loaded state.
func (m *Matching) Get() ([]backend.Record, State) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.recs, m.state
}

// Err returns the last fetch failure, cleared on the next successful
// resolution or query change.
func (m *Matching) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

// OnChange registers fn to run after every state or value change.
func (m *Matching) OnChange(fn func()) {
	m.mu.Lock()
	m.onChange = fn
	m.mu.Unlock()
}

// SetQuery retargets the binding to another match query. A query
// equal to the current one (by canonical key) is a no-op, so redundant
// calls do not reset a Loaded binding to Loading.
func (m *Matching) SetQuery(table string, match backend.Record, qopts backend.QueryOptions) {
	m.mu.Lock()
	if m.disposed || store.MatchKey(table, match, qopts) == store.MatchKey(m.table, m.match, m.qopts) {
		m.mu.Unlock()
		return
	}
	m.table = table
	m.match = backend.CloneRecord(match)
	m.qopts = qopts
	m.rebindLocked()
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// SetDisabled toggles the binding.
func (m *Matching) SetDisabled(disabled bool) {
	m.mu.Lock()
	if m.disposed || m.opts.Disabled == disabled {
		m.mu.Unlock()
		return
	}
	m.opts.Disabled = disabled
	m.rebindLocked()
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Close tears the binding down. Idempotent; late results are dropped.
func (m *Matching) Close() {
	m.mu.Lock()
	m.disposed = true
	m.epoch++
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}
	m.mu.Unlock()
	m.cancelCtx()
}

func (m *Matching) rebindLocked() {
	m.epoch++
	m.err = nil
	if m.unsub != nil {
		m.unsub()
		m.unsub = nil
	}

	if m.opts.Disabled {
		m.recs = nil
		if m.opts.ResetOnDisabled {
			m.state = Loading
		} else {
			m.state = Missing
		}
		return
	}
	if m.table == "" {
		m.recs = nil
		m.state = Missing
		return
	}

	key := store.MatchKey(m.table, m.match, m.qopts)
	entry, cached := m.store.Snapshot(key)
	if cached {
		m.applyLocked(entry)
	} else if !(m.opts.KeepValueOnChange && m.state == Loaded) {
		m.recs = nil
		m.state = Loading
	}

	epoch := m.epoch
	m.unsub = m.store.Subscribe(key, func() { m.notified(epoch, key) })
	if !cached {
		m.startFetchLocked(epoch)
	}
}

func (m *Matching) applyLocked(entry store.Entry) {
	m.err = nil
	recs := entry.Records
	if recs == nil {
		recs = []backend.Record{}
	}
	m.recs = recs
	m.state = Loaded
}

func (m *Matching) notified(epoch uint64, key store.Key) {
	m.mu.Lock()
	if m.disposed || epoch != m.epoch {
		m.mu.Unlock()
		return
	}

	entry, cached := m.store.Snapshot(key)
	if !cached {
		m.startFetchLocked(epoch)
		m.mu.Unlock()
		return
	}
	m.applyLocked(entry)
	fn := m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (m *Matching) startFetchLocked(epoch uint64) {
	if m.fetchEpoch == epoch {
		return
	}
	m.fetchEpoch = epoch
	table, match, qopts := m.table, backend.CloneRecord(m.match), m.qopts

	go func() {
		_, err := m.store.SelectMatches(m.ctx, table, match, qopts)

		m.mu.Lock()
		if m.fetchEpoch == epoch {
			m.fetchEpoch = 0
		}
		if m.disposed || epoch != m.epoch {
			m.mu.Unlock()
			return
		}
		if err != nil {
			m.err = err
		} else if entry, ok := m.store.Snapshot(store.MatchKey(table, match, qopts)); ok {
			m.applyLocked(entry)
		}
		fn := m.onChange
		m.mu.Unlock()

		if fn != nil {
			fn()
		}
	}()
}

// FirstMatching is a live view of the first row of a match query,
// with ByID's Missing-on-empty convention.
type FirstMatching struct {
	m *Matching
}

// NewFirstMatching creates a binding to the first row of table
// matching all given column equalities.
func NewFirstMatching(ctx context.Context, s *store.Store, table string, match backend.Record, opts Options) *FirstMatching {
	return &FirstMatching{
		m: NewMatching(ctx, s, table, match, backend.QueryOptions{}, opts),
	}
}

// Get returns the first matching row. A resolved empty result is
// Missing, not an empty Loaded value.
func (f *FirstMatching) Get() (backend.Record, State) {
	recs, state := f.m.Get()
	if state != Loaded {
		return nil, state
	}
	if len(recs) == 0 {
		return nil, Missing
	}
	return recs[0], Loaded
}

// Err returns the last fetch failure.
func (f *FirstMatching) Err() error { return f.m.Err() }

// OnChange registers fn to run after every state or value change.
func (f *FirstMatching) OnChange(fn func()) { f.m.OnChange(fn) }

// SetQuery retargets the binding to another match.
func (f *FirstMatching) SetQuery(table string, match backend.Record) {
	f.m.SetQuery(table, match, backend.QueryOptions{})
}

// SetDisabled toggles the binding.
func (f *FirstMatching) SetDisabled(disabled bool) { f.m.SetDisabled(disabled) }

// Close tears the binding down.
func (f *FirstMatching) Close() { f.m.Close() }

package bind

import (
	"context"
	"sync"

	"github.com/jonwraymond/datacache/backend"
	"github.com/jonwraymond/datacache/store"
)

// ByID is a live view of one row.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Ownership: the record returned by Get is shared between calls;
//     callers must treat it as read-only.
type ByID struct {
	store     *store.Store
	ctx       context.Context
	cancelCtx context.CancelFunc

	mu       sync.Mutex
	opts     Options
	table    string
	id       string
	state    State
	rec      backend.Record
	err      error
	onChange func()
	unsub    func()
	disposed bool

	// epoch increments on every key change, disable toggle and Close;
	// async results tagged with an older epoch are dropped.
	epoch uint64

	// fetchEpoch is the epoch of the in-flight fetch, zero when none
	// is running. Keying the guard by epoch lets a rebind start the
	// new key's fetch while the old key's is still parked, and keeps
	// the stale goroutine's epilogue from clearing the new guard.
	fetchEpoch uint64
}

// NewByID creates a binding to the row (table, id). ctx bounds the
// binding's background fetches; Close cancels it.
func NewByID(ctx context.Context, s *store.Store, table, id string, opts Options) *ByID {
	ctx, cancel := context.WithCancel(ctx)
	b := &ByID{
		store:     s,
		ctx:       ctx,
		cancelCtx: cancel,
		opts:      opts,
		table:     table,
		id:        id,
	}

	b.mu.Lock()
	b.rebindLocked()
	b.mu.Unlock()
	return b
}

// Get returns the current value and state. The record is non-nil only
// in the Loaded state.
func (b *ByID) Get() (backend.Record, State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.rec, b.state
}

// Err returns the last fetch failure, cleared on the next successful
// resolution or key change. A failed refresh keeps the last good
// value; Err is how callers surface a retry affordance.
func (b *ByID) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// OnChange registers fn to run after every state or value change.
// fn runs on the goroutine that caused the change and may call back
// into the binding.
func (b *ByID) OnChange(fn func()) {
	b.mu.Lock()
	b.onChange = fn
	b.mu.Unlock()
}

// SetKey retargets the binding to another row. The old subscription is
// torn down before the new one is created.
func (b *ByID) SetKey(table, id string) {
	b.mu.Lock()
	if b.disposed || (b.table == table && b.id == id) {
		b.mu.Unlock()
		return
	}
	b.table, b.id = table, id
	b.rebindLocked()
	fn := b.onChange
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// SetDisabled toggles the binding. Enabling runs a full mount cycle:
// cache peek, subscribe, fetch when nothing is cached.
func (b *ByID) SetDisabled(disabled bool) {
	b.mu.Lock()
	if b.disposed || b.opts.Disabled == disabled {
		b.mu.Unlock()
		return
	}
	b.opts.Disabled = disabled
	b.rebindLocked()
	fn := b.onChange
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
}

// Close tears the binding down. Results arriving after Close are
// dropped. Close is idempotent.
func (b *ByID) Close() {
	b.mu.Lock()
	b.disposed = true
	b.epoch++
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}
	b.mu.Unlock()
	b.cancelCtx()
}

// rebindLocked runs the mount cycle for the current key: tear down the
// prior subscription, peek the cache, subscribe, and fetch only when
// nothing is cached.
func (b *ByID) rebindLocked() {
	b.epoch++
	b.err = nil
	if b.unsub != nil {
		b.unsub()
		b.unsub = nil
	}

	if b.opts.Disabled {
		b.rec = nil
		if b.opts.ResetOnDisabled {
			b.state = Loading
		} else {
			b.state = Missing
		}
		return
	}
	if b.table == "" || b.id == "" {
		b.rec = nil
		b.state = Missing
		return
	}

	key := store.ByIDKey(b.table, b.id)
	entry, cached := b.store.Snapshot(key)
	if cached {
		b.applyLocked(entry)
	} else if !(b.opts.KeepValueOnChange && b.state == Loaded) {
		b.rec = nil
		b.state = Loading
	}

	epoch := b.epoch
	b.unsub = b.store.Subscribe(key, func() { b.notified(epoch, key) })
	if !cached {
		b.startFetchLocked(epoch)
	}
}

func (b *ByID) applyLocked(entry store.Entry) {
	b.err = nil
	if entry.State == store.NotFound {
		b.rec = nil
		b.state = Missing
		return
	}
	b.rec = entry.Record
	b.state = Loaded
}

// notified handles a store publish for the subscribed key.
func (b *ByID) notified(epoch uint64, key store.Key) {
	b.mu.Lock()
	if b.disposed || epoch != b.epoch {
		b.mu.Unlock()
		return
	}

	entry, cached := b.store.Snapshot(key)
	if !cached {
		// Invalidated: keep showing the current value and refetch.
		b.startFetchLocked(epoch)
		b.mu.Unlock()
		return
	}
	b.applyLocked(entry)
	fn := b.onChange
	b.mu.Unlock()

	if fn != nil {
		fn()
	}
}

func (b *ByID) startFetchLocked(epoch uint64) {
	if b.fetchEpoch == epoch {
		return
	}
	b.fetchEpoch = epoch
	table, id := b.table, b.id

	go func() {
		_, err := b.store.SelectFirst(b.ctx, table, id)

		b.mu.Lock()
		if b.fetchEpoch == epoch {
			b.fetchEpoch = 0
		}
		if b.disposed || epoch != b.epoch {
			b.mu.Unlock()
			return
		}
		if err != nil {
			// Last good value stays on screen; only the flag changes.
			b.err = err
		} else if entry, ok := b.store.Snapshot(store.ByIDKey(table, id)); ok {
			b.applyLocked(entry)
		}
		fn := b.onChange
		b.mu.Unlock()

		if fn != nil {
			fn()
		}
	}()
}

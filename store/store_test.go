package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/jonwraymond/datacache/backend"
)

// fakeBackend is an in-memory Persistence implementation with call
// counters and an optional blocking hook on reads.
type fakeBackend struct {
	mu   sync.Mutex
	rows map[string]map[string]backend.Record

	getCalls    atomic.Int64
	queryCalls  atomic.Int64
	insertCalls atomic.Int64
	updateCalls atomic.Int64
	deleteCalls atomic.Int64

	// beforeGet, when set, runs before each GetByID returns. Tests use
	// it to hold a fetch in flight.
	beforeGet func()

	// failWith, when set, makes every operation fail.
	failWith error
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{rows: make(map[string]map[string]backend.Record)}
}

func (f *fakeBackend) seed(table string, recs ...backend.Record) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[table] == nil {
		f.rows[table] = make(map[string]backend.Record)
	}
	for _, rec := range recs {
		f.rows[table][backend.RecordID(rec)] = backend.CloneRecord(rec)
	}
}

func (f *fakeBackend) GetByID(_ context.Context, table, id string) (backend.Record, error) {
	f.getCalls.Add(1)

	// Snapshot before the hook so a concurrent write during the hook
	// does not change what this call returns.
	f.mu.Lock()
	rec, ok := f.rows[table][id]
	if ok {
		rec = backend.CloneRecord(rec)
	}
	f.mu.Unlock()

	if f.beforeGet != nil {
		f.beforeGet()
	}
	if f.failWith != nil {
		return nil, f.failWith
	}
	if !ok {
		return nil, backend.ErrNotFound
	}
	return rec, nil
}

func (f *fakeBackend) Query(_ context.Context, table string, match backend.Record, opts backend.QueryOptions) ([]backend.Record, error) {
	f.queryCalls.Add(1)
	if f.failWith != nil {
		return nil, f.failWith
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	out := []backend.Record{}
	for _, rec := range f.rows[table] {
		if recordMatches(rec, match) {
			out = append(out, backend.CloneRecord(rec))
		}
	}
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

func (f *fakeBackend) Insert(_ context.Context, table string, rec backend.Record) (backend.Record, error) {
	f.insertCalls.Add(1)
	if f.failWith != nil {
		return nil, f.failWith
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.rows[table] == nil {
		f.rows[table] = make(map[string]backend.Record)
	}
	stored := backend.CloneRecord(rec)
	f.rows[table][backend.RecordID(stored)] = stored
	return backend.CloneRecord(stored), nil
}

func (f *fakeBackend) Update(_ context.Context, table, id string, partial backend.Record) (backend.Record, error) {
	f.updateCalls.Add(1)
	if f.failWith != nil {
		return nil, f.failWith
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[table][id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	for k, v := range partial {
		rec[k] = v
	}
	return backend.CloneRecord(rec), nil
}

func (f *fakeBackend) Delete(_ context.Context, table, id string) (backend.Record, error) {
	f.deleteCalls.Add(1)
	if f.failWith != nil {
		return nil, f.failWith
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	rec, ok := f.rows[table][id]
	if !ok {
		return nil, backend.ErrNotFound
	}
	delete(f.rows[table], id)
	return backend.CloneRecord(rec), nil
}

func recordMatches(rec, match backend.Record) bool {
	for k, want := range match {
		if fmt.Sprintf("%v", rec[k]) != fmt.Sprintf("%v", want) {
			return false
		}
	}
	return true
}

func newTestStore(t *testing.T, fb *fakeBackend) *Store {
	t.Helper()
	s, err := New(Config{Backend: fb})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return s
}

func TestNew_RequiresBackend(t *testing.T) {
	if _, err := New(Config{}); !errors.Is(err, ErrNoBackend) {
		t.Errorf("New() = %v, want ErrNoBackend", err)
	}
}

func TestSelectFirst_CachesResult(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("contacts", backend.Record{"id": "c-1", "name": "Ada"})
	s := newTestStore(t, fb)
	ctx := context.Background()

	rec, err := s.SelectFirst(ctx, "contacts", "c-1")
	if err != nil {
		t.Fatalf("SelectFirst() error = %v", err)
	}
	if rec["name"] != "Ada" {
		t.Errorf("name = %v", rec["name"])
	}

	// Second read is served from cache.
	if _, err := s.SelectFirst(ctx, "contacts", "c-1"); err != nil {
		t.Fatalf("SelectFirst() error = %v", err)
	}
	if got := fb.getCalls.Load(); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestSelectFirst_NotFoundIsNilNotError(t *testing.T) {
	fb := newFakeBackend()
	s := newTestStore(t, fb)
	ctx := context.Background()

	rec, err := s.SelectFirst(ctx, "contacts", "ghost")
	if err != nil {
		t.Fatalf("SelectFirst() error = %v", err)
	}
	if rec != nil {
		t.Errorf("rec = %v, want nil", rec)
	}

	// The not-found answer is cached too.
	if _, err := s.SelectFirst(ctx, "contacts", "ghost"); err != nil {
		t.Fatal(err)
	}
	if got := fb.getCalls.Load(); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}

	entry, ok := s.Snapshot(ByIDKey("contacts", "ghost"))
	if !ok || entry.State != NotFound {
		t.Errorf("Snapshot = (%+v, %v), want cached NotFound", entry, ok)
	}
}

func TestSelectFirst_ResultIsIsolatedCopy(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("contacts", backend.Record{"id": "c-1", "name": "Ada"})
	s := newTestStore(t, fb)
	ctx := context.Background()

	first, _ := s.SelectFirst(ctx, "contacts", "c-1")
	first["name"] = "mutated"

	second, _ := s.SelectFirst(ctx, "contacts", "c-1")
	if second["name"] != "Ada" {
		t.Error("caller mutation leaked into the cache")
	}
}

func TestSelectMatches_EmptyResultIsLoaded(t *testing.T) {
	fb := newFakeBackend()
	s := newTestStore(t, fb)
	ctx := context.Background()

	recs, err := s.SelectMatches(ctx, "contacts", backend.Record{"status": "active"}, backend.QueryOptions{})
	if err != nil {
		t.Fatalf("SelectMatches() error = %v", err)
	}
	if recs == nil {
		t.Fatal("empty result must be a non-nil slice")
	}
	if len(recs) != 0 {
		t.Errorf("recs = %v", recs)
	}

	// Empty is a valid loaded result, served from cache afterwards.
	s.SelectMatches(ctx, "contacts", backend.Record{"status": "active"}, backend.QueryOptions{})
	if got := fb.queryCalls.Load(); got != 1 {
		t.Errorf("backend calls = %d, want 1", got)
	}
}

func TestSelectFirstMatches(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("deals", backend.Record{"id": "d-1", "stage": "won"})
	s := newTestStore(t, fb)
	ctx := context.Background()

	rec, err := s.SelectFirstMatches(ctx, "deals", backend.Record{"stage": "won"})
	if err != nil {
		t.Fatalf("SelectFirstMatches() error = %v", err)
	}
	if rec["id"] != "d-1" {
		t.Errorf("rec = %v", rec)
	}

	none, err := s.SelectFirstMatches(ctx, "deals", backend.Record{"stage": "lost"})
	if err != nil || none != nil {
		t.Errorf("no match = (%v, %v), want (nil, nil)", none, err)
	}
}

func TestSelectFirst_Coalesces(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("contacts", backend.Record{"id": "c-1", "name": "Ada"})

	hold := make(chan struct{})
	var once sync.Once
	fb.beforeGet = func() { <-hold }
	s := newTestStore(t, fb)
	ctx := context.Background()

	const readers = 8
	var wg sync.WaitGroup
	results := make([]backend.Record, readers)
	for i := 0; i < readers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Release the backend once every reader is likely queued.
			if i == readers-1 {
				once.Do(func() { close(hold) })
			}
			rec, err := s.SelectFirst(ctx, "contacts", "c-1")
			if err != nil {
				t.Errorf("SelectFirst() error = %v", err)
			}
			results[i] = rec
		}(i)
	}
	wg.Wait()

	if got := fb.getCalls.Load(); got != 1 {
		t.Errorf("backend calls = %d, want 1 (coalesced)", got)
	}
	for i, rec := range results {
		if rec["name"] != "Ada" {
			t.Errorf("reader %d got %v", i, rec)
		}
	}
}

func TestGenerationOrdering_WriteBeatsInFlightFetch(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("profile", backend.Record{"id": "p-1", "email": "old@example.com"})
	s := newTestStore(t, fb)
	ctx := context.Background()

	fetchEntered := make(chan struct{})
	releaseFetch := make(chan struct{})
	fb.beforeGet = func() {
		close(fetchEntered)
		<-releaseFetch
	}

	done := make(chan backend.Record)
	go func() {
		rec, _ := s.SelectFirst(ctx, "profile", "p-1")
		done <- rec
	}()

	<-fetchEntered
	fb.beforeGet = nil

	// The write completes while the fetch is still in flight; its
	// result carries the old email and must be discarded.
	if _, err := s.Update(ctx, "profile", "p-1", backend.Record{"email": "new@example.com"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	close(releaseFetch)

	fetched := <-done
	if fetched["email"] != "new@example.com" {
		t.Errorf("in-flight fetch returned stale value %v", fetched["email"])
	}

	entry, ok := s.Snapshot(ByIDKey("profile", "p-1"))
	if !ok || entry.Record["email"] != "new@example.com" {
		t.Errorf("cache = (%+v, %v), want the written value", entry, ok)
	}
}

func TestInsert_RoundTrip(t *testing.T) {
	fb := newFakeBackend()
	s := newTestStore(t, fb)
	ctx := context.Background()

	stored, err := s.Insert(ctx, "contacts", backend.Record{"name": "Grace"})
	if err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	id := backend.RecordID(stored)
	if id == "" {
		t.Fatal("Insert() did not assign an id")
	}
	if stored["created_at"] == nil {
		t.Error("Insert() did not assign created_at")
	}

	got, err := s.SelectFirst(ctx, "contacts", id)
	if err != nil {
		t.Fatalf("SelectFirst() error = %v", err)
	}
	if got["name"] != "Grace" {
		t.Errorf("round trip name = %v", got["name"])
	}
}

func TestInsert_InvalidatesTableQueries(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("contacts", backend.Record{"id": "c-1", "status": "active"})
	s := newTestStore(t, fb)
	ctx := context.Background()

	match := backend.Record{"status": "active"}
	recs, _ := s.SelectMatches(ctx, "contacts", match, backend.QueryOptions{})
	if len(recs) != 1 {
		t.Fatalf("initial matches = %d", len(recs))
	}

	notified := 0
	cancel := s.Subscribe(MatchKey("contacts", match, backend.QueryOptions{}), func() { notified++ })
	defer cancel()

	if _, err := s.Insert(ctx, "contacts", backend.Record{"id": "c-2", "status": "active"}); err != nil {
		t.Fatalf("Insert() error = %v", err)
	}
	if notified == 0 {
		t.Error("match subscriber not notified after insert")
	}

	// The cached sequence was dropped; the refetch sees the new row.
	recs, _ = s.SelectMatches(ctx, "contacts", match, backend.QueryOptions{})
	if len(recs) != 2 {
		t.Errorf("matches after insert = %d, want 2", len(recs))
	}
}

func TestUpdate_PublishesWithoutRefetch(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("profile", backend.Record{"id": "p-1", "email": "old@example.com"})
	s := newTestStore(t, fb)
	ctx := context.Background()

	key := ByIDKey("profile", "p-1")
	if _, err := s.SelectFirst(ctx, "profile", "p-1"); err != nil {
		t.Fatal(err)
	}
	baseline := fb.getCalls.Load()

	// Two consumers of the same row, the way two mounted views watch
	// one profile.
	var seen []string
	observeEmail := func() {
		entry, ok := s.Snapshot(key)
		if ok && entry.State == Loaded {
			seen = append(seen, entry.Record["email"].(string))
		}
	}
	cancelA := s.Subscribe(key, observeEmail)
	defer cancelA()
	cancelB := s.Subscribe(key, observeEmail)
	defer cancelB()

	updated, err := s.Update(ctx, "profile", "p-1", backend.Record{"email": "a@b.com"})
	if err != nil {
		t.Fatalf("Update() error = %v", err)
	}
	if updated["email"] != "a@b.com" {
		t.Errorf("updated = %v", updated)
	}

	if len(seen) != 2 || seen[0] != "a@b.com" || seen[1] != "a@b.com" {
		t.Errorf("subscribers saw %v, want the new email twice", seen)
	}
	if got := fb.getCalls.Load(); got != baseline {
		t.Errorf("backend fetches after update = %d, want %d (no refetch)", got, baseline)
	}
}

func TestUpdate_NotFoundSurfacesAndCaches(t *testing.T) {
	fb := newFakeBackend()
	s := newTestStore(t, fb)
	ctx := context.Background()

	_, err := s.Update(ctx, "deals", "gone", backend.Record{"stage": "won"})
	if !errors.Is(err, backend.ErrNotFound) {
		t.Fatalf("Update() = %v, want ErrNotFound", err)
	}

	entry, ok := s.Snapshot(ByIDKey("deals", "gone"))
	if !ok || entry.State != NotFound {
		t.Errorf("Snapshot = (%+v, %v), want cached NotFound", entry, ok)
	}
}

func TestDelete_ReturnsPriorAndCachesNotFound(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("segments", backend.Record{"id": "s-9", "name": "VIP"})
	s := newTestStore(t, fb)
	ctx := context.Background()

	if _, err := s.SelectFirst(ctx, "segments", "s-9"); err != nil {
		t.Fatal(err)
	}

	prior, err := s.Delete(ctx, "segments", "s-9")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if prior["name"] != "VIP" {
		t.Errorf("prior = %v", prior)
	}

	// Resolves to a definitive "gone", not "loading", with no fetch.
	baseline := fb.getCalls.Load()
	rec, err := s.SelectFirst(ctx, "segments", "s-9")
	if err != nil || rec != nil {
		t.Errorf("SelectFirst after delete = (%v, %v), want (nil, nil)", rec, err)
	}
	if fb.getCalls.Load() != baseline {
		t.Error("SelectFirst after delete hit the backend")
	}
}

func TestDelete_ReturnsPriorWhenNeverFetched(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("segments", backend.Record{"id": "s-9", "name": "VIP"})
	s := newTestStore(t, fb)

	// No prior read: the pre-delete value must come from the backend's
	// returned representation, not the cache.
	prior, err := s.Delete(context.Background(), "segments", "s-9")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if prior == nil || prior["name"] != "VIP" {
		t.Errorf("Delete() prior = %v, want the pre-delete row", prior)
	}
}

func TestDelete_MissingRowIsNotAnError(t *testing.T) {
	fb := newFakeBackend()
	s := newTestStore(t, fb)

	prior, err := s.Delete(context.Background(), "segments", "never-existed")
	if err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if prior != nil {
		t.Errorf("prior = %v, want nil", prior)
	}
}

func TestBackendFailure_LeavesCacheUntouched(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("contacts", backend.Record{"id": "c-1", "name": "Ada"})
	s := newTestStore(t, fb)
	ctx := context.Background()

	if _, err := s.SelectFirst(ctx, "contacts", "c-1"); err != nil {
		t.Fatal(err)
	}

	s.InvalidateRecord("contacts", "c-1")
	fb.failWith = errors.New("backend: unavailable")

	if _, err := s.SelectFirst(ctx, "contacts", "c-1"); err == nil {
		t.Fatal("SelectFirst() should surface backend failure")
	}
	if _, ok := s.Snapshot(ByIDKey("contacts", "c-1")); ok {
		t.Error("failed fetch must not create a cache entry")
	}
}

func TestUnsubscribe_Idempotent(t *testing.T) {
	fb := newFakeBackend()
	s := newTestStore(t, fb)

	key := ByIDKey("contacts", "c-1")
	calls := 0
	cancel := s.Subscribe(key, func() { calls++ })

	cancel()
	cancel() // second call is a no-op

	s.Invalidate(key)
	if calls != 0 {
		t.Errorf("cancelled subscriber notified %d times", calls)
	}
}

func TestSubscribe_ByIDPublishReachesMatchSubscribers(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("contacts", backend.Record{"id": "c-1", "status": "active"})
	s := newTestStore(t, fb)
	ctx := context.Background()

	matchNotified := 0
	cancel := s.Subscribe(MatchKey("contacts", backend.Record{"status": "active"}, backend.QueryOptions{}), func() {
		matchNotified++
	})
	defer cancel()

	otherTable := 0
	cancelOther := s.Subscribe(MatchKey("deals", backend.Record{"stage": "won"}, backend.QueryOptions{}), func() {
		otherTable++
	})
	defer cancelOther()

	if _, err := s.Update(ctx, "contacts", "c-1", backend.Record{"status": "churned"}); err != nil {
		t.Fatal(err)
	}

	if matchNotified == 0 {
		t.Error("same-table match subscriber not notified by by-id publish")
	}
	if otherTable != 0 {
		t.Error("other-table subscriber must not be notified")
	}
}

func TestListenerOrder_FIFO(t *testing.T) {
	fb := newFakeBackend()
	s := newTestStore(t, fb)

	key := ByIDKey("contacts", "c-1")
	var order []int
	for i := 1; i <= 3; i++ {
		i := i
		cancel := s.Subscribe(key, func() { order = append(order, i) })
		defer cancel()
	}

	s.Invalidate(key)
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 3 {
		t.Errorf("listener order = %v, want [1 2 3]", order)
	}
}

func TestListenerMayCallBackIntoStore(t *testing.T) {
	fb := newFakeBackend()
	fb.seed("contacts", backend.Record{"id": "c-1", "name": "Ada"})
	s := newTestStore(t, fb)

	key := ByIDKey("contacts", "c-1")
	var sawEntry bool
	cancel := s.Subscribe(key, func() {
		// Re-reading from inside a notification must not deadlock.
		_, sawEntry = s.Snapshot(key)
	})
	defer cancel()

	if _, err := s.SelectFirst(context.Background(), "contacts", "c-1"); err != nil {
		t.Fatal(err)
	}
	if !sawEntry {
		t.Error("listener did not observe the freshly cached entry")
	}
}

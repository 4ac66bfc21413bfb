// Package bind provides reactive accessors over the store: live views
// of one row (ByID), a match query (Matching), or the first row of a
// match query (FirstMatching).
//
// A binding mirrors the store's cache for its key and re-renders
// through an OnChange callback whenever a write, an invalidation, or a
// realtime event changes that key. Consumers read with Get, which
// reports a tri-state: Loading (result pending), Missing (looked up,
// does not exist), or Loaded with a value. The three states are
// deliberately distinct so a UI can tell "still waiting" from "gone".
//
// Bindings are read-only with respect to shared state: they subscribe
// and trigger fetches but never mutate the cache themselves.
package bind

// Package realtime feeds remote row changes into the local cache.
//
// A Feed keeps a websocket connection to a Phoenix-style realtime
// endpoint, joins one channel per watched table, and translates
// INSERT/UPDATE/DELETE events into invalidations on an Invalidator
// (in practice the store). A remote write thus reaches local
// subscribers the same way a local one does: the stale entry is
// dropped, listeners are notified, and bindings refetch.
//
// The feed only ever invalidates; it never writes event payloads into
// the cache directly, so a lost or replayed event can at worst cause
// an extra fetch, never a wrong value.
package realtime

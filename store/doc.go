// Package store is the process-wide entity cache and store service.
//
// One Store instance owns the cached rows and query results for the
// whole process. Reads fill the cache from the persistence backend and
// coalesce concurrent fetches of the same key into one call; writes go
// through the backend first, then mutate the cache and synchronously
// notify subscribers, so every consumer of a row converges on the new
// value without refetching.
//
// Staleness is handled with per-key generation counters: a fetch is
// tagged with the generation it started from, and its result is
// discarded when any write bumped the key meanwhile. There is no
// cancellation primitive for in-flight fetches; stale results are
// simply never applied.
package store

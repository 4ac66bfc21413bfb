package store

import (
	"time"

	"github.com/jonwraymond/datacache/backend"
)

// EntryState tags what a cache entry holds.
type EntryState int

const (
	// Loaded means the backend answered with a row (or a sequence,
	// possibly empty, for a match key).
	Loaded EntryState = iota

	// NotFound means the backend confirmed there is no such row. It is
	// distinct from the absence of an entry, which means "never
	// fetched".
	NotFound
)

// Entry is a cached snapshot for one key. Record is set for by-id
// keys, Records for match keys.
type Entry struct {
	State      EntryState
	Record     backend.Record
	Records    []backend.Record
	Generation uint64
	FetchedAt  time.Time
}

// clone deep-copies the entry's records so callers can hold the result
// without observing later cache mutations.
func (e Entry) clone() Entry {
	e.Record = backend.CloneRecord(e.Record)
	if e.Records != nil {
		e.Records = backend.CloneRecords(e.Records)
	}
	return e
}

// entityCache holds entries and per-key generation counters. It does
// no locking of its own; the owning Store serializes access.
//
// Generations live in their own map and survive invalidation: a key's
// counter keeps rising for its whole lifetime, so a fetch that sampled
// the counter before an invalidation can never pass the staleness
// check afterwards.
type entityCache struct {
	entries     map[Key]Entry
	generations map[Key]uint64
	nowFn       func() time.Time
}

func newEntityCache() *entityCache {
	return &entityCache{
		entries:     make(map[Key]Entry),
		generations: make(map[Key]uint64),
		nowFn:       time.Now,
	}
}

func (c *entityCache) get(key Key) (Entry, bool) {
	entry, ok := c.entries[key]
	return entry, ok
}

func (c *entityCache) generation(key Key) uint64 {
	return c.generations[key]
}

// sampleGeneration reads the key's generation and pins the key into
// the counter map, so a later table-wide invalidation bumps it even
// though no entry exists yet. Fetches sample through here.
func (c *entityCache) sampleGeneration(key Key) uint64 {
	if _, ok := c.generations[key]; !ok {
		c.generations[key] = 0
	}
	return c.generations[key]
}

// put stores an entry and bumps the key's generation. The stored
// records are deep copies; the caller keeps ownership of its values.
func (c *entityCache) put(key Key, entry Entry) {
	c.generations[key]++
	entry.Generation = c.generations[key]
	entry.FetchedAt = c.nowFn()
	c.entries[key] = entry.clone()
}

// putIfGeneration stores an entry only when no write bumped the key
// since the caller sampled gen. Reports whether the entry was applied.
func (c *entityCache) putIfGeneration(key Key, entry Entry, gen uint64) bool {
	if c.generations[key] != gen {
		return false
	}
	c.put(key, entry)
	return true
}

// invalidate drops the entry and bumps the generation. Reports whether
// an entry existed.
func (c *entityCache) invalidate(key Key) bool {
	_, existed := c.entries[key]
	delete(c.entries, key)
	c.generations[key]++
	return existed
}

// invalidateTable drops every entry of the table and bumps every
// known key of the table, including keys with an in-flight fetch but
// no entry yet, so those fetches fail the staleness check. Returns the
// affected keys.
func (c *entityCache) invalidateTable(table string) []Key {
	return c.invalidateWhere(func(key Key) bool {
		return key.Table == table
	})
}

// invalidateMatches drops and bumps every match-query key of the
// table. By-id keys are left alone.
func (c *entityCache) invalidateMatches(table string) []Key {
	return c.invalidateWhere(func(key Key) bool {
		return key.Table == table && key.IsMatch()
	})
}

func (c *entityCache) invalidateWhere(pred func(Key) bool) []Key {
	seen := make(map[Key]bool)
	for key := range c.entries {
		if pred(key) {
			seen[key] = true
		}
	}
	for key := range c.generations {
		if pred(key) {
			seen[key] = true
		}
	}

	affected := make([]Key, 0, len(seen))
	for key := range seen {
		affected = append(affected, key)
		c.invalidate(key)
	}
	return affected
}

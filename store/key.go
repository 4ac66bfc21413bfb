package store

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/jonwraymond/datacache/backend"
)

// Key identifies a cached entry: either a single row by primary key or
// a match query over one table. Keys are comparable; two match keys
// built from equivalent match maps (same pairs, any insertion order)
// and equal options compare equal.
type Key struct {
	// Table is the table the key belongs to.
	Table string

	// ID is the primary key for a by-id key, empty for match keys.
	ID string

	// match is the canonical serialization of the match map plus
	// query options. Empty for by-id keys.
	match string
}

// ByIDKey builds the key for a single row.
func ByIDKey(table, id string) Key {
	return Key{Table: table, ID: id}
}

// MatchKey builds the key for a match query. Query options are part of
// the identity: the same filter with a different order or limit caches
// a different sequence.
func MatchKey(table string, match backend.Record, opts backend.QueryOptions) Key {
	return Key{
		Table: table,
		match: canonicalMatch(match) + "|" + canonicalOptions(opts),
	}
}

// IsMatch reports whether the key identifies a match query.
func (k Key) IsMatch() bool {
	return k.match != ""
}

// String renders the key for logging.
func (k Key) String() string {
	if k.IsMatch() {
		return k.Table + "?" + k.match
	}
	return k.Table + "/" + k.ID
}

// flightKey is the singleflight grouping key.
func (k Key) flightKey() string {
	return k.Table + "\x00" + k.ID + "\x00" + k.match
}

// canonicalMatch serializes a match map with sorted keys so equivalent
// maps produce identical strings regardless of iteration order.
func canonicalMatch(match backend.Record) string {
	if len(match) == 0 {
		return "{}"
	}

	keys := make([]string, 0, len(match))
	for k := range match {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.Quote(k))
		b.WriteByte(':')
		b.WriteString(canonicalValue(match[k]))
	}
	b.WriteByte('}')
	return b.String()
}

func canonicalValue(v any) string {
	switch val := v.(type) {
	case map[string]any:
		return canonicalMatch(val)
	case []any:
		var b strings.Builder
		b.WriteByte('[')
		for i, inner := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			b.WriteString(canonicalValue(inner))
		}
		b.WriteByte(']')
		return b.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

func canonicalOptions(opts backend.QueryOptions) string {
	return fmt.Sprintf("%s.%t.%d.%d", opts.OrderBy, opts.Descending, opts.Limit, opts.Offset)
}

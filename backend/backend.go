package backend

import (
	"context"
	"time"
)

// Record is an opaque row snapshot. Every business row carries an "id"
// primary key and an "account_id" tenant scope; beyond that the layer
// treats columns as data it stores and forwards, never interprets.
type Record = map[string]any

// RecordID returns the row's primary key, or "" when absent.
func RecordID(rec Record) string {
	id, _ := rec["id"].(string)
	return id
}

// CloneRecord returns a deep copy of a record. Nested maps and slices
// are copied too, so mutations on the clone never leak into the
// original. A nil record clones to nil.
func CloneRecord(rec Record) Record {
	if rec == nil {
		return nil
	}
	out := make(Record, len(rec))
	for k, v := range rec {
		out[k] = cloneValue(v)
	}
	return out
}

// CloneRecords deep-copies a slice of records. A nil slice clones to
// an empty non-nil slice so callers can range without nil checks.
func CloneRecords(recs []Record) []Record {
	out := make([]Record, len(recs))
	for i, rec := range recs {
		out[i] = CloneRecord(rec)
	}
	return out
}

func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = cloneValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = cloneValue(inner)
		}
		return out
	default:
		return v
	}
}

// QueryOptions shape a match query's result sequence. The zero value
// means no ordering, no pagination.
type QueryOptions struct {
	// OrderBy is the column to sort on. Empty means backend order.
	OrderBy string

	// Descending reverses the sort. Ignored when OrderBy is empty.
	Descending bool

	// Limit caps the number of rows returned. Zero means no limit.
	Limit int

	// Offset skips rows before the first returned one.
	Offset int
}

// Persistence is the row-store contract.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: GetByID, Update and Delete return ErrNotFound when the
//     target row does not exist; Query returns an empty slice, never an
//     error, when no rows match. Transport and server failures are
//     wrapped in ErrUnavailable.
//   - Ownership: returned records belong to the caller; implementations
//     must not retain or mutate them after returning.
type Persistence interface {
	GetByID(ctx context.Context, table, id string) (Record, error)
	Query(ctx context.Context, table string, match Record, opts QueryOptions) ([]Record, error)
	Insert(ctx context.Context, table string, rec Record) (Record, error)
	Update(ctx context.Context, table, id string, partial Record) (Record, error)

	// Delete returns the removed row as it was stored before deletion.
	Delete(ctx context.Context, table, id string) (Record, error)
}

// SignedURL is a time-limited URL for a private storage object.
type SignedURL struct {
	URL       string
	ExpiresAt time.Time
}

// ObjectStorage resolves storage paths into signed URLs.
//
// Contract:
//   - Concurrency: implementations must be safe for concurrent use.
//   - Errors: ErrObjectNotFound when the path has no object behind it;
//     ErrUnavailable on transport or server failure.
type ObjectStorage interface {
	ResolveSignedURL(ctx context.Context, path string) (SignedURL, error)
}

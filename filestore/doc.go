// Package filestore caches signed URLs for private storage objects.
//
// Signed URLs are expensive to mint and expire on their own schedule,
// so the cache keys them by storage path and refreshes an entry only
// when its expiry is within a safety margin. Lookups for missing
// objects are remembered briefly, so a view that keeps rendering a
// broken image reference does not hammer the backend. Concurrent
// resolutions of one path coalesce into a single backend call.
//
// Paths already encode tenant scoping (they start with the account
// prefix), so entries are never shared across accounts by
// construction.
package filestore

package realtime

import "github.com/jonwraymond/datacache/store"

// The store is the production invalidation target.
var _ Invalidator = (*store.Store)(nil)

package store

// listener is one registered callback.
type listener struct {
	id uint64
	fn func()
}

// registry maps keys to their listeners. It does no locking of its
// own; the owning Store serializes access. Listener order per key is
// insertion order.
type registry struct {
	nextID uint64
	subs   map[Key][]listener
}

func newRegistry() *registry {
	return &registry{subs: make(map[Key][]listener)}
}

func (r *registry) subscribe(key Key, fn func()) uint64 {
	r.nextID++
	r.subs[key] = append(r.subs[key], listener{id: r.nextID, fn: fn})
	return r.nextID
}

// unsubscribe removes a listener. A second call with the same id, or a
// call for a key that no longer has listeners, is a no-op.
func (r *registry) unsubscribe(key Key, id uint64) {
	subs := r.subs[key]
	for i, l := range subs {
		if l.id == id {
			r.subs[key] = append(subs[:i:i], subs[i+1:]...)
			if len(r.subs[key]) == 0 {
				delete(r.subs, key)
			}
			return
		}
	}
}

// collect gathers the callbacks a publish on key must reach, FIFO per
// key. A by-id key conservatively fans out to every match-query key of
// the same table: which queries a changed row affects cannot be
// re-evaluated locally, so all of them are told to re-check.
func (r *registry) collect(key Key) []func() {
	var fns []func()
	for _, l := range r.subs[key] {
		fns = append(fns, l.fn)
	}
	if !key.IsMatch() {
		for sub, ls := range r.subs {
			if sub.Table == key.Table && sub.IsMatch() {
				for _, l := range ls {
					fns = append(fns, l.fn)
				}
			}
		}
	}
	return fns
}

// collectTable gathers every listener on any key of the table. Used by
// table-wide invalidation, where any cached query or row may be
// affected.
func (r *registry) collectTable(table string) []func() {
	var fns []func()
	for sub, ls := range r.subs {
		if sub.Table == table {
			for _, l := range ls {
				fns = append(fns, l.fn)
			}
		}
	}
	return fns
}

package gifts

import "sync"

// Deduper tracks every event id seen in the current session so delivery
// is at-most-once. The set grows for the whole session; a session is one
// stream, so growth is bounded by stream length in practice. A bounded
// or time-windowed set would change retention semantics, so the simple
// set stays until that trade-off is actually needed.
type Deduper struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewDeduper() *Deduper {
	return &Deduper{seen: make(map[string]struct{})}
}

// Observe records the id and reports whether it was new. Duplicates are
// absorbed silently by the caller, not treated as errors.
func (d *Deduper) Observe(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.seen[id]; ok {
		return false
	}
	d.seen[id] = struct{}{}
	return true
}

// Size returns the number of tracked ids.
func (d *Deduper) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}

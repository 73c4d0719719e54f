package pipeline

import (
	"container/list"
	"sync"
	"time"
)

// Deduper remembers recently seen fingerprints. It holds at most capacity
// entries, evicting the least recently seen first, and forgets entries older
// than ttl. A zero ttl keeps entries until they are evicted.
type Deduper struct {
	mu       sync.Mutex
	capacity int
	ttl      time.Duration
	order    *list.List
	entries  map[Fingerprint]*list.Element
	now      func() time.Time
}

type dedupEntry struct {
	fp   Fingerprint
	seen time.Time
}

// NewDeduper returns nil when capacity is not positive; a nil *Deduper never
// reports duplicates.
func NewDeduper(capacity int, ttl time.Duration) *Deduper {
	if capacity <= 0 {
		return nil
	}
	return &Deduper{
		capacity: capacity,
		ttl:      ttl,
		order:    list.New(),
		entries:  make(map[Fingerprint]*list.Element, capacity),
		now:      time.Now,
	}
}

// Seen records fp and reports whether it was already present and unexpired.
func (d *Deduper) Seen(fp Fingerprint) bool {
	if d == nil {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	if el, ok := d.entries[fp]; ok {
		e := el.Value.(*dedupEntry)
		if d.ttl <= 0 || now.Sub(e.seen) < d.ttl {
			e.seen = now
			d.order.MoveToFront(el)
			return true
		}
		e.seen = now
		d.order.MoveToFront(el)
		return false
	}

	d.entries[fp] = d.order.PushFront(&dedupEntry{fp: fp, seen: now})
	for d.order.Len() > d.capacity {
		oldest := d.order.Back()
		d.order.Remove(oldest)
		delete(d.entries, oldest.Value.(*dedupEntry).fp)
	}
	return false
}

// Len returns the number of remembered fingerprints.
func (d *Deduper) Len() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.order.Len()
}

package wtlfu

import "sort"

// Entry is a read-only snapshot of one live cache entry, returned by the
// ordered-traversal policy methods (spec.md SPEC_FULL §4.11).
type Entry[K comparable, V any] struct {
	Key          K
	Value        V
	Weight       int
	AccessTimeNS int64
	WriteTimeNS  int64
}

// Hottest returns up to limit entries ordered from most to least frequently
// accessed, approximated here by main-protected tail-to-head order (the
// segment the policy reserves for the hottest working set) followed by
// main-probation and eden in the same order, since the sketch itself does
// not retain a total order of estimated frequencies.
func (c *Cache[K, V]) Hottest(limit int) []Entry[K, V] {
	c.evictionMu.Lock()
	defer c.evictionMu.Unlock()
	return c.snapshotDeques(limit, reverseOrder, &c.protected, &c.probation, &c.eden)
}

// Coldest returns up to limit entries ordered from least to most frequently
// accessed: eden head-to-tail (newest admissions, still unproven), then
// probation, then protected.
func (c *Cache[K, V]) Coldest(limit int) []Entry[K, V] {
	c.evictionMu.Lock()
	defer c.evictionMu.Unlock()
	return c.snapshotDeques(limit, forwardOrder, &c.eden, &c.probation, &c.protected)
}

// Oldest returns up to limit entries ordered by ascending write time (the
// write-order deque, C5), oldest write first. Empty unless ExpireAfterWrite
// was configured, since the write-order deque is only maintained then.
func (c *Cache[K, V]) Oldest(limit int) []Entry[K, V] {
	c.evictionMu.Lock()
	defer c.evictionMu.Unlock()
	return c.snapshotWriteDeque(limit, forwardOrder)
}

// Youngest is Oldest in reverse: most recently written entries first.
func (c *Cache[K, V]) Youngest(limit int) []Entry[K, V] {
	c.evictionMu.Lock()
	defer c.evictionMu.Unlock()
	return c.snapshotWriteDeque(limit, reverseOrder)
}

// OldestVariable returns up to limit entries ordered by ascending variable
// expiration deadline (soonest to expire first), read directly from the
// timer wheel's buckets. Empty unless ExpireAfter (variable expiration) was
// configured.
func (c *Cache[K, V]) OldestVariable(limit int) []Entry[K, V] {
	if !c.features.has(featExpireVariable) {
		return nil
	}
	c.evictionMu.Lock()
	defer c.evictionMu.Unlock()

	var nodes []*Node[K, V]
	for _, level := range c.wheel.wheel {
		for _, b := range level {
			for n := b.sentinel.wheelNext; n != &b.sentinel; n = n.wheelNext {
				nodes = append(nodes, n)
			}
		}
	}
	sort.Slice(nodes, func(i, j int) bool { return nodes[i].variableTime < nodes[j].variableTime })
	return toEntries(nodes, limit)
}

// NewestVariable is OldestVariable in reverse: furthest-from-expiring first.
func (c *Cache[K, V]) NewestVariable(limit int) []Entry[K, V] {
	entries := c.OldestVariable(0)
	reverseEntries(entries)
	return truncate(entries, limit)
}

type traversalOrder int8

const (
	forwardOrder traversalOrder = iota
	reverseOrder
)

func (c *Cache[K, V]) snapshotDeques(limit int, order traversalOrder, deques ...*accessDeque[K, V]) []Entry[K, V] {
	var nodes []*Node[K, V]
	for _, d := range deques {
		nodes = append(nodes, collectAccessDeque(d, order)...)
	}
	return toEntries(nodes, limit)
}

func (c *Cache[K, V]) snapshotWriteDeque(limit int, order traversalOrder) []Entry[K, V] {
	var nodes []*Node[K, V]
	if order == forwardOrder {
		for n := c.writeOrder.head; n != nil; n = n.writeNext {
			nodes = append(nodes, n)
		}
	} else {
		for n := c.writeOrder.tail; n != nil; n = n.writePrev {
			nodes = append(nodes, n)
		}
	}
	return toEntries(nodes, limit)
}

func collectAccessDeque[K comparable, V any](d *accessDeque[K, V], order traversalOrder) []*Node[K, V] {
	var nodes []*Node[K, V]
	if order == forwardOrder {
		for n := d.head; n != nil; n = n.accessNext {
			nodes = append(nodes, n)
		}
	} else {
		for n := d.tail; n != nil; n = n.accessPrev {
			nodes = append(nodes, n)
		}
	}
	return nodes
}

func toEntries[K comparable, V any](nodes []*Node[K, V], limit int) []Entry[K, V] {
	if limit > 0 && len(nodes) > limit {
		nodes = nodes[:limit]
	}
	entries := make([]Entry[K, V], 0, len(nodes))
	for _, n := range nodes {
		n.nodeMu.Lock()
		entries = append(entries, Entry[K, V]{
			Key:          n.key,
			Value:        n.value,
			Weight:       int(n.weight),
			AccessTimeNS: n.accessTime.Load(),
			WriteTimeNS:  n.writeTime,
		})
		n.nodeMu.Unlock()
	}
	return entries
}

func reverseEntries[K comparable, V any](e []Entry[K, V]) {
	for i, j := 0, len(e)-1; i < j; i, j = i+1, j-1 {
		e[i], e[j] = e[j], e[i]
	}
}

func truncate[K comparable, V any](e []Entry[K, V], limit int) []Entry[K, V] {
	if limit > 0 && len(e) > limit {
		return e[:limit]
	}
	return e
}

package wtlfu

import (
	"sync"
	"sync/atomic"
)

// nodeState is the tagged lifecycle enum from spec.md §3/§9, replacing the
// source's sentinel-key-marks-RETIRED/DEAD pattern. The key field on Node is
// always the caller's real key; liveness is tracked here instead.
type nodeState int32

const (
	nodeAlive nodeState = iota
	nodeRetired
	nodeDead
)

// queueType identifies which of the three access-order deques (C4) a node
// currently belongs to. A node not tracked by any access-order deque (no
// eviction and no after-access expiration configured) carries queueNone.
type queueType int8

const (
	queueNone queueType = iota
	queueEden
	queueProbation
	queueProtected
)

// Node is one live (or pending-removal) cache entry (spec.md §3).
// policyWeight, queue and the access-order, write-order and timer-wheel links
// are mutated only by the maintenance goroutine while holding evictionLock;
// key/value/weight are mutated under nodeMu so readers never observe a torn
// value.
//
// grounded: teacher's entry[K,V] (s3fifo.go) — prev/next intrusive links,
// cached hash, atomic frequency counter — generalized to three independent
// link sets (access-order, write-order, variable-order) since this cache
// tracks all three expiration axes simultaneously, where the teacher tracks
// only one FIFO ordering.
type Node[K comparable, V any] struct {
	nodeMu sync.Mutex // guards key/value/weight replacement below

	key   K
	value V
	hash  uint64

	weight       int32 // entry's own weight, fixed at insertion/update
	policyWeight int32 // as accounted by the eviction policy; evictionLock-only

	state atomic.Int32 // nodeState, atomic

	accessTime   atomic.Int64 // ns; updated lock-free by any reader, read by maintenance
	writeTime    int64        // ns, evictionLock-owned except for the initial write
	variableTime int64        // ns absolute deadline, 0 if unset; evictionLock-owned

	queue queueType // which access-order deque this node sits in

	// Access-order deque links (eden/probation/protected), owned by the
	// maintenance goroutine.
	accessPrev, accessNext *Node[K, V]

	// Write-order deque links (C5), owned by the maintenance goroutine.
	writePrev, writeNext *Node[K, V]

	// Timer wheel links (C6): bucket membership plus intrusive links within
	// that bucket's circular list.
	wheelPrev, wheelNext *Node[K, V]
	wheelLevel           int8 // -1 if not scheduled
	wheelIndex           int32

	refreshing bool // true while an async refresh is in flight for this node
}

func newNode[K comparable, V any](key K, value V, hash uint64, weight int32, now int64) *Node[K, V] {
	n := &Node[K, V]{
		key:        key,
		value:      value,
		hash:       hash,
		weight:     weight,
		writeTime:  now,
		wheelLevel: -1,
	}
	n.accessTime.Store(now)
	n.state.Store(int32(nodeAlive))
	return n
}

func (n *Node[K, V]) isAlive() bool   { return nodeState(n.state.Load()) == nodeAlive }
func (n *Node[K, V]) isRetired() bool { return nodeState(n.state.Load()) == nodeRetired }
func (n *Node[K, V]) isDead() bool    { return nodeState(n.state.Load()) == nodeDead }

func (n *Node[K, V]) markRetired() { n.state.Store(int32(nodeRetired)) }
func (n *Node[K, V]) markDead()    { n.state.Store(int32(nodeDead)) }

// inTimerWheel reports whether the node currently occupies a wheel bucket.
func (n *Node[K, V]) inTimerWheel() bool { return n.wheelLevel >= 0 }

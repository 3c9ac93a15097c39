package wtlfu

import "sync/atomic"

// writeTaskKind distinguishes the three mutation records the write buffer
// carries (spec.md §4.6: addTask, updateTask, removeTask).
type writeTaskKind int8

const (
	taskAdd writeTaskKind = iota
	taskUpdate
	taskRemove
)

// writeTask is one lossless record of a mutation pending application by the
// maintenance engine.
type writeTask[K comparable, V any] struct {
	kind       writeTaskKind
	node       *Node[K, V]
	weightDiff int32 // for taskUpdate: newWeight - oldWeight
}

const writeChunkSize = 256 // fixed size of each chained array segment

// writeChunk is one fixed-size array segment of the chained growable queue.
// start is the global write index of buf[0]; next, once set, is the JUMP
// link producers/consumer follow past this chunk.
type writeChunk[K comparable, V any] struct {
	start int64
	buf   [writeChunkSize]writeTask[K, V]
	next  atomic.Pointer[writeChunk[K, V]]
}

// writeBuffer is a multi-producer, single-consumer (MPSC) queue (C3),
// growable by chaining fixed chunks. A producer that finds
// its chunk full allocates and publishes the next chunk (a "JUMP" link); the
// consumer follows JUMP pointers on drain.
//
// grounded: shape follows the chained-chunk description in spec.md §4.3 and
// the otter/Caffeine MPSC growable array queue it is modeled on; this is a
// from-scratch implementation since no pack example carries a full
// lock-free MPSC (the teacher's set buffer is a plain Go channel, which
// cannot grow past a fixed capacity the way spec.md requires).
type writeBuffer[K comparable, V any] struct {
	writeIdx atomic.Int64 // next global index a producer may claim

	tail atomic.Pointer[writeChunk[K, V]] // producers race to extend from here

	head      *writeChunk[K, V] // consumer-owned read cursor chunk
	headTotal atomic.Int64      // consumer-owned writer, read by any producer in size()

	maxCapacity int64
}

func newWriteBuffer[K comparable, V any](maxCapacity int) *writeBuffer[K, V] {
	first := &writeChunk[K, V]{}
	wb := &writeBuffer[K, V]{maxCapacity: int64(maxCapacity)}
	wb.tail.Store(first)
	wb.head = first
	return wb
}

// enqueue appends task, retrying up to ~100 times (spec.md §4.3) before
// telling the caller to run maintenance itself to make room. It is lossless:
// every successful enqueue is eventually observed by drain.
func (wb *writeBuffer[K, V]) enqueue(task writeTask[K, V]) bool {
	const maxRetries = 100
	for attempt := 0; attempt < maxRetries; attempt++ {
		if wb.maxCapacity > 0 && wb.size() >= wb.maxCapacity {
			return false // caller should run maintenance inline
		}
		idx := wb.writeIdx.Load()
		if !wb.writeIdx.CompareAndSwap(idx, idx+1) {
			continue
		}
		chunk := wb.chunkFor(idx)
		chunk.buf[idx-chunk.start] = task
		return true
	}
	return false
}

// chunkFor returns the chunk that owns global write index idx, allocating
// and publishing a new chunk via CAS the first time idx crosses the current
// tail chunk's boundary.
func (wb *writeBuffer[K, V]) chunkFor(idx int64) *writeChunk[K, V] {
	for {
		cur := wb.tail.Load()
		if idx < cur.start+writeChunkSize {
			return cur
		}
		next := cur.next.Load()
		if next == nil {
			next = &writeChunk[K, V]{start: cur.start + writeChunkSize}
			if !cur.next.CompareAndSwap(nil, next) {
				next = cur.next.Load()
			}
		}
		wb.tail.CompareAndSwap(cur, next)
	}
}

// dequeue removes and returns the next task in FIFO order, or ok=false if
// none is available yet. Single-consumer only.
func (wb *writeBuffer[K, V]) dequeue() (writeTask[K, V], bool) {
	headTotal := wb.headTotal.Load()
	if headTotal >= wb.writeIdx.Load() {
		return writeTask[K, V]{}, false
	}
	offset := headTotal - wb.head.start
	if offset == writeChunkSize {
		next := wb.head.next.Load()
		if next == nil {
			return writeTask[K, V]{}, false
		}
		wb.head = next
		offset = 0
	}
	task := wb.head.buf[offset]
	wb.headTotal.Store(headTotal + 1)
	return task, true
}

// size is an instantaneous estimate of pending tasks, used only to gate
// producer backpressure, never for correctness.
func (wb *writeBuffer[K, V]) size() int64 {
	n := wb.writeIdx.Load() - wb.headTotal.Load()
	if n < 0 {
		return 0
	}
	return n
}

package wtlfu

import "testing"

func TestWriteBufferPreservesFIFOOrder(t *testing.T) {
	wb := newWriteBuffer[string, int](0)

	var nodes []*Node[string, int]
	for i := 0; i < 4; i++ {
		n := newNode[string, int]("k", i, uint64(i), 1, 0)
		nodes = append(nodes, n)
		if !wb.enqueue(writeTask[string, int]{kind: taskAdd, node: n}) {
			t.Fatalf("enqueue %d failed", i)
		}
	}

	for i := 0; i < 4; i++ {
		task, ok := wb.dequeue()
		if !ok {
			t.Fatalf("dequeue %d: queue empty early", i)
		}
		if task.node != nodes[i] {
			t.Errorf("dequeue order broken at %d: got value %d, want %d", i, task.node.value, nodes[i].value)
		}
	}
	if _, ok := wb.dequeue(); ok {
		t.Error("dequeue after draining should report ok=false")
	}
}

func TestWriteBufferGrowsPastOneChunk(t *testing.T) {
	wb := newWriteBuffer[int, int](0)
	const n = writeChunkSize*2 + 17 // forces at least two chunk boundaries

	for i := 0; i < n; i++ {
		node := newNode[int, int](i, i, uint64(i), 1, 0)
		if !wb.enqueue(writeTask[int, int]{kind: taskAdd, node: node}) {
			t.Fatalf("enqueue %d failed", i)
		}
	}
	for i := 0; i < n; i++ {
		task, ok := wb.dequeue()
		if !ok || task.node.value != i {
			t.Fatalf("dequeue %d = (value=%v, ok=%v); want (%d, true)", i, task.node.value, ok, i)
		}
	}
}

func TestWriteBufferBackpressureWhenFull(t *testing.T) {
	wb := newWriteBuffer[int, int](4)
	for i := 0; i < 4; i++ {
		node := newNode[int, int](i, i, uint64(i), 1, 0)
		if !wb.enqueue(writeTask[int, int]{kind: taskAdd, node: node}) {
			t.Fatalf("enqueue %d should have succeeded under capacity", i)
		}
	}
	overflow := newNode[int, int](4, 4, 4, 1, 0)
	if wb.enqueue(writeTask[int, int]{kind: taskAdd, node: overflow}) {
		t.Error("enqueue past maxCapacity should report backpressure (false)")
	}
}

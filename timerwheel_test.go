package wtlfu

import "testing"

func TestTimerWheelExpiresAtDeadline(t *testing.T) {
	tw := newTimerWheel[string, int]()
	tw.now = 0

	n := newNode[string, int]("k", 1, 1, 1, 0)
	n.variableTime = int64(2 * 1e9) // 2s deadline
	tw.schedule(n)

	expired, err := tw.advance(int64(1*1e9), nil)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(expired) != 0 {
		t.Fatalf("advance to 1s expired %d nodes; want 0 (deadline is at 2s)", len(expired))
	}

	expired, err = tw.advance(int64(3*1e9), expired[:0])
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(expired) != 1 || expired[0] != n {
		t.Fatalf("advance to 3s expired = %v; want [n]", expired)
	}
}

func TestTimerWheelCascadesAcrossLevels(t *testing.T) {
	tw := newTimerWheel[string, int]()
	tw.now = 0

	// A deadline beyond level 0's span schedules into a coarser level and
	// must still fire exactly once it is reached.
	n := newNode[string, int]("k", 1, 1, 1, 0)
	n.variableTime = wheelSpan[1] * 3
	tw.schedule(n)
	if n.wheelLevel == 0 {
		t.Fatalf("a deadline beyond level 0's span should not schedule into level 0")
	}

	expired, err := tw.advance(n.variableTime+1, nil)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(expired) != 1 || expired[0] != n {
		t.Fatalf("advance past deadline expired = %v; want [n]", expired)
	}
}

func TestTimerWheelDescheduleRemovesNode(t *testing.T) {
	tw := newTimerWheel[string, int]()
	n := newNode[string, int]("k", 1, 1, 1, 0)
	n.variableTime = int64(1e9)
	tw.schedule(n)
	if !n.inTimerWheel() {
		t.Fatal("node should be scheduled")
	}
	tw.deschedule(n)
	if n.inTimerWheel() {
		t.Error("node should not be scheduled after deschedule")
	}

	expired, err := tw.advance(int64(2*1e9), nil)
	if err != nil {
		t.Fatalf("advance: %v", err)
	}
	if len(expired) != 0 {
		t.Errorf("a descheduled node must never be returned as expired, got %v", expired)
	}
}

package wtlfu

import "sync/atomic"

// drainState is the C10 state machine coordinating when maintenance (C8)
// runs relative to concurrent readers/writers (spec.md §4.6).
type drainState int32

const (
	drainIdle drainState = iota
	drainRequired
	drainProcessingToIdle
	drainProcessingToRequired
)

// drainStatus tracks the current state and schedules maintenance runs.
type drainStatus struct {
	state atomic.Int32
}

func (d *drainStatus) get() drainState { return drainState(d.state.Load()) }

// scheduleIfNeeded is called after a writer enqueues into C3 (always must schedule)
// or a reader enqueues into C2 and is told bufFull (must schedule eagerly).
// run is invoked synchronously if this call wins the transition into
// drainProcessingToIdle; otherwise it may already be in flight.
func (d *drainStatus) scheduleIfNeeded(run func()) {
	for {
		switch d.get() {
		case drainIdle:
			if d.state.CompareAndSwap(int32(drainIdle), int32(drainProcessingToIdle)) {
				d.runAndSettle(run)
				return
			}
		case drainRequired:
			if d.state.CompareAndSwap(int32(drainRequired), int32(drainProcessingToIdle)) {
				d.runAndSettle(run)
				return
			}
		case drainProcessingToIdle:
			// Another goroutine is draining; mark that new work arrived so it
			// re-runs once more before going idle.
			if d.state.CompareAndSwap(int32(drainProcessingToIdle), int32(drainProcessingToRequired)) {
				return
			}
		default: // drainProcessingToRequired: already queued to re-run
			return
		}
	}
}

// runAndSettle executes run, then tries to settle back to idle; if new work
// arrived mid-run (state moved to drainProcessingToRequired), it reruns
// maintenance once more before retrying the idle transition.
func (d *drainStatus) runAndSettle(run func()) {
	for {
		run()
		if d.state.CompareAndSwap(int32(drainProcessingToIdle), int32(drainIdle)) {
			return
		}
		// Must be drainProcessingToRequired: loop back into processing.
		d.state.Store(int32(drainProcessingToIdle))
	}
}

// markRequired forces the state to drainRequired regardless of current
// state, used when a producer observes backpressure it wants to guarantee
// gets serviced even if a scheduleIfNeeded race drops it (defensive; never
// strictly required for correctness since write-buffer backpressure also
// triggers inline maintenance).
func (d *drainStatus) markRequired() {
	d.state.Store(int32(drainRequired))
}

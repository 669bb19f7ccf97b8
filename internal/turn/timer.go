package turn

import "time"

// Timer is a scoped one-shot timer whose callback runs on a [Dispatcher].
//
// Reset cancels any pending fire and schedules a new one in a single step.
// Every Reset or Stop bumps a generation counter. A fire is checked against
// the generation on the dispatcher's thread, so a callback superseded while
// its wake-up was already in flight never runs.
//
// Reset, Stop and Armed must be called from the dispatcher's thread.
type Timer struct {
	clock    Clock
	dispatch Dispatcher

	gen     uint64
	pending Stopper
}

// NewTimer returns a disarmed timer.
func NewTimer(clock Clock, dispatch Dispatcher) *Timer {
	return &Timer{clock: clock, dispatch: dispatch}
}

// Reset arms the timer to run fn after d, replacing any pending callback.
func (t *Timer) Reset(d time.Duration, fn func()) {
	t.Stop()
	gen := t.gen
	t.pending = t.clock.AfterFunc(d, func() {
		t.dispatch.Post(func() {
			if t.gen != gen || t.pending == nil {
				return
			}
			t.pending = nil
			fn()
		})
	})
}

// Stop disarms the timer. A callback already queued on the dispatcher is
// discarded when it runs.
func (t *Timer) Stop() {
	t.gen++
	if t.pending != nil {
		t.pending.Stop()
		t.pending = nil
	}
}

// Armed reports whether a callback is pending.
func (t *Timer) Armed() bool { return t.pending != nil }

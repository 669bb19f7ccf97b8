package turn_test

import (
	"testing"
	"time"

	"github.com/Askhat-cmd/voxturn/internal/turn"
	"github.com/Askhat-cmd/voxturn/internal/turn/mock"
)

// queued holds posted functions until the test flushes them, simulating a
// loop that is busy while a timer wake-up is in flight.
type queued struct{ fns []func() }

func (q *queued) Post(fn func()) bool {
	q.fns = append(q.fns, fn)
	return true
}

func (q *queued) flush() {
	fns := q.fns
	q.fns = nil
	for _, fn := range fns {
		fn()
	}
}

func TestTimer_ResetSupersedes(t *testing.T) {
	t.Parallel()

	clk := mock.NewClock(time.Unix(0, 0))
	tm := turn.NewTimer(clk, mock.Dispatcher{})

	var fired []string
	tm.Reset(100*time.Millisecond, func() { fired = append(fired, "first") })
	clk.Advance(50 * time.Millisecond)
	tm.Reset(100*time.Millisecond, func() { fired = append(fired, "second") })

	clk.Advance(60 * time.Millisecond)
	if len(fired) != 0 {
		t.Fatalf("fired = %v before the new deadline", fired)
	}
	clk.Advance(40 * time.Millisecond)
	if len(fired) != 1 || fired[0] != "second" {
		t.Fatalf("fired = %v, want [second]", fired)
	}
	if tm.Armed() {
		t.Error("timer still armed after firing")
	}
}

func TestTimer_Stop(t *testing.T) {
	t.Parallel()

	clk := mock.NewClock(time.Unix(0, 0))
	tm := turn.NewTimer(clk, mock.Dispatcher{})

	fired := false
	tm.Reset(time.Second, func() { fired = true })
	if !tm.Armed() {
		t.Fatal("timer not armed after Reset")
	}
	tm.Stop()
	clk.Advance(2 * time.Second)
	if fired {
		t.Error("stopped timer fired")
	}
	if clk.Pending() != 0 {
		t.Errorf("clock pending = %d, want 0", clk.Pending())
	}
}

func TestTimer_StaleFireInFlightIsDropped(t *testing.T) {
	t.Parallel()

	clk := mock.NewClock(time.Unix(0, 0))
	q := &queued{}
	tm := turn.NewTimer(clk, q)

	fired := 0
	tm.Reset(100*time.Millisecond, func() { fired++ })
	clk.Advance(100 * time.Millisecond)
	if len(q.fns) != 1 {
		t.Fatalf("posted = %d, want 1", len(q.fns))
	}

	// The loop stops the timer before it gets to the queued wake-up.
	tm.Stop()
	q.flush()
	if fired != 0 {
		t.Errorf("fired = %d after Stop, want 0", fired)
	}

	// Same race with a Reset in between: only the new callback may run.
	tm.Reset(100*time.Millisecond, func() { fired += 10 })
	clk.Advance(100 * time.Millisecond)
	tm.Reset(100*time.Millisecond, func() { fired += 100 })
	q.flush()
	if fired != 0 {
		t.Fatalf("fired = %d, superseded callback ran", fired)
	}
	clk.Advance(100 * time.Millisecond)
	q.flush()
	if fired != 100 {
		t.Errorf("fired = %d, want 100", fired)
	}
}

package turn

import "time"

// Clock is the time source for a session. Production code uses
// [SystemClock]; tests drive timers explicitly with a fake.
type Clock interface {
	Now() time.Time

	// AfterFunc calls f in its own goroutine after d has elapsed.
	AfterFunc(d time.Duration, f func()) Stopper
}

// Stopper cancels a callback scheduled with [Clock.AfterFunc]. Stop reports
// whether the call prevented the callback from running.
type Stopper interface {
	Stop() bool
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

func (systemClock) AfterFunc(d time.Duration, f func()) Stopper { return time.AfterFunc(d, f) }

// SystemClock returns a [Clock] backed by the time package.
func SystemClock() Clock { return systemClock{} }

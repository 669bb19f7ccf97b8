package turn

import (
	"context"
	"sync"
)

// loopBacklog is the number of events a [Loop] buffers before Post blocks.
const loopBacklog = 256

// Dispatcher serializes work onto a session's single logical thread.
type Dispatcher interface {
	// Post schedules fn to run after every previously posted function. It
	// returns false when the dispatcher no longer accepts work.
	Post(fn func()) bool
}

// Loop is a [Dispatcher] backed by one goroutine. Every posted function runs
// to completion before the next one starts, so state touched only from
// posted functions needs no locking.
type Loop struct {
	events   chan func()
	done     chan struct{}
	stopOnce sync.Once
}

var _ Dispatcher = (*Loop)(nil)

// NewLoop returns an idle loop. Call [Loop.Run] to start processing.
func NewLoop() *Loop {
	return &Loop{
		events: make(chan func(), loopBacklog),
		done:   make(chan struct{}),
	}
}

// Post enqueues fn. It blocks while the backlog is full and returns false
// once the loop has been stopped. Post must not be called from inside a
// posted function; call the handler directly instead.
func (l *Loop) Post(fn func()) bool {
	select {
	case <-l.done:
		return false
	default:
	}
	select {
	case l.events <- fn:
		return true
	case <-l.done:
		return false
	}
}

// Run processes events until ctx is cancelled or [Loop.Stop] is called.
// Events still queued at that point are discarded.
func (l *Loop) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			l.Stop()
			return
		case <-l.done:
			return
		case fn := <-l.events:
			fn()
		}
	}
}

// Stop makes the loop reject further events and ends Run. Safe to call
// multiple times and from inside a posted function.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.done) })
}

// Done is closed once the loop has been stopped.
func (l *Loop) Done() <-chan struct{} { return l.done }

// Package mock provides deterministic test doubles for the turn package.
//
// Clock and Dispatcher make timer-driven behaviour reproducible: a session
// built with both runs every handler synchronously on the test goroutine and
// fires timers only when the test calls [Clock.Advance].
//
// Example:
//
//	clk := mock.NewClock(time.Unix(0, 0))
//	p := &mock.Player{}
//	s := turn.New(turn.Config{Clock: clk, Dispatcher: mock.Dispatcher{}, Player: p})
//	s.PartialResult("hello there friend")
//	clk.Advance(1200 * time.Millisecond)
package mock

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/Askhat-cmd/voxturn/internal/turn"
)

// Dispatcher runs every posted function immediately on the caller's
// goroutine. It is only suitable for single-goroutine tests.
type Dispatcher struct{}

// Post runs fn and reports true.
func (Dispatcher) Post(fn func()) bool {
	fn()
	return true
}

var _ turn.Dispatcher = Dispatcher{}

// Clock is a manually advanced [turn.Clock].
type Clock struct {
	mu     sync.Mutex
	now    time.Time
	seq    int
	timers []*timer
}

type timer struct {
	c    *Clock
	when time.Time
	seq  int
	f    func()
	done bool
}

// NewClock returns a clock frozen at start.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns the current fake time.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc schedules f to run during a later Advance.
func (c *Clock) AfterFunc(d time.Duration, f func()) turn.Stopper {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	t := &timer{c: c, when: c.now.Add(d), seq: c.seq, f: f}
	c.timers = append(c.timers, t)
	return t
}

// Advance moves time forward by d, running due callbacks in deadline order
// on the calling goroutine. Callbacks scheduled by a callback run too if
// they fall due within d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	for {
		t := c.nextDue(target)
		if t == nil {
			break
		}
		t.done = true
		c.now = t.when
		c.mu.Unlock()
		t.f()
		c.mu.Lock()
	}
	c.now = target
	c.compact()
	c.mu.Unlock()
}

// Pending returns the number of scheduled, unfired callbacks.
func (c *Clock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.done {
			n++
		}
	}
	return n
}

func (c *Clock) nextDue(target time.Time) *timer {
	var due []*timer
	for _, t := range c.timers {
		if !t.done && !t.when.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].when.Equal(due[j].when) {
			return due[i].seq < due[j].seq
		}
		return due[i].when.Before(due[j].when)
	})
	return due[0]
}

func (c *Clock) compact() {
	live := c.timers[:0]
	for _, t := range c.timers {
		if !t.done {
			live = append(live, t)
		}
	}
	c.timers = live
}

func (t *timer) Stop() bool {
	t.c.mu.Lock()
	defer t.c.mu.Unlock()
	if t.done {
		return false
	}
	t.done = true
	return true
}

var _ turn.Clock = (*Clock)(nil)

// StartCall records a single invocation of Player.Start.
type StartCall struct {
	Text  string
	Voice turn.Voice
	ID    string
}

// Player is a recording [turn.Player]. Playbacks stay live until the test
// ends them with [Player.Finish] or [Player.Fail], or the code under test
// stops them.
type Player struct {
	mu sync.Mutex

	// StartErr, if non-nil, is returned from Start instead of starting a
	// playback.
	StartErr error

	// StopNotifies makes Stop deliver a PlaybackStopped event, like a real
	// driver that acknowledges interruption.
	StopNotifies bool

	// Calls records every successful Start in order.
	Calls []StartCall

	// Failed records the text of every refused Start in order.
	Failed []string

	live map[string]*Playback
	n    int
}

// Start records the call and returns a live playback.
func (p *Player) Start(text string, voice turn.Voice, notify func(turn.PlaybackEvent)) (turn.Playback, error) {
	p.mu.Lock()
	if p.StartErr != nil {
		err := p.StartErr
		p.Failed = append(p.Failed, text)
		p.mu.Unlock()
		return nil, err
	}
	p.n++
	pb := &Playback{id: fmt.Sprintf("pb-%d", p.n), text: text, notify: notify, player: p}
	if p.live == nil {
		p.live = make(map[string]*Playback)
	}
	p.live[pb.id] = pb
	p.Calls = append(p.Calls, StartCall{Text: text, Voice: voice, ID: pb.id})
	p.mu.Unlock()
	return pb, nil
}

// Texts returns the text of every started playback in order.
func (p *Player) Texts() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.Calls))
	for i, c := range p.Calls {
		out[i] = c.Text
	}
	return out
}

// Live returns the number of playbacks neither finished nor stopped.
func (p *Player) Live() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.live)
}

// Last returns the most recently started playback, or nil.
func (p *Player) Last() *Playback {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Calls) == 0 {
		return nil
	}
	id := p.Calls[len(p.Calls)-1].ID
	if pb, ok := p.live[id]; ok {
		return pb
	}
	return nil
}

// Finish completes the most recent live playback normally.
func (p *Player) Finish() { p.end(turn.PlaybackFinished) }

// Fail reports the most recent live playback as failed after start.
func (p *Player) Fail() { p.end(turn.PlaybackFailed) }

func (p *Player) end(ev turn.PlaybackEvent) {
	if pb := p.Last(); pb != nil {
		pb.Emit(ev)
	}
}

var _ turn.Player = (*Player)(nil)

// Playback is the handle returned by [Player.Start].
type Playback struct {
	id     string
	text   string
	notify func(turn.PlaybackEvent)
	player *Player

	mu    sync.Mutex
	stops int
}

// ID returns the playback identifier.
func (pb *Playback) ID() string { return pb.id }

// Text returns the sentence being played.
func (pb *Playback) Text() string { return pb.text }

// Stops returns how many times Stop was called.
func (pb *Playback) Stops() int {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	return pb.stops
}

// Stop ends the playback. Repeated calls only count.
func (pb *Playback) Stop() {
	pb.mu.Lock()
	pb.stops++
	pb.mu.Unlock()

	if !pb.release() {
		return
	}
	pb.player.mu.Lock()
	notifies := pb.player.StopNotifies
	pb.player.mu.Unlock()
	if notifies {
		pb.notify(turn.PlaybackStopped)
	}
}

// Emit delivers ev to the queue, even for a playback that already ended.
// Terminal events release the playback.
func (pb *Playback) Emit(ev turn.PlaybackEvent) {
	if ev.Terminal() {
		pb.release()
	}
	pb.notify(ev)
}

func (pb *Playback) release() bool {
	pb.player.mu.Lock()
	defer pb.player.mu.Unlock()
	if _, ok := pb.player.live[pb.id]; !ok {
		return false
	}
	delete(pb.player.live, pb.id)
	return true
}

var _ turn.Playback = (*Playback)(nil)

// Outbound is a recording [turn.Outbound].
type Outbound struct {
	mu     sync.Mutex
	sent   []string
	closes int

	// CloseErr is returned from Close.
	CloseErr error
}

// Send records text.
func (o *Outbound) Send(text string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sent = append(o.sent, text)
}

// Close records the call and returns CloseErr.
func (o *Outbound) Close() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.closes++
	return o.CloseErr
}

// Sent returns a copy of every sent text in order.
func (o *Outbound) Sent() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.sent...)
}

// Closes returns how many times Close was called.
func (o *Outbound) Closes() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closes
}

var _ turn.Outbound = (*Outbound)(nil)

// Recorder counts recordings by label.
type Recorder struct {
	mu          sync.Mutex
	Utterances  map[string]int
	Decisions   map[string]int
	Playbacks   map[string]int
	Failures    int
	Sentences   map[string]int
	LastPlayDur time.Duration
}

func (r *Recorder) inc(m *map[string]int, k string) {
	if *m == nil {
		*m = make(map[string]int)
	}
	(*m)[k]++
}

// RecordUtterance implements turn.Recorder.
func (r *Recorder) RecordUtterance(_ context.Context, verdict string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inc(&r.Utterances, verdict)
}

// RecordBargeInDecision implements turn.Recorder.
func (r *Recorder) RecordBargeInDecision(_ context.Context, decision string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inc(&r.Decisions, decision)
}

// RecordPlayback implements turn.Recorder.
func (r *Recorder) RecordPlayback(_ context.Context, event string, d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inc(&r.Playbacks, event)
	r.LastPlayDur = d
}

// RecordPlaybackFailure implements turn.Recorder.
func (r *Recorder) RecordPlaybackFailure(context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Failures++
}

// RecordReplySentence implements turn.Recorder.
func (r *Recorder) RecordReplySentence(_ context.Context, via string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.inc(&r.Sentences, via)
}

// Count returns the recorded count for key in the named family:
// "utterance", "decision", "playback" or "sentence".
func (r *Recorder) Count(family, key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch family {
	case "utterance":
		return r.Utterances[key]
	case "decision":
		return r.Decisions[key]
	case "playback":
		return r.Playbacks[key]
	case "sentence":
		return r.Sentences[key]
	}
	return 0
}

var _ turn.Recorder = (*Recorder)(nil)

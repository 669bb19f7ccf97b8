package turn_test

import (
	"errors"
	"slices"
	"testing"
	"time"

	"github.com/Askhat-cmd/voxturn/internal/turn"
	"github.com/Askhat-cmd/voxturn/internal/turn/mock"
)

type queueHarness struct {
	clk       *mock.Clock
	player    *mock.Player
	q         *turn.PlaybackQueue
	completed []turn.PlaybackEvent
	failed    []string
}

func newQueue(t *testing.T) *queueHarness {
	t.Helper()
	h := &queueHarness{
		clk:    mock.NewClock(time.Unix(0, 0)),
		player: &mock.Player{},
	}
	h.q = turn.NewPlaybackQueue(turn.PlaybackQueueConfig{
		Player:        h.player,
		Voice:         turn.Voice{Name: "alena"},
		Clock:         h.clk,
		Dispatcher:    mock.Dispatcher{},
		OnComplete:    func(ev turn.PlaybackEvent, _ time.Duration) { h.completed = append(h.completed, ev) },
		OnStartFailed: func(s string, _ error) { h.failed = append(h.failed, s) },
	})
	return h
}

func TestPlaybackQueue_FIFOSerialized(t *testing.T) {
	t.Parallel()
	h := newQueue(t)

	for _, s := range []string{"A", "B", "C"} {
		h.q.Enqueue(s)
	}
	if got := h.player.Texts(); !slices.Equal(got, []string{"A"}) {
		t.Fatalf("started %q, want only A", got)
	}
	if !h.q.Busy() || h.q.Len() != 2 {
		t.Fatalf("busy=%v len=%d, want busy with 2 pending", h.q.Busy(), h.q.Len())
	}

	// A "started" notification must not advance the queue.
	h.player.Last().Emit(turn.PlaybackStarted)
	if got := h.player.Texts(); len(got) != 1 {
		t.Fatalf("started %q after a started event", got)
	}

	h.player.Finish()
	if got := h.player.Texts(); !slices.Equal(got, []string{"A", "B"}) {
		t.Fatalf("started %q, want A then B", got)
	}
	if h.player.Live() != 1 {
		t.Fatalf("live playbacks = %d, want 1", h.player.Live())
	}

	h.player.Finish()
	h.player.Finish()
	if got := h.player.Texts(); !slices.Equal(got, []string{"A", "B", "C"}) {
		t.Fatalf("started %q, want A, B, C", got)
	}
	if h.q.Busy() || h.q.Current() != nil {
		t.Error("queue still busy after the last completion")
	}
	if len(h.completed) != 3 {
		t.Errorf("completions = %d, want 3", len(h.completed))
	}
	if v := h.player.Calls[0].Voice.Name; v != "alena" {
		t.Errorf("voice = %q, want alena", v)
	}
}

func TestPlaybackQueue_StartFailureDoesNotDeadlock(t *testing.T) {
	t.Parallel()
	h := newQueue(t)

	h.player.StartErr = errors.New("driver offline")
	h.q.Enqueue("A")
	h.q.Enqueue("B")
	if h.q.Busy() {
		t.Fatal("queue busy after start failures")
	}
	if !slices.Equal(h.failed, []string{"A", "B"}) {
		t.Fatalf("failed = %q", h.failed)
	}

	h.player.StartErr = nil
	h.q.Enqueue("C")
	if got := h.player.Texts(); !slices.Equal(got, []string{"C"}) {
		t.Errorf("started %q, want C", got)
	}
}

func TestPlaybackQueue_FailedEventActsAsCompletion(t *testing.T) {
	t.Parallel()
	h := newQueue(t)

	h.q.Enqueue("A")
	h.q.Enqueue("B")
	h.player.Fail()

	if got := h.player.Texts(); !slices.Equal(got, []string{"A", "B"}) {
		t.Errorf("started %q, want B after A failed", got)
	}
	if len(h.completed) != 1 || h.completed[0] != turn.PlaybackFailed {
		t.Errorf("completed = %v", h.completed)
	}
}

func TestPlaybackQueue_CancelAll(t *testing.T) {
	t.Parallel()
	h := newQueue(t)
	h.player.StopNotifies = true

	for _, s := range []string{"A", "B", "C"} {
		h.q.Enqueue(s)
	}
	pb := h.player.Last()

	if dropped := h.q.CancelAll(); dropped != 2 {
		t.Errorf("CancelAll() = %d, want 2", dropped)
	}
	if pb.Stops() != 1 {
		t.Errorf("Stop called %d times, want 1", pb.Stops())
	}
	if h.q.Busy() || h.q.Current() != nil || h.q.Len() != 0 {
		t.Fatalf("busy=%v current=%v len=%d after CancelAll", h.q.Busy(), h.q.Current(), h.q.Len())
	}
	if got := h.player.Texts(); len(got) != 1 {
		t.Errorf("started %q, the stop acknowledgement advanced the queue", got)
	}
	if len(h.completed) != 0 {
		t.Errorf("completed = %v, a cancelled playback was counted", h.completed)
	}

	// Idempotent on an idle queue.
	if dropped := h.q.CancelAll(); dropped != 0 {
		t.Errorf("second CancelAll() = %d, want 0", dropped)
	}
}

func TestPlaybackQueue_StaleCompletionIgnored(t *testing.T) {
	t.Parallel()
	h := newQueue(t)

	h.q.Enqueue("A")
	old := h.player.Last()
	h.q.CancelAll()

	h.q.Enqueue("B")
	// The driver reports the end of A late, while B plays.
	old.Emit(turn.PlaybackFinished)

	if !h.q.Busy() {
		t.Fatal("stale completion of A ended B")
	}
	if got := h.q.Current().ID(); got == old.ID() {
		t.Errorf("current = %q, still the cancelled playback", got)
	}
}

func TestPlaybackQueue_IgnoresEmpty(t *testing.T) {
	t.Parallel()
	h := newQueue(t)

	h.q.Enqueue("")
	if h.q.Busy() || len(h.player.Calls) != 0 {
		t.Error("empty sentence was played")
	}
}

func TestPlaybackQueue_StartedAt(t *testing.T) {
	t.Parallel()
	h := newQueue(t)

	if !h.q.StartedAt().IsZero() {
		t.Error("idle queue has a start time")
	}
	h.clk.Advance(time.Second)
	h.q.Enqueue("A")
	if got, want := h.q.StartedAt(), time.Unix(1, 0); !got.Equal(want) {
		t.Errorf("StartedAt() = %v, want %v", got, want)
	}
}

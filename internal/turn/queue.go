package turn

import (
	"log/slog"
	"time"
)

// PlaybackQueueConfig configures a [PlaybackQueue].
type PlaybackQueueConfig struct {
	Player     Player
	Voice      Voice
	Clock      Clock
	Dispatcher Dispatcher
	Logger     *slog.Logger

	// OnComplete is called once per playback that ended with a terminal
	// event while still current. d is measured from the start call.
	OnComplete func(ev PlaybackEvent, d time.Duration)

	// OnStartFailed is called when the driver refuses a sentence.
	OnStartFailed func(sentence string, err error)
}

// PlaybackQueue speaks sentences one at a time in enqueue order.
//
// Every started playback carries a token. Notifications are posted back to
// the dispatcher and dropped unless their token is still current, which
// makes completions of cancelled playbacks harmless. All methods must be
// called from the dispatcher's thread.
type PlaybackQueue struct {
	items     []string
	busy      bool
	current   Playback
	token     uint64
	startedAt time.Time

	player   Player
	voice    Voice
	clock    Clock
	dispatch Dispatcher
	log      *slog.Logger

	onComplete    func(PlaybackEvent, time.Duration)
	onStartFailed func(string, error)
}

// NewPlaybackQueue returns an idle queue.
func NewPlaybackQueue(cfg PlaybackQueueConfig) *PlaybackQueue {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	return &PlaybackQueue{
		player:        cfg.Player,
		voice:         cfg.Voice,
		clock:         cfg.Clock,
		dispatch:      cfg.Dispatcher,
		log:           cfg.Logger,
		onComplete:    cfg.OnComplete,
		onStartFailed: cfg.OnStartFailed,
	}
}

// Enqueue appends sentence and starts it if nothing is playing.
func (q *PlaybackQueue) Enqueue(sentence string) {
	if sentence == "" {
		return
	}
	q.items = append(q.items, sentence)
	q.drain()
}

// Busy reports whether a playback is live.
func (q *PlaybackQueue) Busy() bool { return q.busy }

// Current returns the live playback, or nil.
func (q *PlaybackQueue) Current() Playback { return q.current }

// StartedAt returns when the live playback was started. It is the zero time
// while idle.
func (q *PlaybackQueue) StartedAt() time.Time {
	if !q.busy {
		return time.Time{}
	}
	return q.startedAt
}

// Len returns the number of sentences waiting behind the live one.
func (q *PlaybackQueue) Len() int { return len(q.items) }

// SetVoice changes the voice used for sentences started from now on.
func (q *PlaybackQueue) SetVoice(v Voice) { q.voice = v }

// CancelAll stops the live playback and discards every pending sentence.
// It returns the number of sentences discarded, not counting the live one.
func (q *PlaybackQueue) CancelAll() int {
	dropped := len(q.items)
	q.items = nil
	q.token++
	if q.current != nil {
		q.current.Stop()
	}
	q.current = nil
	q.busy = false
	q.startedAt = time.Time{}
	return dropped
}

func (q *PlaybackQueue) drain() {
	for !q.busy && len(q.items) > 0 {
		text := q.items[0]
		q.items[0] = ""
		q.items = q.items[1:]

		q.token++
		tok := q.token
		q.busy = true
		q.startedAt = q.clock.Now()

		pb, err := q.player.Start(text, q.voice, func(ev PlaybackEvent) {
			q.dispatch.Post(func() { q.handle(tok, ev) })
		})
		if err != nil {
			q.log.Warn("playback start failed, skipping sentence", "err", err, "category", "playback")
			if q.onStartFailed != nil {
				q.onStartFailed(text, err)
			}
			if q.token == tok {
				q.busy = false
				q.startedAt = time.Time{}
			}
			continue
		}
		// notify may already have completed this playback synchronously.
		if q.token == tok && q.busy {
			q.current = pb
			q.log.Debug("playback started", "playback_id", pb.ID(), "pending", len(q.items))
		}
	}
}

func (q *PlaybackQueue) handle(tok uint64, ev PlaybackEvent) {
	if tok != q.token || !q.busy {
		return
	}
	if !ev.Terminal() {
		return
	}

	d := q.clock.Now().Sub(q.startedAt)
	q.busy = false
	q.current = nil
	q.startedAt = time.Time{}
	if ev == PlaybackFailed {
		q.log.Warn("playback failed after start", "category", "playback")
	}
	if q.onComplete != nil {
		q.onComplete(ev, d)
	}
	q.drain()
}

package turn

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/Askhat-cmd/voxturn/internal/normalize"
)

// ErrSessionClosed is returned by operations on a session that has been torn
// down.
var ErrSessionClosed = errors.New("turn: session closed")

// Capabilities declares which optional recognition events the source emits.
// The zero value describes a source that only sends partial results, which
// is served by finalize-on-silence alone.
type Capabilities struct {
	CaptureStarted bool
	InterimResult  bool
	CaptureStopped bool
}

// Outbound is the backend side of a session.
type Outbound interface {
	// Send queues text for the backend. It never blocks and reports
	// problems through its own logging.
	Send(text string)

	Close() error
}

// Config configures a [Session]. Zero durations select the package
// defaults.
type Config struct {
	ID           string
	CallerID     string
	Capabilities Capabilities
	Voice        Voice

	InputSilence     time.Duration
	TailFlush        time.Duration
	BargeInGuard     time.Duration
	SpeakingDebounce time.Duration
	Policy           Policy
	Delimiter        string

	Normalizer normalize.Normalizer
	Player     Player

	// Clock defaults to [SystemClock].
	Clock Clock

	// Dispatcher, when set, replaces the session's own [Loop]. Tests use a
	// synchronous dispatcher together with a fake clock.
	Dispatcher Dispatcher

	// Context is attached to metric recordings. It usually carries the
	// session span.
	Context context.Context

	Logger   *slog.Logger
	Recorder Recorder

	// OnClose runs on the session's thread after teardown.
	OnClose func(reason string)
}

// Snapshot is a point-in-time view of a session.
type Snapshot struct {
	ID           string
	CallerID     string
	Ready        bool
	Closed       bool
	Pending      string
	LastSent     string
	ReplyPending string
	Speaking     bool
	PlaybackID   string
	Queued       int
	LastSpeech   time.Time
}

// Session coordinates one call. Every exported method is safe for
// concurrent use: it posts the work onto the session's loop, and all turn
// state is touched only from there.
type Session struct {
	id       string
	callerID string
	caps     Capabilities

	loop     *Loop
	dispatch Dispatcher
	ctx      context.Context
	log      *slog.Logger
	rec      Recorder
	onClose  func(string)
	done     chan struct{}

	// Owned by the loop.
	asm     *Assembler
	reply   *ReplyBuffer
	queue   *PlaybackQueue
	arbiter *Arbiter
	out     Outbound
	ready   bool
	closed  bool
}

// New builds a session. Call [Session.Run] to start its loop unless
// cfg.Dispatcher is set.
func New(cfg Config) *Session {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Context == nil {
		cfg.Context = context.Background()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Recorder == nil {
		cfg.Recorder = nopRecorder{}
	}

	s := &Session{
		id:       cfg.ID,
		callerID: cfg.CallerID,
		caps:     cfg.Capabilities,
		dispatch: cfg.Dispatcher,
		ctx:      cfg.Context,
		log:      cfg.Logger.With("session_id", cfg.ID, "caller_id", cfg.CallerID),
		rec:      cfg.Recorder,
		onClose:  cfg.OnClose,
		done:     make(chan struct{}),
	}
	if s.dispatch == nil {
		s.loop = NewLoop()
		s.dispatch = s.loop
	}

	s.queue = NewPlaybackQueue(PlaybackQueueConfig{
		Player:        cfg.Player,
		Voice:         cfg.Voice,
		Clock:         cfg.Clock,
		Dispatcher:    s.dispatch,
		Logger:        s.log,
		OnComplete:    s.playbackDone,
		OnStartFailed: func(string, error) { s.rec.RecordPlaybackFailure(s.ctx) },
	})
	s.arbiter = NewArbiter(ArbiterConfig{
		Queue:            s.queue,
		Clock:            cfg.Clock,
		Policy:           cfg.Policy,
		Guard:            cfg.BargeInGuard,
		SpeakingDebounce: cfg.SpeakingDebounce,
		Logger:           s.log,
	})
	s.reply = NewReplyBuffer(ReplyBufferConfig{
		Timer:     NewTimer(cfg.Clock, s.dispatch),
		TailFlush: cfg.TailFlush,
		Delimiter: cfg.Delimiter,
		Emit:      s.emitSentence,
	})
	s.asm = NewAssembler(AssemblerConfig{
		Timer:      NewTimer(cfg.Clock, s.dispatch),
		Silence:    cfg.InputSilence,
		Normalizer: cfg.Normalizer,
		Forwarder:  (*forwarder)(s),
		OnFinalize: s.finalized,
	})
	return s
}

// ID returns the session identifier.
func (s *Session) ID() string { return s.id }

// CallerID returns the caller identifier.
func (s *Session) CallerID() string { return s.callerID }

// Done is closed after teardown.
func (s *Session) Done() <-chan struct{} { return s.done }

// Run processes events until the session is closed. Cancelling ctx closes
// the session. With an external dispatcher Run only waits for teardown.
func (s *Session) Run(ctx context.Context) {
	stop := context.AfterFunc(ctx, func() { s.Close("context cancelled") })
	defer stop()

	if s.loop == nil {
		<-s.done
		return
	}
	s.loop.Run(context.WithoutCancel(ctx))
}

// Bind attaches the backend channel. Sends before Bind are dropped.
func (s *Session) Bind(out Outbound) {
	s.post(func() {
		if s.closed {
			_ = out.Close()
			return
		}
		s.out = out
	})
}

// Close tears the session down: timers are cancelled, playback stopped, the
// queue and buffers cleared and the channel closed. Repeated calls are no-ops.
func (s *Session) Close(reason string) {
	s.post(func() { s.teardown(reason) })
}

// PartialResult delivers a recognition update.
func (s *Session) PartialResult(text string) {
	s.post(func() {
		if s.closed {
			return
		}
		before := s.asm.Pending()
		if s.asm.OnPartialResult(text) {
			s.arbitrate(SignalFirstPartial)
		} else if s.arbiter.Speaking() && s.asm.Pending() != before {
			// The transcript grew while the agent talks.
			s.arbitrate(SignalPartial)
		}
	})
}

// Interim delivers an interim hypothesis. It is only a barge-in signal and
// never contributes text to the utterance.
func (s *Session) Interim(text string) {
	s.post(func() {
		if s.closed || text == "" {
			return
		}
		if !s.caps.InterimResult {
			s.log.Debug("interim result from source without declared capability")
		}
		s.arbitrate(SignalInterim)
	})
}

// CaptureStarted reports speech onset.
func (s *Session) CaptureStarted() {
	s.post(func() {
		if s.closed {
			return
		}
		if !s.caps.CaptureStarted {
			s.log.Debug("capture started from source without declared capability")
		}
		s.arbitrate(SignalCaptureStarted)
	})
}

// CaptureStopped finalizes the current utterance immediately.
func (s *Session) CaptureStopped() {
	s.post(func() {
		if s.closed {
			return
		}
		if !s.caps.CaptureStopped {
			s.log.Debug("capture stopped from source without declared capability")
		}
		s.asm.OnCaptureStopped()
	})
}

// OnReady marks the backend channel usable.
func (s *Session) OnReady() {
	s.post(func() {
		if s.closed {
			return
		}
		s.ready = true
		s.log.Info("backend channel ready")
	})
}

// OnFragment delivers a piece of the backend's streamed reply.
func (s *Session) OnFragment(text string) {
	ok := s.post(func() {
		if s.closed {
			s.log.Warn("reply fragment after close dropped", "category", "transient")
			return
		}
		s.reply.OnFragment(text)
	})
	if !ok {
		s.log.Warn("reply fragment after close dropped", "category", "transient")
	}
}

// OnClosed marks the backend channel unusable. Queued playback keeps going.
func (s *Session) OnClosed(err error) {
	s.post(func() {
		if s.closed {
			return
		}
		s.ready = false
		if err != nil {
			s.log.Warn("backend channel closed", "err", err, "category", "transient")
			return
		}
		s.log.Info("backend channel closed")
	})
}

// Snapshot returns the session state as seen from its loop.
func (s *Session) Snapshot(ctx context.Context) (Snapshot, error) {
	ch := make(chan Snapshot, 1)
	if !s.post(func() { ch <- s.snapshot() }) {
		return Snapshot{}, ErrSessionClosed
	}
	select {
	case snap := <-ch:
		return snap, nil
	case <-s.done:
		select {
		case snap := <-ch:
			return snap, nil
		default:
			return Snapshot{}, ErrSessionClosed
		}
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

func (s *Session) snapshot() Snapshot {
	snap := Snapshot{
		ID:           s.id,
		CallerID:     s.callerID,
		Ready:        s.ready,
		Closed:       s.closed,
		Pending:      s.asm.Pending(),
		LastSent:     s.asm.LastSent(),
		ReplyPending: s.reply.Pending(),
		Speaking:     s.arbiter.Speaking(),
		Queued:       s.queue.Len(),
		LastSpeech:   s.arbiter.LastSpeech(),
	}
	if pb := s.queue.Current(); pb != nil {
		snap.PlaybackID = pb.ID()
	}
	return snap
}

func (s *Session) post(fn func()) bool {
	return s.dispatch.Post(fn)
}

func (s *Session) arbitrate(sig Signal) {
	r := s.arbiter.Signal(sig)
	s.rec.RecordBargeInDecision(s.ctx, string(r.Decision))
	if r.Decision == DecisionBargeIn {
		s.reply.Clear()
	}
}

func (s *Session) finalized(o Outcome) {
	s.reply.Clear()
	s.rec.RecordUtterance(s.ctx, string(o.Verdict))

	switch o.Verdict {
	case VerdictForwarded:
		s.arbiter.ObserveSpeech()
		s.log.Info("utterance forwarded", "text", o.Text, "trigger", string(o.Trigger))
	case VerdictNotReady:
		s.log.Warn("utterance dropped, backend not ready",
			"text", o.Text, "trigger", string(o.Trigger), "category", "transient")
	default:
		s.log.Debug("utterance suppressed",
			"raw", o.Raw, "text", o.Text, "verdict", string(o.Verdict), "category", "suppressed")
	}
}

func (s *Session) emitSentence(sentence string, via Via) {
	s.rec.RecordReplySentence(s.ctx, string(via))
	s.queue.Enqueue(sentence)
}

func (s *Session) playbackDone(ev PlaybackEvent, d time.Duration) {
	s.rec.RecordPlayback(s.ctx, ev.String(), d)
	if ev == PlaybackFailed {
		s.rec.RecordPlaybackFailure(s.ctx)
	}
}

func (s *Session) teardown(reason string) {
	if s.closed {
		return
	}
	s.closed = true
	s.ready = false

	s.asm.Reset()
	s.reply.Clear()
	dropped := s.queue.CancelAll()
	s.arbiter.Close()

	if s.out != nil {
		if err := s.out.Close(); err != nil {
			s.log.Warn("closing backend channel", "err", err)
		}
	}
	s.log.Info("session closed", "reason", reason, "dropped", dropped)

	close(s.done)
	if s.loop != nil {
		s.loop.Stop()
	}
	if s.onClose != nil {
		s.onClose(reason)
	}
}

// forwarder adapts the session to the [Forwarder] the assembler expects.
type forwarder Session

func (f *forwarder) Ready() bool { return f.ready && f.out != nil }

func (f *forwarder) Forward(text string) { f.out.Send(text) }

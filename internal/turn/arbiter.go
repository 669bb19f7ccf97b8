package turn

import (
	"fmt"
	"log/slog"
	"time"
)

// Default guard windows.
const (
	DefaultBargeInGuard     = 400 * time.Millisecond
	DefaultSpeakingDebounce = 700 * time.Millisecond
)

// Policy selects which guard window protects a fresh playback from
// self-echo.
type Policy string

const (
	// PolicyGuard ignores signals until the barge-in guard has elapsed
	// since playback start.
	PolicyGuard Policy = "guard"

	// PolicySpeakingDebounce ignores signals until the speaking debounce
	// has elapsed since playback start.
	PolicySpeakingDebounce Policy = "speaking_debounce"

	// PolicyStrict ignores signals while either window is open.
	PolicyStrict Policy = "strict"
)

// IsValid reports whether p names a known policy.
func (p Policy) IsValid() bool {
	switch p {
	case PolicyGuard, PolicySpeakingDebounce, PolicyStrict:
		return true
	}
	return false
}

// ParsePolicy converts a configuration value to a [Policy]. The empty
// string selects [PolicyGuard].
func ParsePolicy(s string) (Policy, error) {
	if s == "" {
		return PolicyGuard, nil
	}
	p := Policy(s)
	if !p.IsValid() {
		return "", fmt.Errorf("turn: unknown barge-in policy %q", s)
	}
	return p, nil
}

// Signal is a candidate interruption source.
type Signal string

const (
	SignalCaptureStarted Signal = "capture_started"
	SignalFirstPartial   Signal = "first_partial"
	SignalPartial        Signal = "partial"
	SignalInterim        Signal = "interim"
)

// Decision is the arbiter's answer to one signal.
type Decision string

const (
	// DecisionIdle means nothing was playing.
	DecisionIdle Decision = "idle"

	// DecisionEcho means the signal arrived inside the guard window and was
	// ignored.
	DecisionEcho Decision = "echo"

	// DecisionBargeIn means playback was stopped and the queue discarded.
	DecisionBargeIn Decision = "barge_in"

	// DecisionClosed means the arbiter no longer acts on signals.
	DecisionClosed Decision = "closed"
)

// Ruling records one arbiter decision.
type Ruling struct {
	Decision Decision
	Signal   Signal

	// Elapsed is the time since playback start. Zero unless a playback
	// was live.
	Elapsed time.Duration

	// Dropped is the number of queued sentences discarded by a barge-in.
	Dropped int
}

// ArbiterConfig configures an [Arbiter].
type ArbiterConfig struct {
	Queue            *PlaybackQueue
	Clock            Clock
	Policy           Policy
	Guard            time.Duration
	SpeakingDebounce time.Duration
	Logger           *slog.Logger
}

// Arbiter decides whether caller speech during playback is a genuine
// interruption or the agent's own voice leaking back into the microphone.
// Its state is derived from the queue on every signal. All methods must be
// called from the dispatcher's thread.
type Arbiter struct {
	queue    *PlaybackQueue
	clock    Clock
	policy   Policy
	guard    time.Duration
	debounce time.Duration
	log      *slog.Logger

	lastSpeech time.Time
	closed     bool
}

// NewArbiter returns an arbiter bound to queue.
func NewArbiter(cfg ArbiterConfig) *Arbiter {
	if cfg.Clock == nil {
		cfg.Clock = SystemClock()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !cfg.Policy.IsValid() {
		cfg.Policy = PolicyGuard
	}
	if cfg.Guard <= 0 {
		cfg.Guard = DefaultBargeInGuard
	}
	if cfg.SpeakingDebounce <= 0 {
		cfg.SpeakingDebounce = DefaultSpeakingDebounce
	}
	return &Arbiter{
		queue:    cfg.Queue,
		clock:    cfg.Clock,
		policy:   cfg.Policy,
		guard:    cfg.Guard,
		debounce: cfg.SpeakingDebounce,
		log:      cfg.Logger,
	}
}

// Window returns the effective echo window for the configured policy.
func (a *Arbiter) Window() time.Duration {
	switch a.policy {
	case PolicySpeakingDebounce:
		return a.debounce
	case PolicyStrict:
		return max(a.guard, a.debounce)
	default:
		return a.guard
	}
}

// Speaking reports whether a playback is live.
func (a *Arbiter) Speaking() bool { return !a.closed && a.queue.Busy() }

// Signal evaluates one candidate interruption.
func (a *Arbiter) Signal(sig Signal) Ruling {
	r := Ruling{Signal: sig}
	switch {
	case a.closed:
		r.Decision = DecisionClosed
		return r
	case !a.queue.Busy():
		r.Decision = DecisionIdle
		return r
	}

	r.Elapsed = a.clock.Now().Sub(a.queue.StartedAt())
	if r.Elapsed < a.Window() {
		r.Decision = DecisionEcho
		a.log.Debug("speech during guard window ignored",
			"signal", string(sig), "elapsed", r.Elapsed, "policy", string(a.policy))
		return r
	}

	var id string
	if pb := a.queue.Current(); pb != nil {
		id = pb.ID()
	}
	r.Dropped = a.queue.CancelAll()
	r.Decision = DecisionBargeIn
	a.log.Info("barge-in, playback interrupted",
		"signal", string(sig), "elapsed", r.Elapsed, "playback_id", id, "dropped", r.Dropped)
	return r
}

// ObserveSpeech records that a user utterance was forwarded.
func (a *Arbiter) ObserveSpeech() { a.lastSpeech = a.clock.Now() }

// LastSpeech returns when a user utterance was last forwarded.
func (a *Arbiter) LastSpeech() time.Time { return a.lastSpeech }

// Close makes every later signal a no-op.
func (a *Arbiter) Close() { a.closed = true }

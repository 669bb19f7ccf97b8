package turn

import (
	"strings"
	"time"

	"github.com/Askhat-cmd/voxturn/internal/normalize"
)

// DefaultInputSilence is the quiet period after the last partial result
// that ends a user turn.
const DefaultInputSilence = 1200 * time.Millisecond

// Verdict is the result of finalizing an utterance.
type Verdict string

const (
	VerdictForwarded      Verdict = "forwarded"
	VerdictEmpty          Verdict = "empty"
	VerdictNotReady       Verdict = "not_ready"
	VerdictDuplicate      Verdict = "duplicate"
	VerdictNonInformative Verdict = "non_informative"
)

// Trigger names what ended a user turn.
type Trigger string

const (
	TriggerSilence        Trigger = "silence"
	TriggerCaptureStopped Trigger = "capture_stopped"
)

// Outcome describes one finalized utterance.
type Outcome struct {
	Raw     string
	Text    string
	Verdict Verdict
	Trigger Trigger
}

// Forwarder is the outbound side seen by the [Assembler].
type Forwarder interface {
	Ready() bool
	Forward(text string)
}

// AssemblerConfig configures an [Assembler].
type AssemblerConfig struct {
	Timer      *Timer
	Silence    time.Duration
	Normalizer normalize.Normalizer
	Forwarder  Forwarder

	// OnFinalize is called after every finalize, forwarded or not.
	OnFinalize func(Outcome)
}

// Assembler builds one utterance from a stream of partial recognition
// results and finalizes it after a silence window or an explicit stop.
// It is not safe for concurrent use; a session drives it from its loop.
type Assembler struct {
	buf      string
	lastSent string

	timer      *Timer
	silence    time.Duration
	norm       normalize.Normalizer
	fwd        Forwarder
	onFinalize func(Outcome)
}

// NewAssembler returns an empty assembler.
func NewAssembler(cfg AssemblerConfig) *Assembler {
	if cfg.Silence <= 0 {
		cfg.Silence = DefaultInputSilence
	}
	if cfg.Normalizer == nil {
		cfg.Normalizer = normalize.Passthrough{}
	}
	return &Assembler{
		timer:      cfg.Timer,
		silence:    cfg.Silence,
		norm:       cfg.Normalizer,
		fwd:        cfg.Forwarder,
		onFinalize: cfg.OnFinalize,
	}
}

// OnPartialResult merges a recognition update into the buffer and re-arms
// the silence window. A growth of the buffer replaces it, a prefix of it is
// a downward revision and is ignored, and anything else is appended.
// It reports whether text opened a new turn. Blank text is ignored.
func (a *Assembler) OnPartialResult(text string) (first bool) {
	txt := strings.TrimSpace(text)
	if txt == "" {
		return false
	}

	first = a.buf == ""
	switch {
	case first:
		a.buf = txt
	case strings.HasPrefix(txt, a.buf):
		a.buf = txt
	case strings.HasPrefix(a.buf, txt):
	default:
		a.buf = collapseSpaces(a.buf + " " + txt)
	}

	a.timer.Reset(a.silence, func() { a.finalize(TriggerSilence) })
	return first
}

// OnCaptureStopped finalizes the current buffer immediately. It reports
// false when there was nothing to finalize.
func (a *Assembler) OnCaptureStopped() bool {
	if a.buf == "" {
		return false
	}
	a.finalize(TriggerCaptureStopped)
	return true
}

// Pending returns the text collected so far in the current turn.
func (a *Assembler) Pending() string { return a.buf }

// LastSent returns the most recently forwarded utterance.
func (a *Assembler) LastSent() string { return a.lastSent }

// Reset drops the current turn without finalizing it.
func (a *Assembler) Reset() {
	a.timer.Stop()
	a.buf = ""
}

func (a *Assembler) finalize(trigger Trigger) {
	a.timer.Stop()
	raw := a.buf
	a.buf = ""

	out := Outcome{
		Raw:     raw,
		Text:    strings.TrimSpace(a.norm.Normalize(strings.TrimSpace(raw))),
		Trigger: trigger,
	}
	switch {
	case out.Text == "":
		out.Verdict = VerdictEmpty
	case !a.fwd.Ready():
		out.Verdict = VerdictNotReady
	case out.Text == a.lastSent:
		out.Verdict = VerdictDuplicate
	case !a.norm.IsInformative(out.Text):
		out.Verdict = VerdictNonInformative
	default:
		a.fwd.Forward(out.Text)
		a.lastSent = out.Text
		out.Verdict = VerdictForwarded
	}

	if a.onFinalize != nil {
		a.onFinalize(out)
	}
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

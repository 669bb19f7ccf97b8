package turn

import (
	"strings"
	"time"
)

const (
	// DefaultTailFlush is the quiet period after which an undelimited
	// reply remainder is spoken anyway.
	DefaultTailFlush = 200 * time.Millisecond

	// DefaultDelimiter separates sentences in the backend's reply stream.
	DefaultDelimiter = "|"
)

// Via names how a reply sentence was cut from the stream.
type Via string

const (
	ViaDelimiter Via = "delimiter"
	ViaTail      Via = "tail"
)

// ReplyBufferConfig configures a [ReplyBuffer].
type ReplyBufferConfig struct {
	Timer     *Timer
	TailFlush time.Duration
	Delimiter string

	// Emit receives every cleaned, non-empty sentence in stream order.
	Emit func(sentence string, via Via)
}

// ReplyBuffer turns a stream of reply fragments into whole sentences.
// It is not safe for concurrent use; a session drives it from its loop.
type ReplyBuffer struct {
	buf string

	timer *Timer
	tail  time.Duration
	delim string
	emit  func(string, Via)

	cleaner *strings.Replacer
}

// NewReplyBuffer returns an empty buffer.
func NewReplyBuffer(cfg ReplyBufferConfig) *ReplyBuffer {
	if cfg.TailFlush <= 0 {
		cfg.TailFlush = DefaultTailFlush
	}
	if cfg.Delimiter == "" {
		cfg.Delimiter = DefaultDelimiter
	}
	return &ReplyBuffer{
		timer:   cfg.Timer,
		tail:    cfg.TailFlush,
		delim:   cfg.Delimiter,
		emit:    cfg.Emit,
		cleaner: newCleaner(cfg.Delimiter),
	}
}

// newCleaner replaces every rune of the delimiter and markup asterisks with
// a space.
func newCleaner(delim string) *strings.Replacer {
	seen := map[rune]bool{'*': true}
	pairs := []string{"*", " "}
	for _, r := range delim {
		if !seen[r] {
			seen[r] = true
			pairs = append(pairs, string(r), " ")
		}
	}
	return strings.NewReplacer(pairs...)
}

// OnFragment appends text and emits every complete sentence. A remaining
// undelimited tail re-arms the flush timer; an empty remainder disarms it.
func (r *ReplyBuffer) OnFragment(text string) {
	if text == "" {
		return
	}
	r.buf += text

	for {
		i := strings.Index(r.buf, r.delim)
		if i < 0 {
			break
		}
		sentence := r.clean(r.buf[:i])
		r.buf = r.buf[i+len(r.delim):]
		if sentence != "" {
			r.emit(sentence, ViaDelimiter)
		}
	}

	if r.buf == "" {
		r.timer.Stop()
		return
	}
	r.timer.Reset(r.tail, r.flush)
}

// Pending returns the undelimited remainder.
func (r *ReplyBuffer) Pending() string { return r.buf }

// Clear drops the remainder and disarms the flush timer.
func (r *ReplyBuffer) Clear() {
	r.timer.Stop()
	r.buf = ""
}

func (r *ReplyBuffer) flush() {
	tail := r.clean(r.buf)
	r.buf = ""
	if tail != "" {
		r.emit(tail, ViaTail)
	}
}

// clean strips delimiter and markup characters and collapses whitespace.
func (r *ReplyBuffer) clean(s string) string {
	return collapseSpaces(r.cleaner.Replace(s))
}

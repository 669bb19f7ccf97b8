// Package normalize maps raw recognizer output onto a canonical written form
// and decides whether an utterance carries enough information to be worth
// forwarding to the dialogue backend.
//
// The default implementation, [Lexicon], applies an ordered table of
// case-insensitive regex rules (units, product names, punctuation cleanup),
// optionally snaps near-miss tokens onto a known vocabulary, and repeats the
// whole pass until the text reaches a fixed point. A [Lexicon] is immutable
// after construction and safe for concurrent use by any number of sessions.
package normalize

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// maxPasses caps the fixed-point iteration in [Lexicon.Normalize].
const maxPasses = 8

// Normalizer is the text collaborator consulted by the turn engine before an
// utterance is forwarded.
type Normalizer interface {
	// Normalize returns the canonical form of text.
	Normalize(text string) string

	// IsInformative reports whether text is worth forwarding.
	IsInformative(text string) bool
}

// Rule is a single rewrite in the lexicon table.
type Rule struct {
	// Pattern is an RE2 expression. It is always matched case-insensitively.
	Pattern string

	// Replace is the literal replacement text.
	Replace string

	// Word restricts matches to whole words. The boundary test is
	// Unicode-aware, so Cyrillic tokens are bounded correctly.
	Word bool
}

type compiledRule struct {
	re   *regexp.Regexp
	repl string
	word bool
}

func compileRule(r Rule) (compiledRule, error) {
	re, err := regexp.Compile("(?i)" + r.Pattern)
	if err != nil {
		return compiledRule{}, fmt.Errorf("normalize: compile rule %q: %w", r.Pattern, err)
	}
	return compiledRule{re: re, repl: r.Replace, word: r.Word}, nil
}

// apply rewrites every match of the rule in s. Word rules only accept matches
// that sit on a word boundary at both ends; a rejected candidate restarts the
// search one rune later so that overlapping candidates are not skipped.
func (c compiledRule) apply(s string) string {
	if !c.word {
		return c.re.ReplaceAllLiteralString(s, c.repl)
	}

	var b strings.Builder
	copied, from := 0, 0
	for from < len(s) {
		loc := c.re.FindStringIndex(s[from:])
		if loc == nil {
			break
		}
		start, end := from+loc[0], from+loc[1]
		if end > start && isBoundary(s, start) && isBoundary(s, end) {
			b.WriteString(s[copied:start])
			b.WriteString(c.repl)
			copied, from = end, end
			continue
		}
		_, size := utf8.DecodeRuneInString(s[start:])
		if size == 0 {
			break
		}
		from = start + size
	}
	if copied == 0 {
		return s
	}
	b.WriteString(s[copied:])
	return b.String()
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

// isBoundary reports whether byte offset i in s separates a word rune from a
// non-word rune (or the start/end of the string).
func isBoundary(s string, i int) bool {
	before, after := false, false
	if i > 0 {
		r, _ := utf8.DecodeLastRuneInString(s[:i])
		before = isWordRune(r)
	}
	if i < len(s) {
		r, _ := utf8.DecodeRuneInString(s[i:])
		after = isWordRune(r)
	}
	return before != after
}

// Option configures a [Lexicon].
type Option func(*lexiconOptions)

type lexiconOptions struct {
	rules      []Rule
	extra      []Rule
	gate       *Gate
	vocabulary []string
	threshold  float64
	minLength  int
}

// WithRules replaces the built-in rule table.
func WithRules(rules []Rule) Option {
	return func(o *lexiconOptions) { o.rules = rules }
}

// WithExtraRules adds rules ahead of the built-in table, so they see the
// text before any built-in rewrite.
func WithExtraRules(rules ...Rule) Option {
	return func(o *lexiconOptions) { o.extra = append(o.extra, rules...) }
}

// WithGate sets the informativeness gate. Default: [DefaultGate].
func WithGate(g *Gate) Option {
	return func(o *lexiconOptions) { o.gate = g }
}

// WithVocabulary enables snapping of misrecognized tokens onto entries.
// Tokens shorter than minLength runes are never snapped. A threshold or
// minLength of zero selects the default (0.92 and 6).
func WithVocabulary(entries []string, threshold float64, minLength int) Option {
	return func(o *lexiconOptions) {
		o.vocabulary = entries
		o.threshold = threshold
		o.minLength = minLength
	}
}

// Lexicon is the rule-table [Normalizer].
type Lexicon struct {
	rules []compiledRule
	vocab *vocabulary
	gate  *Gate
}

var _ Normalizer = (*Lexicon)(nil)

// New compiles a [Lexicon]. It fails only when a supplied rule pattern does
// not compile.
func New(opts ...Option) (*Lexicon, error) {
	o := lexiconOptions{rules: DefaultRules()}
	for _, opt := range opts {
		opt(&o)
	}

	all := make([]Rule, 0, len(o.rules)+len(o.extra))
	all = append(all, o.extra...)
	all = append(all, o.rules...)

	l := &Lexicon{gate: o.gate}
	for _, r := range all {
		c, err := compileRule(r)
		if err != nil {
			return nil, err
		}
		l.rules = append(l.rules, c)
	}
	if l.gate == nil {
		l.gate = DefaultGate()
	}
	if len(o.vocabulary) > 0 {
		l.vocab = newVocabulary(o.vocabulary, o.threshold, o.minLength)
	}
	return l, nil
}

// MustNew is like [New] but panics on error. Intended for the built-in table
// and tests.
func MustNew(opts ...Option) *Lexicon {
	l, err := New(opts...)
	if err != nil {
		panic(err)
	}
	return l
}

// Normalize applies the rule table until the text stops changing.
// Normalize(Normalize(x)) == Normalize(x) for every input that converges
// within the pass limit, which covers the built-in table.
func (l *Lexicon) Normalize(text string) string {
	cur := strings.TrimSpace(text)
	if cur == "" {
		return ""
	}
	for range maxPasses {
		next := strings.TrimSpace(l.pass(cur))
		if next == cur {
			break
		}
		cur = next
	}
	return cur
}

func (l *Lexicon) pass(s string) string {
	for _, r := range l.rules {
		s = r.apply(s)
	}
	if l.vocab != nil {
		s = l.vocab.snap(s)
	}
	return s
}

// IsInformative delegates to the configured [Gate].
func (l *Lexicon) IsInformative(text string) bool {
	return l.gate.Accept(text)
}

// Passthrough is a [Normalizer] that only collapses whitespace. It keeps the
// informativeness gate so that filler suppression still works when the
// lexicon is disabled.
type Passthrough struct {
	Gate *Gate
}

var _ Normalizer = Passthrough{}

// Normalize collapses runs of whitespace and trims.
func (p Passthrough) Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// IsInformative delegates to p.Gate, or [DefaultGate] when unset.
func (p Passthrough) IsInformative(text string) bool {
	g := p.Gate
	if g == nil {
		g = DefaultGate()
	}
	return g.Accept(text)
}

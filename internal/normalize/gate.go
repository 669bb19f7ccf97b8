package normalize

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// Defaults for [DefaultGate].
var (
	DefaultFillers = []string{"да", "ага", "угу", "ну", "ок", "окей", "хорошо", "понятно", "о", "угу-угу"}

	DefaultKeywords = []string{
		"кн", "мпа", "мм/с", "мм/мин", "гц", "iso", "astm", "гост",
		"ргм", "рэм", "стилоскоп", "арматур", "твердомер",
	}
)

const (
	defaultMinTokens = 3
	maxRejectedRunes = 2
)

// Gate classifies text as informative or filler.
//
// Text is rejected when it is at most two runes long or exactly matches a
// filler word. Otherwise it is accepted when it contains a digit, matches a
// domain keyword, or has at least MinTokens whitespace-separated tokens.
type Gate struct {
	fillers   map[string]struct{}
	keywords  *regexp.Regexp
	minTokens int
}

// NewGate builds a [Gate]. Keywords are matched as case-insensitive
// substrings. A minTokens of zero selects the default of 3.
func NewGate(fillers, keywords []string, minTokens int) *Gate {
	g := &Gate{
		fillers:   make(map[string]struct{}, len(fillers)),
		minTokens: minTokens,
	}
	if g.minTokens <= 0 {
		g.minTokens = defaultMinTokens
	}
	for _, f := range fillers {
		g.fillers[strings.ToLower(strings.TrimSpace(f))] = struct{}{}
	}

	quoted := make([]string, 0, len(keywords))
	for _, k := range keywords {
		if k = strings.TrimSpace(k); k != "" {
			quoted = append(quoted, regexp.QuoteMeta(strings.ToLower(k)))
		}
	}
	if len(quoted) > 0 {
		g.keywords = regexp.MustCompile("(?i)(?:" + strings.Join(quoted, "|") + ")")
	}
	return g
}

var defaultGate = NewGate(DefaultFillers, DefaultKeywords, defaultMinTokens)

// DefaultGate returns the shared gate built from [DefaultFillers] and
// [DefaultKeywords].
func DefaultGate() *Gate { return defaultGate }

// Accept reports whether text is informative.
func (g *Gate) Accept(text string) bool {
	t := strings.ToLower(strings.TrimSpace(text))
	if utf8.RuneCountInString(t) <= maxRejectedRunes {
		return false
	}
	if _, ok := g.fillers[t]; ok {
		return false
	}
	if strings.ContainsAny(t, "0123456789") {
		return true
	}
	if g.keywords != nil && g.keywords.MatchString(t) {
		return true
	}
	return len(strings.Fields(t)) >= g.minTokens
}

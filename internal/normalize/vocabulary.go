package normalize

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/antzucaro/matchr"
)

const (
	defaultSnapThreshold = 0.92
	defaultSnapMinLength = 6
)

type vocabEntry struct {
	canonical string
	lower     string
}

// vocabulary snaps single tokens onto known single-word entries using
// Jaro-Winkler similarity. It is read-only after construction.
type vocabulary struct {
	entries   []vocabEntry
	exact     map[string]string
	threshold float64
	minLength int
}

func newVocabulary(entries []string, threshold float64, minLength int) *vocabulary {
	v := &vocabulary{
		exact:     make(map[string]string, len(entries)),
		threshold: threshold,
		minLength: minLength,
	}
	if v.threshold <= 0 || v.threshold > 1 {
		v.threshold = defaultSnapThreshold
	}
	if v.minLength <= 0 {
		v.minLength = defaultSnapMinLength
	}
	for _, e := range entries {
		e = strings.TrimSpace(e)
		// Multi-word entries can never equal a single token.
		if e == "" || strings.ContainsFunc(e, unicode.IsSpace) {
			continue
		}
		lower := strings.ToLower(e)
		if _, dup := v.exact[lower]; dup {
			continue
		}
		v.exact[lower] = e
		v.entries = append(v.entries, vocabEntry{canonical: e, lower: lower})
	}
	return v
}

// snap rewrites each space-separated token of s that is close enough to a
// vocabulary entry. Leading and trailing punctuation of the token is kept.
func (v *vocabulary) snap(s string) string {
	tokens := strings.Split(s, " ")
	changed := false
	for i, tok := range tokens {
		core := strings.TrimFunc(tok, func(r rune) bool { return !isWordRune(r) && r != '-' })
		if core == "" || utf8.RuneCountInString(core) < v.minLength {
			continue
		}
		best := v.match(core)
		if best == "" || best == core {
			continue
		}
		tokens[i] = strings.Replace(tok, core, best, 1)
		changed = true
	}
	if !changed {
		return s
	}
	return strings.Join(tokens, " ")
}

// match returns the canonical entry for word, or "" when nothing is close.
// An exact case-insensitive hit always wins over fuzzy candidates.
func (v *vocabulary) match(word string) string {
	lw := strings.ToLower(word)
	if canon, ok := v.exact[lw]; ok {
		return canon
	}
	best, bestScore := "", v.threshold
	for _, e := range v.entries {
		if score := matchr.JaroWinkler(lw, e.lower, false); score >= bestScore {
			if score == bestScore && best != "" {
				continue
			}
			best, bestScore = e.canonical, score
		}
	}
	return best
}

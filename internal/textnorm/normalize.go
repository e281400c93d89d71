// Package textnorm provides case and diacritic insensitive text normalization
// and keyword matching for tender item descriptions.
package textnorm

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// Normalize uppercases s and strips diacritical marks.
// "Amoxicilina", "AMOXICILINA" and "amoxicilína" all normalize to "AMOXICILINA".
func Normalize(s string) string {
	if s == "" {
		return ""
	}

	// A transformer carries state, so build one per call to stay goroutine safe.
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	stripped, _, err := transform.String(t, s)
	if err != nil {
		stripped = s
	}
	return strings.ToUpper(stripped)
}

// Matcher reports whether a description contains any of a fixed keyword set.
type Matcher struct {
	keywords []string
}

// NewMatcher normalizes and deduplicates keywords. Blank keywords are dropped.
func NewMatcher(keywords []string) *Matcher {
	seen := make(map[string]struct{}, len(keywords))
	normalized := make([]string, 0, len(keywords))
	for _, kw := range keywords {
		n := strings.TrimSpace(Normalize(kw))
		if n == "" {
			continue
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		normalized = append(normalized, n)
	}
	return &Matcher{keywords: normalized}
}

// Keywords returns the normalized keyword set.
func (m *Matcher) Keywords() []string {
	out := make([]string, len(m.keywords))
	copy(out, m.keywords)
	return out
}

// Match reports whether description contains at least one keyword.
func (m *Matcher) Match(description string) bool {
	if len(m.keywords) == 0 || description == "" {
		return false
	}
	text := Normalize(description)
	for _, kw := range m.keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

// Matches returns every keyword found in description, in keyword order.
func (m *Matcher) Matches(description string) []string {
	text := Normalize(description)
	var found []string
	for _, kw := range m.keywords {
		if strings.Contains(text, kw) {
			found = append(found, kw)
		}
	}
	return found
}

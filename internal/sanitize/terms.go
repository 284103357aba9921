package sanitize

import (
	"regexp"
	"strings"
)

// DefaultHealthTerms and DefaultVeteranTerms are the stock term lists for the
// whole-value redaction layers.
var (
	DefaultHealthTerms = []string{
		"cancer", "diabetes", "depression", "anxiety", "hiv", "autism", "asthma",
		"covid", "bipolar", "schizophrenia", "hypertension", "ptsd", "adhd",
	}
	DefaultVeteranTerms = []string{
		"veteran", "military", "army", "navy", "air force", "marine", "service member",
	}
)

// TermMatcher reports whether a text contains any of a fixed set of terms as
// a whole word, ignoring case.
type TermMatcher struct {
	re *regexp.Regexp
}

// NewTermMatcher compiles terms. Blank terms are ignored; a matcher without
// terms never matches.
func NewTermMatcher(terms []string) *TermMatcher {
	var quoted []string
	for _, t := range terms {
		t = strings.TrimSpace(t)
		if t != "" {
			quoted = append(quoted, regexp.QuoteMeta(t))
		}
	}
	if len(quoted) == 0 {
		return &TermMatcher{}
	}
	return &TermMatcher{re: regexp.MustCompile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)}
}

// Match reports whether text contains one of the terms.
func (m *TermMatcher) Match(text string) bool {
	return m.re != nil && m.re.MatchString(text)
}

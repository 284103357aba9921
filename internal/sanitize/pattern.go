package sanitize

import (
	"context"
	"regexp"
)

// Entity types emitted by the pattern recognizer. Names follow the analyzer
// sidecar so purpose policies can refer to either.
const (
	EntityEmail      = "EMAIL_ADDRESS"
	EntityPhone      = "PHONE_NUMBER"
	EntitySSN        = "US_SSN"
	EntityIP         = "IP_ADDRESS"
	EntityCreditCard = "CREDIT_CARD"
	EntityURL        = "URL"
)

type pattern struct {
	label string
	re    *regexp.Regexp
	check func(string) bool
}

// PatternRecognizer finds well-structured identifiers with regular
// expressions. It needs no network and always runs.
type PatternRecognizer struct {
	patterns []pattern
}

// NewPatternRecognizer returns the built-in recognizer.
func NewPatternRecognizer() *PatternRecognizer {
	return &PatternRecognizer{patterns: []pattern{
		{label: EntityURL, re: regexp.MustCompile(`\bhttps?://[^\s<>"']+[^\s<>"'.,;:!?)]`)},
		{label: EntityEmail, re: regexp.MustCompile(`[A-Za-z0-9._%+\-]+@[A-Za-z0-9\-]+(?:\.[A-Za-z0-9\-]+)*\.[A-Za-z]{2,}`)},
		{label: EntitySSN, re: regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`)},
		{label: EntityPhone, re: regexp.MustCompile(`(?:\+?1[-.\s]?)?(?:\(\d{3}\)|\b\d{3})[-.\s]?\d{3}[-.\s]?\d{4}\b`)},
		{label: EntityIP, re: regexp.MustCompile(`\b(?:(?:25[0-5]|2[0-4]\d|1?\d?\d)\.){3}(?:25[0-5]|2[0-4]\d|1?\d?\d)\b`)},
		{label: EntityCreditCard, re: regexp.MustCompile(`\b(?:\d[ -]?){12,18}\d\b`), check: luhn},
	}}
}

// Recognize implements Recognizer.
func (p *PatternRecognizer) Recognize(_ context.Context, text string) ([]Span, error) {
	var spans []Span
	for _, pat := range p.patterns {
		for _, loc := range pat.re.FindAllStringIndex(text, -1) {
			if pat.check != nil && !pat.check(text[loc[0]:loc[1]]) {
				continue
			}
			spans = append(spans, Span{Start: loc[0], End: loc[1], Label: pat.label, Score: 1.0})
		}
	}
	return spans, nil
}

// luhn validates a card number, ignoring separators.
func luhn(s string) bool {
	var sum, n int
	double := false
	for i := len(s) - 1; i >= 0; i-- {
		c := s[i]
		if c < '0' || c > '9' {
			continue
		}
		d := int(c - '0')
		if double {
			d *= 2
			if d > 9 {
				d -= 9
			}
		}
		sum += d
		double = !double
		n++
	}
	return n >= 13 && sum%10 == 0
}

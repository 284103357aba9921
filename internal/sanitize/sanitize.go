// Package sanitize finds sensitive entities inside a single text value and
// replaces them with their entity type. Detection is delegated to an ordered
// set of recognizers (local patterns, an analyzer sidecar, a local LLM)
// that run concurrently; their spans are merged, filtered and applied right
// to left.
//
// Usage:
//
//	d := sanitize.NewDetector([]sanitize.Recognizer{sanitize.NewPatternRecognizer()})
//	out, changed, err := d.Anonymize(ctx, "mail jane@x.com", nil)
//	// out == "mail <EMAIL_ADDRESS>"
package sanitize

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"
)

// DefaultBudget is the maximum time we wait for all recognizers to finish on
// one value. Recognizers that miss the deadline are skipped; their results
// are discarded.
const DefaultBudget = 30 * time.Second

// markerRe matches replacement markers we emit ourselves so a second pass
// never re-redacts them.
var markerRe = regexp.MustCompile(`^(?:<[A-Z][A-Z0-9_]*>|\[REDACTED_[A-Z0-9_, -]+\])$`)

// IsMarker reports whether text is exactly one replacement marker.
func IsMarker(text string) bool { return markerRe.MatchString(strings.TrimSpace(text)) }

// Detector is the entity-detection layer. It is created once at startup and
// is safe for concurrent use.
type Detector struct {
	recognizers []Recognizer
	budget      time.Duration
}

// NewDetector creates a Detector with an ordered list of recognizers.
func NewDetector(recognizers []Recognizer) *Detector {
	return &Detector{recognizers: recognizers, budget: DefaultBudget}
}

// WithBudget returns a copy of d with a different per-value time budget.
func (d *Detector) WithBudget(budget time.Duration) *Detector {
	cp := *d
	cp.budget = budget
	return &cp
}

// Len returns the number of recognizers.
func (d *Detector) Len() int { return len(d.recognizers) }

// Detect runs all recognizers concurrently and merges their spans. It
// returns after all recognizers finish or the budget elapses. A recognizer
// error is returned only when no recognizer produced a result.
func (d *Detector) Detect(ctx context.Context, text string) ([]Span, error) {
	if len(d.recognizers) == 0 {
		return nil, nil
	}

	type result struct {
		spans []Span
		err   error
	}
	ch := make(chan result, len(d.recognizers))

	ctx, cancel := context.WithTimeout(ctx, d.budget)
	defer cancel()

	for _, rec := range d.recognizers {
		go func(r Recognizer) {
			defer func() {
				if p := recover(); p != nil {
					ch <- result{err: fmt.Errorf("sanitize: recognizer panic: %v", p)}
				}
			}()
			spans, err := r.Recognize(ctx, text)
			ch <- result{spans: spans, err: err}
		}(rec)
	}

	var all []Span
	var firstErr error
	var ok int
	for range d.recognizers {
		select {
		case r := <-ch:
			if r.err != nil {
				slog.Warn("sanitize: recognizer error", "err", r.err)
				if firstErr == nil {
					firstErr = r.err
				}
				continue
			}
			ok++
			all = append(all, r.spans...)
		case <-ctx.Done():
			slog.Warn("sanitize: recognizer budget exceeded, using partial results")
			return all, nil
		}
	}
	if ok == 0 && firstErr != nil {
		return nil, firstErr
	}
	return all, nil
}

// Anonymize detects entities in text, drops spans whose label keep returns
// true for, and replaces the rest with "<LABEL>". It reports whether any
// replacement happened.
func (d *Detector) Anonymize(ctx context.Context, text string, keep func(label string) bool) (string, bool, error) {
	if text == "" || IsMarker(text) {
		return text, false, nil
	}
	spans, err := d.Detect(ctx, text)
	if err != nil {
		return text, false, err
	}
	if keep != nil {
		filtered := spans[:0]
		for _, sp := range spans {
			if !keep(sp.Label) {
				filtered = append(filtered, sp)
			}
		}
		spans = filtered
	}
	out := Apply(text, spans)
	return out, out != text, nil
}

// Apply replaces every valid, non-overlapping span with "<LABEL>".
func Apply(text string, spans []Span) string {
	if len(spans) == 0 {
		return text
	}
	spans = deduplicateSpans(validSpans(text, spans))
	sortSpansDesc(spans)

	for _, sp := range spans {
		slog.Debug("sanitize: redacted", "label", sp.Label, "start", sp.Start, "end", sp.End)
		text = text[:sp.Start] + "<" + sp.Label + ">" + text[sp.End:]
	}
	return text
}

// wordBoundaryBytes are bytes that delimit tokens/words.
var wordBoundaryBytes = func() [256]bool {
	var t [256]bool
	for _, b := range []byte(" \t\n\r<>(),;:.!?/|=[]{}\"'`") {
		t[b] = true
	}
	return t
}()

func isWordBoundaryByte(b byte) bool { return wordBoundaryBytes[b] }

// validSpans filters out spans with invalid offsets, our own markers, empty
// labels, or spans that land in the middle of a larger word.
func validSpans(text string, spans []Span) []Span {
	out := make([]Span, 0, len(spans))
	for _, sp := range spans {
		if sp.Label == "" {
			continue
		}
		if sp.Start < 0 || sp.End > len(text) || sp.Start >= sp.End {
			continue
		}
		if !isRuneBoundary(text, sp.Start) || !isRuneBoundary(text, sp.End) {
			continue
		}
		if markerRe.MatchString(text[sp.Start:sp.End]) {
			continue
		}
		if sp.Start > 0 && !isWordBoundaryByte(text[sp.Start-1]) {
			continue
		}
		if sp.End < len(text) && !isWordBoundaryByte(text[sp.End]) {
			continue
		}
		out = append(out, sp)
	}
	return out
}

// deduplicateSpans removes overlapping spans, keeping the longest one of
// each overlapping group.
func deduplicateSpans(spans []Span) []Span {
	byLen := append([]Span(nil), spans...)
	for i := 1; i < len(byLen); i++ {
		for j := i; j > 0 && byLen[j].End-byLen[j].Start > byLen[j-1].End-byLen[j-1].Start; j-- {
			byLen[j], byLen[j-1] = byLen[j-1], byLen[j]
		}
	}
	out := make([]Span, 0, len(byLen))
	for _, sp := range byLen {
		overlaps := false
		for _, kept := range out {
			if sp.Start < kept.End && kept.Start < sp.End {
				overlaps = true
				break
			}
		}
		if !overlaps {
			out = append(out, sp)
		}
	}
	return out
}

func isRuneBoundary(s string, i int) bool {
	if i == 0 || i == len(s) {
		return true
	}
	return s[i]&0xC0 != 0x80
}

func sortSpansDesc(spans []Span) {
	for i := 1; i < len(spans); i++ {
		for j := i; j > 0 && less(spans[j-1], spans[j]); j-- {
			spans[j], spans[j-1] = spans[j-1], spans[j]
		}
	}
}

func less(a, b Span) bool { return a.Start < b.Start }

// Package redact rewrites the values of a PII column. Each non-null value
// goes through four layers in a fixed order and the first layer that fires
// decides its replacement:
//
//  1. entity recognizers: matched spans become <ENTITY_TYPE>
//  2. health terms: the whole value becomes [REDACTED_HEALTH]
//  3. veteran terms: the whole value becomes [REDACTED_VETERAN]
//  4. date of birth of a minor (DOB columns only)
//
// A value is counted at most once, however many layers would match.
package redact

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/gonkalabs/pii-sentinel/internal/agepolicy"
	"github.com/gonkalabs/pii-sentinel/internal/sanitize"
	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// Whole-value markers.
const (
	HealthMarker  = "[REDACTED_HEALTH]"
	VeteranMarker = "[REDACTED_VETERAN]"
)

// Outcome is the result of redacting one column.
type Outcome struct {
	Values   []table.Value
	Redacted int // values altered
	Total    int // row count, nulls included
}

// Options configures an Engine. Nil or empty fields take the defaults.
type Options struct {
	Detector     *sanitize.Detector
	HealthTerms  []string
	VeteranTerms []string
	Ages         *agepolicy.Redactor
	Purposes     sanitize.PurposePolicy
	// Workers > 1 fans values of a column out over that many goroutines.
	Workers int
	Logger  *slog.Logger
}

// Engine is immutable after New and safe for concurrent use.
type Engine struct {
	detector *sanitize.Detector
	health   *sanitize.TermMatcher
	veteran  *sanitize.TermMatcher
	ages     *agepolicy.Redactor
	purposes sanitize.PurposePolicy
	keep     func(label string) bool
	workers  int
	log      *slog.Logger
}

// New builds an Engine.
func New(opts Options) *Engine {
	if opts.Detector == nil {
		opts.Detector = sanitize.NewDetector([]sanitize.Recognizer{sanitize.NewPatternRecognizer()})
	}
	if opts.HealthTerms == nil {
		opts.HealthTerms = sanitize.DefaultHealthTerms
	}
	if opts.VeteranTerms == nil {
		opts.VeteranTerms = sanitize.DefaultVeteranTerms
	}
	if opts.Ages == nil {
		opts.Ages = agepolicy.New(agepolicy.Options{})
	}
	if opts.Purposes == nil {
		opts.Purposes = sanitize.DefaultPurposes()
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Engine{
		detector: opts.Detector,
		health:   sanitize.NewTermMatcher(opts.HealthTerms),
		veteran:  sanitize.NewTermMatcher(opts.VeteranTerms),
		ages:     opts.Ages,
		purposes: opts.Purposes,
		workers:  opts.Workers,
		log:      opts.Logger,
	}
}

// ForPurpose returns a copy of e whose entity layer keeps the entity types
// the purpose policy allows. An empty or unknown purpose allows nothing.
func (e *Engine) ForPurpose(purpose string) *Engine {
	cp := *e
	cp.keep = e.purposes.Allowed(purpose)
	return &cp
}

// Redact rewrites column, named name. It returns an error only when ctx is
// done; a failure on a single value is logged and the value is kept.
func (e *Engine) Redact(ctx context.Context, name string, column []table.Value) (Outcome, error) {
	out := Outcome{Values: make([]table.Value, len(column)), Total: len(column)}
	var redacted atomic.Int64

	one := func(ctx context.Context, i int) {
		v, changed := e.value(ctx, name, column[i])
		out.Values[i] = v
		if changed {
			redacted.Add(1)
		}
	}

	if e.workers <= 1 {
		for i := range column {
			if err := ctx.Err(); err != nil {
				return Outcome{}, fmt.Errorf("redact: %s: %w", name, err)
			}
			one(ctx, i)
		}
	} else {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(e.workers)
		for i := range column {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				one(gctx, i)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return Outcome{}, fmt.Errorf("redact: %s: %w", name, err)
		}
	}

	out.Redacted = int(redacted.Load())
	e.log.Debug("redact: column done", "column", name, "redacted", out.Redacted, "total", out.Total)
	return out, nil
}

// value runs the layers over one cell.
func (e *Engine) value(ctx context.Context, column string, v table.Value) (res table.Value, changed bool) {
	if v.IsNull() {
		return v, false
	}
	defer func() {
		if p := recover(); p != nil {
			e.log.Warn("redact: value skipped after panic", "column", column, "panic", p)
			res, changed = v, false
		}
	}()

	text := v.String()
	if sanitize.IsMarker(text) {
		return v, false
	}

	anon, hit, err := e.detector.Anonymize(ctx, text, e.keep)
	if err != nil {
		e.log.Warn("redact: value skipped after detector error", "column", column, "err", err)
		return v, false
	}
	if hit {
		return table.Str(anon), true
	}
	if e.health.Match(text) {
		return table.Str(HealthMarker), true
	}
	if e.veteran.Match(text) {
		return table.Str(VeteranMarker), true
	}
	if marker, ok := e.ages.Redact(column, text); ok {
		return table.Str(marker), true
	}
	return v, false
}

// Package classify decides which columns of a document carry personal data.
// A Classifier wraps a Scorer (a pre-trained binary model) and enforces the
// feature-schema contract between the extractor and the model.
//
// Label convention: a scorer returns 0 for a PII column and 1 for a column
// without personal data.
package classify

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gonkalabs/pii-sentinel/internal/features"
)

const (
	LabelPII    = 0
	LabelNotPII = 1
)

// Scorer is a trained binary model over named features.
// Implementations must be safe for concurrent use.
type Scorer interface {
	// FeatureNames returns the features the model expects, in the order
	// Predict wants them.
	FeatureNames() []string
	// Predict returns one label per row.
	Predict(ctx context.Context, rows [][]float64) ([]int, error)
}

// Label is the decision for one column.
type Label struct {
	Column string
	PII    bool
}

// FeatureSchemaMismatchError reports features the scorer expects but did not
// receive, features it received but does not know, or a label count that
// does not match the number of rows.
type FeatureSchemaMismatchError struct {
	Missing    []string
	Unexpected []string
	Detail     string
}

func (e *FeatureSchemaMismatchError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing "+strings.Join(e.Missing, ", "))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, "unexpected "+strings.Join(e.Unexpected, ", "))
	}
	if e.Detail != "" {
		parts = append(parts, e.Detail)
	}
	return "classify: feature schema mismatch: " + strings.Join(parts, "; ")
}

// Classifier labels feature rows with a Scorer.
type Classifier struct {
	scorer Scorer
}

// New returns a Classifier backed by s.
func New(s Scorer) *Classifier {
	return &Classifier{scorer: s}
}

// Classify returns one Label per row of tbl, in row order.
func (c *Classifier) Classify(ctx context.Context, tbl features.Table) ([]Label, error) {
	if len(tbl.Rows) == 0 {
		return nil, nil
	}
	want := c.scorer.FeatureNames()
	order, err := alignSchema(want, tbl.Names)
	if err != nil {
		return nil, err
	}

	rows := make([][]float64, len(tbl.Rows))
	for i, r := range tbl.Rows {
		if len(r.Values) != len(tbl.Names) {
			return nil, &FeatureSchemaMismatchError{
				Detail: fmt.Sprintf("column %q has %d features, want %d", r.Column, len(r.Values), len(tbl.Names)),
			}
		}
		row := make([]float64, len(want))
		for j, src := range order {
			row[j] = r.Values[src]
		}
		rows[i] = row
	}

	labels, err := c.scorer.Predict(ctx, rows)
	if err != nil {
		return nil, fmt.Errorf("classify: predict: %w", err)
	}
	if len(labels) != len(rows) {
		return nil, &FeatureSchemaMismatchError{
			Detail: fmt.Sprintf("scorer returned %d labels for %d columns", len(labels), len(rows)),
		}
	}

	out := make([]Label, len(rows))
	for i, l := range labels {
		out[i] = Label{Column: tbl.Rows[i].Column, PII: l == LabelPII}
		slog.Debug("classify: column labelled", "column", out[i].Column, "label", l)
	}
	return out, nil
}

// PIIColumns returns the names of the columns labelled PII, in order.
func PIIColumns(labels []Label) []string {
	var out []string
	for _, l := range labels {
		if l.PII {
			out = append(out, l.Column)
		}
	}
	return out
}

// alignSchema compares the name sets and returns, for every name in want,
// its index in got.
func alignSchema(want, got []string) ([]int, error) {
	pos := make(map[string]int, len(got))
	for i, n := range got {
		pos[n] = i
	}
	wantSet := make(map[string]bool, len(want))
	var missing []string
	order := make([]int, len(want))
	for j, n := range want {
		wantSet[n] = true
		i, ok := pos[n]
		if !ok {
			missing = append(missing, n)
			continue
		}
		order[j] = i
	}
	var unexpected []string
	for _, n := range got {
		if !wantSet[n] {
			unexpected = append(unexpected, n)
		}
	}
	if len(missing) > 0 || len(unexpected) > 0 {
		sort.Strings(missing)
		sort.Strings(unexpected)
		return nil, &FeatureSchemaMismatchError{Missing: missing, Unexpected: unexpected}
	}
	return order, nil
}

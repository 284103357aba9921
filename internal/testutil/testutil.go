// Package testutil provides helpers shared by package tests.
package testutil

import (
	"log/slog"
	"testing"

	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// NewTestLogger returns a logger that writes to t.Log().
// Logs only appear on test failure or when running with -v.
func NewTestLogger(t testing.TB) *slog.Logger {
	t.Helper()
	return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{
		Level: slog.LevelDebug,
	}))
}

type testWriter struct {
	t testing.TB
}

func (w testWriter) Write(p []byte) (n int, err error) {
	w.t.Helper()
	w.t.Log(string(p))
	return len(p), nil
}

// Document builds a document from a header and string rows. Empty cells are
// null, numeric cells are numbers.
func Document(t testing.TB, header []string, rows ...[]string) *table.Document {
	t.Helper()
	values := make([][]table.Value, len(rows))
	for i, row := range rows {
		values[i] = make([]table.Value, len(row))
		for j, cell := range row {
			values[i][j] = table.Infer(cell)
		}
	}
	doc, err := table.FromRows(header, values)
	if err != nil {
		t.Fatalf("testutil: build document: %v", err)
	}
	return doc
}

// Strings converts a column to its textual form, with "<nil>" for nulls.
func Strings(values []table.Value) []string {
	out := make([]string, len(values))
	for i, v := range values {
		if v.IsNull() {
			out[i] = "<nil>"
			continue
		}
		out[i] = v.String()
	}
	return out
}

package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/gonkalabs/pii-sentinel/internal/audit"
	"github.com/gonkalabs/pii-sentinel/internal/pipeline"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func checkFormat(f string) error {
	if f != formatTable && f != formatJSON {
		return fmt.Errorf("cli: unknown format %q (want table or json)", f)
	}
	return nil
}

func completeFormats(*cobra.Command, []string, string) ([]string, cobra.ShellCompDirective) {
	return []string{formatTable, formatJSON}, cobra.ShellCompDirectiveNoFileComp
}

func renderResult(w io.Writer, format string, res *pipeline.Result) error {
	if format == formatJSON {
		return renderJSON(w, res)
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Field", "Value"})
	t.AppendRows([]table.Row{
		{"File", res.Filename},
		{"PII columns", columnList(res.PIIColumns)},
		{"Redacted values", fmt.Sprintf("%d / %d", res.RedactedCount, res.TotalValues)},
		{"Risk score", strconv.FormatFloat(res.RiskScore, 'f', 2, 64)},
		{"Redacted file", res.RedactedFile},
	})
	t.Render()
	return nil
}

func renderHistory(w io.Writer, format string, entries []audit.Entry) error {
	if format == formatJSON {
		if entries == nil {
			entries = []audit.Entry{}
		}
		return renderJSON(w, entries)
	}
	if len(entries) == 0 {
		_, _ = fmt.Fprintln(w, "(no scans)")
		return nil
	}

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(table.StyleLight)
	t.AppendHeader(table.Row{"Time", "Subject", "File", "Format", "Purpose", "PII columns", "Risk", "Redacted"})
	for _, e := range entries {
		t.AppendRow(table.Row{
			e.CreatedAt.Local().Format(time.DateTime),
			e.SubjectID,
			e.Filename,
			e.Format,
			e.Purpose,
			columnList(e.PIIColumns),
			strconv.FormatFloat(e.RiskScore, 'f', 2, 64),
			fmt.Sprintf("%d / %d", e.RedactedCount, e.TotalValues),
		})
	}
	t.Render()
	_, _ = fmt.Fprintf(w, "(%d scans)\n", len(entries))
	return nil
}

func renderJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func columnList(cols []string) string {
	if len(cols) == 0 {
		return "-"
	}
	return strings.Join(cols, ", ")
}

package cli

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/gonkalabs/pii-sentinel/internal/pipeline"
)

func newScanCmd() *cobra.Command {
	var (
		purpose string
		format  string
	)

	cmd := &cobra.Command{
		Use:   "scan <file>",
		Short: "Scan one file and write its redacted copy",
		Example: `  piisentinel scan customers.csv
  piisentinel scan export.xlsx --purpose marketing --out /tmp/redacted --format json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("cli: read %s: %w", args[0], err)
			}

			app, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					slog.Warn("cli: close audit store", "err", err)
				}
			}()

			res, err := app.Scanner.Scan(cmd.Context(), pipeline.Upload{
				Filename:  filepath.Base(args[0]),
				Data:      data,
				Purpose:   purpose,
				SubjectID: LocalSubject.ID,
			})
			if err != nil {
				return err
			}
			return renderResult(cmd.OutOrStdout(), format, res)
		},
	}

	cmd.Flags().StringVar(&purpose, "purpose", "", "processing purpose (analytics, fraud_detection, marketing, internal_audit, research)")
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	cmd.Flags().String("out", "", "directory for redacted files")
	cmd.Flags().Int("workers", 0, "goroutines per column during redaction")
	cmd.Flags().Bool("analyzer", false, "enable the entity analyzer sidecar")
	_ = cmd.RegisterFlagCompletionFunc("format", completeFormats)
	return cmd
}

func newHistoryCmd() *cobra.Command {
	var (
		limit  int
		format string
	)

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent scans from the audit database",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := checkFormat(format); err != nil {
				return err
			}
			app, err := buildApp(cmd)
			if err != nil {
				return err
			}
			defer func() {
				if err := app.Close(); err != nil {
					slog.Warn("cli: close audit store", "err", err)
				}
			}()
			if app.Audit == nil {
				return fmt.Errorf("cli: history needs audit.path to be set")
			}

			entries, err := app.Audit.Recent(cmd.Context(), "", limit)
			if err != nil {
				return err
			}
			return renderHistory(cmd.OutOrStdout(), format, entries)
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of scans to list")
	cmd.Flags().StringVar(&format, "format", formatTable, "output format (table|json)")
	_ = cmd.RegisterFlagCompletionFunc("format", completeFormats)
	return cmd
}

// Package pipeline runs one upload end to end: parse, extract column
// features, classify columns, redact the PII columns, write the redacted
// copy and report the risk score.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/gonkalabs/pii-sentinel/internal/audit"
	"github.com/gonkalabs/pii-sentinel/internal/classify"
	"github.com/gonkalabs/pii-sentinel/internal/features"
	"github.com/gonkalabs/pii-sentinel/internal/parse"
	"github.com/gonkalabs/pii-sentinel/internal/redact"
	"github.com/gonkalabs/pii-sentinel/internal/serialize"
	"github.com/gonkalabs/pii-sentinel/internal/table"
)

// Upload is one file submitted for scanning.
type Upload struct {
	Filename string
	Data     []byte
	// MIME is the declared content type. It is consulted only when Filename
	// has no extension.
	MIME    string
	Purpose string
	// SubjectID identifies the caller in the audit log.
	SubjectID string
}

// Result describes a completed scan.
type Result struct {
	Filename      string   `json:"filename"`
	PIIColumns    []string `json:"pii_columns"`
	RedactedFile  string   `json:"redacted_file"`
	RiskScore     float64  `json:"risk_score"`
	RedactedCount int      `json:"redacted_count"`
	TotalValues   int      `json:"total_values"`
}

// Report aggregates redaction outcomes.
type Report struct {
	RedactedCount int
	TotalValues   int
	RiskScore     float64
}

// Risk sums outcomes and returns redacted/total rounded to two decimals, ties
// to even, or zero when there are no values.
func Risk(outcomes []redact.Outcome) Report {
	var r Report
	for _, o := range outcomes {
		r.RedactedCount += o.Redacted
		r.TotalValues += o.Total
	}
	if r.TotalValues > 0 {
		r.RiskScore = math.RoundToEven(float64(r.RedactedCount)/float64(r.TotalValues)*100) / 100
	}
	return r
}

// Recorder stores completed scans. *audit.Store implements it.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry) (audit.Entry, error)
}

// Options configures a Scanner.
type Options struct {
	Features   *features.Extractor
	Classifier *classify.Classifier
	Engine     *redact.Engine
	// OutputDir receives redacted files. It is created if missing.
	OutputDir string
	// Recorder is optional.
	Recorder Recorder
	Logger   *slog.Logger
}

// Scanner is safe for concurrent use.
type Scanner struct {
	features   *features.Extractor
	classifier *classify.Classifier
	engine     *redact.Engine
	outputDir  string
	recorder   Recorder
	log        *slog.Logger
}

// New builds a Scanner. Classifier is required.
func New(opts Options) (*Scanner, error) {
	if opts.Classifier == nil {
		return nil, fmt.Errorf("pipeline: a classifier is required")
	}
	if opts.Features == nil {
		opts.Features = features.New(features.DefaultOptions())
	}
	if opts.Engine == nil {
		opts.Engine = redact.New(redact.Options{})
	}
	if opts.OutputDir == "" {
		opts.OutputDir = "redacted"
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Scanner{
		features:   opts.Features,
		classifier: opts.Classifier,
		engine:     opts.Engine,
		outputDir:  opts.OutputDir,
		recorder:   opts.Recorder,
		log:        opts.Logger,
	}, nil
}

// Scan processes u. Nothing is written unless every step succeeds.
func (s *Scanner) Scan(ctx context.Context, u Upload) (*Result, error) {
	ext := filepath.Ext(u.Filename)
	doc, format, err := parse.Parse(u.Data, ext, u.MIME)
	if err != nil {
		return nil, err
	}
	s.log.Debug("pipeline: parsed", "file", u.Filename, "format", format,
		"columns", doc.NumColumns(), "rows", doc.NumRows())

	labels, err := s.classifier.Classify(ctx, s.features.Extract(doc))
	if err != nil {
		return nil, err
	}
	piiColumns := classify.PIIColumns(labels)
	if piiColumns == nil {
		piiColumns = []string{}
	}

	engine := s.engine
	if u.Purpose != "" {
		engine = engine.ForPurpose(u.Purpose)
	}
	redacted, outcomes, err := redactColumns(ctx, engine, doc, piiColumns)
	if err != nil {
		return nil, err
	}
	report := Risk(outcomes)

	family := serialize.FamilyFor(format)
	data, err := serialize.Serialize(redacted, family)
	if err != nil {
		return nil, err
	}
	path, err := s.write(data, serialize.Extension(family))
	if err != nil {
		return nil, err
	}

	res := &Result{
		Filename:      u.Filename,
		PIIColumns:    piiColumns,
		RedactedFile:  path,
		RiskScore:     report.RiskScore,
		RedactedCount: report.RedactedCount,
		TotalValues:   report.TotalValues,
	}
	s.log.Info("pipeline: scan complete", "file", u.Filename, "pii_columns", strings.Join(piiColumns, ","),
		"risk_score", res.RiskScore, "redacted_file", path)

	if s.recorder != nil {
		_, err := s.recorder.Record(ctx, audit.Entry{
			SubjectID:     u.SubjectID,
			Filename:      u.Filename,
			Format:        string(format),
			Purpose:       u.Purpose,
			Digest:        audit.Digest(u.Data),
			PIIColumns:    piiColumns,
			RedactedFile:  path,
			RiskScore:     res.RiskScore,
			RedactedCount: res.RedactedCount,
			TotalValues:   res.TotalValues,
		})
		if err != nil {
			s.log.Warn("pipeline: audit record failed", "file", u.Filename, "err", err)
		}
	}
	return res, nil
}

func redactColumns(ctx context.Context, engine *redact.Engine, doc *table.Document, names []string) (*table.Document, []redact.Outcome, error) {
	outcomes := make([]redact.Outcome, 0, len(names))
	out := doc
	for _, name := range names {
		values, _ := doc.Column(name)
		o, err := engine.Redact(ctx, name, values)
		if err != nil {
			return nil, nil, err
		}
		if out, err = out.WithColumn(name, o.Values); err != nil {
			return nil, nil, fmt.Errorf("pipeline: replace column %s: %w", name, err)
		}
		outcomes = append(outcomes, o)
	}
	return out, outcomes, nil
}

// write stores data as redacted_<uuid><ext> via a temp file and rename.
func (s *Scanner) write(data []byte, ext string) (string, error) {
	if err := os.MkdirAll(s.outputDir, 0o755); err != nil {
		return "", fmt.Errorf("pipeline: output dir: %w", err)
	}
	tmp, err := os.CreateTemp(s.outputDir, ".redacted-*")
	if err != nil {
		return "", fmt.Errorf("pipeline: temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", fmt.Errorf("pipeline: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("pipeline: close: %w", err)
	}

	path := filepath.Join(s.outputDir, "redacted_"+uuid.NewString()+ext)
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("pipeline: rename: %w", err)
	}
	return path, nil
}

package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gonkalabs/pii-sentinel/internal/agepolicy"
	"github.com/gonkalabs/pii-sentinel/internal/audit"
	"github.com/gonkalabs/pii-sentinel/internal/classify"
	"github.com/gonkalabs/pii-sentinel/internal/classify/remote"
	"github.com/gonkalabs/pii-sentinel/internal/classify/treemodel"
	"github.com/gonkalabs/pii-sentinel/internal/config"
	"github.com/gonkalabs/pii-sentinel/internal/features"
	"github.com/gonkalabs/pii-sentinel/internal/gate"
	"github.com/gonkalabs/pii-sentinel/internal/pipeline"
	"github.com/gonkalabs/pii-sentinel/internal/redact"
	"github.com/gonkalabs/pii-sentinel/internal/sanitize"
	"github.com/gonkalabs/pii-sentinel/internal/sanitize/analyzer"
	"github.com/gonkalabs/pii-sentinel/internal/sanitize/llmrecognizer"
	"github.com/gonkalabs/pii-sentinel/internal/signer"
)

// discoverTimeout bounds the schema lookup against remote scorers.
const discoverTimeout = 30 * time.Second

// LocalSubject is the caller used when no account service is configured.
var LocalSubject = gate.Subject{ID: "local", Tier: gate.TierBusiness}

// App holds the components built from a Config.
type App struct {
	Config     *config.Config
	Scanner    *pipeline.Scanner
	Audit      *audit.Store // nil when audit.path is empty
	Authorizer gate.Authorizer
	Quota      *gate.DailyLimiter
}

// Close releases the audit database.
func (a *App) Close() error {
	if a.Audit == nil {
		return nil
	}
	return a.Audit.Close()
}

// Build wires every component described by cfg.
func Build(ctx context.Context, cfg *config.Config) (*App, error) {
	scorer, err := newScorer(ctx, cfg.Model)
	if err != nil {
		return nil, err
	}

	engine := redact.New(redact.Options{
		Detector:     newDetector(cfg),
		HealthTerms:  cfg.Redaction.HealthTerms,
		VeteranTerms: cfg.Redaction.VeteranTerms,
		Ages: agepolicy.New(agepolicy.Options{
			Aliases:    cfg.Redaction.DOBColumns,
			DateFormat: cfg.Redaction.DateFormat,
			Thresholds: cfg.Redaction.AgeThresholds,
		}),
		Purposes: cfg.Redaction.Purposes,
		Workers:  cfg.Redaction.Workers,
	})

	app := &App{Config: cfg}
	var recorder pipeline.Recorder
	if cfg.Audit.Path != "" {
		if dir := filepath.Dir(cfg.Audit.Path); dir != "." {
			if err := os.MkdirAll(dir, 0o750); err != nil {
				return nil, fmt.Errorf("cli: audit dir: %w", err)
			}
		}
		if app.Audit, err = audit.Open(cfg.Audit.Path); err != nil {
			return nil, err
		}
		recorder = app.Audit
	}

	app.Scanner, err = pipeline.New(pipeline.Options{
		Features:   features.New(cfg.FeatureOptions()),
		Classifier: classify.New(scorer),
		Engine:     engine,
		OutputDir:  cfg.OutputDir,
		Recorder:   recorder,
	})
	if err != nil {
		_ = app.Close()
		return nil, err
	}

	if cfg.Auth.URL != "" {
		app.Authorizer = gate.NewRemoteAuthorizer(cfg.Auth.URL)
	} else {
		app.Authorizer = gate.Static{Subject: LocalSubject}
	}
	app.Quota = gate.NewDailyLimiter(cfg.Auth.Limits)
	if app.Audit != nil {
		app.Quota.WithHistory(app.Audit)
	}
	return app, nil
}

func newScorer(ctx context.Context, mc config.ModelConfig) (classify.Scorer, error) {
	if len(mc.RemoteURLs) == 0 {
		m, err := treemodel.Load(mc.Path)
		if err != nil {
			return nil, err
		}
		slog.Info("cli: local scorer loaded", "path", mc.Path, "features", len(m.FeatureNames()))
		return m, nil
	}

	var (
		s   *signer.Signer
		err error
	)
	if mc.SigningKey != "" {
		s, err = signer.New(mc.SigningKey)
	} else {
		s, err = signer.Generate()
	}
	if err != nil {
		return nil, err
	}

	c, err := remote.New(mc.RemoteURLs, s)
	if err != nil {
		return nil, err
	}
	dctx, cancel := context.WithTimeout(ctx, discoverTimeout)
	defer cancel()
	if err := c.Discover(dctx); err != nil {
		return nil, err
	}
	slog.Info("cli: remote scorer ready", "endpoints", len(mc.RemoteURLs), "signer", s.Address())
	return c, nil
}

func newDetector(cfg *config.Config) *sanitize.Detector {
	recognizers := []sanitize.Recognizer{sanitize.NewPatternRecognizer()}
	if cfg.Analyzer.Enabled {
		recognizers = append(recognizers, analyzer.New(cfg.Analyzer.URL, cfg.Analyzer.Language, cfg.Analyzer.ScoreThreshold))
		slog.Info("cli: analyzer layer enabled", "url", cfg.Analyzer.URL)
	}
	if cfg.LLM.Enabled {
		recognizers = append(recognizers, llmrecognizer.New(cfg.LLM.URL, cfg.LLM.Model))
		slog.Info("cli: LLM layer enabled", "url", cfg.LLM.URL, "model", cfg.LLM.Model)
	}
	d := sanitize.NewDetector(recognizers)
	if cfg.Redaction.Budget > 0 {
		d = d.WithBudget(cfg.Redaction.Budget)
	}
	return d
}

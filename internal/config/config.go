// Package config loads runtime configuration. Sources, lowest precedence
// first: built-in defaults, a YAML file, SENTINEL_* environment variables
// (a .env file in the working directory is loaded first if present), then
// explicitly set command-line flags.
//
// Nested keys use "__" in environment variables:
//
//	SENTINEL_ANALYZER__ENABLED=true
//	SENTINEL_MODEL__REMOTE_URLS=http://scorer-a:9000,http://scorer-b:9000
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/spf13/pflag"

	"github.com/gonkalabs/pii-sentinel/internal/agepolicy"
	"github.com/gonkalabs/pii-sentinel/internal/features"
	"github.com/gonkalabs/pii-sentinel/internal/gate"
	"github.com/gonkalabs/pii-sentinel/internal/sanitize"
)

// EnvPrefix is the prefix of environment variables read into the config.
const EnvPrefix = "SENTINEL_"

// DefaultFiles are looked up in the working directory when no config file
// is given.
var DefaultFiles = []string{"piisentinel.yaml", "piisentinel.yml"}

// ModelConfig selects the column scorer. RemoteURLs, when set, wins over
// the local artifact at Path.
type ModelConfig struct {
	Path       string   `koanf:"path"`
	RemoteURLs []string `koanf:"remote_urls"`
	// SigningKey is a hex secp256k1 key used to sign scorer requests. A
	// random key is generated when empty.
	SigningKey string `koanf:"signing_key"`
}

// AnalyzerConfig configures the entity-analysis sidecar.
type AnalyzerConfig struct {
	Enabled        bool    `koanf:"enabled"`
	URL            string  `koanf:"url"`
	Language       string  `koanf:"language"`
	ScoreThreshold float32 `koanf:"score_threshold"`
}

// LLMConfig configures the local LLM recognizer.
type LLMConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Model   string `koanf:"model"`
}

// AuthConfig configures the scan gate. An empty URL disables
// authentication.
type AuthConfig struct {
	URL    string         `koanf:"url"`
	Limits map[string]int `koanf:"limits"`
}

// AuditConfig configures the scan history database. An empty path disables
// it.
type AuditConfig struct {
	Path string `koanf:"path"`
}

// RedactionConfig configures the value redaction layers.
type RedactionConfig struct {
	Workers       int                    `koanf:"workers"`
	Budget        time.Duration          `koanf:"budget"`
	HealthTerms   []string               `koanf:"health_terms"`
	VeteranTerms  []string               `koanf:"veteran_terms"`
	DOBColumns    []string               `koanf:"dob_columns"`
	DateFormat    string                 `koanf:"date_format"`
	AgeThresholds []agepolicy.Threshold  `koanf:"age_thresholds"`
	Purposes      sanitize.PurposePolicy `koanf:"purposes"`
}

// FeaturesConfig configures column feature extraction.
type FeaturesConfig struct {
	SampleSize     int      `koanf:"sample_size"`
	GenderTerms    []string `koanf:"gender_terms"`
	StreetSuffixes []string `koanf:"street_suffixes"`
	Cities         []string `koanf:"cities"`
	KnownNames     []string `koanf:"known_names"`
}

// Config holds all runtime configuration.
type Config struct {
	ListenAddr     string          `koanf:"listen_addr"`
	OutputDir      string          `koanf:"output_dir"`
	LogLevel       string          `koanf:"log_level"`
	RequestTimeout time.Duration   `koanf:"request_timeout"`
	MaxUploadBytes int64           `koanf:"max_upload_bytes"`
	Model          ModelConfig     `koanf:"model"`
	Analyzer       AnalyzerConfig  `koanf:"analyzer"`
	LLM            LLMConfig       `koanf:"llm"`
	Auth           AuthConfig      `koanf:"auth"`
	Audit          AuditConfig     `koanf:"audit"`
	Redaction      RedactionConfig `koanf:"redaction"`
	Features       FeaturesConfig  `koanf:"features"`

	// File is the config file that was read, if any.
	File string `koanf:"-"`
}

func defaults() map[string]interface{} {
	return map[string]interface{}{
		"listen_addr":              ":8080",
		"output_dir":               "redacted",
		"log_level":                "info",
		"request_timeout":          "2m",
		"max_upload_bytes":         32 << 20,
		"model.path":               "models/pii_model.json",
		"analyzer.enabled":         false,
		"analyzer.url":             "http://presidio-analyzer:3000",
		"analyzer.language":        "en",
		"analyzer.score_threshold": 0.35,
		"llm.enabled":              false,
		"llm.url":                  "http://ollama:11434",
		"llm.model":                "qwen3:4b",
		"audit.path":               "piisentinel.db",
		"redaction.workers":        1,
		"redaction.budget":         "30s",
		"redaction.date_format":    agepolicy.DefaultDateFormat,
		"features.sample_size":     features.DefaultOptions().SampleSize,
	}
}

// flagKeys maps flag names that differ from their config key.
var flagKeys = map[string]string{
	"listen":    "listen_addr",
	"out":       "output_dir",
	"model":     "model.path",
	"audit-db":  "audit.path",
	"auth-url":  "auth.url",
	"analyzer":  "analyzer.enabled",
	"workers":   "redaction.workers",
	"log-level": "log_level",
}

// Load reads configuration. cfgFile may be empty; flags may be nil.
func Load(cfgFile string, flags *pflag.FlagSet) (*Config, error) {
	// Best-effort: load .env from current directory
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(confmap.Provider(defaults(), "."), nil); err != nil {
		return nil, fmt.Errorf("config: defaults: %w", err)
	}

	if cfgFile == "" {
		for _, name := range DefaultFiles {
			if _, err := os.Stat(name); err == nil {
				cfgFile = name
				break
			}
		}
	}
	if cfgFile != "" {
		if err := k.Load(file.Provider(cfgFile), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("config: read %s: %w", cfgFile, err)
		}
	}

	// SENTINEL_ANALYZER__URL -> analyzer.url; comma-separated values are lists.
	if err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, interface{}) {
		key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		key = strings.ReplaceAll(key, "__", ".")
		if strings.Contains(value, ",") {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			return key, parts
		}
		return key, value
	}), nil); err != nil {
		return nil, fmt.Errorf("config: env: %w", err)
	}

	if flags != nil {
		if err := k.Load(posflag.ProviderWithFlag(flags, ".", k, func(f *pflag.Flag) (string, interface{}) {
			if !f.Changed {
				return "", nil
			}
			key, ok := flagKeys[f.Name]
			if !ok {
				key = strings.ReplaceAll(f.Name, "-", "_")
			}
			return key, posflag.FlagVal(flags, f)
		}), nil); err != nil {
			return nil, fmt.Errorf("config: flags: %w", err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	cfg.File = cfgFile
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// ApplyDefaults fills list and map settings left empty.
func (c *Config) ApplyDefaults() {
	if len(c.Redaction.HealthTerms) == 0 {
		c.Redaction.HealthTerms = sanitize.DefaultHealthTerms
	}
	if len(c.Redaction.VeteranTerms) == 0 {
		c.Redaction.VeteranTerms = sanitize.DefaultVeteranTerms
	}
	if len(c.Redaction.DOBColumns) == 0 {
		c.Redaction.DOBColumns = agepolicy.DefaultAliases()
	}
	if len(c.Redaction.AgeThresholds) == 0 {
		c.Redaction.AgeThresholds = agepolicy.DefaultThresholds()
	}
	if len(c.Redaction.Purposes) == 0 {
		c.Redaction.Purposes = sanitize.DefaultPurposes()
	}
	if c.Redaction.DateFormat == "" {
		c.Redaction.DateFormat = agepolicy.DefaultDateFormat
	}
	if len(c.Auth.Limits) == 0 {
		c.Auth.Limits = gate.DefaultLimits()
	}

	def := features.DefaultOptions()
	if c.Features.SampleSize == 0 {
		c.Features.SampleSize = def.SampleSize
	}
	if len(c.Features.GenderTerms) == 0 {
		c.Features.GenderTerms = def.GenderTerms
	}
	if len(c.Features.StreetSuffixes) == 0 {
		c.Features.StreetSuffixes = def.StreetSuffixes
	}
	if len(c.Features.Cities) == 0 {
		c.Features.Cities = def.Cities
	}
	if len(c.Features.KnownNames) == 0 {
		c.Features.KnownNames = def.KnownNames
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("config: listen_addr must be set")
	}
	if c.Model.Path == "" && len(c.Model.RemoteURLs) == 0 {
		return fmt.Errorf("config: either model.path or model.remote_urls must be set")
	}
	if c.Analyzer.Enabled && c.Analyzer.URL == "" {
		return fmt.Errorf("config: analyzer.url must be set when the analyzer is enabled")
	}
	if c.LLM.Enabled && (c.LLM.URL == "" || c.LLM.Model == "") {
		return fmt.Errorf("config: llm.url and llm.model must be set when the LLM is enabled")
	}
	if c.Redaction.Workers < 0 {
		return fmt.Errorf("config: redaction.workers must not be negative")
	}
	if c.Features.SampleSize < 0 {
		return fmt.Errorf("config: features.sample_size must not be negative")
	}
	for _, t := range c.Redaction.AgeThresholds {
		if t.Policy == "" || t.Age <= 0 {
			return fmt.Errorf("config: invalid age threshold %q=%d", t.Policy, t.Age)
		}
	}
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return fmt.Errorf("config: log_level: %w", err)
	}
	return nil
}

// Level returns the configured log level, defaulting to info.
func (c *Config) Level() slog.Level {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return lvl
}

// FeatureOptions converts the feature settings.
func (c *Config) FeatureOptions() features.Options {
	return features.Options{
		SampleSize:     c.Features.SampleSize,
		GenderTerms:    c.Features.GenderTerms,
		StreetSuffixes: c.Features.StreetSuffixes,
		Cities:         c.Features.Cities,
		KnownNames:     c.Features.KnownNames,
	}
}

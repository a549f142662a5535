package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"

	"lm-go/internal/service"
	"lm-go/internal/service/ngram"

	"github.com/natefinch/atomic"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"
)

type AppConfig struct {
	Name    string `yaml:"name"`
	DataDir string `yaml:"data_dir"`
}

type LogConfig struct {
	Level       string   `yaml:"level"`
	OutputPaths []string `yaml:"output_paths"`
}

type ServerConfig struct {
	Port int `yaml:"port"`
}

type MCPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type ModelConfig struct {
	Order      int    `yaml:"order"`
	Smoothing  string `yaml:"smoothing"`
	UseUnknown bool   `yaml:"use_unknown"`
}

type EstimatorConfig struct {
	Disabled       bool    `yaml:"disabled"`
	MaxIterations  int     `yaml:"max_iterations"`
	MaxEvaluations int     `yaml:"max_evaluations"`
	Tolerance      float64 `yaml:"tolerance"`
}

type ScoringConfig struct {
	ShortCorpusThreshold int  `yaml:"short_corpus_threshold"`
	CrossSentence        bool `yaml:"cross_sentence"`
	WindowSize           int  `yaml:"window_size"`
	TopSources           int  `yaml:"top_sources"`
}

type CountStoreConfig struct {
	UseBloomFilter    bool    `yaml:"use_bloom_filter"`
	ExpectedItems     uint    `yaml:"expected_items"`
	FalsePositiveRate float64 `yaml:"false_positive_rate"`
}

type StorageConfig struct {
	Path          string `yaml:"path"`
	IngestThreads int    `yaml:"ingest_threads"`
}

// CorpusConfig seeds a corpus at startup from a directory of sources or a
// text file with one training unit per line.
type CorpusConfig struct {
	Name     string `yaml:"name"`
	Language string `yaml:"language"`
	Path     string `yaml:"path"`
	File     string `yaml:"file"`
}

type Config struct {
	App        AppConfig        `yaml:"app"`
	Log        LogConfig        `yaml:"log"`
	Server     ServerConfig     `yaml:"server"`
	MCP        MCPConfig        `yaml:"mcp"`
	Model      ModelConfig      `yaml:"model"`
	Estimator  EstimatorConfig  `yaml:"estimator"`
	Scoring    ScoringConfig    `yaml:"scoring"`
	CountStore CountStoreConfig `yaml:"count_store"`
	Storage    StorageConfig    `yaml:"storage"`
	Corpora    []CorpusConfig   `yaml:"corpora"`
}

// DefaultConfig returns the configuration used when no file exists.
func DefaultConfig() *Config {
	model := ngram.DefaultModelConfig()
	scoring := ngram.DefaultScoreOptions()
	return &Config{
		App: AppConfig{
			Name:    "lm-go",
			DataDir: "./data",
		},
		Log: LogConfig{
			Level:       "info",
			OutputPaths: []string{"stdout"},
		},
		Server: ServerConfig{Port: 8080},
		MCP:    MCPConfig{Enabled: true, Path: "/mcp"},
		Model: ModelConfig{
			Order:      model.Order,
			Smoothing:  model.Smoothing,
			UseUnknown: model.UseUnknown,
		},
		Estimator: EstimatorConfig{
			MaxIterations:  model.Estimator.MaxIterations,
			MaxEvaluations: model.Estimator.MaxEvaluations,
			Tolerance:      model.Estimator.Tolerance,
		},
		Scoring: ScoringConfig{
			ShortCorpusThreshold: scoring.ShortCorpusThreshold,
			WindowSize:           ngram.DefaultWindowSize,
			TopSources:           10,
		},
		CountStore: CountStoreConfig{
			UseBloomFilter:    model.CountStore.UseBloom,
			ExpectedItems:     model.CountStore.ExpectedItems,
			FalsePositiveRate: model.CountStore.FalsePositiveRate,
		},
		Storage: StorageConfig{
			Path:          "./data/corpora.db",
			IngestThreads: 2,
		},
	}
}

// LoadConfig reads the YAML configuration at path on top of the defaults.
// A missing file is created with the defaults.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		out, err := yaml.Marshal(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal default config: %w", err)
		}
		if err := atomic.WriteFile(path, bytes.NewReader(out)); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to write default config file: %v\n", err)
		}
		return cfg, nil
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every setting that would otherwise fail later.
func (c *Config) Validate() error {
	if err := c.ModelConfig().Validate(); err != nil {
		return err
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return &ngram.ConfigurationError{Field: "server.port", Reason: fmt.Sprintf("out of range: %d", c.Server.Port)}
	}
	if fp := c.CountStore.FalsePositiveRate; c.CountStore.UseBloomFilter && (fp <= 0 || fp >= 1) {
		return &ngram.ConfigurationError{Field: "count_store.false_positive_rate", Reason: fmt.Sprintf("must be in (0,1), got %g", fp)}
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		return &ngram.ConfigurationError{Field: "log.level", Reason: err.Error()}
	}
	seen := make(map[string]bool)
	for _, cc := range c.Corpora {
		if strings.TrimSpace(cc.Name) == "" {
			return &ngram.ConfigurationError{Field: "corpora.name", Reason: "must not be empty"}
		}
		if seen[cc.Name] {
			return &ngram.ConfigurationError{Field: "corpora.name", Reason: fmt.Sprintf("duplicate corpus %q", cc.Name)}
		}
		seen[cc.Name] = true
		if cc.Path == "" && cc.File == "" {
			return &ngram.ConfigurationError{Field: "corpora." + cc.Name, Reason: "needs a path or a file"}
		}
	}
	return nil
}

// ModelConfig converts the model, estimator and count store sections.
func (c *Config) ModelConfig() ngram.ModelConfig {
	return ngram.ModelConfig{
		Order:      c.Model.Order,
		Smoothing:  c.Model.Smoothing,
		UseUnknown: c.Model.UseUnknown,
		CountStore: ngram.CountStoreOptions{
			UseBloom:          c.CountStore.UseBloomFilter,
			ExpectedItems:     c.CountStore.ExpectedItems,
			FalsePositiveRate: c.CountStore.FalsePositiveRate,
		},
		Estimator: ngram.EstimatorConfig{
			MaxIterations:  c.Estimator.MaxIterations,
			MaxEvaluations: c.Estimator.MaxEvaluations,
			Tolerance:      c.Estimator.Tolerance,
			Disabled:       c.Estimator.Disabled,
		},
	}
}

// ScoreOptions converts the scoring section.
func (c *Config) ScoreOptions() ngram.ScoreOptions {
	return ngram.ScoreOptions{
		ShortCorpusThreshold: c.Scoring.ShortCorpusThreshold,
		CrossSentence:        c.Scoring.CrossSentence,
	}
}

// ServiceOptions gathers everything the LM service needs.
func (c *Config) ServiceOptions() service.Options {
	return service.Options{
		Model:         c.ModelConfig(),
		Scoring:       c.ScoreOptions(),
		WindowSize:    c.Scoring.WindowSize,
		IngestThreads: c.Storage.IngestThreads,
		TopSources:    c.Scoring.TopSources,
	}
}

// GetCorpus returns the configured corpus with the given name.
func (c *Config) GetCorpus(name string) (*CorpusConfig, error) {
	for i := range c.Corpora {
		if c.Corpora[i].Name == name {
			return &c.Corpora[i], nil
		}
	}
	return nil, fmt.Errorf("corpus %s not found in configuration", name)
}

// BuildLogger creates the production zap logger described by the log section.
func (c *Config) BuildLogger() (*zap.Logger, error) {
	cfgZap := zap.NewProductionConfig()
	level, err := zapcore.ParseLevel(c.Log.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level: %w", err)
	}
	cfgZap.Level.SetLevel(level)
	if len(c.Log.OutputPaths) > 0 {
		cfgZap.OutputPaths = c.Log.OutputPaths
	}
	return cfgZap.Build()
}

// Package config provides configuration management for the JSON remodeler.
// It handles loading and parsing YAML configuration files and provides
// structured access to engine settings, the collaborator endpoint, the run
// ledger, logging, and the optional HTTP server.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config represents the application's configuration, loaded from a YAML
// file.
type Config struct {
	// Model is the model name used for token sizing and recorded in batch
	// requests.
	Model string `yaml:"model" json:"model"`

	// TokenBudget is the array extraction threshold in tokens. Arrays
	// whose serialized form exceeds it are lifted into their own work
	// units.
	TokenBudget int `yaml:"token-budget" json:"token-budget"`

	// BudgetMultiplier scales a unit's measured token count into its
	// response budget. nil means default (3).
	BudgetMultiplier *int `yaml:"budget-multiplier,omitempty" json:"budget-multiplier,omitempty"`

	// Concurrency bounds parallel unit processing. nil means default (4).
	Concurrency *int `yaml:"concurrency,omitempty" json:"concurrency,omitempty"`

	// OutputIndent is the indentation of recovered output documents.
	// nil means default (2); 0 writes compact output.
	OutputIndent *int `yaml:"output-indent,omitempty" json:"output-indent,omitempty"`

	// Placeholder overrides the marker written into extracted array
	// slots. Empty keeps the built-in marker.
	Placeholder string `yaml:"placeholder,omitempty" json:"placeholder,omitempty"`

	// RootWrapperKey overrides the object key used to wrap array-rooted
	// documents. Empty keeps the built-in key.
	RootWrapperKey string `yaml:"root-wrapper-key,omitempty" json:"root-wrapper-key,omitempty"`

	// BatchFilePath is where prepared batch files are written when the
	// command line does not name one.
	BatchFilePath string `yaml:"batch-file-path,omitempty" json:"batch-file-path,omitempty"`

	// Collaborator configures the external completions service that
	// rewrites work units.
	Collaborator CollaboratorConfig `yaml:"collaborator" json:"collaborator"`

	// Store configures the local run ledger.
	Store StoreConfig `yaml:"store,omitempty" json:"store,omitempty"`

	// Server configures remodel-as-a-service mode.
	Server ServerConfig `yaml:"server,omitempty" json:"server,omitempty"`

	// Debug enables verbose logging output.
	Debug bool `yaml:"debug" json:"debug"`

	// LoggingToFile routes logs to rotating files instead of stdout.
	LoggingToFile bool `yaml:"logging-to-file" json:"logging-to-file"`

	// LogMaxSizeMB caps a log file's size before rotation.
	// nil means default (100).
	LogMaxSizeMB *int `yaml:"log-max-size-mb,omitempty" json:"log-max-size-mb,omitempty"`
}

// CollaboratorConfig holds the external completions service settings.
type CollaboratorConfig struct {
	// BaseURL is the root of the OpenAI-compatible API.
	BaseURL string `yaml:"base-url" json:"base-url"`

	// APIKey inlines the bearer key. When empty, the variable named by
	// APIKeyEnv is consulted.
	APIKey string `yaml:"api-key,omitempty" json:"api-key,omitempty"`

	// APIKeyEnv names the environment variable holding the bearer key.
	// Empty means default (OPENAI_API_KEY).
	APIKeyEnv string `yaml:"api-key-env,omitempty" json:"api-key-env,omitempty"`

	// EmbeddingsModel is the model used for similarity scoring of
	// rewritten units. Empty means default (text-embedding-ada-002).
	EmbeddingsModel string `yaml:"embeddings-model,omitempty" json:"embeddings-model,omitempty"`

	// SimilarityThreshold is the minimum cosine similarity between a
	// rewrite and its input for the rewrite to be accepted.
	// nil means default (0.8).
	SimilarityThreshold *float64 `yaml:"similarity-threshold,omitempty" json:"similarity-threshold,omitempty"`

	// RefusalMarker is the substring whose presence in generated content
	// marks a refused rewrite; the original payload is kept instead.
	RefusalMarker string `yaml:"refusal-marker,omitempty" json:"refusal-marker,omitempty"`

	// OnlyJSONClause is appended to the instruction text to keep replies
	// machine-parseable. Empty means the built-in clause.
	OnlyJSONClause string `yaml:"only-json-clause,omitempty" json:"only-json-clause,omitempty"`

	// NoChangeClause is appended to the instruction text to cover units
	// the instructions do not apply to. Empty means the built-in clause.
	NoChangeClause string `yaml:"no-change-clause,omitempty" json:"no-change-clause,omitempty"`

	// RequestTimeoutSeconds bounds one completions call.
	// nil means default (120).
	RequestTimeoutSeconds *int `yaml:"request-timeout-seconds,omitempty" json:"request-timeout-seconds,omitempty"`

	// MaxRetries bounds collaborator-internal retries on throttling and
	// server errors. nil means default (3).
	MaxRetries *int `yaml:"max-retries,omitempty" json:"max-retries,omitempty"`
}

// StoreConfig holds the run ledger settings.
type StoreConfig struct {
	// Path is the SQLite database file recording remodel runs. Empty
	// means default (jsonremodeler.db next to the config file).
	Path string `yaml:"path,omitempty" json:"path,omitempty"`

	// Disabled turns run recording off entirely.
	Disabled bool `yaml:"disabled,omitempty" json:"disabled,omitempty"`
}

// ServerConfig holds the HTTP server settings for serve mode.
type ServerConfig struct {
	// Port is the TCP port the server listens on. 0 means default (8317).
	Port int `yaml:"port,omitempty" json:"port,omitempty"`

	// RequestTimeoutSeconds bounds one remodel request end to end.
	// nil means default (600).
	RequestTimeoutSeconds *int `yaml:"request-timeout-seconds,omitempty" json:"request-timeout-seconds,omitempty"`

	// Metrics toggles the Prometheus endpoint and collectors.
	// nil means enabled.
	Metrics *bool `yaml:"metrics,omitempty" json:"metrics,omitempty"`
}

const (
	// DefaultServerPort is used when the server section sets no port.
	DefaultServerPort = 8317

	// DefaultAPIKeyEnv names the environment variable consulted for the
	// collaborator key when the config inlines none.
	DefaultAPIKeyEnv = "OPENAI_API_KEY"

	// DefaultEmbeddingsModel scores rewrite similarity.
	DefaultEmbeddingsModel = "text-embedding-ada-002"

	defaultOnlyJSONClause = "Return only the rewritten JSON with the exact same structure. Do not add explanations, markdown fences, or any text outside the JSON."
	defaultNoChangeClause = "If the instructions do not apply to this fragment, return it unchanged."
)

// GetBudgetMultiplier returns the response budget multiplier, defaulting
// to 3.
func (c *Config) GetBudgetMultiplier() int {
	if c == nil || c.BudgetMultiplier == nil {
		return 3
	}
	return *c.BudgetMultiplier
}

// GetConcurrency returns the unit processing concurrency, defaulting to 4.
func (c *Config) GetConcurrency() int {
	if c == nil || c.Concurrency == nil {
		return 4
	}
	return *c.Concurrency
}

// GetOutputIndent returns the output indentation width, defaulting to 2.
func (c *Config) GetOutputIndent() int {
	if c == nil || c.OutputIndent == nil {
		return 2
	}
	return *c.OutputIndent
}

// GetLogMaxSizeMB returns the log rotation size cap, defaulting to 100.
func (c *Config) GetLogMaxSizeMB() int {
	if c == nil || c.LogMaxSizeMB == nil {
		return 100
	}
	return *c.LogMaxSizeMB
}

// ResolveAPIKey returns the collaborator key, preferring the inline value
// and falling back to the configured environment variable.
func (c *CollaboratorConfig) ResolveAPIKey() string {
	if c == nil {
		return ""
	}
	if c.APIKey != "" {
		return c.APIKey
	}
	env := c.APIKeyEnv
	if env == "" {
		env = DefaultAPIKeyEnv
	}
	return os.Getenv(env)
}

// GetEmbeddingsModel returns the embeddings model, defaulting to
// text-embedding-ada-002.
func (c *CollaboratorConfig) GetEmbeddingsModel() string {
	if c == nil || c.EmbeddingsModel == "" {
		return DefaultEmbeddingsModel
	}
	return c.EmbeddingsModel
}

// GetSimilarityThreshold returns the rewrite acceptance threshold,
// defaulting to 0.8.
func (c *CollaboratorConfig) GetSimilarityThreshold() float64 {
	if c == nil || c.SimilarityThreshold == nil {
		return 0.8
	}
	return *c.SimilarityThreshold
}

// GetOnlyJSONClause returns the JSON-only instruction clause.
func (c *CollaboratorConfig) GetOnlyJSONClause() string {
	if c == nil || c.OnlyJSONClause == "" {
		return defaultOnlyJSONClause
	}
	return c.OnlyJSONClause
}

// GetNoChangeClause returns the no-change instruction clause.
func (c *CollaboratorConfig) GetNoChangeClause() string {
	if c == nil || c.NoChangeClause == "" {
		return defaultNoChangeClause
	}
	return c.NoChangeClause
}

// ComposeInstructions joins the caller's instruction text with the guard
// clauses so every unit prompt carries them.
func (c *CollaboratorConfig) ComposeInstructions(base string) string {
	return strings.TrimSpace(base) + "\n" + c.GetOnlyJSONClause() + "\n" + c.GetNoChangeClause()
}

// GetRequestTimeoutSeconds returns the per-call timeout, defaulting to
// 120 seconds.
func (c *CollaboratorConfig) GetRequestTimeoutSeconds() int {
	if c == nil || c.RequestTimeoutSeconds == nil {
		return 120
	}
	return *c.RequestTimeoutSeconds
}

// GetMaxRetries returns the retry bound, defaulting to 3.
func (c *CollaboratorConfig) GetMaxRetries() int {
	if c == nil || c.MaxRetries == nil {
		return 3
	}
	return *c.MaxRetries
}

// GetPort returns the listen port, defaulting to 8317.
func (c *ServerConfig) GetPort() int {
	if c == nil || c.Port == 0 {
		return DefaultServerPort
	}
	return c.Port
}

// GetRequestTimeoutSeconds returns the serve-mode request timeout,
// defaulting to 600 seconds.
func (c *ServerConfig) GetRequestTimeoutSeconds() int {
	if c == nil || c.RequestTimeoutSeconds == nil {
		return 600
	}
	return *c.RequestTimeoutSeconds
}

// IsMetricsEnabled reports whether the Prometheus endpoint should be
// exposed. Metrics default to on.
func (c *ServerConfig) IsMetricsEnabled() bool {
	if c == nil || c.Metrics == nil {
		return true
	}
	return *c.Metrics
}

// StorePath resolves the run ledger location relative to the config file
// when the configured path is relative.
func (c *Config) StorePath(configPath string) string {
	if c == nil {
		return ""
	}
	path := c.Store.Path
	if path == "" {
		path = "jsonremodeler.db"
	}
	if filepath.IsAbs(path) || configPath == "" {
		return path
	}
	return filepath.Join(filepath.Dir(configPath), path)
}

// LoadConfig reads and parses the YAML configuration file, applying
// defaults and validating the result.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns the configuration used when no config file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.TokenBudget == 0 {
		c.TokenBudget = 2048
	}
	if c.Collaborator.BaseURL == "" {
		c.Collaborator.BaseURL = "https://api.openai.com/v1"
	}
	if c.BatchFilePath == "" {
		c.BatchFilePath = "batch_input.jsonl"
	}
}

// Validate rejects configurations the pipeline cannot run with.
func (c *Config) Validate() error {
	if c.TokenBudget <= 0 {
		return fmt.Errorf("config: token-budget must be positive, got %d", c.TokenBudget)
	}
	if c.GetBudgetMultiplier() <= 0 {
		return fmt.Errorf("config: budget-multiplier must be positive, got %d", c.GetBudgetMultiplier())
	}
	if c.GetConcurrency() <= 0 {
		return fmt.Errorf("config: concurrency must be positive, got %d", c.GetConcurrency())
	}
	if threshold := c.Collaborator.GetSimilarityThreshold(); threshold <= 0 || threshold > 1 {
		return fmt.Errorf("config: similarity-threshold must be in (0, 1], got %v", threshold)
	}
	if c.Placeholder != "" && c.Placeholder == c.RootWrapperKey {
		return fmt.Errorf("config: placeholder and root-wrapper-key must differ")
	}
	return nil
}

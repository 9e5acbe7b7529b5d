// Package settings loads redline configuration from a file, the environment
// and command-line flags, in that order of precedence (lowest first).
package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"github.com/theimaginaryfoundation/redline-o-bot/redline"
	"github.com/theimaginaryfoundation/redline-o-bot/redline/provider"
)

type Config struct {
	Storage StorageConfig `toml:"storage" json:"storage" yaml:"storage"`
	Diff    DiffConfig    `toml:"diff" json:"diff" yaml:"diff"`
	Oracle  OracleConfig  `toml:"oracle" json:"oracle" yaml:"oracle"`
	Worker  WorkerConfig  `toml:"worker" json:"worker" yaml:"worker"`
	Apply   ApplyConfig   `toml:"apply" json:"apply" yaml:"apply"`
	Logging LoggingConfig `toml:"logging" json:"logging" yaml:"logging"`
}

type StorageConfig struct {
	DBPath       string `toml:"db_path" json:"db_path" yaml:"db_path"`
	DocumentsDir string `toml:"documents_dir" json:"documents_dir" yaml:"documents_dir"`
}

type DiffConfig struct {
	// TimeoutSeconds <= 0 disables the diff deadline.
	TimeoutSeconds float64 `toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	// EditCost <= 0 skips the efficiency cleanup.
	EditCost int `toml:"edit_cost" json:"edit_cost" yaml:"edit_cost"`
}

type OracleConfig struct {
	Kind            string          `toml:"kind" json:"kind" yaml:"kind"`
	Model           string          `toml:"model" json:"model" yaml:"model"`
	APIKey          string          `toml:"api_key" json:"api_key" yaml:"api_key"`
	BaseURL         string          `toml:"base_url" json:"base_url" yaml:"base_url"`
	TimeoutSeconds  float64         `toml:"timeout_seconds" json:"timeout_seconds" yaml:"timeout_seconds"`
	MaxOutputTokens int64           `toml:"max_output_tokens" json:"max_output_tokens" yaml:"max_output_tokens"`
	Rules           []provider.Rule `toml:"rules" json:"rules" yaml:"rules"`
}

type WorkerConfig struct {
	Concurrency       int     `toml:"concurrency" json:"concurrency" yaml:"concurrency"`
	BatchLimit        int     `toml:"batch_limit" json:"batch_limit" yaml:"batch_limit"`
	PollSeconds       float64 `toml:"poll_seconds" json:"poll_seconds" yaml:"poll_seconds"`
	JobTimeoutSeconds float64 `toml:"job_timeout_seconds" json:"job_timeout_seconds" yaml:"job_timeout_seconds"`
	StuckAfterMinutes int     `toml:"stuck_after_minutes" json:"stuck_after_minutes" yaml:"stuck_after_minutes"`
	CleanupAfterDays  int     `toml:"cleanup_after_days" json:"cleanup_after_days" yaml:"cleanup_after_days"`
}

type ApplyConfig struct {
	Author string `toml:"author" json:"author" yaml:"author"`
}

type LoggingConfig struct {
	Level  string `toml:"level" json:"level" yaml:"level"`
	Format string `toml:"format" json:"format" yaml:"format"`
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Storage: StorageConfig{
			DBPath:       filepath.FromSlash("data/redline.db"),
			DocumentsDir: filepath.FromSlash("data/documents"),
		},
		Diff: DiffConfig{
			TimeoutSeconds: redline.DefaultDiffTimeout.Seconds(),
			EditCost:       redline.DefaultEditCost,
		},
		Oracle: OracleConfig{
			Kind:            provider.KindRules,
			Model:           "gpt-5-mini",
			TimeoutSeconds:  120,
			MaxOutputTokens: 4000,
		},
		Worker: WorkerConfig{
			Concurrency:       4,
			BatchLimit:        10,
			PollSeconds:       2,
			JobTimeoutSeconds: 300,
			StuckAfterMinutes: 30,
			CleanupAfterDays:  30,
		},
		Apply:   ApplyConfig{Author: redline.DefaultAuthor},
		Logging: LoggingConfig{Level: "info", Format: "text"},
	}
}

// Load reads path (by extension: .toml, .json, .yaml/.yml) over the defaults
// and applies environment overrides. An empty or missing path yields the
// defaults. Load does not validate; callers validate after applying flags.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := decodeFile(path, cfg); err != nil {
			return nil, err
		}
	}
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

func decodeFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		md, err := toml.Decode(string(data), cfg)
		if err != nil {
			return fmt.Errorf("decode TOML: %w", err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			return fmt.Errorf("decode TOML: unknown key %q", undecoded[0].String())
		}
	case ".json":
		if err := json.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode JSON: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return fmt.Errorf("decode YAML: %w", err)
		}
	default:
		return fmt.Errorf("config %s: unsupported extension %q", path, filepath.Ext(path))
	}
	return nil
}

// Environment variables read by ApplyEnvOverrides.
const (
	EnvDBPath       = "REDLINE_DB_PATH"
	EnvDocumentsDir = "REDLINE_DOCS_DIR"
	EnvOracle       = "REDLINE_ORACLE"
	EnvModel        = "REDLINE_MODEL"
	EnvAPIKey       = "OPENAI_API_KEY"
	EnvLogLevel     = "REDLINE_LOG_LEVEL"
	EnvLogFormat    = "REDLINE_LOG_FORMAT"
)

// ApplyEnvOverrides replaces fields whose environment variable is set.
func (c *Config) ApplyEnvOverrides() {
	set := func(dst *string, key string) {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			*dst = v
		}
	}
	set(&c.Storage.DBPath, EnvDBPath)
	set(&c.Storage.DocumentsDir, EnvDocumentsDir)
	set(&c.Oracle.Kind, EnvOracle)
	set(&c.Oracle.Model, EnvModel)
	set(&c.Oracle.APIKey, EnvAPIKey)
	set(&c.Logging.Level, EnvLogLevel)
	set(&c.Logging.Format, EnvLogFormat)
}

func (c *Config) Validate() error {
	if c.Storage.DBPath == "" {
		return errors.New("storage.db_path is empty")
	}
	if c.Storage.DocumentsDir == "" {
		return errors.New("storage.documents_dir is empty")
	}
	switch c.Oracle.Kind {
	case provider.KindRules:
	case provider.KindOpenAI:
		if c.Oracle.APIKey == "" {
			return fmt.Errorf("oracle.kind=openai requires an API key (set %s)", EnvAPIKey)
		}
		if c.Oracle.Model == "" {
			return errors.New("oracle.model is empty")
		}
	default:
		return fmt.Errorf("oracle.kind %q must be %q or %q", c.Oracle.Kind, provider.KindRules, provider.KindOpenAI)
	}
	if c.Oracle.MaxOutputTokens < 0 {
		return errors.New("oracle.max_output_tokens must be >= 0")
	}
	if c.Worker.Concurrency < 1 {
		return errors.New("worker.concurrency must be >= 1")
	}
	if c.Worker.BatchLimit < 1 {
		return errors.New("worker.batch_limit must be >= 1")
	}
	if c.Worker.StuckAfterMinutes < 1 {
		return errors.New("worker.stuck_after_minutes must be >= 1")
	}
	if c.Worker.CleanupAfterDays < 0 {
		return errors.New("worker.cleanup_after_days must be >= 0")
	}
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}
	return nil
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

// DiffEngine returns the engine described by the [diff] section.
func (c *Config) DiffEngine() redline.DiffEngine {
	timeout := seconds(c.Diff.TimeoutSeconds)
	if c.Diff.TimeoutSeconds <= 0 {
		timeout = -1
	}
	cost := c.Diff.EditCost
	if cost == 0 {
		cost = -1
	}
	return redline.NewDiffEngine(timeout, cost)
}

func (c *Config) OracleTimeout() time.Duration { return seconds(c.Oracle.TimeoutSeconds) }
func (c *Config) PollInterval() time.Duration  { return seconds(c.Worker.PollSeconds) }
func (c *Config) JobTimeout() time.Duration    { return seconds(c.Worker.JobTimeoutSeconds) }

func (c *Config) StuckAfter() time.Duration {
	return time.Duration(c.Worker.StuckAfterMinutes) * time.Minute
}

func (c *Config) CleanupAfter() time.Duration {
	return time.Duration(c.Worker.CleanupAfterDays) * 24 * time.Hour
}

// ProviderOptions maps the [oracle] section onto provider options.
func (c *Config) ProviderOptions() provider.Options {
	return provider.Options{
		Kind:            c.Oracle.Kind,
		Model:           c.Oracle.Model,
		APIKey:          c.Oracle.APIKey,
		BaseURL:         c.Oracle.BaseURL,
		MaxOutputTokens: c.Oracle.MaxOutputTokens,
		Rules:           c.Oracle.Rules,
	}
}

package settings

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/theimaginaryfoundation/redline-o-bot/redline"
	"github.com/theimaginaryfoundation/redline-o-bot/redline/provider"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDBPath, EnvDocumentsDir, EnvOracle, EnvModel, EnvAPIKey, EnvLogLevel, EnvLogFormat} {
		t.Setenv(k, "")
	}
}

func TestDefaultIsValid(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
	if cfg.Oracle.Kind != provider.KindRules || cfg.Apply.Author != redline.DefaultAuthor {
		t.Fatalf("cfg=%+v", cfg)
	}
	if got := cfg.DiffEngine(); got.Timeout != 2*time.Second || got.EditCost != redline.DefaultEditCost {
		t.Fatalf("diff engine=%+v", got)
	}
	if cfg.StuckAfter() != 30*time.Minute || cfg.CleanupAfter() != 30*24*time.Hour {
		t.Fatalf("stuck=%v cleanup=%v", cfg.StuckAfter(), cfg.CleanupAfter())
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.toml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Worker.Concurrency != Default().Worker.Concurrency {
		t.Fatalf("concurrency=%d", cfg.Worker.Concurrency)
	}
}

func TestLoadFormats(t *testing.T) {
	clearEnv(t)

	tomlPath := writeFile(t, "redline.toml", `
[storage]
db_path = "/var/lib/redline/jobs.db"

[diff]
edit_cost = 4

[worker]
concurrency = 8

[[oracle.rules]]
any = ["governing law"]
find = "Delaware"
replace = "New York"
reasoning = "Changed governing law"
`)
	yamlPath := writeFile(t, "redline.yaml", `
storage:
  db_path: /var/lib/redline/jobs.db
diff:
  edit_cost: 4
worker:
  concurrency: 8
oracle:
  rules:
    - any: ["governing law"]
      find: Delaware
      replace: New York
      reasoning: Changed governing law
`)
	jsonBody, _ := json.Marshal(map[string]any{
		"storage": map[string]any{"db_path": "/var/lib/redline/jobs.db"},
		"diff":    map[string]any{"edit_cost": 4},
		"worker":  map[string]any{"concurrency": 8},
		"oracle": map[string]any{"rules": []map[string]any{
			{"any": []string{"governing law"}, "find": "Delaware", "replace": "New York", "reasoning": "Changed governing law"},
		}},
	})
	jsonPath := writeFile(t, "redline.json", string(jsonBody))

	for _, path := range []string{tomlPath, yamlPath, jsonPath} {
		cfg, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%s): %v", filepath.Base(path), err)
		}
		if cfg.Storage.DBPath != "/var/lib/redline/jobs.db" || cfg.Diff.EditCost != 4 || cfg.Worker.Concurrency != 8 {
			t.Fatalf("%s: cfg=%+v", filepath.Base(path), cfg)
		}
		if cfg.Storage.DocumentsDir != Default().Storage.DocumentsDir {
			t.Fatalf("%s: unset field lost its default", filepath.Base(path))
		}
		if len(cfg.Oracle.Rules) != 1 || cfg.Oracle.Rules[0].Replace != "New York" {
			t.Fatalf("%s: rules=%+v", filepath.Base(path), cfg.Oracle.Rules)
		}
		if err := cfg.Validate(); err != nil {
			t.Fatalf("%s: Validate: %v", filepath.Base(path), err)
		}
	}
}

func TestLoadRejectsUnknownTOMLKeyAndExtension(t *testing.T) {
	clearEnv(t)

	if _, err := Load(writeFile(t, "bad.toml", "[worker]\nconcurency = 3\n")); err == nil {
		t.Fatalf("misspelled key accepted")
	}
	if _, err := Load(writeFile(t, "cfg.ini", "x=1")); err == nil {
		t.Fatalf("unsupported extension accepted")
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvOracle, provider.KindOpenAI)
	t.Setenv(EnvAPIKey, "sk-from-env")
	t.Setenv(EnvDocumentsDir, "/srv/docs")

	cfg, err := Load(writeFile(t, "c.toml", "[oracle]\nkind = \"rules\"\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Oracle.Kind != provider.KindOpenAI || cfg.Oracle.APIKey != "sk-from-env" || cfg.Storage.DocumentsDir != "/srv/docs" {
		t.Fatalf("env not applied: %+v", cfg)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()

	cases := map[string]func(*Config){
		"openai without key": func(c *Config) { c.Oracle.Kind = provider.KindOpenAI },
		"unknown oracle":     func(c *Config) { c.Oracle.Kind = "magic" },
		"zero concurrency":   func(c *Config) { c.Worker.Concurrency = 0 },
		"empty db":           func(c *Config) { c.Storage.DBPath = "" },
		"bad level":          func(c *Config) { c.Logging.Level = "loud" },
		"bad format":         func(c *Config) { c.Logging.Format = "xml" },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: Validate succeeded", name)
		}
	}
}

func TestDiffEngineDisables(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Diff.TimeoutSeconds = 0
	cfg.Diff.EditCost = 0
	e := cfg.DiffEngine()
	if e.Timeout >= 0 || e.EditCost >= 0 {
		t.Fatalf("engine=%+v, want both knobs disabled", e)
	}
}

func TestNewLoggerRedactsAndTagsComponent(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "debug", Format: "json"}, &buf, "edit-worker")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Debug("oracle configured", "api_key", "sk-live-123", "model", "gpt-5-mini")

	out := buf.String()
	if strings.Contains(out, "sk-live-123") || !strings.Contains(out, "[REDACTED]") {
		t.Fatalf("api key not redacted: %s", out)
	}
	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec["component"] != "edit-worker" || rec["model"] != "gpt-5-mini" {
		t.Fatalf("record=%v", rec)
	}

	buf.Reset()
	quiet, _ := NewLogger(LoggingConfig{Level: "warn", Format: "text"}, &buf, "")
	quiet.Info("dropped")
	if buf.Len() != 0 {
		t.Fatalf("info logged at warn level: %q", buf.String())
	}
	if _, err := NewLogger(LoggingConfig{Level: "info", Format: "xml"}, &buf, ""); err == nil {
		t.Fatalf("bad format accepted")
	}
}

func TestShouldRedactMatchesWholeSegments(t *testing.T) {
	t.Parallel()

	tests := map[string]bool{
		"api_key":           true,
		"OPENAI.API-KEY":    true,
		"apikey":            true,
		"auth.token":        true,
		"password":          true,
		"db_password":       true,
		"client_secret":     true,
		"authorization":     true,
		"max_output_tokens": false,
		"tokens_used":       false,
		"tokenizer":         false,
		"api":               false,
		"keyword":           false,
		"model":             false,
	}
	for key, want := range tests {
		if got := shouldRedact(key); got != want {
			t.Errorf("shouldRedact(%q)=%v, want %v", key, got, want)
		}
	}
}

func TestNewLoggerKeepsTokenCounts(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	logger, err := NewLogger(LoggingConfig{Level: "info", Format: "json"}, &buf, "edit-worker")
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	logger.Info("oracle call", "max_output_tokens", 4096, "token", "abc")

	var rec map[string]any
	if err := json.Unmarshal(buf.Bytes(), &rec); err != nil {
		t.Fatalf("unmarshal record: %v", err)
	}
	if rec["max_output_tokens"] != float64(4096) || rec["token"] != "[REDACTED]" {
		t.Fatalf("record=%v", rec)
	}
}

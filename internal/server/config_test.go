package server

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultServerConfig(t *testing.T) {
	cfg := DefaultServerConfig()
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("unexpected listen addr: %s", cfg.ListenAddr)
	}
	if cfg.Auth.CookieName != "screener_session" {
		t.Fatalf("unexpected cookie name: %s", cfg.Auth.CookieName)
	}
	if cfg.Screen.Model == "" || cfg.Screen.Endpoint == "" {
		t.Fatalf("expected screen defaults, got %+v", cfg.Screen)
	}
	if cfg.Screen.StaggerMS != 100 {
		t.Fatalf("expected 100ms default stagger, got %d", cfg.Screen.StaggerMS)
	}
}

func TestLoadServerConfigYAML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
listen_addr: ":9090"
screen:
  model: "gpt-4o"
  keyword_blocklist: ["ssn", "password"]
  stagger_ms: 50
keys:
  api_key_pool:
    - label: "primary"
      api_key: "sk-test"
      rpm: 10
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := LoadServerConfig(path)
	if err != nil {
		t.Fatalf("LoadServerConfig returned error: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		t.Fatalf("expected override listen addr, got %s", cfg.ListenAddr)
	}
	if cfg.Screen.Model != "gpt-4o" {
		t.Fatalf("expected model override, got %s", cfg.Screen.Model)
	}
	if len(cfg.Screen.KeywordBlocklist) != 2 {
		t.Fatalf("expected 2 keywords, got %v", cfg.Screen.KeywordBlocklist)
	}
	if cfg.Screen.StaggerMS != 50 {
		t.Fatalf("expected stagger 50, got %d", cfg.Screen.StaggerMS)
	}
	if len(cfg.Keys.APIKeys) != 1 || cfg.Keys.APIKeys[0].Label != "primary" {
		t.Fatalf("expected key pool entry, got %+v", cfg.Keys.APIKeys)
	}
	// defaults survive partial config
	if cfg.Budget.MaxParallelRuns != 2 {
		t.Fatalf("expected default max parallel runs, got %d", cfg.Budget.MaxParallelRuns)
	}
	if cfg.Screen.Endpoint == "" {
		t.Fatalf("expected default endpoint to be filled in")
	}
}

func TestNormalizeConfigFillsDefaults(t *testing.T) {
	cfg := ServerConfig{}
	normalizeConfig(&cfg)
	if cfg.ListenAddr != ":8080" {
		t.Fatalf("expected listen default, got %s", cfg.ListenAddr)
	}
	if cfg.Screen.ScoreWarnThreshold <= 0 || cfg.Screen.ScoreFailThreshold <= 0 {
		t.Fatalf("expected score thresholds to be filled, got %+v", cfg.Screen)
	}
	if cfg.Limits.QuickScreenRPM != 6 {
		t.Fatalf("expected quick screen rpm default, got %d", cfg.Limits.QuickScreenRPM)
	}
}

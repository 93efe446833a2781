package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"screener-eval/internal/eval"
)

type ServerConfig struct {
	ListenAddr string              `json:"listen_addr" yaml:"listen_addr"`
	Database   DatabaseConfig      `json:"database" yaml:"database"`
	Auth       AuthConfig          `json:"auth" yaml:"auth"`
	Security   SecurityConfig      `json:"security" yaml:"security"`
	Keys       KeyPoolConfig       `json:"keys" yaml:"keys"`
	Budget     BudgetConfig        `json:"budget" yaml:"budget"`
	Observer   ObservabilityConfig `json:"observability" yaml:"observability"`
	Limits     QuickScreenLimits   `json:"limits" yaml:"limits"`
	Screen     ScreenConfig        `json:"screen" yaml:"screen"`
}

type DatabaseConfig struct {
	DSN            string `json:"dsn" yaml:"dsn"`
	MaxConns       int32  `json:"max_conns" yaml:"max_conns"`
	MigrationsPath string `json:"migrations_path" yaml:"migrations_path"`
}

type AuthConfig struct {
	SessionTTL string `json:"session_ttl" yaml:"session_ttl"`
	CookieName string `json:"cookie_name" yaml:"cookie_name"`
}

type SecurityConfig struct {
	AdminToken string `json:"admin_token" yaml:"admin_token"`
}

type KeyPoolConfig struct {
	APIKeys []APIKeyConfig `json:"api_key_pool" yaml:"api_key_pool"`
}

type APIKeyConfig struct {
	Label           string  `json:"label" yaml:"label"`
	APIKey          string  `json:"api_key" yaml:"api_key"`
	DailyLimitUSD   float64 `json:"daily_limit_usd" yaml:"daily_limit_usd"`
	RPM             int     `json:"rpm" yaml:"rpm"`
	TPM             int     `json:"tpm" yaml:"tpm"`
	InputCostPer1K  float64 `json:"input_cost_per_1k" yaml:"input_cost_per_1k"`
	OutputCostPer1K float64 `json:"output_cost_per_1k" yaml:"output_cost_per_1k"`
}

type BudgetConfig struct {
	DefaultRunMaxUSD  float64 `json:"default_run_max_usd" yaml:"default_run_max_usd"`
	QuickScreenMaxUSD float64 `json:"quick_screen_max_usd" yaml:"quick_screen_max_usd"`
	DefaultTimeoutSec int     `json:"default_timeout_sec" yaml:"default_timeout_sec"`
	MaxParallelRuns   int     `json:"max_parallel_runs" yaml:"max_parallel_runs"`
}

type ObservabilityConfig struct {
	OTLPEndpoint string  `json:"otlp_endpoint" yaml:"otlp_endpoint"`
	ServiceName  string  `json:"service_name" yaml:"service_name"`
	SampleRatio  float64 `json:"sample_ratio" yaml:"sample_ratio"`
}

type QuickScreenLimits struct {
	QuickScreenRPM int `json:"quick_screen_rpm" yaml:"quick_screen_rpm"`
}

// ScreenConfig describes the filter chain this service evaluates and
// serves: the local blocklists plus the remote decision model.
type ScreenConfig struct {
	Endpoint           string   `json:"endpoint" yaml:"endpoint"`
	Model              string   `json:"model" yaml:"model"`
	SystemPrompt       string   `json:"system_prompt" yaml:"system_prompt"`
	KeywordBlocklist   []string `json:"keyword_blocklist" yaml:"keyword_blocklist"`
	PatternBlocklist   []string `json:"pattern_blocklist" yaml:"pattern_blocklist"`
	CorpusPath         string   `json:"corpus_path" yaml:"corpus_path"`
	StaggerMS          int      `json:"stagger_ms" yaml:"stagger_ms"`
	ScoreWarnThreshold float64  `json:"score_warn_threshold" yaml:"score_warn_threshold"`
	ScoreFailThreshold float64  `json:"score_fail_threshold" yaml:"score_fail_threshold"`
}

func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		ListenAddr: ":8080",
		Database: DatabaseConfig{
			MaxConns:       10,
			MigrationsPath: "./migrations",
		},
		Auth: AuthConfig{
			SessionTTL: "8h",
			CookieName: "screener_session",
		},
		Budget: BudgetConfig{
			DefaultRunMaxUSD:  5,
			QuickScreenMaxUSD: 0.05,
			DefaultTimeoutSec: 540,
			MaxParallelRuns:   2,
		},
		Observer: ObservabilityConfig{
			ServiceName: "screener-api",
			SampleRatio: 1,
		},
		Limits: QuickScreenLimits{
			QuickScreenRPM: 6,
		},
		Screen: ScreenConfig{
			Endpoint:           "https://api.openai.com",
			Model:              "gpt-4o-mini",
			StaggerMS:          100,
			ScoreWarnThreshold: eval.DefaultScoreWarnThreshold,
			ScoreFailThreshold: eval.DefaultScoreFailThreshold,
		},
	}
}

func LoadServerConfig(path string) (ServerConfig, error) {
	cfg := DefaultServerConfig()
	if strings.TrimSpace(path) == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse yaml config: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse json config: %w", err)
		}
	default:
		var yamlErr error
		if yamlErr = yaml.Unmarshal(data, &cfg); yamlErr == nil {
			break
		}
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, errors.New("config format not recognized (expected yaml/json)")
		}
	}
	normalizeConfig(&cfg)
	return cfg, nil
}

func normalizeConfig(cfg *ServerConfig) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.ListenAddr) == "" {
		cfg.ListenAddr = ":8080"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if strings.TrimSpace(cfg.Database.MigrationsPath) == "" {
		cfg.Database.MigrationsPath = "./migrations"
	}
	if strings.TrimSpace(cfg.Auth.CookieName) == "" {
		cfg.Auth.CookieName = "screener_session"
	}
	if strings.TrimSpace(cfg.Auth.SessionTTL) == "" {
		cfg.Auth.SessionTTL = "8h"
	}
	if cfg.Budget.DefaultRunMaxUSD <= 0 {
		cfg.Budget.DefaultRunMaxUSD = 5
	}
	if cfg.Budget.QuickScreenMaxUSD <= 0 {
		cfg.Budget.QuickScreenMaxUSD = 0.05
	}
	if cfg.Budget.DefaultTimeoutSec <= 0 {
		cfg.Budget.DefaultTimeoutSec = 540
	}
	if cfg.Budget.MaxParallelRuns <= 0 {
		cfg.Budget.MaxParallelRuns = 2
	}
	if cfg.Observer.SampleRatio <= 0 || cfg.Observer.SampleRatio > 1 {
		cfg.Observer.SampleRatio = 1
	}
	if strings.TrimSpace(cfg.Observer.ServiceName) == "" {
		cfg.Observer.ServiceName = "screener-api"
	}
	if cfg.Limits.QuickScreenRPM <= 0 {
		cfg.Limits.QuickScreenRPM = 6
	}
	if strings.TrimSpace(cfg.Screen.Endpoint) == "" {
		cfg.Screen.Endpoint = "https://api.openai.com"
	}
	if strings.TrimSpace(cfg.Screen.Model) == "" {
		cfg.Screen.Model = "gpt-4o-mini"
	}
	if cfg.Screen.StaggerMS < 0 {
		cfg.Screen.StaggerMS = 0
	}
	if cfg.Screen.ScoreWarnThreshold <= 0 || cfg.Screen.ScoreWarnThreshold > 1 {
		cfg.Screen.ScoreWarnThreshold = eval.DefaultScoreWarnThreshold
	}
	if cfg.Screen.ScoreFailThreshold <= 0 || cfg.Screen.ScoreFailThreshold > 1 {
		cfg.Screen.ScoreFailThreshold = eval.DefaultScoreFailThreshold
	}
}

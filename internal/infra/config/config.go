// Package config provides application-wide configuration.
// Values come from environment variables with safe defaults, optionally
// seeded from a YAML file pointed at by SIBYL_CONFIG. Env always wins over
// the file, so a deployment can override a checked-in config without editing it.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds runtime configuration for Sibyl.
type Config struct {
	// HTTP
	Host string `yaml:"host"` // SIBYL_HOST, default "0.0.0.0"
	Port int    `yaml:"port"` // SIBYL_PORT, default 8080

	// Database
	DBPath string `yaml:"db_path"` // SIBYL_DB_PATH, default "sibyl.db"

	// Embeddings (workspace-independent; assistants only vary the chat model)
	EmbeddingProvider string `yaml:"embedding_provider"` // EMBEDDING_PROVIDER, default "openai"
	EmbeddingModel    string `yaml:"embedding_model"`    // EMBEDDING_MODEL, default "text-embedding-3-small"
	EmbeddingAPIKey   string `yaml:"embedding_api_key"`  // EMBEDDING_API_KEY
	EmbeddingAPIURL   string `yaml:"embedding_api_url"`  // EMBEDDING_API_URL, default provider endpoint

	// Orchestration
	MaxSteps   int           `yaml:"max_steps"`       // SIBYL_MAX_STEPS, default 5
	RunTimeout time.Duration `yaml:"run_timeout"`     // SIBYL_RUN_TIMEOUT (seconds), default 60s
	FreeQuota  int           `yaml:"free_tier_quota"` // SIBYL_FREE_TIER_QUOTA, default 1 assistant
}

const (
	envConfigFile        = "SIBYL_CONFIG"
	envKeyHost           = "SIBYL_HOST"
	envKeyPort           = "SIBYL_PORT"
	envKeyDBPath         = "SIBYL_DB_PATH"
	envKeyEmbedProvider  = "EMBEDDING_PROVIDER"
	envKeyEmbedModel     = "EMBEDDING_MODEL"
	envKeyEmbedAPIKey    = "EMBEDDING_API_KEY"
	envKeyEmbedAPIURL    = "EMBEDDING_API_URL"
	envKeyMaxSteps       = "SIBYL_MAX_STEPS"
	envKeyRunTimeoutSecs = "SIBYL_RUN_TIMEOUT"
	envKeyFreeQuota      = "SIBYL_FREE_TIER_QUOTA"
)

// Load reads configuration: defaults, then the optional YAML file, then env.
func Load() (Config, error) {
	cfg := defaults()

	if path := os.Getenv(envConfigFile); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		Host:              "0.0.0.0",
		Port:              8080,
		DBPath:            "sibyl.db",
		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
		MaxSteps:          5,
		RunTimeout:        60 * time.Second,
		FreeQuota:         1,
	}
}

// loadFile merges a YAML config file into cfg. Missing file is an error:
// pointing SIBYL_CONFIG at a nonexistent path is a deployment mistake worth
// failing loudly on.
func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("config: parse %q: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config) {
	cfg.Host = envOr(envKeyHost, cfg.Host)
	cfg.Port = envIntOr(envKeyPort, cfg.Port)
	cfg.DBPath = envOr(envKeyDBPath, cfg.DBPath)
	cfg.EmbeddingProvider = envOr(envKeyEmbedProvider, cfg.EmbeddingProvider)
	cfg.EmbeddingModel = envOr(envKeyEmbedModel, cfg.EmbeddingModel)
	cfg.EmbeddingAPIKey = envOr(envKeyEmbedAPIKey, cfg.EmbeddingAPIKey)
	cfg.EmbeddingAPIURL = envOr(envKeyEmbedAPIURL, cfg.EmbeddingAPIURL)
	cfg.MaxSteps = envIntOr(envKeyMaxSteps, cfg.MaxSteps)
	if secs := envIntOr(envKeyRunTimeoutSecs, 0); secs > 0 {
		cfg.RunTimeout = time.Duration(secs) * time.Second
	}
	cfg.FreeQuota = envIntOr(envKeyFreeQuota, cfg.FreeQuota)
}

// envOr returns the value of the environment variable key, or fallback if not set.
func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// envIntOr returns the integer value of key, or fallback if unset/invalid.
func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

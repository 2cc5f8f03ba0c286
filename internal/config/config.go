// Package config loads the service's YAML configuration, layering
// environment-variable overrides on top of defaults the way the wider
// teacher codebase's loader does — a single struct, a single Load
// function, unknown keys warned about rather than rejected.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

// ProviderConfig describes one model-gateway backend.
type ProviderConfig struct {
	Name             string            `yaml:"name"`
	BaseURL          string            `yaml:"base_url"`
	APIKey           string            `yaml:"api_key"`
	SupportedModels  []string          `yaml:"supported_models"`
	PricePerKTokens  map[string]float64 `yaml:"price_per_1k_tokens"`
	TimeoutMs        int               `yaml:"timeout_ms"`
	ConcurrencyLimit int               `yaml:"concurrency_limit"`
}

// ModelsConfig selects the model used per operation.
type ModelsConfig struct {
	Embed     string           `yaml:"embed"`
	Rerank    string           `yaml:"rerank"`
	Light     string           `yaml:"light"`
	Heavy     string           `yaml:"heavy"`
	Providers []ProviderConfig `yaml:"providers"`
}

// VectorIndexConfig locates the vector index (C3).
type VectorIndexConfig struct {
	URL        string `yaml:"url"`
	Collection string `yaml:"collection"`
	Dimension  int    `yaml:"dimension"`
}

// StoreConfig locates the persistent store (C2).
type StoreConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

// MemoryConfig bounds injection and fusion token budgets.
type MemoryConfig struct {
	TokenBudget int `yaml:"token_budget"`
	FuserBudget int `yaml:"fuser_budget"`
}

// RetrievalConfig configures the C5 query cache.
type RetrievalConfig struct {
	CacheTTLSeconds int  `yaml:"cache_ttl_s"`
	CacheEnabled    bool `yaml:"cache_enabled"`
	RedisURL        string `yaml:"redis_url"`
}

// LimitsConfig bounds concurrency across components.
type LimitsConfig struct {
	CompressorInflight     int `yaml:"compressor_inflight"`
	PerProviderInflight    int `yaml:"per_provider_inflight"`
	OrphanSweepIntervalSec int `yaml:"orphan_sweep_interval_s"`
	OrphanSweepBatch       int `yaml:"orphan_sweep_batch"`
}

// TelemetryConfig toggles OpenTelemetry export.
type TelemetryConfig struct {
	Enabled        bool   `yaml:"enabled"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	ServiceName    string `yaml:"service_name"`
}

// HTTPConfig configures the HTTP API transport.
type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

// Config is the full service configuration.
type Config struct {
	VectorIndex VectorIndexConfig `yaml:"vector_index"`
	Store       StoreConfig       `yaml:"store"`
	Models      ModelsConfig      `yaml:"models"`
	Memory      MemoryConfig      `yaml:"memory"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Limits      LimitsConfig      `yaml:"limits"`
	Telemetry   TelemetryConfig   `yaml:"telemetry"`
	HTTP        HTTPConfig        `yaml:"http"`
	LogLevel    string            `yaml:"log_level"`
}

// Default returns a Config with every field at the documented default.
func Default() Config {
	return Config{
		VectorIndex: VectorIndexConfig{Collection: "memory_units", Dimension: 4096},
		Store:       StoreConfig{PoolSize: 10},
		Memory:      MemoryConfig{TokenBudget: 4000, FuserBudget: 1500},
		Retrieval:   RetrievalConfig{CacheTTLSeconds: 60, CacheEnabled: true},
		Limits: LimitsConfig{
			CompressorInflight:     4,
			PerProviderInflight:    8,
			OrphanSweepIntervalSec: 60,
			OrphanSweepBatch:       50,
		},
		Telemetry: TelemetryConfig{ServiceName: "mnemo"},
		HTTP:      HTTPConfig{Addr: ":8420"},
		LogLevel:  "info",
	}
}

// knownTopLevelKeys is used to warn, not fail, on unrecognized config keys.
var knownTopLevelKeys = map[string]bool{
	"vector_index": true, "store": true, "models": true, "memory": true,
	"retrieval": true, "limits": true, "telemetry": true, "http": true,
	"log_level": true,
}

// Load reads YAML from path, merges it over Default(), applies
// MNEMO_<SECTION>_<KEY> environment overrides for secrets, and logs a
// warning (rather than failing) for unrecognized top-level keys.
func Load(path string, logger zerolog.Logger) (Config, error) {
	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: read %s: %w", path, err)
		}
		var probe map[string]any
		if err := yaml.Unmarshal(raw, &probe); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
		for k := range probe {
			if !knownTopLevelKeys[k] {
				logger.Warn().Str("key", k).Msg("config: unrecognized top-level key ignored")
			}
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("config: decode %s: %w", path, err)
		}
	}
	applyEnvOverrides(&cfg)
	return cfg, nil
}

// applyEnvOverrides layers MNEMO_STORE_URL, MNEMO_VECTOR_INDEX_URL, and
// per-provider MNEMO_PROVIDER_<NAME>_API_KEY secrets over the YAML config.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MNEMO_STORE_URL"); v != "" {
		cfg.Store.URL = v
	}
	if v := os.Getenv("MNEMO_VECTOR_INDEX_URL"); v != "" {
		cfg.VectorIndex.URL = v
	}
	if v := os.Getenv("MNEMO_RETRIEVAL_REDIS_URL"); v != "" {
		cfg.Retrieval.RedisURL = v
	}
	if v := os.Getenv("MNEMO_LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	for i := range cfg.Models.Providers {
		p := &cfg.Models.Providers[i]
		envKey := "MNEMO_PROVIDER_" + strings.ToUpper(p.Name) + "_API_KEY"
		if v := os.Getenv(envKey); v != "" {
			p.APIKey = v
		}
	}
	if v := os.Getenv("MNEMO_HTTP_ADDR"); v != "" {
		cfg.HTTP.Addr = v
	}
	if v := os.Getenv("MNEMO_TELEMETRY_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Telemetry.Enabled = b
		}
	}
}

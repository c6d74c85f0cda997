package config

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config represents the complete upshift configuration (v2 schema)
type Config struct {
	Version  int    `json:"version" mapstructure:"version"`
	RepoRoot string `json:"repoRoot" mapstructure:"repoRoot"`

	Engine    EngineConfig    `json:"engine" mapstructure:"engine"`
	Model     ModelConfig     `json:"model" mapstructure:"model"`
	Quota     QuotaConfig     `json:"quota" mapstructure:"quota"`
	Cache     CacheConfig     `json:"cache" mapstructure:"cache"`
	Risk      RiskConfig      `json:"risk" mapstructure:"risk"`
	Knowledge KnowledgeConfig `json:"knowledge" mapstructure:"knowledge"`
	Logging   LoggingConfig   `json:"logging" mapstructure:"logging"`
}

// EngineConfig contains tier-orchestrator configuration
type EngineConfig struct {
	Workers            int      `json:"workers" mapstructure:"workers"`
	AutoApplyThreshold float64  `json:"autoApplyThreshold" mapstructure:"autoApplyThreshold"`
	FallbackEnabled    bool     `json:"fallbackEnabled" mapstructure:"fallbackEnabled"`
	MaxFileSizeBytes   int      `json:"maxFileSizeBytes" mapstructure:"maxFileSizeBytes"`
	FileTimeoutMs      int      `json:"fileTimeoutMs" mapstructure:"fileTimeoutMs"`
	IgnoreDirs         []string `json:"ignoreDirs" mapstructure:"ignoreDirs"`
}

// ModelConfig contains generative-model access configuration.
// Credential storage is external; only the env var name is configured here.
type ModelConfig struct {
	Endpoint    string  `json:"endpoint" mapstructure:"endpoint"`
	Name        string  `json:"name" mapstructure:"name"`
	APIKeyEnv   string  `json:"apiKeyEnv" mapstructure:"apiKeyEnv"`
	MaxTokens   int     `json:"maxTokens" mapstructure:"maxTokens"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	TimeoutMs   int     `json:"timeoutMs" mapstructure:"timeoutMs"`
}

// QuotaConfig contains quota-gate configuration
type QuotaConfig struct {
	DailyLimit            int `json:"dailyLimit" mapstructure:"dailyLimit"`
	ReservationTtlSeconds int `json:"reservationTtlSeconds" mapstructure:"reservationTtlSeconds"`
	SweepIntervalSeconds  int `json:"sweepIntervalSeconds" mapstructure:"sweepIntervalSeconds"`
}

// CacheConfig contains migration-cache configuration
type CacheConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	Path       string `json:"path" mapstructure:"path"`
	TtlSeconds int    `json:"ttlSeconds" mapstructure:"ttlSeconds"`
}

// RiskConfig contains risk-assessor tuning
type RiskConfig struct {
	ConfidenceFloor float64            `json:"confidenceFloor" mapstructure:"confidenceFloor"`
	MaxSafeRisk     string             `json:"maxSafeRisk" mapstructure:"maxSafeRisk"`
	Activation      map[string]float64 `json:"activation" mapstructure:"activation"`
}

// KnowledgeConfig contains knowledge-base configuration
type KnowledgeConfig struct {
	CatalogueDir string `json:"catalogueDir" mapstructure:"catalogueDir"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Format string `json:"format" mapstructure:"format"`
	Level  string `json:"level" mapstructure:"level"`
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Version:  2,
		RepoRoot: ".",
		Engine: EngineConfig{
			Workers:            4,
			AutoApplyThreshold: 0.9,
			FallbackEnabled:    true,
			MaxFileSizeBytes:   1000000,
			FileTimeoutMs:      60000,
			IgnoreDirs:         []string{"node_modules", "vendor", "__pycache__", ".venv", "build"},
		},
		Model: ModelConfig{
			Endpoint:    "",
			Name:        "default",
			APIKeyEnv:   "UPSHIFT_MODEL_KEY",
			MaxTokens:   4000,
			Temperature: 0.2,
			TimeoutMs:   120000,
		},
		Quota: QuotaConfig{
			DailyLimit:            200,
			ReservationTtlSeconds: 300,
			SweepIntervalSeconds:  30,
		},
		Cache: CacheConfig{
			Enabled:    true,
			Path:       "",
			TtlSeconds: 0, // 0 = entries never expire; keyed by content hash
		},
		Risk: RiskConfig{
			ConfidenceFloor: 0.85,
			MaxSafeRisk:     "medium",
			Activation: map[string]float64{
				"low_confidence_changes": 0.1,
				"failed_files":           0.0,
				"edit_volume":            0.3,
				"generative_changes":     0.0,
			},
		},
		Knowledge: KnowledgeConfig{
			CatalogueDir: "",
		},
		Logging: LoggingConfig{
			Format: "human",
			Level:  "info",
		},
	}
}

// LoadConfig loads configuration from .upshift/config.json.
// Environment variables prefixed UPSHIFT_ override file values.
func LoadConfig(repoRoot string) (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("json")
	v.AddConfigPath(filepath.Join(repoRoot, ".upshift"))
	v.SetEnvPrefix("UPSHIFT")
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// If config doesn't exist, return default config
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return DefaultConfig(), nil
		}
		return nil, err
	}

	cfg := DefaultConfig()
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	cfg.RepoRoot = repoRoot

	return cfg, nil
}

// Save writes the configuration to .upshift/config.json
func (c *Config) Save(repoRoot string) error {
	dir := filepath.Join(repoRoot, ".upshift")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(c, "", "  ")
	if err != nil {
		return err
	}

	return os.WriteFile(filepath.Join(dir, "config.json"), data, 0644)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Version != 2 {
		return &ConfigError{Field: "version", Message: "unsupported config version"}
	}
	if c.Engine.Workers < 1 {
		return &ConfigError{Field: "engine.workers", Message: "must be at least 1"}
	}
	if c.Engine.AutoApplyThreshold < 0 || c.Engine.AutoApplyThreshold > 1 {
		return &ConfigError{Field: "engine.autoApplyThreshold", Message: "must be within [0,1]"}
	}
	if c.Risk.ConfidenceFloor < 0 || c.Risk.ConfidenceFloor > 1 {
		return &ConfigError{Field: "risk.confidenceFloor", Message: "must be within [0,1]"}
	}
	switch c.Risk.MaxSafeRisk {
	case "low", "medium":
	default:
		return &ConfigError{Field: "risk.maxSafeRisk", Message: "must be 'low' or 'medium'"}
	}
	return nil
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "config error in field '" + e.Field + "': " + e.Message
}

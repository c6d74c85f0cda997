package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Version != 2 {
		t.Errorf("Version = %d, want 2", cfg.Version)
	}
	if cfg.Engine.Workers != 4 {
		t.Errorf("Engine.Workers = %d, want 4", cfg.Engine.Workers)
	}
	if cfg.Engine.AutoApplyThreshold != 0.9 {
		t.Errorf("AutoApplyThreshold = %v, want 0.9", cfg.Engine.AutoApplyThreshold)
	}
	if cfg.Quota.ReservationTtlSeconds != 300 {
		t.Errorf("ReservationTtlSeconds = %d, want 300", cfg.Quota.ReservationTtlSeconds)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	dir := t.TempDir()

	cfg, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig with no file should fall back to defaults: %v", err)
	}
	if cfg.Engine.Workers != 4 {
		t.Errorf("expected default workers, got %d", cfg.Engine.Workers)
	}
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()

	cfg := DefaultConfig()
	cfg.Engine.Workers = 8
	cfg.Model.Endpoint = "http://localhost:9000/v1/complete"

	if err := cfg.Save(dir); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, ".upshift", "config.json")); err != nil {
		t.Fatalf("config.json not written: %v", err)
	}

	loaded, err := LoadConfig(dir)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}
	if loaded.Engine.Workers != 8 {
		t.Errorf("Workers = %d, want 8", loaded.Engine.Workers)
	}
	if loaded.Model.Endpoint != "http://localhost:9000/v1/complete" {
		t.Errorf("Endpoint not round-tripped, got %q", loaded.Model.Endpoint)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid default", func(c *Config) {}, false},
		{"bad version", func(c *Config) { c.Version = 1 }, true},
		{"zero workers", func(c *Config) { c.Engine.Workers = 0 }, true},
		{"threshold above one", func(c *Config) { c.Engine.AutoApplyThreshold = 1.5 }, true},
		{"negative confidence floor", func(c *Config) { c.Risk.ConfidenceFloor = -0.1 }, true},
		{"high is not a safe ceiling", func(c *Config) { c.Risk.MaxSafeRisk = "high" }, true},
		{"low ceiling allowed", func(c *Config) { c.Risk.MaxSafeRisk = "low" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

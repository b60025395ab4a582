package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"techtrims/internal/models"
)

func TestLoadConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	t.Setenv("TEST_DB_PATH", "queue.db")

	yamlContent := `
database:
  path: "${TEST_DB_PATH}"
queue:
  grace_period: 2m
  sweep_interval: 10s
api:
  auth:
    api_keys:
      - key: "k1"
        name: "front-desk"
`
	if err := os.WriteFile(configPath, []byte(yamlContent), 0o644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("failed to load config: %v", err)
	}

	if cfg.Database.Path != "queue.db" {
		t.Errorf("expected env-expanded database path, got %s", cfg.Database.Path)
	}
	if cfg.Queue.GracePeriod != 2*time.Minute {
		t.Errorf("expected grace period 2m, got %s", cfg.Queue.GracePeriod)
	}
	if cfg.Queue.SweepInterval != 10*time.Second {
		t.Errorf("expected sweep interval 10s, got %s", cfg.Queue.SweepInterval)
	}
	if len(cfg.API.Auth.APIKeys) != 1 || cfg.API.Auth.APIKeys[0].Name != "front-desk" {
		t.Errorf("expected one api key named front-desk")
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestValidateConfig(t *testing.T) {
	valid := func() Config {
		c := Config{Database: DatabaseConfig{Path: "path"}}
		c.applyDefaults()
		return c
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{name: "valid config", mutate: func(c *Config) {}},
		{name: "missing db path", mutate: func(c *Config) { c.Database.Path = "" }, wantErr: true},
		{name: "negative grace", mutate: func(c *Config) { c.Queue.GracePeriod = -time.Second }, wantErr: true},
		{name: "sweep too fast", mutate: func(c *Config) { c.Queue.SweepInterval = time.Millisecond }, wantErr: true},
		{name: "backup without path", mutate: func(c *Config) { c.Backup.Enabled = true }, wantErr: true},
		{
			name: "duplicate api key",
			mutate: func(c *Config) {
				c.API.Auth.APIKeys = []APIClientKey{{Key: "a", Name: "one"}, {Key: "a", Name: "two"}}
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Queue.GracePeriod != models.DefaultGracePeriod {
		t.Errorf("expected default grace %s, got %s", models.DefaultGracePeriod, cfg.Queue.GracePeriod)
	}
	if cfg.Queue.PreBookEarlyWindow != 10*time.Minute {
		t.Errorf("expected 10m early window, got %s", cfg.Queue.PreBookEarlyWindow)
	}
	if cfg.Queue.WalkInHold != 45*time.Minute {
		t.Errorf("expected 45m walk-in hold, got %s", cfg.Queue.WalkInHold)
	}
	if cfg.API.GRPC.Port != 8081 {
		t.Errorf("expected default gRPC port 8081, got %d", cfg.API.GRPC.Port)
	}
	if cfg.API.CheckInLimit.Attempts != models.CheckInLimitAttempts {
		t.Errorf("expected default check-in attempts %d, got %d", models.CheckInLimitAttempts, cfg.API.CheckInLimit.Attempts)
	}
	if cfg.API.CheckInLimit.Window != time.Minute {
		t.Errorf("expected 1m check-in window, got %s", cfg.API.CheckInLimit.Window)
	}
}

func TestValidateAPIKeys(t *testing.T) {
	tests := []struct {
		name    string
		keys    []APIClientKey
		wantErr bool
	}{
		{name: "Valid keys", keys: []APIClientKey{{Key: "a", Name: "one"}, {Key: "b", Name: "two"}}},
		{name: "Empty key", keys: []APIClientKey{{Key: "", Name: "one"}}, wantErr: true},
		{name: "No keys", keys: nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAPIKeys(tt.keys)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAPIKeys() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

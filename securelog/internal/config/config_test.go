package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/wtyler2505/RoverMissionControl-sub001/securelog/internal/models"
)

func TestLoad_WithDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Chain.Difficulty != 2 {
		t.Errorf("Chain.Difficulty = %d, want 2", cfg.Chain.Difficulty)
	}
	if cfg.Keys.RotationInterval != 720*time.Hour {
		t.Errorf("Keys.RotationInterval = %v, want 720h", cfg.Keys.RotationInterval)
	}
	if cfg.EncStore.Backend != "sqlite" {
		t.Errorf("EncStore.Backend = %q, want sqlite", cfg.EncStore.Backend)
	}
	if cfg.Storage.ReplicationFactor != 3 {
		t.Errorf("Storage.ReplicationFactor = %d, want 3", cfg.Storage.ReplicationFactor)
	}
	if len(cfg.Storage.Backends) != 3 {
		t.Fatalf("len(Storage.Backends) = %d, want 3", len(cfg.Storage.Backends))
	}
	if cfg.Storage.Backends[0].Kind != "filesystem" || cfg.Storage.Backends[0].Priority != 1 {
		t.Errorf("Storage.Backends[0] = %+v, want filesystem priority 1", cfg.Storage.Backends[0])
	}
	if cfg.SIEM.FlushInterval != 5*time.Second {
		t.Errorf("SIEM.FlushInterval = %v, want 5s", cfg.SIEM.FlushInterval)
	}
	if cfg.SIEM.Syslog.Facility != "local0" {
		t.Errorf("SIEM.Syslog.Facility = %q, want local0", cfg.SIEM.Syslog.Facility)
	}
	if cfg.Notification.RateLimitBackend != "memory" {
		t.Errorf("Notification.RateLimitBackend = %q, want memory", cfg.Notification.RateLimitBackend)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "json" {
		t.Errorf("Logging = %+v, want info/json", cfg.Logging)
	}
}

func TestLoad_FromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "securelog.yaml")
	content := `
chain:
  difficulty: 3
storage:
  replication_factor: 2
  backends:
    - id: fast
      kind: memory
      priority: 1
    - id: cache
      kind: redis
      priority: 2
      url: redis://localhost:6379/1
siem:
  batch_size: 10
  splunk:
    enabled: true
    url: https://splunk.example.com:8088
    token: abc
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Chain.Difficulty != 3 {
		t.Errorf("Chain.Difficulty = %d, want 3", cfg.Chain.Difficulty)
	}
	if len(cfg.Storage.Backends) != 2 || cfg.Storage.Backends[1].URL != "redis://localhost:6379/1" {
		t.Errorf("Storage.Backends = %+v", cfg.Storage.Backends)
	}
	if !cfg.SIEM.Splunk.Enabled || cfg.SIEM.Splunk.Token != "abc" {
		t.Errorf("SIEM.Splunk = %+v", cfg.SIEM.Splunk)
	}
	if cfg.SIEM.BatchSize != 10 {
		t.Errorf("SIEM.BatchSize = %d, want 10", cfg.SIEM.BatchSize)
	}
}

func TestLoad_EnvOverride(t *testing.T) {
	t.Setenv("SECURELOG_CHAIN_DIFFICULTY", "4")
	t.Setenv("SECURELOG_LOGGING_LEVEL", "debug")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Chain.Difficulty != 4 {
		t.Errorf("Chain.Difficulty = %d, want 4", cfg.Chain.Difficulty)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want debug", cfg.Logging.Level)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("Load() with a missing explicit file should fail")
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		return &Config{
			Chain:    ChainConfig{Difficulty: 2},
			EncStore: EncStoreConfig{Backend: "memory"},
			Storage: StorageConfig{
				ReplicationFactor: 1,
				Backends:          []BackendConfig{{ID: "m", Kind: "memory"}},
			},
			SIEM:    SIEMConfig{BatchSize: 1},
			Service: ServiceConfig{Workers: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"negative difficulty", func(c *Config) { c.Chain.Difficulty = -1 }, true},
		{"difficulty too large", func(c *Config) { c.Chain.Difficulty = 65 }, true},
		{"unknown encstore", func(c *Config) { c.EncStore.Backend = "mongo" }, true},
		{"postgres without url", func(c *Config) { c.EncStore.Backend = "postgres" }, true},
		{"zero replication", func(c *Config) { c.Storage.ReplicationFactor = 0 }, true},
		{"duplicate backend", func(c *Config) {
			c.Storage.Backends = append(c.Storage.Backends, BackendConfig{ID: "m", Kind: "memory"})
		}, true},
		{"filesystem without path", func(c *Config) {
			c.Storage.Backends = []BackendConfig{{ID: "fs", Kind: "filesystem"}}
		}, true},
		{"s3 without bucket", func(c *Config) {
			c.Storage.Backends = []BackendConfig{{ID: "s3", Kind: "s3"}}
		}, true},
		{"unknown kind", func(c *Config) {
			c.Storage.Backends = []BackendConfig{{ID: "x", Kind: "tape"}}
		}, true},
		{"redis limiter without url", func(c *Config) { c.Notification.RateLimitBackend = "redis" }, true},
		{"zero batch", func(c *Config) { c.SIEM.BatchSize = 0 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := valid()
			tt.mutate(c)
			err := c.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, models.ErrConfiguration) {
				t.Errorf("Validate() error should wrap ErrConfiguration, got %v", err)
			}
		})
	}
}

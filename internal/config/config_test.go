// config_test.go — default-value and env-override tests for configuration loading.
package config

import (
	"os"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	os.Unsetenv("AGENTFABRIC_RING_CAPACITY")
	os.Unsetenv("POSTGRES_SCHEMA")
	os.Unsetenv("LOG_LEVEL")

	cfg := Load()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"RingCapacity", cfg.RingCapacity, 65536},
		{"QuantumCritical", cfg.QuantumCritical, 1024},
		{"QuantumHigh", cfg.QuantumHigh, 512},
		{"QuantumMedium", cfg.QuantumMedium, 256},
		{"QuantumLow", cfg.QuantumLow, 128},
		{"QuantumBulk", cfg.QuantumBulk, 64},
		{"ConsumerWorkers", cfg.ConsumerWorkers, 4},
		{"ReplayWindowSize", cfg.ReplayWindowSize, 1024},
		{"DefaultTokenTTLS", cfg.DefaultTokenTTLS, 3600},
		{"PostgresSchema", cfg.PostgresSchema, "public"},
		{"PostgresPoolMinSize", cfg.PostgresPoolMinSize, 1},
		{"PostgresPoolMaxSize", cfg.PostgresPoolMaxSize, 10},
		{"AuditLogLimit", cfg.AuditLogLimit, 100},
		{"LogLevel", cfg.LogLevel, "INFO"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("AGENTFABRIC_RING_CAPACITY", "1024")
	t.Setenv("POSTGRES_SCHEMA", "test_schema")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("AGENTFABRIC_CONSUMER_WORKERS", "8")

	cfg := Load()

	if cfg.RingCapacity != 1024 {
		t.Errorf("RingCapacity = %d, want 1024", cfg.RingCapacity)
	}
	if cfg.PostgresSchema != "test_schema" {
		t.Errorf("PostgresSchema = %q, want 'test_schema'", cfg.PostgresSchema)
	}
	if cfg.LogLevel != "DEBUG" {
		t.Errorf("LogLevel = %q, want 'DEBUG'", cfg.LogLevel)
	}
	if cfg.ConsumerWorkers != 8 {
		t.Errorf("ConsumerWorkers = %d, want 8", cfg.ConsumerWorkers)
	}
}

func TestLoadReturnsNonNil(t *testing.T) {
	cfg := Load()
	if cfg == nil {
		t.Fatal("Load() returned nil")
	}
}

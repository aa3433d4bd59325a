package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Store.Path != "data/swarmd.db" {
		t.Errorf("expected store path data/swarmd.db, got %s", cfg.Store.Path)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if !cfg.Queue.Durable {
		t.Error("expected durable queue by default")
	}
	if cfg.Queue.MaxRetries != 3 {
		t.Errorf("expected max_retries 3, got %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.TaskTimeout != 15*time.Minute {
		t.Errorf("expected task_timeout 15m, got %v", cfg.Queue.TaskTimeout)
	}
	if cfg.Queue.Concurrency != 4 {
		t.Errorf("expected concurrency 4, got %d", cfg.Queue.Concurrency)
	}
	if !cfg.Monitor.Enabled || cfg.Monitor.Schedule != "*/5 * * * *" {
		t.Errorf("unexpected monitor defaults: %+v", cfg.Monitor)
	}
	if cfg.Sandbox.Image != "alpine:3" {
		t.Errorf("expected sandbox image alpine:3, got %s", cfg.Sandbox.Image)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("SWARMD_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("SWARMD_WEB_PASSWORD", "secret")
	t.Setenv("SWARMD_WEB_PORT", "9090")
	t.Setenv("SWARMD_NATS_PORT", "5222")
	t.Setenv("SWARMD_STORE_PATH", "/tmp/alt.db")
	t.Setenv("SWARMD_VAULT_PASSPHRASE", "hunter2")
	t.Setenv("SWARMD_LLM_ENDPOINT", "http://localhost:9999")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.NATS.Port != 5222 {
		t.Errorf("expected nats port 5222, got %d", cfg.NATS.Port)
	}
	if cfg.Store.Path != "/tmp/alt.db" {
		t.Errorf("expected store path /tmp/alt.db, got %s", cfg.Store.Path)
	}
	if cfg.Vault.Passphrase != "hunter2" {
		t.Errorf("expected vault passphrase override, got %s", cfg.Vault.Passphrase)
	}
	if cfg.LLM.Endpoint != "http://localhost:9999" {
		t.Errorf("expected llm endpoint override, got %s", cfg.LLM.Endpoint)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
nats:
  port: 5333
queue:
  durable: false
  max_retries: 7
monitor:
  enabled: false
web:
  port: 3000
  enabled: false
llm:
  endpoint: "http://llm.internal"
  model: "small-1"
  key_name: "llm-key"
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SWARMD_CONFIG", cfgPath)
	// Clear any env overrides
	t.Setenv("SWARMD_WEB_PORT", "")
	t.Setenv("SWARMD_NATS_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.NATS.Port != 5333 {
		t.Errorf("expected nats port 5333, got %d", cfg.NATS.Port)
	}
	if cfg.Queue.Durable {
		t.Error("expected durable disabled")
	}
	if cfg.Queue.MaxRetries != 7 {
		t.Errorf("expected max_retries 7, got %d", cfg.Queue.MaxRetries)
	}
	if cfg.Queue.TaskTimeout != 15*time.Minute {
		t.Errorf("expected task_timeout default to survive partial yaml, got %v", cfg.Queue.TaskTimeout)
	}
	if cfg.Monitor.Enabled {
		t.Error("expected monitor disabled")
	}
	if cfg.Web.Port != 3000 || cfg.Web.Enabled {
		t.Errorf("unexpected web config: %+v", cfg.Web)
	}
	if cfg.LLM.Model != "small-1" || cfg.LLM.KeyName != "llm-key" {
		t.Errorf("unexpected llm config: %+v", cfg.LLM)
	}
}

func TestLoadExpandsEnv(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
store:
  path: "${SWARMD_TEST_DATA}/swarmd.db"
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("SWARMD_CONFIG", cfgPath)
	t.Setenv("SWARMD_TEST_DATA", "/var/lib/swarmd")
	t.Setenv("SWARMD_STORE_PATH", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store.Path != "/var/lib/swarmd/swarmd.db" {
		t.Errorf("expected expanded path, got %s", cfg.Store.Path)
	}
}

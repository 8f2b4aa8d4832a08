package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadProjectConfigDefaultsWhenMissing(t *testing.T) {
	projectDir := t.TempDir()
	greenlightDir := filepath.Join(projectDir, ".greenlight")
	if err := os.MkdirAll(greenlightDir, 0755); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, GreenlightProjectDir: greenlightDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if c.Project.Version != 1 {
		t.Fatalf("expected default version == 1, got %d", c.Project.Version)
	}
	if c.PollInterval() != defaultPollInterval {
		t.Fatalf("expected default poll interval, got %v", c.PollInterval())
	}
	if c.StaleAfter() != defaultStaleAfter || c.MaxRetries() != defaultMaxRetries {
		t.Fatalf("unexpected sweeper defaults: %v / %d", c.StaleAfter(), c.MaxRetries())
	}
	if c.PaymentCeiling() != defaultPaymentCeiling {
		t.Fatalf("expected default ceiling, got %v", c.PaymentCeiling())
	}
	if c.VaultDir() != filepath.Join(projectDir, defaultVaultDir) {
		t.Fatalf("unexpected vault dir: %s", c.VaultDir())
	}
	if c.Actor() == "" {
		t.Fatal("expected derived actor identity")
	}
}

func TestLoadProjectConfigParsesYaml(t *testing.T) {
	projectDir := t.TempDir()
	greenlightDir := filepath.Join(projectDir, ".greenlight")
	if err := os.MkdirAll(greenlightDir, 0755); err != nil {
		t.Fatal(err)
	}
	configYAML := strings.TrimSpace(`
version: 1
actor: accounts-worker
vault:
  dir: tasks
worker:
  poll_interval: 2s
  watch_debounce: 250ms
sweeper:
  interval: 30s
  stale_after: 10m
  max_retries: 5
policy:
  payment_ceiling: 250
  autonomous_types:
    - reply
    - archive
  preapproved_counterparties:
    - Acme Supply
  new_contact_types:
    - introduce_vendor
bridge:
  addr: 127.0.0.1:8787
`)
	if err := os.WriteFile(filepath.Join(greenlightDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatal(err)
	}
	c := &Config{ProjectDir: projectDir, GreenlightProjectDir: greenlightDir, Project: defaultProjectConfig()}
	if err := c.loadProjectConfig(); err != nil {
		t.Fatalf("loadProjectConfig returned error: %v", err)
	}
	if c.Actor() != "accounts-worker" {
		t.Fatalf("unexpected actor: %s", c.Actor())
	}
	if c.VaultDir() != filepath.Join(projectDir, "tasks") {
		t.Fatalf("expected vault dir to be resolved, got %s", c.VaultDir())
	}
	if c.PollInterval() != 2*time.Second || c.WatchDebounce() != 250*time.Millisecond {
		t.Fatalf("unexpected worker timings: %v / %v", c.PollInterval(), c.WatchDebounce())
	}
	if c.SweepInterval() != 30*time.Second || c.StaleAfter() != 10*time.Minute || c.MaxRetries() != 5 {
		t.Fatalf("unexpected sweeper settings: %v / %v / %d", c.SweepInterval(), c.StaleAfter(), c.MaxRetries())
	}
	if c.PaymentCeiling() != 250 {
		t.Fatalf("unexpected ceiling: %v", c.PaymentCeiling())
	}
	if !c.AutonomousTypes()["reply"] || !c.PreapprovedCounterparties()["Acme Supply"] {
		t.Fatalf("policy lists not loaded: %+v", c.Project.Policy)
	}
	if !c.NewContactTypes()["introduce_vendor"] {
		t.Fatalf("new contact types not loaded: %+v", c.Project.Policy)
	}
	if c.BridgeAddr() != "127.0.0.1:8787" {
		t.Fatalf("unexpected bridge addr: %s", c.BridgeAddr())
	}
}

func TestLoadProjectConfigValidation(t *testing.T) {
	projectDir := t.TempDir()
	greenlightDir := filepath.Join(projectDir, ".greenlight")
	if err := os.MkdirAll(greenlightDir, 0755); err != nil {
		t.Fatal(err)
	}
	cases := []string{
		"version: 1\nworker:\n  poll_interval: not-a-duration\n",
		"version: 1\nsweeper:\n  stale_after: -5m\n",
		"version: 1\npolicy:\n  payment_ceiling: -1\n",
	}
	for _, configYAML := range cases {
		if err := os.WriteFile(filepath.Join(greenlightDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
			t.Fatal(err)
		}
		c := &Config{ProjectDir: projectDir, GreenlightProjectDir: greenlightDir, Project: defaultProjectConfig()}
		if err := c.loadProjectConfig(); err == nil {
			t.Fatalf("expected validation error for %q", configYAML)
		}
	}
}

func TestInitGreenlightDirWritesDefaultConfig(t *testing.T) {
	projectDir := t.TempDir()
	if err := InitGreenlightDir(projectDir); err != nil {
		t.Fatalf("init: %v", err)
	}
	for _, dir := range []string{"logs", "archive", "plugins"} {
		if _, err := os.Stat(filepath.Join(projectDir, GreenlightDir, dir)); err != nil {
			t.Fatalf("expected %s dir: %v", dir, err)
		}
	}
	cfg, err := NewConfig(projectDir)
	if err != nil {
		t.Fatalf("load default config: %v", err)
	}
	if cfg.MaxRetries() != defaultMaxRetries {
		t.Fatalf("default config did not round trip: %d", cfg.MaxRetries())
	}
}

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "pixos.yaml", `
machine:
  cartridge: ./cart.lua
  tick_hz: 30
  queue_cap: 64
logging:
  level: DEBUG
  console: true
  file: {enabled: false, path: ""}
  screen: {enabled: true, lines: 24}
storage:
  enabled: true
  driver: sqlite
  path: ./pixos.db
  busy_timeout: 5s
jobs:
  enabled: true
  prune_every: 10m
  snapshot_every: 1m
devices:
  terminal: {enabled: true}
  cartwatch: {enabled: false}
`)
	m := NewManager(path)
	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Machine.Cartridge != "./cart.lua" || cfg.Machine.TickHz != 30 {
		t.Fatalf("machine = %+v", cfg.Machine)
	}
	if cfg.Storage == nil || cfg.Storage.Driver != "sqlite" {
		t.Fatalf("storage = %+v", cfg.Storage)
	}
	if got := m.Get(); got != cfg {
		t.Fatal("Get did not return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTemp(t, "pixos.yaml", `
machine:
  cartridge: ./cart.lua
  tickrate: 30
logging: {level: INFO, console: true, file: {enabled: false, path: ""}, screen: {enabled: false}}
devices: {terminal: {enabled: false}, cartwatch: {enabled: false}}
`)
	if _, err := NewManager(path).Load(); err == nil {
		t.Fatal("unknown field accepted")
	} else if !strings.Contains(err.Error(), "tickrate") {
		t.Fatalf("error does not name the unknown field: %v", err)
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "ok", mutate: func(c *Config) {}},
		{
			name:    "missing cartridge",
			mutate:  func(c *Config) { c.Machine.Cartridge = " " },
			wantErr: "machine.cartridge",
		},
		{
			name:    "bad driver",
			mutate:  func(c *Config) { c.Storage = &StorageConfig{Enabled: true, Driver: "redis", Path: "x"} },
			wantErr: "storage.driver",
		},
		{
			name:    "storage path required",
			mutate:  func(c *Config) { c.Storage = &StorageConfig{Enabled: true, Driver: "sqlite"} },
			wantErr: "storage.path",
		},
		{
			name:    "bad jobs duration",
			mutate:  func(c *Config) { c.Jobs = &JobsConfig{Enabled: true, PruneEvery: "ten minutes"} },
			wantErr: "jobs.prune_every",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Config{Machine: MachineConfig{Cartridge: "./cart.lua"}}
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("Validate: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	if d, err := ParseDurationField("x", " 5s "); err != nil || d.Seconds() != 5 {
		t.Fatalf("got (%v, %v)", d, err)
	}
	if d, err := ParseDurationField("x", ""); err != nil || d != 0 {
		t.Fatalf("empty: got (%v, %v)", d, err)
	}
	if _, err := ParseDurationField("x", "-2s"); err == nil {
		t.Fatal("negative duration accepted")
	}
	if _, err := ParseDurationField("x", "soon"); err == nil {
		t.Fatal("garbage duration accepted")
	}
}

func TestSummarizeChange(t *testing.T) {
	t.Parallel()
	oldCfg := &Config{Machine: MachineConfig{Cartridge: "a.lua", TickHz: 20}}
	newCfg := &Config{
		Machine: MachineConfig{Cartridge: "b.lua", TickHz: 20},
		Jobs:    &JobsConfig{Enabled: true, PruneEvery: "10m"},
	}
	changed, _ := SummarizeChange(oldCfg, newCfg)
	want := []string{"jobs", "machine"}
	if len(changed) != len(want) || changed[0] != want[0] || changed[1] != want[1] {
		t.Fatalf("changed = %v, want %v", changed, want)
	}

	if changed, _ := SummarizeChange(newCfg, newCfg); len(changed) != 0 {
		t.Fatalf("identical configs reported changes: %v", changed)
	}
}

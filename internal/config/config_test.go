package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.URI != "tcp://0.0.0.0:10209" {
		t.Fatalf("expected default uri, got %q", cfg.Server.URI)
	}
	if cfg.Engine.Threads != 4 || cfg.Engine.Steps != 5 {
		t.Fatalf("unexpected engine defaults: %+v", cfg.Engine)
	}
	if !cfg.Synthesis.Streaming || cfg.Synthesis.ChunkBytes != 2048 {
		t.Fatalf("unexpected synthesis defaults: %+v", cfg.Synthesis)
	}
	if cfg.Bus.Enabled {
		t.Fatal("bus must be disabled by default")
	}
	if cfg.EventStore.RetentionMode != "ephemeral" {
		t.Fatalf("unexpected retention mode: %q", cfg.EventStore.RetentionMode)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "supertonic.yaml")
	body := []byte(`
server:
  uri: tcp://127.0.0.1:10300
engine:
  mode: exec
  command: supertonic-infer --gpu=false
  data_dir: /opt/supertonic
  speed: 1.2
synthesis:
  streaming: false
  chunk_bytes: 4096
`)
	if err := os.WriteFile(path, body, 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.URI != "tcp://127.0.0.1:10300" {
		t.Fatalf("uri not loaded: %q", cfg.Server.URI)
	}
	if cfg.Engine.Mode != "exec" || cfg.Engine.Speed != 1.2 {
		t.Fatalf("engine not loaded: %+v", cfg.Engine)
	}
	if cfg.Synthesis.Streaming || cfg.Synthesis.ChunkBytes != 4096 {
		t.Fatalf("synthesis not loaded: %+v", cfg.Synthesis)
	}
	// Untouched sections keep defaults.
	if cfg.HTTP.Port != 8080 {
		t.Fatalf("http defaults lost: %+v", cfg.HTTP)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SUPERTONIC_URI", "tcp://0.0.0.0:11000")
	t.Setenv("SUPERTONIC_ENGINE_THREADS", "2")
	t.Setenv("SUPERTONIC_ENGINE_SPEED", "1.5")
	t.Setenv("SUPERTONIC_SYNTHESIS_STREAMING", "false")
	t.Setenv("SUPERTONIC_BUS_ENABLED", "true")
	t.Setenv("SUPERTONIC_BUS_SERVERS", "nats://one:4222, nats://two:4222")
	t.Setenv("SUPERTONIC_BUS_EMBEDDED", "false")
	t.Setenv("SUPERTONIC_EVENT_STORE_RETENTION_MODE", "session")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Server.URI != "tcp://0.0.0.0:11000" {
		t.Fatalf("uri override lost: %q", cfg.Server.URI)
	}
	if cfg.Engine.Threads != 2 || cfg.Engine.Speed != 1.5 {
		t.Fatalf("engine overrides lost: %+v", cfg.Engine)
	}
	if cfg.Synthesis.Streaming {
		t.Fatal("streaming override lost")
	}
	if !cfg.Bus.Enabled || len(cfg.Bus.Servers) != 2 {
		t.Fatalf("bus overrides lost: %+v", cfg.Bus)
	}
	if cfg.EventStore.RetentionMode != "session" {
		t.Fatalf("retention override lost: %q", cfg.EventStore.RetentionMode)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]func(*Config){
		"bad uri scheme":        func(c *Config) { c.Server.URI = "udp://0.0.0.0:1" },
		"speed too low":         func(c *Config) { c.Engine.Speed = 0.1 },
		"speed too high":        func(c *Config) { c.Engine.Speed = 3.0 },
		"zero steps":            func(c *Config) { c.Engine.Steps = 0 },
		"zero threads":          func(c *Config) { c.Engine.Threads = 0 },
		"exec without command":  func(c *Config) { c.Engine.Mode = "exec"; c.Engine.DataDir = "/x" },
		"unknown engine mode":   func(c *Config) { c.Engine.Mode = "onnx" },
		"tiny chunk":            func(c *Config) { c.Synthesis.ChunkBytes = 1 },
		"bad retention":         func(c *Config) { c.EventStore.RetentionMode = "forever" },
		"bus without servers":   func(c *Config) { c.Bus.Enabled = true; c.Bus.Embedded = false; c.Bus.Servers = nil },
		"negative timeout":      func(c *Config) { c.Synthesis.TimeoutMS = -1 },
	}
	for name, mutate := range cases {
		cfg := Default()
		mutate(&cfg)
		if err := validate(cfg); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bvh.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefaultConfigValid(t *testing.T) {
	cfg, err := LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":8080" || cfg.BVH.Builder != "topdown" || cfg.BVH.LeafSize != 1 {
		t.Errorf("unexpected defaults %+v", cfg)
	}
	if cfg.Sim.TickDuration() != time.Second/60 {
		t.Errorf("unexpected tick duration %v", cfg.Sim.TickDuration())
	}
	if cfg.Sim.BroadcastEvery() != 2 {
		t.Errorf("expected a snapshot every 2 ticks, got %d", cfg.Sim.BroadcastEvery())
	}
	if cfg.Sessions.IdleTimeout() != 30*time.Second || cfg.Sessions.TokenTTL() != 24*time.Hour {
		t.Errorf("unexpected session durations %+v", cfg.Sessions)
	}
}

func TestLoadConfigOverrides(t *testing.T) {
	path := writeConfig(t, `
addr = ":9000"
public_url = "https://bvh.example.com"

[sim]
tick_rate = 120
max_entities = 500
seed = 3

[bvh]
builder = "bottomup"
leaf_size = 2
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Addr != ":9000" || cfg.PublicURL != "https://bvh.example.com" {
		t.Errorf("top-level overrides not applied: %+v", cfg)
	}
	if cfg.Sim.TickRate != 120 || cfg.Sim.MaxEntities != 500 || cfg.Sim.Seed != 3 {
		t.Errorf("sim overrides not applied: %+v", cfg.Sim)
	}
	// Keys absent from the file keep their defaults
	if cfg.Sim.BroadcastRate != 30 || cfg.Sim.ViewportW != 800 || cfg.Sessions.MaxSessions != 100 {
		t.Errorf("defaults lost: %+v", cfg)
	}
	opts := cfg.BVHOptions()
	if opts.LeafSize != 2 || opts.MaxBodies != 500 {
		t.Errorf("unexpected bvh options %+v", opts)
	}
	if cfg.Sim.BroadcastEvery() != 4 {
		t.Errorf("expected a snapshot every 4 ticks, got %d", cfg.Sim.BroadcastEvery())
	}
}

func TestLoadConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"syntax", "addr = ", "parse config"},
		{"builder", "[bvh]\nbuilder = \"octree\"", "octree"},
		{"broadcast", "[sim]\nbroadcast_rate = 90", "broadcast_rate"},
		{"tick rate", "[sim]\ntick_rate = -1", "tick_rate"},
		{"radius", "[sim]\nradius_min = 20", "radius"},
		{"entities", "[sim]\nmax_entities = -5", "max_entities"},
		{"sessions", "[sessions]\nmax_sessions = -1", "max_sessions"},
		{"tick rate too high", "[sim]\ntick_rate = 2000000000\nbroadcast_rate = 30", "tick_rate"},
		{"no spawning", "[sim]\nmax_spawn = 0", "max_spawn"},
		{"stats cadence", "[sim]\nstats_every = -1", "stats_every"},
		{"viewers", "[sessions]\nmax_viewers = -2", "max_viewers"},
		{"idle timeout", "[sessions]\nidle_timeout_sec = -1", "idle_timeout_sec"},
		{"per-ip limit", "[sessions]\nmax_conns_per_ip = 0", "max_conns_per_ip"},
		{"total limit", "[sessions]\nmax_conns_per_ip = 10\nmax_total_conns = 5", "max_total_conns"},
		{"token ttl", "[sessions]\ntoken_ttl_hours = -1", "token_ttl_hours"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}

	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.toml")); err == nil {
		t.Error("expected error for missing file")
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger("debug"); err != nil {
		t.Errorf("debug level: %v", err)
	}
	if _, err := NewLogger("loud"); err == nil {
		t.Error("expected error for unknown level")
	}
}

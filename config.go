package main

import (
	"fmt"
	"os"
	"time"

	"github.com/pelletier/go-toml/v2"

	"bvh-server/bvh"
)

// Config holds server settings. Keys missing from a config file keep the
// defaults from DefaultConfig.
type Config struct {
	Addr      string `toml:"addr"`
	ViewerDir string `toml:"viewer_dir"`
	DBPath    string `toml:"db_path"`
	// PublicURL prefixes session links in share QR codes. Empty means the
	// request's own host.
	PublicURL string `toml:"public_url"`
	LogLevel  string `toml:"log_level"`

	Sim      SimConfig      `toml:"sim"`
	BVH      BVHConfig      `toml:"bvh"`
	Sessions SessionsConfig `toml:"sessions"`
}

// SimConfig controls the entity simulation of every session.
type SimConfig struct {
	TickRate      int     `toml:"tick_rate"`
	BroadcastRate int     `toml:"broadcast_rate"`
	ViewportW     float64 `toml:"viewport_w"`
	ViewportH     float64 `toml:"viewport_h"`
	Speed         float64 `toml:"speed"`          // entity speed, units/s
	SteerInterval float64 `toml:"steer_interval"` // max seconds between re-steers
	RadiusMin     float64 `toml:"radius_min"`
	RadiusMax     float64 `toml:"radius_max"`
	MaxEntities   int     `toml:"max_entities"`
	MaxSpawn      int     `toml:"max_spawn"` // per spawn request
	Seed          uint64  `toml:"seed"`      // 0 = random
	Validate      bool    `toml:"validate"`  // check tree invariants every frame
	StatsEvery    int     `toml:"stats_every"`
}

// BVHConfig selects and tunes the tree builder.
type BVHConfig struct {
	Builder  string `toml:"builder"`
	LeafSize int    `toml:"leaf_size"`
}

// SessionsConfig bounds sessions and connections.
type SessionsConfig struct {
	MaxSessions    int     `toml:"max_sessions"`
	MaxViewers     int     `toml:"max_viewers"`
	IdleTimeoutSec float64 `toml:"idle_timeout_sec"`
	MaxConnsPerIP  int     `toml:"max_conns_per_ip"`
	MaxTotalConns  int     `toml:"max_total_conns"`
	TokenTTLHours  float64 `toml:"token_ttl_hours"`
}

// DefaultConfig returns the configuration used when no file is given
func DefaultConfig() Config {
	return Config{
		Addr:     ":8080",
		DBPath:   "bvh.db",
		LogLevel: "info",
		Sim: SimConfig{
			TickRate:      60,
			BroadcastRate: 30,
			ViewportW:     800,
			ViewportH:     600,
			Speed:         100,
			SteerInterval: 3,
			RadiusMin:     3,
			RadiusMax:     10,
			MaxEntities:   2000,
			MaxSpawn:      100,
			StatsEvery:    60,
		},
		BVH: BVHConfig{
			Builder:  bvh.TopDownName,
			LeafSize: 1,
		},
		Sessions: SessionsConfig{
			MaxSessions:    100,
			MaxViewers:     16,
			IdleTimeoutSec: 30,
			MaxConnsPerIP:  5,
			MaxTotalConns:  1000,
			TokenTTLHours:  24,
		},
	}
}

// LoadConfig reads a TOML file over the defaults. An empty path returns the
// defaults.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config %s: %w", path, err)
	}
	return cfg, cfg.Validate()
}

// maxTickRate keeps TickDuration well above zero.
const maxTickRate = 1000

// Validate rejects settings the simulation cannot run with.
func (c Config) Validate() error {
	s := c.Sim
	switch {
	case s.TickRate <= 0 || s.TickRate > maxTickRate:
		return fmt.Errorf("sim.tick_rate must be in 1..%d, got %d", maxTickRate, s.TickRate)
	case s.BroadcastRate <= 0 || s.BroadcastRate > s.TickRate:
		return fmt.Errorf("sim.broadcast_rate must be in 1..%d, got %d", s.TickRate, s.BroadcastRate)
	case s.ViewportW <= 0 || s.ViewportH <= 0:
		return fmt.Errorf("sim viewport must be positive, got %vx%v", s.ViewportW, s.ViewportH)
	case s.RadiusMin <= 0 || s.RadiusMax < s.RadiusMin:
		return fmt.Errorf("sim radius range [%v, %v) is invalid", s.RadiusMin, s.RadiusMax)
	case s.MaxEntities <= 0:
		return fmt.Errorf("sim.max_entities must be positive, got %d", s.MaxEntities)
	case s.MaxSpawn <= 0:
		return fmt.Errorf("sim.max_spawn must be positive, got %d", s.MaxSpawn)
	case s.StatsEvery < 0:
		return fmt.Errorf("sim.stats_every must not be negative, got %d", s.StatsEvery)
	}
	if _, err := bvh.New(c.BVH.Builder, c.BVHOptions()); err != nil {
		return err
	}
	ss := c.Sessions
	switch {
	case ss.MaxSessions <= 0:
		return fmt.Errorf("sessions.max_sessions must be positive, got %d", ss.MaxSessions)
	case ss.MaxViewers <= 0:
		return fmt.Errorf("sessions.max_viewers must be positive, got %d", ss.MaxViewers)
	case ss.IdleTimeoutSec <= 0:
		return fmt.Errorf("sessions.idle_timeout_sec must be positive, got %v", ss.IdleTimeoutSec)
	case ss.MaxConnsPerIP <= 0:
		return fmt.Errorf("sessions.max_conns_per_ip must be positive, got %d", ss.MaxConnsPerIP)
	case ss.MaxTotalConns < ss.MaxConnsPerIP:
		return fmt.Errorf("sessions.max_total_conns must be at least max_conns_per_ip (%d), got %d", ss.MaxConnsPerIP, ss.MaxTotalConns)
	case ss.TokenTTLHours <= 0:
		return fmt.Errorf("sessions.token_ttl_hours must be positive, got %v", ss.TokenTTLHours)
	}
	return nil
}

// BVHOptions returns builder options for this config. Arenas are sized for
// the entity cap.
func (c Config) BVHOptions() bvh.Options {
	opts := bvh.DefaultOptions()
	opts.LeafSize = c.BVH.LeafSize
	opts.MaxBodies = c.Sim.MaxEntities
	return opts
}

// TickDuration is the wall-clock length of one simulation tick.
func (s SimConfig) TickDuration() time.Duration {
	return time.Second / time.Duration(s.TickRate)
}

// BroadcastEvery is the number of ticks between snapshots.
func (s SimConfig) BroadcastEvery() uint64 {
	return uint64(s.TickRate / s.BroadcastRate)
}

func (s SessionsConfig) IdleTimeout() time.Duration {
	return time.Duration(s.IdleTimeoutSec * float64(time.Second))
}

func (s SessionsConfig) TokenTTL() time.Duration {
	return time.Duration(s.TokenTTLHours * float64(time.Hour))
}

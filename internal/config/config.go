// Package config loads tilecity settings from YAML with environment
// overrides, and builds the rule set and weight table they describe.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/talgya/tilecity/internal/district"
	"github.com/talgya/tilecity/internal/rules"
	"github.com/talgya/tilecity/internal/tiles"
)

var ErrInvalid = errors.New("config: invalid")

// Exclusion forbids B next to A in the named directions (all four if empty).
type Exclusion struct {
	A          string   `yaml:"a"`
	B          string   `yaml:"b"`
	Directions []string `yaml:"directions,omitempty"`
}

// API configures the HTTP server.
type API struct {
	Port      int      `yaml:"port"`
	AdminKey  string   `yaml:"admin_key"`
	Origins   []string `yaml:"cors_origins"`
	RateLimit int      `yaml:"generate_per_minute"`
}

// Log configures the default slog handler.
type Log struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json, or auto (text on a terminal)
}

// Engine configures animated generation.
type Engine struct {
	TickMillis int `yaml:"tick_ms"`
}

// Config is the full settings tree.
type Config struct {
	Width           int                `yaml:"width"`
	Height          int                `yaml:"height"`
	Seed            int64              `yaml:"seed"` // 0 = random
	AtomicPlacement bool               `yaml:"atomic_placement"`
	ReplayOnUndo    bool               `yaml:"replay_on_undo"`
	Weights         map[string]float64 `yaml:"weights,omitempty"`
	Exclusions      []Exclusion        `yaml:"exclusions,omitempty"` // nil = built-in rules

	District        district.Config `yaml:"district"`
	DistrictEnabled bool            `yaml:"district_bias"`

	DBPath string `yaml:"db_path"`
	API    API    `yaml:"api"`
	Log    Log    `yaml:"log"`
	Engine Engine `yaml:"engine"`
}

// Default returns the settings used when no file is given.
func Default() Config {
	return Config{
		Width:        32,
		Height:       24,
		ReplayOnUndo: true,
		District:     district.DefaultConfig(),
		DBPath:       "data/tilecity.db",
		API: API{
			Port:      8080,
			RateLimit: 6,
		},
		Log:    Log{Level: "info", Format: "auto"},
		Engine: Engine{TickMillis: 50},
	}
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

func (c *Config) applyEnv() error {
	if v := os.Getenv("TILECITY_ADMIN_KEY"); v != "" {
		c.API.AdminKey = v
	}
	if v := os.Getenv("TILECITY_DB"); v != "" {
		c.DBPath = v
	}
	if v := os.Getenv("TILECITY_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("parse TILECITY_PORT: %w", err)
		}
		c.API.Port = port
	}
	if v := os.Getenv("TILECITY_SEED"); v != "" {
		seed, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("parse TILECITY_SEED: %w", err)
		}
		c.Seed = seed
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		c.API.Origins = strings.Split(v, ",")
	}
	return nil
}

// Validate checks sizes and that the rule and weight tables build.
func (c Config) Validate() error {
	if c.Width <= 0 || c.Height <= 0 {
		return fmt.Errorf("%w: map size %dx%d", ErrInvalid, c.Width, c.Height)
	}
	if c.API.Port < 0 || c.API.Port > 65535 {
		return fmt.Errorf("%w: port %d", ErrInvalid, c.API.Port)
	}
	if c.Engine.TickMillis < 0 {
		return fmt.Errorf("%w: tick_ms %d", ErrInvalid, c.Engine.TickMillis)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "auto", "text", "json":
	default:
		return fmt.Errorf("%w: log format %q", ErrInvalid, c.Log.Format)
	}
	if _, err := c.RuleSet(); err != nil {
		return err
	}
	if _, err := c.WeightTable(); err != nil {
		return err
	}
	return nil
}

// RuleSet builds the adjacency rules. Without configured exclusions the
// built-in rules apply.
func (c Config) RuleSet() (*rules.RuleSet, error) {
	if c.Exclusions == nil {
		return rules.Default(), nil
	}

	ex := make([]rules.Exclusion, 0, len(c.Exclusions))
	for i, e := range c.Exclusions {
		a, err := tiles.ParseCategory(e.A)
		if err != nil {
			return nil, fmt.Errorf("%w: exclusion %d: %v", ErrInvalid, i, err)
		}
		b, err := tiles.ParseCategory(e.B)
		if err != nil {
			return nil, fmt.Errorf("%w: exclusion %d: %v", ErrInvalid, i, err)
		}
		var dirs []rules.Direction
		for _, s := range e.Directions {
			d, err := rules.ParseDirection(s)
			if err != nil {
				return nil, fmt.Errorf("%w: exclusion %d: %v", ErrInvalid, i, err)
			}
			dirs = append(dirs, d)
		}
		ex = append(ex, rules.Exclusion{A: a, B: b, Directions: dirs})
	}

	rs, err := rules.New(ex...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return rs, nil
}

// WeightTable overlays configured weights on the defaults.
func (c Config) WeightTable() (tiles.Weights, error) {
	w := tiles.DefaultWeights()
	for name, v := range c.Weights {
		cat, err := tiles.ParseCategory(name)
		if err != nil {
			return w, fmt.Errorf("%w: weights: %v", ErrInvalid, err)
		}
		if !cat.IsPlaceable() {
			return w, fmt.Errorf("%w: weights: %s is not placeable", ErrInvalid, cat)
		}
		w[cat] = v
	}
	if err := w.Validate(); err != nil {
		return w, fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	return w, nil
}

// DistrictConfig returns the district field settings, seeded from the map
// seed when no district seed is set.
func (c Config) DistrictConfig(mapSeed int64) district.Config {
	d := c.District
	if d.Seed == 0 {
		d.Seed = mapSeed
	}
	return d
}

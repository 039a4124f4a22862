// Command tilecity serves and generates tile-based city maps.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/talgya/tilecity/internal/config"
	"github.com/talgya/tilecity/internal/district"
	"github.com/talgya/tilecity/internal/entropy"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/placement"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "tilecity",
	Short: "Constraint-driven city tile placement",
	Long: `tilecity places city tiles (residential, commercial, industrial, road, park)
on a grid under adjacency rules, propagating constraints after every placement,
and can fill the remaining cells by weighted wave function collapse.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "YAML config file (defaults apply when empty)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the config file and installs the default logger.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	setupLogging(cfg.Log)
	return cfg, nil
}

// setupLogging installs a text handler on terminals and JSON otherwise.
// Logs go to stderr so map output on stdout stays clean.
func setupLogging(cfg config.Log) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	format := strings.ToLower(cfg.Format)
	if format == "" || format == "auto" {
		format = "json"
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			format = "text"
		}
	}

	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, opts)
	}
	slog.SetDefault(slog.New(handler))
}

// buildCoordinator creates the grid and coordinator cfg describes. The seed
// actually used is returned so runs can be reproduced.
func buildCoordinator(cfg config.Config, opts placement.Options) (*placement.Coordinator, int64, error) {
	rs, err := cfg.RuleSet()
	if err != nil {
		return nil, 0, err
	}
	weights, err := cfg.WeightTable()
	if err != nil {
		return nil, 0, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = entropy.CryptoSeed()
	}

	gridOpts := []grid.Option{
		grid.WithRand(entropy.New(seed)),
		grid.WithWeights(weights),
		grid.WithAtomicPlacement(cfg.AtomicPlacement),
	}
	if cfg.DistrictEnabled {
		gridOpts = append(gridOpts, grid.WithBias(district.New(cfg.DistrictConfig(seed))))
	}

	g, err := grid.New(cfg.Width, cfg.Height, rs, gridOpts...)
	if err != nil {
		return nil, 0, fmt.Errorf("create grid: %w", err)
	}
	opts.ReplayOnUndo = cfg.ReplayOnUndo
	return placement.New(g, opts), seed, nil
}

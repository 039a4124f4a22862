package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/tilecity/internal/api"
	"github.com/talgya/tilecity/internal/engine"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/persistence"
	"github.com/talgya/tilecity/internal/placement"
)

var (
	servePort     int
	serveAutosave time.Duration
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the map over HTTP with live updates",
		Long: `Restore the saved map (or start an empty one), then serve the HTTP API,
the SSE change stream and the websocket command channel until interrupted.
The map is saved periodically and on shutdown.`,
		RunE: runServe,
	}

	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "HTTP port (overrides config)")
	serveCmd.Flags().DurationVar(&serveAutosave, "autosave", 5*time.Minute, "Autosave interval, 0 disables")

	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if servePort > 0 {
		cfg.API.Port = servePort
	}

	slog.Info("tilecity starting", "width", cfg.Width, "height", cfg.Height,
		"atomic_placement", cfg.AtomicPlacement, "replay_on_undo", cfg.ReplayOnUndo)

	// ── Database ──────────────────────────────────────────────────────
	if dir := filepath.Dir(cfg.DBPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create data dir: %w", err)
		}
	}
	db, err := persistence.Open(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()
	slog.Info("database opened", "path", cfg.DBPath)

	// Reuse the saved seed so a restored map keeps generating the same way.
	if cfg.Seed == 0 {
		if v, err := db.GetMeta("seed"); err == nil {
			if seed, err := strconv.ParseInt(v, 10, 64); err == nil {
				cfg.Seed = seed
			}
		}
	}

	// ── Map ───────────────────────────────────────────────────────────
	coord, seed, err := buildCoordinator(cfg, placement.Options{Effects: placement.LogEffects{}})
	if err != nil {
		return err
	}
	if err := db.SaveMeta("seed", strconv.FormatInt(seed, 10)); err != nil {
		return fmt.Errorf("save seed: %w", err)
	}

	loaded, err := db.LoadState(coord)
	if err != nil {
		return err
	}
	st := coord.Stats()
	if loaded {
		slog.Info("map restored", "placed", humanize.Comma(int64(st.Placed)), "history", st.History, "seed", seed)
	} else {
		slog.Info("no saved map found, starting empty", "seed", seed)
	}

	// ── Engine ────────────────────────────────────────────────────────
	eng := engine.NewEngine(coord, time.Duration(cfg.Engine.TickMillis)*time.Millisecond)
	eng.OnTick = func(tick uint64, res grid.StepResult) {
		slog.Debug("collapsed", "tick", tick, "x", res.Point.X, "y", res.Point.Y, "category", res.Category, "forced", res.Forced)
	}
	eng.OnDone = func(tick uint64, err error) {
		if err != nil {
			slog.Warn("animated generation hit a contradiction", "ticks", tick, "error", err)
			return
		}
		slog.Info("animated generation finished", "ticks", tick)
	}

	// ── HTTP API ──────────────────────────────────────────────────────
	if cfg.API.AdminKey == "" {
		slog.Warn("TILECITY_ADMIN_KEY not set, admin endpoints will be disabled")
	}
	apiServer := &api.Server{
		Coord:             coord,
		Eng:               eng,
		DB:                db,
		Port:              cfg.API.Port,
		AdminKey:          cfg.API.AdminKey,
		Origins:           cfg.API.Origins,
		GeneratePerMinute: cfg.API.RateLimit,
	}
	srv := apiServer.Start()

	// ── Run ───────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(cmd.OutOrStdout(), "tilecity: %dx%d map, %s tiles placed\n", st.Width, st.Height, humanize.Comma(int64(st.Placed)))
	fmt.Fprintf(cmd.OutOrStdout(), "API: http://localhost:%d/api/v1/status\n", cfg.API.Port)

	var autosave <-chan time.Time
	if serveAutosave > 0 {
		t := time.NewTicker(serveAutosave)
		defer t.Stop()
		autosave = t.C
	}

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-autosave:
			if err := db.SaveState(coord); err != nil {
				slog.Error("autosave failed", "error", err)
			}
		}
	}
	slog.Info("shutting down")

	eng.Stop()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("HTTP shutdown", "error", err)
	}

	// Final save on shutdown.
	slog.Info("final save...")
	if err := db.SaveState(coord); err != nil {
		return fmt.Errorf("final save: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Server stopped. Map saved.")
	return nil
}

package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tilecity/internal/config"
	"github.com/talgya/tilecity/internal/persistence"
	"github.com/talgya/tilecity/internal/placement"
)

func execute(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	require.NoError(t, rootCmd.Execute())
	return out.String()
}

func TestGenerateCommand(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "gen.db")
	out := execute(t, "generate", "-W", "6", "-H", "3", "--seed", "5", "--district", "--save", dbPath)

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	for _, l := range lines {
		assert.Len(t, l, 6)
		assert.NotContains(t, l, ".")
	}

	db, err := persistence.Open(dbPath)
	require.NoError(t, err)
	defer db.Close()
	snap, err := db.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, 6, snap.Width)
	seed, err := db.GetMeta("seed")
	require.NoError(t, err)
	assert.Equal(t, "5", seed)
}

func TestRulesCommand(t *testing.T) {
	out := execute(t, "rules")
	assert.Contains(t, out, "north")
	assert.Contains(t, out, "weights:")
	assert.Contains(t, out, "Residential")
}

func TestBuildCoordinatorSeed(t *testing.T) {
	cfg := config.Default()
	cfg.Width, cfg.Height = 4, 4

	c, seed, err := buildCoordinator(cfg, placement.Options{})
	require.NoError(t, err)
	assert.NotZero(t, seed)
	assert.Equal(t, 4, c.Width())

	cfg.Seed = 99
	a, _, err := buildCoordinator(cfg, placement.Options{})
	require.NoError(t, err)
	b, _, err := buildCoordinator(cfg, placement.Options{})
	require.NoError(t, err)
	require.NoError(t, a.Generate())
	require.NoError(t, b.Generate())
	assert.Equal(t, a.Format(), b.Format())
}

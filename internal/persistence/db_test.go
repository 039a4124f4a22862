package persistence_test

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/tilecity/internal/entropy"
	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/history"
	"github.com/talgya/tilecity/internal/persistence"
	"github.com/talgya/tilecity/internal/placement"
	"github.com/talgya/tilecity/internal/rules"
	"github.com/talgya/tilecity/internal/tiles"
)

func openDB(t *testing.T) *persistence.DB {
	t.Helper()
	db, err := persistence.Open(filepath.Join(t.TempDir(), "tilecity.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func newCoordinator(t *testing.T, w, h int) *placement.Coordinator {
	t.Helper()
	g, err := grid.New(w, h, rules.Default(), grid.WithRand(entropy.New(21)))
	require.NoError(t, err)
	return placement.New(g, placement.Options{ReplayOnUndo: true})
}

func TestEmptyDatabase(t *testing.T) {
	db := openDB(t)

	ok, err := db.HasSnapshot()
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = db.LoadSnapshot()
	assert.ErrorIs(t, err, persistence.ErrNoSnapshot)

	loaded, err := db.LoadState(newCoordinator(t, 2, 2))
	require.NoError(t, err)
	assert.False(t, loaded)
}

func TestSnapshotRoundTrip(t *testing.T) {
	db := openDB(t)
	want := placement.Snapshot{
		Width:  3,
		Height: 2,
		Tiles: [][]tiles.Category{
			{tiles.Residential, tiles.Empty, tiles.Road},
			{tiles.Empty, tiles.Park, tiles.Empty},
		},
		History: []history.Action{
			history.Place(0, 0, tiles.Residential),
			history.Place(2, 0, tiles.Road),
			history.Place(1, 1, tiles.Park),
			history.Place(0, 1, tiles.Commercial),
			history.Remove(0, 1, tiles.Commercial),
		},
		Redo: []history.Action{history.Place(2, 1, tiles.Industrial)},
	}
	require.NoError(t, db.SaveSnapshot(want))

	ok, err := db.HasSnapshot()
	require.NoError(t, err)
	assert.True(t, ok)

	got, err := db.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, want, got)

	// A second save fully replaces the first.
	want.Tiles[0][0] = tiles.Empty
	want.History = want.History[1:]
	want.Redo = nil
	require.NoError(t, db.SaveSnapshot(want))
	got, err = db.LoadSnapshot()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestStateRoundTrip(t *testing.T) {
	db := openDB(t)
	src := newCoordinator(t, 4, 4)
	require.NoError(t, src.TryPlace(1, 1, tiles.Industrial))
	require.NoError(t, src.TryPlace(3, 3, tiles.Park))
	require.NoError(t, src.Remove(3, 3))
	require.NoError(t, db.SaveState(src))

	events, err := db.RecentEvents(10)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, "remove", events[0].Kind)
	assert.Equal(t, []placement.CellChange{{X: 1, Y: 1, Category: tiles.Industrial}}, events[2].Cells)

	// Saving again adds no duplicate events.
	require.NoError(t, db.SaveState(src))
	events, err = db.RecentEvents(10)
	require.NoError(t, err)
	assert.Len(t, events, 3)

	dst := newCoordinator(t, 4, 4)
	loaded, err := db.LoadState(dst)
	require.NoError(t, err)
	assert.True(t, loaded)
	assert.Equal(t, src.Tiles(), dst.Tiles())
	assert.Equal(t, 3, dst.Stats().History)

	ok, err := dst.CanPlace(1, 2, tiles.Residential)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, dst.DrainEvents())

	a, err := dst.Undo()
	require.NoError(t, err)
	assert.Equal(t, history.Remove(3, 3, tiles.Park), a)
	assert.Equal(t, tiles.Park, dst.Tiles()[3][3])
}

func TestLoadStateSizeMismatch(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.SaveState(newCoordinator(t, 4, 4)))

	_, err := db.LoadState(newCoordinator(t, 5, 5))
	assert.ErrorIs(t, err, placement.ErrSizeMismatch)
}

func TestMeta(t *testing.T) {
	db := openDB(t)
	require.NoError(t, db.SaveMeta("seed", "42"))
	require.NoError(t, db.SaveMeta("seed", "43"))
	v, err := db.GetMeta("seed")
	require.NoError(t, err)
	assert.Equal(t, "43", v)

	_, err = db.GetMeta("missing")
	assert.Error(t, err)
}

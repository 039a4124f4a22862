// Package placement is the boundary between input/UI code and the
// constraint grid. It bounds-checks requests, validates and commits
// placements, keeps the render-facing tile map and the undo log in step with
// the grid, and publishes change events.
package placement

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/talgya/tilecity/internal/grid"
	"github.com/talgya/tilecity/internal/history"
	"github.com/talgya/tilecity/internal/tiles"
)

var (
	ErrOutOfBounds   = errors.New("placement: coordinate out of bounds")
	ErrNothingPlaced = errors.New("placement: no tile to remove")
	ErrSizeMismatch  = errors.New("placement: snapshot size does not match the grid")
)

// Options configures a Coordinator.
type Options struct {
	// ReplayOnUndo rebuilds every possibility set from the committed tiles
	// after an undo, redo or removal. Without it only the edited cell is
	// reset, and neighbours stay narrowed.
	ReplayOnUndo bool

	Renderer Renderer
	Effects  EffectSink
}

// Coordinator owns the grid, tile map and action log. All methods are safe
// for concurrent use; each runs to completion under one lock.
type Coordinator struct {
	mu sync.Mutex

	grid     *grid.Grid
	tiles    *TileMap
	log      history.Log
	renderer Renderer
	effects  EffectSink
	replay   bool

	events  []Event
	drained int
	seq     uint64
	subs    map[string]chan Event
}

// New wraps g, which may already hold committed cells.
func New(g *grid.Grid, opts Options) *Coordinator {
	c := &Coordinator{
		grid:     g,
		tiles:    NewTileMap(g.Width(), g.Height()),
		renderer: opts.Renderer,
		effects:  opts.Effects,
		replay:   opts.ReplayOnUndo,
		subs:     make(map[string]chan Event),
	}
	c.syncFromGrid()
	return c
}

// Width returns the number of columns.
func (c *Coordinator) Width() int { return c.grid.Width() }

// Height returns the number of rows.
func (c *Coordinator) Height() int { return c.grid.Height() }

func (c *Coordinator) checkBounds(x, y int) error {
	if !c.grid.InBounds(x, y) {
		return fmt.Errorf("%w: (%d,%d) on %dx%d map", ErrOutOfBounds, x, y, c.grid.Width(), c.grid.Height())
	}
	return nil
}

// CanPlace reports whether c could be placed at (x, y) right now.
func (c *Coordinator) CanPlace(x, y int, cat tiles.Category) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkBounds(x, y); err != nil {
		return false, err
	}
	return c.grid.CanPlace(x, y, cat), nil
}

// PossibleCategories returns the categories still admissible at (x, y).
func (c *Coordinator) PossibleCategories(x, y int) (tiles.Set, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkBounds(x, y); err != nil {
		return 0, err
	}
	return c.grid.PossibleCategories(x, y), nil
}

// Preview is what a cursor highlight needs to know about one cell.
type Preview struct {
	X         int            `json:"x"`
	Y         int            `json:"y"`
	Category  tiles.Category `json:"category"`
	Collapsed bool           `json:"collapsed"`
	Possible  tiles.Set      `json:"-"`
	Placeable tiles.Set      `json:"-"` // categories CanPlace accepts here
	Handle    Handle         `json:"-"` // render handle of the committed tile, 0 if none
}

// Inspect returns the preview state of (x, y).
func (c *Coordinator) Inspect(x, y int) (Preview, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkBounds(x, y); err != nil {
		return Preview{}, err
	}
	cell := c.grid.Cell(x, y)
	p := Preview{
		X:         x,
		Y:         y,
		Category:  c.tiles.Get(x, y),
		Collapsed: cell.Collapsed(),
		Possible:  cell.Possible(),
		Handle:    c.tiles.Handle(x, y),
	}
	for _, cat := range tiles.Placeable {
		if c.grid.CanPlace(x, y, cat) {
			p.Placeable = p.Placeable.Add(cat)
		}
	}
	return p, nil
}

// TryPlace validates and commits cat at (x, y). grid.ErrInvalidPlacement
// means nothing happened. A contradiction error still leaves the tile placed
// and recorded unless the grid is atomic, in which case nothing is committed.
func (c *Coordinator) TryPlace(x, y int, cat tiles.Category) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkBounds(x, y); err != nil {
		return err
	}

	err := c.grid.Place(x, y, cat)
	if errors.Is(err, grid.ErrInvalidPlacement) {
		return err
	}
	if err != nil && c.grid.Cell(x, y).Category() != cat {
		// Atomic grid rolled the placement back.
		slog.Info("placement rolled back", "x", x, "y", y, "category", cat, "error", err)
		c.emit(Event{Kind: "place", Error: err.Error()})
		return err
	}

	c.tiles.set(x, y, cat, c.renderer)
	c.log.Record(history.Place(x, y, cat))
	if c.effects != nil {
		c.effects.Burst(x, y, cat)
	}

	e := Event{
		Kind:     "place",
		Cells:    []CellChange{{X: x, Y: y, Category: cat}},
		Narrowed: c.grid.Narrowed(),
	}
	if err != nil {
		slog.Warn("placement left a contradiction", "x", x, "y", y, "category", cat, "error", err)
		e.Error = err.Error()
	}
	c.emit(e)
	return err
}

// Remove bulldozes the committed tile at (x, y) and records it for undo.
func (c *Coordinator) Remove(x, y int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.checkBounds(x, y); err != nil {
		return err
	}
	prev := c.tiles.Get(x, y)
	if prev == tiles.Empty {
		return ErrNothingPlaced
	}

	b := &board{c: c}
	b.ClearTile(x, y)
	c.log.Record(history.Remove(x, y, prev))
	b.finish()

	c.emit(Event{Kind: "remove", Cells: b.changed})
	return nil
}

// Undo reverts the newest recorded action. history.ErrNothingToUndo means the
// log is empty. Restoring a removed tile fails with grid.ErrInvalidPlacement
// when the cell has since been filled or its neighbours no longer admit it.
func (c *Coordinator) Undo() (history.Action, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := &board{c: c}
	a, err := c.log.Undo(b)
	if err != nil {
		return a, err
	}
	b.finish()
	c.emit(Event{Kind: "undo", Cells: b.changed})
	return a, nil
}

// Redo reapplies the newest undone action, under the same rules as Undo.
func (c *Coordinator) Redo() (history.Action, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := &board{c: c}
	a, err := c.log.Redo(b)
	if err != nil {
		return a, err
	}
	b.finish()
	c.emit(Event{Kind: "redo", Cells: b.changed})
	return a, nil
}

// Generate fills every remaining cell autonomously. On contradiction the
// cells collapsed so far stay on the map and the error is returned.
// Generated tiles are not recorded in the undo log, but pending redo entries
// are dropped once any cell was filled.
func (c *Coordinator) Generate() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	err := c.grid.RunAutonomousGeneration()
	changed := c.syncFromGrid()
	if len(changed) > 0 {
		c.log.DropRedo()
	}

	e := Event{Kind: "generate", Cells: changed}
	if err != nil {
		e.Error = err.Error()
		slog.Warn("generation stopped on contradiction", "error", err, "collapsed", c.grid.CollapsedCount())
	}
	c.emit(e)
	return err
}

// GenerateStep collapses a single cell. res.Done reports that the map is full.
func (c *Coordinator) GenerateStep() (grid.StepResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.grid.Step()
	if res.Done {
		return res, nil
	}

	changed := c.syncFromGrid()
	if len(changed) > 0 {
		c.log.DropRedo()
	}
	e := Event{Kind: "generate", Cells: changed, Narrowed: c.grid.Narrowed()}
	if err != nil {
		e.Error = err.Error()
	}
	c.emit(e)
	return res, err
}

// Reset clears the map, the grid and the undo log.
func (c *Coordinator) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for y := 0; y < c.tiles.Height(); y++ {
		for x := 0; x < c.tiles.Width(); x++ {
			if c.tiles.Get(x, y) != tiles.Empty {
				c.tiles.clear(x, y, c.renderer)
			}
		}
	}
	c.grid.Reset()
	c.log.Clear()
	c.emit(Event{Kind: "reset"})
}

// Tiles returns the committed map as rows.
func (c *Coordinator) Tiles() [][]tiles.Category {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tiles.Rows()
}

// Format renders the committed map as text.
func (c *Coordinator) Format() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tiles.Format()
}

// Stats summarises the coordinator state.
type Stats struct {
	Width    int                    `json:"width"`
	Height   int                    `json:"height"`
	Placed   int                    `json:"placed"`
	Counts   map[tiles.Category]int `json:"counts"`
	History  int                    `json:"history"`
	Redo     int                    `json:"redo"`
	LastSeq  uint64                 `json:"last_seq"`
	Complete bool                   `json:"complete"`
}

// Stats returns a summary of the map and the undo log.
func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	placed := c.tiles.Count()
	return Stats{
		Width:    c.tiles.Width(),
		Height:   c.tiles.Height(),
		Placed:   placed,
		Counts:   c.tiles.Counts(),
		History:  c.log.Len(),
		Redo:     c.log.RedoLen(),
		LastSeq:  c.seq,
		Complete: placed == c.tiles.Width()*c.tiles.Height(),
	}
}

// syncFromGrid copies collapsed grid cells the tile map does not show yet.
// Callers hold c.mu (or own c exclusively).
func (c *Coordinator) syncFromGrid() []CellChange {
	var changed []CellChange
	for y := 0; y < c.grid.Height(); y++ {
		for x := 0; x < c.grid.Width(); x++ {
			cat := c.grid.Cell(x, y).Category()
			if cat == tiles.Empty || cat == c.tiles.Get(x, y) {
				continue
			}
			c.tiles.set(x, y, cat, c.renderer)
			changed = append(changed, CellChange{X: x, Y: y, Category: cat})
		}
	}
	return changed
}

// rebuild re-derives every possibility set by replaying the committed tiles
// in row-major order. Callers hold c.mu.
func (c *Coordinator) rebuild() {
	c.grid.Reset()
	for y := 0; y < c.tiles.Height(); y++ {
		for x := 0; x < c.tiles.Width(); x++ {
			cat := c.tiles.Get(x, y)
			if cat == tiles.Empty {
				continue
			}
			err := c.grid.Place(x, y, cat)
			if err != nil && c.grid.Cell(x, y).Category() != cat {
				err = c.grid.Commit(x, y, cat)
			}
			if err != nil {
				slog.Warn("replayed tile conflicts with the map", "x", x, "y", y, "category", cat, "error", err)
			}
		}
	}
}

// board applies undo/redo edits to the tile map and grid. Callers hold c.mu.
type board struct {
	c       *Coordinator
	changed []CellChange
}

// SetTile refuses cat unless (x, y) is empty and every committed neighbour
// still accepts it.
func (b *board) SetTile(x, y int, cat tiles.Category) error {
	if b.c.tiles.Get(x, y) != tiles.Empty || !b.c.grid.CanPlace(x, y, cat) {
		return fmt.Errorf("%w: %s at (%d,%d)", grid.ErrInvalidPlacement, cat, x, y)
	}
	b.c.tiles.set(x, y, cat, b.c.renderer)
	if !b.c.replay {
		if err := b.c.grid.Commit(x, y, cat); err != nil {
			slog.Warn("restored tile left a contradiction", "x", x, "y", y, "category", cat, "error", err)
		}
	}
	b.changed = append(b.changed, CellChange{X: x, Y: y, Category: cat})
	return nil
}

func (b *board) ClearTile(x, y int) {
	b.c.tiles.clear(x, y, b.c.renderer)
	if !b.c.replay {
		b.c.grid.ResetCell(x, y)
	}
	b.changed = append(b.changed, CellChange{X: x, Y: y, Category: tiles.Empty})
}

// finish rebuilds the grid once all edits are applied, in replay mode.
func (b *board) finish() {
	if b.c.replay {
		b.c.rebuild()
	}
}

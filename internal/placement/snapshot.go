package placement

import (
	"fmt"

	"github.com/talgya/tilecity/internal/history"
	"github.com/talgya/tilecity/internal/tiles"
)

// Snapshot is the persistent state of a coordinator: the committed tiles
// plus both undo stacks. Possibility sets are derived, not saved.
type Snapshot struct {
	Width   int                `json:"width"`
	Height  int                `json:"height"`
	Tiles   [][]tiles.Category `json:"tiles"`
	History []history.Action   `json:"history"`
	Redo    []history.Action   `json:"redo"`
}

// Snapshot copies the committed state.
func (c *Coordinator) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Snapshot{
		Width:   c.tiles.Width(),
		Height:  c.tiles.Height(),
		Tiles:   c.tiles.Rows(),
		History: c.log.History(),
		Redo:    c.log.Pending(),
	}
}

// Restore replaces the committed state with s and re-derives the grid.
func (c *Coordinator) Restore(s Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if s.Width != c.tiles.Width() || s.Height != c.tiles.Height() || len(s.Tiles) != s.Height {
		return fmt.Errorf("%w: got %dx%d, want %dx%d", ErrSizeMismatch, s.Width, s.Height, c.tiles.Width(), c.tiles.Height())
	}
	for y, row := range s.Tiles {
		if len(row) != s.Width {
			return fmt.Errorf("%w: row %d has %d cells", ErrSizeMismatch, y, len(row))
		}
		for x, cat := range row {
			if !cat.Valid() {
				return fmt.Errorf("restore tile (%d,%d): invalid category %d", x, y, cat)
			}
		}
	}

	for i, a := range s.History {
		if err := a.Validate(s.Width, s.Height); err != nil {
			return fmt.Errorf("restore history entry %d: %w", i, err)
		}
	}
	for i, a := range s.Redo {
		if err := a.Validate(s.Width, s.Height); err != nil {
			return fmt.Errorf("restore redo entry %d: %w", i, err)
		}
	}

	var changed []CellChange
	for y, row := range s.Tiles {
		for x, cat := range row {
			if c.tiles.Get(x, y) == cat {
				continue
			}
			c.tiles.set(x, y, cat, c.renderer)
			changed = append(changed, CellChange{X: x, Y: y, Category: cat})
		}
	}
	c.rebuild()
	c.log.Restore(s.History, s.Redo)

	c.emit(Event{Kind: "restore", Cells: changed})
	return nil
}

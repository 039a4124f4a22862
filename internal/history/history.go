// Package history keeps the linear undo/redo log of committed tile edits.
package history

import (
	"errors"
	"fmt"

	"github.com/talgya/tilecity/internal/tiles"
)

var (
	ErrNothingToUndo = errors.New("history: nothing to undo")
	ErrNothingToRedo = errors.New("history: nothing to redo")
	ErrInvalidAction = errors.New("history: invalid action")
)

// Kind tags an Action.
type Kind uint8

const (
	PlaceTile  Kind = iota // Category is the tile that was placed
	RemoveTile             // Category is the tile that was removed
)

func (k Kind) String() string {
	switch k {
	case PlaceTile:
		return "place"
	case RemoveTile:
		return "remove"
	default:
		return fmt.Sprintf("Kind(%d)", uint8(k))
	}
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) {
	if k > RemoveTile {
		return nil, fmt.Errorf("invalid action kind %d", uint8(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText decodes "place" or "remove".
func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "place":
		*k = PlaceTile
	case "remove":
		*k = RemoveTile
	default:
		return fmt.Errorf("unknown action kind %q", text)
	}
	return nil
}

// Action is one committed edit of the tile map.
type Action struct {
	Kind     Kind           `json:"kind"`
	X        int            `json:"x"`
	Y        int            `json:"y"`
	Category tiles.Category `json:"category"`
}

// Place returns a PlaceTile action.
func Place(x, y int, c tiles.Category) Action {
	return Action{Kind: PlaceTile, X: x, Y: y, Category: c}
}

// Remove returns a RemoveTile action remembering the removed category.
func Remove(x, y int, previous tiles.Category) Action {
	return Action{Kind: RemoveTile, X: x, Y: y, Category: previous}
}

// Validate checks that a could have been recorded on a width x height map.
func (a Action) Validate(width, height int) error {
	switch {
	case a.Kind > RemoveTile:
		return fmt.Errorf("%w: kind %d", ErrInvalidAction, uint8(a.Kind))
	case !a.Category.IsPlaceable():
		return fmt.Errorf("%w: category %d", ErrInvalidAction, uint8(a.Category))
	case a.X < 0 || a.Y < 0 || a.X >= width || a.Y >= height:
		return fmt.Errorf("%w: (%d,%d) outside %dx%d", ErrInvalidAction, a.X, a.Y, width, height)
	}
	return nil
}

func (a Action) String() string {
	return fmt.Sprintf("%s %s at (%d,%d)", a.Kind, a.Category, a.X, a.Y)
}

// Board is the committed tile map that undo and redo rewrite. SetTile may
// refuse a tile the current map no longer admits; the log is then unchanged.
type Board interface {
	SetTile(x, y int, c tiles.Category) error
	ClearTile(x, y int)
}

// Log holds committed actions (newest last) and undone ones awaiting redo.
// The zero value is ready to use.
type Log struct {
	history []Action
	redo    []Action
}

// Record appends a committed action. Any pending redo entries are dropped.
func (l *Log) Record(a Action) {
	l.history = append(l.history, a)
	l.redo = l.redo[:0]
}

// DropRedo discards pending redo entries. Edits made outside the log call it
// so redo never writes over them.
func (l *Log) DropRedo() {
	l.redo = l.redo[:0]
}

// Undo reverts the newest action on b.
func (l *Log) Undo(b Board) (Action, error) {
	if len(l.history) == 0 {
		return Action{}, ErrNothingToUndo
	}
	a := l.history[len(l.history)-1]

	switch a.Kind {
	case PlaceTile:
		b.ClearTile(a.X, a.Y)
	case RemoveTile:
		if err := b.SetTile(a.X, a.Y, a.Category); err != nil {
			return a, fmt.Errorf("undo %s: %w", a, err)
		}
	}

	l.history = l.history[:len(l.history)-1]
	l.redo = append(l.redo, a)
	return a, nil
}

// Redo reapplies the most recently undone action on b.
func (l *Log) Redo(b Board) (Action, error) {
	if len(l.redo) == 0 {
		return Action{}, ErrNothingToRedo
	}
	a := l.redo[len(l.redo)-1]

	switch a.Kind {
	case PlaceTile:
		if err := b.SetTile(a.X, a.Y, a.Category); err != nil {
			return a, fmt.Errorf("redo %s: %w", a, err)
		}
	case RemoveTile:
		b.ClearTile(a.X, a.Y)
	}

	l.redo = l.redo[:len(l.redo)-1]
	l.history = append(l.history, a)
	return a, nil
}

// Len returns the number of committed actions.
func (l *Log) Len() int { return len(l.history) }

// RedoLen returns the number of actions available to redo.
func (l *Log) RedoLen() int { return len(l.redo) }

// History returns a copy of the committed actions, oldest first.
func (l *Log) History() []Action { return append([]Action(nil), l.history...) }

// Pending returns a copy of the redo stack, oldest first.
func (l *Log) Pending() []Action { return append([]Action(nil), l.redo...) }

// Restore replaces both stacks, e.g. after loading a saved map.
func (l *Log) Restore(history, redo []Action) {
	l.history = append([]Action(nil), history...)
	l.redo = append([]Action(nil), redo...)
}

// Clear drops every entry.
func (l *Log) Clear() {
	l.history = nil
	l.redo = nil
}

// Package grid implements the constraint grid behind tile placement: each
// cell keeps the categories still admissible under the adjacency rules, and
// every placement or autonomous collapse is propagated outward breadth-first.
package grid

import (
	"errors"
	"fmt"
	"slices"

	"github.com/zyedidia/generic/mapset"

	"github.com/talgya/tilecity/internal/entropy"
	"github.com/talgya/tilecity/internal/rules"
	"github.com/talgya/tilecity/internal/tiles"
)

var (
	ErrInvalidPlacement = errors.New("grid: invalid placement")
	ErrContradiction    = errors.New("grid: contradiction")
	ErrAlreadyCollapsed = errors.New("grid: cell already collapsed")
	ErrInvalidSize      = errors.New("grid: width and height must be positive")
)

// ContradictionError reports the cell whose possibility set became empty.
type ContradictionError struct {
	X, Y int
}

func (e *ContradictionError) Error() string {
	return fmt.Sprintf("grid: contradiction at (%d,%d)", e.X, e.Y)
}

// Is makes errors.Is(err, ErrContradiction) match.
func (e *ContradictionError) Is(target error) bool {
	return target == ErrContradiction
}

// Point is a grid coordinate.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// Bias scales the base weight of a category at a position during collapse.
// A factor of 1 leaves the weight table unchanged.
type Bias interface {
	Factor(x, y int, c tiles.Category) float64
}

// Option configures a Grid.
type Option func(*Grid)

// WithRand sets the random source used for collapse choice and tie-breaking.
func WithRand(src entropy.Source) Option {
	return func(g *Grid) { g.rng = src }
}

// WithWeights replaces the default collapse weight table.
func WithWeights(w tiles.Weights) Option {
	return func(g *Grid) { g.weights = w }
}

// WithBias installs a per-cell weight multiplier.
func WithBias(b Bias) Option {
	return func(g *Grid) { g.bias = b }
}

// WithAtomicPlacement makes Place all-or-nothing: a contradiction restores
// every cell to its state before the call, target included.
func WithAtomicPlacement(atomic bool) Option {
	return func(g *Grid) { g.atomic = atomic }
}

// Grid owns width*height cells indexed y*width+x. Not safe for concurrent use.
type Grid struct {
	width, height int
	cells         []Cell

	rules   *rules.RuleSet
	weights tiles.Weights
	bias    Bias
	rng     entropy.Source
	atomic  bool

	// Cells whose possibility set shrank during the last propagation.
	narrowed mapset.Set[Point]
}

// New allocates a grid of unconstrained cells. A nil rule set means rules.Default().
func New(width, height int, rs *rules.RuleSet, opts ...Option) (*Grid, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w (got %dx%d)", ErrInvalidSize, width, height)
	}
	if rs == nil {
		rs = rules.Default()
	}

	g := &Grid{
		width:    width,
		height:   height,
		cells:    make([]Cell, width*height),
		rules:    rs,
		weights:  tiles.DefaultWeights(),
		narrowed: mapset.New[Point](),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.rng == nil {
		g.rng = entropy.New(0)
	}
	g.Reset()
	return g, nil
}

// Width returns the number of columns.
func (g *Grid) Width() int { return g.width }

// Height returns the number of rows.
func (g *Grid) Height() int { return g.height }

// Rules returns the adjacency rules the grid enforces.
func (g *Grid) Rules() *rules.RuleSet { return g.rules }

// Atomic reports whether placements roll back on contradiction.
func (g *Grid) Atomic() bool { return g.atomic }

// InBounds returns true if (x, y) is a cell of the grid.
func (g *Grid) InBounds(x, y int) bool {
	return x >= 0 && y >= 0 && x < g.width && y < g.height
}

// idx maps a coordinate to its cell index. Out-of-bounds coordinates are a
// caller error and panic like a slice index would.
func (g *Grid) idx(x, y int) int {
	if !g.InBounds(x, y) {
		panic(fmt.Sprintf("grid: (%d,%d) out of bounds for %dx%d grid", x, y, g.width, g.height))
	}
	return y*g.width + x
}

// neighbour returns the coordinate one step in d, if it is on the grid.
func (g *Grid) neighbour(x, y int, d rules.Direction) (int, int, bool) {
	dx, dy := d.Offset()
	nx, ny := x+dx, y+dy
	return nx, ny, g.InBounds(nx, ny)
}

// Cell returns a copy of the cell at (x, y).
func (g *Grid) Cell(x, y int) Cell {
	return g.cells[g.idx(x, y)]
}

// PossibleCategories returns the categories still admissible at (x, y).
// For a collapsed cell this is exactly its committed category.
func (g *Grid) PossibleCategories(x, y int) tiles.Set {
	return g.cells[g.idx(x, y)].possible
}

// Reset returns every cell to the unconstrained state.
func (g *Grid) Reset() {
	for i := range g.cells {
		g.cells[i] = newUnconstrained()
	}
	g.narrowed = mapset.New[Point]()
}

// ResetCell returns one cell to the unconstrained state. Neighbours narrowed
// because of it are left as they are.
func (g *Grid) ResetCell(x, y int) {
	g.cells[g.idx(x, y)] = newUnconstrained()
}

// CanPlace reports whether c may be committed at (x, y): the cell must not be
// collapsed, and every collapsed neighbour must accept c next to it.
func (g *Grid) CanPlace(x, y int, c tiles.Category) bool {
	if !c.IsPlaceable() {
		return false
	}
	if g.cells[g.idx(x, y)].collapsed {
		return false
	}

	for _, d := range rules.Directions {
		nx, ny, ok := g.neighbour(x, y, d)
		if !ok {
			continue
		}
		n := g.cells[g.idx(nx, ny)]
		if n.collapsed && !g.rules.Accepts(d, c, n.possible) {
			return false
		}
	}
	return true
}

// Place commits c at (x, y) and propagates. ErrInvalidPlacement means nothing
// changed. A *ContradictionError means propagation emptied some cell; unless
// the grid is atomic the target stays committed and removals already made
// downstream are kept.
func (g *Grid) Place(x, y int, c tiles.Category) error {
	if !g.CanPlace(x, y, c) {
		return ErrInvalidPlacement
	}

	var saved []Cell
	if g.atomic {
		saved = slices.Clone(g.cells)
	}

	if err := g.Commit(x, y, c); err != nil {
		if saved != nil {
			copy(g.cells, saved)
			g.narrowed = mapset.New[Point]()
		}
		return err
	}
	return nil
}

// Commit forces c at (x, y) without validation and propagates. It is used to
// replay tiles that were already accepted once.
func (g *Grid) Commit(x, y int, c tiles.Category) error {
	if !c.IsPlaceable() {
		return ErrInvalidPlacement
	}
	g.cells[g.idx(x, y)].restrictTo(c)
	return g.Propagate(x, y)
}

// Narrowed returns, in row-major order, the cells whose possibility set
// shrank during the most recent propagation.
func (g *Grid) Narrowed() []Point {
	out := make([]Point, 0, g.narrowed.Size())
	g.narrowed.Each(func(p Point) {
		out = append(out, p)
	})
	slices.SortFunc(out, func(a, b Point) int {
		if a.Y != b.Y {
			return a.Y - b.Y
		}
		return a.X - b.X
	})
	return out
}

// Categories returns the committed category of every cell in row-major
// order, Empty where nothing is collapsed.
func (g *Grid) Categories() []tiles.Category {
	out := make([]tiles.Category, len(g.cells))
	for i, c := range g.cells {
		out[i] = c.Category()
	}
	return out
}

// CollapsedCount returns the number of committed cells.
func (g *Grid) CollapsedCount() int {
	n := 0
	for _, c := range g.cells {
		if c.collapsed {
			n++
		}
	}
	return n
}

// Check verifies the per-cell invariants: the cached count equals the size
// of the possibility set, and collapsed cells hold exactly one category.
func (g *Grid) Check() error {
	for i, c := range g.cells {
		if !c.consistent() {
			return fmt.Errorf("grid: cell (%d,%d) inconsistent: count=%d possible=%s collapsed=%t",
				i%g.width, i/g.width, c.count, c.possible, c.collapsed)
		}
	}
	return nil
}

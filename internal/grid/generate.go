package grid

import (
	"math"

	"github.com/talgya/tilecity/internal/entropy"
	"github.com/talgya/tilecity/internal/tiles"
)

// StepResult describes one autonomous generation step.
type StepResult struct {
	Point    Point          `json:"point"`
	Category tiles.Category `json:"category"`
	Forced   bool           `json:"forced"` // propagation had already left a single option
	Done     bool           `json:"done"`   // nothing left to collapse
}

// LowestEntropyCell picks, uniformly at random among ties, an uncollapsed
// cell with the fewest remaining options (more than one). Returns false when
// no such cell exists.
func (g *Grid) LowestEntropyCell() (Point, bool) {
	minCount := math.MaxInt
	var candidates []Point

	for i, c := range g.cells {
		if c.collapsed || c.count <= 1 {
			continue
		}
		switch {
		case c.count < minCount:
			minCount = c.count
			candidates = append(candidates[:0], Point{X: i % g.width, Y: i / g.width})
		case c.count == minCount:
			candidates = append(candidates, Point{X: i % g.width, Y: i / g.width})
		}
	}

	if len(candidates) == 0 {
		return Point{}, false
	}
	return candidates[g.rng.Intn(len(candidates))], true
}

// CollapseCell commits (x, y) to one of its remaining categories, chosen at
// random in proportion to the weight table (scaled by the bias, if any).
// It does not propagate.
func (g *Grid) CollapseCell(x, y int) (tiles.Category, error) {
	cell := &g.cells[g.idx(x, y)]
	if cell.collapsed {
		return tiles.Empty, ErrAlreadyCollapsed
	}
	if cell.count == 0 {
		return tiles.Empty, &ContradictionError{X: x, Y: y}
	}

	choices := cell.possible.Slice()
	weights := make([]float64, len(choices))
	for i, c := range choices {
		w := g.weights.Of(c)
		if g.bias != nil {
			w *= g.bias.Factor(x, y, c)
		}
		weights[i] = w
	}

	pick := choices[entropy.Pick(g.rng, weights)]
	cell.restrictTo(pick)
	return pick, nil
}

// Step advances autonomous generation by one cell. Cells that propagation has
// already narrowed to a single option are settled first, in row-major order;
// otherwise the lowest-entropy cell is collapsed. Either way the change is
// propagated.
func (g *Grid) Step() (StepResult, error) {
	for i := range g.cells {
		c := &g.cells[i]
		if c.collapsed {
			continue
		}
		p := Point{X: i % g.width, Y: i / g.width}
		if c.count == 0 {
			return StepResult{Point: p}, &ContradictionError{X: p.X, Y: p.Y}
		}
		if c.count == 1 {
			cat, _ := c.possible.Single()
			c.restrictTo(cat)
			return StepResult{Point: p, Category: cat, Forced: true}, g.Propagate(p.X, p.Y)
		}
	}

	p, ok := g.LowestEntropyCell()
	if !ok {
		return StepResult{Done: true}, nil
	}

	cat, err := g.CollapseCell(p.X, p.Y)
	if err != nil {
		return StepResult{Point: p}, err
	}
	return StepResult{Point: p, Category: cat}, g.Propagate(p.X, p.Y)
}

// RunAutonomousGeneration collapses cells until every one is committed. The
// first contradiction is returned and the grid is left as it stands; there is
// no backtracking.
func (g *Grid) RunAutonomousGeneration() error {
	for {
		res, err := g.Step()
		if err != nil {
			return err
		}
		if res.Done {
			return nil
		}
	}
}

package grid

import (
	"github.com/zyedidia/generic/mapset"

	"github.com/talgya/tilecity/internal/rules"
)

// Propagate restores arc consistency outward from (x, y), breadth-first.
// For each dequeued cell, every category of an uncollapsed neighbour that no
// remaining category of the cell can sit next to is removed; changed
// neighbours are queued in turn. The first neighbour left with no categories
// stops propagation with a *ContradictionError. Removals already made are
// not undone.
func (g *Grid) Propagate(x, y int) error {
	g.narrowed = mapset.New[Point]()

	queue := []Point{{X: x, Y: y}}
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]

		current := g.cells[g.idx(p.X, p.Y)].possible
		for _, d := range rules.Directions {
			nx, ny, ok := g.neighbour(p.X, p.Y, d)
			if !ok {
				continue
			}
			n := &g.cells[g.idx(nx, ny)]
			if n.collapsed {
				continue
			}

			changed := false
			for _, t := range n.possible.Slice() {
				if !g.rules.Supports(d, current, t) && n.remove(t) {
					changed = true
				}
			}

			np := Point{X: nx, Y: ny}
			if changed {
				g.narrowed.Put(np)
			}
			if n.count == 0 {
				return &ContradictionError{X: nx, Y: ny}
			}
			if changed {
				queue = append(queue, np)
			}
		}
	}
	return nil
}

package grid

import "github.com/talgya/tilecity/internal/tiles"

// Cell is the solver state of one grid position: the categories not yet
// ruled out, whether one has been committed, and the cached size of the set.
type Cell struct {
	possible  tiles.Set
	count     int
	collapsed bool
}

// newUnconstrained returns a cell where every placeable category is still possible.
func newUnconstrained() Cell {
	return Cell{
		possible: tiles.All,
		count:    tiles.All.Len(),
	}
}

// restrictTo commits the cell to a single category.
func (c *Cell) restrictTo(cat tiles.Category) {
	c.possible = tiles.SetOf(cat)
	c.count = 1
	c.collapsed = true
}

// remove rules out cat. Returns false if it was already absent.
// The caller must react to count reaching 0.
func (c *Cell) remove(cat tiles.Category) bool {
	if !c.possible.Has(cat) {
		return false
	}
	c.possible = c.possible.Remove(cat)
	c.count--
	return true
}

// Entropy is the number of categories still possible. Lower is more constrained.
func (c Cell) Entropy() int {
	return c.count
}

// Possible returns the categories still admissible.
func (c Cell) Possible() tiles.Set {
	return c.possible
}

// Collapsed reports whether a category has been committed.
func (c Cell) Collapsed() bool {
	return c.collapsed
}

// Category returns the committed category, or Empty if the cell is not collapsed.
func (c Cell) Category() tiles.Category {
	if !c.collapsed {
		return tiles.Empty
	}
	cat, _ := c.possible.Single()
	return cat
}

// consistent checks the cached count and the collapsed invariant.
func (c Cell) consistent() bool {
	if c.count != c.possible.Len() {
		return false
	}
	return !c.collapsed || c.count == 1
}

// Package rules holds the directional adjacency table that decides which
// tile categories may sit next to each other on the city grid.
package rules

import (
	"fmt"
	"strings"

	"github.com/talgya/tilecity/internal/tiles"
)

// Direction is one of the four cardinal directions. North is towards y-1.
type Direction uint8

const (
	North Direction = iota
	South
	East
	West

	// NumDirections is the number of cardinal directions.
	NumDirections = 4
)

// Directions lists the cardinal directions in table order.
var Directions = [NumDirections]Direction{North, South, East, West}

// Offset returns the grid delta for one step in d.
func (d Direction) Offset() (dx, dy int) {
	switch d {
	case North:
		return 0, -1
	case South:
		return 0, 1
	case East:
		return 1, 0
	case West:
		return -1, 0
	default:
		return 0, 0
	}
}

// Opposite returns the direction pointing back.
func (d Direction) Opposite() Direction {
	switch d {
	case North:
		return South
	case South:
		return North
	case East:
		return West
	default:
		return East
	}
}

func (d Direction) String() string {
	switch d {
	case North:
		return "north"
	case South:
		return "south"
	case East:
		return "east"
	case West:
		return "west"
	default:
		return fmt.Sprintf("Direction(%d)", uint8(d))
	}
}

// ParseDirection resolves a direction name ("north", "N", ...).
func ParseDirection(s string) (Direction, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "north", "n":
		return North, nil
	case "south", "s":
		return South, nil
	case "east", "e":
		return East, nil
	case "west", "w":
		return West, nil
	}
	return 0, fmt.Errorf("unknown direction %q", s)
}

// Exclusion forbids B from being A's neighbour. With no Directions it applies
// to all four; otherwise only B in the listed directions from A is forbidden.
// The mirrored pair (A in the opposite direction from B) is always forbidden too.
type Exclusion struct {
	A, B       tiles.Category
	Directions []Direction
}

// RuleSet answers "may category b be the neighbour of a in direction d?".
// Immutable once built.
type RuleSet struct {
	allowed [NumDirections][tiles.Count][tiles.Count]bool
}

// New builds a rule set where everything is allowed except the given exclusions.
func New(exclusions ...Exclusion) (*RuleSet, error) {
	rs := &RuleSet{}
	for d := range rs.allowed {
		for a := range rs.allowed[d] {
			for b := range rs.allowed[d][a] {
				rs.allowed[d][a][b] = true
			}
		}
	}

	for i, ex := range exclusions {
		if !ex.A.IsPlaceable() || !ex.B.IsPlaceable() {
			return nil, fmt.Errorf("exclusion %d: %s/%s is not a placeable pair", i, ex.A, ex.B)
		}
		dirs := ex.Directions
		if len(dirs) == 0 {
			dirs = Directions[:]
		}
		for _, d := range dirs {
			if d >= NumDirections {
				return nil, fmt.Errorf("exclusion %d: invalid direction %d", i, d)
			}
			rs.allowed[d][ex.A][ex.B] = false
			rs.allowed[d.Opposite()][ex.B][ex.A] = false
		}
	}
	return rs, nil
}

// DefaultExclusions are the city zoning rules: housing and industry never
// touch, and parks are spread out rather than clumped.
func DefaultExclusions() []Exclusion {
	return []Exclusion{
		{A: tiles.Residential, B: tiles.Industrial},
		{A: tiles.Industrial, B: tiles.Residential},
		{A: tiles.Park, B: tiles.Park},
	}
}

// Default returns the rule set built from DefaultExclusions.
func Default() *RuleSet {
	rs, err := New(DefaultExclusions()...)
	if err != nil {
		// DefaultExclusions only names placeable categories.
		panic(err)
	}
	return rs
}

// Allowed reports whether b may be a's neighbour in direction d. Unknown
// directions or categories are treated as unconstrained.
func (rs *RuleSet) Allowed(d Direction, a, b tiles.Category) bool {
	if d >= NumDirections || !a.Valid() || !b.Valid() {
		return true
	}
	return rs.allowed[d][a][b]
}

// Supports reports whether some category in from may have to as its
// neighbour in direction d.
func (rs *RuleSet) Supports(d Direction, from tiles.Set, to tiles.Category) bool {
	for _, s := range tiles.Placeable {
		if from.Has(s) && rs.Allowed(d, s, to) {
			return true
		}
	}
	return false
}

// Accepts reports whether a may have some category of to as its neighbour in direction d.
func (rs *RuleSet) Accepts(d Direction, a tiles.Category, to tiles.Set) bool {
	for _, t := range tiles.Placeable {
		if to.Has(t) && rs.Allowed(d, a, t) {
			return true
		}
	}
	return false
}

// Format renders one table per direction for inspection ("x" marks a forbidden pair).
func (rs *RuleSet) Format() string {
	var sb strings.Builder
	for _, d := range Directions {
		fmt.Fprintf(&sb, "%s (row = tile, column = neighbour to the %s)\n", d, d)
		sb.WriteString("   ")
		for _, b := range tiles.Placeable {
			fmt.Fprintf(&sb, " %c", b.Glyph())
		}
		sb.WriteByte('\n')
		for _, a := range tiles.Placeable {
			fmt.Fprintf(&sb, "  %c", a.Glyph())
			for _, b := range tiles.Placeable {
				mark := byte('.')
				if !rs.Allowed(d, a, b) {
					mark = 'x'
				}
				fmt.Fprintf(&sb, " %c", mark)
			}
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

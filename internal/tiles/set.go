package tiles

import (
	"math/bits"
	"strings"
)

// Set is a bitset of categories. Bit i represents Category(i).
type Set uint8

// All is the set of every placeable category.
const All Set = (1<<Count - 1) &^ 1

// SetOf builds a set from the given categories.
func SetOf(cats ...Category) Set {
	var s Set
	for _, c := range cats {
		s = s.Add(c)
	}
	return s
}

// Has reports whether c is in the set.
func (s Set) Has(c Category) bool {
	return c.Valid() && s&(1<<c) != 0
}

// Add returns the set with c included.
func (s Set) Add(c Category) Set {
	if !c.Valid() {
		return s
	}
	return s | 1<<c
}

// Remove returns the set with c excluded.
func (s Set) Remove(c Category) Set {
	if !c.Valid() {
		return s
	}
	return s &^ (1 << c)
}

// Len returns the number of categories in the set.
func (s Set) Len() int {
	return bits.OnesCount8(uint8(s))
}

// Single returns the only member of a one-element set.
func (s Set) Single() (Category, bool) {
	if s.Len() != 1 {
		return Empty, false
	}
	return Category(bits.TrailingZeros8(uint8(s))), true
}

// Slice returns the members in category order.
func (s Set) Slice() []Category {
	out := make([]Category, 0, s.Len())
	for c := Empty; int(c) < Count; c++ {
		if s.Has(c) {
			out = append(out, c)
		}
	}
	return out
}

// String renders the set as "{Residential,Road}".
func (s Set) String() string {
	names := make([]string, 0, s.Len())
	for _, c := range s.Slice() {
		names = append(names, c.String())
	}
	return "{" + strings.Join(names, ",") + "}"
}

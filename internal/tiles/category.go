// Package tiles defines the placeable tile categories of the city map,
// bitset category sets and the collapse weight table.
package tiles

import (
	"fmt"
	"strings"
)

// Category is a tile kind. Empty means nothing has been placed.
type Category uint8

const (
	Empty       Category = iota // Nothing placed; never a possibility
	Residential                 // Housing
	Commercial                  // Shops and offices
	Industrial                  // Factories, must not touch housing
	Road                        // Connects everything
	Park                        // Green space, never next to another park

	// Count is the number of categories including Empty.
	Count = int(Park) + 1
)

// Placeable lists every category that can be committed to a cell, in index order.
var Placeable = []Category{Residential, Commercial, Industrial, Road, Park}

// Valid returns true if c is a known category (Empty included).
func (c Category) Valid() bool {
	return int(c) < Count
}

// IsPlaceable returns true for known, non-Empty categories.
func (c Category) IsPlaceable() bool {
	return c != Empty && c.Valid()
}

// String returns a human-readable name for a category.
func (c Category) String() string {
	switch c {
	case Empty:
		return "Empty"
	case Residential:
		return "Residential"
	case Commercial:
		return "Commercial"
	case Industrial:
		return "Industrial"
	case Road:
		return "Road"
	case Park:
		return "Park"
	default:
		return fmt.Sprintf("Category(%d)", uint8(c))
	}
}

// Glyph returns the single-character map symbol used by text renderers.
func (c Category) Glyph() byte {
	switch c {
	case Residential:
		return 'R'
	case Commercial:
		return 'C'
	case Industrial:
		return 'I'
	case Road:
		return '#'
	case Park:
		return 'P'
	default:
		return '.'
	}
}

// ParseCategory resolves a case-insensitive category name or glyph.
func ParseCategory(s string) (Category, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	for c := Empty; int(c) < Count; c++ {
		if name == strings.ToLower(c.String()) {
			return c, nil
		}
		if c != Empty && strings.EqualFold(name, string(c.Glyph())) {
			return c, nil
		}
	}
	return Empty, fmt.Errorf("unknown category %q", s)
}

// MarshalText encodes the category by name so JSON and YAML carry readable values.
func (c Category) MarshalText() ([]byte, error) {
	if !c.Valid() {
		return nil, fmt.Errorf("invalid category %d", uint8(c))
	}
	return []byte(c.String()), nil
}

// UnmarshalText decodes a category name.
func (c *Category) UnmarshalText(text []byte) error {
	parsed, err := ParseCategory(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

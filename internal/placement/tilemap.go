package placement

import (
	"log/slog"
	"strings"

	"github.com/talgya/tilecity/internal/tiles"
)

// Handle is an opaque reference to a rendered tile, owned by the Renderer.
// The zero Handle means nothing is spawned.
type Handle uint64

// Renderer spawns and despawns the visual for a committed tile.
type Renderer interface {
	Spawn(x, y int, c tiles.Category) Handle
	Despawn(h Handle)
}

// EffectSink plays a cosmetic burst where a tile was placed. Platforms
// provide their own implementation; the coordinator only calls Burst.
type EffectSink interface {
	Burst(x, y int, c tiles.Category)
}

// LogEffects is an EffectSink for headless servers: each burst is a debug log line.
type LogEffects struct{}

func (LogEffects) Burst(x, y int, c tiles.Category) {
	slog.Debug("placement burst", "x", x, "y", y, "category", c)
}

// TileMap is the committed, render-facing view of the city: one category
// and one render handle per cell.
type TileMap struct {
	width, height int
	tiles         []tiles.Category
	handles       []Handle
}

// NewTileMap returns an all-Empty map.
func NewTileMap(width, height int) *TileMap {
	return &TileMap{
		width:   width,
		height:  height,
		tiles:   make([]tiles.Category, width*height),
		handles: make([]Handle, width*height),
	}
}

// Width returns the number of columns.
func (m *TileMap) Width() int { return m.width }

// Height returns the number of rows.
func (m *TileMap) Height() int { return m.height }

// Get returns the committed category at (x, y).
func (m *TileMap) Get(x, y int) tiles.Category {
	return m.tiles[y*m.width+x]
}

// Handle returns the render handle at (x, y).
func (m *TileMap) Handle(x, y int) Handle {
	return m.handles[y*m.width+x]
}

// Count returns the number of non-Empty cells.
func (m *TileMap) Count() int {
	n := 0
	for _, c := range m.tiles {
		if c != tiles.Empty {
			n++
		}
	}
	return n
}

// Counts returns how many cells hold each placeable category.
func (m *TileMap) Counts() map[tiles.Category]int {
	counts := make(map[tiles.Category]int)
	for _, c := range m.tiles {
		if c != tiles.Empty {
			counts[c]++
		}
	}
	return counts
}

// Rows returns a copy of the map as rows of categories.
func (m *TileMap) Rows() [][]tiles.Category {
	rows := make([][]tiles.Category, m.height)
	for y := range rows {
		rows[y] = append([]tiles.Category(nil), m.tiles[y*m.width:(y+1)*m.width]...)
	}
	return rows
}

// Format renders the map one glyph per cell, one line per row.
func (m *TileMap) Format() string {
	var sb strings.Builder
	for y := 0; y < m.height; y++ {
		for x := 0; x < m.width; x++ {
			sb.WriteByte(m.Get(x, y).Glyph())
		}
		if y < m.height-1 {
			sb.WriteByte('\n')
		}
	}
	return sb.String()
}

// set commits c at (x, y), replacing any visual already there.
func (m *TileMap) set(x, y int, c tiles.Category, r Renderer) {
	i := y*m.width + x
	if r != nil && m.handles[i] != 0 {
		r.Despawn(m.handles[i])
	}
	m.tiles[i] = c
	m.handles[i] = 0
	if r != nil && c != tiles.Empty {
		m.handles[i] = r.Spawn(x, y, c)
	}
}

// clear empties (x, y) and despawns its visual.
func (m *TileMap) clear(x, y int, r Renderer) {
	m.set(x, y, tiles.Empty, r)
}

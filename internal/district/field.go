// District bias using layered simplex noise.
// A density field pulls commercial tiles toward busy cores and industry toward
// the fringes; a greenery field does the same for parks. The result scales the
// tile weights used during autonomous generation.
package district

import (
	"math"

	opensimplex "github.com/ojrac/opensimplex-go"

	"github.com/talgya/tilecity/internal/tiles"
)

// minFactor keeps every category reachable however strong the bias.
const minFactor = 0.05

// Config holds district field parameters.
type Config struct {
	Seed        int64   `yaml:"seed"`        // Noise seed (0 = reuse the map seed)
	Octaves     int     `yaml:"octaves"`     // Noise layers
	Frequency   float64 `yaml:"frequency"`   // Base frequency in cells⁻¹
	Persistence float64 `yaml:"persistence"` // Amplitude falloff per octave
	Strength    float64 `yaml:"strength"`    // 0 = no bias, 1 = full swing
}

// DefaultConfig returns a mild bias with district-sized features.
func DefaultConfig() Config {
	return Config{
		Octaves:     3,
		Frequency:   0.12,
		Persistence: 0.5,
		Strength:    0.6,
	}
}

// Field samples the density and greenery layers per cell.
type Field struct {
	cfg      Config
	density  opensimplex.Noise
	greenery opensimplex.Noise
}

// New builds a field from cfg. Independent layers use seed and seed+1.
func New(cfg Config) *Field {
	return &Field{
		cfg:      cfg,
		density:  opensimplex.NewNormalized(cfg.Seed),
		greenery: opensimplex.NewNormalized(cfg.Seed + 1),
	}
}

// Density returns the density layer at (x, y) in [0, 1].
func (f *Field) Density(x, y int) float64 {
	return octaveNoise(f.density, float64(x), float64(y), f.cfg.Octaves, f.cfg.Frequency, f.cfg.Persistence)
}

// Greenery returns the greenery layer at (x, y) in [0, 1].
func (f *Field) Greenery(x, y int) float64 {
	return octaveNoise(f.greenery, float64(x), float64(y), f.cfg.Octaves, f.cfg.Frequency, f.cfg.Persistence)
}

// Factor returns the weight multiplier for c at (x, y).
func (f *Field) Factor(x, y int, c tiles.Category) float64 {
	s := f.cfg.Strength
	d := 2*f.Density(x, y) - 1 // [-1, 1]

	var v float64
	switch c {
	case tiles.Commercial:
		v = 1 + s*d
	case tiles.Industrial:
		v = 1 - s*d
	case tiles.Residential:
		// Housing prefers the middle of the density range.
		v = 1 + s*(0.5-math.Abs(d))
	case tiles.Park:
		v = 1 + s*(2*f.Greenery(x, y)-1)
	default:
		v = 1
	}
	return math.Max(v, minFactor)
}

// Grid samples Density over a width×height area, row-major, for previews.
func (f *Field) Grid(width, height int) [][]float64 {
	out := make([][]float64, height)
	for y := range out {
		out[y] = make([]float64, width)
		for x := range out[y] {
			out[y][x] = f.Density(x, y)
		}
	}
	return out
}

func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	if octaves < 1 {
		octaves = 1
	}
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

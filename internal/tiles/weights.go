package tiles

import "fmt"

// Weights holds the relative collapse frequency of each category, indexed by Category.
// Empty's weight is ignored.
type Weights [Count]float64

// DefaultWeights favours housing, then roads and shops, with industry rarest.
func DefaultWeights() Weights {
	return Weights{
		Empty:       0,
		Residential: 3.0,
		Commercial:  2.0,
		Industrial:  1.0,
		Road:        2.5,
		Park:        1.5,
	}
}

// Of returns the weight of c, or 0 for unknown categories.
func (w Weights) Of(c Category) float64 {
	if !c.Valid() {
		return 0
	}
	return w[c]
}

// Validate rejects negative weights and tables where nothing can be picked.
func (w Weights) Validate() error {
	total := 0.0
	for _, c := range Placeable {
		if w[c] < 0 {
			return fmt.Errorf("weight for %s is negative (%.2f)", c, w[c])
		}
		total += w[c]
	}
	if total == 0 {
		return fmt.Errorf("all category weights are zero")
	}
	return nil
}

package entropy_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/talgya/tilecity/internal/entropy"
)

func TestNewIsDeterministic(t *testing.T) {
	a := entropy.New(7)
	b := entropy.New(7)
	for i := 0; i < 20; i++ {
		assert.Equal(t, a.Int63(), b.Int63())
	}
}

func TestCryptoSeed(t *testing.T) {
	for i := 0; i < 10; i++ {
		assert.Greater(t, entropy.CryptoSeed(), int64(0))
	}
}

func TestPick(t *testing.T) {
	src := entropy.New(1)

	assert.Equal(t, -1, entropy.Pick(src, nil))

	for i := 0; i < 100; i++ {
		assert.Equal(t, 2, entropy.Pick(src, []float64{0, 0, 5}))
	}

	counts := make([]int, 2)
	for i := 0; i < 4000; i++ {
		counts[entropy.Pick(src, []float64{3, 1})]++
	}
	assert.Greater(t, counts[0], counts[1]*2, "weight 3 should win roughly three times as often")

	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		seen[entropy.Pick(src, []float64{0, 0, 0})] = true
	}
	assert.Len(t, seen, 3, "all-zero weights fall back to a uniform pick")
}

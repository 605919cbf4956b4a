package allocation

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMultiplierBrackets(t *testing.T) {
	engine := NewEngine()

	cases := []struct {
		pooled int
		target int
		want   int
	}{
		{0, 100, 2},
		{24, 100, 2},
		{25, 100, 4},
		{49, 100, 4},
		{50, 100, 6},
		{74, 100, 6},
		{75, 100, 10},
		{100, 100, 10},
		{130, 100, 10},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, engine.Multiplier(tc.pooled, tc.target), "pooled %d target %d", tc.pooled, tc.target)
	}
}

func TestBracketNames(t *testing.T) {
	engine := NewEngine()

	assert.Equal(t, "cold", engine.Bracket(10, 100))
	assert.Equal(t, "warming", engine.Bracket(25, 100))
	assert.Equal(t, "hot", engine.Bracket(60, 100))
	assert.Equal(t, "closing", engine.Bracket(90, 100))
}

func TestMultiplierZeroTargetFallsBack(t *testing.T) {
	assert.Equal(t, 2, NewEngine().Multiplier(10, 0))
}

func TestMaxAllowedEarlySession(t *testing.T) {
	engine := NewEngine()

	// Base allocation 3, empty pool of 100: cold multiplier caps the variant at 6.
	assert.Equal(t, 6, engine.MaxAllowed(3, 0, 100))
}

func TestAvailableWarmingSession(t *testing.T) {
	engine := NewEngine()

	// 30% full pool: multiplier 4, cap 12, 6 already ordered leaves 6.
	assert.Equal(t, 6, engine.Available(3, 6, 30, 100))
}

func TestAvailableNeverNegative(t *testing.T) {
	engine := NewEngine()

	// Orders accepted under a wider cap survive a shrinking one.
	assert.Equal(t, 0, engine.Available(3, 20, 0, 100))
}

func TestMaxAllowedZeroAllocation(t *testing.T) {
	assert.Equal(t, 0, NewEngine().MaxAllowed(0, 50, 100))
}

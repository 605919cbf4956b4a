package allocation

// Fill-ratio brackets widen per-variant purchase limits as the pool fills.
// A nearly full pool lets late joiners buy big without starving variants.
const (
	multiplierCold    = 2  // fill < 25%
	multiplierWarming = 4  // 25% <= fill < 50%
	multiplierHot     = 6  // 50% <= fill < 75%
	multiplierClosing = 10 // fill >= 75%
)

// Engine computes per-variant purchase limits from the factory-declared base
// allocation and the session's fill ratio.
type Engine struct{}

// NewEngine returns a stateless allocation engine.
func NewEngine() *Engine {
	return &Engine{}
}

// Multiplier resolves the allocation multiplier for the session's fill ratio.
// Quantities from synthetic participants are excluded by the caller before
// computing pooledQuantity.
func (e *Engine) Multiplier(pooledQuantity, targetMOQ int) int {
	if targetMOQ <= 0 {
		return multiplierCold
	}
	ratio := float64(pooledQuantity) / float64(targetMOQ)
	switch {
	case ratio >= 0.75:
		return multiplierClosing
	case ratio >= 0.5:
		return multiplierHot
	case ratio >= 0.25:
		return multiplierWarming
	default:
		return multiplierCold
	}
}

// Bracket names the fill bracket the multiplier was chosen from.
func (e *Engine) Bracket(pooledQuantity, targetMOQ int) string {
	switch e.Multiplier(pooledQuantity, targetMOQ) {
	case multiplierClosing:
		return "closing"
	case multiplierHot:
		return "hot"
	case multiplierWarming:
		return "warming"
	default:
		return "cold"
	}
}

// MaxAllowed returns the cap on cumulative orders for one variant.
func (e *Engine) MaxAllowed(baseAllocation, pooledQuantity, targetMOQ int) int {
	if baseAllocation <= 0 {
		return 0
	}
	return baseAllocation * e.Multiplier(pooledQuantity, targetMOQ)
}

// Available returns how many more units of the variant can still be ordered.
// Never negative: a cap that shrank below current orders reads as zero, it
// does not invalidate accepted commitments.
func (e *Engine) Available(baseAllocation, variantOrdered, pooledQuantity, targetMOQ int) int {
	available := e.MaxAllowed(baseAllocation, pooledQuantity, targetMOQ) - variantOrdered
	if available < 0 {
		return 0
	}
	return available
}

package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/patungan-backend/pkg/db/models"
	"github.com/angelmondragon/patungan-backend/pkg/enums"
)

// Tier thresholds as percentage of target filled. Lower bounds are inclusive,
// so a pool sitting exactly on a boundary already earns the deeper discount.
const (
	Tier1Threshold = 50
	Tier2Threshold = 75
	Tier3Threshold = 100
)

// Engine computes tier positions and the refund credits owed when a pool
// crosses into a deeper discount.
type Engine struct{}

// NewEngine returns a stateless pricing engine.
func NewEngine() *Engine {
	return &Engine{}
}

// TierFor maps a pool's fill percentage against its target to a discount
// tier. A half-full pool earns tier_1 whether its target is 20 or 2000.
func (e *Engine) TierFor(totalQuantity, targetMOQ int) enums.PriceTier {
	if targetMOQ <= 0 {
		return enums.PriceTierBase
	}
	percent := totalQuantity * 100 / targetMOQ
	switch {
	case percent >= Tier3Threshold:
		return enums.PriceTierThree
	case percent >= Tier2Threshold:
		return enums.PriceTierTwo
	case percent >= Tier1Threshold:
		return enums.PriceTierOne
	default:
		return enums.PriceTierBase
	}
}

// UnitPriceFor resolves the per-unit price a session charges at the given tier.
func (e *Engine) UnitPriceFor(session *models.GroupSession, tier enums.PriceTier) decimal.Decimal {
	switch tier {
	case enums.PriceTierThree:
		return session.Tier3Price
	case enums.PriceTierTwo:
		return session.Tier2Price
	case enums.PriceTierOne:
		return session.Tier1Price
	default:
		return session.BasePrice
	}
}

// CurrentUnitPrice resolves the per-unit price for the session's pooled
// quantity without mutating the session.
func (e *Engine) CurrentUnitPrice(session *models.GroupSession, totalQuantity int) decimal.Decimal {
	return e.UnitPriceFor(session, e.TierFor(totalQuantity, session.TargetMOQ))
}

// RefundOwed returns the credit owed to a participant whose effective unit
// price still sits above the new unit price. A zero or negative difference
// owes nothing: price shifts never claw money back.
func (e *Engine) RefundOwed(effectiveUnitPrice, newUnitPrice decimal.Decimal, quantity int) decimal.Decimal {
	diff := effectiveUnitPrice.Sub(newUnitPrice)
	if diff.Sign() <= 0 || quantity <= 0 {
		return decimal.Zero
	}
	return diff.Mul(decimal.NewFromInt(int64(quantity)))
}

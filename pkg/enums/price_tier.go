package enums

import "fmt"

// PriceTier labels the discount step a pooled-purchase session has reached.
type PriceTier string

const (
	PriceTierBase  PriceTier = "base"
	PriceTierOne   PriceTier = "tier_1"
	PriceTierTwo   PriceTier = "tier_2"
	PriceTierThree PriceTier = "tier_3"
)

var validPriceTiers = []PriceTier{
	PriceTierBase,
	PriceTierOne,
	PriceTierTwo,
	PriceTierThree,
}

// String implements fmt.Stringer.
func (p PriceTier) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PriceTier.
func (p PriceTier) IsValid() bool {
	for _, candidate := range validPriceTiers {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePriceTier converts raw input into a PriceTier.
func ParsePriceTier(value string) (PriceTier, error) {
	for _, candidate := range validPriceTiers {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid price tier %q", value)
}

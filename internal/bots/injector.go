package bots

import (
	"math"
	"time"
)

// Injection policy: stalled sessions (under 25% full) entering the final
// minutes before their deadline receive synthetic demand topping the pool up
// to 25% of target.
const (
	stallFillRatio = 0.25
	topUpRatio     = 0.25
)

// Injector decides when and how much synthetic demand a session receives.
type Injector struct {
	windowMinutes int
}

// NewInjector builds an injector with the configured pre-deadline window.
func NewInjector(windowMinutes int) *Injector {
	if windowMinutes <= 0 {
		windowMinutes = 10
	}
	return &Injector{windowMinutes: windowMinutes}
}

// ShouldInject reports whether a session qualifies for synthetic demand:
// under the stall threshold and inside the pre-deadline window, but not past
// the deadline itself.
func (i *Injector) ShouldInject(pooledQuantity, targetMOQ int, now, endTime time.Time) bool {
	if targetMOQ <= 0 {
		return false
	}
	if float64(pooledQuantity) >= float64(targetMOQ)*stallFillRatio {
		return false
	}
	remaining := endTime.Sub(now)
	if remaining <= 0 {
		return false
	}
	return remaining <= time.Duration(i.windowMinutes)*time.Minute
}

// Quantity returns how many synthetic units to add: the shortfall between
// the current pool and 25% of target, rounded up. Zero when the pool already
// sits at or above the top-up line.
func (i *Injector) Quantity(pooledQuantity, targetMOQ int) int {
	if targetMOQ <= 0 {
		return 0
	}
	topUp := int(math.Ceil(float64(targetMOQ) * topUpRatio))
	qty := topUp - pooledQuantity
	if qty < 0 {
		return 0
	}
	return qty
}

// Package pricing computes the sale price of a lead from project attributes.
// Prices are integer minor currency units (cents) throughout; multipliers are
// expressed in hundredths so arithmetic stays exact.
package pricing

import (
	"leadmarket/platform/apperr"
)

const (
	// BasePriceCents is the flat base unit every lead price starts from.
	BasePriceCents int64 = 2500

	// MinPriceCents and MaxPriceCents bound the final price.
	MinPriceCents int64 = 1000
	MaxPriceCents int64 = 25000

	// Value thresholds on the project's estimated value, in cents.
	highValueThresholdCents int64 = 5_000_000
	midValueThresholdCents  int64 = 2_000_000

	// Multipliers in hundredths (150 means x1.5).
	multiplierUnit int64 = 100

	typeMultiplierHigh   int64 = 250
	typeMultiplierMedium int64 = 150
	typeMultiplierBase   int64 = 100

	valueMultiplierHigh int64 = 150
	valueMultiplierMid  int64 = 120
	valueMultiplierBase int64 = 100
)

// highValueTypes are project categories that command the top type multiplier.
var highValueTypes = map[string]bool{
	"full_house_renovation": true,
	"extension":             true,
	"loft_conversion":       true,
	"new_build":             true,
	"basement_conversion":   true,
}

// mediumValueTypes command the middle type multiplier.
var mediumValueTypes = map[string]bool{
	"kitchen_full_refit":  true,
	"bathroom_full_refit": true,
	"garage_conversion":   true,
	"roof_replacement":    true,
	"full_rewire":         true,
}

// Calculator maps project attributes to a lead price.
// It is pure and deterministic; the same input always yields the same price.
type Calculator struct{}

// NewCalculator creates a pricing calculator.
func NewCalculator() *Calculator {
	return &Calculator{}
}

// Compute returns the lead price in cents for the given project type and
// estimated project value in cents. An estimated value of zero means unknown
// and applies no value multiplier.
func (c *Calculator) Compute(projectType string, estimatedValueCents int64) (int64, error) {
	if projectType == "" {
		return 0, apperr.Validation("project type is required").WithOp("pricing.Compute")
	}
	if estimatedValueCents < 0 {
		return 0, apperr.Validation("estimated value must not be negative").WithOp("pricing.Compute")
	}

	price := BasePriceCents
	price = price * typeMultiplier(projectType) / multiplierUnit
	price = price * valueMultiplier(estimatedValueCents) / multiplierUnit

	return clamp(price), nil
}

func typeMultiplier(projectType string) int64 {
	switch {
	case highValueTypes[projectType]:
		return typeMultiplierHigh
	case mediumValueTypes[projectType]:
		return typeMultiplierMedium
	default:
		return typeMultiplierBase
	}
}

func valueMultiplier(estimatedValueCents int64) int64 {
	switch {
	case estimatedValueCents > highValueThresholdCents:
		return valueMultiplierHigh
	case estimatedValueCents > midValueThresholdCents:
		return valueMultiplierMid
	default:
		return valueMultiplierBase
	}
}

func clamp(price int64) int64 {
	if price < MinPriceCents {
		return MinPriceCents
	}
	if price > MaxPriceCents {
		return MaxPriceCents
	}
	return price
}

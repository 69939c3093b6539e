// Package pricing provides the static Faberplot price table and the term
// pricing calculator. Both are pure: no I/O, no randomness, safe to call
// unlimited times.
package pricing

import (
	"fmt"

	"faberland/internal/types"
)

// Plot id range of the Faberland estate map.
const (
	MinPlotID = 1
	MaxPlotID = 48
)

// Test sentinel plot ids reserved for the ops diagnostics flow. They are
// priced nominally and never appear on the public estate map.
const (
	TestPlotIDLow  = 998
	TestPlotIDHigh = 999
)

// PriceTable maps a plot id to its fixed base monthly rent.
// This is the single source of truth for plot pricing.
type PriceTable interface {
	// BasePrice returns the base monthly rent in whole US dollars for the
	// given plot id. Returns not_found_plot for ids outside the estate map
	// and the test sentinel range.
	BasePrice(plotID int) (int64, error)
}

// staticPriceTable is a compile-time price table backed by an in-memory map.
// It implements PriceTable and is the standard implementation for production use.
type staticPriceTable struct {
	prices map[int]int64
}

// basePrices defines the fixed base monthly rent per plot in whole USD.
// Pricing follows the estate map layout:
//
//	| Plots  | Tier            | Monthly |
//	|--------|-----------------|---------|
//	| 1-8    | Lakefront       | $150    |
//	| 9-16   | Boulevard       | $125    |
//	| 17-40  | Standard        | $100    |
//	| 41-48  | Outer ring      | $75     |
//
// The 998/999 sentinels are $1 so the diagnostics flow can quote and rent
// them without touching real inventory pricing.
var basePrices = buildBasePrices()

func buildBasePrices() map[int]int64 {
	m := make(map[int]int64, MaxPlotID+2)
	for id := MinPlotID; id <= MaxPlotID; id++ {
		switch {
		case id <= 8:
			m[id] = 150
		case id <= 16:
			m[id] = 125
		case id <= 40:
			m[id] = 100
		default:
			m[id] = 75
		}
	}
	m[TestPlotIDLow] = 1
	m[TestPlotIDHigh] = 1
	return m
}

// NewStaticPriceTable returns a PriceTable backed by the fixed estate-map
// prices. No database or external service is required.
func NewStaticPriceTable() PriceTable {
	// Copy the defaults into a new map so callers cannot mutate the
	// package-level variable.
	m := make(map[int]int64, len(basePrices))
	for k, v := range basePrices {
		m[k] = v
	}
	return &staticPriceTable{prices: m}
}

// BasePrice returns the fixed base monthly rent for the given plot id.
func (t *staticPriceTable) BasePrice(plotID int) (int64, error) {
	if price, ok := t.prices[plotID]; ok {
		return price, nil
	}
	return 0, types.NewAppError(
		types.ErrCodeNotFoundPlot,
		fmt.Sprintf("plot %d is not on the estate map", plotID),
		nil,
	)
}

// IsTestPlot reports whether the id is one of the reserved diagnostics
// sentinels.
func IsTestPlot(plotID int) bool {
	return plotID == TestPlotIDLow || plotID == TestPlotIDHigh
}

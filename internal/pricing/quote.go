package pricing

import (
	"fmt"
	"math"

	"faberland/internal/types"
)

// Quote computes the price breakdown for renting at the given base monthly
// rent for the given term.
//
// total = base * multiplier * (1 - discount)
// savings = gross - total
//
// Internal computation uses floating point; the total is rounded to the
// nearest whole dollar at this boundary so repeated calls with identical
// inputs produce identical output. Savings is the exact difference between
// the undiscounted gross and the rounded total, so total + savings always
// equals the gross amount. Fractional cents are never surfaced.
func Quote(baseMonthly int64, term types.RentalTerm) (types.TermQuote, error) {
	if !term.Valid() {
		return types.TermQuote{}, types.NewAppError(
			types.ErrCodeValidationInvalidTerm,
			fmt.Sprintf("unknown rental term %q", term),
			nil,
		)
	}

	gross := baseMonthly * int64(term.Multiplier())
	discount := term.DiscountRate()
	total := int64(math.Round(float64(gross) * (1 - discount)))

	return types.TermQuote{
		Term:         term,
		BaseMonthly:  baseMonthly,
		Multiplier:   term.Multiplier(),
		DiscountRate: discount,
		TotalPrice:   total,
		Savings:      gross - total,
	}, nil
}

// QuoteForPlot looks up the plot's base price in the table and quotes the
// term against it. The returned quote carries the plot id for display.
func QuoteForPlot(table PriceTable, plotID int, term types.RentalTerm) (types.TermQuote, error) {
	base, err := table.BasePrice(plotID)
	if err != nil {
		return types.TermQuote{}, err
	}
	q, err := Quote(base, term)
	if err != nil {
		return types.TermQuote{}, err
	}
	q.PlotID = plotID
	return q, nil
}

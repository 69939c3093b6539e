package types

import "time"

// RentalTerm identifies the duration category of a plot rental.
type RentalTerm string

const (
	TermMonthly   RentalTerm = "monthly"
	TermQuarterly RentalTerm = "quarterly"
	TermYearly    RentalTerm = "yearly"
)

// Valid reports whether the term is one of the fixed enum values.
func (t RentalTerm) Valid() bool {
	switch t {
	case TermMonthly, TermQuarterly, TermYearly:
		return true
	}
	return false
}

// Days returns the rental period length in whole days for the term.
// Returns 0 for an unknown term; callers must validate first.
func (t RentalTerm) Days() int {
	switch t {
	case TermMonthly:
		return 30
	case TermQuarterly:
		return 90
	case TermYearly:
		return 365
	default:
		return 0
	}
}

// Duration returns the rental period length as a time.Duration.
func (t RentalTerm) Duration() time.Duration {
	return time.Duration(t.Days()) * 24 * time.Hour
}

// Multiplier returns the number of base monthly rents covered by the term.
func (t RentalTerm) Multiplier() int {
	switch t {
	case TermMonthly:
		return 1
	case TermQuarterly:
		return 3
	case TermYearly:
		return 12
	default:
		return 0
	}
}

// DiscountRate returns the fractional discount applied to the term.
// Longer commitments earn a larger discount.
func (t RentalTerm) DiscountRate() float64 {
	switch t {
	case TermQuarterly:
		return 0.10
	case TermYearly:
		return 0.20
	default:
		return 0
	}
}

// PlotStatus is the derived presentation state of a plot rental.
// It is computed at read time from rental_end_date and is never stored.
type PlotStatus string

const (
	PlotStatusAvailable    PlotStatus = "available"
	PlotStatusActive       PlotStatus = "active"
	PlotStatusExpiringSoon PlotStatus = "expiring_soon"
	PlotStatusExpired      PlotStatus = "expired"
)

// ExpiringSoonWindow is the remaining wall-clock time at or below which an
// active rental is badged "expiring_soon".
const ExpiringSoonWindow = 7 * 24 * time.Hour

package types

import "time"

// PlotRecord is the core domain entity: the sale/rental state of a single
// Faberplot. One record exists per plot id that has ever been sold; expired
// records remain queryable for historical/ownership display and are never
// garbage-collected.
type PlotRecord struct {
	ID           int        `json:"id" db:"id"`
	IsSold       bool       `json:"is_sold" db:"is_sold"`
	OwnerAddress string     `json:"owner_address" db:"owner_address"`
	OwnerEmail   string     `json:"owner_email,omitempty" db:"owner_email"`
	RentalTerm   RentalTerm `json:"rental_term" db:"rental_term"`

	// RentalStartDate is set once at first sale and never changed by renewal.
	RentalStartDate time.Time `json:"rental_start_date" db:"rental_start_date"`
	// RentalEndDate is advanced on each renewal. It is always derived server
	// side from the term length; client input never sets it directly.
	RentalEndDate time.Time `json:"rental_end_date" db:"rental_end_date"`
	SoldAt        time.Time `json:"sold_at" db:"sold_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}

// TermQuote is a computed, non-persisted price breakdown for a plot/term pair.
// All amounts are whole US dollars, rounded at the quote boundary so that
// identical inputs always produce identical output.
type TermQuote struct {
	PlotID       int        `json:"plot_id"`
	Term         RentalTerm `json:"term"`
	BaseMonthly  int64      `json:"base_monthly_usd"`
	Multiplier   int        `json:"multiplier"`
	DiscountRate float64    `json:"discount_rate"`
	TotalPrice   int64      `json:"total_price_usd"`
	Savings      int64      `json:"savings_usd"`
}

// PlotView is the read-model returned by the dashboard/detail endpoints:
// the stored record plus state derived at read time (expiry is recomputed on
// every read, never cached).
type PlotView struct {
	PlotRecord
	Status        PlotStatus `json:"status"`
	Expired       bool       `json:"expired"`
	RemainingDays int        `json:"remaining_days"`
}

// RentalRequest is the strict boundary schema for lifecycle operations.
// It arrives from the checkout boundary (webhook metadata or the explicit
// process-rental call) and is validated before any lifecycle operation runs.
type RentalRequest struct {
	PlotID       int        `json:"plot_id" validate:"required,min=1"`
	Term         RentalTerm `json:"term" validate:"required,term"`
	OwnerAddress string     `json:"owner_address" validate:"required,wallet_address"`
	OwnerEmail   string     `json:"owner_email" validate:"required,email"`
	IsRenewal    bool       `json:"is_renewal"`
}

// RedirectURLs carries the server-constructed success/cancel URLs for a
// checkout session. These are never accepted from client input.
type RedirectURLs struct {
	Success string
	Cancel  string
}

// CheckoutSession abstracts the payment provider's checkout session object.
type CheckoutSession struct {
	ID        string    `json:"session_id"`
	URL       string    `json:"checkout_url"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Package rental implements the plot rental lifecycle: first sale, renewal,
// and the read-time derivation of expiry state. The stored record is the
// single source of truth; expiry is always recomputed from rental_end_date
// and never persisted.
package rental

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"faberland/internal/pricing"
	"faberland/internal/types"
)

// PlotStore is the persistence surface the lifecycle service requires.
// Implemented by db.PlotRepository.
type PlotStore interface {
	IsSold(ctx context.Context, plotID int) (bool, error)
	GetByID(ctx context.Context, plotID int) (*types.PlotRecord, error)
	GetAllSold(ctx context.Context) ([]*types.PlotRecord, error)
	GetByOwner(ctx context.Context, ownerAddress string) ([]*types.PlotRecord, error)
	CreateIfAbsent(ctx context.Context, rec *types.PlotRecord) (bool, error)
	Renew(ctx context.Context, plotID int, term types.RentalTerm) (*types.PlotRecord, error)
	PurgeTestPlot(ctx context.Context, plotID int) error
}

// Service orchestrates the rental lifecycle over a PlotStore and the static
// price table.
type Service struct {
	store  PlotStore
	table  pricing.PriceTable
	logger *slog.Logger

	// locks serializes lifecycle writes per plot id within this process.
	// The database's set-if-absent insert is the real correctness guard;
	// the lock just keeps concurrent writers for the same plot from racing
	// to the conflict error path.
	locks keyedMutex

	// soldGroup collapses concurrent sold-list reads (the dashboard polls
	// this endpoint from every connected client) into one store query.
	soldGroup singleflight.Group

	// now is injectable for deterministic lifecycle tests.
	now func() time.Time
}

// NewService creates the lifecycle service.
func NewService(store PlotStore, table pricing.PriceTable, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		store:  store,
		table:  table,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// MarkAsSold records the first sale of a plot. The write is atomic: either
// the full record is created or, if any record already exists for the id, it
// fails with conflict_plot_already_sold and changes nothing. All dates are
// derived server side from the current clock and the term length.
func (s *Service) MarkAsSold(ctx context.Context, req *types.RentalRequest) (*types.PlotRecord, error) {
	if !req.Term.Valid() {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidTerm,
			fmt.Sprintf("unknown rental term %q", req.Term),
			nil,
		)
	}
	// Reject ids that are not on the estate map before touching the store.
	if _, err := s.table.BasePrice(req.PlotID); err != nil {
		return nil, err
	}

	unlock := s.locks.lock(req.PlotID)
	defer unlock()

	now := s.now()
	rec := &types.PlotRecord{
		ID:              req.PlotID,
		IsSold:          true,
		OwnerAddress:    req.OwnerAddress,
		OwnerEmail:      req.OwnerEmail,
		RentalTerm:      req.Term,
		RentalStartDate: now,
		RentalEndDate:   now.AddDate(0, 0, req.Term.Days()),
		SoldAt:          now,
	}

	created, err := s.store.CreateIfAbsent(ctx, rec)
	if err != nil {
		return nil, err
	}
	if !created {
		return nil, types.NewAppError(
			types.ErrCodeConflictAlreadySold,
			fmt.Sprintf("plot %d is already sold", req.PlotID),
			nil,
		)
	}

	s.logger.Info("plot sold",
		"plot_id", req.PlotID,
		"term", req.Term,
		"rental_end_date", rec.RentalEndDate,
	)

	// Re-read so the caller sees the store-assigned created_at/updated_at.
	return s.store.GetByID(ctx, req.PlotID)
}

// Renew extends an existing rental by the term length. The extension anchors
// on the stored end date when the rental is still active and on the present
// moment when it has lapsed; the anchoring happens inside the store's single
// UPDATE, so no read-modify-write window exists. Ownership is unchanged.
func (s *Service) Renew(ctx context.Context, plotID int, term types.RentalTerm) (*types.PlotRecord, error) {
	if !term.Valid() {
		return nil, types.NewAppError(
			types.ErrCodeValidationInvalidTerm,
			fmt.Sprintf("unknown rental term %q", term),
			nil,
		)
	}

	unlock := s.locks.lock(plotID)
	defer unlock()

	rec, err := s.store.Renew(ctx, plotID, term)
	if err != nil {
		return nil, err
	}

	s.logger.Info("plot rental renewed",
		"plot_id", plotID,
		"term", term,
		"rental_end_date", rec.RentalEndDate,
	)
	return rec, nil
}

// IsExpired reports whether the record's rental has lapsed at the given
// instant. The boundary is inclusive: a rental whose end date equals now is
// already expired.
func IsExpired(rec *types.PlotRecord, now time.Time) bool {
	return !rec.RentalEndDate.After(now)
}

// RemainingTime returns the time left on the rental, clamped at zero.
func RemainingTime(rec *types.PlotRecord, now time.Time) time.Duration {
	d := rec.RentalEndDate.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}

// StatusOf derives the presentation status of a record at the given instant.
func StatusOf(rec *types.PlotRecord, now time.Time) types.PlotStatus {
	if IsExpired(rec, now) {
		return types.PlotStatusExpired
	}
	if RemainingTime(rec, now) <= types.ExpiringSoonWindow {
		return types.PlotStatusExpiringSoon
	}
	return types.PlotStatusActive
}

// viewOf assembles the read model for a record, deriving all state at the
// given instant.
func viewOf(rec *types.PlotRecord, now time.Time) types.PlotView {
	remaining := RemainingTime(rec, now)
	return types.PlotView{
		PlotRecord:    *rec,
		Status:        StatusOf(rec, now),
		Expired:       IsExpired(rec, now),
		RemainingDays: int(math.Ceil(remaining.Hours() / 24)),
	}
}

// IsSold reports whether the plot currently has a sold record.
// Unknown plots report false without error.
func (s *Service) IsSold(ctx context.Context, plotID int) (bool, error) {
	return s.store.IsSold(ctx, plotID)
}

// GetPlot returns the read model for a single plot.
func (s *Service) GetPlot(ctx context.Context, plotID int) (*types.PlotView, error) {
	rec, err := s.store.GetByID(ctx, plotID)
	if err != nil {
		return nil, err
	}
	view := viewOf(rec, s.now())
	return &view, nil
}

// soldQueryTimeout bounds the shared sold-list query. The query runs
// detached from any single caller's context, so it needs its own deadline.
const soldQueryTimeout = 10 * time.Second

// ListSold returns the read models of every sold plot. Concurrent callers
// share a single store query via singleflight; expiry is derived per caller
// after the shared read, so the collapse never serves stale status beyond
// the lifetime of the query itself.
func (s *Service) ListSold(ctx context.Context) ([]types.PlotView, error) {
	v, err, _ := s.soldGroup.Do("sold", func() (any, error) {
		// The query serves every collapsed caller, so it must not
		// inherit the winning caller's cancellation: one client
		// disconnecting would otherwise fail the read for all of them.
		qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), soldQueryTimeout)
		defer cancel()
		return s.store.GetAllSold(qctx)
	})
	if err != nil {
		return nil, err
	}

	records := v.([]*types.PlotRecord)
	now := s.now()
	views := make([]types.PlotView, 0, len(records))
	for _, rec := range records {
		views = append(views, viewOf(rec, now))
	}
	return views, nil
}

// ListByOwner returns the read models of every plot held by the owner
// address, matched case-insensitively.
func (s *Service) ListByOwner(ctx context.Context, ownerAddress string) ([]types.PlotView, error) {
	records, err := s.store.GetByOwner(ctx, ownerAddress)
	if err != nil {
		return nil, err
	}

	now := s.now()
	views := make([]types.PlotView, 0, len(records))
	for _, rec := range records {
		views = append(views, viewOf(rec, now))
	}
	return views, nil
}

// Quote prices the given term for the given plot.
func (s *Service) Quote(plotID int, term types.RentalTerm) (types.TermQuote, error) {
	return pricing.QuoteForPlot(s.table, plotID, term)
}

// QuoteAllTerms prices every term for the given plot, for the pricing page.
func (s *Service) QuoteAllTerms(plotID int) ([]types.TermQuote, error) {
	terms := []types.RentalTerm{types.TermMonthly, types.TermQuarterly, types.TermYearly}
	quotes := make([]types.TermQuote, 0, len(terms))
	for _, term := range terms {
		q, err := pricing.QuoteForPlot(s.table, plotID, term)
		if err != nil {
			return nil, err
		}
		quotes = append(quotes, q)
	}
	return quotes, nil
}

// PurgeTestPlot removes a diagnostics sentinel record so the ops roundtrip
// can repeat. The store refuses non-sentinel ids.
func (s *Service) PurgeTestPlot(ctx context.Context, plotID int) error {
	unlock := s.locks.lock(plotID)
	defer unlock()
	return s.store.PurgeTestPlot(ctx, plotID)
}

// keyedMutex provides one mutex per plot id. With 48 plots plus two
// sentinels the map stays tiny, so entries are never evicted.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[int]*sync.Mutex
}

// lock acquires the mutex for the id and returns its unlock func.
func (k *keyedMutex) lock(id int) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[int]*sync.Mutex)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

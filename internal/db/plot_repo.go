package db

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"faberland/internal/pricing"
	"faberland/internal/types"
)

// PlotRepository provides data access for the plot_records table.
//
// Expected schema:
//
//	CREATE TABLE plot_records (
//	    id                INTEGER PRIMARY KEY,
//	    is_sold           BOOLEAN NOT NULL DEFAULT TRUE,
//	    owner_address     TEXT NOT NULL,
//	    owner_email       TEXT NOT NULL,
//	    rental_term       TEXT NOT NULL,
//	    rental_start_date TIMESTAMPTZ NOT NULL,
//	    rental_end_date   TIMESTAMPTZ NOT NULL,
//	    sold_at           TIMESTAMPTZ NOT NULL,
//	    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
//	    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
//	);
//
// Key invariants:
//   - CreateIfAbsent is the atomic set-if-absent primitive keyed by plot id
//     (INSERT .. ON CONFLICT DO NOTHING). First writer wins; concurrent
//     writers cannot corrupt state.
//   - Renew anchors on the STORED rental_end_date inside a single UPDATE
//     (GREATEST(rental_end_date, NOW())), so a stale or client-supplied end
//     date can never be used as the renewal anchor.
//   - All storage failures surface as storage_unavailable, distinct from
//     not_found_plot, so callers can tell "plot doesn't exist" apart from
//     "store is down".
type PlotRepository struct {
	db     DBTX
	logger *slog.Logger
}

// NewPlotRepository creates a new PlotRepository backed by the given database
// connection (pool or transaction).
func NewPlotRepository(db DBTX, logger *slog.Logger) *PlotRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlotRepository{db: db, logger: logger}
}

// plotColumns defines the standard set of columns selected for plot queries.
// Used consistently across all query methods to avoid column drift.
const plotColumns = `p.id, p.is_sold, p.owner_address, p.owner_email, p.rental_term,
	p.rental_start_date, p.rental_end_date, p.sold_at, p.created_at, p.updated_at`

// scanPlot scans a single plot row into a types.PlotRecord struct.
// The columns must match the order defined in plotColumns.
func scanPlot(row pgx.Row) (*types.PlotRecord, error) {
	var rec types.PlotRecord
	err := row.Scan(
		&rec.ID,
		&rec.IsSold,
		&rec.OwnerAddress,
		&rec.OwnerEmail,
		&rec.RentalTerm,
		&rec.RentalStartDate,
		&rec.RentalEndDate,
		&rec.SoldAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// IsSold reports whether a sold record exists for the plot id.
// Unknown ids are not an error: they return (false, nil).
func (r *PlotRepository) IsSold(ctx context.Context, plotID int) (bool, error) {
	var sold bool
	err := r.db.QueryRow(ctx,
		`SELECT is_sold FROM plot_records WHERE id = $1`,
		plotID,
	).Scan(&sold)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, types.NewAppError(types.ErrCodeStorageUnavailable, "failed to check plot status", err)
	}
	return sold, nil
}

// GetByID retrieves a plot record by its id.
// Returns not_found_plot if no record exists.
func (r *PlotRepository) GetByID(ctx context.Context, plotID int) (*types.PlotRecord, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+plotColumns+` FROM plot_records p WHERE p.id = $1`,
		plotID,
	)

	rec, err := scanPlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPlot, "plot has no rental record", nil)
		}
		return nil, types.NewAppError(types.ErrCodeStorageUnavailable, "failed to retrieve plot record", err)
	}
	return rec, nil
}

// GetAllSold returns every record currently marked sold. Row order is not
// guaranteed and consumers must not rely on it.
func (r *PlotRepository) GetAllSold(ctx context.Context) ([]*types.PlotRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+plotColumns+` FROM plot_records p WHERE p.is_sold`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeStorageUnavailable, "failed to list sold plots", err)
	}
	defer rows.Close()

	return collectPlots(rows)
}

// GetByOwner returns every record whose owner address matches the given
// address. Matching is case-insensitive: wallet addresses arrive in mixed
// EIP-55 checksum casing from different clients, so both sides are lowered.
// The stored value keeps its original casing for display.
func (r *PlotRepository) GetByOwner(ctx context.Context, ownerAddress string) ([]*types.PlotRecord, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+plotColumns+` FROM plot_records p
		 WHERE LOWER(p.owner_address) = LOWER($1)`,
		ownerAddress,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeStorageUnavailable, "failed to list plots by owner", err)
	}
	defer rows.Close()

	return collectPlots(rows)
}

// collectPlots drains rows into a slice, mapping scan/iteration failures to
// storage_unavailable.
func collectPlots(rows pgx.Rows) ([]*types.PlotRecord, error) {
	records := []*types.PlotRecord{}
	for rows.Next() {
		rec, err := scanPlot(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeStorageUnavailable, "failed to scan plot record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeStorageUnavailable, "failed to iterate plot records", err)
	}
	return records, nil
}

// CreateIfAbsent inserts a new plot record only if no record exists for the
// id. Returns (true, nil) if the record was created, (false, nil) if a record
// already existed (the caller maps this to conflict_plot_already_sold).
//
// The row is written whole or not at all; there is no partial state.
func (r *PlotRepository) CreateIfAbsent(ctx context.Context, rec *types.PlotRecord) (bool, error) {
	tag, err := r.db.Exec(ctx,
		`INSERT INTO plot_records
		 (id, is_sold, owner_address, owner_email, rental_term,
		  rental_start_date, rental_end_date, sold_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		 ON CONFLICT (id) DO NOTHING`,
		rec.ID,
		rec.IsSold,
		rec.OwnerAddress,
		rec.OwnerEmail,
		rec.RentalTerm,
		rec.RentalStartDate,
		rec.RentalEndDate,
		rec.SoldAt,
	)
	if err != nil {
		return false, types.NewAppError(types.ErrCodeStorageUnavailable, "failed to create plot record", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Upsert writes the record with create-or-replace semantics keyed by id.
// Used by backfill/ops tooling; normal lifecycle writes go through
// CreateIfAbsent and Renew, which preserve their invariants.
func (r *PlotRepository) Upsert(ctx context.Context, rec *types.PlotRecord) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO plot_records
		 (id, is_sold, owner_address, owner_email, rental_term,
		  rental_start_date, rental_end_date, sold_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())
		 ON CONFLICT (id) DO UPDATE SET
		   is_sold = EXCLUDED.is_sold,
		   owner_address = EXCLUDED.owner_address,
		   owner_email = EXCLUDED.owner_email,
		   rental_term = EXCLUDED.rental_term,
		   rental_start_date = EXCLUDED.rental_start_date,
		   rental_end_date = EXCLUDED.rental_end_date,
		   sold_at = EXCLUDED.sold_at,
		   updated_at = NOW()`,
		rec.ID,
		rec.IsSold,
		rec.OwnerAddress,
		rec.OwnerEmail,
		rec.RentalTerm,
		rec.RentalStartDate,
		rec.RentalEndDate,
		rec.SoldAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeStorageUnavailable, "failed to upsert plot record", err)
	}
	return nil
}

// Renew extends the rental in a single conditional UPDATE.
//
// The new end date is GREATEST(rental_end_date, NOW()) + the term length:
// renewing a still-active rental extends from its current expiry, while
// renewing an already-expired rental extends from the present moment. The
// stored record is the sole source of truth for the anchor; no caller input
// can influence it. rental_start_date, sold_at and the owner fields are left
// unchanged (renewal does not transfer ownership).
//
// Returns the updated record, or not_found_plot if no record exists.
func (r *PlotRepository) Renew(ctx context.Context, plotID int, term types.RentalTerm) (*types.PlotRecord, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE plot_records p
		 SET rental_end_date = GREATEST(p.rental_end_date, NOW()) + make_interval(days => $2),
		     rental_term = $3,
		     updated_at = NOW()
		 WHERE p.id = $1
		 RETURNING `+plotColumns,
		plotID,
		term.Days(),
		term,
	)

	rec, err := scanPlot(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPlot, "plot has no rental record to renew", nil)
		}
		return nil, types.NewAppError(types.ErrCodeStorageUnavailable, "failed to renew plot record", err)
	}
	return rec, nil
}

// PurgeTestPlot deletes the record for a diagnostics sentinel plot so the
// ops roundtrip can run repeatedly. It refuses ids below the sentinel range:
// real inventory has no un-sell operation.
func (r *PlotRepository) PurgeTestPlot(ctx context.Context, plotID int) error {
	if !pricing.IsTestPlot(plotID) {
		return types.NewAppError(
			types.ErrCodeValidationInvalidPlotID,
			"only diagnostics sentinel plots may be purged",
			nil,
		)
	}

	_, err := r.db.Exec(ctx,
		`DELETE FROM plot_records WHERE id = $1`,
		plotID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeStorageUnavailable, "failed to purge test plot record", err)
	}
	return nil
}

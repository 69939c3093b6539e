package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"faberland/internal/core"
	"faberland/internal/types"
)

// diagPlotID is the sentinel plot exercised by the rental roundtrip. It sits
// outside the sellable range 1..48, so the diagnostic can never collide with
// a real customer rental.
const diagPlotID = 999

// diagEndDateTolerance bounds the allowed drift between the expected and
// stored rental end dates. Generous enough for clock skew between the API
// process and the database.
const diagEndDateTolerance = 2 * time.Minute

// diagOwnerAddress is a syntactically valid wallet address reserved for
// diagnostics runs.
const diagOwnerAddress = "0x0000000000000000000000000000000000000999"

const diagOwnerEmail = "diagnostics@faberland.io"

// ---------------------------------------------------------------------------
// Interfaces for diagnostics handler dependencies
// ---------------------------------------------------------------------------

// DiagnosticsService is the lifecycle surface the roundtrip exercises.
// Implemented by rental.Service.
type DiagnosticsService interface {
	MarkAsSold(ctx context.Context, req *types.RentalRequest) (*types.PlotRecord, error)
	Renew(ctx context.Context, plotID int, term types.RentalTerm) (*types.PlotRecord, error)
	GetPlot(ctx context.Context, plotID int) (*types.PlotView, error)
	PurgeTestPlot(ctx context.Context, plotID int) error
}

// ---------------------------------------------------------------------------
// Diagnostics Handler
// ---------------------------------------------------------------------------

// DiagnosticsHandler runs a full rental lifecycle against a sentinel plot so
// operators can verify the production write path end to end. Every route is
// gated behind the admin key middleware.
type DiagnosticsHandler struct {
	svc    DiagnosticsService
	guard  func(http.Handler) http.Handler
	logger *slog.Logger

	// now is injectable for deterministic tests.
	now func() time.Time
}

// NewDiagnosticsHandler creates a new DiagnosticsHandler. guard is the admin
// key middleware that protects every diagnostics route.
func NewDiagnosticsHandler(svc DiagnosticsService, guard func(http.Handler) http.Handler, logger *slog.Logger) *DiagnosticsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DiagnosticsHandler{
		svc:    svc,
		guard:  guard,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RegisterRoutes mounts the diagnostics endpoints behind the admin guard.
func (h *DiagnosticsHandler) RegisterRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.guard)
		r.Post("/diagnostics/rental", h.HandleRentalRoundtrip)
	})
}

// diagStep records the outcome of one stage of the roundtrip.
type diagStep struct {
	Name   string `json:"name"`
	OK     bool   `json:"ok"`
	Detail string `json:"detail,omitempty"`
}

// diagReport is the roundtrip response body.
type diagReport struct {
	RunID       string     `json:"run_id"`
	PlotID      int        `json:"plot_id"`
	Passed      bool       `json:"passed"`
	Steps       []diagStep `json:"steps"`
	CompletedAt time.Time  `json:"completed_at"`
}

// HandleRentalRoundtrip drives the sentinel plot through purge, first sale,
// stored-state verification, renewal, and cleanup. Each step's outcome is
// reported; the run stops at the first failure so later steps never mask the
// root cause. A failed run leaves the sentinel purged where possible.
//
// Returns 200 when every step passes and 500 otherwise, so an uptime probe
// can alert on status alone.
func (h *DiagnosticsHandler) HandleRentalRoundtrip(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	runID := uuid.NewString()

	h.logger.InfoContext(ctx, "starting rental diagnostics roundtrip",
		"run_id", runID,
		"plot_id", diagPlotID,
	)

	report := diagReport{
		RunID:  runID,
		PlotID: diagPlotID,
		Passed: true,
	}

	fail := func(name string, err error) {
		report.Steps = append(report.Steps, diagStep{Name: name, OK: false, Detail: err.Error()})
		report.Passed = false
	}
	pass := func(name string, detail string) {
		report.Steps = append(report.Steps, diagStep{Name: name, OK: true, Detail: detail})
	}

	finish := func() {
		report.CompletedAt = h.now()
		status := http.StatusOK
		if !report.Passed {
			status = http.StatusInternalServerError
			h.logger.ErrorContext(ctx, "rental diagnostics roundtrip failed",
				"run_id", runID,
				"steps", len(report.Steps),
			)
		}
		core.JSON(w, r, status, core.APIResponse{Data: report})
	}

	// Step 1: clear any residue from a previous run.
	if err := h.svc.PurgeTestPlot(ctx, diagPlotID); err != nil {
		fail("purge_before", err)
		finish()
		return
	}
	pass("purge_before", "")

	// Step 2: first sale.
	req := &types.RentalRequest{
		PlotID:       diagPlotID,
		Term:         types.TermMonthly,
		OwnerAddress: diagOwnerAddress,
		OwnerEmail:   diagOwnerEmail,
	}
	soldAt := h.now()
	rec, err := h.svc.MarkAsSold(ctx, req)
	if err != nil {
		fail("mark_as_sold", err)
		finish()
		return
	}
	pass("mark_as_sold", fmt.Sprintf("rental_end_date=%s", rec.RentalEndDate.Format(time.RFC3339)))

	// Step 3: re-read and verify the stored state.
	view, err := h.svc.GetPlot(ctx, diagPlotID)
	if err != nil {
		fail("verify_record", err)
	} else if err := h.verifySale(view, soldAt); err != nil {
		fail("verify_record", err)
	} else {
		pass("verify_record", fmt.Sprintf("status=%s remaining_days=%d", view.Status, view.RemainingDays))
	}
	if !report.Passed {
		h.cleanup(ctx, &report, pass, fail)
		finish()
		return
	}

	// Step 4: renew and verify the extension anchored on the stored end date.
	renewed, err := h.svc.Renew(ctx, diagPlotID, types.TermMonthly)
	if err != nil {
		fail("renew", err)
	} else if err := h.verifyRenewal(rec, renewed); err != nil {
		fail("renew", err)
	} else {
		pass("renew", fmt.Sprintf("rental_end_date=%s", renewed.RentalEndDate.Format(time.RFC3339)))
	}

	// Step 5: cleanup regardless of the renewal outcome.
	h.cleanup(ctx, &report, pass, fail)
	finish()
}

// verifySale checks the stored record against what MarkAsSold must have
// written for a monthly sentinel sale started at soldAt.
func (h *DiagnosticsHandler) verifySale(view *types.PlotView, soldAt time.Time) error {
	if !view.IsSold {
		return fmt.Errorf("expected is_sold=true, got false")
	}
	if view.OwnerAddress != diagOwnerAddress {
		return fmt.Errorf("owner address mismatch: %q", view.OwnerAddress)
	}
	if view.RentalTerm != types.TermMonthly {
		return fmt.Errorf("term mismatch: %q", view.RentalTerm)
	}
	if view.Expired {
		return fmt.Errorf("fresh sale reported as expired")
	}

	wantEnd := soldAt.AddDate(0, 0, types.TermMonthly.Days())
	if drift := absDuration(view.RentalEndDate.Sub(wantEnd)); drift > diagEndDateTolerance {
		return fmt.Errorf("rental_end_date drift %s exceeds tolerance: got %s, want about %s",
			drift, view.RentalEndDate.Format(time.RFC3339), wantEnd.Format(time.RFC3339))
	}
	return nil
}

// verifyRenewal checks that the renewal extended the active rental by
// exactly one term from the previous end date.
func (h *DiagnosticsHandler) verifyRenewal(before, after *types.PlotRecord) error {
	wantEnd := before.RentalEndDate.AddDate(0, 0, types.TermMonthly.Days())
	if drift := absDuration(after.RentalEndDate.Sub(wantEnd)); drift > diagEndDateTolerance {
		return fmt.Errorf("renewal end date drift %s exceeds tolerance: got %s, want about %s",
			drift, after.RentalEndDate.Format(time.RFC3339), wantEnd.Format(time.RFC3339))
	}
	if !after.RentalStartDate.Equal(before.RentalStartDate) {
		return fmt.Errorf("renewal must not move rental_start_date")
	}
	return nil
}

// cleanup purges the sentinel so the next run starts clean.
func (h *DiagnosticsHandler) cleanup(
	ctx context.Context,
	report *diagReport,
	pass func(string, string),
	fail func(string, error),
) {
	if err := h.svc.PurgeTestPlot(ctx, diagPlotID); err != nil {
		fail("purge_after", err)
		return
	}
	pass("purge_after", "")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

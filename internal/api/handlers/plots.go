// Package handlers contains the HTTP handler implementations for the
// Faberland rental API.
//
// Handlers follow a common pattern: the service contract is defined locally
// in the handler file as a narrow interface, implementations are injected
// via the constructor, and routes are mounted through RegisterRoutes.
package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"faberland/internal/core"
	"faberland/internal/types"
)

// ---------------------------------------------------------------------------
// Interfaces for plot read endpoints
// ---------------------------------------------------------------------------

// RentalReader is the read-side surface of the rental service used by the
// plot endpoints. Implemented by rental.Service.
type RentalReader interface {
	IsSold(ctx context.Context, plotID int) (bool, error)
	GetPlot(ctx context.Context, plotID int) (*types.PlotView, error)
	ListSold(ctx context.Context) ([]types.PlotView, error)
	ListByOwner(ctx context.Context, ownerAddress string) ([]types.PlotView, error)
	Quote(plotID int, term types.RentalTerm) (types.TermQuote, error)
	QuoteAllTerms(plotID int) ([]types.TermQuote, error)
}

// ---------------------------------------------------------------------------
// Request/Response models
// ---------------------------------------------------------------------------

// plotListResponse is the payload for sold-plot listings.
type plotListResponse struct {
	Plots []types.PlotView `json:"plots"`
	Count int              `json:"count"`
}

// plotStatusResponse is the lightweight availability check used by the
// estate map. Unknown plots report is_sold=false rather than 404 so the map
// can render all 48 plots with a single code path.
type plotStatusResponse struct {
	PlotID int  `json:"plot_id"`
	IsSold bool `json:"is_sold"`
}

// plotPricingResponse carries the full term matrix for the pricing page.
type plotPricingResponse struct {
	PlotID int               `json:"plot_id"`
	Quotes []types.TermQuote `json:"quotes"`
}

// ownerPlotsParams validates the owner address path parameter.
type ownerPlotsParams struct {
	Address string `validate:"required,wallet_address"`
}

// ---------------------------------------------------------------------------
// Plots Handler
// ---------------------------------------------------------------------------

// PlotsHandler serves the public read endpoints: sold listings, per-plot
// detail and availability, pricing quotes, and owner portfolios.
type PlotsHandler struct {
	svc       RentalReader
	validator *core.Validator
	logger    *slog.Logger
}

// NewPlotsHandler creates a new PlotsHandler with the provided dependencies.
func NewPlotsHandler(svc RentalReader, validator *core.Validator, logger *slog.Logger) *PlotsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlotsHandler{
		svc:       svc,
		validator: validator,
		logger:    logger,
	}
}

// RegisterRoutes mounts the plot read endpoints.
func (h *PlotsHandler) RegisterRoutes(r chi.Router) {
	r.Get("/plots/sold", h.HandleListSold)
	r.Get("/plots/{plotID}", h.HandleGetPlot)
	r.Get("/plots/{plotID}/status", h.HandleGetStatus)
	r.Get("/plots/{plotID}/quote", h.HandleQuote)
	r.Get("/owners/{address}/plots", h.HandleListByOwner)
}

// plotIDParam extracts and parses the plotID path parameter.
func plotIDParam(r *http.Request) (int, error) {
	raw := chi.URLParam(r, "plotID")
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, types.NewAppError(
			types.ErrCodeValidationInvalidPlotID,
			"plot id must be an integer",
			err,
		)
	}
	return id, nil
}

// HandleListSold returns every sold plot with its derived rental status.
// This is the dashboard's polling endpoint; concurrent requests share a
// single store read inside the service.
func (h *PlotsHandler) HandleListSold(w http.ResponseWriter, r *http.Request) {
	plots, err := h.svc.ListSold(r.Context())
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: plotListResponse{
		Plots: plots,
		Count: len(plots),
	}})
}

// HandleGetPlot returns the full read model for a single plot.
// Plots with no sale record return 404.
func (h *PlotsHandler) HandleGetPlot(w http.ResponseWriter, r *http.Request) {
	plotID, err := plotIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	view, err := h.svc.GetPlot(r.Context(), plotID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: view})
}

// HandleGetStatus returns whether the plot currently has a sold record.
func (h *PlotsHandler) HandleGetStatus(w http.ResponseWriter, r *http.Request) {
	plotID, err := plotIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	sold, err := h.svc.IsSold(r.Context(), plotID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: plotStatusResponse{
		PlotID: plotID,
		IsSold: sold,
	}})
}

// HandleQuote prices the plot. With ?term= it returns the single TermQuote;
// without it the full term matrix for the pricing page.
func (h *PlotsHandler) HandleQuote(w http.ResponseWriter, r *http.Request) {
	plotID, err := plotIDParam(r)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	if raw := r.URL.Query().Get("term"); raw != "" {
		quote, err := h.svc.Quote(plotID, types.RentalTerm(raw))
		if err != nil {
			core.Error(w, r, err)
			return
		}
		core.JSON(w, r, http.StatusOK, core.APIResponse{Data: quote})
		return
	}

	quotes, err := h.svc.QuoteAllTerms(plotID)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: plotPricingResponse{
		PlotID: plotID,
		Quotes: quotes,
	}})
}

// HandleListByOwner returns every plot held by the given wallet address.
// The address is matched case-insensitively; an owner with no plots gets an
// empty list, not 404.
func (h *PlotsHandler) HandleListByOwner(w http.ResponseWriter, r *http.Request) {
	params := ownerPlotsParams{Address: chi.URLParam(r, "address")}
	if err := h.validator.ValidateStruct(params); err != nil {
		core.Error(w, r, err)
		return
	}

	plots, err := h.svc.ListByOwner(r.Context(), params.Address)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: plotListResponse{
		Plots: plots,
		Count: len(plots),
	}})
}

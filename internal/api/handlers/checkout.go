package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"faberland/internal/core"
	"faberland/internal/types"
)

// ---------------------------------------------------------------------------
// Interfaces for checkout handler dependencies
// ---------------------------------------------------------------------------

// RentalLifecycle is the write-side surface of the rental service used by
// the checkout endpoints. Implemented by rental.Service.
type RentalLifecycle interface {
	IsSold(ctx context.Context, plotID int) (bool, error)
	MarkAsSold(ctx context.Context, req *types.RentalRequest) (*types.PlotRecord, error)
	Renew(ctx context.Context, plotID int, term types.RentalTerm) (*types.PlotRecord, error)
	Quote(plotID int, term types.RentalTerm) (types.TermQuote, error)
}

// CheckoutSessionCreator abstracts the payment provider.
// Implemented by external.StripeClient.
type CheckoutSessionCreator interface {
	CreateCheckoutSession(
		ctx context.Context,
		req *types.RentalRequest,
		quote types.TermQuote,
		urls types.RedirectURLs,
	) (*types.CheckoutSession, error)
}

// ---------------------------------------------------------------------------
// Request/Response models
// ---------------------------------------------------------------------------

// checkoutResponse pairs the created session with the quote it will charge,
// so the checkout page can show the price without a second request.
type checkoutResponse struct {
	Session *types.CheckoutSession `json:"session"`
	Quote   types.TermQuote        `json:"quote"`
}

// ---------------------------------------------------------------------------
// Checkout Handler
// ---------------------------------------------------------------------------

// CheckoutHandler serves the payment entry point and the direct lifecycle
// endpoint.
//
// SuccessURL and CancelURL are never accepted from the request body. They
// are constructed server-side from the configured site URL, which prevents
// an attacker from crafting a checkout session that redirects a buyer to an
// arbitrary site after payment (Open Redirect).
type CheckoutHandler struct {
	svc       RentalLifecycle
	stripe    CheckoutSessionCreator
	validator *core.Validator
	siteURL   string
	logger    *slog.Logger
}

// NewCheckoutHandler creates a new CheckoutHandler with the provided
// dependencies. siteURL is the public site base URL without a trailing slash.
func NewCheckoutHandler(
	svc RentalLifecycle,
	stripe CheckoutSessionCreator,
	validator *core.Validator,
	siteURL string,
	logger *slog.Logger,
) *CheckoutHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &CheckoutHandler{
		svc:       svc,
		stripe:    stripe,
		validator: validator,
		siteURL:   siteURL,
		logger:    logger,
	}
}

// RegisterRoutes mounts the checkout endpoints.
func (h *CheckoutHandler) RegisterRoutes(r chi.Router) {
	r.Post("/checkout-session", h.HandleCreateCheckoutSession)
	r.Post("/rentals/process", h.HandleProcessRental)
}

// HandleCreateCheckoutSession creates a Stripe Checkout session for a rental
// or renewal.
//
// For a first sale the plot's availability is pre-checked so a buyer is
// rejected before reaching the payment page. The check is advisory: the
// authoritative guard is the atomic insert that runs when the webhook
// confirms payment.
func (h *CheckoutHandler) HandleCreateCheckoutSession(w http.ResponseWriter, r *http.Request) {
	var req types.RentalRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	if !req.IsRenewal {
		sold, err := h.svc.IsSold(r.Context(), req.PlotID)
		if err != nil {
			core.Error(w, r, err)
			return
		}
		if sold {
			core.Error(w, r, types.NewAppError(
				types.ErrCodeConflictAlreadySold,
				fmt.Sprintf("plot %d is already sold", req.PlotID),
				nil,
			))
			return
		}
	}

	quote, err := h.svc.Quote(req.PlotID, req.Term)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	urls := types.RedirectURLs{
		Success: h.siteURL + "/rental/success?session_id={CHECKOUT_SESSION_ID}",
		Cancel:  h.siteURL + "/rental/cancel",
	}

	session, err := h.stripe.CreateCheckoutSession(r.Context(), &req, quote, urls)
	if err != nil {
		core.Error(w, r, err)
		return
	}

	h.logger.InfoContext(r.Context(), "checkout session issued",
		"session_id", session.ID,
		"plot_id", req.PlotID,
		"term", req.Term,
		"is_renewal", req.IsRenewal,
	)

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: checkoutResponse{
		Session: session,
		Quote:   quote,
	}})
}

// HandleProcessRental executes the rental lifecycle directly, bypassing
// Stripe. This is the path used by integrations that settle payment out of
// band (and by the dashboard admin tooling).
func (h *CheckoutHandler) HandleProcessRental(w http.ResponseWriter, r *http.Request) {
	var req types.RentalRequest
	if err := core.DecodeJSON(w, r, &req); err != nil {
		core.Error(w, r, err)
		return
	}
	if err := h.validator.ValidateStruct(req); err != nil {
		core.Error(w, r, err)
		return
	}

	var (
		rec *types.PlotRecord
		err error
	)
	if req.IsRenewal {
		rec, err = h.svc.Renew(r.Context(), req.PlotID, req.Term)
	} else {
		rec, err = h.svc.MarkAsSold(r.Context(), &req)
	}
	if err != nil {
		core.Error(w, r, err)
		return
	}

	core.JSON(w, r, http.StatusOK, core.APIResponse{Data: rec})
}

// This file implements the Stripe webhook handler.
//
// The handler is NOT behind auth middleware -- it is called directly by
// Stripe. Security is provided by verifying the Stripe-Signature header
// using HMAC-SHA256.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"faberland/internal/core"
	"faberland/internal/types"
)

// maxWebhookBodySize is the maximum allowed size of a Stripe webhook payload
// (64 KB). Stripe webhook payloads are typically small; this limit protects
// against abuse.
const maxWebhookBodySize = 64 * 1024

// eventCheckoutCompleted is the only Stripe event type that mutates rental
// state. Everything else is acknowledged and ignored.
const eventCheckoutCompleted = "checkout.session.completed"

// ---------------------------------------------------------------------------
// Interfaces for webhook handler dependencies
// ---------------------------------------------------------------------------

// WebhookVerifier verifies a provider webhook signature.
// Implemented by external.StripeVerifier.
type WebhookVerifier interface {
	Verify(payload []byte, header string, secret string) error
}

// RentalProcessor is the lifecycle subset the webhook consumer needs.
// Implemented by rental.Service.
type RentalProcessor interface {
	MarkAsSold(ctx context.Context, req *types.RentalRequest) (*types.PlotRecord, error)
	Renew(ctx context.Context, plotID int, term types.RentalTerm) (*types.PlotRecord, error)
}

// ---------------------------------------------------------------------------
// Stripe Webhook Handler
// ---------------------------------------------------------------------------

// StripeWebhookHandler finalizes rentals when Stripe confirms payment.
// It is unauthenticated (no admin key) but verifies the provider signature.
type StripeWebhookHandler struct {
	verifier  WebhookVerifier
	rentals   RentalProcessor
	validator *core.Validator
	secret    string
	logger    *slog.Logger
}

// NewStripeWebhookHandler creates a new StripeWebhookHandler with the
// provided dependencies.
func NewStripeWebhookHandler(
	verifier WebhookVerifier,
	rentals RentalProcessor,
	validator *core.Validator,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier:  verifier,
		rentals:   rentals,
		validator: validator,
		secret:    secret,
		logger:    logger,
	}
}

// RegisterRoutes mounts the Stripe webhook endpoint. This is separate from
// CheckoutHandler.RegisterRoutes because the webhook route must stay outside
// any future auth grouping.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes incoming Stripe webhook events.
//
//  1. Reads the body and the "Stripe-Signature" header.
//  2. Verifies the signature using the webhook signing secret.
//  3. Parses the event JSON and checks the event type.
//  4. Rebuilds the RentalRequest from the session metadata.
//  5. Runs MarkAsSold or Renew.
//  6. Returns 200 OK.
//
// After the signature verifies, deterministic processing failures (bad
// metadata, already sold) still return 200: they fail the same way on every
// delivery, so acknowledging receipt keeps Stripe from retrying them
// pointlessly. Transient failures (storage down) return 5xx so Stripe's
// retry schedule can recover the write; the buyer has already paid, and
// dropping the event would lose the rental for good.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeAuthSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON",
			"error", err,
		)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidJSON,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	if event.Type != eventCheckoutCompleted {
		h.logger.InfoContext(r.Context(), "ignoring unhandled webhook event type",
			"event_id", event.ID,
			"event_type", event.Type,
		)
		w.WriteHeader(http.StatusOK)
		return
	}

	if err := h.processCheckoutCompleted(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			"event_id", event.ID,
			"error", err,
			"retryable", isRetryableProcessingError(err),
		)
		if isRetryableProcessingError(err) {
			core.Error(w, r, err)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
}

// isRetryableProcessingError reports whether a processing failure can
// plausibly succeed on a later delivery. Only these surface as 5xx; anything
// deterministic is acknowledged so Stripe stops redelivering it.
func isRetryableProcessingError(err error) bool {
	return types.HasErrorCode(err, types.ErrCodeStorageUnavailable) ||
		types.HasErrorCode(err, types.ErrCodeInternalUnexpected)
}

// processCheckoutCompleted finalizes the rental a completed checkout session
// paid for.
//
// Stripe delivers events at least once, so replays are expected. A replayed
// first sale surfaces as conflict_plot_already_sold from the atomic insert
// and is treated as success: the rental is already recorded.
func (h *StripeWebhookHandler) processCheckoutCompleted(ctx context.Context, event *stripeWebhookEvent) error {
	req, err := event.rentalRequest()
	if err != nil {
		return fmt.Errorf("event %s: %w", event.ID, err)
	}
	if err := h.validator.ValidateStruct(*req); err != nil {
		return fmt.Errorf("event %s: invalid session metadata: %w", event.ID, err)
	}

	h.logger.InfoContext(ctx, "processing checkout completed",
		"event_id", event.ID,
		"plot_id", req.PlotID,
		"term", req.Term,
		"is_renewal", req.IsRenewal,
	)

	if req.IsRenewal {
		_, err = h.rentals.Renew(ctx, req.PlotID, req.Term)
		return err
	}

	_, err = h.rentals.MarkAsSold(ctx, req)
	if types.HasErrorCode(err, types.ErrCodeConflictAlreadySold) {
		h.logger.InfoContext(ctx, "duplicate webhook delivery, rental already recorded",
			"event_id", event.ID,
			"plot_id", req.PlotID,
		)
		return nil
	}
	return err
}

// ---------------------------------------------------------------------------
// Stripe Event Parsing
// ---------------------------------------------------------------------------

// stripeWebhookEvent is a minimal representation of a Stripe webhook event
// tailored to extract the fields needed for processing. We avoid importing
// the full stripe.Event type to keep the handler decoupled from the
// stripe-go library and to make testing straightforward.
type stripeWebhookEvent struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Created int64           `json:"created"`
	Data    json.RawMessage `json:"data"`
}

// stripeEventData wraps the event data object.
type stripeEventData struct {
	Object json.RawMessage `json:"object"`
}

// stripeCheckoutSessionObj represents the minimal fields from a
// checkout.session.completed event's data object.
type stripeCheckoutSessionObj struct {
	ClientReferenceID string            `json:"client_reference_id"`
	Metadata          map[string]string `json:"metadata"`
}

// rentalRequest rebuilds the RentalRequest that CreateCheckoutSession stored
// in the session metadata. The plot id prefers metadata and falls back to
// client_reference_id, both of which our session creation sets.
func (e *stripeWebhookEvent) rentalRequest() (*types.RentalRequest, error) {
	var data stripeEventData
	if err := json.Unmarshal(e.Data, &data); err != nil {
		return nil, fmt.Errorf("decoding event data: %w", err)
	}

	var session stripeCheckoutSessionObj
	if err := json.Unmarshal(data.Object, &session); err != nil {
		return nil, fmt.Errorf("decoding checkout session object: %w", err)
	}

	rawPlotID := session.Metadata["plot_id"]
	if rawPlotID == "" {
		rawPlotID = session.ClientReferenceID
	}
	plotID, err := strconv.Atoi(rawPlotID)
	if err != nil {
		return nil, fmt.Errorf("missing or malformed plot_id %q", rawPlotID)
	}

	// is_renewal is absent on sessions created before renewal support
	// shipped; ParseBool's error on "" leaves the zero value.
	isRenewal, _ := strconv.ParseBool(session.Metadata["is_renewal"])

	return &types.RentalRequest{
		PlotID:       plotID,
		Term:         types.RentalTerm(session.Metadata["term"]),
		OwnerAddress: session.Metadata["owner_address"],
		OwnerEmail:   session.Metadata["owner_email"],
		IsRenewal:    isRenewal,
	}, nil
}

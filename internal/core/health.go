package core

import (
	"context"
	"net/http"
	"time"
)

// healthCheckTimeout bounds the storage ping so a wedged pool cannot hang
// the load balancer's probe.
const healthCheckTimeout = 2 * time.Second

// componentStatus represents the health state of a single subsystem.
type componentStatus struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// healthResponse is the JSON response body for the health check endpoint.
type healthResponse struct {
	Status     string                     `json:"status"`
	Components map[string]componentStatus `json:"components,omitempty"`
}

// HandleHealth reports service health. The only critical dependency is the
// plot record store; Stripe outages degrade checkout but the read API stays
// useful, so Stripe is deliberately not probed here.
//
// Returns 200 when the store answers a ping within the timeout, 503
// otherwise. Mounted unauthenticated at GET /health.
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		JSON(w, r, http.StatusOK, healthResponse{Status: "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.DB.Ping(ctx); err != nil {
		JSON(w, r, http.StatusServiceUnavailable, healthResponse{
			Status: "unhealthy",
			Components: map[string]componentStatus{
				"database": {Status: "unhealthy", Message: err.Error()},
			},
		})
		return
	}

	JSON(w, r, http.StatusOK, healthResponse{
		Status: "healthy",
		Components: map[string]componentStatus{
			"database": {Status: "healthy"},
		},
	})
}

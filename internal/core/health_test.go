package core

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"faberland/internal/config"
)

type fakePinger struct {
	err error
}

func (p *fakePinger) Ping(ctx context.Context) error { return p.err }

func newHealthServer(t *testing.T, db Pinger) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := NewServer(&config.Config{}, db, logger)
	if err != nil {
		t.Fatalf("failed to create server: %v", err)
	}
	return s
}

func TestHealth_DatabaseUp(t *testing.T) {
	s := newHealthServer(t, &fakePinger{})

	w := httptest.NewRecorder()
	s.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}

	var body healthResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Status != "healthy" {
		t.Errorf("expected healthy, got %q", body.Status)
	}
	if body.Components["database"].Status != "healthy" {
		t.Errorf("expected healthy database component, got %+v", body.Components)
	}
}

func TestHealth_DatabaseDown(t *testing.T) {
	s := newHealthServer(t, &fakePinger{err: errors.New("connection refused")})

	w := httptest.NewRecorder()
	s.HandleHealth(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}

	var body healthResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Status != "unhealthy" {
		t.Errorf("expected unhealthy, got %q", body.Status)
	}
}

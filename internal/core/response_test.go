package core

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"faberland/internal/types"
)

// --- JSON helper tests ---

func TestJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	data := APIResponse{Data: map[string]string{"name": "test"}}
	JSON(w, r, http.StatusOK, data)

	resp := w.Result()
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected status 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/json" {
		t.Errorf("expected Content-Type application/json, got %q", ct)
	}

	var decoded APIResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
}

// --- Error helper tests ---

func TestError_AppErrorMapsStatusAndCode(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r = r.WithContext(types.WithRequestID(r.Context(), "req-1"))

	Error(w, r, types.NewAppError(types.ErrCodeConflictAlreadySold, "plot 7 is already sold", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("expected 409, got %d", resp.StatusCode)
	}

	var body APIErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode: %v", err)
	}
	if body.Error.Code != string(types.ErrCodeConflictAlreadySold) {
		t.Errorf("expected conflict code, got %q", body.Error.Code)
	}
	if body.Error.RequestID != "req-1" {
		t.Errorf("expected request ID in body, got %q", body.Error.RequestID)
	}
}

func TestError_StorageUnavailableIs503(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(w, r, types.NewAppError(types.ErrCodeStorageUnavailable, "store is down", errors.New("dial tcp: refused")))

	resp := w.Result()
	if resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", resp.StatusCode)
	}

	var body APIErrorResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if strings.Contains(body.Error.Message, "dial tcp") {
		t.Error("wrapped error details must not leak to the client")
	}
}

func TestError_GenericErrorDoesNotLeak(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(w, r, errors.New("pq: password authentication failed"))

	resp := w.Result()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", resp.StatusCode)
	}

	var body APIErrorResponse
	json.NewDecoder(resp.Body).Decode(&body)
	if body.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("expected internal code, got %q", body.Error.Code)
	}
	if strings.Contains(body.Error.Message, "password") {
		t.Error("raw error string must not leak to the client")
	}
}

// --- DecodeJSON tests ---

type decodeTarget struct {
	PlotID int    `json:"plot_id"`
	Term   string `json:"term"`
}

func TestDecodeJSON_Success(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"plot_id":7,"term":"monthly"}`))

	var dst decodeTarget
	if err := DecodeJSON(w, r, &dst); err != nil {
		t.Fatalf("expected no error, got: %v", err)
	}
	if dst.PlotID != 7 || dst.Term != "monthly" {
		t.Errorf("unexpected decode result: %+v", dst)
	}
}

func TestDecodeJSON_UnknownField(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"plot_id":7,"rental_end_date":"2030-01-01"}`))

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	assertInvalidJSON(t, err)
}

func TestDecodeJSON_EmptyBody(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(""))

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	assertInvalidJSON(t, err)
}

func TestDecodeJSON_MalformedJSON(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"plot_id":`))

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	assertInvalidJSON(t, err)
}

func TestDecodeJSON_MultipleValues(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"plot_id":1}{"plot_id":2}`))

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)
	assertInvalidJSON(t, err)
}

func TestDecodeJSON_TypeMismatchCarriesField(t *testing.T) {
	w := httptest.NewRecorder()
	r := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{"plot_id":"seven"}`))

	var dst decodeTarget
	err := DecodeJSON(w, r, &dst)

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Details["field"] != "plot_id" {
		t.Errorf("expected field detail, got %v", appErr.Details)
	}
}

func assertInvalidJSON(t *testing.T, err error) {
	t.Helper()
	if err == nil {
		t.Fatal("expected error")
	}
	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected AppError, got %T", err)
	}
	if appErr.Code != types.ErrCodeValidationInvalidJSON {
		t.Errorf("expected %s, got %s", types.ErrCodeValidationInvalidJSON, appErr.Code)
	}
	if appErr.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", appErr.HTTPStatus())
	}
}

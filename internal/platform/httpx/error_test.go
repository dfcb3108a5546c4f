package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vintage-storefront/api/internal/platform/requestctx"
)

func TestWriteErrorEnvelope(t *testing.T) {
	ctx := context.WithValue(context.Background(), middleware.RequestIDKey, "req-1")
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, NewError("below_minimum", "total is\nbelow minimum", http.StatusUnprocessableEntity).
		WithDetails(map[string]any{"minimum": "0.50", "status": 200}))

	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", rr.Code)
	}
	if rr.Header().Get("Cache-Control") != "no-store" {
		t.Fatalf("expected no-store, got %q", rr.Header().Get("Cache-Control"))
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "below_minimum" || body["request_id"] != "req-1" {
		t.Fatalf("unexpected envelope %v", body)
	}
	if strings.Contains(body["message"].(string), "\n") {
		t.Fatalf("expected newline stripped from message")
	}
	if body["minimum"] != "0.50" {
		t.Fatalf("expected detail merged, got %v", body["minimum"])
	}
	if body["status"] != float64(http.StatusUnprocessableEntity) {
		t.Fatalf("detail must not override status, got %v", body["status"])
	}
}

func TestNewErrorDefaultsStatus(t *testing.T) {
	err := NewError("oops", "failed", 0)
	if err.Status != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", err.Status)
	}
	if err.Error() != "oops: failed" {
		t.Fatalf("unexpected error string %q", err.Error())
	}
}

func TestWriteErrorIncludesTraceID(t *testing.T) {
	ctx := requestctx.WithTrace(context.Background(), requestctx.TraceInfo{TraceID: "abc123"})
	rr := httptest.NewRecorder()

	WriteError(ctx, rr, Error{Code: "internal_server_error", Message: "boom"})

	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("expected zero status to become 500, got %d", rr.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rr.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["trace_id"] != "abc123" {
		t.Fatalf("expected trace id, got %v", body["trace_id"])
	}
	if _, ok := body["request_id"]; ok {
		t.Fatalf("expected no request id without middleware")
	}
}

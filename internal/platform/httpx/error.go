// Package httpx holds the JSON error envelope shared by every handler and middleware.
package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/vintage-storefront/api/internal/platform/requestctx"
)

const (
	maxCodeLength    = 80
	maxMessageLength = 512
	maxIDLength      = 80
)

// Error is an API failure: a stable machine code, a message safe to show a shopper and the
// HTTP status. Details are flattened into the top level of the JSON body.
type Error struct {
	Code    string
	Message string
	Status  int
	Details map[string]any
}

// NewError builds an Error. A zero status means 500.
func NewError(code, message string, status int) Error {
	if status == 0 {
		status = http.StatusInternalServerError
	}
	return Error{
		Code:    oneLine(code, maxCodeLength),
		Message: oneLine(message, maxMessageLength),
		Status:  status,
	}
}

// WithDetails returns a copy of e carrying details. Keys that collide with the envelope
// fields are ignored.
func (e Error) WithDetails(details map[string]any) Error {
	merged := make(map[string]any, len(e.Details)+len(details))
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		if !envelopeKey(k) {
			merged[k] = v
		}
	}
	e.Details = merged
	return e
}

func (e Error) Error() string {
	return e.Code + ": " + e.Message
}

func envelopeKey(k string) bool {
	switch k {
	case "error", "message", "status", "request_id", "trace_id":
		return true
	}
	return false
}

// body renders the envelope, stamping the request and trace ids found on ctx.
func (e Error) body(ctx context.Context) map[string]any {
	out := make(map[string]any, len(e.Details)+5)
	for k, v := range e.Details {
		out[k] = v
	}
	out["error"] = e.Code
	out["message"] = e.Message
	out["status"] = e.Status
	if id := oneLine(middleware.GetReqID(ctx), maxIDLength); id != "" {
		out["request_id"] = id
	}
	if id := oneLine(requestctx.TraceID(ctx), maxIDLength); id != "" {
		out["trace_id"] = id
	}
	return out
}

// WriteError writes e as an uncacheable JSON response.
func WriteError(ctx context.Context, w http.ResponseWriter, e Error) {
	if e.Status == 0 {
		e.Status = http.StatusInternalServerError
	}
	h := w.Header()
	h.Set("Content-Type", "application/json")
	h.Set("Cache-Control", "no-store")
	w.WriteHeader(e.Status)
	_ = json.NewEncoder(w).Encode(e.body(ctx))
}

// oneLine flattens line breaks and caps the byte length.
func oneLine(value string, limit int) string {
	value = strings.TrimSpace(strings.NewReplacer("\r", " ", "\n", " ").Replace(value))
	if len(value) > limit {
		value = value[:limit]
	}
	return value
}

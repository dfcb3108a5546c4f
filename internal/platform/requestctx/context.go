// Package requestctx carries per-request values shared by the HTTP layer: the scoped logger,
// trace metadata, and checkout annotations that handlers add for the access log.
package requestctx

import (
	"context"
	"maps"
	"sync"

	"go.uber.org/zap"
)

type key[T any] struct{ name string }

func (k key[T]) with(ctx context.Context, value T) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, k, value)
}

func (k key[T]) get(ctx context.Context) (T, bool) {
	var zero T
	if ctx == nil {
		return zero, false
	}
	value, ok := ctx.Value(k).(T)
	return value, ok
}

var (
	loggerKey      = key[*zap.Logger]{"logger"}
	traceKey       = key[TraceInfo]{"trace"}
	annotationsKey = key[*Annotations]{"annotations"}

	noopLogger = zap.NewNop()
)

// TraceInfo captures trace metadata propagated through request context.
type TraceInfo struct {
	TraceID   string
	SpanID    string
	Sampled   bool
	ProjectID string
}

func WithLogger(ctx context.Context, logger *zap.Logger) context.Context {
	if logger == nil {
		logger = noopLogger
	}
	return loggerKey.with(ctx, logger)
}

// Logger returns the request logger, or a no-op logger when none is set.
func Logger(ctx context.Context) *zap.Logger {
	if logger, ok := loggerKey.get(ctx); ok && logger != nil {
		return logger
	}
	return noopLogger
}

func NoopLogger() *zap.Logger { return noopLogger }

func WithTrace(ctx context.Context, info TraceInfo) context.Context {
	return traceKey.with(ctx, info)
}

func Trace(ctx context.Context) (TraceInfo, bool) {
	return traceKey.get(ctx)
}

func TraceID(ctx context.Context) string {
	info, _ := Trace(ctx)
	return info.TraceID
}

// Annotation keys recorded by the storefront handlers.
const (
	AnnotationCartID   = "cart_id"
	AnnotationCurrency = "currency"
	AnnotationCountry  = "country"
)

// Annotations collects key/value pairs that handlers learn while serving a request, such as
// the cart id from a JSON body, so the access log written by outer middleware can include them.
type Annotations struct {
	mu     sync.Mutex
	values map[string]string
}

// WithAnnotations attaches a fresh annotation set to ctx and returns it.
func WithAnnotations(ctx context.Context) (context.Context, *Annotations) {
	a := &Annotations{values: make(map[string]string)}
	return annotationsKey.with(ctx, a), a
}

// Annotate records key=value on the request's annotation set. Empty values and requests
// without an annotation set are ignored.
func Annotate(ctx context.Context, key, value string) {
	if value == "" {
		return
	}
	a, ok := annotationsKey.get(ctx)
	if !ok || a == nil {
		return
	}
	a.mu.Lock()
	a.values[key] = value
	a.mu.Unlock()
}

// Snapshot returns a copy of the recorded annotations.
func (a *Annotations) Snapshot() map[string]string {
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return maps.Clone(a.values)
}

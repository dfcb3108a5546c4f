package idempotency

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode"

	"github.com/vintage-storefront/api/internal/platform/httpx"
)

const (
	defaultHeaderName = "Idempotency-Key"
	replayHeaderName  = "X-Idempotent-Replay"
	defaultScope      = "anonymous"

	maxKeyLength       = 255
	maxGuardedBody     = 64 * 1024
	minRetryableStatus = http.StatusInternalServerError
)

// Logger abstracts the logging dependency used inside the middleware.
type Logger interface {
	Printf(format string, args ...any)
}

type clockFunc func() time.Time

// ScopeFunc derives the owner of a request, such as a cart id, from the request and its body.
// Keys are only unique within a scope.
type ScopeFunc func(r *http.Request, body []byte) string

type guard struct {
	store   Store
	header  string
	ttl     time.Duration
	methods map[string]struct{}
	clock   clockFunc
	logger  Logger
	scope   ScopeFunc
}

// MiddlewareOption customises middleware behaviour.
type MiddlewareOption func(*guard)

// WithHeader overrides the header carrying the client key.
func WithHeader(name string) MiddlewareOption {
	return func(g *guard) {
		if name = strings.TrimSpace(name); name != "" {
			g.header = name
		}
	}
}

// WithTTL configures how long completed responses are replayed.
func WithTTL(ttl time.Duration) MiddlewareOption {
	return func(g *guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithMethods restricts the guarded HTTP methods. Defaults to POST only.
func WithMethods(methods ...string) MiddlewareOption {
	return func(g *guard) {
		set := make(map[string]struct{}, len(methods))
		for _, method := range methods {
			if method = strings.ToUpper(strings.TrimSpace(method)); method != "" {
				set[method] = struct{}{}
			}
		}
		if len(set) > 0 {
			g.methods = set
		}
	}
}

func WithLogger(logger Logger) MiddlewareOption {
	return func(g *guard) {
		g.logger = logger
	}
}

// WithScope sets how requests are partitioned. Without it all callers share one scope.
func WithScope(fn ScopeFunc) MiddlewareOption {
	return func(g *guard) {
		g.scope = fn
	}
}

func WithClock(clock clockFunc) MiddlewareOption {
	return func(g *guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

// Middleware replays the stored response for a repeated Idempotency-Key instead of running
// the handler again. Responses with a 5xx status are not stored, so the client may retry
// them with the same key. A nil store disables the middleware.
func Middleware(store Store, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	if store == nil {
		return func(next http.Handler) http.Handler { return next }
	}

	g := &guard{
		store:   store,
		header:  defaultHeaderName,
		ttl:     DefaultTTL,
		methods: map[string]struct{}{http.MethodPost: {}},
		clock:   time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := g.methods[r.Method]; !ok {
				next.ServeHTTP(w, r)
				return
			}
			g.serve(w, r, next)
		})
	}
}

func (g *guard) serve(w http.ResponseWriter, r *http.Request, next http.Handler) {
	ctx := r.Context()

	key := strings.TrimSpace(r.Header.Get(g.header))
	if key == "" {
		g.fail(w, r, "idempotency_key_required", "missing "+g.header+" header", http.StatusBadRequest)
		return
	}
	if !validKey(key) {
		g.fail(w, r, "idempotency_key_invalid", g.header+" must be at most 255 printable characters", http.StatusBadRequest)
		return
	}

	body, err := bufferBody(r)
	if errors.Is(err, errGuardedBodyTooLarge) {
		g.fail(w, r, "payload_too_large", "request body too large", http.StatusRequestEntityTooLarge)
		return
	}
	if err != nil {
		g.fail(w, r, "invalid_request", "unable to read request body", http.StatusBadRequest)
		return
	}

	scope := defaultScope
	if g.scope != nil {
		if s := strings.TrimSpace(g.scope(r, body)); s != "" {
			scope = s
		}
	}
	storeKey := key + "|" + scope
	fingerprint := fingerprintRequest(r, scope, body)

	reservation, err := g.store.Reserve(ctx, storeKey, fingerprint, g.clock().UTC(), g.ttl)
	switch {
	case errors.Is(err, ErrFingerprintMismatch):
		g.fail(w, r, "idempotency_key_conflict", "idempotency key already used for a different request", http.StatusConflict)
		return
	case err != nil:
		g.logf("idempotency: reserve key %s (scope %s): %v", key, scope, err)
		g.fail(w, r, "idempotency_unavailable", "unable to process idempotency key", http.StatusServiceUnavailable)
		return
	}

	switch reservation.State {
	case ReservationStateCompleted:
		replay(w, reservation.Record)
		return
	case ReservationStatePending:
		g.fail(w, r, "idempotency_in_progress", "another request is processing this idempotency key", http.StatusConflict)
		return
	}

	buf := newBufferedWriter()
	next.ServeHTTP(buf, r)

	if buf.Status() >= minRetryableStatus {
		if err := g.store.Release(ctx, storeKey, fingerprint); err != nil {
			g.logf("idempotency: release key %s after status %d: %v", key, buf.Status(), err)
		}
		buf.flushTo(w)
		return
	}

	resp := Response{Status: buf.Status(), Headers: buf.Header(), Body: buf.body.Bytes()}
	if err := g.store.SaveResponse(ctx, storeKey, fingerprint, resp, g.clock().UTC(), g.ttl); err != nil {
		g.logf("idempotency: persist response for key %s (scope %s): %v", key, scope, err)
		if releaseErr := g.store.Release(ctx, storeKey, fingerprint); releaseErr != nil {
			g.logf("idempotency: release key %s after save failure: %v", key, releaseErr)
		}
		g.fail(w, r, "idempotency_store_error", "unable to persist idempotency state", http.StatusInternalServerError)
		return
	}
	buf.flushTo(w)
}

func (g *guard) fail(w http.ResponseWriter, r *http.Request, code, message string, status int) {
	httpx.WriteError(r.Context(), w, httpx.NewError(code, message, status))
}

func (g *guard) logf(format string, args ...any) {
	if g.logger != nil {
		g.logger.Printf(format, args...)
	}
}

func validKey(key string) bool {
	if len(key) > maxKeyLength {
		return false
	}
	for _, r := range key {
		if !unicode.IsPrint(r) {
			return false
		}
	}
	return true
}

var errGuardedBodyTooLarge = errors.New("idempotency: request body too large")

// bufferBody reads the body and puts an identical reader back for the handler.
func bufferBody(r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}
	data, err := io.ReadAll(io.LimitReader(r.Body, maxGuardedBody+1))
	_ = r.Body.Close()
	if err != nil {
		return nil, err
	}
	if len(data) > maxGuardedBody {
		return nil, errGuardedBodyTooLarge
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	return data, nil
}

// fingerprintRequest binds a key to the route, the scope and the exact body.
func fingerprintRequest(r *http.Request, scope string, body []byte) string {
	var b strings.Builder
	b.WriteString(r.Method)
	b.WriteByte('|')
	b.WriteString(r.URL.Path)
	b.WriteByte('|')
	b.WriteString(scope)
	b.WriteByte('|')
	b.WriteString(sha256Hex(body))
	return sha256Hex([]byte(b.String()))
}

func replay(w http.ResponseWriter, record Record) {
	header := w.Header()
	for name, values := range record.ResponseHeaders {
		header[name] = append([]string(nil), values...)
	}
	header.Set(replayHeaderName, "true")

	status := record.ResponseStatus
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
	_, _ = w.Write(record.ResponseBody)
}

// bufferedWriter holds the handler output until the middleware decides whether to store it.
type bufferedWriter struct {
	header http.Header
	status int
	body   bytes.Buffer
}

func newBufferedWriter() *bufferedWriter {
	return &bufferedWriter{header: make(http.Header)}
}

func (b *bufferedWriter) Header() http.Header { return b.header }

func (b *bufferedWriter) WriteHeader(status int) {
	if b.status == 0 {
		b.status = status
	}
}

func (b *bufferedWriter) Write(p []byte) (int, error) {
	if b.status == 0 {
		b.status = http.StatusOK
	}
	return b.body.Write(p)
}

func (b *bufferedWriter) Status() int {
	if b.status == 0 {
		return http.StatusOK
	}
	return b.status
}

func (b *bufferedWriter) flushTo(w http.ResponseWriter) {
	dst := w.Header()
	for name, values := range b.header {
		dst[name] = append([]string(nil), values...)
	}
	w.WriteHeader(b.Status())
	_, _ = w.Write(b.body.Bytes())
}

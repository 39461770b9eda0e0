package api

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/time/rate"

	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/pkg/metrics"
)

// Caller context headers set by the auth collaborator in front of us.
const (
	headerInstitution = "X-Institution-ID"
	headerCallerID    = "X-Caller-ID"
	headerCallerRole  = "X-Caller-Role"
)

type callerKey struct{}

// WithCaller returns ctx carrying caller.
func WithCaller(ctx context.Context, caller model.Caller) context.Context {
	return context.WithValue(ctx, callerKey{}, caller)
}

// CallerFrom returns the caller attached by requireCaller.
func CallerFrom(ctx context.Context) model.Caller {
	c, _ := ctx.Value(callerKey{}).(model.Caller)
	return c
}

func callerFromRequest(r *http.Request, allowQuery bool) (model.Caller, error) {
	c := model.Caller{
		InstitutionID: r.Header.Get(headerInstitution),
		ID:            r.Header.Get(headerCallerID),
		Role:          model.Role(r.Header.Get(headerCallerRole)),
	}
	if allowQuery && c.InstitutionID == "" {
		q := r.URL.Query()
		c = model.Caller{InstitutionID: q.Get("institution"), ID: q.Get("caller"), Role: model.Role(q.Get("role"))}
	}
	switch {
	case c.InstitutionID == "":
		return c, fmt.Errorf("%w: %s is required", ErrMissingCaller, headerInstitution)
	case c.ID == "":
		return c, fmt.Errorf("%w: %s is required", ErrMissingCaller, headerCallerID)
	case !c.Role.Valid():
		return c, fmt.Errorf("%w: unknown role %q", ErrMissingCaller, c.Role)
	}
	return c, nil
}

// requireCaller rejects requests without a complete caller context.
func (s *Server) requireCaller(allowQuery bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			caller, err := callerFromRequest(r, allowQuery)
			if err != nil {
				writeError(w, http.StatusUnauthorized, "unauthenticated", err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithCaller(r.Context(), caller)))
		})
	}
}

const (
	// cleanupThreshold is the minimum map size before a cleanup pass runs.
	cleanupThreshold = 500
	// maxIdleAge is the duration after which an idle caller entry is eligible for cleanup.
	maxIdleAge = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// callerRateLimiter keeps one token bucket per tenant and caller, pruning
// stale entries inline.
type callerRateLimiter struct {
	mu      sync.Mutex
	callers map[string]*limiterEntry
	r       rate.Limit
	b       int
}

func newCallerRateLimiter(r rate.Limit, b int) *callerRateLimiter {
	return &callerRateLimiter{callers: make(map[string]*limiterEntry), r: r, b: b}
}

func (l *callerRateLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if len(l.callers) > cleanupThreshold {
		cutoff := time.Now().Add(-maxIdleAge)
		for k, e := range l.callers {
			if e.lastSeen.Before(cutoff) {
				delete(l.callers, k)
			}
		}
	}
	e, ok := l.callers[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.r, l.b)}
		l.callers[key] = e
	}
	e.lastSeen = time.Now()
	return e.limiter
}

func (s *Server) rateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c := CallerFrom(r.Context())
		if !s.limiter.get(c.InstitutionID + "|" + c.ID).Allow() {
			metrics.RecordRateLimited(routePattern(r))
			w.Header().Set("Retry-After", "1")
			writeError(w, http.StatusTooManyRequests, "rate_limited", nil)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// HTTP status code constants.
const (
	statusBadRequest      = 400
	statusNotFound        = 404
	statusTooManyRequests = 429
	statusInternalError   = 500
)

// MetricsMiddleware records Prometheus metrics labelled by route pattern so
// that path parameters do not explode label cardinality.
func MetricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		durationMs := float64(time.Since(start).Microseconds()) / 1000
		endpoint := routePattern(r)
		statusCodeStr := strconv.Itoa(wrapped.statusCode)
		metrics.RecordHTTPRequest(endpoint, r.Method, statusCodeStr)
		metrics.RecordHTTPRequestDuration(endpoint, r.Method, statusCodeStr, durationMs)

		if wrapped.statusCode >= statusBadRequest {
			errorType := getErrorType(wrapped.statusCode)
			metrics.RecordErrorByEndpoint(endpoint, r.Method, errorType)
			metrics.RecordErrorByType(errorType, getErrorSeverity(wrapped.statusCode))
		}
	})
}

func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// getErrorType returns a standardized error type based on HTTP status code.
func getErrorType(statusCode int) string {
	switch {
	case statusCode >= statusInternalError:
		return "server_error"
	case statusCode == statusTooManyRequests:
		return "rate_limit"
	case statusCode == statusNotFound:
		return "not_found"
	case statusCode >= statusBadRequest:
		return "client_error"
	default:
		return "unknown"
	}
}

// getErrorSeverity returns error severity based on HTTP status code.
func getErrorSeverity(statusCode int) string {
	switch {
	case statusCode >= statusInternalError:
		return "high"
	case statusCode >= statusBadRequest:
		return "medium"
	default:
		return "low"
	}
}

// responseWriter wraps http.ResponseWriter to capture status code.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
	wrote      bool
}

func (rw *responseWriter) WriteHeader(code int) {
	if !rw.wrote {
		rw.statusCode = code
		rw.wrote = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wrote = true
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("failed to write response: %w", err)
	}
	return n, nil
}

// Hijack lets the websocket upgrader take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	rw.statusCode = http.StatusSwitchingProtocols
	rw.wrote = true
	return h.Hijack()
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

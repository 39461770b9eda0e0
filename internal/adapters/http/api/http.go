// Package api wires the HTTP routes of the scoring service.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"golang.org/x/time/rate"

	"github.com/TinchoF/gym-score-be/internal/adapters/http/swagger"
	service "github.com/TinchoF/gym-score-be/internal/app"
	"github.com/TinchoF/gym-score-be/internal/domain/aggregate"
	"github.com/TinchoF/gym-score-be/internal/domain/levels"
	"github.com/TinchoF/gym-score-be/internal/domain/model"
	"github.com/TinchoF/gym-score-be/pkg/logger"
	"github.com/TinchoF/gym-score-be/pkg/metrics"
)

const maxBodyBytes = 1 << 20

// Dependencies required by HTTP handlers. Using an interface bundle keeps
// the handler layer loosely coupled to the service implementation.
type Dependencies interface {
	Submit(ctx context.Context, caller model.Caller, sub model.Submission, idempotencyKey string) (service.SubmitResult, error)
	Aggregate(ctx context.Context, caller model.Caller, key model.GroupKey) (aggregate.View, error)
	List(ctx context.Context, caller model.Caller, filter model.MarkFilter) ([]aggregate.View, error)
	LevelTable(ctx context.Context, caller model.Caller) ([]levels.Config, error)
	PutLevelOverride(ctx context.Context, caller model.Caller, cfg levels.Config) error
	PutJudgeAssignments(ctx context.Context, caller model.Caller, judgeID string, assignments []model.ApparatusAssignment) error
	Stats(ctx context.Context) map[string]any
}

// Live attaches websocket viewers.
type Live interface {
	Serve(w http.ResponseWriter, r *http.Request, caller model.Caller) error
}

// Option configures a Server.
type Option func(*Server)

// WithLive enables GET /ws/live.
func WithLive(l Live) Option {
	return func(s *Server) { s.live = l }
}

// WithSubmitRate throttles POST /api/scores per caller.
func WithSubmitRate(perSecond float64, burst int) Option {
	return func(s *Server) {
		if perSecond > 0 && burst > 0 {
			s.limiter = newCallerRateLimiter(rate.Limit(perSecond), burst)
		}
	}
}

// WithCORSOrigins sets the allowed CORS origins. "*" allows any origin.
func WithCORSOrigins(origins []string) Option {
	return func(s *Server) {
		if len(origins) > 0 {
			s.corsOrigins = origins
		}
	}
}

// WithLogger sets the server logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// Server wires HTTP routes for the scoring API.
type Server struct {
	deps        Dependencies
	live        Live
	limiter     *callerRateLimiter
	corsOrigins []string
	logger      logger.Logger
}

// NewServer creates a new API server.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:        deps,
		limiter:     newCallerRateLimiter(rate.Limit(20), 40),
		corsOrigins: []string{"*"},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.logger == nil {
		s.logger = logger.Get().Named("api")
	}
	return s
}

// Handler returns the complete HTTP handler, CORS included.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(MetricsMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	swagger.Register(r)

	r.Route("/api", func(r chi.Router) {
		r.Use(s.requireCaller(false))
		r.With(s.rateLimit).Post("/scores", s.handleSubmit)
		r.Get("/scores", s.handleList)
		r.Get("/scores/{tournament}/{gymnast}/{apparatus}", s.handleGetGroup)
		r.Get("/config/levels", s.handleGetLevels)
		r.Put("/config/levels", s.handlePutLevel)
		r.Put("/judges/{judge}/assignments", s.handlePutAssignments)
	})
	if s.live != nil {
		// Browsers cannot set headers on a websocket handshake, so the
		// caller may also arrive as query parameters here.
		r.With(s.requireCaller(true)).Get("/ws/live", s.handleLive)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Content-Type", headerInstitution, headerCallerID, headerCallerRole, headerIdempotencyKey},
	})
	return c.Handler(r)
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}

// writeServiceError maps sentinel kinds to status codes. Unknown errors are
// logged and reported without detail.
func (s *Server) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, model.ErrInvalidSubmission),
		errors.Is(err, model.ErrInvalidAssignment),
		errors.Is(err, levels.ErrInvalidLevel),
		errors.Is(err, ErrBadRequest):
		writeError(w, http.StatusBadRequest, "invalid_request", err)
	case errors.Is(err, service.ErrInvalidCaller), errors.Is(err, ErrMissingCaller):
		writeError(w, http.StatusUnauthorized, "unauthenticated", err)
	case errors.Is(err, service.ErrForbidden):
		writeError(w, http.StatusForbidden, "forbidden", err)
	case errors.Is(err, service.ErrNotStarted):
		writeError(w, http.StatusServiceUnavailable, "unavailable", nil)
	default:
		s.logger.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.String("requestId", middleware.GetReqID(r.Context())),
			logger.Error(err))
		writeError(w, http.StatusInternalServerError, "internal", nil)
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return errors.Join(ErrBadRequest, err)
	}
	return nil
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.deps.Stats(r.Context()))
}

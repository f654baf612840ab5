// Package api exposes the study context over HTTP.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/okian/baseline/internal/adapters/http/swagger"
	"github.com/okian/baseline/internal/app"
	"github.com/okian/baseline/internal/domain/catalog"
	"github.com/okian/baseline/internal/domain/profile"
	"github.com/okian/baseline/internal/domain/result"
	"github.com/okian/baseline/internal/domain/scoring"
	"github.com/okian/baseline/pkg/logger"
)

const (
	requestTimeout = 30 * time.Second
	maxBodyBytes   = 1 << 20
)

// Dependencies required by HTTP handlers. *app.Context satisfies it.
type Dependencies interface {
	NewUser(ctx context.Context, name string) (profile.User, error)
	ExistingUser(ctx context.Context, name string) (profile.User, error)
	UserProperties(ctx context.Context, name string) (profile.Properties, error)
	SetUserProperty(ctx context.Context, user, key string, value any) error

	CreateResult(ctx context.Context, user string, t result.Telemetry, ts time.Time) (result.ID, error)
	Result(ctx context.Context, id result.ID) (result.Result, error)
	AllResultIDs(ctx context.Context, user string) ([]result.ID, error)

	ScoreForPopulationCategory(ctx context.Context, id result.ID, category string) (scoring.Outcome, error)
	ScoreForPopulation(ctx context.Context, id result.ID, band, category string) (scoring.Outcome, error)
	ScoresForAllCategories(ctx context.Context, id result.ID) (map[string]scoring.Outcome, error)

	Tests() []catalog.Info
	TestsFor(idiom catalog.Idiom) []catalog.Info

	Stats(ctx context.Context) (app.Stats, error)
	PauseBackgroundActivity()
	ResumeBackgroundActivity()
	IsBackgroundActivityPaused() bool
}

// Server wires HTTP routes for the study API.
type Server struct {
	deps        Dependencies
	corsOrigins []string
	logger      logger.Logger
}

// Option configures a Server.
type Option func(*Server)

// WithCORSOrigins sets the allowed CORS origins.
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

// NewServer creates an API server.
func NewServer(deps Dependencies, opts ...Option) *Server {
	s := &Server{
		deps:        deps,
		corsOrigins: []string{"*"},
		logger:      logger.Discard(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Recoverer)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))
	r.Use(MetricsMiddleware)

	swagger.Mount(r)
	r.Get("/healthz", handleHealth)
	r.Handle("/metrics", metricsHandler())
	r.Get("/stats", s.handleStats)
	r.Get("/tests", s.handleTests)

	r.Route("/users", func(r chi.Router) {
		r.Post("/", s.handleCreateUser)
		r.Route("/{name}", func(r chi.Router) {
			r.Get("/", s.handleGetUser)
			r.Get("/results", s.handleUserResults)
			r.Put("/properties/{key}", s.handleSetProperty)
		})
	})

	r.Route("/results", func(r chi.Router) {
		r.Post("/", s.handleCreateResult)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", s.handleGetResult)
			r.Get("/scores", s.handleAllScores)
			r.Get("/scores/{category}", s.handleScore)
		})
	})

	r.Route("/activity", func(r chi.Router) {
		r.Get("/", s.handleActivity)
		r.Post("/pause", s.handlePause)
		r.Post("/resume", s.handleResume)
	})

	return r
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

// fail maps a domain error to its HTTP status.
func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		s.logger.Error(r.Context(), "request failed",
			logger.String("path", r.URL.Path),
			logger.Error(err),
		)
	}
	writeError(w, status, code, err)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return badRequest("invalid JSON body: %v", err)
	}
	return nil
}

// Package api serves the workflow engine over HTTP.
package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sells-group/assay-cli/internal/metrics"
	"github.com/sells-group/assay-cli/internal/workflow"
)

// DefaultMaxBodyBytes caps request bodies, uploads included.
const DefaultMaxBodyBytes = 64 << 20

// Options configures the HTTP handler.
type Options struct {
	AllowedOrigins []string
	// RateLimit is the sustained requests per second across all clients.
	// Zero disables limiting.
	RateLimit    float64
	Burst        int
	MaxBodyBytes int64
	Metrics      *metrics.WorkflowMetrics
}

// Server holds the handler dependencies.
type Server struct {
	engine  *workflow.Engine
	metrics *metrics.WorkflowMetrics
	opts    Options
}

// NewHandler builds the router for engine.
func NewHandler(engine *workflow.Engine, opts Options) http.Handler {
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = DefaultMaxBodyBytes
	}
	if len(opts.AllowedOrigins) == 0 {
		opts.AllowedOrigins = []string{"*"}
	}
	s := &Server{engine: engine, metrics: opts.Metrics, opts: opts}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: opts.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{"Content-Disposition"},
		MaxAge:         300,
	}))
	r.Use(s.instrument)

	r.Get("/health", s.health)
	if s.metrics != nil {
		r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{
			ErrorHandling: promhttp.HTTPErrorOnError,
		}))
	}

	r.Group(func(r chi.Router) {
		r.Use(rateLimit(opts.RateLimit, opts.Burst))
		r.Use(limitBody(opts.MaxBodyBytes))

		r.Route("/sessions", func(r chi.Router) {
			r.Post("/", s.createSession)
			r.Get("/", s.listSessions)

			r.Route("/{sessionID}", func(r chi.Router) {
				r.Get("/", s.getSession)
				r.Delete("/", s.clearSession)
				r.Post("/files", s.uploadFile)
				r.Get("/files/{fileID}/matches", s.fileMatches)
				r.Post("/merge", s.merge)
				r.Get("/merge/export", s.export)
				r.Post("/visualize", s.visualize)
				r.Get("/analysis", s.analyze)
				r.Post("/query", s.query)
			})
		})
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorBody(w, http.StatusNotFound, "not_found", "no such route")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeErrorBody(w, http.StatusMethodNotAllowed, "invalid_request", "method not allowed")
	})

	return r
}

package mcp

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Authenticator wraps handlers that require an API key.
type Authenticator interface {
	Middleware(next http.Handler) http.Handler
}

// RouterOptions configures NewRouter. A nil Auth serves every route without a key.
type RouterOptions struct {
	Server         *Server
	API            *API
	Store          HealthChecker
	Vector         HealthChecker // Optional remote vector backend
	Auth           Authenticator
	AllowedOrigins []string
	RequestTimeout time.Duration
	Stateless      bool
	Logger         *slog.Logger
}

// NewRouter builds the HTTP surface: landing page and health check in the
// open, MCP and the REST API behind the key gate.
func NewRouter(opts RouterOptions) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 60 * time.Second
	}
	origins := opts.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(opts.Logger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "Mcp-Session-Id"},
		ExposedHeaders: []string{"Mcp-Session-Id", "Retry-After"},
	}))

	r.Get("/", NewLandingHandler())
	r.Get("/health", NewHealthHandler(opts.Store, opts.Vector))

	r.Group(func(protected chi.Router) {
		if opts.Auth != nil {
			protected.Use(opts.Auth.Middleware)
		}
		if opts.Server != nil {
			protected.Handle("/mcp", NewHTTPHandler(opts.Server, &HTTPHandlerOptions{Stateless: opts.Stateless}))
		}
		if opts.API != nil {
			protected.Route("/api/v1", func(api chi.Router) {
				api.Use(middleware.Timeout(opts.RequestTimeout))
				opts.API.Routes(api)
			})
		}
	})
	return r
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()
			next.ServeHTTP(ww, r)
			logger.Info("HTTP request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()))
		})
	}
}

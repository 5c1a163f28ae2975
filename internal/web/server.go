// Package web exposes the analysis session over a JSON HTTP API.
//
// Endpoints:
//
//	GET    /api/health  liveness
//	GET    /api/options  selected tone and content kinds
//	PUT    /api/options  replace tone and/or content kinds
//	POST   /api/analyze  analyze an uploaded file or an image URL
//	POST   /api/regenerate  regenerate content for the session image
//	GET    /api/session  snapshot of the live session
//	DELETE /api/session  discard the session
//	GET    /api/session/preview  preview bytes of the session image
//	POST   /api/auth/signin  anonymous sign-in (sets the user cookie)
//	GET    /api/history  the signed-in user's saved analyses
//	POST   /api/history  save the live session to history
//
// The same handler serves the local web server and the Lambda function.
package web

import (
	"context"
	"net/http"
	"strings"

	chi "github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/unrolled/render"
	"github.com/unrolled/secure"

	"github.com/fpang/image-insight/internal/analysis"
	"github.com/fpang/image-insight/internal/backend"
	"github.com/fpang/image-insight/internal/filehandler"
)

// ImageFetcher downloads an image from a URL. *filehandler.Fetcher implements it.
type ImageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*filehandler.Image, error)
}

// Config wires a Server.
type Config struct {
	Orchestrator *analysis.Orchestrator
	Backend      *backend.Backend
	Fetcher      ImageFetcher

	// KeyErr, when set, refuses analysis requests because no Gemini key
	// is configured.
	KeyErr error

	// AllowedOrigins lists CORS origins. Empty means localhost only.
	AllowedOrigins []string
	// SecureCookies marks the user cookie Secure (HTTPS deployments).
	SecureCookies bool
	// WaitForPlace holds the analyze response until the place lookup ends.
	// Set it where work cannot outlive the response, such as Lambda.
	WaitForPlace bool
}

// Server holds the HTTP handlers.
type Server struct {
	orch          *analysis.Orchestrator
	backend       *backend.Backend
	fetcher       ImageFetcher
	keyErr        error
	origins       []string
	secureCookies bool
	waitForPlace  bool
	render        *render.Render
}

// New creates a Server. A nil Backend is treated as disabled.
func New(cfg Config) *Server {
	b := cfg.Backend
	if b == nil {
		b = backend.New(backend.Config{})
	}
	f := cfg.Fetcher
	if f == nil {
		f = filehandler.NewFetcher(nil, "")
	}
	return &Server{
		orch:          cfg.Orchestrator,
		backend:       b,
		fetcher:       f,
		keyErr:        cfg.KeyErr,
		origins:       cfg.AllowedOrigins,
		secureCookies: cfg.SecureCookies,
		waitForPlace:  cfg.WaitForPlace,
		render:        render.New(render.Options{Charset: "UTF-8"}),
	}
}

// Handler returns the routed handler wrapped in the middleware chain.
func (s *Server) Handler() http.Handler {
	secureMiddleware := secure.New(secure.Options{
		FrameDeny:             true,
		ContentTypeNosniff:    true,
		BrowserXssFilter:      true,
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'self'; img-src 'self' blob: data: https:; style-src 'self' 'unsafe-inline'; connect-src 'self'",
	})

	crs := cors.New(cors.Options{
		AllowOriginFunc:  s.allowOrigin,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	})

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(withLogging)
	r.Use(middleware.Recoverer)
	r.Use(withMetrics)
	r.Use(secureMiddleware.Handler)
	r.Use(crs.Handler)
	r.Use(withGzip)

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		s.httpError(w, http.StatusNotFound, msgNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		s.httpError(w, http.StatusMethodNotAllowed, msgMethodNotAllowed)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Get("/options", s.handleGetOptions)
		r.Put("/options", s.handlePutOptions)

		r.Post("/analyze", s.handleAnalyze)
		r.Post("/regenerate", s.handleRegenerate)

		r.Get("/session", s.handleGetSession)
		r.Delete("/session", s.handleResetSession)
		r.Get("/session/preview", s.handlePreview)

		r.Post("/auth/signin", s.handleSignIn)
		r.Get("/history", s.handleListHistory)
		r.Post("/history", s.handleSaveHistory)
	})
	return r
}

// allowOrigin accepts the configured origins, or localhost when none are set.
func (s *Server) allowOrigin(_ *http.Request, origin string) bool {
	if len(s.origins) == 0 {
		return strings.HasPrefix(origin, "http://localhost:") || strings.HasPrefix(origin, "http://127.0.0.1:")
	}
	for _, o := range s.origins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"service":    "image-insight",
		"generation": s.keyErr == nil,
		"history":    s.backend.Enabled(),
	})
}

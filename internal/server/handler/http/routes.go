// Package http provides the optional HTTP status API of a ShareKeeper server.
package http

import (
	"net/http"

	"github.com/atinyakov/ShareKeeper/internal/middleware"
	"go.uber.org/zap"

	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
)

// NewRouter constructs and returns an HTTP handler that serves the status
// API.
//
// Routes:
//
//	GET /livez             -> statusHandler.Livez
//	GET /readyz            -> statusHandler.Readyz
//	GET /api/stats         -> statusHandler.Stats
//	GET /api/shares/{key}  -> statusHandler.Share
//
// Middleware chain (applied in order):
//  1. Recoverer               - turns handler panics into 500
//  2. WithRequestLogging(log) - logs incoming requests
//  3. LoopbackOnly            - rejects non-local callers
func NewRouter(statusHandler *StatusHandler, logger *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Use(chiMiddleware.Recoverer)
	r.Use(middleware.WithRequestLogging(logger))
	r.Use(middleware.LoopbackOnly)

	r.Get("/livez", statusHandler.Livez)
	r.Get("/readyz", statusHandler.Readyz)

	r.Route("/api", func(r chi.Router) {
		r.Get("/stats", statusHandler.Stats)
		r.Get("/shares/{key}", statusHandler.Share)
	})

	return r
}

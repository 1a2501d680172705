package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildDeviceRouter creates the device-facing protocol router: check-in,
// object writes, and long-poll subscription, per §4.E.
func (s *Server) buildDeviceRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoveryMiddleware(s.logger))
	r.Use(bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)

	r.Route("/entry/{serial}", func(r chi.Router) {
		r.Use(deviceAuthMiddleware(s.authz, chiSerialParam))
		r.Get("/", s.handleEntry)
	})

	r.Route("/transport/put/{serial}", func(r chi.Router) {
		r.Use(deviceAuthMiddleware(s.authz, chiSerialParam))
		r.Put("/", s.handleTransportPut)
	})

	r.Route("/transport/subscribe/{serial}", func(r chi.Router) {
		r.Use(deviceAuthMiddleware(s.authz, chiSerialParam))
		r.Post("/", s.handleTransportSubscribe)
	})

	return r
}

// buildFrontendRouter creates the frontend-facing read/status router.
func (s *Server) buildFrontendRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(s.logger))
	r.Use(recoveryMiddleware(s.logger))
	r.Use(corsMiddleware(s.frontCfg.CORS))
	r.Use(bodySizeLimitMiddleware)

	r.Get("/health", s.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(sessionMiddleware(s.secCfg, s.authz))
		r.Get("/status", s.handleStatus)
		r.Get("/status/metrics", s.handleMetrics)
	})

	return r
}

// chiSerialParam extracts {serial} from the chi route context.
func chiSerialParam(r *http.Request) string {
	return chi.URLParam(r, "serial")
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
	})
}

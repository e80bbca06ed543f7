package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/petnestiq/habitat-gateway/internal/auth"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware(auth.PermGatewayRead))

			r.Get("/gateway/connection", s.handleGetConnection)
			r.Get("/gateway/state", s.handleGetState)
			r.Get("/gateway/debug", s.handleGetDebug)
			r.Get("/history", s.handleListHistory)
			r.Get(s.wsCfg.Path, s.handleWebSocket)
		})

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware(auth.PermGatewayOperate))

			r.With(s.audited("connect")).Post("/gateway/connect", s.handleConnect)
			r.With(s.audited("disconnect")).Post("/gateway/disconnect", s.handleDisconnect)
			r.With(s.audited("shadow")).Post("/gateway/shadow", s.handleGetShadow)
			r.With(s.audited("command")).Post("/gateway/commands", s.handleSendCommand)
			r.With(s.audited("report")).Post("/gateway/reports", s.handleReportStatus)
			r.With(s.audited("clear_debug")).Delete("/gateway/debug", s.handleClearDebug)
			r.Get("/audit", s.handleListAudit)
		})
	})

	return r
}

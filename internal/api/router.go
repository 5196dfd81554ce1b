package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"zonedispatch/internal/auth"
	"zonedispatch/internal/logger"
	"zonedispatch/internal/metrics"
)

// Router builds the HTTP handler. Ops endpoints sit outside auth and rate
// limiting; everything under /v1 needs a principal.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(logger.AccessMiddleware(logger.L()))
	r.Use(metricsMiddleware)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.HealthHandler)
	r.Get("/readyz", s.ReadyHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Get("/debug/info", s.DebugJSON)
	r.Get("/openapi.yaml", s.OpenAPIHandler)
	r.Get("/openapi.json", s.OpenAPIJSONHandler)
	r.Get("/docs", s.DocsHandler)

	operator := requireRole(auth.RoleOperator)
	anyRole := requireRole(auth.RoleOperator, auth.RoleDriver)

	r.Route("/v1", func(v1 chi.Router) {
		v1.Use(s.rateLimit)
		v1.Use(s.authMiddleware)

		v1.With(operator).Route("/zones", func(zr chi.Router) {
			zr.Get("/", s.listZones)
			zr.Post("/", s.createZone)
			zr.Post("/overlaps", s.zoneOverlaps)
			zr.Get("/lookup", s.zoneLookup)
			zr.Get("/{id}", s.getZone)
			zr.Put("/{id}", s.updateZone)
			zr.Delete("/{id}", s.deleteZone)
		})
		v1.With(operator).Route("/sectors", func(sr chi.Router) {
			sr.Get("/", s.listSectors)
			sr.Post("/", s.createSector)
			sr.Put("/{id}", s.updateSector)
			sr.Delete("/{id}", s.deleteSector)
			sr.Post("/{id}/move", s.moveSector)
		})
		v1.With(operator).Route("/prices", func(pr chi.Router) {
			pr.Get("/", s.getPrices)
			pr.Put("/", s.putPrice)
			pr.Delete("/{id}", s.deletePrice)
		})
		v1.With(anyRole).Get("/quote", s.quote)
		v1.With(operator).Route("/deposits/{id}", func(dr chi.Router) {
			dr.Put("/", s.putDeposit)
			dr.Put("/free-shipping", s.putFreeShipping)
		})
		v1.With(operator).Get("/geocode/resolve", s.resolveAddress)

		v1.Route("/jobs", func(jr chi.Router) {
			jr.With(operator).Get("/", s.listJobs)
			jr.With(operator).Post("/", s.createJob)
			jr.With(operator).Get("/queue", s.jobQueue)
			jr.With(operator).Get("/board", s.board)
			jr.With(operator).Post("/import", s.importJobs)
			jr.With(anyRole).Get("/{id}", s.getJob)
			jr.With(operator).Get("/{id}/suggestions", s.jobSuggestions)
			jr.With(operator).Post("/{id}/start", s.startJob)
			jr.With(anyRole).Post("/{id}/complete", s.completeJob)
			jr.With(anyRole).Post("/{id}/return", s.returnJob)
			jr.With(operator).Post("/{id}/cancel", s.cancelJob)
		})

		v1.Route("/drivers", func(dr chi.Router) {
			dr.With(operator).Get("/status", s.driverStatus)
			dr.With(anyRole).Route("/{id}", func(d chi.Router) {
				d.Get("/jobs", s.driverJobs)
				d.Get("/active-job", s.driverActiveJob)
				d.Post("/heartbeat", s.heartbeat)
				d.Get("/stream", s.DriverStreamHandler)
			})
		})
		v1.With(operator).Get("/dispatch/events", s.DispatchEventsHandler)

		v1.With(operator).Route("/subscriptions", func(sr chi.Router) {
			sr.Get("/", s.listSubscriptions)
			sr.Post("/", s.createSubscription)
			sr.Delete("/{id}", s.deleteSubscription)
		})
		v1.With(operator).Route("/admin/webhook-deliveries", func(ar chi.Router) {
			ar.Get("/", s.WebhookDeliveriesHandler)
			ar.Post("/{id}/retry", s.WebhookDeliveryRetryHandler)
		})
	})
	return r
}

package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"condor-aog/core/rbac"
)

// Routes builds the full router. Every /api route except login sits behind
// the session middleware, and every domain route behind a capability guard.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(s.recoverMiddleware)
	r.Use(s.securityHeadersMiddleware)
	r.Use(s.loggingMiddleware)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	r.Route("/api", func(r chi.Router) {
		r.With(s.rateLimitLogin).Post("/auth/login", s.authHandler.Login)
		r.Post("/auth/logout", s.authHandler.Logout)

		r.Group(func(r chi.Router) {
			r.Use(s.withSession)

			r.Get("/auth/me", s.authHandler.Me)

			r.Route("/fleet", func(r chi.Router) {
				r.With(s.requireCapability(rbac.CapViewFleet)).Get("/stations", s.fleetHandler.ListStations)
				r.With(s.requireCapability(rbac.CapManageAircraft)).Put("/stations", s.fleetHandler.UpsertStation)
				r.With(s.requireCapability(rbac.CapViewFleet)).Get("/aircraft", s.fleetHandler.ListAircraft)
				r.With(s.requireCapability(rbac.CapManageAircraft)).Post("/aircraft", s.fleetHandler.CreateAircraft)
				r.With(s.requireCapability(rbac.CapViewFleet)).Get("/aircraft/{id}", s.fleetHandler.GetAircraft)
				r.With(s.requireCapability(rbac.CapManageAircraft)).Put("/aircraft/{id}", s.fleetHandler.UpdateAircraft)
			})

			r.Route("/aog", func(r chi.Router) {
				r.With(s.requireCapability(rbac.CapViewAOG)).Get("/", s.incidentsHandler.List)
				r.With(s.requireCapability(rbac.CapCreateAOG)).Post("/", s.incidentsHandler.Report)
				r.With(s.requireCapability(rbac.CapViewAOG)).Get("/{id}", s.incidentsHandler.Get)
				r.With(s.requireCapability(rbac.CapAssignTeam)).Post("/{id}/assign", s.incidentsHandler.Assign)
				r.With(s.requireCapability(rbac.CapAdvanceStatus)).Post("/{id}/advance", s.incidentsHandler.Advance)
				r.With(s.requireCapability(rbac.CapJoinChat)).Post("/{id}/updates", s.incidentsHandler.PostUpdate)
				r.With(s.requireCapability(rbac.CapViewAOG)).Get("/{id}/updates", s.incidentsHandler.Messages)
			})

			r.Route("/defects", func(r chi.Router) {
				r.With(s.requireCapability(rbac.CapViewDefects)).Get("/aircraft/{aircraft_id}", s.defectsHandler.ListForAircraft)
				r.With(s.requireCapability(rbac.CapManageDefects)).Post("/", s.defectsHandler.Report)
				r.With(s.requireCapability(rbac.CapViewDefects)).Get("/{id}", s.defectsHandler.Get)
				r.With(s.requireCapability(rbac.CapManageDefects)).Post("/{id}/status", s.defectsHandler.UpdateStatus)
				r.With(s.requireCapability(rbac.CapDeferDefect)).Post("/{id}/defer", s.defectsHandler.Defer)
				r.With(s.requireCapability(rbac.CapManageDefects)).Post("/{id}/reopen", s.defectsHandler.Reopen)
			})

			if s.feedHandler != nil {
				r.With(s.requireCapability(rbac.CapCreateAOG)).Post("/feed/events", s.feedHandler.Ingest)
			}

			r.Route("/staff", func(r chi.Router) {
				r.With(s.requireCapability(rbac.CapViewStaff)).Get("/", s.staffHandler.List)
				r.With(s.requireCapability(rbac.CapManageUsers)).Post("/", s.staffHandler.Create)
				r.With(s.requireCapability(rbac.CapManageUsers)).Post("/{id}/active", s.staffHandler.SetActive)
			})
		})
	})

	return r
}

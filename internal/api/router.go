package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		// Unauthenticated monitoring
		r.Get("/health", s.handleHealth)
		if s.metrics != nil {
			r.Handle("/metrics", s.metrics)
		}

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Get("/auth/me", s.handleMe)
			r.Get("/audit", s.handleListAuditLogs)

			// Site setup
			r.Route("/greenhouses", func(r chi.Router) {
				r.Get("/", s.handleListGreenhouses)
				r.Post("/", s.handleCreateGreenhouse)
			})
			r.Route("/zones", func(r chi.Router) {
				r.Get("/", s.handleListZones)
				r.Post("/", s.handleCreateZone)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetZone)
					r.Get("/active-cycle", s.handleGetActiveCycle)
					r.Get("/targets", s.handleZoneTargets)
				})
			})
			r.Route("/nodes", func(r chi.Router) {
				r.Get("/", s.handleListNodes)
				r.Post("/", s.handleCreateNode)
				r.Get("/{id}", s.handleGetNode)
			})
			r.Route("/plants", func(r chi.Router) {
				r.Get("/", s.handleListPlants)
				r.Post("/", s.handleCreatePlant)
			})

			// Recipe catalog
			r.Route("/recipes", func(r chi.Router) {
				r.Get("/", s.handleListRecipes)
				r.Post("/", s.handleCreateRecipe)
				r.Get("/{id}", s.handleGetRecipe)
				r.Get("/{id}/revisions", s.handleListRevisions)
			})
			r.Route("/revisions", func(r chi.Router) {
				r.Post("/", s.handleCreateRevision)
				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetRevision)
					r.Patch("/", s.handleUpdateRevision)
					r.Post("/publish", s.handlePublishRevision)
					r.Post("/phases", s.handleCreatePhase)
				})
			})
			r.Route("/phases/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetPhase)
				r.Put("/", s.handleUpdatePhase)
				r.Delete("/", s.handleDeletePhase)
				r.Post("/steps", s.handleCreateStep)
			})
			r.Delete("/steps/{id}", s.handleDeleteStep)

			// Grow cycles
			r.Route("/cycles", func(r chi.Router) {
				r.Get("/", s.handleListCycles)
				r.Post("/", s.handleCreateCycle)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetCycle)
					r.Post("/start", s.handleStartCycle)
					r.Post("/pause", s.handlePauseCycle)
					r.Post("/resume", s.handleResumeCycle)
					r.Post("/advance-phase", s.handleAdvancePhase)
					r.Post("/sync-step", s.handleSyncStep)
					r.Post("/set-phase", s.handleSetPhase)
					r.Post("/change-revision", s.handleChangeRevision)
					r.Post("/harvest", s.handleHarvest)
					r.Post("/abort", s.handleAbort)
					r.Get("/transitions", s.handleListTransitions)
					r.Get("/progress", s.handleProgress)
					r.Get("/overrides", s.handleListOverrides)
					r.Post("/overrides", s.handleAddOverride)
					r.Get("/targets", s.handleCycleTargets)
				})
			})
			r.Post("/overrides/{id}/deactivate", s.handleDeactivateOverride)

			// Effective targets
			r.Post("/targets/batch", s.handleBatchTargets)

			// Commands
			r.Route("/commands", func(r chi.Router) {
				r.Get("/", s.handleListCommands)
				r.Post("/", s.handleDispatchCommand)
				r.Post("/sweep-timeouts", s.handleSweepTimeouts)

				r.Route("/{cmdID}", func(r chi.Router) {
					r.Get("/", s.handleGetCommand)
					r.Post("/send", s.handleSendCommand)
					r.Get("/acks", s.handleListAcks)
					r.Post("/acks", s.handleRecordAck)
					r.Post("/status", s.handleUpdateCommandStatus)
				})
			})
		})
	})

	return r
}

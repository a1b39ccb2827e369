package admin

import "github.com/go-chi/chi/v5"

func RegisterRoutes(r chi.Router, h *Handler, token string) {
	r.Route("/admin", func(r chi.Router) {
		r.Use(RequireToken(token))

		r.Get("/queue/status", h.QueueStatus)
		r.Post("/queue/purge", h.PurgeQueue)
		r.Get("/queue/failed", h.FailedEnvelopes)

		r.Get("/users", h.ListUsers)
		r.Get("/users/{id}", h.GetUser)
		r.Post("/users/{id}/activate", h.Activate)
		r.Post("/users/{id}/deactivate", h.Deactivate)
		r.Put("/users/{id}/priority", h.SetPriority)
	})
}

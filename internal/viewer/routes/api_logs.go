package routes

import "github.com/go-chi/chi/v5"

func registerAPILogRoutes(r chi.Router, d Deps) {
	if d.Logs == nil {
		return
	}
	r.Get("/api/logs", d.Logs.ServeLogsJSON)
	r.Get("/api/logs/stream", d.Logs.ServeLogsSSE)
}

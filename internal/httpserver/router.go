package httpserver

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// NewRouter wires the hedge API routes
func NewRouter(handler *Handler) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.Route("/v1", func(r chi.Router) {
		r.Route("/hedges", func(r chi.Router) {
			r.Get("/", handler.List)
			r.Post("/", handler.Open)
			r.Post("/{id}/close", func(w http.ResponseWriter, req *http.Request) {
				handler.Close(w, req, chi.URLParam(req, "id"))
			})
		})
	})

	return r
}

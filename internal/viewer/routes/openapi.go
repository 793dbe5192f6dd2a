package routes

//go:generate swag init -g openapi_annotations.go -o ../docs --parseInternal

import (
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/swaggo/swag"

	_ "github.com/petervdpas/goopcall/internal/viewer/docs"
)

func registerOpenAPIRoute(r chi.Router) {
	r.Get("/api/openapi.json", func(w http.ResponseWriter, _ *http.Request) {
		doc, err := swag.ReadDoc()
		if err != nil {
			http.Error(w, "openapi document unavailable", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = io.WriteString(w, doc)
	})
}

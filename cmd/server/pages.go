package main

import (
	"embed"
	"net/http"

	"github.com/go-chi/chi/v5"
)

//go:embed static/*.html
var staticFS embed.FS

// registerPages wires the browser-facing pages. The pages are static
// shells; each one fetches its data from the JSON API using the id in
// its URL.
func registerPages(r chi.Router) {
	r.Get("/", servePage("static/index.html"))
	r.Get("/sign/{tracking_id}", servePage("static/sign.html"))
	r.Get("/quiz/{quiz_id}", servePage("static/quiz.html"))
}

func servePage(path string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page, err := staticFS.ReadFile(path)
		if err != nil {
			http.Error(w, "page not found", http.StatusNotFound)
			return
		}
		w.Header().Set("content-type", "text/html; charset=utf-8")
		_, _ = w.Write(page)
	}
}

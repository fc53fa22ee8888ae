package web

import (
	"net/http"
)

// RegisterRoutes registers all web GUI routes on the provided mux.
// Page paths mirror GitHub's: /{owner}, /{owner}/{repo} and
// /{owner}/{repo}/issues/{number}. The stylesheet is served from the embedded
// filesystem at an exact path so it cannot shadow an owner named "static".
func RegisterRoutes(mux *http.ServeMux, h *Handler) {
	mux.HandleFunc("GET /static/style.css", func(w http.ResponseWriter, r *http.Request) {
		http.ServeFileFS(w, r, StaticFS, "static/style.css")
	})

	mux.HandleFunc("GET /{$}", h.Home)
	mux.HandleFunc("GET /{owner}", h.Owner)
	mux.HandleFunc("GET /{owner}/{repo}", h.Repository)
	mux.HandleFunc("GET /{owner}/{repo}/issues/{number}", h.Issue)
	mux.HandleFunc("POST /{owner}/{repo}/issues/{number}/allocation", h.Allocate)
}

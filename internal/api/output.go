package api

import (
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
)

// handleOutput serves files of the output layout under /output/.
func (s *Server) handleOutput(w http.ResponseWriter, r *http.Request) {
	path, err := s.output.Resolve(chi.URLParam(r, "*"))
	if err != nil {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		s.writeError(w, http.StatusNotFound, "file not found")
		return
	}
	http.ServeFile(w, r, path)
}

package server

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"

	"github.com/snapconvert/snapconvert/core/infra/logging"
)

// handleDownload streams a granted file back to the client. Any failure to
// resolve the grant, whether unknown, expired, or already reclaimed, yields
// the same 404 so callers cannot probe grant IDs.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	grantID := r.PathValue("grantID")
	fileName, err := url.PathUnescape(r.PathValue("fileName"))
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "File not found or expired"})
		return
	}

	path, g, err := s.pipeline.Grants().Resolve(r.Context(), grantID, fileName)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "File not found or expired"})
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]any{"error": "File not found or expired"})
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", g.FileName))
	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(g.SizeBytes, 10))
	if _, err := io.Copy(w, f); err != nil {
		logging.Warn("server", "download stream interrupted", "grant", grantID, "error", err)
	}
}

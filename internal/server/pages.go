package server

import (
	"embed"
	"io/fs"
	"net/http"
	"strconv"
)

//go:embed web
var webFS embed.FS

// staticHandler serves web/static under /static/.
func staticHandler() http.Handler {
	sub, err := fs.Sub(webFS, "web")
	if err != nil {
		panic(err) // embedded tree is fixed at build time
	}
	return http.FileServerFS(sub)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	page, err := webFS.ReadFile("web/index.html")
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(page)
}

// signatureInfo is one entry of GET /api/list.
type signatureInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// handleListSignatures always reports an empty list; the engine's
// signature catalogue is not exposed.
func (s *Server) handleListSignatures(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]signatureInfo{"signatures": {}})
}

// handleEntropy is a placeholder; entropy is never computed here.
func (s *Server) handleEntropy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]float64{"entropy": {}})
}

// handleRecentAnalyses lists the newest audit records. It is 404 when no
// database is configured.
func (s *Server) handleRecentAnalyses(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeJSON(w, http.StatusNotFound, errorResp{Error: "analysis history disabled"})
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 500 {
			writeJSON(w, http.StatusBadRequest, errorResp{Error: "limit must be between 1 and 500"})
			return
		}
		limit = n
	}

	records, err := s.audit.Recent(r.Context(), limit)
	if err != nil {
		Error("audit_query_failed", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
		}, err)
		writeJSON(w, http.StatusServiceUnavailable, errorResp{Error: "analysis history unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"analyses": records})
}

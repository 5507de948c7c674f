package server

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"binwalk-web/internal/blobstore"
)

// handleDownload serves GET /api/download/{id} straight from the blob
// store. Tokens are the only credential: whoever holds one gets the bytes.
func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	id := r.PathValue("id")

	data, err := s.store.Get(id)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			GetMetrics().RecordDownloadMiss()
			http.Error(w, "Not found", http.StatusNotFound)
			return
		}
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	// Extracted names are not kept, so the token doubles as the file name.
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, id))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(data)

	duration := time.Since(start)
	GetMetrics().RecordDownload(int64(len(data)), duration)
	RecordRequestDuration("download", float64(duration.Milliseconds()))
}

package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"binwalk-web/internal/blobstore"
	"binwalk-web/internal/engine"
)

var (
	// ErrMissingFile: the upload had no "file" part.
	ErrMissingFile = errors.New("missing file part")
	// ErrBadRequest: the body could not be read as multipart form data.
	ErrBadRequest = errors.New("bad request")
	// ErrTooLarge: the body exceeded BW_MAX_UPLOAD_BYTES.
	ErrTooLarge = errors.New("upload too large")
	// ErrInvalidOptions is absorbed: defaults are used instead.
	ErrInvalidOptions = errors.New("invalid options")
	// ErrHarvestIO is absorbed: the extraction is skipped.
	ErrHarvestIO = errors.New("harvest io failure")
	// ErrAbandoned: the client went away before a worker slot freed up.
	ErrAbandoned = errors.New("request abandoned before analysis started")
)

type errorResp struct {
	Error string `json:"error"`
}

// statusFor maps an analysis error onto an HTTP status and a short,
// client-safe message.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, ErrMissingFile):
		return http.StatusBadRequest, "missing file"
	case errors.Is(err, ErrTooLarge):
		return http.StatusRequestEntityTooLarge, "file too large"
	case errors.Is(err, ErrBadRequest):
		return http.StatusBadRequest, "bad request"
	case errors.Is(err, engine.ErrEngineFailure):
		return http.StatusBadGateway, "analysis failed"
	case errors.Is(err, blobstore.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, ErrAbandoned), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable, "analysis not started"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, msg := statusFor(err)
	if errors.Is(err, ErrBadRequest) {
		// Bad-request errors carry a message meant for the client.
		msg = err.Error()
	}
	writeJSON(w, status, errorResp{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

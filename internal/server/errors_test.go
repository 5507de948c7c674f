package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"binwalk-web/internal/blobstore"
	"binwalk-web/internal/engine"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{ErrMissingFile, http.StatusBadRequest},
		{fmt.Errorf("%w: not multipart", ErrBadRequest), http.StatusBadRequest},
		{ErrTooLarge, http.StatusRequestEntityTooLarge},
		{fmt.Errorf("%w: exit status 1", engine.ErrEngineFailure), http.StatusBadGateway},
		{blobstore.ErrNotFound, http.StatusNotFound},
		{ErrAbandoned, http.StatusServiceUnavailable},
		{context.Canceled, http.StatusServiceUnavailable},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := statusFor(tt.err); got != tt.want {
			t.Errorf("statusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

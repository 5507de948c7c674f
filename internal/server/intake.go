package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

// maxOptionsBytes caps the "options" part; real option blobs are tiny.
const maxOptionsBytes = 64 << 10

// upload is everything Request Intake extracts from one analyze request.
type upload struct {
	Data     []byte
	Filename string // as declared by the client; may be empty
	Options  AnalyzeOptions

	// OptionsErr is set when an options part was present but unusable and
	// defaults were substituted.
	OptionsErr error
}

// readUpload streams the multipart body part by part. Only "file" and
// "options" are read; other parts are skipped. It never panics on bad
// input: every failure is one of ErrBadRequest, ErrTooLarge or
// ErrMissingFile.
func readUpload(r *http.Request) (*upload, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: expected multipart/form-data body", ErrBadRequest)
	}

	up := &upload{}
	gotFile := false

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, bodyError(err, "bad multipart")
		}

		switch part.FormName() {
		case "file":
			data, err := io.ReadAll(part)
			_ = part.Close()
			if err != nil {
				return nil, bodyError(err, "reading file part")
			}
			up.Data = data
			up.Filename = part.FileName()
			gotFile = true

		case "options":
			raw, err := io.ReadAll(io.LimitReader(part, maxOptionsBytes+1))
			_ = part.Close()
			if err != nil {
				return nil, bodyError(err, "reading options part")
			}
			if len(raw) > maxOptionsBytes {
				up.Options, up.OptionsErr = AnalyzeOptions{}, fmt.Errorf("%w: options part exceeds %d bytes", ErrInvalidOptions, maxOptionsBytes)
				continue
			}
			up.Options, up.OptionsErr = parseOptions(raw)

		default:
			_ = part.Close()
		}
	}

	if !gotFile {
		return nil, ErrMissingFile
	}
	return up, nil
}

// bodyError classifies a failure while reading the request body. A client
// that disconnects mid-upload surfaces here as a read error.
func bodyError(err error, what string) error {
	var tooBig *http.MaxBytesError
	if errors.As(err, &tooBig) {
		return fmt.Errorf("%w: limit %d bytes", ErrTooLarge, tooBig.Limit)
	}
	return fmt.Errorf("%w: %s", ErrBadRequest, what)
}

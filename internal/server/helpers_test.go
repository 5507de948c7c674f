package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"binwalk-web/internal/engine"
)

// recordingEngine is an engine stub that remembers every call and writes
// the configured files into cfg.OutputDir when extracting.
type recordingEngine struct {
	mu    sync.Mutex
	calls []engine.Config
	names []string

	// files maps extraction id -> file name -> contents.
	files   map[string]map[string]string
	fileMap []engine.SignatureResult
	err     error
}

func (e *recordingEngine) Analyze(ctx context.Context, data []byte, filename string, cfg engine.Config) (*engine.Result, error) {
	e.mu.Lock()
	e.calls = append(e.calls, cfg)
	e.names = append(e.names, filename)
	e.mu.Unlock()

	if e.err != nil {
		return nil, e.err
	}

	res := &engine.Result{FileMap: e.fileMap, Extractions: map[string]engine.Extraction{}}
	if !cfg.Extract {
		return res, nil
	}
	for id, files := range e.files {
		dir := filepath.Join(cfg.OutputDir, id)
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
		for name, body := range files {
			if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644); err != nil {
				return nil, err
			}
		}
		res.Extractions[id] = engine.Extraction{OutputDirectory: dir, Success: true, Extractor: "stub"}
	}
	return res, nil
}

func (e *recordingEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func (e *recordingEngine) lastCall() (engine.Config, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls[len(e.calls)-1], e.names[len(e.names)-1]
}

func newTestServer(t *testing.T, eng engine.Engine, mutate ...func(*Config)) *Server {
	t.Helper()
	cfg := Config{
		ScratchDir:    t.TempDir(),
		EngineWorkers: 4,
		Engine:        eng,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	s, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return s
}

// multipartBody builds an analyze request body. A nil file omits the file
// part; an empty options string omits the options part.
func multipartBody(t *testing.T, filename string, file []byte, options string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	if file != nil {
		var (
			fw  io.Writer
			err error
		)
		if filename == "" {
			h := make(textproto.MIMEHeader)
			h.Set("Content-Disposition", `form-data; name="file"`)
			fw, err = w.CreatePart(h)
		} else {
			fw, err = w.CreateFormFile("file", filename)
		}
		if err != nil {
			t.Fatal(err)
		}
		if _, err := fw.Write(file); err != nil {
			t.Fatal(err)
		}
	}
	if options != "" {
		if err := w.WriteField("options", options); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	return &body, w.FormDataContentType()
}

func doAnalyze(t *testing.T, s *Server, filename string, file []byte, options string) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, filename, file, options)
	req := httptest.NewRequest(http.MethodPost, "/api/analyze", body)
	req.Header.Set("Content-Type", ct)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decodeAnalyze(t *testing.T, rec *httptest.ResponseRecorder) analyzeResponse {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var out analyzeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	return out
}

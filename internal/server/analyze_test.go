package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"binwalk-web/internal/engine"
)

func TestAnalyze_MissingFileRejectedBeforeEngine(t *testing.T) {
	eng := &recordingEngine{}
	s := newTestServer(t, eng)

	rec := doAnalyze(t, s, "", nil, `{"extract":true}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "missing file") {
		t.Errorf("unexpected body %q", rec.Body.String())
	}
	if eng.callCount() != 0 {
		t.Fatalf("engine called %d times for a rejected upload", eng.callCount())
	}
}

func TestAnalyze_NotMultipart(t *testing.T) {
	eng := &recordingEngine{}
	s := newTestServer(t, eng)

	req := httptest.NewRequest(http.MethodPost, "/api/analyze", strings.NewReader(`{"file":"x"}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
	if eng.callCount() != 0 {
		t.Fatal("engine called for a non-multipart body")
	}
}

func TestAnalyze_WrongMethod(t *testing.T) {
	s := newTestServer(t, &recordingEngine{})
	req := httptest.NewRequest(http.MethodGet, "/api/analyze", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestAnalyze_OptionsDefaults(t *testing.T) {
	tests := []struct {
		name    string
		options string
	}{
		{"absent", ""},
		{"malformed json", `{"extract":`},
		{"wrong type", `{"extract":[1]}`},
		{"not an object", `[true]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &recordingEngine{}
			s := newTestServer(t, eng)

			out := decodeAnalyze(t, doAnalyze(t, s, "fw.bin", []byte("data"), tt.options))
			if eng.callCount() != 1 {
				t.Fatalf("expected one engine call, got %d", eng.callCount())
			}
			cfg, _ := eng.lastCall()
			if cfg.Extract || cfg.Carve || cfg.Recursive || cfg.Threads != 0 || cfg.Include != nil || cfg.Exclude != nil || cfg.OutputDir != "" {
				t.Fatalf("expected default engine config, got %+v", cfg)
			}
			if out.Entropy != nil {
				t.Errorf("entropy should be null by default, got %v", out.Entropy)
			}
		})
	}
}

func TestAnalyze_OptionsReachEngine(t *testing.T) {
	eng := &recordingEngine{}
	s := newTestServer(t, eng)

	decodeAnalyze(t, doAnalyze(t, s, "fw.bin", []byte("data"),
		`{"extract":"on","carve":true,"recursive":true,"include":"gzip, lzma","exclude":"","threads":"3","verbose":true,"quiet":true}`))

	cfg, name := eng.lastCall()
	if name != "fw.bin" {
		t.Errorf("filename = %q, want fw.bin", name)
	}
	if !cfg.Extract || !cfg.Carve || !cfg.Recursive {
		t.Errorf("flags not forwarded: %+v", cfg)
	}
	if strings.Join(cfg.Include, "|") != "gzip|lzma" {
		t.Errorf("include = %v", cfg.Include)
	}
	if cfg.Exclude != nil {
		t.Errorf("empty exclude should mean no filter, got %v", cfg.Exclude)
	}
	if cfg.Threads != 3 {
		t.Errorf("threads = %d, want 3", cfg.Threads)
	}
	if !strings.HasPrefix(filepath.Base(cfg.OutputDir), "bw-extract-") {
		t.Errorf("expected a scratch output dir, got %q", cfg.OutputDir)
	}
}

func TestAnalyze_DefaultFilename(t *testing.T) {
	eng := &recordingEngine{}
	s := newTestServer(t, eng)

	decodeAnalyze(t, doAnalyze(t, s, "", []byte("data"), ""))
	if _, name := eng.lastCall(); name != engine.DefaultFilename {
		t.Fatalf("filename = %q, want %q", name, engine.DefaultFilename)
	}
}

func TestAnalyze_ScanOnlyHasNoExtractions(t *testing.T) {
	eng := &recordingEngine{files: map[string]map[string]string{"x": {"a": "ignored"}}}
	s := newTestServer(t, eng)

	rec := doAnalyze(t, s, "ten.bin", []byte("0123456789"), `{"extract":false}`)
	out := decodeAnalyze(t, rec)

	if out.Extractions == nil || len(out.Extractions) != 0 {
		t.Fatalf("expected empty extractions object, got %v", out.Extractions)
	}
	if !strings.Contains(rec.Body.String(), `"extractions":{}`) {
		t.Errorf("extractions must serialise as {}: %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), `"file_map":[]`) {
		t.Errorf("file_map must serialise as []: %s", rec.Body.String())
	}
	if s.store.Len() != 0 {
		t.Errorf("store should be empty, has %d entries", s.store.Len())
	}
}

func TestAnalyze_TwoFilesOneExtraction(t *testing.T) {
	eng := &recordingEngine{
		fileMap: []engine.SignatureResult{{Offset: 0, Description: "gzip compressed data", Size: 10}},
		files:   map[string]map[string]string{"ext-1": {"a.bin": "first", "b.bin": "second"}},
	}
	s := newTestServer(t, eng)

	out := decodeAnalyze(t, doAnalyze(t, s, "fw.bin", []byte("data"), `{"extract":true,"entropy":true}`))

	if len(out.FileMap) != 1 || out.FileMap[0].Description != "gzip compressed data" {
		t.Fatalf("unexpected file_map %+v", out.FileMap)
	}
	files := out.ExtractionFiles["ext-1"]
	if len(files) != 2 {
		t.Fatalf("expected 2 urls for ext-1, got %v", out.ExtractionFiles)
	}
	if files[0] == files[1] {
		t.Fatal("artifacts share a token")
	}
	// Last file by name wins the single-URL slot.
	if out.Extractions["ext-1"] != files[1] {
		t.Fatalf("extractions[ext-1] = %q, want %q", out.Extractions["ext-1"], files[1])
	}
	if out.Entropy == nil || len(out.Entropy) != 0 {
		t.Errorf("requested entropy should be [], got %v", out.Entropy)
	}
	if out.AnalysisID == "" {
		t.Error("missing analysis_id")
	}

	want := []string{"first", "second"}
	for i, url := range files {
		if !strings.HasPrefix(url, downloadPrefix) {
			t.Fatalf("url %q lacks %s prefix", url, downloadPrefix)
		}
		data, err := s.store.Get(strings.TrimPrefix(url, downloadPrefix))
		if err != nil {
			t.Fatalf("token for %s not in store: %v", url, err)
		}
		if string(data) != want[i] {
			t.Errorf("artifact %d = %q, want %q", i, data, want[i])
		}
	}
}

func TestAnalyze_ScratchDirRemoved(t *testing.T) {
	eng := &recordingEngine{files: map[string]map[string]string{"e": {"f": "x"}}}
	s := newTestServer(t, eng)

	decodeAnalyze(t, doAnalyze(t, s, "fw.bin", []byte("data"), `{"extract":true}`))

	entries, err := os.ReadDir(s.cfg.ScratchDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("scratch root not cleaned up: %v", entries)
	}
}

func TestAnalyze_ClientDirectoryKept(t *testing.T) {
	eng := &recordingEngine{files: map[string]map[string]string{"e": {"f": "x"}}}
	s := newTestServer(t, eng)

	out := decodeAnalyze(t, doAnalyze(t, s, "fw.bin", []byte("data"), `{"extract":true,"directory":"job-1"}`))
	if len(out.Extractions) != 1 {
		t.Fatalf("expected one extraction, got %v", out.Extractions)
	}

	cfg, _ := eng.lastCall()
	if cfg.OutputDir != filepath.Join(s.cfg.ScratchDir, "job-1") {
		t.Fatalf("output dir = %q", cfg.OutputDir)
	}
	if _, err := os.Stat(filepath.Join(cfg.OutputDir, "e", "f")); err != nil {
		t.Fatalf("client directory should be kept: %v", err)
	}
}

func TestAnalyze_ClientDirectoryEscapes(t *testing.T) {
	for _, dir := range []string{"../outside", "/etc", "a/../../b"} {
		t.Run(dir, func(t *testing.T) {
			eng := &recordingEngine{}
			s := newTestServer(t, eng)

			rec := doAnalyze(t, s, "fw.bin", []byte("data"), fmt.Sprintf(`{"directory":%q}`, dir))
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", rec.Code)
			}
			if eng.callCount() != 0 {
				t.Fatal("engine called with an escaping directory")
			}
		})
	}
}

func TestAnalyze_EngineFailure(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"wrapped", fmt.Errorf("%w: exit status 3", engine.ErrEngineFailure)},
		{"plain", errors.New("boom")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestServer(t, &recordingEngine{err: tt.err})

			rec := doAnalyze(t, s, "fw.bin", []byte("data"), "")
			if rec.Code != http.StatusBadGateway {
				t.Fatalf("expected 502, got %d", rec.Code)
			}
			if !strings.Contains(rec.Body.String(), `"error"`) {
				t.Errorf("expected JSON error body, got %s", rec.Body.String())
			}
			if s.store.Len() != 0 {
				t.Error("failed analysis left entries in the store")
			}
		})
	}
}

func TestAnalyze_TooLarge(t *testing.T) {
	eng := &recordingEngine{}
	s := newTestServer(t, eng, func(c *Config) { c.MaxUploadBytes = 1024 })

	rec := doAnalyze(t, s, "big.bin", bytes.Repeat([]byte{0xAA}, 4096), "")
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", rec.Code)
	}
	if eng.callCount() != 0 {
		t.Fatal("engine called for an oversize upload")
	}
}

func TestAnalyze_ConcurrentUploadsDisjointTokens(t *testing.T) {
	eng := &recordingEngine{files: map[string]map[string]string{
		"a": {"1": "one", "2": "two"},
		"b": {"3": "three"},
	}}
	s := newTestServer(t, eng, func(c *Config) { c.EngineWorkers = 3 })

	const n = 12
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		tokens = map[string]bool{}
		failed []string
	)
	reqs := make([]*http.Request, n)
	for i := range reqs {
		body, ct := multipartBody(t, "fw.bin", []byte("data"), `{"extract":true}`)
		reqs[i] = httptest.NewRequest(http.MethodPost, "/api/analyze", body)
		reqs[i].Header.Set("Content-Type", ct)
	}
	for _, req := range reqs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec := httptest.NewRecorder()
			s.Handler().ServeHTTP(rec, req)

			mu.Lock()
			defer mu.Unlock()
			if rec.Code != http.StatusOK {
				failed = append(failed, rec.Body.String())
				return
			}
			out := analyzeResponse{}
			if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
				failed = append(failed, err.Error())
				return
			}
			for _, urls := range out.ExtractionFiles {
				for _, u := range urls {
					if tokens[u] {
						failed = append(failed, "duplicate token "+u)
					}
					tokens[u] = true
				}
			}
		}()
	}
	wg.Wait()

	if len(failed) > 0 {
		t.Fatalf("failures: %v", failed)
	}
	if len(tokens) != n*3 {
		t.Fatalf("expected %d distinct tokens, got %d", n*3, len(tokens))
	}
	if s.store.Len() != n*3 {
		t.Fatalf("store holds %d entries, want %d", s.store.Len(), n*3)
	}
}

package server

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"binwalk-web/internal/engine"
)

// analyzeResponse is the JSON body of a successful POST /api/analyze.
type analyzeResponse struct {
	AnalysisID      string                   `json:"analysis_id"`
	FileMap         []engine.SignatureResult `json:"file_map"`
	Extractions     map[string]string        `json:"extractions"`
	ExtractionFiles map[string][]string      `json:"extraction_files"`
	// Entropy is null unless requested; computing it is the engine's job,
	// so a request only ever gets an empty list.
	Entropy []float64 `json:"entropy"`
}

// analysisRun is what a pooled engine job hands back to the request.
type analysisRun struct {
	result  *engine.Result
	files   []harvestedFile
	skipped []error
	err     error
}

func (s *Server) scratchRoot() string {
	if s.cfg.ScratchDir != "" {
		return s.cfg.ScratchDir
	}
	return os.TempDir()
}

// handleAnalyze handles POST /api/analyze.
//
// Intake -> translate -> engine (on the worker pool) -> harvest -> store.
// Bad uploads are rejected before the engine is touched.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	metrics := GetMetrics()

	if s.cfg.MaxUploadBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes)
	}

	up, err := readUpload(r)
	if err != nil {
		metrics.RecordAnalysisRejected()
		Warn("analyze_rejected", map[string]any{
			"request_id": RequestIDFromContext(r.Context()),
			"reason":     err.Error(),
		})
		writeError(w, err)
		return
	}

	rlog := newRequestLogger(r.Context(), up.Options)
	if up.OptionsErr != nil {
		rlog.Warn("options_invalid_using_defaults", map[string]any{"error": up.OptionsErr.Error()})
	}

	cfg, err := translateOptions(up.Options, s.scratchRoot())
	if err != nil {
		metrics.RecordAnalysisRejected()
		rlog.Warn("analyze_rejected", map[string]any{"reason": err.Error()})
		writeError(w, err)
		return
	}

	filename := up.Filename
	if filename == "" {
		filename = engine.DefaultFilename
	}
	digest := blake3.Sum256(up.Data)
	rec := AnalysisRecord{
		ID:        uuid.NewString(),
		RequestID: RequestIDFromContext(r.Context()),
		Filename:  filename,
		SizeBytes: int64(len(up.Data)),
		Blake3Hex: hex.EncodeToString(digest[:]),
		Options:   up.Options,
	}

	rlog.Debug("engine_invoke", map[string]any{
		"analysis_id": rec.ID,
		"filename":    filename,
		"size":        len(up.Data),
		"extract":     cfg.Extract,
		"carve":       cfg.Carve,
		"recursive":   cfg.Recursive,
		"include":     cfg.Include,
		"exclude":     cfg.Exclude,
		"threads":     cfg.Threads,
	})

	run, err := runPooled(r.Context(), s.pool, func(ctx context.Context) analysisRun {
		return s.runEngine(ctx, up.Data, filename, cfg)
	})
	if err != nil {
		metrics.RecordAnalysisAbandoned()
		rlog.Warn("analysis_abandoned", map[string]any{"analysis_id": rec.ID, "reason": err.Error()})
		s.recordAudit(rec.finish(OutcomeAbandoned, start, err))
		writeError(w, err)
		return
	}
	if run.err != nil {
		metrics.RecordAnalysisError()
		rlog.Error("engine_failed", map[string]any{"analysis_id": rec.ID}, run.err)
		s.recordAudit(rec.finish(OutcomeEngineFailure, start, run.err))
		writeError(w, run.err)
		return
	}

	for _, skip := range run.skipped {
		metrics.RecordHarvestSkip()
		rlog.Warn("harvest_skipped", map[string]any{"analysis_id": rec.ID, "error": skip.Error()})
	}

	extractions, files, registered := s.registerArtifacts(run.files)
	s.mirrorArtifacts(rec.ID, registered)

	var artifactBytes int64
	for _, a := range registered {
		artifactBytes += int64(len(a.Data))
	}

	fileMap := run.result.FileMap
	if fileMap == nil {
		fileMap = []engine.SignatureResult{}
	}
	var entropy []float64
	if up.Options.Entropy {
		entropy = []float64{}
	}

	duration := time.Since(start)
	metrics.RecordAnalysis(int64(len(up.Data)), int64(len(registered)), artifactBytes, duration)
	RecordRequestDuration("analyze", float64(duration.Milliseconds()))

	rec.Signatures = len(fileMap)
	rec.Extractions = len(run.result.Extractions)
	rec.Artifacts = len(registered)
	s.recordAudit(rec.finish(OutcomeOK, start, nil))

	rlog.Info("analysis_complete", map[string]any{
		"analysis_id": rec.ID,
		"filename":    filename,
		"blake3":      rec.Blake3Hex,
		"signatures":  len(fileMap),
		"extractions": len(run.result.Extractions),
		"artifacts":   len(registered),
		"skipped":     len(run.skipped),
		"duration_ms": duration.Milliseconds(),
	})

	writeJSON(w, http.StatusOK, analyzeResponse{
		AnalysisID:      rec.ID,
		FileMap:         fileMap,
		Extractions:     extractions,
		ExtractionFiles: files,
		Entropy:         entropy,
	})
}

// runEngine is the pooled job: invoke the engine once and read whatever
// it wrote into memory. A scratch output directory allocated here is
// removed before returning, so an abandoned run leaves nothing behind.
func (s *Server) runEngine(ctx context.Context, data []byte, filename string, cfg engine.Config) analysisRun {
	switch {
	case cfg.OutputDir != "":
		// Client-chosen directory under the scratch root; kept afterwards.
		if err := os.MkdirAll(cfg.OutputDir, 0o750); err != nil {
			return analysisRun{err: fmt.Errorf("%w: output dir: %v", engine.ErrEngineFailure, err)}
		}
	case cfg.Extract || cfg.Carve:
		dir, err := os.MkdirTemp(s.scratchRoot(), "bw-extract-")
		if err != nil {
			return analysisRun{err: fmt.Errorf("%w: scratch dir: %v", engine.ErrEngineFailure, err)}
		}
		defer func() { _ = os.RemoveAll(dir) }()
		cfg.OutputDir = dir
	}

	res, err := s.engine.Analyze(ctx, data, filename, cfg)
	if err != nil {
		if !errors.Is(err, engine.ErrEngineFailure) {
			err = fmt.Errorf("%w: %v", engine.ErrEngineFailure, err)
		}
		return analysisRun{err: err}
	}
	if res == nil {
		res = &engine.Result{}
	}

	files, skipped := collectArtifacts(res.Extractions)
	return analysisRun{result: res, files: files, skipped: skipped}
}

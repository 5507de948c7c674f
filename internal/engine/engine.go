// Package engine defines the contract with the external binary analysis
// engine and provides an adapter that drives the binwalk CLI.
package engine

import (
	"context"
	"errors"
)

// ErrEngineFailure marks any failure of the analysis call itself: the
// engine could not be started, exited non-zero, or produced output that
// could not be understood.
var ErrEngineFailure = errors.New("engine failure")

// Config is the engine-side view of one analysis.
type Config struct {
	// Include and Exclude restrict signature matching. nil means no
	// restriction; a non-nil empty slice is never produced by the server.
	Include []string
	Exclude []string

	// OutputDir receives extraction output. Required when Extract or
	// Carve is set.
	OutputDir string

	Extract   bool
	Carve     bool
	Recursive bool

	// Threads is advisory; 0 lets the engine decide.
	Threads int
}

// SignatureResult is one signature match reported by the engine.
type SignatureResult struct {
	Offset      uint64 `json:"offset"`
	Description string `json:"description"`
	Size        uint64 `json:"size"`
	Name        string `json:"name,omitempty"`
	Confidence  int    `json:"confidence,omitempty"`
}

// Extraction describes the output of one extractor run.
type Extraction struct {
	OutputDirectory string `json:"output_directory"`
	Success         bool   `json:"success"`
	Extractor       string `json:"extractor"`
}

// Result is what a single Analyze call returns.
type Result struct {
	FileMap     []SignatureResult
	Extractions map[string]Extraction
}

// Engine runs one analysis synchronously.
type Engine interface {
	Analyze(ctx context.Context, data []byte, filename string, cfg Config) (*Result, error)
}

// Func adapts a plain function to the Engine interface.
type Func func(ctx context.Context, data []byte, filename string, cfg Config) (*Result, error)

// Analyze calls f.
func (f Func) Analyze(ctx context.Context, data []byte, filename string, cfg Config) (*Result, error) {
	return f(ctx, data, filename, cfg)
}

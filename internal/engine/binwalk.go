package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// DefaultFilename is used when the client did not name its upload.
const DefaultFilename = "upload.bin"

const stderrTail = 512

// Binwalk runs the binwalk CLI once per analysis and reads its JSON log.
type Binwalk struct {
	// Path is the binwalk executable, resolved through PATH when bare.
	Path string
	// WorkDir holds the per-call input copy and log file. Empty means the
	// OS temp dir.
	WorkDir string
}

// NewBinwalk returns an adapter for the binwalk binary at path.
func NewBinwalk(path, workDir string) *Binwalk {
	if path == "" {
		path = "binwalk"
	}
	return &Binwalk{Path: path, WorkDir: workDir}
}

// LookPath reports the resolved executable, or an error when it cannot be
// found. Used by the health check.
func (b *Binwalk) LookPath() (string, error) {
	return exec.LookPath(b.Path)
}

// Analyze writes data to a private temp file, runs binwalk on it and
// parses the JSON log. The temp file and log are removed before
// returning; extraction output under cfg.OutputDir is left in place for
// the caller to harvest.
func (b *Binwalk) Analyze(ctx context.Context, data []byte, filename string, cfg Config) (*Result, error) {
	work, err := os.MkdirTemp(b.WorkDir, "bw-input-")
	if err != nil {
		return nil, fmt.Errorf("%w: scratch dir: %v", ErrEngineFailure, err)
	}
	defer func() { _ = os.RemoveAll(work) }()

	inputPath := filepath.Join(work, SafeFilename(filename))
	if err := os.WriteFile(inputPath, data, 0o600); err != nil {
		return nil, fmt.Errorf("%w: write input: %v", ErrEngineFailure, err)
	}
	logPath := filepath.Join(work, "analysis.json")

	cmd := exec.CommandContext(ctx, b.Path, buildArgs(cfg, logPath, inputPath)...)
	cmd.Dir = work
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("%w: %s: %v: %s", ErrEngineFailure, b.Path, err, tail(stderr.Bytes()))
	}

	raw, err := os.ReadFile(logPath)
	if err != nil {
		return nil, fmt.Errorf("%w: read log: %v", ErrEngineFailure, err)
	}
	return parseLog(raw)
}

// buildArgs maps Config onto binwalk's command line. The log always goes
// to a file so stdout chatter cannot corrupt it.
func buildArgs(cfg Config, logPath, inputPath string) []string {
	args := []string{"--quiet", "--log", logPath}
	if cfg.Extract {
		args = append(args, "--extract")
	}
	if cfg.Carve {
		args = append(args, "--carve")
	}
	if cfg.Recursive {
		args = append(args, "--matryoshka")
	}
	if len(cfg.Include) > 0 {
		args = append(args, "--include", strings.Join(cfg.Include, ","))
	}
	if len(cfg.Exclude) > 0 {
		args = append(args, "--exclude", strings.Join(cfg.Exclude, ","))
	}
	if cfg.Threads > 0 {
		args = append(args, "--threads", strconv.Itoa(cfg.Threads))
	}
	if cfg.OutputDir != "" {
		args = append(args, "--directory", cfg.OutputDir)
	}
	return append(args, inputPath)
}

type logEntry struct {
	Analysis *analysisLog `json:"Analysis"`
}

type analysisLog struct {
	FilePath    string                `json:"file_path"`
	FileMap     []SignatureResult     `json:"file_map"`
	Extractions map[string]Extraction `json:"extractions"`
}

// parseLog reads binwalk's JSON log: an array with one Analysis object per
// analysed file (more than one under --matryoshka). File maps are
// concatenated in log order and extraction maps merged.
func parseLog(raw []byte) (*Result, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: empty log", ErrEngineFailure)
	}

	var entries []logEntry
	if raw[0] == '{' {
		var one logEntry
		if err := json.Unmarshal(raw, &one); err != nil {
			return nil, fmt.Errorf("%w: log not json: %v", ErrEngineFailure, err)
		}
		entries = append(entries, one)
	} else if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("%w: log not json: %v", ErrEngineFailure, err)
	}

	res := &Result{
		FileMap:     []SignatureResult{},
		Extractions: make(map[string]Extraction),
	}
	for _, e := range entries {
		if e.Analysis == nil {
			continue
		}
		res.FileMap = append(res.FileMap, e.Analysis.FileMap...)
		for id, ex := range e.Analysis.Extractions {
			res.Extractions[id] = ex
		}
	}
	return res, nil
}

// SafeFilename reduces a client-declared filename to a single path
// element that is safe to create inside a scratch directory.
func SafeFilename(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == ".." || name == "/" {
		return DefaultFilename
	}
	return name
}

func tail(b []byte) string {
	b = bytes.TrimSpace(b)
	if len(b) > stderrTail {
		b = b[len(b)-stderrTail:]
	}
	return string(b)
}

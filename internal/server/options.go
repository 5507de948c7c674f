package server

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"binwalk-web/internal/engine"
)

// AnalyzeOptions is the client-facing option set posted in the "options"
// part of /api/analyze. The zero value is the default for every field.
type AnalyzeOptions struct {
	Extract    bool
	Carve      bool
	Entropy    bool
	Matryoshka bool
	Include    *string // comma separated signature names; nil = no filter
	Exclude    *string
	Threads    *int
	Directory  *string
	Verbose    bool
	Quiet      bool
}

// UnmarshalJSON accepts the shapes browsers actually send: text inputs
// arrive as strings, so an empty string is treated as absent and threads
// may be a number or a numeric string. Unknown keys are ignored. Any type
// mismatch fails the whole document.
func (o *AnalyzeOptions) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("options must be a JSON object")
	}

	var out AnalyzeOptions
	var err error
	bools := []struct {
		key string
		dst *bool
	}{
		{"extract", &out.Extract},
		{"carve", &out.Carve},
		{"entropy", &out.Entropy},
		{"matryoshka", &out.Matryoshka},
		{"recursive", &out.Matryoshka},
		{"verbose", &out.Verbose},
		{"quiet", &out.Quiet},
	}
	for _, b := range bools {
		msg, ok := raw[b.key]
		if !ok {
			continue
		}
		v, perr := parseBool(msg)
		if perr != nil {
			return fmt.Errorf("%s: %w", b.key, perr)
		}
		// "recursive" is an alias; either key switches recursion on.
		*b.dst = *b.dst || v
	}

	if out.Include, err = parseOptionalString(raw["include"]); err != nil {
		return fmt.Errorf("include: %w", err)
	}
	if out.Exclude, err = parseOptionalString(raw["exclude"]); err != nil {
		return fmt.Errorf("exclude: %w", err)
	}
	if out.Directory, err = parseOptionalString(raw["directory"]); err != nil {
		return fmt.Errorf("directory: %w", err)
	}
	if out.Threads, err = parseOptionalPositiveInt(raw["threads"]); err != nil {
		return fmt.Errorf("threads: %w", err)
	}

	*o = out
	return nil
}

// MarshalJSON renders the canonical form, used for the audit trail.
func (o AnalyzeOptions) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Extract    bool    `json:"extract"`
		Carve      bool    `json:"carve"`
		Entropy    bool    `json:"entropy"`
		Matryoshka bool    `json:"matryoshka"`
		Include    *string `json:"include"`
		Exclude    *string `json:"exclude"`
		Threads    *int    `json:"threads"`
		Directory  *string `json:"directory"`
		Verbose    bool    `json:"verbose"`
		Quiet      bool    `json:"quiet"`
	}{o.Extract, o.Carve, o.Entropy, o.Matryoshka, o.Include, o.Exclude, o.Threads, o.Directory, o.Verbose, o.Quiet})
}

func isNull(msg json.RawMessage) bool {
	return len(msg) == 0 || bytes.Equal(bytes.TrimSpace(msg), []byte("null"))
}

func parseBool(msg json.RawMessage) (bool, error) {
	if isNull(msg) {
		return false, nil
	}
	var b bool
	if err := json.Unmarshal(msg, &b); err == nil {
		return b, nil
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return false, fmt.Errorf("expected boolean")
	}
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "false", "0", "off", "no":
		return false, nil
	case "true", "1", "on", "yes":
		return true, nil
	}
	return false, fmt.Errorf("expected boolean, got %q", s)
}

func parseOptionalString(msg json.RawMessage) (*string, error) {
	if isNull(msg) {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(msg, &s); err != nil {
		return nil, fmt.Errorf("expected string")
	}
	if strings.TrimSpace(s) == "" {
		return nil, nil
	}
	return &s, nil
}

func parseOptionalPositiveInt(msg json.RawMessage) (*int, error) {
	if isNull(msg) {
		return nil, nil
	}
	var n int
	if err := json.Unmarshal(msg, &n); err != nil {
		var s string
		if err := json.Unmarshal(msg, &s); err != nil {
			return nil, fmt.Errorf("expected positive integer")
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return nil, nil
		}
		n, err = strconv.Atoi(s)
		if err != nil {
			return nil, fmt.Errorf("expected positive integer, got %q", s)
		}
	}
	if n <= 0 {
		return nil, fmt.Errorf("expected positive integer, got %d", n)
	}
	return &n, nil
}

// parseOptions decodes the raw options part. On any failure it returns the
// default options together with an ErrInvalidOptions-wrapped error, which
// callers log and otherwise ignore.
func parseOptions(raw []byte) (AnalyzeOptions, error) {
	var opts AnalyzeOptions
	if err := json.Unmarshal(raw, &opts); err != nil {
		return AnalyzeOptions{}, fmt.Errorf("%w: %v", ErrInvalidOptions, err)
	}
	return opts, nil
}

// splitList turns "a, b,,c " into [a b c]. Absent input, and input with
// no names in it, both mean "no filter" and yield nil.
func splitList(s *string) []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, tok := range strings.Split(*s, ",") {
		tok = strings.TrimSpace(tok)
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// resolveDirectory confines a client-supplied output directory to the
// scratch root. Absolute paths and paths that climb out are rejected.
func resolveDirectory(scratchRoot, dir string) (string, error) {
	dir = strings.TrimSpace(dir)
	if !filepath.IsLocal(dir) {
		return "", fmt.Errorf("%w: directory must be a relative path inside the scratch area", ErrBadRequest)
	}
	return filepath.Join(scratchRoot, dir), nil
}

// translateOptions maps client options onto the engine configuration.
// OutputDir is only filled for a client-supplied directory; the caller
// allocates a scratch directory otherwise. Verbose and Quiet only affect
// request logging and never reach the engine.
func translateOptions(opts AnalyzeOptions, scratchRoot string) (engine.Config, error) {
	cfg := engine.Config{
		Include:   splitList(opts.Include),
		Exclude:   splitList(opts.Exclude),
		Extract:   opts.Extract,
		Carve:     opts.Carve,
		Recursive: opts.Matryoshka,
	}
	if opts.Threads != nil {
		cfg.Threads = *opts.Threads
	}
	if opts.Directory != nil {
		dir, err := resolveDirectory(scratchRoot, *opts.Directory)
		if err != nil {
			return engine.Config{}, err
		}
		cfg.OutputDir = dir
	}
	return cfg, nil
}

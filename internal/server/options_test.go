package server

import (
	"encoding/json"
	"errors"
	"path/filepath"
	"reflect"
	"testing"
)

func strPtr(s string) *string { return &s }
func intPtr(n int) *int { return &n }

func TestParseOptions(t *testing.T) {
	tests := []struct {
		name    string
		raw     string
		want    AnalyzeOptions
		wantErr bool
	}{
		{name: "empty object", raw: `{}`, want: AnalyzeOptions{}},
		{name: "bools", raw: `{"extract":true,"carve":true,"entropy":true,"matryoshka":true}`,
			want: AnalyzeOptions{Extract: true, Carve: true, Entropy: true, Matryoshka: true}},
		{name: "recursive alias", raw: `{"recursive":true}`, want: AnalyzeOptions{Matryoshka: true}},
		{name: "string bools", raw: `{"extract":"on","carve":"false","quiet":"yes"}`,
			want: AnalyzeOptions{Extract: true, Quiet: true}},
		{name: "browser form", raw: `{"include":"","exclude":"","threads":"","directory":""}`, want: AnalyzeOptions{}},
		{name: "threads number", raw: `{"threads":4}`, want: AnalyzeOptions{Threads: intPtr(4)}},
		{name: "threads string", raw: `{"threads":" 8 "}`, want: AnalyzeOptions{Threads: intPtr(8)}},
		{name: "lists", raw: `{"include":"gzip,lzma","exclude":"jffs2"}`,
			want: AnalyzeOptions{Include: strPtr("gzip,lzma"), Exclude: strPtr("jffs2")}},
		{name: "nulls", raw: `{"extract":null,"include":null,"threads":null}`, want: AnalyzeOptions{}},
		{name: "unknown keys ignored", raw: `{"colour":"blue","extract":true}`, want: AnalyzeOptions{Extract: true}},
		{name: "zero threads", raw: `{"threads":0}`, wantErr: true},
		{name: "negative threads", raw: `{"threads":"-2"}`, wantErr: true},
		{name: "bad bool", raw: `{"extract":"maybe"}`, wantErr: true},
		{name: "bad include type", raw: `{"include":42}`, wantErr: true},
		{name: "not json", raw: `extract=true`, wantErr: true},
		{name: "array", raw: `[]`, wantErr: true},
		{name: "null document", raw: `null`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseOptions([]byte(tt.raw))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidOptions) {
					t.Fatalf("expected ErrInvalidOptions, got %v", err)
				}
				if !reflect.DeepEqual(got, AnalyzeOptions{}) {
					t.Fatalf("expected defaults on error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Fatalf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestAnalyzeOptions_MarshalCanonical(t *testing.T) {
	opts, err := parseOptions([]byte(`{"recursive":"on","threads":"2","include":"gzip"}`))
	if err != nil {
		t.Fatal(err)
	}
	b, err := json.Marshal(opts)
	if err != nil {
		t.Fatal(err)
	}
	back, err := parseOptions(b)
	if err != nil {
		t.Fatalf("canonical form does not parse: %v", err)
	}
	if !reflect.DeepEqual(opts, back) {
		t.Fatalf("canonical form lost data: %+v vs %+v", opts, back)
	}
}

func TestSplitList(t *testing.T) {
	tests := []struct {
		in   *string
		want []string
	}{
		{nil, nil},
		{strPtr(""), nil},
		{strPtr(" , ,"), nil},
		{strPtr("gzip"), []string{"gzip"}},
		{strPtr("a, b,,c "), []string{"a", "b", "c"}},
	}
	for _, tt := range tests {
		if got := splitList(tt.in); !reflect.DeepEqual(got, tt.want) {
			t.Errorf("splitList(%v) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestTranslateOptions(t *testing.T) {
	root := t.TempDir()

	cfg, err := translateOptions(AnalyzeOptions{
		Extract:    true,
		Matryoshka: true,
		Include:    strPtr("gzip, lzma"),
		Threads:    intPtr(2),
		Directory:  strPtr("out/run1"),
		Verbose:    true,
	}, root)
	if err != nil {
		t.Fatal(err)
	}
	if !cfg.Extract || cfg.Carve || !cfg.Recursive {
		t.Errorf("flags wrong: %+v", cfg)
	}
	if !reflect.DeepEqual(cfg.Include, []string{"gzip", "lzma"}) || cfg.Exclude != nil {
		t.Errorf("lists wrong: include=%v exclude=%v", cfg.Include, cfg.Exclude)
	}
	if cfg.Threads != 2 {
		t.Errorf("threads = %d", cfg.Threads)
	}
	if cfg.OutputDir != filepath.Join(root, "out", "run1") {
		t.Errorf("output dir = %q", cfg.OutputDir)
	}

	if _, err := translateOptions(AnalyzeOptions{Directory: strPtr("../escape")}, root); !errors.Is(err, ErrBadRequest) {
		t.Fatalf("expected ErrBadRequest for escaping directory, got %v", err)
	}
}

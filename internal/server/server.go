package server

import (
	"context"
	"database/sql"
	"net"
	"net/http"
	"time"

	"binwalk-web/internal/blobstore"
	"binwalk-web/internal/engine"
)

type BuildInfo struct {
	Version string
	Commit  string
}

type RateLimitConfig struct {
	AnalyzePerMinute  int // 0 disables the limit
	DownloadPerMinute int
	APIPerMinute      int
}

type Config struct {
	Addr  string // e.g. ":8080"
	Build BuildInfo

	EnginePath    string
	ScratchDir    string // parent of per-analysis scratch dirs; "" = OS temp dir
	EngineWorkers int
	EngineTimeout time.Duration // 0 = no limit

	MaxUploadBytes int64 // 0 = no limit

	Blob              blobstore.Options
	BlobSweepInterval time.Duration

	RateLimits RateLimitConfig
	Mirror     MirrorConfig

	DatabaseURL string

	// Dependencies. Nil values get defaults in New (Engine, Store) or
	// disable the feature (DB, ArtifactMirror).
	Engine         engine.Engine
	Store          *blobstore.MemoryStore
	DB             *sql.DB
	ArtifactMirror *ArtifactMirror
}

type Server struct {
	cfg        Config
	httpServer *http.Server

	engine engine.Engine
	store  *blobstore.MemoryStore
	pool   *enginePool
	mirror *ArtifactMirror
	audit  *AuditStore
	db     *sql.DB

	version string
}

func New(cfg Config) (*Server, error) {
	s := &Server{
		cfg:     cfg,
		engine:  cfg.Engine,
		store:   cfg.Store,
		mirror:  cfg.ArtifactMirror,
		db:      cfg.DB,
		version: cfg.Build.Version,
	}
	if s.engine == nil {
		s.engine = engine.NewBinwalk(cfg.EnginePath, cfg.ScratchDir)
	}
	if s.store == nil {
		st, err := blobstore.New(cfg.Blob)
		if err != nil {
			return nil, err
		}
		s.store = st
	}
	if s.db != nil {
		s.audit = NewAuditStore(s.db)
	}
	s.pool = newEnginePool(cfg.EngineWorkers, cfg.EngineTimeout)

	s.httpServer = &http.Server{
		Addr:              cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	return s, nil
}

// Handler returns the fully wrapped HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.Handle("GET /static/", staticHandler())
	mux.HandleFunc("POST /api/analyze", s.handleAnalyze)
	mux.HandleFunc("GET /api/list", s.handleListSignatures)
	mux.HandleFunc("POST /api/entropy", s.handleEntropy)
	mux.HandleFunc("GET /api/download/{id}", s.handleDownload)
	mux.HandleFunc("GET /api/analyses", s.handleRecentAnalyses)

	mux.HandleFunc("GET /health", s.HandleHealth)
	mux.HandleFunc("GET /live", s.HandleLive)
	mux.Handle("GET /metrics", PrometheusMetricsHandler(s.store, s.version))

	// Wrap middleware: requestID -> logging -> security headers -> compression -> rate limits -> mux
	var handler http.Handler = mux
	handler = NewEndpointRateLimiter(s.cfg.RateLimits).Middleware(handler)
	handler = CompressionMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = loggingMiddleware(handler)
	handler = requestIDMiddleware(handler)
	return handler
}

// Store exposes the blob store, mainly for background jobs in main.
func (s *Server) Store() *blobstore.MemoryStore {
	return s.store
}

func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	return s.httpServer.Serve(ln)
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

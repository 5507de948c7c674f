package main

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"binwalk-web/internal/db"
	"binwalk-web/internal/server"
)

func main() {
	// A .env file is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		log.Printf("service=backend msg=%q err=%v", "dotenv_load_failed", err)
	}

	cfg, err := server.LoadConfigFromEnv()
	if err != nil {
		log.Printf("service=backend msg=%q", "invalid_configuration")
		log.Print(err)
		os.Exit(1)
	}
	server.WarnOnOptionalMissingConfig(cfg)

	// Audit database (optional)
	var dbConn *sql.DB
	if cfg.DatabaseURL != "" {
		log.Printf("service=backend msg=%q", "running_migrations")
		if err := db.RunMigrations(cfg.DatabaseURL); err != nil {
			log.Printf("service=backend msg=%q err=%v", "migration_failed", err)
			os.Exit(1)
		}
		log.Printf("service=backend msg=%q", "migrations_complete")

		dbConn, err = server.OpenDB(cfg.DatabaseURL)
		if err != nil {
			log.Printf("service=backend msg=%q err=%v", "db_connect_failed", err)
			os.Exit(1)
		}
		defer func() { _ = dbConn.Close() }()
		cfg.DB = dbConn
	}

	// Artifact mirror (optional). An unreachable bucket is not fatal; the
	// service still answers from memory.
	if cfg.Mirror.Complete() {
		mirror, err := server.NewArtifactMirror(cfg.Mirror)
		if err != nil {
			log.Printf("service=backend msg=%q err=%v", "mirror_disabled", err)
		} else {
			cfg.ArtifactMirror = mirror
		}
	}

	srv, err := server.New(cfg)
	if err != nil {
		log.Printf("service=backend msg=%q err=%v", "server_init_failed", err)
		os.Exit(1)
	}

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	go server.StartBlobSweeper(bgCtx, srv.Store(), cfg.BlobSweepInterval, cfg.Blob.MaxAge)

	errCh := make(chan error, 1)
	go func() {
		log.Printf("service=backend msg=%q addr=%s version=%s commit=%s engine=%s workers=%d",
			"starting", cfg.Addr, cfg.Build.Version, cfg.Build.Commit, cfg.EnginePath, cfg.EngineWorkers)
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Printf("service=backend msg=%q signal=%s", "shutting_down", sig.String())
		stopBackground()
		// In-flight analyses may take a while; give them a fair window.
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			log.Printf("service=backend msg=%q err=%v", "shutdown_error", err)
			os.Exit(1)
		}
		log.Printf("service=backend msg=%q", "shutdown_complete")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("service=backend msg=%q err=%v", "server_error", err)
			os.Exit(1)
		}
	}
}

package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/multierr"
)

const (
	reapInterval    = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(args []string) error {
	fs := flag.NewFlagSet("bvh-server", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to TOML config file")
	addr := fs.String("addr", "", "HTTP listen address")
	viewerDir := fs.String("viewer", "", "Path to viewer directory (default: ../viewer)")
	dbPath := fs.String("db", "", "SQLite database path")
	builder := fs.String("builder", "", "Default BVH builder (topdown, bottomup)")
	logLevel := fs.String("log-level", "", "Log level (debug, info, warn, error)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		return err
	}
	// Flags given on the command line override the file.
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "addr":
			cfg.Addr = *addr
		case "viewer":
			cfg.ViewerDir = *viewerDir
		case "db":
			cfg.DBPath = *dbPath
		case "builder":
			cfg.BVH.Builder = *builder
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.ViewerDir == "" {
		cfg.ViewerDir = defaultViewerDir()
	}

	logger, err := NewLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	db, err := OpenDB(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database %s: %w", cfg.DBPath, err)
	}
	stats := NewStatsRecorder(db, logger)

	hub := NewHub(cfg, db, stats, logger)
	go hub.Run()

	reaperStop := make(chan struct{})
	go hub.sessions.RunReaper(reapInterval, reaperStop)

	mux := SetupRoutes(hub, cfg.ViewerDir)
	server := &http.Server{Addr: cfg.Addr, Handler: mux}

	// Graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	serveErr := make(chan error, 1)
	go func() {
		logger.Infow("server starting", "addr", cfg.Addr, "viewer", cfg.ViewerDir, "builder", cfg.BVH.Builder)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			serveErr <- err
		}
		close(serveErr)
	}()

	var listenErr error
	select {
	case <-stop:
		logger.Info("shutting down")
	case listenErr = <-serveErr:
		if listenErr != nil {
			logger.Errorw("listen failed", "error", listenErr)
			listenErr = fmt.Errorf("listen on %s: %w", cfg.Addr, listenErr)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := server.Shutdown(ctx)
	if listenErr == nil {
		listenErr = <-serveErr
	}
	close(reaperStop)
	hub.sessions.StopAll()
	stats.Stop()
	return multierr.Combine(listenErr, shutdownErr, db.Close())
}

// defaultViewerDir looks for the viewer next to the binary, then relative to
// the working directory
func defaultViewerDir() string {
	exe, _ := os.Executable()
	dir := filepath.Join(filepath.Dir(exe), "..", "viewer")
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		dir = "../viewer"
	}
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return ""
	}
	return dir
}

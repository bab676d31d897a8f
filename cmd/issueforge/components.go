package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/ShayCichocki/issueforge/internal/config"
	"github.com/ShayCichocki/issueforge/internal/metrics"
	"github.com/ShayCichocki/issueforge/internal/state"
	"github.com/ShayCichocki/issueforge/internal/workspace"
)

// newProvider builds the workspace provider selected by workspace.mode.
func newProvider(cfg *config.Config, root string) (workspace.Provider, error) {
	switch cfg.Workspace.Mode {
	case config.WorkspaceModeDir:
		return workspace.NewDirProvider(cfg.Workspace.BaseDir)
	default:
		repo, err := findGitRoot(root)
		if err != nil {
			return nil, fmt.Errorf("workspace mode %q needs a git repository: %w", cfg.Workspace.Mode, err)
		}
		return workspace.NewGitProvider(cfg.Workspace.BaseDir, repo)
	}
}

// openStore opens the run history database, relative paths anchored at root.
func openStore(cfg *config.Config, root string) (*state.DB, error) {
	db, err := state.OpenAndMigrate(resolvePath(root, cfg.State.DBPath))
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}
	return db, nil
}

// serveMetrics serves reg on listen until ctx is done.
func serveMetrics(ctx context.Context, reg *prometheus.Registry, listen string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: listen, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	printStatus("•", fmt.Sprintf("Metrics on http://%s/metrics", listen), color.FgCyan)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

// Package app owns the engine lifecycle: it builds the infrastructure
// dependencies (Postgres, Redis, S3, the searcher key), assembles the
// detection, scoring, and execution pipeline on top of them, and runs the
// goroutines for the selected operating mode until shutdown.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/calebmori/mevengine/internal/config"
)

// modeRunner starts everything one operating mode needs and blocks until the
// context is cancelled.
type modeRunner func(ctx context.Context, deps *Dependencies) error

// App is the process root. Cleanup functions registered during wiring run in
// reverse order when Close is called.
type App struct {
	cfg     *config.Config
	logger  *slog.Logger
	closers []func()
}

// New creates an App from the given configuration and logger.
func New(cfg *config.Config, logger *slog.Logger) *App {
	return &App{
		cfg:    cfg,
		logger: logger.With(slog.String("component", "app")),
	}
}

// Run wires the dependencies, dispatches to the configured mode, and blocks
// until the context is cancelled or the mode returns an error.
func (a *App) Run(ctx context.Context) error {
	deps, cleanup, err := Wire(ctx, a.cfg, a.logger)
	if err != nil {
		return fmt.Errorf("app: wire dependencies: %w", err)
	}
	a.closers = append(a.closers, cleanup)

	modes := map[string]modeRunner{
		"detect": a.DetectMode,
		"full":   a.FullMode,
	}
	run, ok := modes[strings.ToLower(a.cfg.Mode)]
	if !ok {
		return fmt.Errorf("app: unsupported mode %q", a.cfg.Mode)
	}

	a.logger.InfoContext(ctx, "engine starting",
		slog.String("mode", a.cfg.Mode),
		slog.String("log_level", a.cfg.LogLevel),
	)
	return run(ctx, deps)
}

// Close tears down registered resources in reverse order. Calling it more
// than once is a no-op.
func (a *App) Close() {
	if len(a.closers) == 0 {
		return
	}
	a.logger.Info("engine shutting down")
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vpsdash/vpsd/internal/server/config"
)

// App wires the config and HTTP transport. The daemon keeps no state of its
// own; everything behind the handler re-reads the host on demand.
type App struct {
	cfg          config.ServerConfig
	logger       *slog.Logger
	httpServer   *http.Server
	shutdownWait time.Duration
}

// New constructs the daemon application.
func New(cfg config.ServerConfig, logger *slog.Logger, handler http.Handler) (*App, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}
	if handler == nil {
		return nil, fmt.Errorf("handler must not be nil")
	}

	httpServer := &http.Server{
		Addr:        cfg.ListenAddr,
		Handler:     handler,
		ReadTimeout: 30 * time.Second,
		// No WriteTimeout: the metrics WebSocket and large file downloads
		// outlive any fixed deadline. Upgraded connections are hijacked and
		// manage their own deadlines.
		IdleTimeout: 120 * time.Second,
	}

	return &App{
		cfg:          cfg,
		logger:       logger,
		httpServer:   httpServer,
		shutdownWait: 15 * time.Second,
	}, nil
}

// Run starts the HTTP server, blocking until context cancellation.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("api server listening", "addr", a.httpServer.Addr)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.shutdownWait)
		defer cancel()
		if err := a.httpServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("http shutdown", "error", err)
		}
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

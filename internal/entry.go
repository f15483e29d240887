// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/omniflow-labs/omniflow/internal/api"
	"github.com/omniflow-labs/omniflow/internal/dispatch"
	"github.com/omniflow-labs/omniflow/internal/history"
	"github.com/omniflow-labs/omniflow/internal/mcpserver"
	"github.com/omniflow-labs/omniflow/internal/namespace"
	"github.com/omniflow-labs/omniflow/internal/ops"
	"github.com/omniflow-labs/omniflow/internal/sse"
	"github.com/omniflow-labs/omniflow/internal/storage"
)

// buildDispatcher wires storage, operations, history, and the dispatcher
// from configuration. It is shared by the HTTP and MCP entry points.
func buildDispatcher(app *application, logger *slog.Logger) (*dispatch.Dispatcher, *namespace.Resolver, storage.Provider, func(), error) {
	cfg := app.config

	var (
		store   storage.Provider
		cleanup = func() {}
	)
	switch cfg.Storage.Backend {
	case StorageBackendSQLite:
		db, err := storage.OpenSQLite(cfg.Storage.SQLitePath)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("init sqlite storage: %w", err)
		}
		store = db
		cleanup = func() { _ = db.Close() }
	default:
		if err := os.MkdirAll(cfg.Storage.Path, 0o755); err != nil {
			return nil, nil, nil, nil, fmt.Errorf("create storage dir: %w", err)
		}
		fsStore, err := storage.NewFS(cfg.Storage.Path)
		if err != nil {
			return nil, nil, nil, nil, fmt.Errorf("init storage: %w", err)
		}
		store = fsStore
	}

	resolver := namespace.NewResolver(cfg.Namespace.Default)
	svc := ops.NewService(store, resolver)
	hist := history.NewLogger(store, logger)

	var proxy *dispatch.ProxyClient
	if cfg.Proxy.URL != "" {
		proxy = dispatch.NewProxyClient(cfg.Proxy.URL, cfg.Proxy.Timeout())
	}

	d := dispatch.NewDispatcher(svc, hist, proxy, app.responder, logger)
	return d, resolver, store, cleanup, nil
}

// Run starts the HTTP application with the given options.
func Run(ctx context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("storage_backend", cfg.Storage.Backend),
		slog.String("default_namespace", cfg.Namespace.Default),
		slog.String("log_level", cfg.App.LogLevel.String()))

	d, resolver, store, cleanup, err := buildDispatcher(app, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	// SSE broker for document change events.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	apiRouter := api.NewRouter(d, resolver, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker)

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:    cfg.App.HTTP.Address(),
		Handler: r,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// The change watcher only exists for the filesystem backend.
	if fsStore, ok := store.(*storage.FS); ok {
		g.Go(func() error {
			err := storage.Watch(gCtx, fsStore.Root(), logger, func(kind, ns, name string) {
				broker.PublishDocumentEvent(kind, ns, name)
			})
			if err != nil {
				logger.Warn("change watcher stopped", slog.String("error", err.Error()))
			}
			return nil
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunMCP starts the stdio MCP tool server with the given options.
func RunMCP(_ context.Context, opts ...Option) error {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return fmt.Errorf("config is required")
	}

	// Logs go to stderr so stdout stays clean for the MCP transport.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: app.config.App.LogLevel,
	}))
	slog.SetDefault(logger)

	d, resolver, _, cleanup, err := buildDispatcher(app, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	return mcpserver.New(d, resolver).ServeStdio()
}

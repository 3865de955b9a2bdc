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

	"github.com/starford/cctsync/internal/api"
	"github.com/starford/cctsync/internal/bulksync"
	"github.com/starford/cctsync/internal/catalog"
	"github.com/starford/cctsync/internal/flattener"
	"github.com/starford/cctsync/internal/jetdb"
	"github.com/starford/cctsync/internal/mcpserver"
	"github.com/starford/cctsync/internal/options"
	"github.com/starford/cctsync/internal/plugin"
	"github.com/starford/cctsync/internal/sse"
)

// runtime holds the opened stores and the wired plugin.
type runtime struct {
	cfg     *Config
	logger  *slog.Logger
	catalog *catalog.Catalog
	plugin  *plugin.Plugin
	closers []func() error
}

func (rt *runtime) close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		if err := rt.closers[i](); err != nil {
			rt.logger.Warn("close failed", slog.String("error", err.Error()))
		}
	}
}

func setup(opts []Option, pluginOpts ...plugin.Option) (*runtime, error) {
	app := &application{logOutput: os.Stdout}

	for _, opt := range opts {
		opt(app)
	}

	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}

	cfg := app.config

	// Initialize structured JSON logger.
	logger := slog.New(slog.NewJSONHandler(app.logOutput, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("host_driver", cfg.Host.Driver),
		slog.String("catalog_path", cfg.Catalog.Path),
		slog.String("log_level", cfg.App.LogLevel.String()))

	rt := &runtime{cfg: cfg, logger: logger}

	// Option store holding the mapping settings record.
	store, err := options.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init option store: %w", err)
	}
	rt.closers = append(rt.closers, store.Close)

	items, err := openHost(cfg.Host, logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("init host database: %w", err)
	}
	rt.closers = append(rt.closers, items.Close)

	rt.catalog, err = catalog.Load(cfg.Catalog.Path, logger)
	if err != nil {
		rt.close()
		return nil, fmt.Errorf("init catalog: %w", err)
	}

	pluginOpts = append(pluginOpts, plugin.WithBatchSize(cfg.Sync.BatchSize))
	rt.plugin = plugin.New(rt.catalog, items, store, logger, pluginOpts...)
	return rt, nil
}

func openHost(cfg HostConfig, logger *slog.Logger) (*jetdb.DB, error) {
	if cfg.Driver == DriverMySQL {
		return jetdb.OpenMySQL(jetdb.MySQLOptions{
			Host:     cfg.MySQL.Host,
			Port:     cfg.MySQL.Port,
			User:     cfg.MySQL.User,
			Password: cfg.MySQL.Password,
			Name:     cfg.MySQL.Name,
		}, cfg.TablePrefix, logger)
	}
	return jetdb.OpenSQLite(cfg.SQLite.Path, cfg.TablePrefix, logger)
}

// Run starts the HTTP server with the given options.
func Run(ctx context.Context, opts ...Option) error {
	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	rt, err := setup(opts, plugin.WithObserver(broker.PublishReport))
	if err != nil {
		return err
	}
	defer rt.close()

	cfg, logger := rt.cfg, rt.logger

	if cycles, err := rt.plugin.Cycles(ctx); err != nil {
		logger.Warn("cycle check failed", slog.String("error", err.Error()))
	} else if len(cycles) > 0 {
		logger.Warn("mapping cycles present", slog.Int("count", len(cycles)))
	}

	apiRouter := api.NewRouter(rt.plugin, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, broker)

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

	// Catalog watcher: a reload changes which relations and fields exist.
	if cfg.Catalog.Watch {
		g.Go(func() error {
			return rt.catalog.Watch(gCtx, func() {
				broker.Publish(sse.Event{Type: "catalog.reloaded", Data: map[string]string{"path": cfg.Catalog.Path}})
			})
		})
	}

	// Periodic bulk sync.
	if cfg.Sync.Schedule != "" {
		scheduler, err := bulksync.NewScheduler(rt.plugin.Syncer(), cfg.Sync.Schedule, logger)
		if err != nil {
			return err
		}
		g.Go(func() error {
			return scheduler.Run(gCtx)
		})
	}

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
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

		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher and scheduler stop with the
// HTTP server.
var errShutdown = errors.New("shutdown")

// RunSync re-saves every item of the mapped CCTs, or of one CCT when slug
// is set, and returns.
func RunSync(ctx context.Context, slug string, opts ...Option) error {
	rt, err := setup(opts, plugin.WithObserver(logFailedReport))
	if err != nil {
		return err
	}
	defer rt.close()

	var results []bulksync.BatchResult
	if slug != "" {
		res, err := rt.plugin.Syncer().SyncCCT(ctx, slug)
		if err != nil {
			return err
		}
		results = append(results, res)
	} else {
		results, err = rt.plugin.Syncer().SyncAll(ctx)
		if err != nil {
			return err
		}
	}

	failed := 0
	for _, res := range results {
		rt.logger.Info("Sync complete",
			slog.String("cct", res.CCT),
			slog.Int("processed", res.Processed),
			slog.Int("success", res.Success),
			slog.Int("unchanged", res.Unchanged),
			slog.Int("errors", res.Errors))
		failed += res.Errors
	}
	if failed > 0 {
		return fmt.Errorf("sync: %d items failed", failed)
	}
	return nil
}

func logFailedReport(r flattener.Report) {
	if r.Failed() {
		slog.Warn("propagation failed",
			slog.String("phase", string(r.Phase)),
			slog.String("cct", r.CCT),
			slog.Int64("item_id", r.ItemID),
			slog.String("error", r.Err.Error()))
	}
}

// RunMCP serves the MCP tools on stdin/stdout until the client disconnects.
func RunMCP(ctx context.Context, opts ...Option) error {
	opts = append([]Option{WithLogOutput(os.Stderr)}, opts...)
	rt, err := setup(opts)
	if err != nil {
		return err
	}
	defer rt.close()

	if rt.cfg.Catalog.Watch {
		watchCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := rt.catalog.Watch(watchCtx, nil); err != nil {
				rt.logger.Warn("catalog watcher failed", slog.String("error", err.Error()))
			}
		}()
	}

	rt.logger.Info("MCP server starting on stdio")
	return mcpserver.New(rt.plugin).ServeStdio()
}

// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/deckpack/internal/api"
	"github.com/starford/deckpack/internal/builder"
	"github.com/starford/deckpack/internal/connect"
	"github.com/starford/deckpack/internal/deckservice"
	"github.com/starford/deckpack/internal/index"
	"github.com/starford/deckpack/internal/mcpserver"
	"github.com/starford/deckpack/internal/sse"
	"github.com/starford/deckpack/internal/storage"
	"github.com/starford/deckpack/internal/watch"
)

// Run starts the HTTP server and the definitions watcher.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config
	logger := app.logger(os.Stdout)

	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("definitions", cfg.Workspace.Definitions),
		slog.String("media", cfg.Workspace.Media),
		slog.String("output", cfg.Workspace.Output),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.Bool("import_enabled", cfg.Connect.Enabled),
		slog.String("log_level", cfg.App.LogLevel.String()))

	ws, err := NewWorkspace(cfg, logger)
	if err != nil {
		return err
	}
	svc := ws.Service

	db, err := openIndex(cfg, ws, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	// Bring packages up to date before serving.
	if reports, err := svc.BuildAll(ctx, false); err != nil {
		logger.Warn("initial build incomplete", slog.String("error", err.Error()))
	} else {
		logger.Info("initial build finished", slog.Int("definitions", len(reports)))
	}

	// SSE broker.
	broker := sse.NewBroker(2 * time.Second)
	defer broker.Close()

	apiRouter := api.NewRouter(svc, cfg.Auth.AuthEnabled(), cfg.Auth.Token, broker, api.WithSearch(db))

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

	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	g, gCtx := errgroup.WithContext(ctx)

	// Rebuild on definition changes, keep the note index in step and forward
	// outcomes to SSE clients.
	g.Go(func() error {
		return watch.Watch(gCtx, svc, cfg.Workspace.Definitions, logger, func(ev watch.Event) {
			reindex(db, ws.Definitions, ev, logger)
			switch ev.Kind {
			case watch.KindRemoved:
				broker.PublishBuildEvent(sse.TypePackageRemoved, sse.BuildEvent{
					Definition: ev.Definition,
					Package:    deckservice.PackageName(ev.Definition),
				})
			default:
				broker.PublishBuildEvent(sse.BuildEventFor(ev.Definition, ev.Report, ev.Err))
			}
		})
	})

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
		defer signal.Stop(quit)

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
		return errShutdown
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errShutdown) {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// errShutdown cancels the group so the watcher stops with the server.
var errShutdown = errors.New("shutdown")

// RunMCP serves the workspace tools over stdio until stdin closes.
func RunMCP(_ context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	logger := app.logger(os.Stderr)

	ws, err := NewWorkspace(app.config, logger)
	if err != nil {
		return err
	}
	db, err := openIndex(app.config, ws, logger)
	if err != nil {
		return err
	}
	defer db.Close()

	logger.Info("MCP server starting", slog.String("definitions", app.config.Workspace.Definitions))
	return mcpserver.New(ws.Service, mcpserver.WithIndex(db)).ServeStdio()
}

// Workspace is the service over the configured directories.
type Workspace struct {
	Service     *deckservice.Service
	Definitions *storage.FS
}

// openIndex opens the note index and syncs it with the definitions on disk.
func openIndex(cfg *Config, ws *Workspace, logger *slog.Logger) (*index.DB, error) {
	db, err := index.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init index: %w", err)
	}
	if err := index.Sync(db, ws.Definitions, logger); err != nil {
		logger.Warn("initial index sync failed", slog.String("error", err.Error()))
	}
	return db, nil
}

// reindex applies one watcher outcome to the note index. Failed and removed
// definitions drop out of the index until they build again.
func reindex(db *index.DB, defs storage.Provider, ev watch.Event, logger *slog.Logger) {
	var err error
	switch ev.Kind {
	case watch.KindBuilt:
		var data []byte
		if data, err = defs.Read(ev.Definition); err == nil {
			err = index.IndexFile(db, ev.Definition, data)
		}
	default:
		err = db.DeleteDefinition(ev.Definition)
	}
	if err != nil {
		logger.Warn("index update failed", slog.String("path", ev.Definition), slog.String("error", err.Error()))
	}
}

// NewWorkspace creates the workspace directories and the service over them.
func NewWorkspace(cfg *Config, logger *slog.Logger) (*Workspace, error) {
	dirs := []struct {
		name string
		path string
	}{
		{"definitions", cfg.Workspace.Definitions},
		{"media", cfg.Workspace.Media},
		{"output", cfg.Workspace.Output},
	}
	stores := make([]*storage.FS, len(dirs))
	for i, d := range dirs {
		if err := os.MkdirAll(d.path, 0o755); err != nil {
			return nil, fmt.Errorf("create %s dir: %w", d.name, err)
		}
		fs, err := storage.NewFS(d.path)
		if err != nil {
			return nil, fmt.Errorf("init %s storage: %w", d.name, err)
		}
		stores[i] = fs
	}
	defs, media, output := stores[0], stores[1], stores[2]

	modTime, err := cfg.Build.ModTimeValue()
	if err != nil {
		return nil, err
	}
	b := builder.New(
		builder.WithMediaLibrary(media),
		builder.WithModTime(modTime),
		builder.WithTempDir(cfg.Build.TempDir),
		builder.WithLogger(logger),
	)

	svcOpts := []deckservice.Option{deckservice.WithLogger(logger)}
	if cfg.Connect.Enabled {
		client := connect.NewClient(cfg.Connect.ClientConfig())
		svcOpts = append(svcOpts, deckservice.WithImporter(connect.NewImporter(client,
			connect.WithMediaLibrary(media),
			connect.WithAllowDuplicate(cfg.Connect.AllowDuplicate),
			connect.WithLogger(logger),
		)))
	}
	return &Workspace{
		Service:     deckservice.NewService(defs, media, output, b, svcOpts...),
		Definitions: defs,
	}, nil
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

// logger installs the structured JSON logger as the default.
func (a *application) logger(fallback io.Writer) *slog.Logger {
	out := a.logOutput
	if out == nil {
		out = fallback
	}
	logger := slog.New(slog.NewJSONHandler(out, &slog.HandlerOptions{
		Level: a.config.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

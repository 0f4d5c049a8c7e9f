// Package server wires the level store together: it opens the storage
// backend, builds the services, serves the HTTP API and the gRPC health
// endpoint, and shuts everything down on SIGINT or SIGTERM.
package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/dmitrijs2005/levelstore/internal/logging"
	"github.com/dmitrijs2005/levelstore/internal/server/auth"
	"github.com/dmitrijs2005/levelstore/internal/server/config"
	"github.com/dmitrijs2005/levelstore/internal/server/httpapi"
	"github.com/dmitrijs2005/levelstore/internal/server/projects"
	"github.com/dmitrijs2005/levelstore/internal/server/state"

	gs "github.com/dmitrijs2005/levelstore/internal/server/grpc"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config   *config.Config
	logger   logging.Logger
	state    *state.State
	auth     *auth.Service
	projects *projects.Service
	grpc     *gs.GRPCServer
	http     *http.Server

	mu       sync.Mutex
	httpAddr net.Addr
}

// NewLogger builds the JSON logger used by the binaries.
func NewLogger(w io.Writer, level string) logging.Logger {
	return logging.NewJSONLogger(w, logging.ParseLevel(level, slog.LevelInfo))
}

func NewApp(ctx context.Context, c *config.Config, logger logging.Logger) (*App, error) {
	if logger == nil {
		logger = NewLogger(os.Stdout, c.LogLevel)
	}

	st, err := state.Open(ctx, c, logger)
	if err != nil {
		return nil, fmt.Errorf("storage init error: %w", err)
	}

	as := auth.NewService(st, auth.Options{
		MinPasswordLength: c.MinPasswordLength,
		SessionTTL:        c.SessionTTL,
	})
	ps := projects.NewService(st, projects.Options{Retention: c.BackupRetention})

	app := &App{
		config:   c,
		logger:   logger,
		state:    st,
		auth:     as,
		projects: ps,
		grpc:     gs.NewGRPCServer(c.HealthAddr, logger),
	}
	app.http = &http.Server{
		Addr: c.HTTPAddr,
		Handler: httpapi.NewRouter(httpapi.RouterConfig{
			Auth:     as,
			Projects: ps,
			Logger:   logger,
			Ready:    st.Ping,
			Metrics:  c.Metrics,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return app, nil
}

func (app *App) initSignalHandler(cancelFunc context.CancelFunc) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		<-sigs
		cancelFunc()
	}()
}

func (app *App) startGRPCServer(ctx context.Context, cancelFunc context.CancelFunc) {
	if err := app.grpc.Run(ctx); err != nil {
		app.logger.Error(ctx, "gRPC server failed", "error", err)
		cancelFunc()
	}
}

func (app *App) startHTTPServer(ctx context.Context, cancelFunc context.CancelFunc) {
	lis, err := net.Listen("tcp", app.http.Addr)
	if err != nil {
		app.logger.Error(ctx, "HTTP listen failed", "error", err)
		cancelFunc()
		return
	}
	app.mu.Lock()
	app.httpAddr = lis.Addr()
	app.mu.Unlock()

	go func() {
		<-ctx.Done()
		app.logger.Info(context.Background(), "Stopping HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := app.http.Shutdown(shutdownCtx); err != nil {
			app.logger.Warn(shutdownCtx, "HTTP shutdown", "error", err)
		}
	}()

	app.logger.Info(ctx, "Starting HTTP server", "address", lis.Addr().String())
	if err := app.http.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		app.logger.Error(ctx, "HTTP server failed", "error", err)
		cancelFunc()
	}
}

// HTTPAddr is the bound HTTP address once the server is listening.
func (app *App) HTTPAddr() net.Addr {
	app.mu.Lock()
	defer app.mu.Unlock()
	return app.httpAddr
}

// Run serves until ctx is cancelled or a signal arrives, then stops both
// servers and closes the store.
func (app *App) Run(ctx context.Context) error {
	ctx, cancelFunc := context.WithCancel(ctx)
	defer cancelFunc()

	app.logger.Info(ctx, "Starting app...")

	app.initSignalHandler(cancelFunc)

	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		app.startGRPCServer(ctx, cancelFunc)
	}()
	go func() {
		defer wg.Done()
		app.startHTTPServer(ctx, cancelFunc)
	}()

	if err := app.grpc.Listen(); err == nil {
		app.grpc.SetServing(true)
	}

	wg.Wait()

	app.logger.Info(context.Background(), "Closing storage...")
	return app.state.Close()
}

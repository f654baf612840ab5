package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/okian/baseline/internal/adapters/http/api"
	"github.com/okian/baseline/internal/app"
	"github.com/okian/baseline/internal/config"
	"github.com/okian/baseline/pkg/logger"
	"github.com/okian/baseline/pkg/metrics"
)

// HTTP server timeout constants.
const (
	readTimeout          = 10 * time.Second
	writeTimeout         = 35 * time.Second
	idleTimeout          = 60 * time.Second
	readHeaderTimeout    = 5 * time.Second
	shutdownTimeout      = 30 * time.Second
	statsRefreshInterval = 5 * time.Second
)

func main() {
	if err := run(); err != nil {
		os.Stderr.WriteString("baseline: " + err.Error() + "\n")
		os.Exit(1)
	}
}

func run() error {
	// Root context with cancel on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Load configuration (defaults -> optional file -> env)
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	if err := logger.Init(logger.WithJSON(cfg.LogJSON)); err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()
	log := logger.Get()

	// Apply configured log level (fallback to info on invalid input)
	if err := logger.SetLevelString(cfg.LogLevel); err != nil {
		log.Warn(ctx, "invalid log_level; falling back to info", logger.String("log_level", cfg.LogLevel), logger.Error(err))
		_ = logger.SetLevelString("info")
	}

	metrics.Init(metrics.WithStudy(cfg.StudyID))

	study, err := app.Open(ctx, app.FromConfig(cfg), app.WithLogger(logger.Named("app")))
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := study.Close(closeCtx); err != nil {
			log.Error(closeCtx, "study close failed", logger.Error(err))
		}
	}()

	go refreshStats(ctx, study, log)

	apiServer := api.NewServer(study,
		api.WithCORSOrigins(cfg.CORSOrigins),
		api.WithLogger(logger.Named("http")),
	)
	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Handler(),
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info(ctx, "starting HTTP server",
			logger.String("addr", cfg.Addr),
			logger.String("study", study.StudyID()),
			logger.String("server", study.ServerInfo().Name))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err, ok := <-errCh:
		if ok {
			return err
		}
	}
	log.Info(ctx, "shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(shutdownCtx, "server shutdown failed", logger.Error(err))
	}
	log.Info(shutdownCtx, "server stopped")
	return nil
}

// refreshStats keeps the gauges that are derived from the repository current.
func refreshStats(ctx context.Context, study *app.Context, log logger.Logger) {
	ticker := time.NewTicker(statsRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st, err := study.Stats(ctx)
			if err != nil {
				if !errors.Is(err, app.ErrClosed) {
					log.Warn(ctx, "stats refresh failed", logger.Error(err))
				}
				continue
			}
			metrics.UpdateUsers(st.Users)
			metrics.UpdateUnsyncedResults(st.Unsynced)
			metrics.UpdateQueueSize(st.QueueLength)
			metrics.UpdateWorkerCount(st.Workers)
		}
	}
}

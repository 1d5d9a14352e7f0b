// Package app wires the delivery engine together: storage, transport
// gateway, rate limiter, retry scheduler, dispatch worker and the
// webhook server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/MellowMango/email-campaign-automation-sub001/internal/config"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/dedup"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/dispatch"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/metrics"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/ratelimit"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/retry"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/store"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/transport"
	"github.com/MellowMango/email-campaign-automation-sub001/internal/webhook"
)

// App is the assembled delivery engine
type App struct {
	config        *config.Config
	db            *store.DB
	dedupStore    *dedup.Store
	worker        *dispatch.Worker
	server        *webhook.Server
	metricsServer *metrics.Server
	logger        *slog.Logger
}

// New creates a new application from configuration
func New(cfg *config.Config) (*App, error) {
	logger := SetupLogger(cfg.Logging)

	db, err := store.New(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if err := db.Migrate(); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	dedupStore, err := dedup.Open(cfg.Storage.DedupPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open dedup store: %w", err)
	}

	messages := store.NewMessageRepository(db)
	events := store.NewEventRepository(db)
	retries := store.NewRetryRepository(db)
	counters := store.NewCounterRepository(db)
	notifs := store.NewNotificationRepository(db)

	m := metrics.New()

	limiter := ratelimit.NewLimiter(counters, ratelimit.Config{
		Window:    cfg.RateLimit.Window,
		WindowMax: cfg.RateLimit.WindowMax,
		DailyMax:  cfg.RateLimit.DailyMax,
	}, logger.With("component", "ratelimit"), m)

	policy := retry.Policy{
		BaseDelay:  cfg.Retry.BaseDelay,
		MaxDelay:   cfg.Retry.MaxDelay,
		Jitter:     cfg.Retry.Jitter,
		MaxRetries: cfg.Retry.MaxRetries,
	}
	scheduler := retry.NewScheduler(retries, notifs, policy, logger.With("component", "retry"), m)

	gateway, err := buildGateway(cfg)
	if err != nil {
		return nil, err
	}

	worker := dispatch.NewWorker(messages, retries, events, scheduler, gateway, dispatch.Config{
		BatchSize:     cfg.Dispatch.BatchSize,
		SendTimeout:   cfg.Transport.SendTimeout,
		StaleAfter:    cfg.Dispatch.StaleAfter,
		TransportName: cfg.Transport.Mode,
	}, logger.With("component", "dispatch"), m)

	processor := webhook.NewProcessor(messages, events, dedupStore, scheduler,
		logger.With("component", "webhook"), m)

	server := webhook.NewServer(&cfg.Server, &cfg.Webhook, limiter, processor, worker,
		messages, logger.With("component", "http"))

	var metricsServer *metrics.Server
	if cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(m, cfg.Metrics.ListenAddr, cfg.Metrics.Path,
			logger.With("component", "metrics"))
	}

	return &App{
		config:        cfg,
		db:            db,
		dedupStore:    dedupStore,
		worker:        worker,
		server:        server,
		metricsServer: metricsServer,
		logger:        logger,
	}, nil
}

// buildGateway selects the transport gateway implementation
func buildGateway(cfg *config.Config) (transport.Gateway, error) {
	switch cfg.Transport.Mode {
	case "http":
		return transport.NewHTTPGateway(
			cfg.Transport.HTTP.BaseURL,
			cfg.Transport.HTTP.APIKey,
			cfg.Transport.HTTP.From,
			cfg.Transport.SendTimeout,
		), nil
	case "smtp":
		gw := transport.NewSMTPGateway(transport.SMTPOptions{
			Host:     cfg.Transport.SMTP.Host,
			Port:     cfg.Transport.SMTP.Port,
			Username: cfg.Transport.SMTP.Username,
			Password: cfg.Transport.SMTP.Password,
			From:     cfg.Transport.SMTP.From,
			Hostname: cfg.Transport.SMTP.Hostname,
			Timeout:  cfg.Transport.SendTimeout,
		})
		if cfg.Transport.SMTP.DKIM.Enabled {
			if err := gw.EnableDKIM(
				cfg.Transport.SMTP.DKIM.Domain,
				cfg.Transport.SMTP.DKIM.Selector,
				cfg.Transport.SMTP.DKIM.KeyFile,
			); err != nil {
				return nil, err
			}
		}
		return gw, nil
	default:
		return nil, fmt.Errorf("unknown transport mode: %s", cfg.Transport.Mode)
	}
}

// Run starts the servers and the in-process dispatch loop, blocking
// until the context is cancelled
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	if a.metricsServer != nil {
		go func() {
			if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				errCh <- err
			}
		}()
	}

	go a.dispatchLoop(ctx)

	select {
	case <-ctx.Done():
	case err := <-errCh:
		a.logger.Error("server error", "error", err)
		a.shutdown()
		return err
	}

	a.shutdown()
	return nil
}

// dispatchLoop runs periodic dispatch batches and stale sweeps
func (a *App) dispatchLoop(ctx context.Context) {
	ticker := time.NewTicker(a.config.Dispatch.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if swept, err := a.worker.SweepStale(ctx); err != nil {
				a.logger.Error("stale sweep failed", "error", err)
			} else if swept > 0 {
				a.logger.Info("stale messages swept", "count", swept)
			}

			result, err := a.worker.RunBatch(ctx)
			if err != nil {
				a.logger.Error("dispatch batch failed", "error", err)
				continue
			}
			if result.Processed > 0 {
				a.logger.Info("dispatch batch complete", "processed", result.Processed)
			}
		}
	}
}

func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("failed to shut down webhook server", "error", err)
	}
	if a.metricsServer != nil {
		if err := a.metricsServer.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("failed to shut down metrics server", "error", err)
		}
	}
	a.Close()
}

// RunDispatchOnce runs a single dispatch batch, for the subcommand and
// external schedulers
func (a *App) RunDispatchOnce(ctx context.Context) (*dispatch.BatchResult, error) {
	return a.worker.RunBatch(ctx)
}

// RunSweepOnce runs a single stale-processing sweep
func (a *App) RunSweepOnce(ctx context.Context) (int, error) {
	return a.worker.SweepStale(ctx)
}

// Logger returns the application logger
func (a *App) Logger() *slog.Logger {
	return a.logger
}

// Close releases storage handles
func (a *App) Close() {
	if err := a.dedupStore.Close(); err != nil {
		a.logger.Error("failed to close dedup store", "error", err)
	}
	if err := a.db.Close(); err != nil {
		a.logger.Error("failed to close database", "error", err)
	}
}

// SetupLogger builds the application logger from config
func SetupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	}
	return slog.New(handler)
}

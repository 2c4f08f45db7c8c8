package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/craftfolio/mailroom/config"
	"github.com/craftfolio/mailroom/internal/observability/statsd"
)

// ServiceOrchestrationConfig groups the runtime pieces RunServicesWithShutdown needs.
type ServiceOrchestrationConfig struct {
	Config   *config.AppConfig
	Services *ServiceContainer
	Logger   *slog.Logger
}

// RunServicesWithShutdown starts every enabled service and blocks until
// SIGINT/SIGTERM or the first service failure, then shuts everything down.
func RunServicesWithShutdown(cfg *ServiceOrchestrationConfig) error {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	group, gctx := errgroup.WithContext(ctx)

	if cfg.Config.IsMailRunnerEnabled() && cfg.Services.Runner != nil {
		group.Go(func() error {
			return cfg.Services.Runner.Run(gctx)
		})
	}

	if cfg.Config.IsSweeperEnabled() {
		group.Go(func() error {
			return cfg.Services.Sweeper.Run(gctx)
		})
	}

	if cfg.Config.IsHTTPServerEnabled() {
		server := StartHTTPServer(&HTTPServerConfig{
			Config:   cfg.Config,
			Services: cfg.Services,
			Logger:   logger,
		})
		group.Go(func() error {
			<-gctx.Done()
			return ShutdownHTTPServer(ShutdownConfig{
				Context:    context.Background(),
				Server:     server,
				JobService: cfg.Services.Jobs,
				Timeout:    cfg.Config.HTTP.ShutdownTimeout,
				Logger:     logger,
			})
		})
	}

	err := group.Wait()

	// The mail runner owns the listener subscriptions; stop whatever is left.
	cfg.Services.Jobs.StopAllListeners()
	if c, ok := cfg.Services.Metrics.(*statsd.Client); ok {
		if cerr := c.Close(); cerr != nil {
			logger.Error("close metrics sink failed", "error", cerr)
		}
	}

	if err != nil && ctx.Err() == nil {
		return err
	}
	logger.Info("shutdown complete")
	return nil
}

package bootstrap

import (
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/craftfolio/mailroom/config"
	"github.com/craftfolio/mailroom/internal/adapters/mailrunner"
	smtptransport "github.com/craftfolio/mailroom/internal/adapters/smtp"
	"github.com/craftfolio/mailroom/internal/adapters/templates"
	"github.com/craftfolio/mailroom/internal/core"
	"github.com/craftfolio/mailroom/internal/data"
	"github.com/craftfolio/mailroom/internal/observability/statsd"
	"github.com/craftfolio/mailroom/internal/service"
)

// ServiceContainer holds the constructed services and adapters.
type ServiceContainer struct {
	Jobs          *service.JobService
	Notifications *service.NotificationService
	Dispatcher    *service.DispatcherService
	Sender        *service.EmailSendService
	Bounces       *service.BounceService
	Sweeper       *service.SweeperService
	Runner        *mailrunner.Runner

	Logs    core.DeliveryLogRepository
	Metrics statsd.Sink
}

// ServiceDependencies carries the external resources services are built on.
type ServiceDependencies struct {
	Config *config.AppConfig
	DB     *sql.DB
	Redis  redis.UniversalClient
	Logger *slog.Logger

	// Templates overrides the default template registry. Nil uses the
	// built-in set.
	Templates core.TemplateRenderer
	// Transport overrides the SMTP transport, primarily for tests.
	Transport core.MailTransport
}

// BuildServices constructs the full service graph.
func BuildServices(deps ServiceDependencies) (*ServiceContainer, error) {
	if deps.Config == nil {
		return nil, fmt.Errorf("config is required")
	}
	if deps.DB == nil {
		return nil, fmt.Errorf("database handle is required")
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	cfg := deps.Config

	metricsSink, err := statsd.NewClient(statsd.Config{
		Enabled: cfg.Observability.IsEnabled(),
		Address: cfg.Observability.StatsdAddress,
		Prefix:  "mailroom",
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init metrics sink: %w", err)
	}

	jobRepo := data.NewJobRepo(deps.DB, data.JobRepoConfig{Logger: logger})
	logRepo := data.NewDeliveryLogRepo(deps.DB, data.DeliveryLogRepoConfig{Logger: logger})
	notificationRepo := data.NewNotificationRepo(deps.DB, data.NotificationRepoConfig{Logger: logger})
	recipientRepo := data.NewRecipientRepo(deps.DB)
	brandRepo := data.NewBrandRepo(deps.DB)

	jobs, err := service.NewJobService(service.JobServiceOptions{
		Repo:         jobRepo,
		DefaultLease: cfg.MailRunner.JobLease,
		Logger:       logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init job service: %w", err)
	}

	renderer := deps.Templates
	if renderer == nil {
		renderer = templates.DefaultRegistry()
	}
	transport := deps.Transport
	if transport == nil {
		transport = smtptransport.NewTransport(smtptransport.TransportOptions{
			Logger:      logger,
			SendTimeout: cfg.MailRunner.SendTimeout,
		})
	}

	sender, err := service.NewEmailSendService(service.EmailSendServiceOptions{
		Logs:          logRepo,
		Notifications: notificationRepo,
		Brands:        brandRepo,
		Renderer:      renderer,
		Transport:     transport,
		Jobs:          jobs,
		Logger:        logger,
		Metrics:       metricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("init email send service: %w", err)
	}

	dispatcher, err := service.NewDispatcherService(service.DispatcherOptions{
		Notifications: notificationRepo,
		Recipients:    recipientRepo,
		Jobs:          jobs,
		Config:        cfg.Dispatcher,
		Logger:        logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init dispatcher service: %w", err)
	}

	notifications, err := service.NewNotificationService(service.NotificationServiceOptions{
		Repo:   notificationRepo,
		Logger: logger,
	})
	if err != nil {
		return nil, fmt.Errorf("init notification service: %w", err)
	}

	bounces, err := service.NewBounceService(service.BounceServiceOptions{
		Logs:          logRepo,
		Notifications: notificationRepo,
		Logger:        logger,
		Metrics:       metricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("init bounce service: %w", err)
	}

	sweeper, err := service.NewSweeperService(service.SweeperServiceOptions{
		Notifications: notificationRepo,
		Jobs:          jobRepo,
		Config:        cfg.Sweeper,
		Logger:        logger,
		Metrics:       metricsSink,
	})
	if err != nil {
		return nil, fmt.Errorf("init sweeper service: %w", err)
	}

	container := &ServiceContainer{
		Jobs:          jobs,
		Notifications: notifications,
		Dispatcher:    dispatcher,
		Sender:        sender,
		Bounces:       bounces,
		Sweeper:       sweeper,
		Logs:          logRepo,
		Metrics:       metricsSink,
	}

	if cfg.IsMailRunnerEnabled() {
		runner, err := buildRunner(cfg, deps.Redis, container, logger)
		if err != nil {
			return nil, err
		}
		container.Runner = runner
	}

	return container, nil
}

func buildRunner(
	cfg *config.AppConfig,
	redisClient redis.UniversalClient,
	container *ServiceContainer,
	logger *slog.Logger,
) (*mailrunner.Runner, error) {
	var limiter core.RateLimiter
	if cfg.MailRunner.RateLimitPerSecond > 0 {
		if redisClient == nil {
			return nil, fmt.Errorf("mail runner rate limiting requires a redis connection")
		}
		limiter = data.NewRedisRateLimiter(redisClient, data.RedisRateLimiterConfig{
			MaxPerWindow: cfg.MailRunner.RateLimitPerSecond,
			Window:       time.Second,
		})
	}

	runner, err := mailrunner.NewRunner(mailrunner.RunnerOptions{
		Jobs:        container.Jobs,
		Sender:      container.Sender,
		Logs:        container.Logs,
		Logger:      logger,
		Limiter:     limiter,
		Metrics:     container.Metrics,
		Lease:       cfg.MailRunner.JobLease,
		Concurrency: cfg.MailRunner.Concurrency,
		IdlePoll:    cfg.MailRunner.IdlePollInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("init mail runner: %w", err)
	}
	return runner, nil
}

package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ServiceMode represents the available service modes.
type ServiceMode string

const (
	// ServiceModeHTTP runs the HTTP server.
	ServiceModeHTTP ServiceMode = "http"
	// ServiceModeMailRunner runs the email delivery job runner.
	ServiceModeMailRunner ServiceMode = "mail-runner"
	// ServiceModeSweeper runs the expiry and cleanup sweeper.
	ServiceModeSweeper ServiceMode = "sweeper"
)

// ValidServiceModes returns all valid service mode names.
func ValidServiceModes() []ServiceMode {
	return []ServiceMode{
		ServiceModeHTTP,
		ServiceModeMailRunner,
		ServiceModeSweeper,
	}
}

// ParseServices parses a comma-delimited string of service names and returns
// the enabled services. It validates that all names are valid.
func ParseServices(servicesStr string) (map[ServiceMode]bool, error) {
	services := make(map[ServiceMode]bool)

	if servicesStr == "" {
		return services, errors.New("at least one service must be specified")
	}

	for _, part := range strings.Split(servicesStr, ",") {
		serviceName := strings.TrimSpace(part)
		if serviceName == "" {
			continue
		}

		mode := ServiceMode(serviceName)
		switch mode {
		case ServiceModeHTTP, ServiceModeMailRunner, ServiceModeSweeper:
			services[mode] = true
		default:
			return nil, fmt.Errorf(
				"invalid service name: %q (valid options: http, mail-runner, sweeper)",
				serviceName,
			)
		}
	}

	if len(services) == 0 {
		return nil, errors.New("at least one valid service must be specified")
	}

	return services, nil
}

// DispatcherConfig contains notification dispatcher configuration.
type DispatcherConfig struct {
	// DefaultBrandID is used when a dispatch request names no brand.
	DefaultBrandID string `env:"DISPATCHER_DEFAULT_BRAND_ID" envDefault:""`

	// DefaultTTL is applied when a dispatch request carries no expiry.
	DefaultTTL time.Duration `env:"DISPATCHER_DEFAULT_TTL" envDefault:"720h"` // 30 days

	// EmailJobPriority is the queue priority for dispatcher-enqueued email
	// jobs. Lower values are reserved more eagerly.
	EmailJobPriority int `env:"DISPATCHER_EMAIL_JOB_PRIORITY" envDefault:"2"`
}

// Sanitize applies guardrails to dispatcher configuration values.
func (d *DispatcherConfig) Sanitize() {
	if d.DefaultTTL <= 0 {
		d.DefaultTTL = 720 * time.Hour
	}
	if d.EmailJobPriority < 0 {
		d.EmailJobPriority = 0
	}
	if d.EmailJobPriority > 100 {
		d.EmailJobPriority = 100
	}
}

// SweeperConfig contains sweeper service configuration.
type SweeperConfig struct {
	// Interval is the sweeper tick interval.
	Interval time.Duration `env:"SWEEPER_INTERVAL" envDefault:"5m"`

	// ExpiredRetention is how long expired notifications are kept before deletion.
	ExpiredRetention time.Duration `env:"SWEEPER_EXPIRED_RETENTION" envDefault:"168h"` // 7 days

	// FinishedJobMaxAge is the maximum age for completed and failed jobs before deletion.
	FinishedJobMaxAge time.Duration `env:"SWEEPER_FINISHED_JOB_MAX_AGE" envDefault:"168h"` // 7 days

	// BatchSize is the maximum number of rows to process per operation.
	// Batching prevents long locks and I/O spikes on large tables.
	BatchSize int `env:"SWEEPER_BATCH_SIZE" envDefault:"1000"`
}

// Sanitize applies guardrails to sweeper configuration values.
func (s *SweeperConfig) Sanitize() {
	// Enforce minimum intervals to prevent excessive database load
	if s.Interval < 1*time.Minute {
		s.Interval = 1 * time.Minute
	}
	if s.ExpiredRetention < 1*time.Hour {
		s.ExpiredRetention = 1 * time.Hour
	}
	if s.FinishedJobMaxAge < 1*time.Hour {
		s.FinishedJobMaxAge = 1 * time.Hour
	}
	if s.BatchSize < 1 {
		s.BatchSize = 1
	}
	if s.BatchSize > 10000 {
		s.BatchSize = 10000
	}
}

// ObservabilityConfig controls emission of metrics to external sinks such as StatsD.
type ObservabilityConfig struct {
	MetricsEnabled bool   `env:"OBSERVABILITY_METRICS_ENABLED"        envDefault:"false"`
	StatsdAddress  string `env:"OBSERVABILITY_METRICS_STATSD_ADDRESS" envDefault:"127.0.0.1:8125"`
}

// Sanitize normalises derived fields and enforces safe defaults.
func (c *ObservabilityConfig) Sanitize() {
	c.StatsdAddress = strings.TrimSpace(c.StatsdAddress)
	if c.StatsdAddress == "" {
		c.MetricsEnabled = false
	}
}

// IsEnabled returns true when metrics emission is active after sanitisation.
func (c *ObservabilityConfig) IsEnabled() bool {
	return c.MetricsEnabled && c.StatsdAddress != ""
}

package config

import "time"

// MailRunnerConfig contains mail runner service configuration.
type MailRunnerConfig struct {
	// Concurrency is the number of worker goroutines draining the queue.
	Concurrency int `env:"MAIL_RUNNER_CONCURRENCY" envDefault:"4"`

	// JobLease is the duration to lease a send job. Workers heartbeat while
	// transmitting; an expired lease hands the job to another worker.
	JobLease time.Duration `env:"MAIL_RUNNER_JOB_LEASE" envDefault:"30s"`

	// SendTimeout bounds one SMTP transmit, including dial and handshake.
	SendTimeout time.Duration `env:"MAIL_RUNNER_SEND_TIMEOUT" envDefault:"30s"`

	// IdlePollInterval is the fallback wake-up when no queue notification
	// arrives. Notifications normally wake workers immediately.
	IdlePollInterval time.Duration `env:"MAIL_RUNNER_IDLE_POLL_INTERVAL" envDefault:"15s"`

	// RateLimitPerSecond caps sends across all workers and instances.
	// Zero disables the limiter.
	RateLimitPerSecond int `env:"MAIL_RUNNER_RATE_LIMIT_PER_SECOND" envDefault:"10"`
}

// Sanitize applies guardrails to mail runner configuration values.
func (m *MailRunnerConfig) Sanitize() {
	if m.Concurrency < 1 {
		m.Concurrency = 1
	}
	if m.JobLease < 5*time.Second {
		m.JobLease = 5 * time.Second
	}
	if m.SendTimeout <= 0 {
		m.SendTimeout = 30 * time.Second
	}
	if m.IdlePollInterval < time.Second {
		m.IdlePollInterval = time.Second
	}
	if m.RateLimitPerSecond < 0 {
		m.RateLimitPerSecond = 0
	}
}

package steward

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds runtime configuration for a Steward instance. Values are
// loaded from the environment via LoadConfig and validated at startup;
// a missing required value is a fatal configuration error.
type Config struct {
	// Concurrency is the maximum number of workflow instances advanced
	// concurrently by the orchestrator pool.
	Concurrency int `env:"STEWARD_CONCURRENCY" envDefault:"8"`

	// SweepInterval is how often the scheduler scans for due triggers
	// and retryable instances.
	SweepInterval time.Duration `env:"STEWARD_SWEEP_INTERVAL" envDefault:"5s"`

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration `env:"STEWARD_SHUTDOWN_TIMEOUT" envDefault:"30s"`

	// Retry is the default retry policy applied to integration calls and
	// cross-invocation step retries unless a step overrides it.
	Retry RetryConfig

	// IdempotencyTTL is how long terminal outcomes are retained in the
	// idempotency store before they become eligible for purging.
	IdempotencyTTL time.Duration `env:"STEWARD_IDEMPOTENCY_TTL" envDefault:"72h"`

	// StateStoreURL is the connection string for the workflow state store
	// (postgres://... or mongodb://...). Required.
	StateStoreURL string `env:"STEWARD_STATE_STORE_URL"`

	// CacheURL is the connection string for the volatile cache
	// (redis://...). Optional; without it the engine runs cache-less,
	// which only affects latency.
	CacheURL string `env:"STEWARD_CACHE_URL"`

	// Providers holds per-provider endpoints and credentials.
	Providers ProviderConfig
}

// RetryConfig holds the backoff parameters shared by the integration
// client (intra-call retries) and the orchestrator (cross-invocation
// retries).
type RetryConfig struct {
	BaseDelay   time.Duration `env:"STEWARD_RETRY_BASE_DELAY" envDefault:"1s"`
	MaxDelay    time.Duration `env:"STEWARD_RETRY_MAX_DELAY" envDefault:"1m"`
	MaxAttempts int           `env:"STEWARD_RETRY_MAX_ATTEMPTS" envDefault:"3"`
}

// ProviderConfig holds endpoints and credentials for the external
// collaborators. A provider whose endpoint is empty is simply not
// registered; credentials are required only for registered providers.
type ProviderConfig struct {
	TrainingConnectURL   string `env:"TRAINING_CONNECT_URL"`
	TrainingConnectToken string `env:"TRAINING_CONNECT_TOKEN"`

	PaymentURL    string `env:"PAYMENT_GATEWAY_URL"`
	PaymentAPIKey string `env:"PAYMENT_GATEWAY_API_KEY"`

	SMSAccountID string `env:"SMS_ACCOUNT_ID"`
	SMSAuthToken string `env:"SMS_AUTH_TOKEN"`
	SMSSender    string `env:"SMS_SENDER" envDefault:"Safety Training"`

	MailRelayURL   string `env:"MAIL_RELAY_URL"`
	MailRelayToken string `env:"MAIL_RELAY_TOKEN"`
	MailFrom       string `env:"MAIL_FROM"`
}

// DefaultConfig returns a Config with sensible defaults and no
// provider or store endpoints.
func DefaultConfig() Config {
	return Config{
		Concurrency:     8,
		SweepInterval:   5 * time.Second,
		ShutdownTimeout: 30 * time.Second,
		Retry: RetryConfig{
			BaseDelay:   1 * time.Second,
			MaxDelay:    1 * time.Minute,
			MaxAttempts: 3,
		},
		IdempotencyTTL: 72 * time.Hour,
	}
}

// LoadConfig reads configuration from the environment and validates it.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("steward: parse environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required values are present and bounds are sane.
func (c Config) Validate() error {
	if c.StateStoreURL == "" {
		return fmt.Errorf("steward: STEWARD_STATE_STORE_URL is required")
	}
	if c.Concurrency <= 0 {
		return fmt.Errorf("steward: concurrency must be positive, got %d", c.Concurrency)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("steward: sweep interval must be positive, got %s", c.SweepInterval)
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("steward: retry max attempts must be positive, got %d", c.Retry.MaxAttempts)
	}
	if c.Retry.BaseDelay <= 0 || c.Retry.MaxDelay < c.Retry.BaseDelay {
		return fmt.Errorf("steward: retry delays invalid: base %s, max %s", c.Retry.BaseDelay, c.Retry.MaxDelay)
	}
	if c.Providers.PaymentURL != "" && c.Providers.PaymentAPIKey == "" {
		return fmt.Errorf("steward: PAYMENT_GATEWAY_API_KEY is required when a payment gateway is configured")
	}
	if c.Providers.SMSAccountID != "" && c.Providers.SMSAuthToken == "" {
		return fmt.Errorf("steward: SMS_AUTH_TOKEN is required when an SMS account is configured")
	}
	return nil
}

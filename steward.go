package steward

import (
	"context"
	"log/slog"
)

// Option configures a Steward.
type Option func(*Steward) error

// Storer is the minimal store interface held by the Steward.
// It covers lifecycle operations only. The full composite interface
// (store.Store) is used in subsystem layers that don't create import
// cycles. Implementations satisfy store.Store which embeds all
// subsystem stores.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is an internal interface for the orchestration runtime
// (scheduler + orchestrator pool) lifecycle.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Steward is the central coordinator for workflow orchestration:
// it holds configuration, the persistence backend, and the runtime
// built by the engine package.
//
// Create one with New() and functional options, then use engine.Build
// to wire registries, clients, the orchestrator, the scheduler, and
// the webhook ingress on top of it.
type Steward struct {
	config  Config
	logger  *slog.Logger
	store   Storer
	runtime runner

	started bool
}

// New creates a new Steward with the given options.
func New(opts ...Option) (*Steward, error) {
	s := &Steward{
		config: DefaultConfig(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Logger returns the steward's logger.
func (s *Steward) Logger() *slog.Logger { return s.logger }

// Store returns the steward's store.
func (s *Steward) Store() Storer { return s.store }

// Config returns a copy of the steward's configuration.
func (s *Steward) Config() Config { return s.config }

// SetRuntime sets the orchestration runtime (called by engine.Build).
func (s *Steward) SetRuntime(r runner) { s.runtime = r }

// SetStore sets the persistence backend (called by engine.Build when
// the steward was created without one and the backend is opened from
// Config.StateStoreURL).
func (s *Steward) SetStore(st Storer) { s.store = st }

// Start begins trigger scheduling and instance processing.
func (s *Steward) Start(ctx context.Context) error {
	if s.runtime == nil {
		return ErrNoStore
	}
	if err := s.runtime.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop gracefully shuts down the steward.
func (s *Steward) Stop(ctx context.Context) error {
	if s.runtime != nil && s.started {
		if err := s.runtime.Stop(ctx); err != nil {
			s.logger.Error("runtime stop error", "error", err)
		}
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithConfig replaces the entire configuration. The config is validated
// lazily by engine.Build, not here, so partially-populated configs can
// still be amended by later options.
func WithConfig(cfg Config) Option {
	return func(s *Steward) error {
		s.config = cfg
		return nil
	}
}

// WithConcurrency sets the maximum number of concurrently advanced
// workflow instances.
func WithConcurrency(n int) Option {
	return func(s *Steward) error {
		s.config.Concurrency = n
		return nil
	}
}

// WithLogger sets the structured logger for the steward.
func WithLogger(l *slog.Logger) Option {
	return func(s *Steward) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the persistence backend for the steward.
// The store must implement Storer at minimum; typically it will be a
// store.Store which embeds all subsystem store interfaces.
func WithStore(st Storer) Option {
	return func(s *Steward) error {
		s.store = st
		return nil
	}
}

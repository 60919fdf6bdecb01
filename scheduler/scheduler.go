package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/workflow"
)

// CreateFunc is the callback the scheduler uses to create instances.
// This breaks the import cycle: the engine provides the orchestrator's
// CreateInstance.
type CreateFunc func(ctx context.Context, definition string, input []byte, triggerFiring string) (*workflow.Instance, error)

// Submitter hands freshly created instances to the orchestrator pool.
// The pool satisfies this interface.
type Submitter interface {
	Submit(inst *workflow.Instance)
}

// cronParser supports standard 5-field cron and descriptors like
// "@every 30s".
var cronParser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseSchedule parses a cron expression.
func ParseSchedule(expr string) (cronlib.Schedule, error) {
	return cronParser.Parse(expr)
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithSweepInterval sets how often the scheduler checks for due
// triggers.
func WithSweepInterval(d time.Duration) Option {
	return func(s *Scheduler) { s.sweepInterval = d }
}

// WithLockTTL sets the TTL for per-trigger firing locks.
func WithLockTTL(d time.Duration) Option {
	return func(s *Scheduler) { s.lockTTL = d }
}

// WithFiringConcurrency caps how many triggers fire concurrently in
// one sweep.
func WithFiringConcurrency(n int) Option {
	return func(s *Scheduler) { s.firingConcurrency = n }
}

// Scheduler owns the trigger sweep loop.
type Scheduler struct {
	store     Store
	create    CreateFunc
	pool      Submitter
	sweeperID id.SweeperID
	logger    *slog.Logger

	sweepInterval     time.Duration
	lockTTL           time.Duration
	firingConcurrency int

	// parsed caches compiled cron expressions by expression text.
	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// New creates a Scheduler. pool may be nil; freshly created instances
// are then left pending for the next ListDue poll instead of being
// handed over immediately.
func New(store Store, create CreateFunc, pool Submitter, logger *slog.Logger, opts ...Option) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		store:             store,
		create:            create,
		pool:              pool,
		sweeperID:         id.NewSweeperID(),
		logger:            logger,
		sweepInterval:     5 * time.Second,
		lockTTL:           30 * time.Second,
		firingConcurrency: 4,
		parsed:            make(map[string]cronlib.Schedule),
		stopCh:            make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register validates and persists a trigger, computing its first fire
// time from the cron expression.
func (s *Scheduler) Register(ctx context.Context, t *Trigger) error {
	sched, err := s.schedule(t.Schedule)
	if err != nil {
		return fmt.Errorf("scheduler: register %q: parse %q: %w", t.Name, t.Schedule, err)
	}
	if t.Definition == "" {
		return fmt.Errorf("scheduler: register %q: no workflow definition", t.Name)
	}

	if t.ID.IsNil() {
		t.ID = id.NewTriggerID()
	}
	t.Entity = steward.NewEntity()
	next := sched.Next(time.Now().UTC())
	t.NextFireAt = &next

	if err := s.store.RegisterTrigger(ctx, t); err != nil {
		return fmt.Errorf("scheduler: register %q: %w", t.Name, err)
	}

	s.logger.Info("trigger registered",
		slog.String("trigger_id", t.ID.String()),
		slog.String("name", t.Name),
		slog.String("schedule", t.Schedule),
		slog.Time("next_fire_at", next),
	)
	return nil
}

// Start launches the sweep loop. It returns immediately.
func (s *Scheduler) Start(_ context.Context) error {
	s.wg.Add(1)
	go s.sweepLoop()
	s.logger.Info("scheduler started",
		slog.String("sweeper_id", s.sweeperID.String()),
		slog.Duration("sweep_interval", s.sweepInterval),
	)
	return nil
}

// Stop signals the sweep loop to stop and waits for it to finish.
func (s *Scheduler) Stop(_ context.Context) error {
	close(s.stopCh)
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) sweepLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.Sweep(context.Background())
		}
	}
}

// Sweep fires every due trigger once. Re-running an interrupted sweep
// is safe: instance creation is deduplicated on the firing key, and
// terminal side effects are deduplicated by the integration clients.
func (s *Scheduler) Sweep(ctx context.Context) {
	triggers, err := s.store.ListTriggers(ctx)
	if err != nil {
		s.logger.Error("list triggers", slog.String("error", err.Error()))
		return
	}

	now := time.Now().UTC()
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.firingConcurrency)

	for _, t := range triggers {
		if !t.Due(now) {
			continue
		}
		g.Go(func() error {
			s.fire(ctx, t, now)
			return nil
		})
	}
	_ = g.Wait()
}

// fire creates one instance for a due trigger and moves its schedule
// forward.
func (s *Scheduler) fire(ctx context.Context, t *Trigger, now time.Time) {
	acquired, err := s.store.AcquireTriggerLock(ctx, t.ID, s.sweeperID, s.lockTTL)
	if err != nil {
		s.logger.Error("acquire trigger lock",
			slog.String("trigger", t.Name),
			slog.String("error", err.Error()),
		)
		return
	}
	if !acquired {
		return
	}
	defer func() {
		if err := s.store.ReleaseTriggerLock(ctx, t.ID, s.sweeperID); err != nil {
			s.logger.Error("release trigger lock",
				slog.String("trigger", t.Name),
				slog.String("error", err.Error()),
			)
		}
	}()

	scheduled := now
	if t.NextFireAt != nil {
		scheduled = *t.NextFireAt
	}

	inst, err := s.create(ctx, t.Definition, t.Input, t.FiringKey(scheduled))
	switch {
	case err == nil:
		s.logger.Info("trigger fired",
			slog.String("trigger", t.Name),
			slog.String("instance_id", inst.ID.String()),
			slog.Time("scheduled", scheduled),
		)
		if s.pool != nil {
			s.pool.Submit(inst)
		}
	case errors.Is(err, steward.ErrInstanceExists):
		// An interrupted sweep already created this firing; only the
		// bookkeeping below still needs to happen.
		s.logger.Debug("firing already created",
			slog.String("trigger", t.Name),
			slog.Time("scheduled", scheduled),
		)
	default:
		s.logger.Error("trigger firing failed",
			slog.String("trigger", t.Name),
			slog.String("error", err.Error()),
		)
		return
	}

	sched, err := s.schedule(t.Schedule)
	if err != nil {
		s.logger.Error("unparseable schedule on stored trigger",
			slog.String("trigger", t.Name),
			slog.String("schedule", t.Schedule),
			slog.String("error", err.Error()),
		)
		return
	}

	next := sched.Next(now)
	t.LastFiredAt = &now
	t.NextFireAt = &next
	t.Touch()
	if err := s.store.UpdateTrigger(ctx, t); err != nil {
		s.logger.Error("update trigger after firing",
			slog.String("trigger", t.Name),
			slog.String("error", err.Error()),
		)
	}
}

// schedule returns the compiled schedule for an expression, caching
// successful parses.
func (s *Scheduler) schedule(expr string) (cronlib.Schedule, error) {
	s.parsedMu.RLock()
	sched, ok := s.parsed[expr]
	s.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}

	sched, err := cronParser.Parse(expr)
	if err != nil {
		return nil, err
	}

	s.parsedMu.Lock()
	s.parsed[expr] = sched
	s.parsedMu.Unlock()
	return sched, nil
}

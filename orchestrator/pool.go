package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/workflow"
)

// Pool manages a set of concurrent worker goroutines that poll the
// store for due instances and advance them. A dispatcher goroutine
// fetches batches and fans them out, so the store sees one ListDue
// query per poll interval regardless of concurrency.
type Pool struct {
	store        workflow.Store
	orchestrator *Orchestrator
	concurrency  int
	pollInterval time.Duration
	logger       *slog.Logger

	stopCh  chan struct{}
	work    chan *workflow.Instance
	wg      sync.WaitGroup
	mu      sync.Mutex
	running bool

	// inflight keeps an instance from being queued twice while a
	// worker still holds it; ListDue would otherwise re-return it on
	// the next poll.
	inflight   map[string]struct{}
	inflightMu sync.Mutex
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithPoolConcurrency sets the number of concurrent worker goroutines.
func WithPoolConcurrency(n int) PoolOption {
	return func(p *Pool) { p.concurrency = n }
}

// WithPollInterval sets how often the dispatcher polls for due
// instances.
func WithPollInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.pollInterval = d }
}

// NewPool creates a worker pool over an orchestrator.
func NewPool(store workflow.Store, orch *Orchestrator, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	p := &Pool{
		store:        store,
		orchestrator: orch,
		concurrency:  8,
		pollInterval: time.Second,
		logger:       logger,
		stopCh:       make(chan struct{}),
		inflight:     make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.work = make(chan *workflow.Instance, p.concurrency)
	return p
}

// Start launches the dispatcher and worker goroutines. It returns
// immediately.
func (p *Pool) Start(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return nil
	}
	p.running = true

	p.logger.Info("orchestrator pool starting",
		slog.Int("concurrency", p.concurrency),
		slog.Duration("poll_interval", p.pollInterval),
	)

	for range p.concurrency {
		p.wg.Add(1)
		go p.workerLoop()
	}
	p.wg.Add(1)
	go p.dispatchLoop()

	return nil
}

// Stop signals the pool to stop and waits for in-flight advances to
// finish or the context to expire.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("orchestrator pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("orchestrator pool shutdown timed out")
		return ctx.Err()
	}
}

// Submit hands one instance directly to the pool, bypassing the next
// poll. Used by the scheduler for freshly created instances. Falls back
// silently when the pool is saturated; the sweep will pick the instance
// up.
func (p *Pool) Submit(inst *workflow.Instance) {
	if !p.track(inst.ID.String()) {
		return
	}
	select {
	case p.work <- inst:
	default:
		p.untrack(inst.ID.String())
	}
}

// dispatchLoop polls for due instances and fans them out to workers.
func (p *Pool) dispatchLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		due, err := p.store.ListDue(context.Background(), time.Now().UTC(), p.concurrency*2)
		if err != nil {
			p.logger.Error("list due instances", slog.String("error", err.Error()))
			p.sleep()
			continue
		}

		dispatched := 0
		for _, inst := range due {
			if !p.track(inst.ID.String()) {
				continue
			}
			select {
			case p.work <- inst:
				dispatched++
			case <-p.stopCh:
				p.untrack(inst.ID.String())
				return
			}
		}

		if dispatched == 0 {
			p.sleep()
		}
	}
}

// workerLoop advances instances handed out by the dispatcher.
func (p *Pool) workerLoop() {
	defer p.wg.Done()

	for {
		select {
		case <-p.stopCh:
			return
		case inst := <-p.work:
			p.advance(inst)
		}
	}
}

func (p *Pool) advance(inst *workflow.Instance) {
	defer p.untrack(inst.ID.String())

	err := p.orchestrator.Advance(context.Background(), inst.ID)
	switch {
	case err == nil:
	case errors.Is(err, steward.ErrConflict):
		// Another process owns this transition; nothing to do.
		p.logger.Debug("advance skipped on conflict",
			slog.String("instance_id", inst.ID.String()),
		)
	default:
		p.logger.Error("advance failed",
			slog.String("instance_id", inst.ID.String()),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) track(instanceID string) bool {
	p.inflightMu.Lock()
	defer p.inflightMu.Unlock()
	if _, busy := p.inflight[instanceID]; busy {
		return false
	}
	p.inflight[instanceID] = struct{}{}
	return true
}

func (p *Pool) untrack(instanceID string) {
	p.inflightMu.Lock()
	delete(p.inflight, instanceID)
	p.inflightMu.Unlock()
}

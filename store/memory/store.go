// Package memory provides a fully in-memory store.Store backend.
// Safe for concurrent access. Intended for unit testing and
// development; nothing survives a restart.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/idempotency"
	"github.com/chainworks/steward/outcome"
	"github.com/chainworks/steward/review"
	"github.com/chainworks/steward/scheduler"
	"github.com/chainworks/steward/webhook"
	"github.com/chainworks/steward/workflow"
)

// Ensure Store implements store.Store at compile time.
// We can't import store here (import cycle), so we verify each subsystem.
var (
	_ workflow.Store    = (*Store)(nil)
	_ idempotency.Store = (*Store)(nil)
	_ scheduler.Store   = (*Store)(nil)
	_ review.Store      = (*Store)(nil)
	_ webhook.Store     = (*Store)(nil)
)

// Store is a fully in-memory implementation of store.Store.
type Store struct {
	mu sync.RWMutex

	instances  map[string]*workflow.Instance
	attempts   map[string][]*workflow.StepAttempt // key: instance ID
	firings    map[string]string                  // trigger firing key -> instance ID
	records    map[string]*idempotency.Record     // key: idempotency key
	triggers   map[string]*scheduler.Trigger
	reviews    map[string]*review.Record
	deliveries map[string][]*webhook.Delivery // key: correlation ID
}

// New returns a new empty Store.
func New() *Store {
	return &Store{
		instances:  make(map[string]*workflow.Instance),
		attempts:   make(map[string][]*workflow.StepAttempt),
		firings:    make(map[string]string),
		records:    make(map[string]*idempotency.Record),
		triggers:   make(map[string]*scheduler.Trigger),
		reviews:    make(map[string]*review.Record),
		deliveries: make(map[string][]*webhook.Delivery),
	}
}

// ──────────────────────────────────────────────────
// Lifecycle — Migrate / Ping / Close
// ──────────────────────────────────────────────────

// Migrate is a no-op for the memory store.
func (m *Store) Migrate(_ context.Context) error { return nil }

// Ping always succeeds for the memory store.
func (m *Store) Ping(_ context.Context) error { return nil }

// Close is a no-op for the memory store.
func (m *Store) Close() error { return nil }

// ──────────────────────────────────────────────────
// Workflow Store
// ──────────────────────────────────────────────────

// CreateInstance persists a new instance.
func (m *Store) CreateInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inst.ID.String()
	if _, exists := m.instances[key]; exists {
		return steward.ErrInstanceExists
	}
	if inst.TriggerFiring != "" {
		if _, exists := m.firings[inst.TriggerFiring]; exists {
			return steward.ErrInstanceExists
		}
		m.firings[inst.TriggerFiring] = key
	}
	m.instances[key] = inst.Clone()
	return nil
}

// GetInstance retrieves an instance by ID.
func (m *Store) GetInstance(_ context.Context, instanceID id.InstanceID) (*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	inst, ok := m.instances[instanceID.String()]
	if !ok {
		return nil, steward.ErrInstanceNotFound
	}
	return inst.Clone(), nil
}

// UpdateInstance persists changes iff the version matches, then bumps it.
func (m *Store) UpdateInstance(_ context.Context, inst *workflow.Instance) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := inst.ID.String()
	stored, ok := m.instances[key]
	if !ok {
		return steward.ErrInstanceNotFound
	}
	if stored.Version != inst.Version {
		return steward.ErrConflict
	}

	cp := inst.Clone()
	cp.Version++
	m.instances[key] = cp
	inst.Version = cp.Version
	return nil
}

// ListInstances returns instances matching opts, ordered by creation time.
func (m *Store) ListInstances(_ context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*workflow.Instance, 0, len(m.instances))
	for _, inst := range m.instances {
		if opts.Status != "" && inst.Status != opts.Status {
			continue
		}
		if opts.Definition != "" && inst.Definition != opts.Definition {
			continue
		}
		out = append(out, inst.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })

	return paginate(out, opts.Offset, opts.Limit), nil
}

// ListDue returns pending instances and running instances whose retry
// time has elapsed. Instances awaiting callbacks are never due.
func (m *Store) ListDue(_ context.Context, now time.Time, limit int) ([]*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	due := make([]*workflow.Instance, 0)
	for _, inst := range m.instances {
		switch inst.Status {
		case workflow.StatusPending:
		case workflow.StatusRunning:
			if inst.NextRetryAt != nil && inst.NextRetryAt.After(now) {
				continue
			}
		default:
			continue
		}
		due = append(due, inst.Clone())
	}
	sort.Slice(due, func(i, j int) bool { return due[i].CreatedAt.Before(due[j].CreatedAt) })

	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

// FindByCorrelation locates the instance holding a correlation id.
func (m *Store) FindByCorrelation(_ context.Context, correlationID string) (*workflow.Instance, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, inst := range m.instances {
		if inst.CorrelationID == correlationID {
			return inst.Clone(), nil
		}
	}
	return nil, steward.ErrInstanceNotFound
}

// AppendAttempt appends to the audit log.
func (m *Store) AppendAttempt(_ context.Context, att *workflow.StepAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *att
	key := att.InstanceID.String()
	m.attempts[key] = append(m.attempts[key], &cp)
	return nil
}

// ListAttempts returns attempts ordered by (step index, attempt),
// compensation attempts last.
func (m *Store) ListAttempts(_ context.Context, instanceID id.InstanceID) ([]*workflow.StepAttempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	atts := m.attempts[instanceID.String()]
	out := make([]*workflow.StepAttempt, len(atts))
	for i, a := range atts {
		cp := *a
		out[i] = &cp
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Compensation != out[j].Compensation {
			return !out[i].Compensation
		}
		if out[i].Compensation {
			// Compensation runs in reverse step order; preserve
			// execution order as appended.
			return false
		}
		if out[i].StepIndex != out[j].StepIndex {
			return out[i].StepIndex < out[j].StepIndex
		}
		return out[i].Attempt < out[j].Attempt
	})
	return out, nil
}

// ──────────────────────────────────────────────────
// Idempotency Store
// ──────────────────────────────────────────────────

// GetRecord retrieves the record for a key.
func (m *Store) GetRecord(_ context.Context, key string) (*idempotency.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.records[key]
	if !ok {
		return nil, steward.ErrRecordNotFound
	}
	cp := *rec
	return &cp, nil
}

// PutOutcome records a terminal outcome; the first terminal write wins.
func (m *Store) PutOutcome(_ context.Context, key string, out *outcome.Outcome, expiresAt time.Time) (*idempotency.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[key]; ok && rec.Terminal() {
		cp := *rec
		return &cp, nil
	}

	rec := &idempotency.Record{
		ID:          id.NewRecordID(),
		Key:         key,
		FirstSeenAt: time.Now().UTC(),
		Outcome:     out,
		ExpiresAt:   expiresAt,
	}
	m.records[key] = rec
	cp := *rec
	return &cp, nil
}

// PurgeExpired removes records expired before the given time.
func (m *Store) PurgeExpired(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for key, rec := range m.records {
		if rec.ExpiresAt.Before(before) {
			delete(m.records, key)
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Scheduler Store
// ──────────────────────────────────────────────────

// RegisterTrigger persists a new trigger.
func (m *Store) RegisterTrigger(_ context.Context, t *scheduler.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.triggers {
		if existing.Name == t.Name {
			return steward.ErrDuplicateTrigger
		}
	}
	cp := *t
	m.triggers[t.ID.String()] = &cp
	return nil
}

// GetTrigger retrieves a trigger by ID.
func (m *Store) GetTrigger(_ context.Context, triggerID id.TriggerID) (*scheduler.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.triggers[triggerID.String()]
	if !ok {
		return nil, steward.ErrTriggerNotFound
	}
	cp := *t
	return &cp, nil
}

// ListTriggers returns all triggers.
func (m *Store) ListTriggers(_ context.Context) ([]*scheduler.Trigger, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*scheduler.Trigger, 0, len(m.triggers))
	for _, t := range m.triggers {
		cp := *t
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// UpdateTrigger updates a trigger.
func (m *Store) UpdateTrigger(_ context.Context, t *scheduler.Trigger) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := t.ID.String()
	if _, ok := m.triggers[key]; !ok {
		return steward.ErrTriggerNotFound
	}
	cp := *t
	m.triggers[key] = &cp
	return nil
}

// AcquireTriggerLock takes the firing lock if it is free or expired.
func (m *Store) AcquireTriggerLock(_ context.Context, triggerID id.TriggerID, owner id.SweeperID, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.triggers[triggerID.String()]
	if !ok {
		return false, steward.ErrTriggerNotFound
	}

	now := time.Now().UTC()
	if t.LockedUntil != nil && t.LockedUntil.After(now) && t.LockedBy != owner.String() {
		return false, nil
	}

	until := now.Add(ttl)
	t.LockedBy = owner.String()
	t.LockedUntil = &until
	return true, nil
}

// ReleaseTriggerLock releases the firing lock if owner holds it.
func (m *Store) ReleaseTriggerLock(_ context.Context, triggerID id.TriggerID, owner id.SweeperID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.triggers[triggerID.String()]
	if !ok {
		return steward.ErrTriggerNotFound
	}
	if t.LockedBy == owner.String() {
		t.LockedBy = ""
		t.LockedUntil = nil
	}
	return nil
}

// DeleteTrigger removes a trigger by ID.
func (m *Store) DeleteTrigger(_ context.Context, triggerID id.TriggerID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := triggerID.String()
	if _, ok := m.triggers[key]; !ok {
		return steward.ErrTriggerNotFound
	}
	delete(m.triggers, key)
	return nil
}

// ──────────────────────────────────────────────────
// Review Store
// ──────────────────────────────────────────────────

// PushReview adds a record to the manual-review queue.
func (m *Store) PushReview(_ context.Context, rec *review.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *rec
	m.reviews[rec.ID.String()] = &cp
	return nil
}

// GetReview retrieves a record by ID.
func (m *Store) GetReview(_ context.Context, reviewID id.ReviewID) (*review.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	rec, ok := m.reviews[reviewID.String()]
	if !ok {
		return nil, steward.ErrReviewNotFound
	}
	cp := *rec
	return &cp, nil
}

// ListReviews returns records matching opts, newest first.
func (m *Store) ListReviews(_ context.Context, opts review.ListOpts) ([]*review.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*review.Record, 0, len(m.reviews))
	for _, rec := range m.reviews {
		if opts.Unresolved && rec.Resolved() {
			continue
		}
		if opts.Definition != "" && rec.Definition != opts.Definition {
			continue
		}
		cp := *rec
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })

	return paginate(out, opts.Offset, opts.Limit), nil
}

// ResolveReview marks a record resolved.
func (m *Store) ResolveReview(_ context.Context, reviewID id.ReviewID, resolvedBy, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.reviews[reviewID.String()]
	if !ok {
		return steward.ErrReviewNotFound
	}
	now := time.Now().UTC()
	rec.ResolvedAt = &now
	rec.ResolvedBy = resolvedBy
	rec.Note = note
	return nil
}

// CountReviews returns the number of open records.
func (m *Store) CountReviews(_ context.Context) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var n int64
	for _, rec := range m.reviews {
		if !rec.Resolved() {
			n++
		}
	}
	return n, nil
}

// ──────────────────────────────────────────────────
// Webhook Store
// ──────────────────────────────────────────────────

// RecordDelivery appends a delivery record.
func (m *Store) RecordDelivery(_ context.Context, d *webhook.Delivery) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	cp := *d
	m.deliveries[d.CorrelationID] = append(m.deliveries[d.CorrelationID], &cp)
	return nil
}

// ListDeliveries returns deliveries for a correlation id, oldest first.
func (m *Store) ListDeliveries(_ context.Context, correlationID string) ([]*webhook.Delivery, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ds := m.deliveries[correlationID]
	out := make([]*webhook.Delivery, len(ds))
	for i, d := range ds {
		cp := *d
		out[i] = &cp
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReceivedAt.Before(out[j].ReceivedAt) })
	return out, nil
}

// paginate applies offset/limit to a sorted slice.
func paginate[T any](in []T, offset, limit int) []T {
	if offset >= len(in) {
		return []T{}
	}
	in = in[offset:]
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}

package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/outcome"
	"github.com/chainworks/steward/scheduler"
	"github.com/chainworks/steward/workflow"
)

func newInstance(status workflow.Status) *workflow.Instance {
	return &workflow.Instance{
		Entity:     steward.NewEntity(),
		ID:         id.NewInstanceID(),
		Definition: "compliance-check",
		Status:     status,
	}
}

func TestUpdateInstanceVersionCheck(t *testing.T) {
	s := New()
	ctx := context.Background()

	inst := newInstance(workflow.StatusPending)
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatalf("CreateInstance: %v", err)
	}

	a, _ := s.GetInstance(ctx, inst.ID)
	b, _ := s.GetInstance(ctx, inst.ID)

	a.Status = workflow.StatusRunning
	if err := s.UpdateInstance(ctx, a); err != nil {
		t.Fatalf("first update: %v", err)
	}

	b.Status = workflow.StatusCancelled
	if err := s.UpdateInstance(ctx, b); !errors.Is(err, steward.ErrConflict) {
		t.Fatalf("stale update err = %v, want ErrConflict", err)
	}

	got, _ := s.GetInstance(ctx, inst.ID)
	if got.Status != workflow.StatusRunning {
		t.Errorf("status = %s, want running (stale write must not apply)", got.Status)
	}
	if got.Version != a.Version {
		t.Errorf("version = %d, want %d", got.Version, a.Version)
	}
}

func TestCreateInstanceDeduplicatesFirings(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := newInstance(workflow.StatusPending)
	a.TriggerFiring = "daily-compliance@2026-08-30T06:00:00Z"
	if err := s.CreateInstance(ctx, a); err != nil {
		t.Fatalf("first create: %v", err)
	}

	b := newInstance(workflow.StatusPending)
	b.TriggerFiring = a.TriggerFiring
	if err := s.CreateInstance(ctx, b); !errors.Is(err, steward.ErrInstanceExists) {
		t.Fatalf("duplicate firing err = %v, want ErrInstanceExists", err)
	}
}

func TestListDueSkipsParkedAndFuture(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	pending := newInstance(workflow.StatusPending)
	ready := newInstance(workflow.StatusRunning)
	past := now.Add(-time.Minute)
	ready.NextRetryAt = &past

	waiting := newInstance(workflow.StatusRunning)
	future := now.Add(time.Hour)
	waiting.NextRetryAt = &future

	parked := newInstance(workflow.StatusAwaitingCallback)
	done := newInstance(workflow.StatusSucceeded)

	for _, inst := range []*workflow.Instance{pending, ready, waiting, parked, done} {
		if err := s.CreateInstance(ctx, inst); err != nil {
			t.Fatalf("CreateInstance: %v", err)
		}
	}

	due, err := s.ListDue(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListDue: %v", err)
	}
	if len(due) != 2 {
		t.Fatalf("len(due) = %d, want 2", len(due))
	}
	for _, inst := range due {
		if inst.ID.String() != pending.ID.String() && inst.ID.String() != ready.ID.String() {
			t.Errorf("unexpected due instance %s (%s)", inst.ID, inst.Status)
		}
	}
}

func TestPutOutcomeFirstTerminalWriteWins(t *testing.T) {
	s := New()
	ctx := context.Background()
	expires := time.Now().Add(time.Hour)

	first, err := s.PutOutcome(ctx, "wfi_x:charge", outcome.Successf("ok", "ref-a", nil), expires)
	if err != nil {
		t.Fatalf("first PutOutcome: %v", err)
	}
	second, err := s.PutOutcome(ctx, "wfi_x:charge", outcome.Permanent("late", "late writer", nil), expires)
	if err != nil {
		t.Fatalf("second PutOutcome: %v", err)
	}

	if second.Outcome.ProviderRef != "ref-a" {
		t.Errorf("second write returned %q, want the first outcome ref-a", second.Outcome.ProviderRef)
	}
	if second.ID.String() != first.ID.String() {
		t.Errorf("record id changed across writes")
	}
}

func TestPurgeExpired(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now().UTC()

	if _, err := s.PutOutcome(ctx, "old", outcome.Successf("ok", "", nil), now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.PutOutcome(ctx, "fresh", outcome.Successf("ok", "", nil), now.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	n, err := s.PurgeExpired(ctx, now)
	if err != nil {
		t.Fatalf("PurgeExpired: %v", err)
	}
	if n != 1 {
		t.Errorf("purged %d, want 1", n)
	}
	if _, err := s.GetRecord(ctx, "fresh"); err != nil {
		t.Errorf("fresh record should survive: %v", err)
	}
}

func TestTriggerLockExpiry(t *testing.T) {
	s := New()
	ctx := context.Background()

	trig := &scheduler.Trigger{
		Entity:     steward.NewEntity(),
		ID:         id.NewTriggerID(),
		Name:       "daily-compliance",
		Schedule:   "0 6 * * *",
		Definition: "compliance-check",
		Enabled:    true,
	}
	if err := s.RegisterTrigger(ctx, trig); err != nil {
		t.Fatalf("RegisterTrigger: %v", err)
	}

	owner1 := id.NewSweeperID()
	owner2 := id.NewSweeperID()

	ok, err := s.AcquireTriggerLock(ctx, trig.ID, owner1, time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire = (%v, %v), want (true, nil)", ok, err)
	}
	ok, _ = s.AcquireTriggerLock(ctx, trig.ID, owner2, time.Minute)
	if ok {
		t.Fatal("second owner acquired a held lock")
	}

	// Re-entrant for the holder.
	ok, _ = s.AcquireTriggerLock(ctx, trig.ID, owner1, time.Minute)
	if !ok {
		t.Fatal("holder could not re-acquire its own lock")
	}

	if err := s.ReleaseTriggerLock(ctx, trig.ID, owner1); err != nil {
		t.Fatalf("ReleaseTriggerLock: %v", err)
	}
	ok, _ = s.AcquireTriggerLock(ctx, trig.ID, owner2, time.Minute)
	if !ok {
		t.Fatal("lock not acquirable after release")
	}
}

func TestRegisterTriggerRejectsDuplicateName(t *testing.T) {
	s := New()
	ctx := context.Background()

	a := &scheduler.Trigger{ID: id.NewTriggerID(), Name: "daily", Schedule: "@daily", Definition: "d"}
	b := &scheduler.Trigger{ID: id.NewTriggerID(), Name: "daily", Schedule: "@daily", Definition: "d"}

	if err := s.RegisterTrigger(ctx, a); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := s.RegisterTrigger(ctx, b); !errors.Is(err, steward.ErrDuplicateTrigger) {
		t.Fatalf("duplicate register err = %v, want ErrDuplicateTrigger", err)
	}
}

func TestFindByCorrelation(t *testing.T) {
	s := New()
	ctx := context.Background()

	inst := newInstance(workflow.StatusAwaitingCallback)
	inst.CorrelationID = "ch-42"
	if err := s.CreateInstance(ctx, inst); err != nil {
		t.Fatal(err)
	}

	got, err := s.FindByCorrelation(ctx, "ch-42")
	if err != nil {
		t.Fatalf("FindByCorrelation: %v", err)
	}
	if got.ID.String() != inst.ID.String() {
		t.Errorf("found %s, want %s", got.ID, inst.ID)
	}

	if _, err := s.FindByCorrelation(ctx, "ch-unknown"); !errors.Is(err, steward.ErrInstanceNotFound) {
		t.Errorf("unknown correlation err = %v, want ErrInstanceNotFound", err)
	}
}

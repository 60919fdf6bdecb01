package engine_test

import (
	"context"
	"errors"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/engine"
	"github.com/chainworks/steward/integration"
	"github.com/chainworks/steward/outcome"
	"github.com/chainworks/steward/scheduler"
	"github.com/chainworks/steward/store/memory"
	"github.com/chainworks/steward/workflow"
)

// stubInvoker returns a fixed outcome for every call.
type stubInvoker struct {
	out *outcome.Outcome
}

func (s *stubInvoker) Invoke(context.Context, *integration.Call) (*outcome.Outcome, error) {
	return s.out, nil
}

func succeed(code string) *stubInvoker {
	return &stubInvoker{out: outcome.Successf(code, "ref-1", nil)}
}

func newSteward(t *testing.T) *steward.Steward {
	t.Helper()
	s, err := steward.New(
		steward.WithStore(memory.New()),
		steward.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		t.Fatalf("steward.New: %v", err)
	}
	return s
}

func TestBuildWiresDefaultDefinitions(t *testing.T) {
	eng, err := engine.Build(newSteward(t))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	for _, name := range []string{engine.DefComplianceCheck, engine.DefCertificateSync} {
		if _, ok := eng.Registry().Get(name); !ok {
			t.Errorf("definition %q not registered", name)
		}
	}
	if eng.WebhookHandler() == nil {
		t.Error("webhook handler is nil")
	}
}

func TestBuildOpensStoreFromURL(t *testing.T) {
	cfg := steward.DefaultConfig()
	cfg.StateStoreURL = "memory://"

	s, err := steward.New(
		steward.WithConfig(cfg),
		steward.WithLogger(slog.New(slog.DiscardHandler)),
	)
	if err != nil {
		t.Fatalf("steward.New: %v", err)
	}

	eng, err := engine.Build(s)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	if eng.Store() == nil {
		t.Fatal("engine has no store")
	}
	if s.Store() == nil {
		t.Fatal("store was not wired back into the steward")
	}
}

func TestBuildRejectsUnknownStoreURL(t *testing.T) {
	cfg := steward.DefaultConfig()
	cfg.StateStoreURL = "etcd://localhost:2379"

	s, err := steward.New(steward.WithConfig(cfg))
	if err != nil {
		t.Fatalf("steward.New: %v", err)
	}
	if _, err := engine.Build(s); err == nil {
		t.Fatal("expected error for unsupported store url")
	}
}

func TestCreateWorkflowUnknownDefinition(t *testing.T) {
	eng, err := engine.Build(newSteward(t))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	_, err = eng.CreateWorkflow(context.Background(), "no-such-definition", nil)
	if !errors.Is(err, steward.ErrDefinitionNotFound) {
		t.Fatalf("expected ErrDefinitionNotFound, got %v", err)
	}
}

func TestCreateWorkflowRunsToCompletion(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.Build(newSteward(t),
		engine.WithClient(engine.CapVerifyTraining, succeed("verified")),
		engine.WithClient(engine.CapChargeFee, succeed("charge-accepted")),
		engine.WithClient(engine.CapSendSMS, succeed("sms-sent")),
	)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	inst, err := eng.CreateWorkflow(ctx, engine.DefComplianceCheck, []byte(`{"employee":"emp-7"}`))
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}

	if err := eng.Orchestrator().Advance(ctx, inst.ID); err != nil {
		t.Fatalf("Advance: %v", err)
	}

	got, err := eng.GetWorkflow(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.Status != workflow.StatusSucceeded {
		t.Fatalf("status = %s, want %s", got.Status, workflow.StatusSucceeded)
	}

	attempts, err := eng.ListAttempts(ctx, inst.ID)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 3 {
		t.Fatalf("got %d attempts, want 3", len(attempts))
	}
}

func TestCancelWorkflow(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.Build(newSteward(t))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	inst, err := eng.CreateWorkflow(ctx, engine.DefComplianceCheck, nil)
	if err != nil {
		t.Fatalf("CreateWorkflow: %v", err)
	}
	if err := eng.CancelWorkflow(ctx, inst.ID); err != nil {
		t.Fatalf("CancelWorkflow: %v", err)
	}

	got, err := eng.GetWorkflow(ctx, inst.ID)
	if err != nil {
		t.Fatalf("GetWorkflow: %v", err)
	}
	if got.Status != workflow.StatusCancelled {
		t.Fatalf("status = %s, want %s", got.Status, workflow.StatusCancelled)
	}
}

func TestRegisterTrigger(t *testing.T) {
	ctx := context.Background()
	eng, err := engine.Build(newSteward(t))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	trig := &scheduler.Trigger{
		Name:       "daily-compliance",
		Schedule:   "0 6 * * *",
		Definition: engine.DefComplianceCheck,
		Enabled:    true,
	}
	if err := eng.RegisterTrigger(ctx, trig); err != nil {
		t.Fatalf("RegisterTrigger: %v", err)
	}
	if trig.NextFireAt == nil {
		t.Fatal("NextFireAt not computed")
	}

	bad := &scheduler.Trigger{
		Name:       "broken",
		Schedule:   "not a schedule",
		Definition: engine.DefComplianceCheck,
		Enabled:    true,
	}
	if err := eng.RegisterTrigger(ctx, bad); err == nil {
		t.Fatal("expected error for invalid schedule")
	}
}

func TestWebhookHandlerUnknownProvider(t *testing.T) {
	eng, err := engine.Build(newSteward(t))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	rec := httptest.NewRecorder()
	req := httptest.NewRequest("POST", "/hooks/unknown-gateway", strings.NewReader(`{}`))
	eng.WebhookHandler().ServeHTTP(rec, req)

	if rec.Code != 404 {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestWithoutDefaultDefinitions(t *testing.T) {
	def := &workflow.Definition{
		Name:  "custom-flow",
		Steps: []workflow.Step{{Name: "only", Capability: engine.CapSendEmail}},
	}
	eng, err := engine.Build(newSteward(t),
		engine.WithoutDefaultDefinitions(),
		engine.WithDefinitions(def),
	)
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	if _, ok := eng.Registry().Get(engine.DefComplianceCheck); ok {
		t.Error("default definition registered despite WithoutDefaultDefinitions")
	}
	if _, ok := eng.Registry().Get("custom-flow"); !ok {
		t.Error("custom definition not registered")
	}
}

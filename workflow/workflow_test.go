package workflow_test

import (
	"testing"

	"github.com/chainworks/steward/workflow"
)

func validDefinition() *workflow.Definition {
	return &workflow.Definition{
		Name: "compliance-check",
		Steps: []workflow.Step{
			{Name: "verify-training", Capability: "verify-training"},
			{Name: "charge-fee", Capability: "charge-fee", Compensable: true, CompensateWith: "refund-fee"},
			{Name: "send-sms", Capability: "send-sms"},
		},
	}
}

func TestDefinitionValidate(t *testing.T) {
	if err := validDefinition().Validate(); err != nil {
		t.Fatalf("valid definition rejected: %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*workflow.Definition)
	}{
		{"no name", func(d *workflow.Definition) { d.Name = "" }},
		{"no steps", func(d *workflow.Definition) { d.Steps = nil }},
		{"unnamed step", func(d *workflow.Definition) { d.Steps[0].Name = "" }},
		{"no capability", func(d *workflow.Definition) { d.Steps[1].Capability = "" }},
		{"duplicate step", func(d *workflow.Definition) { d.Steps[2].Name = d.Steps[0].Name }},
		{"compensable without undo", func(d *workflow.Definition) { d.Steps[1].CompensateWith = "" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validDefinition()
			tt.mutate(d)
			if err := d.Validate(); err == nil {
				t.Error("expected validation error, got nil")
			}
		})
	}
}

func TestDefinitionStep(t *testing.T) {
	d := validDefinition()
	s, ok := d.Step(1)
	if !ok || s.Name != "charge-fee" {
		t.Errorf("Step(1) = %+v, %v", s, ok)
	}
	if _, ok := d.Step(3); ok {
		t.Error("Step(3) should be out of range")
	}
	if _, ok := d.Step(-1); ok {
		t.Error("Step(-1) should be out of range")
	}
}

func TestRegistry(t *testing.T) {
	reg := workflow.NewRegistry()
	if err := reg.Register(validDefinition()); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if _, ok := reg.Get("compliance-check"); !ok {
		t.Error("registered definition not found")
	}
	if _, ok := reg.Get("missing"); ok {
		t.Error("unexpected hit for unregistered name")
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "compliance-check" {
		t.Errorf("Names() = %v", names)
	}

	bad := validDefinition()
	bad.Steps = nil
	if err := reg.Register(bad); err == nil {
		t.Error("expected error registering invalid definition")
	}
}

func TestStatusTerminal(t *testing.T) {
	terminal := []workflow.Status{workflow.StatusSucceeded, workflow.StatusCompensated, workflow.StatusCancelled}
	for _, s := range terminal {
		if !s.Terminal() {
			t.Errorf("%q should be terminal", s)
		}
	}
	active := []workflow.Status{workflow.StatusPending, workflow.StatusRunning, workflow.StatusAwaitingCallback, workflow.StatusFailed}
	for _, s := range active {
		if s.Terminal() {
			t.Errorf("%q should not be terminal", s)
		}
	}
}

func TestInstanceClone(t *testing.T) {
	inst := &workflow.Instance{
		Input: []byte(`{"a":1}`),
	}
	inst.SetOutput("verify-training", []byte(`{"ok":true}`))

	cp := inst.Clone()
	cp.Input[0] = 'X'
	cp.Outputs["verify-training"][0] = 'X'

	if inst.Input[0] == 'X' {
		t.Error("clone shares input buffer")
	}
	if inst.Outputs["verify-training"][0] == 'X' {
		t.Error("clone shares output buffer")
	}
}

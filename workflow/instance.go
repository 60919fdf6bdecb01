package workflow

import (
	"encoding/json"
	"time"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
)

// Status represents the lifecycle state of a workflow instance.
type Status string

const (
	// StatusPending means the instance has been created but not yet
	// picked up by the orchestrator.
	StatusPending Status = "pending"
	// StatusRunning means the orchestrator is advancing the instance
	// (or it awaits a retry sweep after a transient failure).
	StatusRunning Status = "running"
	// StatusAwaitingCallback means an asynchronous step is outstanding
	// and only a matching webhook callback may resume the instance.
	StatusAwaitingCallback Status = "awaiting-callback"
	// StatusSucceeded means every step completed.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means a step failed permanently; compensation is
	// about to run or has been skipped (nothing to compensate).
	StatusFailed Status = "failed"
	// StatusCompensated means compensation finished for all completed
	// compensable steps.
	StatusCompensated Status = "compensated"
	// StatusCancelled means the instance was cancelled externally
	// before reaching a terminal business state.
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	switch s {
	case StatusSucceeded, StatusCompensated, StatusCancelled:
		return true
	default:
		return false
	}
}

// Instance is one durable execution of a workflow definition.
// It is owned exclusively by the orchestrator and mutated only through
// its state-transition operations; the API layer reads it but never
// writes it.
type Instance struct {
	steward.Entity

	ID         id.InstanceID `json:"id"`
	Definition string        `json:"definition"`
	Status     Status        `json:"status"`

	// StepIndex is the index of the next step to execute (or the step
	// currently awaiting its callback).
	StepIndex int `json:"step_index"`

	// Attempt counts cross-invocation tries of the current step,
	// 1-indexed once the first attempt has been made. Reset to zero
	// when the step index advances.
	Attempt int `json:"attempt"`

	// Input is the instance's input payload, JSON.
	Input []byte `json:"input,omitempty"`

	// Outputs accumulates each completed step's output payload by
	// step name.
	Outputs map[string]json.RawMessage `json:"outputs,omitempty"`

	// CorrelationID links an outstanding asynchronous step to its
	// provider callback. Set when entering awaiting-callback, cleared
	// on resume.
	CorrelationID string `json:"correlation_id,omitempty"`

	// NextRetryAt is when the retry sweep may advance the instance
	// again after a transient failure. Nil means immediately eligible.
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`

	// ReasonCode is the stable failure code surfaced to the API layer
	// for failed/compensated/cancelled instances. Never raw provider
	// error text.
	ReasonCode string `json:"reason_code,omitempty"`

	// CancelRequested defers cancellation requested while the instance
	// was awaiting a callback; it is honored when the callback resolves.
	CancelRequested bool `json:"cancel_requested,omitempty"`

	// TriggerFiring identifies the scheduler firing that created this
	// instance, making trigger sweeps duplicate-safe. Empty for
	// API-created instances.
	TriggerFiring string `json:"trigger_firing,omitempty"`

	// Version guards updates: stores reject writes whose Version does
	// not match the stored row and increment it on success.
	Version int64 `json:"version"`

	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// SetOutput records a completed step's output payload.
func (i *Instance) SetOutput(stepName string, payload []byte) {
	if len(payload) == 0 {
		return
	}
	if i.Outputs == nil {
		i.Outputs = make(map[string]json.RawMessage)
	}
	i.Outputs[stepName] = json.RawMessage(payload)
}

// Clone returns a deep copy of the instance. Stores return clones so
// callers can mutate without racing against cached state.
func (i *Instance) Clone() *Instance {
	cp := *i
	if i.Input != nil {
		cp.Input = append([]byte(nil), i.Input...)
	}
	if i.Outputs != nil {
		cp.Outputs = make(map[string]json.RawMessage, len(i.Outputs))
		for k, v := range i.Outputs {
			cp.Outputs[k] = append(json.RawMessage(nil), v...)
		}
	}
	if i.NextRetryAt != nil {
		t := *i.NextRetryAt
		cp.NextRetryAt = &t
	}
	if i.CompletedAt != nil {
		t := *i.CompletedAt
		cp.CompletedAt = &t
	}
	return &cp
}

package workflow

import (
	"time"

	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/outcome"
)

// StepAttempt records one integration call made on behalf of an
// instance. Attempts form an append-only audit log: they are never
// mutated after creation, and for one instance they are totally ordered
// by (StepIndex, Attempt).
type StepAttempt struct {
	ID         id.AttemptID  `json:"id"`
	InstanceID id.InstanceID `json:"instance_id"`
	StepIndex  int           `json:"step_index"`
	StepName   string        `json:"step_name"`

	// Attempt is the 1-indexed cross-invocation attempt number for
	// this (instance, step) pair.
	Attempt int `json:"attempt"`

	// Compensation marks attempts made by the compensation path rather
	// than forward execution.
	Compensation bool `json:"compensation,omitempty"`

	StartedAt  time.Time     `json:"started_at"`
	FinishedAt time.Time     `json:"finished_at"`
	Class      outcome.Class `json:"class"`

	// Code is the stable reason code from the classified outcome.
	Code string `json:"code,omitempty"`

	// ProviderRef is the provider's reference for the operation.
	ProviderRef string `json:"provider_ref,omitempty"`

	// RawResponse is the verbatim provider response (or webhook
	// payload, for asynchronous steps), stored for audit.
	RawResponse []byte `json:"raw_response,omitempty"`
}

// NewAttempt builds a StepAttempt from a classified outcome.
func NewAttempt(instanceID id.InstanceID, stepIndex int, stepName string, attempt int, startedAt time.Time, out *outcome.Outcome) *StepAttempt {
	return &StepAttempt{
		ID:          id.NewAttemptID(),
		InstanceID:  instanceID,
		StepIndex:   stepIndex,
		StepName:    stepName,
		Attempt:     attempt,
		StartedAt:   startedAt,
		FinishedAt:  time.Now().UTC(),
		Class:       out.Class,
		Code:        out.Code,
		ProviderRef: out.ProviderRef,
		RawResponse: out.Payload,
	}
}

package mongo

import (
	"encoding/json"
	"fmt"
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

// ── Instance model ───────────────────────────────────────────────

type instanceModel struct {
	ID              string     `bson:"_id"`
	Definition      string     `bson:"definition"`
	Status          string     `bson:"status"`
	StepIndex       int        `bson:"step_index"`
	Attempt         int        `bson:"attempt"`
	Input           []byte     `bson:"input,omitempty"`
	Outputs         []byte     `bson:"outputs,omitempty"`
	CorrelationID   string     `bson:"correlation_id"`
	NextRetryAt     *time.Time `bson:"next_retry_at,omitempty"`
	ReasonCode      string     `bson:"reason_code"`
	CancelRequested bool       `bson:"cancel_requested"`
	TriggerFiring   string     `bson:"trigger_firing,omitempty"`
	Version         int64      `bson:"version"`
	CompletedAt     *time.Time `bson:"completed_at,omitempty"`
	CreatedAt       time.Time  `bson:"created_at"`
	UpdatedAt       time.Time  `bson:"updated_at"`
}

func toInstanceModel(inst *workflow.Instance) (*instanceModel, error) {
	var outputs []byte
	if len(inst.Outputs) > 0 {
		var err error
		outputs, err = json.Marshal(inst.Outputs)
		if err != nil {
			return nil, fmt.Errorf("steward/mongo: marshal outputs: %w", err)
		}
	}

	return &instanceModel{
		ID:              inst.ID.String(),
		Definition:      inst.Definition,
		Status:          string(inst.Status),
		StepIndex:       inst.StepIndex,
		Attempt:         inst.Attempt,
		Input:           inst.Input,
		Outputs:         outputs,
		CorrelationID:   inst.CorrelationID,
		NextRetryAt:     inst.NextRetryAt,
		ReasonCode:      inst.ReasonCode,
		CancelRequested: inst.CancelRequested,
		TriggerFiring:   inst.TriggerFiring,
		Version:         inst.Version,
		CompletedAt:     inst.CompletedAt,
		CreatedAt:       inst.CreatedAt,
		UpdatedAt:       inst.UpdatedAt,
	}, nil
}

func fromInstanceModel(m *instanceModel) (*workflow.Instance, error) {
	parsedID, err := id.ParseInstanceID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse instance id %q: %w", m.ID, err)
	}

	inst := &workflow.Instance{
		Entity: steward.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:              parsedID,
		Definition:      m.Definition,
		Status:          workflow.Status(m.Status),
		StepIndex:       m.StepIndex,
		Attempt:         m.Attempt,
		Input:           m.Input,
		CorrelationID:   m.CorrelationID,
		NextRetryAt:     m.NextRetryAt,
		ReasonCode:      m.ReasonCode,
		CancelRequested: m.CancelRequested,
		TriggerFiring:   m.TriggerFiring,
		Version:         m.Version,
		CompletedAt:     m.CompletedAt,
	}

	if len(m.Outputs) > 0 {
		if err := json.Unmarshal(m.Outputs, &inst.Outputs); err != nil {
			return nil, fmt.Errorf("steward/mongo: unmarshal outputs: %w", err)
		}
	}
	return inst, nil
}

// ── Attempt model ────────────────────────────────────────────────

type attemptModel struct {
	ID           string    `bson:"_id"`
	InstanceID   string    `bson:"instance_id"`
	StepIndex    int       `bson:"step_index"`
	StepName     string    `bson:"step_name"`
	Attempt      int       `bson:"attempt"`
	Compensation bool      `bson:"compensation"`
	StartedAt    time.Time `bson:"started_at"`
	FinishedAt   time.Time `bson:"finished_at"`
	Class        string    `bson:"class"`
	Code         string    `bson:"code"`
	ProviderRef  string    `bson:"provider_ref,omitempty"`
	RawResponse  []byte    `bson:"raw_response,omitempty"`
}

func toAttemptModel(att *workflow.StepAttempt) *attemptModel {
	return &attemptModel{
		ID:           att.ID.String(),
		InstanceID:   att.InstanceID.String(),
		StepIndex:    att.StepIndex,
		StepName:     att.StepName,
		Attempt:      att.Attempt,
		Compensation: att.Compensation,
		StartedAt:    att.StartedAt,
		FinishedAt:   att.FinishedAt,
		Class:        string(att.Class),
		Code:         att.Code,
		ProviderRef:  att.ProviderRef,
		RawResponse:  att.RawResponse,
	}
}

func fromAttemptModel(m *attemptModel) (*workflow.StepAttempt, error) {
	attemptID, err := id.ParseAttemptID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse attempt id %q: %w", m.ID, err)
	}
	instanceID, err := id.ParseInstanceID(m.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse instance id %q: %w", m.InstanceID, err)
	}

	return &workflow.StepAttempt{
		ID:           attemptID,
		InstanceID:   instanceID,
		StepIndex:    m.StepIndex,
		StepName:     m.StepName,
		Attempt:      m.Attempt,
		Compensation: m.Compensation,
		StartedAt:    m.StartedAt,
		FinishedAt:   m.FinishedAt,
		Class:        outcome.Class(m.Class),
		Code:         m.Code,
		ProviderRef:  m.ProviderRef,
		RawResponse:  m.RawResponse,
	}, nil
}

// ── Idempotency model ────────────────────────────────────────────

type recordModel struct {
	Key          string    `bson:"_id"`
	RecordID     string    `bson:"record_id"`
	FirstSeenAt  time.Time `bson:"first_seen_at"`
	OutcomeClass string    `bson:"outcome_class,omitempty"`
	Outcome      []byte    `bson:"outcome,omitempty"`
	ExpiresAt    time.Time `bson:"expires_at"`
}

func fromRecordModel(m *recordModel) (*idempotency.Record, error) {
	recordID, err := id.ParseRecordID(m.RecordID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse record id %q: %w", m.RecordID, err)
	}

	rec := &idempotency.Record{
		ID:          recordID,
		Key:         m.Key,
		FirstSeenAt: m.FirstSeenAt,
		ExpiresAt:   m.ExpiresAt,
	}
	if len(m.Outcome) > 0 {
		rec.Outcome = &outcome.Outcome{}
		if err := json.Unmarshal(m.Outcome, rec.Outcome); err != nil {
			return nil, fmt.Errorf("steward/mongo: unmarshal outcome: %w", err)
		}
	}
	return rec, nil
}

// ── Trigger model ────────────────────────────────────────────────

type triggerModel struct {
	ID          string     `bson:"_id"`
	Name        string     `bson:"name"`
	Schedule    string     `bson:"schedule"`
	Definition  string     `bson:"definition"`
	Input       []byte     `bson:"input,omitempty"`
	Enabled     bool       `bson:"enabled"`
	LastFiredAt *time.Time `bson:"last_fired_at,omitempty"`
	NextFireAt  *time.Time `bson:"next_fire_at,omitempty"`
	LockedBy    string     `bson:"locked_by,omitempty"`
	LockedUntil *time.Time `bson:"locked_until,omitempty"`
	CreatedAt   time.Time  `bson:"created_at"`
	UpdatedAt   time.Time  `bson:"updated_at"`
}

func toTriggerModel(t *scheduler.Trigger) *triggerModel {
	return &triggerModel{
		ID:          t.ID.String(),
		Name:        t.Name,
		Schedule:    t.Schedule,
		Definition:  t.Definition,
		Input:       t.Input,
		Enabled:     t.Enabled,
		LastFiredAt: t.LastFiredAt,
		NextFireAt:  t.NextFireAt,
		LockedBy:    t.LockedBy,
		LockedUntil: t.LockedUntil,
		CreatedAt:   t.CreatedAt,
		UpdatedAt:   t.UpdatedAt,
	}
}

func fromTriggerModel(m *triggerModel) (*scheduler.Trigger, error) {
	triggerID, err := id.ParseTriggerID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse trigger id %q: %w", m.ID, err)
	}

	return &scheduler.Trigger{
		Entity: steward.Entity{
			CreatedAt: m.CreatedAt,
			UpdatedAt: m.UpdatedAt,
		},
		ID:          triggerID,
		Name:        m.Name,
		Schedule:    m.Schedule,
		Definition:  m.Definition,
		Input:       m.Input,
		Enabled:     m.Enabled,
		LastFiredAt: m.LastFiredAt,
		NextFireAt:  m.NextFireAt,
		LockedBy:    m.LockedBy,
		LockedUntil: m.LockedUntil,
	}, nil
}

// ── Review model ─────────────────────────────────────────────────

type reviewModel struct {
	ID         string     `bson:"_id"`
	InstanceID string     `bson:"instance_id"`
	Definition string     `bson:"definition"`
	StepName   string     `bson:"step_name"`
	Capability string     `bson:"capability"`
	Code       string     `bson:"code"`
	Detail     string     `bson:"detail,omitempty"`
	Payload    []byte     `bson:"payload,omitempty"`
	FailedAt   time.Time  `bson:"failed_at"`
	ResolvedAt *time.Time `bson:"resolved_at,omitempty"`
	ResolvedBy string     `bson:"resolved_by,omitempty"`
	Note       string     `bson:"note,omitempty"`
	CreatedAt  time.Time  `bson:"created_at"`
}

func toReviewModel(rec *review.Record) *reviewModel {
	return &reviewModel{
		ID:         rec.ID.String(),
		InstanceID: rec.InstanceID.String(),
		Definition: rec.Definition,
		StepName:   rec.StepName,
		Capability: rec.Capability,
		Code:       rec.Code,
		Detail:     rec.Detail,
		Payload:    rec.Payload,
		FailedAt:   rec.FailedAt,
		ResolvedAt: rec.ResolvedAt,
		ResolvedBy: rec.ResolvedBy,
		Note:       rec.Note,
		CreatedAt:  rec.CreatedAt,
	}
}

func fromReviewModel(m *reviewModel) (*review.Record, error) {
	reviewID, err := id.ParseReviewID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse review id %q: %w", m.ID, err)
	}
	instanceID, err := id.ParseInstanceID(m.InstanceID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse instance id %q: %w", m.InstanceID, err)
	}

	return &review.Record{
		ID:         reviewID,
		InstanceID: instanceID,
		Definition: m.Definition,
		StepName:   m.StepName,
		Capability: m.Capability,
		Code:       m.Code,
		Detail:     m.Detail,
		Payload:    m.Payload,
		FailedAt:   m.FailedAt,
		ResolvedAt: m.ResolvedAt,
		ResolvedBy: m.ResolvedBy,
		Note:       m.Note,
		CreatedAt:  m.CreatedAt,
	}, nil
}

// ── Delivery model ───────────────────────────────────────────────

type deliveryModel struct {
	ID            string    `bson:"_id"`
	Provider      string    `bson:"provider"`
	CorrelationID string    `bson:"correlation_id,omitempty"`
	Class         string    `bson:"class,omitempty"`
	Code          string    `bson:"code,omitempty"`
	Payload       []byte    `bson:"payload,omitempty"`
	Applied       bool      `bson:"applied"`
	Note          string    `bson:"note,omitempty"`
	ReceivedAt    time.Time `bson:"received_at"`
}

func toDeliveryModel(d *webhook.Delivery) *deliveryModel {
	return &deliveryModel{
		ID:            d.ID.String(),
		Provider:      d.Provider,
		CorrelationID: d.CorrelationID,
		Class:         string(d.Class),
		Code:          d.Code,
		Payload:       d.Payload,
		Applied:       d.Applied,
		Note:          d.Note,
		ReceivedAt:    d.ReceivedAt,
	}
}

func fromDeliveryModel(m *deliveryModel) (*webhook.Delivery, error) {
	deliveryID, err := id.ParseDeliveryID(m.ID)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: parse delivery id %q: %w", m.ID, err)
	}

	return &webhook.Delivery{
		ID:            deliveryID,
		Provider:      m.Provider,
		CorrelationID: m.CorrelationID,
		Class:         outcome.Class(m.Class),
		Code:          m.Code,
		Payload:       m.Payload,
		Applied:       m.Applied,
		Note:          m.Note,
		ReceivedAt:    m.ReceivedAt,
	}, nil
}

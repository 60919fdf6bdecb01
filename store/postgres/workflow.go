package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/workflow"
)

const instanceColumns = `id, definition, status, step_index, attempt, input, outputs,
	correlation_id, next_retry_at, reason_code, cancel_requested, trigger_firing,
	version, completed_at, created_at, updated_at`

// CreateInstance persists a new instance. A duplicate ID or a duplicate
// trigger firing maps to steward.ErrInstanceExists via the unique
// constraints.
func (s *Store) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	outputs, err := marshalOutputs(inst.Outputs)
	if err != nil {
		return fmt.Errorf("steward/postgres: marshal outputs: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO steward_instances (`+instanceColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`,
		inst.ID, inst.Definition, inst.Status, inst.StepIndex, inst.Attempt,
		inst.Input, outputs, inst.CorrelationID, inst.NextRetryAt, inst.ReasonCode,
		inst.CancelRequested, inst.TriggerFiring, inst.Version, inst.CompletedAt,
		inst.CreatedAt, inst.UpdatedAt,
	)
	if isDuplicateKey(err) {
		return steward.ErrInstanceExists
	}
	if err != nil {
		return fmt.Errorf("steward/postgres: create instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, instanceID id.InstanceID) (*workflow.Instance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+` FROM steward_instances WHERE id = $1
	`, instanceID)

	inst, err := scanInstance(row)
	if isNoRows(err) {
		return nil, steward.ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: get instance: %w", err)
	}
	return inst, nil
}

// UpdateInstance persists changes iff the version matches, then bumps it.
func (s *Store) UpdateInstance(ctx context.Context, inst *workflow.Instance) error {
	outputs, err := marshalOutputs(inst.Outputs)
	if err != nil {
		return fmt.Errorf("steward/postgres: marshal outputs: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE steward_instances SET
			status = $3, step_index = $4, attempt = $5, outputs = $6,
			correlation_id = $7, next_retry_at = $8, reason_code = $9,
			cancel_requested = $10, completed_at = $11, updated_at = $12,
			version = version + 1
		WHERE id = $1 AND version = $2
	`,
		inst.ID, inst.Version, inst.Status, inst.StepIndex, inst.Attempt, outputs,
		inst.CorrelationID, inst.NextRetryAt, inst.ReasonCode, inst.CancelRequested,
		inst.CompletedAt, inst.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("steward/postgres: update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if checkErr := s.pool.QueryRow(ctx,
			`SELECT EXISTS(SELECT 1 FROM steward_instances WHERE id = $1)`, inst.ID,
		).Scan(&exists); checkErr != nil {
			return fmt.Errorf("steward/postgres: update instance: %w", checkErr)
		}
		if !exists {
			return steward.ErrInstanceNotFound
		}
		return steward.ErrConflict
	}

	inst.Version++
	return nil
}

// ListInstances returns instances matching opts, ordered by creation time.
func (s *Store) ListInstances(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM steward_instances WHERE 1=1`
	args := []any{}

	if opts.Status != "" {
		args = append(args, opts.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if opts.Definition != "" {
		args = append(args, opts.Definition)
		query += fmt.Sprintf(" AND definition = $%d", len(args))
	}
	query += " ORDER BY created_at"
	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: list instances: %w", err)
	}
	defer rows.Close()

	return collectInstances(rows)
}

// ListDue returns pending instances and running instances whose retry
// time has elapsed, oldest first. Parked and terminal instances are
// never due.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*workflow.Instance, error) {
	query := `
		SELECT ` + instanceColumns + ` FROM steward_instances
		WHERE status = $1
		   OR (status = $2 AND (next_retry_at IS NULL OR next_retry_at <= $3))
		ORDER BY created_at
	`
	args := []any{workflow.StatusPending, workflow.StatusRunning, now}
	if limit > 0 {
		args = append(args, limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: list due: %w", err)
	}
	defer rows.Close()

	return collectInstances(rows)
}

// FindByCorrelation locates the instance holding a correlation id.
func (s *Store) FindByCorrelation(ctx context.Context, correlationID string) (*workflow.Instance, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+instanceColumns+` FROM steward_instances
		WHERE correlation_id = $1 AND correlation_id <> ''
	`, correlationID)

	inst, err := scanInstance(row)
	if isNoRows(err) {
		return nil, steward.ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: find by correlation: %w", err)
	}
	return inst, nil
}

// AppendAttempt appends to the audit log.
func (s *Store) AppendAttempt(ctx context.Context, att *workflow.StepAttempt) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO steward_attempts (
			id, instance_id, step_index, step_name, attempt, compensation,
			started_at, finished_at, class, code, provider_ref, raw_response
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		att.ID, att.InstanceID, att.StepIndex, att.StepName, att.Attempt,
		att.Compensation, att.StartedAt, att.FinishedAt, att.Class, att.Code,
		att.ProviderRef, att.RawResponse,
	)
	if err != nil {
		return fmt.Errorf("steward/postgres: append attempt: %w", err)
	}
	return nil
}

// ListAttempts returns attempts in execution order, compensation last.
// Rows are appended in execution order, so insertion order is it.
func (s *Store) ListAttempts(ctx context.Context, instanceID id.InstanceID) ([]*workflow.StepAttempt, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, instance_id, step_index, step_name, attempt, compensation,
			started_at, finished_at, class, code, provider_ref, raw_response
		FROM steward_attempts
		WHERE instance_id = $1
		ORDER BY compensation, seq
	`, instanceID)
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: list attempts: %w", err)
	}
	defer rows.Close()

	var out []*workflow.StepAttempt
	for rows.Next() {
		att := &workflow.StepAttempt{}
		err = rows.Scan(
			&att.ID, &att.InstanceID, &att.StepIndex, &att.StepName, &att.Attempt,
			&att.Compensation, &att.StartedAt, &att.FinishedAt, &att.Class,
			&att.Code, &att.ProviderRef, &att.RawResponse,
		)
		if err != nil {
			return nil, fmt.Errorf("steward/postgres: scan attempt: %w", err)
		}
		out = append(out, att)
	}
	return out, rows.Err()
}

// ──────────────────────────────────────────────────
// Row scanning
// ──────────────────────────────────────────────────

func scanInstance(row pgx.Row) (*workflow.Instance, error) {
	inst := &workflow.Instance{}
	var outputs []byte

	err := row.Scan(
		&inst.ID, &inst.Definition, &inst.Status, &inst.StepIndex, &inst.Attempt,
		&inst.Input, &outputs, &inst.CorrelationID, &inst.NextRetryAt,
		&inst.ReasonCode, &inst.CancelRequested, &inst.TriggerFiring,
		&inst.Version, &inst.CompletedAt, &inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(outputs) > 0 {
		if err := json.Unmarshal(outputs, &inst.Outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
	}
	return inst, nil
}

func collectInstances(rows pgx.Rows) ([]*workflow.Instance, error) {
	var out []*workflow.Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, fmt.Errorf("steward/postgres: scan instance: %w", err)
		}
		out = append(out, inst)
	}
	return out, rows.Err()
}

func marshalOutputs(outputs map[string]json.RawMessage) ([]byte, error) {
	if len(outputs) == 0 {
		return nil, nil
	}
	return json.Marshal(outputs)
}

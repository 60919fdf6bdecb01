package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/scheduler"
)

const triggerColumns = `id, name, schedule, definition, input, enabled,
	last_fired_at, next_fire_at, locked_by, locked_until, created_at, updated_at`

// RegisterTrigger persists a new trigger. A duplicate name maps to
// steward.ErrDuplicateTrigger via the unique constraint.
func (s *Store) RegisterTrigger(ctx context.Context, t *scheduler.Trigger) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO steward_triggers (`+triggerColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		t.ID, t.Name, t.Schedule, t.Definition, t.Input, t.Enabled,
		t.LastFiredAt, t.NextFireAt, t.LockedBy, t.LockedUntil,
		t.CreatedAt, t.UpdatedAt,
	)
	if isDuplicateKey(err) {
		return steward.ErrDuplicateTrigger
	}
	if err != nil {
		return fmt.Errorf("steward/postgres: register trigger: %w", err)
	}
	return nil
}

// GetTrigger retrieves a trigger by ID.
func (s *Store) GetTrigger(ctx context.Context, triggerID id.TriggerID) (*scheduler.Trigger, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+triggerColumns+` FROM steward_triggers WHERE id = $1
	`, triggerID)

	t, err := scanTrigger(row)
	if isNoRows(err) {
		return nil, steward.ErrTriggerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: get trigger: %w", err)
	}
	return t, nil
}

// ListTriggers returns all triggers ordered by name.
func (s *Store) ListTriggers(ctx context.Context) ([]*scheduler.Trigger, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+triggerColumns+` FROM steward_triggers ORDER BY name
	`)
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: list triggers: %w", err)
	}
	defer rows.Close()

	var out []*scheduler.Trigger
	for rows.Next() {
		t, scanErr := scanTrigger(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("steward/postgres: scan trigger: %w", scanErr)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// UpdateTrigger updates a trigger.
func (s *Store) UpdateTrigger(ctx context.Context, t *scheduler.Trigger) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE steward_triggers SET
			schedule = $2, definition = $3, input = $4, enabled = $5,
			last_fired_at = $6, next_fire_at = $7, updated_at = $8
		WHERE id = $1
	`,
		t.ID, t.Schedule, t.Definition, t.Input, t.Enabled,
		t.LastFiredAt, t.NextFireAt, t.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("steward/postgres: update trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return steward.ErrTriggerNotFound
	}
	return nil
}

// AcquireTriggerLock takes the firing lock if it is free, expired, or
// already held by the same owner. A single conditional UPDATE makes the
// acquisition atomic across sweepers.
func (s *Store) AcquireTriggerLock(ctx context.Context, triggerID id.TriggerID, owner id.SweeperID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE steward_triggers SET locked_by = $2, locked_until = $3
		WHERE id = $1
		  AND (locked_until IS NULL OR locked_until <= $4 OR locked_by = $2)
	`, triggerID, owner.String(), now.Add(ttl), now)
	if err != nil {
		return false, fmt.Errorf("steward/postgres: acquire trigger lock: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}

	var exists bool
	if err := s.pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM steward_triggers WHERE id = $1)`, triggerID,
	).Scan(&exists); err != nil {
		return false, fmt.Errorf("steward/postgres: acquire trigger lock: %w", err)
	}
	if !exists {
		return false, steward.ErrTriggerNotFound
	}
	return false, nil
}

// ReleaseTriggerLock releases the firing lock if owner holds it.
func (s *Store) ReleaseTriggerLock(ctx context.Context, triggerID id.TriggerID, owner id.SweeperID) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE steward_triggers SET locked_by = '', locked_until = NULL
		WHERE id = $1 AND locked_by = $2
	`, triggerID, owner.String())
	if err != nil {
		return fmt.Errorf("steward/postgres: release trigger lock: %w", err)
	}
	return nil
}

// DeleteTrigger removes a trigger by ID.
func (s *Store) DeleteTrigger(ctx context.Context, triggerID id.TriggerID) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM steward_triggers WHERE id = $1`, triggerID,
	)
	if err != nil {
		return fmt.Errorf("steward/postgres: delete trigger: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return steward.ErrTriggerNotFound
	}
	return nil
}

func scanTrigger(row pgx.Row) (*scheduler.Trigger, error) {
	t := &scheduler.Trigger{}
	err := row.Scan(
		&t.ID, &t.Name, &t.Schedule, &t.Definition, &t.Input, &t.Enabled,
		&t.LastFiredAt, &t.NextFireAt, &t.LockedBy, &t.LockedUntil,
		&t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return t, nil
}

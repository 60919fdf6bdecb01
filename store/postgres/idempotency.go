package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/idempotency"
	"github.com/chainworks/steward/outcome"
)

// GetRecord retrieves the record for a key.
func (s *Store) GetRecord(ctx context.Context, key string) (*idempotency.Record, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT key, id, first_seen_at, outcome, expires_at
		FROM steward_idempotency WHERE key = $1
	`, key)

	rec, err := scanRecord(row.Scan)
	if isNoRows(err) {
		return nil, steward.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: get record: %w", err)
	}
	return rec, nil
}

// PutOutcome records a terminal outcome; the first terminal write wins.
// The conditional upsert only replaces a row whose stored outcome is
// not yet terminal, then the surviving row is read back so both the
// winner and the loser see the same record.
func (s *Store) PutOutcome(ctx context.Context, key string, out *outcome.Outcome, expiresAt time.Time) (*idempotency.Record, error) {
	outJSON, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: marshal outcome: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO steward_idempotency (key, id, first_seen_at, outcome, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO UPDATE
		SET outcome = EXCLUDED.outcome, expires_at = EXCLUDED.expires_at
		WHERE steward_idempotency.outcome IS NULL
		   OR steward_idempotency.outcome->>'class' NOT IN ($6, $7)
	`,
		key, id.NewRecordID(), time.Now().UTC(), outJSON, expiresAt,
		outcome.Success, outcome.PermanentFailure,
	)
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: put outcome: %w", err)
	}

	return s.GetRecord(ctx, key)
}

// PurgeExpired removes records expired before the given time.
func (s *Store) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM steward_idempotency WHERE expires_at < $1`, before,
	)
	if err != nil {
		return 0, fmt.Errorf("steward/postgres: purge expired: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanRecord(scan func(dest ...any) error) (*idempotency.Record, error) {
	rec := &idempotency.Record{}
	var outJSON []byte

	if err := scan(&rec.Key, &rec.ID, &rec.FirstSeenAt, &outJSON, &rec.ExpiresAt); err != nil {
		return nil, err
	}
	if len(outJSON) > 0 {
		rec.Outcome = &outcome.Outcome{}
		if err := json.Unmarshal(outJSON, rec.Outcome); err != nil {
			return nil, fmt.Errorf("unmarshal outcome: %w", err)
		}
	}
	return rec, nil
}

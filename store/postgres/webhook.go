package postgres

import (
	"context"
	"fmt"

	"github.com/chainworks/steward/webhook"
)

// RecordDelivery appends a delivery record.
func (s *Store) RecordDelivery(ctx context.Context, d *webhook.Delivery) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO steward_deliveries (
			id, provider, correlation_id, class, code, payload, applied, note, received_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		d.ID, d.Provider, d.CorrelationID, d.Class, d.Code, d.Payload,
		d.Applied, d.Note, d.ReceivedAt,
	)
	if err != nil {
		return fmt.Errorf("steward/postgres: record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns deliveries for a correlation id, oldest first.
func (s *Store) ListDeliveries(ctx context.Context, correlationID string) ([]*webhook.Delivery, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, provider, correlation_id, class, code, payload, applied, note, received_at
		FROM steward_deliveries
		WHERE correlation_id = $1
		ORDER BY received_at
	`, correlationID)
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: list deliveries: %w", err)
	}
	defer rows.Close()

	var out []*webhook.Delivery
	for rows.Next() {
		d := &webhook.Delivery{}
		err = rows.Scan(
			&d.ID, &d.Provider, &d.CorrelationID, &d.Class, &d.Code,
			&d.Payload, &d.Applied, &d.Note, &d.ReceivedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("steward/postgres: scan delivery: %w", err)
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

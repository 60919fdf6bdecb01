package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/review"
)

const reviewColumns = `id, instance_id, definition, step_name, capability,
	code, detail, payload, failed_at, resolved_at, resolved_by, note, created_at`

// PushReview adds a record to the manual-review queue.
func (s *Store) PushReview(ctx context.Context, rec *review.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO steward_reviews (`+reviewColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`,
		rec.ID, rec.InstanceID, rec.Definition, rec.StepName, rec.Capability,
		rec.Code, rec.Detail, rec.Payload, rec.FailedAt, rec.ResolvedAt,
		rec.ResolvedBy, rec.Note, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("steward/postgres: push review: %w", err)
	}
	return nil
}

// GetReview retrieves a record by ID.
func (s *Store) GetReview(ctx context.Context, reviewID id.ReviewID) (*review.Record, error) {
	rec := &review.Record{}
	err := s.pool.QueryRow(ctx, `
		SELECT `+reviewColumns+` FROM steward_reviews WHERE id = $1
	`, reviewID).Scan(
		&rec.ID, &rec.InstanceID, &rec.Definition, &rec.StepName, &rec.Capability,
		&rec.Code, &rec.Detail, &rec.Payload, &rec.FailedAt, &rec.ResolvedAt,
		&rec.ResolvedBy, &rec.Note, &rec.CreatedAt,
	)
	if isNoRows(err) {
		return nil, steward.ErrReviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("steward/postgres: get review: %w", err)
	}
	return rec, nil
}

// ListReviews returns records matching opts, newest first.
func (s *Store) ListReviews(ctx context.Context, opts review.ListOpts) ([]*review.Record, error) {
	query := `SELECT ` + reviewColumns + ` FROM steward_reviews WHERE 1=1`
	args := []any{}

	if opts.Unresolved {
		query += " AND resolved_at IS NULL"
	}
	if opts.Definition != "" {
		args = append(args, opts.Definition)
		query += fmt.Sprintf(" AND definition = $%d", len(args))
	}
	query += " ORDER BY created_at DESC"
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
		return nil, fmt.Errorf("steward/postgres: list reviews: %w", err)
	}
	defer rows.Close()

	var out []*review.Record
	for rows.Next() {
		rec := &review.Record{}
		err = rows.Scan(
			&rec.ID, &rec.InstanceID, &rec.Definition, &rec.StepName, &rec.Capability,
			&rec.Code, &rec.Detail, &rec.Payload, &rec.FailedAt, &rec.ResolvedAt,
			&rec.ResolvedBy, &rec.Note, &rec.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("steward/postgres: scan review: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ResolveReview marks a record resolved.
func (s *Store) ResolveReview(ctx context.Context, reviewID id.ReviewID, resolvedBy, note string) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE steward_reviews SET resolved_at = $2, resolved_by = $3, note = $4
		WHERE id = $1
	`, reviewID, time.Now().UTC(), resolvedBy, note)
	if err != nil {
		return fmt.Errorf("steward/postgres: resolve review: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return steward.ErrReviewNotFound
	}
	return nil
}

// CountReviews returns the number of open records.
func (s *Store) CountReviews(ctx context.Context) (int64, error) {
	var n int64
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM steward_reviews WHERE resolved_at IS NULL`,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("steward/postgres: count reviews: %w", err)
	}
	return n, nil
}

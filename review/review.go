package review

import (
	"context"
	"time"

	"github.com/chainworks/steward/id"
)

// Record is one compensation failure awaiting manual intervention.
type Record struct {
	ID         id.ReviewID   `json:"id"`
	InstanceID id.InstanceID `json:"instance_id"`
	Definition string        `json:"definition"`
	StepName   string        `json:"step_name"`

	// Capability is the compensating capability that failed.
	Capability string `json:"capability"`

	// Code and Detail describe the classified failure.
	Code   string `json:"code"`
	Detail string `json:"detail,omitempty"`

	// Payload is the input the compensation call was made with, kept
	// verbatim so an operator can replay it by hand.
	Payload []byte `json:"payload,omitempty"`

	FailedAt   time.Time  `json:"failed_at"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"`
	Note       string     `json:"note,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Resolved reports whether an operator has closed the record.
func (r *Record) Resolved() bool { return r.ResolvedAt != nil }

// ListOpts controls pagination and filtering for review list queries.
type ListOpts struct {
	// Limit is the maximum number of records to return. Zero means no
	// limit.
	Limit int
	// Offset is the number of records to skip.
	Offset int
	// Unresolved restricts the listing to open records.
	Unresolved bool
	// Definition filters by workflow definition name. Empty means all.
	Definition string
}

// Store defines the persistence contract for the manual-review queue.
type Store interface {
	// PushReview adds a record to the queue.
	PushReview(ctx context.Context, rec *Record) error

	// GetReview retrieves a record by ID.
	// Returns steward.ErrReviewNotFound if absent.
	GetReview(ctx context.Context, reviewID id.ReviewID) (*Record, error)

	// ListReviews returns records matching the given options, newest
	// first.
	ListReviews(ctx context.Context, opts ListOpts) ([]*Record, error)

	// ResolveReview marks a record resolved. Returns
	// steward.ErrReviewNotFound if absent.
	ResolveReview(ctx context.Context, reviewID id.ReviewID, resolvedBy, note string) error

	// CountReviews returns the number of open records.
	CountReviews(ctx context.Context) (int64, error)
}

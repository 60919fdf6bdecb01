package review

import (
	"context"
	"log/slog"
	"time"

	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/outcome"
)

// Service provides high-level review-queue operations over a Store.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a review service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Push records a failed compensation for manual intervention.
func (s *Service) Push(ctx context.Context, instanceID id.InstanceID, definition, stepName, capability string, payload []byte, out *outcome.Outcome) error {
	now := time.Now().UTC()
	rec := &Record{
		ID:         id.NewReviewID(),
		InstanceID: instanceID,
		Definition: definition,
		StepName:   stepName,
		Capability: capability,
		Code:       out.Code,
		Detail:     out.Detail,
		Payload:    payload,
		FailedAt:   now,
		CreatedAt:  now,
	}
	if err := s.store.PushReview(ctx, rec); err != nil {
		return err
	}

	s.logger.Warn("compensation failed, queued for manual review",
		slog.String("review_id", rec.ID.String()),
		slog.String("instance_id", instanceID.String()),
		slog.String("step", stepName),
		slog.String("capability", capability),
		slog.String("code", out.Code),
	)
	return nil
}

// Resolve closes a record with the operator's identity and note.
func (s *Service) Resolve(ctx context.Context, reviewID id.ReviewID, resolvedBy, note string) error {
	return s.store.ResolveReview(ctx, reviewID, resolvedBy, note)
}

// Get retrieves one record.
func (s *Service) Get(ctx context.Context, reviewID id.ReviewID) (*Record, error) {
	return s.store.GetReview(ctx, reviewID)
}

// List returns records matching the given options.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Record, error) {
	return s.store.ListReviews(ctx, opts)
}

// OpenCount returns the number of unresolved records.
func (s *Service) OpenCount(ctx context.Context) (int64, error) {
	return s.store.CountReviews(ctx)
}

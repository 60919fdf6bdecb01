package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/review"
)

// PushReview adds a record to the manual-review queue.
func (s *Store) PushReview(ctx context.Context, rec *review.Record) error {
	_, err := s.db.Collection(colReviews).InsertOne(ctx, toReviewModel(rec))
	if err != nil {
		return fmt.Errorf("steward/mongo: push review: %w", err)
	}
	return nil
}

// GetReview retrieves a record by ID.
func (s *Store) GetReview(ctx context.Context, reviewID id.ReviewID) (*review.Record, error) {
	var m reviewModel
	err := s.db.Collection(colReviews).
		FindOne(ctx, bson.M{"_id": reviewID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, steward.ErrReviewNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: get review: %w", err)
	}
	return fromReviewModel(&m)
}

// ListReviews returns records matching opts, newest first.
func (s *Store) ListReviews(ctx context.Context, opts review.ListOpts) ([]*review.Record, error) {
	filter := bson.M{}
	if opts.Unresolved {
		filter["resolved_at"] = nil
	}
	if opts.Definition != "" {
		filter["definition"] = opts.Definition
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colReviews).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: list reviews: %w", err)
	}
	defer cur.Close(ctx)

	var out []*review.Record
	for cur.Next(ctx) {
		var m reviewModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("steward/mongo: decode review: %w", err)
		}
		rec, convErr := fromReviewModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, rec)
	}
	return out, cur.Err()
}

// ResolveReview marks a record resolved.
func (s *Store) ResolveReview(ctx context.Context, reviewID id.ReviewID, resolvedBy, note string) error {
	res, err := s.db.Collection(colReviews).UpdateOne(ctx,
		bson.M{"_id": reviewID.String()},
		bson.M{"$set": bson.M{
			"resolved_at": time.Now().UTC(),
			"resolved_by": resolvedBy,
			"note":        note,
		}},
	)
	if err != nil {
		return fmt.Errorf("steward/mongo: resolve review: %w", err)
	}
	if res.MatchedCount == 0 {
		return steward.ErrReviewNotFound
	}
	return nil
}

// CountReviews returns the number of open records.
func (s *Store) CountReviews(ctx context.Context) (int64, error) {
	n, err := s.db.Collection(colReviews).
		CountDocuments(ctx, bson.M{"resolved_at": nil})
	if err != nil {
		return 0, fmt.Errorf("steward/mongo: count reviews: %w", err)
	}
	return n, nil
}

package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/workflow"
)

// CreateInstance persists a new instance. A duplicate ID or a duplicate
// trigger firing maps to steward.ErrInstanceExists via the unique
// indexes.
func (s *Store) CreateInstance(ctx context.Context, inst *workflow.Instance) error {
	m, err := toInstanceModel(inst)
	if err != nil {
		return err
	}

	_, err = s.db.Collection(colInstances).InsertOne(ctx, m)
	if isDuplicateKey(err) {
		return steward.ErrInstanceExists
	}
	if err != nil {
		return fmt.Errorf("steward/mongo: create instance: %w", err)
	}
	return nil
}

// GetInstance retrieves an instance by ID.
func (s *Store) GetInstance(ctx context.Context, instanceID id.InstanceID) (*workflow.Instance, error) {
	var m instanceModel
	err := s.db.Collection(colInstances).
		FindOne(ctx, bson.M{"_id": instanceID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, steward.ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: get instance: %w", err)
	}
	return fromInstanceModel(&m)
}

// UpdateInstance persists changes iff the version matches, then bumps it.
// The version filter plus $inc makes the write an atomic compare-and-swap.
func (s *Store) UpdateInstance(ctx context.Context, inst *workflow.Instance) error {
	m, err := toInstanceModel(inst)
	if err != nil {
		return err
	}

	res, err := s.db.Collection(colInstances).UpdateOne(ctx,
		bson.M{"_id": m.ID, "version": inst.Version},
		bson.M{
			"$set": bson.M{
				"status":           m.Status,
				"step_index":       m.StepIndex,
				"attempt":          m.Attempt,
				"outputs":          m.Outputs,
				"correlation_id":   m.CorrelationID,
				"next_retry_at":    m.NextRetryAt,
				"reason_code":      m.ReasonCode,
				"cancel_requested": m.CancelRequested,
				"completed_at":     m.CompletedAt,
				"updated_at":       m.UpdatedAt,
			},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return fmt.Errorf("steward/mongo: update instance: %w", err)
	}
	if res.MatchedCount == 0 {
		n, countErr := s.db.Collection(colInstances).
			CountDocuments(ctx, bson.M{"_id": m.ID})
		if countErr != nil {
			return fmt.Errorf("steward/mongo: update instance: %w", countErr)
		}
		if n == 0 {
			return steward.ErrInstanceNotFound
		}
		return steward.ErrConflict
	}

	inst.Version++
	return nil
}

// ListInstances returns instances matching opts, ordered by creation time.
func (s *Store) ListInstances(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	filter := bson.M{}
	if opts.Status != "" {
		filter["status"] = string(opts.Status)
	}
	if opts.Definition != "" {
		filter["definition"] = opts.Definition
	}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if opts.Limit > 0 {
		findOpts.SetLimit(int64(opts.Limit))
	}
	if opts.Offset > 0 {
		findOpts.SetSkip(int64(opts.Offset))
	}

	cur, err := s.db.Collection(colInstances).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: list instances: %w", err)
	}
	return collectInstances(ctx, cur)
}

// ListDue returns pending instances and running instances whose retry
// time has elapsed, oldest first.
func (s *Store) ListDue(ctx context.Context, now time.Time, limit int) ([]*workflow.Instance, error) {
	filter := bson.M{"$or": []bson.M{
		{"status": string(workflow.StatusPending)},
		{
			"status": string(workflow.StatusRunning),
			"$or": []bson.M{
				{"next_retry_at": nil},
				{"next_retry_at": bson.M{"$lte": now}},
			},
		},
	}}

	findOpts := options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}})
	if limit > 0 {
		findOpts.SetLimit(int64(limit))
	}

	cur, err := s.db.Collection(colInstances).Find(ctx, filter, findOpts)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: list due: %w", err)
	}
	return collectInstances(ctx, cur)
}

// FindByCorrelation locates the instance holding a correlation id.
func (s *Store) FindByCorrelation(ctx context.Context, correlationID string) (*workflow.Instance, error) {
	var m instanceModel
	err := s.db.Collection(colInstances).
		FindOne(ctx, bson.M{"correlation_id": correlationID}).Decode(&m)
	if isNoDocuments(err) {
		return nil, steward.ErrInstanceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: find by correlation: %w", err)
	}
	return fromInstanceModel(&m)
}

// AppendAttempt appends to the audit log.
func (s *Store) AppendAttempt(ctx context.Context, att *workflow.StepAttempt) error {
	_, err := s.db.Collection(colAttempts).InsertOne(ctx, toAttemptModel(att))
	if err != nil {
		return fmt.Errorf("steward/mongo: append attempt: %w", err)
	}
	return nil
}

// ListAttempts returns attempts in execution order, compensation last.
// Attempt IDs are K-sortable, so _id order is append order.
func (s *Store) ListAttempts(ctx context.Context, instanceID id.InstanceID) ([]*workflow.StepAttempt, error) {
	cur, err := s.db.Collection(colAttempts).Find(ctx,
		bson.M{"instance_id": instanceID.String()},
		options.Find().SetSort(bson.D{
			{Key: "compensation", Value: 1},
			{Key: "_id", Value: 1},
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: list attempts: %w", err)
	}
	defer cur.Close(ctx)

	var out []*workflow.StepAttempt
	for cur.Next(ctx) {
		var m attemptModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("steward/mongo: decode attempt: %w", err)
		}
		att, convErr := fromAttemptModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, att)
	}
	return out, cur.Err()
}

func collectInstances(ctx context.Context, cur *mongod.Cursor) ([]*workflow.Instance, error) {
	defer cur.Close(ctx)

	var out []*workflow.Instance
	for cur.Next(ctx) {
		var m instanceModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("steward/mongo: decode instance: %w", err)
		}
		inst, convErr := fromInstanceModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, inst)
	}
	return out, cur.Err()
}

package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/scheduler"
)

// RegisterTrigger persists a new trigger. A duplicate name maps to
// steward.ErrDuplicateTrigger via the unique name index.
func (s *Store) RegisterTrigger(ctx context.Context, t *scheduler.Trigger) error {
	_, err := s.db.Collection(colTriggers).InsertOne(ctx, toTriggerModel(t))
	if isDuplicateKey(err) {
		return steward.ErrDuplicateTrigger
	}
	if err != nil {
		return fmt.Errorf("steward/mongo: register trigger: %w", err)
	}
	return nil
}

// GetTrigger retrieves a trigger by ID.
func (s *Store) GetTrigger(ctx context.Context, triggerID id.TriggerID) (*scheduler.Trigger, error) {
	var m triggerModel
	err := s.db.Collection(colTriggers).
		FindOne(ctx, bson.M{"_id": triggerID.String()}).Decode(&m)
	if isNoDocuments(err) {
		return nil, steward.ErrTriggerNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: get trigger: %w", err)
	}
	return fromTriggerModel(&m)
}

// ListTriggers returns all triggers ordered by name.
func (s *Store) ListTriggers(ctx context.Context) ([]*scheduler.Trigger, error) {
	cur, err := s.db.Collection(colTriggers).Find(ctx, bson.M{},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: list triggers: %w", err)
	}
	defer cur.Close(ctx)

	var out []*scheduler.Trigger
	for cur.Next(ctx) {
		var m triggerModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("steward/mongo: decode trigger: %w", err)
		}
		t, convErr := fromTriggerModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, t)
	}
	return out, cur.Err()
}

// UpdateTrigger updates a trigger. Lock fields are not touched so a
// bookkeeping write never extends or drops another sweeper's lock.
func (s *Store) UpdateTrigger(ctx context.Context, t *scheduler.Trigger) error {
	m := toTriggerModel(t)
	res, err := s.db.Collection(colTriggers).UpdateOne(ctx,
		bson.M{"_id": m.ID},
		bson.M{"$set": bson.M{
			"schedule":      m.Schedule,
			"definition":    m.Definition,
			"input":         m.Input,
			"enabled":       m.Enabled,
			"last_fired_at": m.LastFiredAt,
			"next_fire_at":  m.NextFireAt,
			"updated_at":    m.UpdatedAt,
		}},
	)
	if err != nil {
		return fmt.Errorf("steward/mongo: update trigger: %w", err)
	}
	if res.MatchedCount == 0 {
		return steward.ErrTriggerNotFound
	}
	return nil
}

// AcquireTriggerLock takes the firing lock if it is free, expired, or
// already held by the same owner.
func (s *Store) AcquireTriggerLock(ctx context.Context, triggerID id.TriggerID, owner id.SweeperID, ttl time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := s.db.Collection(colTriggers).UpdateOne(ctx,
		bson.M{
			"_id": triggerID.String(),
			"$or": []bson.M{
				{"locked_until": nil},
				{"locked_until": bson.M{"$lte": now}},
				{"locked_by": owner.String()},
			},
		},
		bson.M{"$set": bson.M{
			"locked_by":    owner.String(),
			"locked_until": now.Add(ttl),
		}},
	)
	if err != nil {
		return false, fmt.Errorf("steward/mongo: acquire trigger lock: %w", err)
	}
	if res.MatchedCount == 1 {
		return true, nil
	}

	n, err := s.db.Collection(colTriggers).
		CountDocuments(ctx, bson.M{"_id": triggerID.String()})
	if err != nil {
		return false, fmt.Errorf("steward/mongo: acquire trigger lock: %w", err)
	}
	if n == 0 {
		return false, steward.ErrTriggerNotFound
	}
	return false, nil
}

// ReleaseTriggerLock releases the firing lock if owner holds it.
func (s *Store) ReleaseTriggerLock(ctx context.Context, triggerID id.TriggerID, owner id.SweeperID) error {
	_, err := s.db.Collection(colTriggers).UpdateOne(ctx,
		bson.M{"_id": triggerID.String(), "locked_by": owner.String()},
		bson.M{"$set": bson.M{"locked_by": "", "locked_until": nil}},
	)
	if err != nil {
		return fmt.Errorf("steward/mongo: release trigger lock: %w", err)
	}
	return nil
}

// DeleteTrigger removes a trigger by ID.
func (s *Store) DeleteTrigger(ctx context.Context, triggerID id.TriggerID) error {
	res, err := s.db.Collection(colTriggers).
		DeleteOne(ctx, bson.M{"_id": triggerID.String()})
	if err != nil {
		return fmt.Errorf("steward/mongo: delete trigger: %w", err)
	}
	if res.DeletedCount == 0 {
		return steward.ErrTriggerNotFound
	}
	return nil
}

package mongo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/idempotency"
	"github.com/chainworks/steward/outcome"
)

// GetRecord retrieves the record for a key.
func (s *Store) GetRecord(ctx context.Context, key string) (*idempotency.Record, error) {
	var m recordModel
	err := s.db.Collection(colIdempotency).
		FindOne(ctx, bson.M{"_id": key}).Decode(&m)
	if isNoDocuments(err) {
		return nil, steward.ErrRecordNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: get record: %w", err)
	}
	return fromRecordModel(&m)
}

// PutOutcome records a terminal outcome; the first terminal write wins.
// The filtered upsert only matches documents without a terminal outcome;
// if the stored document is already terminal the upsert collides on _id
// and the existing record is read back.
func (s *Store) PutOutcome(ctx context.Context, key string, out *outcome.Outcome, expiresAt time.Time) (*idempotency.Record, error) {
	outJSON, err := json.Marshal(out)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: marshal outcome: %w", err)
	}

	filter := bson.M{
		"_id": key,
		"outcome_class": bson.M{"$nin": []string{
			string(outcome.Success), string(outcome.PermanentFailure),
		}},
	}
	update := bson.M{
		"$set": bson.M{
			"outcome_class": string(out.Class),
			"outcome":       outJSON,
			"expires_at":    expiresAt,
		},
		"$setOnInsert": bson.M{
			"record_id":     id.NewRecordID().String(),
			"first_seen_at": time.Now().UTC(),
		},
	}

	_, err = s.db.Collection(colIdempotency).
		UpdateOne(ctx, filter, update, options.UpdateOne().SetUpsert(true))
	if err != nil && !isDuplicateKey(err) {
		return nil, fmt.Errorf("steward/mongo: put outcome: %w", err)
	}

	return s.GetRecord(ctx, key)
}

// PurgeExpired removes records expired before the given time.
func (s *Store) PurgeExpired(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.Collection(colIdempotency).
		DeleteMany(ctx, bson.M{"expires_at": bson.M{"$lt": before}})
	if err != nil {
		return 0, fmt.Errorf("steward/mongo: purge expired: %w", err)
	}
	return res.DeletedCount, nil
}

package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chainworks/steward/webhook"
)

// RecordDelivery appends a delivery record.
func (s *Store) RecordDelivery(ctx context.Context, d *webhook.Delivery) error {
	_, err := s.db.Collection(colDeliveries).InsertOne(ctx, toDeliveryModel(d))
	if err != nil {
		return fmt.Errorf("steward/mongo: record delivery: %w", err)
	}
	return nil
}

// ListDeliveries returns deliveries for a correlation id, oldest first.
func (s *Store) ListDeliveries(ctx context.Context, correlationID string) ([]*webhook.Delivery, error) {
	cur, err := s.db.Collection(colDeliveries).Find(ctx,
		bson.M{"correlation_id": correlationID},
		options.Find().SetSort(bson.D{{Key: "received_at", Value: 1}}),
	)
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: list deliveries: %w", err)
	}
	defer cur.Close(ctx)

	var out []*webhook.Delivery
	for cur.Next(ctx) {
		var m deliveryModel
		if err := cur.Decode(&m); err != nil {
			return nil, fmt.Errorf("steward/mongo: decode delivery: %w", err)
		}
		d, convErr := fromDeliveryModel(&m)
		if convErr != nil {
			return nil, convErr
		}
		out = append(out, d)
	}
	return out, cur.Err()
}

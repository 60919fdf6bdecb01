// Package mongo provides the MongoDB store.Store backend using the
// official mongo-driver. Optimistic concurrency on instances is a
// version-filtered UpdateOne; idempotency's first-terminal-write-wins
// is a filtered upsert that only replaces non-terminal documents.
package mongo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"go.mongodb.org/mongo-driver/v2/bson"
	mongod "go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/chainworks/steward/idempotency"
	"github.com/chainworks/steward/review"
	"github.com/chainworks/steward/scheduler"
	"github.com/chainworks/steward/webhook"
	"github.com/chainworks/steward/workflow"
)

// Collection name constants.
const (
	colInstances   = "steward_instances"
	colAttempts    = "steward_attempts"
	colIdempotency = "steward_idempotency"
	colTriggers    = "steward_triggers"
	colReviews     = "steward_reviews"
	colDeliveries  = "steward_deliveries"
)

var (
	_ workflow.Store    = (*Store)(nil)
	_ idempotency.Store = (*Store)(nil)
	_ scheduler.Store   = (*Store)(nil)
	_ review.Store      = (*Store)(nil)
	_ webhook.Store     = (*Store)(nil)
)

// Store is a MongoDB implementation of store.Store. The caller owns the
// client lifecycle; Store never disconnects it.
type Store struct {
	db     *mongod.Database
	logger *slog.Logger
}

// Option configures the Store.
type Option func(*Store)

// WithLogger sets the logger for the store.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) { s.logger = logger }
}

// New creates a MongoDB store on the given database.
func New(db *mongod.Database, opts ...Option) *Store {
	s := &Store{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Connect dials a MongoDB deployment and returns a store on the named
// database, e.g. Connect(ctx, "mongodb://localhost:27017", "steward").
func Connect(ctx context.Context, uri, database string, opts ...Option) (*Store, error) {
	client, err := mongod.Connect(options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("steward/mongo: connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("steward/mongo: ping: %w", err)
	}
	return New(client.Database(database), opts...), nil
}

// Migrate creates indexes for all steward collections.
func (s *Store) Migrate(ctx context.Context) error {
	for col, models := range migrationIndexes() {
		if len(models) == 0 {
			continue
		}
		_, err := s.db.Collection(col).Indexes().CreateMany(ctx, models)
		if err != nil {
			return fmt.Errorf("steward/mongo: migrate %s indexes: %w", col, err)
		}
	}
	return nil
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.Client().Ping(ctx, nil)
}

// Close is a no-op because the caller owns the client lifecycle.
func (s *Store) Close() error {
	return nil
}

// Database returns the underlying *mongo.Database for advanced usage.
func (s *Store) Database() *mongod.Database {
	return s.db
}

// ── helpers ──────────────────────────────────────────────────────

func isNoDocuments(err error) bool {
	return errors.Is(err, mongod.ErrNoDocuments)
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "duplicate key") ||
		strings.Contains(err.Error(), "E11000")
}

func migrationIndexes() map[string][]mongod.IndexModel {
	return map[string][]mongod.IndexModel{
		colInstances: {
			// One instance per trigger firing.
			{
				Keys: bson.D{{Key: "trigger_firing", Value: 1}},
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"trigger_firing": bson.M{"$gt": ""}}),
			},
			// Resume lookup.
			{Keys: bson.D{{Key: "correlation_id", Value: 1}}},
			// Retry sweep: status + next_retry_at.
			{Keys: bson.D{
				{Key: "status", Value: 1},
				{Key: "next_retry_at", Value: 1},
			}},
			{Keys: bson.D{{Key: "created_at", Value: 1}}},
		},
		colAttempts: {
			// Attempt IDs are K-sortable, so _id order is append order.
			{Keys: bson.D{
				{Key: "instance_id", Value: 1},
				{Key: "_id", Value: 1},
			}},
		},
		colIdempotency: {
			{Keys: bson.D{{Key: "expires_at", Value: 1}}},
		},
		colTriggers: {
			{
				Keys:    bson.D{{Key: "name", Value: 1}},
				Options: options.Index().SetUnique(true),
			},
			{Keys: bson.D{
				{Key: "enabled", Value: 1},
				{Key: "next_fire_at", Value: 1},
			}},
		},
		colReviews: {
			{Keys: bson.D{
				{Key: "resolved_at", Value: 1},
				{Key: "created_at", Value: -1},
			}},
		},
		colDeliveries: {
			{Keys: bson.D{
				{Key: "correlation_id", Value: 1},
				{Key: "received_at", Value: 1},
			}},
		},
	}
}

// Package store defines the aggregate persistence interface. Each
// subsystem (workflow, idempotency, scheduler, review, webhook) defines
// its own store interface; the composite Store composes them all, and a
// single backend (postgres, mongo, memory) implements every one.
package store

import (
	"context"

	"github.com/chainworks/steward/idempotency"
	"github.com/chainworks/steward/review"
	"github.com/chainworks/steward/scheduler"
	"github.com/chainworks/steward/webhook"
	"github.com/chainworks/steward/workflow"
)

// Store is the aggregate persistence interface.
type Store interface {
	workflow.Store
	idempotency.Store
	scheduler.Store
	review.Store
	webhook.Store

	// Migrate runs all schema migrations.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}

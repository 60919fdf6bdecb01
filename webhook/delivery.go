package webhook

import (
	"context"
	"time"

	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/outcome"
)

// Delivery is the audit record of one inbound callback, stored whether
// or not it resumed an instance.
type Delivery struct {
	ID       id.DeliveryID `json:"id"`
	Provider string        `json:"provider"`

	// CorrelationID as extracted by the provider's parser. Empty when
	// the payload was unparseable.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Class and Code are the parsed outcome classification.
	Class outcome.Class `json:"class,omitempty"`
	Code  string        `json:"code,omitempty"`

	// Payload is the verbatim callback body.
	Payload []byte `json:"payload,omitempty"`

	// Applied reports whether the delivery resumed an instance.
	// Duplicates and late arrivals are recorded with Applied false.
	Applied bool `json:"applied"`

	// Note carries the reason a delivery was not applied.
	Note string `json:"note,omitempty"`

	ReceivedAt time.Time `json:"received_at"`
}

// Store defines the persistence contract for delivery records.
type Store interface {
	// RecordDelivery appends a delivery record. Records are immutable
	// once written.
	RecordDelivery(ctx context.Context, d *Delivery) error

	// ListDeliveries returns deliveries for a correlation id, oldest
	// first.
	ListDeliveries(ctx context.Context, correlationID string) ([]*Delivery, error)
}

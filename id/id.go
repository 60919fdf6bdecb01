// Package id defines TypeID-based identity types for all steward entities.
//
// Every entity uses a single ID struct with a prefix that identifies the
// entity type. IDs are K-sortable (UUIDv7-based), globally unique, and
// URL-safe in the format "prefix_suffix".
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity type encoded in a TypeID.
type Prefix string

// Prefix constants for all steward entity types.
const (
	PrefixInstance Prefix = "wfi"
	PrefixAttempt  Prefix = "att"
	PrefixRecord   Prefix = "idem"
	PrefixTrigger  Prefix = "trig"
	PrefixReview   Prefix = "rev"
	PrefixDelivery Prefix = "hook"
	PrefixSweeper  Prefix = "swp"
)

// ID is the primary identifier type for all steward entities.
// It wraps a TypeID providing a prefix-qualified, globally unique,
// sortable, URL-safe identifier in the format "prefix_suffix".
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates a new globally unique ID with the given prefix.
// It panics if prefix is not a valid TypeID prefix (programming error).
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}

	return ID{inner: tid, valid: true}
}

// Parse parses a TypeID string (e.g., "wfi_01h2xcejqtf2nbrexx3vqjhp41")
// into an ID. Returns an error if the string is not valid.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}

	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}

	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses a TypeID string and validates that its prefix
// matches the expected value.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}

	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}

	return parsed, nil
}

// MustParse is like Parse but panics on error. Use for hardcoded ID values.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}

	return parsed
}

// ──────────────────────────────────────────────────
// Type aliases per entity
// ──────────────────────────────────────────────────

// InstanceID is a type-safe identifier for workflow instances (prefix: "wfi").
type InstanceID = ID

// AttemptID is a type-safe identifier for step attempts (prefix: "att").
type AttemptID = ID

// RecordID is a type-safe identifier for idempotency records (prefix: "idem").
type RecordID = ID

// TriggerID is a type-safe identifier for scheduler triggers (prefix: "trig").
type TriggerID = ID

// ReviewID is a type-safe identifier for manual-review records (prefix: "rev").
type ReviewID = ID

// DeliveryID is a type-safe identifier for webhook deliveries (prefix: "hook").
type DeliveryID = ID

// SweeperID identifies one scheduler process for trigger locks (prefix: "swp").
type SweeperID = ID

// ──────────────────────────────────────────────────
// Convenience constructors
// ──────────────────────────────────────────────────

// NewInstanceID generates a new unique workflow instance ID.
func NewInstanceID() ID { return New(PrefixInstance) }

// NewAttemptID generates a new unique step attempt ID.
func NewAttemptID() ID { return New(PrefixAttempt) }

// NewRecordID generates a new unique idempotency record ID.
func NewRecordID() ID { return New(PrefixRecord) }

// NewTriggerID generates a new unique trigger ID.
func NewTriggerID() ID { return New(PrefixTrigger) }

// NewReviewID generates a new unique review record ID.
func NewReviewID() ID { return New(PrefixReview) }

// NewDeliveryID generates a new unique webhook delivery ID.
func NewDeliveryID() ID { return New(PrefixDelivery) }

// NewSweeperID generates a new unique sweeper ID.
func NewSweeperID() ID { return New(PrefixSweeper) }

// ──────────────────────────────────────────────────
// Convenience parsers
// ──────────────────────────────────────────────────

// ParseInstanceID parses a string and validates the "wfi" prefix.
func ParseInstanceID(s string) (ID, error) { return ParseWithPrefix(s, PrefixInstance) }

// ParseAttemptID parses a string and validates the "att" prefix.
func ParseAttemptID(s string) (ID, error) { return ParseWithPrefix(s, PrefixAttempt) }

// ParseRecordID parses a string and validates the "idem" prefix.
func ParseRecordID(s string) (ID, error) { return ParseWithPrefix(s, PrefixRecord) }

// ParseTriggerID parses a string and validates the "trig" prefix.
func ParseTriggerID(s string) (ID, error) { return ParseWithPrefix(s, PrefixTrigger) }

// ParseReviewID parses a string and validates the "rev" prefix.
func ParseReviewID(s string) (ID, error) { return ParseWithPrefix(s, PrefixReview) }

// ParseDeliveryID parses a string and validates the "hook" prefix.
func ParseDeliveryID(s string) (ID, error) { return ParseWithPrefix(s, PrefixDelivery) }

// ──────────────────────────────────────────────────
// ID methods
// ──────────────────────────────────────────────────

// String returns the full TypeID string representation (prefix_suffix).
// Returns an empty string for the Nil ID.
func (i ID) String() string {
	if !i.valid {
		return ""
	}

	return i.inner.String()
}

// Prefix returns the prefix component of this ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}

	return Prefix(i.inner.Prefix())
}

// IsNil reports whether this ID is the zero value.
func (i ID) IsNil() bool {
	return !i.valid
}

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}

	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil

		return nil
	}

	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}

	*i = parsed

	return nil
}

// Value implements driver.Valuer for database storage.
// Returns nil for the Nil ID so that optional foreign key columns store NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}

	return i.inner.String(), nil
}

// Scan implements sql.Scanner for database retrieval.
func (i *ID) Scan(src any) error {
	if src == nil {
		*i = Nil

		return nil
	}

	switch v := src.(type) {
	case string:
		if v == "" {
			*i = Nil

			return nil
		}

		return i.UnmarshalText([]byte(v))
	case []byte:
		if len(v) == 0 {
			*i = Nil

			return nil
		}

		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}

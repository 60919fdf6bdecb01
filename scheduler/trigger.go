package scheduler

import (
	"time"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/id"
)

// Trigger is a periodic workflow-creation rule.
type Trigger struct {
	steward.Entity

	ID   id.TriggerID `json:"id"`
	Name string       `json:"name"`

	// Schedule is the cron expression controlling when the trigger
	// fires.
	Schedule string `json:"schedule"`

	// Definition names the workflow created on each firing.
	Definition string `json:"definition"`

	// Input is the input payload given to each created instance.
	Input []byte `json:"input,omitempty"`

	Enabled bool `json:"enabled"`

	LastFiredAt *time.Time `json:"last_fired_at,omitempty"`
	NextFireAt  *time.Time `json:"next_fire_at,omitempty"`

	// LockedBy and LockedUntil implement the per-trigger firing lock.
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// FiringKey derives the deduplication key for one scheduled firing.
// Every sweeper that fires this trigger for the same scheduled time
// computes the same key.
func (t *Trigger) FiringKey(scheduled time.Time) string {
	return t.Name + "@" + scheduled.UTC().Format(time.RFC3339)
}

// Due reports whether the trigger should fire at now.
func (t *Trigger) Due(now time.Time) bool {
	return t.Enabled && t.NextFireAt != nil && !t.NextFireAt.After(now)
}

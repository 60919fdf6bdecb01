package workflow

import (
	"fmt"
	"time"

	"github.com/chainworks/steward/backoff"
)

// Step is a single unit of work within a workflow, backed by one
// integration client call.
type Step struct {
	// Name identifies the step within its definition. Unique per
	// definition; used to derive the idempotency key.
	Name string `json:"name"`

	// Capability names the integration client that executes this step
	// (e.g. "verify-training", "charge-fee", "send-sms").
	Capability string `json:"capability"`

	// Compensable declares whether a completed instance of this step
	// must be undone when a later step fails permanently.
	Compensable bool `json:"compensable,omitempty"`

	// CompensateWith names the capability invoked to undo this step.
	// Required when Compensable is true.
	CompensateWith string `json:"compensate_with,omitempty"`

	// Async declares that the step's terminal outcome arrives via a
	// provider webhook rather than the synchronous response. The
	// instance parks in awaiting-callback until the webhook ingress
	// resumes it.
	Async bool `json:"async,omitempty"`

	// Timeout bounds the synchronous call. Zero means the client's
	// default.
	Timeout time.Duration `json:"timeout,omitempty"`

	// Retry overrides the engine's cross-invocation retry policy for
	// this step. Nil means the engine default.
	Retry *backoff.Policy `json:"-"`
}

// Definition is a named, ordered sequence of steps executed for one
// business transaction. Definitions are immutable after registration.
type Definition struct {
	Name  string `json:"name"`
	Steps []Step `json:"steps"`
}

// Validate checks structural invariants of the definition.
func (d *Definition) Validate() error {
	if d.Name == "" {
		return fmt.Errorf("workflow: definition has no name")
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("workflow %q: no steps", d.Name)
	}

	seen := make(map[string]struct{}, len(d.Steps))
	for i, s := range d.Steps {
		if s.Name == "" {
			return fmt.Errorf("workflow %q: step %d has no name", d.Name, i)
		}
		if s.Capability == "" {
			return fmt.Errorf("workflow %q: step %q has no capability", d.Name, s.Name)
		}
		if _, dup := seen[s.Name]; dup {
			return fmt.Errorf("workflow %q: duplicate step name %q", d.Name, s.Name)
		}
		seen[s.Name] = struct{}{}
		if s.Compensable && s.CompensateWith == "" {
			return fmt.Errorf("workflow %q: compensable step %q has no compensating capability", d.Name, s.Name)
		}
	}
	return nil
}

// Step returns the step at index i, or false if i is out of range.
func (d *Definition) Step(i int) (Step, bool) {
	if i < 0 || i >= len(d.Steps) {
		return Step{}, false
	}
	return d.Steps[i], true
}

// Len returns the number of steps.
func (d *Definition) Len() int { return len(d.Steps) }

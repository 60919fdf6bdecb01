// Package integration provides the uniform wrapper around external
// provider calls: timeout enforcement, bounded retry with backoff and
// jitter, structured outcome classification, and the at-most-once
// guarantee via the idempotency store.
//
// A [Provider] is the raw transport for one external collaborator; it
// performs the side effect exactly once per Do call and classifies the
// response. A [Client] wraps a Provider with the reliability layer and
// a middleware chain. The orchestrator only ever sees the [Invoker]
// contract and the closed outcome classification.
package integration

import (
	"context"
	"sync"
	"time"

	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/outcome"
)

// Call describes one invocation of a capability on behalf of a
// workflow instance.
type Call struct {
	// Capability names the operation being performed (e.g.
	// "verify-training", "charge-fee", "refund-fee", "send-sms").
	// Providers dispatch on it.
	Capability string

	// InstanceID and StepName identify the workflow step this call
	// serves; together they derive the idempotency key.
	InstanceID id.InstanceID
	StepName   string

	// IdempotencyKey guarantees at most one effective side effect for
	// repeated calls. Also forwarded to providers that support their
	// own idempotency headers.
	IdempotencyKey string

	// Payload is the JSON input for the provider operation.
	Payload []byte

	// Timeout bounds the provider round trip. Zero means the client's
	// default.
	Timeout time.Duration
}

// Invoker executes a call and returns its classified outcome.
// The returned error is reserved for infrastructure faults (context
// cancelled, idempotency store unreachable); provider failures are
// always expressed as outcomes, never as errors.
type Invoker interface {
	Invoke(ctx context.Context, call *Call) (*outcome.Outcome, error)
}

// Provider is the raw transport for one external collaborator.
// Do performs the side effect at most once and classifies the result;
// it must not retry internally — retrying is the Client's job.
type Provider interface {
	// Name identifies the provider for logs and metrics.
	Name() string

	// Do performs the call. Transport-level failures may be returned
	// as errors; the Client classifies them as transient.
	Do(ctx context.Context, call *Call) (*outcome.Outcome, error)
}

// ClientSet maps capabilities to invokers. It is safe for concurrent
// use; registration normally happens once at engine build time.
type ClientSet struct {
	mu sync.RWMutex
	m  map[string]Invoker
}

// NewClientSet creates an empty ClientSet.
func NewClientSet() *ClientSet {
	return &ClientSet{m: make(map[string]Invoker)}
}

// Register binds a capability to an invoker, replacing any previous
// binding.
func (s *ClientSet) Register(capability string, inv Invoker) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.m[capability] = inv
}

// Get returns the invoker for a capability.
func (s *ClientSet) Get(capability string) (Invoker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv, ok := s.m[capability]
	return inv, ok
}

// Capabilities returns all registered capability names.
func (s *ClientSet) Capabilities() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	names := make([]string, 0, len(s.m))
	for name := range s.m {
		names = append(names, name)
	}
	return names
}

package integration

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/backoff"
	"github.com/chainworks/steward/cache"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/idempotency"
	"github.com/chainworks/steward/outcome"
)

// ── Test doubles ──────────────────────────────────────────────────────

// fakeIdemStore is an in-memory idempotency.Store for tests.
type fakeIdemStore struct {
	mu      sync.Mutex
	records map[string]*idempotency.Record
	getErr  error
	putErr  error
}

func newFakeIdemStore() *fakeIdemStore {
	return &fakeIdemStore{records: make(map[string]*idempotency.Record)}
}

func (s *fakeIdemStore) GetRecord(_ context.Context, key string) (*idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.getErr != nil {
		return nil, s.getErr
	}
	rec, ok := s.records[key]
	if !ok {
		return nil, steward.ErrRecordNotFound
	}
	return rec, nil
}

func (s *fakeIdemStore) PutOutcome(_ context.Context, key string, out *outcome.Outcome, expiresAt time.Time) (*idempotency.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.putErr != nil {
		return nil, s.putErr
	}
	if rec, ok := s.records[key]; ok && rec.Terminal() {
		return rec, nil
	}
	rec := &idempotency.Record{
		ID:          id.NewRecordID(),
		Key:         key,
		FirstSeenAt: time.Now().UTC(),
		Outcome:     out,
		ExpiresAt:   expiresAt,
	}
	s.records[key] = rec
	return rec, nil
}

func (s *fakeIdemStore) PurgeExpired(context.Context, time.Time) (int64, error) { return 0, nil }

// scriptedProvider returns a fixed sequence of outcomes, then repeats
// the last one.
type scriptedProvider struct {
	mu    sync.Mutex
	calls int
	seq   []*outcome.Outcome
	errs  []error
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) Do(context.Context, *Call) (*outcome.Outcome, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	i := p.calls
	p.calls++
	if i < len(p.errs) && p.errs[i] != nil {
		return nil, p.errs[i]
	}
	if i >= len(p.seq) {
		i = len(p.seq) - 1
	}
	return p.seq[i], nil
}

func (p *scriptedProvider) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func fastRetry(attempts int) backoff.Policy {
	return backoff.Policy{Strategy: backoff.NewConstant(time.Millisecond), MaxAttempts: attempts}
}

func newCall(step string) *Call {
	return &Call{
		Capability: "charge-fee",
		InstanceID: id.NewInstanceID(),
		StepName:   step,
		Payload:    []byte(`{"amount_cents":100}`),
	}
}

func discard() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

// ── Tests ─────────────────────────────────────────────────────────────

func TestInvokeSuccessRecordsOutcome(t *testing.T) {
	idem := newFakeIdemStore()
	prov := &scriptedProvider{seq: []*outcome.Outcome{outcome.Successf("ok", "ref-1", nil)}}
	c := NewClient(prov, idem, discard(), WithRetry(fastRetry(3)))

	call := newCall("charge")
	out, err := c.Invoke(context.Background(), call)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Class != outcome.Success {
		t.Fatalf("class = %v, want success", out.Class)
	}

	rec, err := idem.GetRecord(context.Background(), call.IdempotencyKey)
	if err != nil {
		t.Fatalf("GetRecord: %v", err)
	}
	if !rec.Terminal() || rec.Outcome.ProviderRef != "ref-1" {
		t.Fatalf("record = %+v, want terminal ref-1", rec)
	}
}

func TestInvokeReplaysRecordedOutcome(t *testing.T) {
	idem := newFakeIdemStore()
	prov := &scriptedProvider{seq: []*outcome.Outcome{outcome.Successf("ok", "ref-1", nil)}}
	c := NewClient(prov, idem, discard())

	call := newCall("charge")
	if _, err := c.Invoke(context.Background(), call); err != nil {
		t.Fatalf("first Invoke: %v", err)
	}
	out, err := c.Invoke(context.Background(), call)
	if err != nil {
		t.Fatalf("second Invoke: %v", err)
	}
	if out.ProviderRef != "ref-1" {
		t.Errorf("replayed ref = %q, want ref-1", out.ProviderRef)
	}
	if got := prov.callCount(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}
}

func TestInvokeRetriesTransientThenSucceeds(t *testing.T) {
	idem := newFakeIdemStore()
	prov := &scriptedProvider{seq: []*outcome.Outcome{
		outcome.Transient("http-503", "unavailable"),
		outcome.Transient("http-503", "unavailable"),
		outcome.Successf("ok", "ref-2", nil),
	}}
	c := NewClient(prov, idem, discard(), WithRetry(fastRetry(3)))

	out, err := c.Invoke(context.Background(), newCall("charge"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Class != outcome.Success {
		t.Fatalf("class = %v, want success", out.Class)
	}
	if got := prov.callCount(); got != 3 {
		t.Errorf("provider called %d times, want 3", got)
	}
}

func TestInvokeStopsAtPermanentFailure(t *testing.T) {
	idem := newFakeIdemStore()
	prov := &scriptedProvider{seq: []*outcome.Outcome{
		outcome.Permanent("card-declined", "declined", nil),
	}}
	c := NewClient(prov, idem, discard(), WithRetry(fastRetry(5)))

	out, err := c.Invoke(context.Background(), newCall("charge"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Class != outcome.PermanentFailure {
		t.Fatalf("class = %v, want permanent", out.Class)
	}
	if got := prov.callCount(); got != 1 {
		t.Errorf("provider called %d times, want 1 (no retry on permanent)", got)
	}
}

func TestInvokeExhaustsBudgetAndReturnsTransient(t *testing.T) {
	idem := newFakeIdemStore()
	prov := &scriptedProvider{seq: []*outcome.Outcome{outcome.Transient("http-503", "down")}}
	c := NewClient(prov, idem, discard(), WithRetry(fastRetry(3)))

	call := newCall("charge")
	out, err := c.Invoke(context.Background(), call)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Class != outcome.TransientFailure {
		t.Fatalf("class = %v, want transient", out.Class)
	}
	if got := prov.callCount(); got != 3 {
		t.Errorf("provider called %d times, want 3", got)
	}
	// Non-terminal outcomes are never recorded.
	if _, err := idem.GetRecord(context.Background(), call.IdempotencyKey); !errors.Is(err, steward.ErrRecordNotFound) {
		t.Errorf("GetRecord err = %v, want ErrRecordNotFound", err)
	}
}

func TestInvokeClassifiesTransportError(t *testing.T) {
	idem := newFakeIdemStore()
	prov := &scriptedProvider{
		errs: []error{&net.OpError{Op: "dial", Net: "tcp", Err: errors.New("connection refused")}},
		seq:  []*outcome.Outcome{nil, outcome.Successf("ok", "ref-3", nil)},
	}
	c := NewClient(prov, idem, discard(), WithRetry(fastRetry(3)))

	out, err := c.Invoke(context.Background(), newCall("charge"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Class != outcome.Success {
		t.Fatalf("class = %v, want success after transport retry", out.Class)
	}
	if got := prov.callCount(); got != 2 {
		t.Errorf("provider called %d times, want 2", got)
	}
}

func TestInvokeAbortsWhenIdempotencyStoreUnreachable(t *testing.T) {
	idem := newFakeIdemStore()
	idem.getErr = errors.New("store down")
	prov := &scriptedProvider{seq: []*outcome.Outcome{outcome.Successf("ok", "ref", nil)}}
	c := NewClient(prov, idem, discard())

	if _, err := c.Invoke(context.Background(), newCall("charge")); err == nil {
		t.Fatal("expected infrastructure error when idempotency store is down")
	}
	if got := prov.callCount(); got != 0 {
		t.Errorf("provider called %d times, want 0 (no call without idempotency guarantee)", got)
	}
}

func TestInvokeHonorsFirstTerminalWrite(t *testing.T) {
	idem := newFakeIdemStore()
	prov := &scriptedProvider{seq: []*outcome.Outcome{outcome.Successf("ok", "mine", nil)}}
	c := NewClient(prov, idem, discard())

	call := newCall("charge")
	call.IdempotencyKey = idempotency.Key(call.InstanceID, call.StepName)

	// A concurrent invocation committed first.
	prior := outcome.Successf("ok", "theirs", nil)
	if _, err := idem.PutOutcome(context.Background(), call.IdempotencyKey, prior, time.Now().Add(time.Hour)); err != nil {
		t.Fatalf("seed PutOutcome: %v", err)
	}

	out, err := c.Invoke(context.Background(), call)
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.ProviderRef != "theirs" {
		t.Errorf("ref = %q, want the earlier committed outcome", out.ProviderRef)
	}
	if got := prov.callCount(); got != 0 {
		t.Errorf("provider called %d times, want 0", got)
	}
}

func TestSharedRateLimitCapsAcrossClients(t *testing.T) {
	idem := newFakeIdemStore()
	shared := cache.NewMemory()
	prov := &scriptedProvider{seq: []*outcome.Outcome{outcome.Successf("ok", "ref", nil)}}

	newLimited := func() *Client {
		return NewClient(prov, idem, discard(),
			WithRetry(fastRetry(1)),
			WithCache(shared),
			WithSharedRateLimit("send-sms", 2, time.Minute),
		)
	}
	// Two clients, one counter: the cap is account-wide, not per client.
	a, b := newLimited(), newLimited()

	for i, c := range []*Client{a, b} {
		out, err := c.Invoke(context.Background(), newCall("notify-"+string(rune('a'+i))))
		if err != nil {
			t.Fatalf("Invoke %d: %v", i, err)
		}
		if out.Class != outcome.Success {
			t.Fatalf("Invoke %d class = %v, want success", i, out.Class)
		}
	}

	out, err := a.Invoke(context.Background(), newCall("notify-c"))
	if err != nil {
		t.Fatalf("Invoke over cap: %v", err)
	}
	if out.Class != outcome.TransientFailure || out.Code != "rate-limited" {
		t.Fatalf("outcome = %+v, want transient rate-limited", out)
	}
	if got := prov.callCount(); got != 2 {
		t.Errorf("provider called %d times, want 2 (third call held by the window cap)", got)
	}
}

func TestRecoverMiddlewareTurnsPanicIntoPermanent(t *testing.T) {
	idem := newFakeIdemStore()
	prov := &panickyProvider{}
	c := NewClient(prov, idem, discard(), WithMiddleware(Recover(discard())))

	out, err := c.Invoke(context.Background(), newCall("charge"))
	if err != nil {
		t.Fatalf("Invoke: %v", err)
	}
	if out.Class != outcome.PermanentFailure || out.Code != "adapter-panic" {
		t.Fatalf("outcome = %+v, want adapter-panic permanent failure", out)
	}
}

type panickyProvider struct{}

func (panickyProvider) Name() string { return "panicky" }

func (panickyProvider) Do(context.Context, *Call) (*outcome.Outcome, error) {
	panic("nil map write")
}

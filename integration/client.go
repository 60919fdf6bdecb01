package integration

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/backoff"
	"github.com/chainworks/steward/cache"
	"github.com/chainworks/steward/idempotency"
	"github.com/chainworks/steward/outcome"
)

// storeWriteRetries bounds how often a terminal-outcome write to the
// idempotency store is retried before the call is surfaced as an
// infrastructure error. The write is never silently dropped.
const storeWriteRetries = 3

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithRetry sets the intra-call retry policy.
func WithRetry(p backoff.Policy) ClientOption {
	return func(c *Client) { c.retry = p }
}

// WithDefaultTimeout sets the per-attempt timeout used when a call does
// not carry its own.
func WithDefaultTimeout(d time.Duration) ClientOption {
	return func(c *Client) { c.defaultTimeout = d }
}

// WithRateLimit caps outbound calls to the provider at r per second
// with the given burst.
func WithRateLimit(r rate.Limit, burst int) ClientOption {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithSharedRateLimit caps calls across every process sharing the
// cache: each attempt increments a windowed counter under key, and
// attempts past max within the window classify as transient
// rate-limited failures handled by the normal retry machinery. The
// local token-bucket limiter only smooths this process's bursts; this
// holds the provider's account-wide cap.
func WithSharedRateLimit(key string, max int64, window time.Duration) ClientOption {
	return func(c *Client) {
		c.sharedLimitKey = key
		c.sharedLimitMax = max
		c.sharedLimitWindow = window
	}
}

// WithCache sets the volatile read-through mirror for idempotency
// lookups. Optional; without it every lookup goes to the durable store.
func WithCache(ca cache.Cache) ClientOption {
	return func(c *Client) { c.cache = ca }
}

// WithIdempotencyTTL sets how long terminal outcomes are retained.
func WithIdempotencyTTL(ttl time.Duration) ClientOption {
	return func(c *Client) { c.recordTTL = ttl }
}

// WithMiddleware appends middleware to the client's chain.
func WithMiddleware(mws ...Middleware) ClientOption {
	return func(c *Client) { c.mws = append(c.mws, mws...) }
}

// Client wraps a Provider with the reliability layer: idempotency
// consultation and write-back, per-attempt timeouts, bounded retry
// with backoff and jitter, optional rate limiting, and middleware.
type Client struct {
	provider Provider
	idem     idempotency.Store
	cache    cache.Cache
	retry    backoff.Policy
	limiter  *rate.Limiter
	mws      []Middleware
	logger   *slog.Logger

	defaultTimeout time.Duration
	recordTTL      time.Duration

	sharedLimitKey    string
	sharedLimitMax    int64
	sharedLimitWindow time.Duration
}

var _ Invoker = (*Client)(nil)

// NewClient creates a Client over a provider and idempotency store.
func NewClient(provider Provider, idem idempotency.Store, logger *slog.Logger, opts ...ClientOption) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Client{
		provider:       provider,
		idem:           idem,
		cache:          cache.Nop{},
		retry:          backoff.DefaultPolicy(),
		logger:         logger,
		defaultTimeout: 30 * time.Second,
		recordTTL:      72 * time.Hour,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Invoke executes the call with the full reliability layer.
//
// The idempotency store is consulted first: if a terminal outcome
// already exists for the call's key, it is returned without contacting
// the provider. Otherwise the provider is called with a per-attempt
// timeout, transient failures are retried within the policy's budget,
// and any terminal outcome is durably recorded before being returned.
func (c *Client) Invoke(ctx context.Context, call *Call) (*outcome.Outcome, error) {
	if call.IdempotencyKey == "" {
		call.IdempotencyKey = idempotency.Key(call.InstanceID, call.StepName)
	}

	// Fast path: volatile mirror. Cache errors are misses.
	if cached, err := c.cache.GetOutcome(ctx, call.IdempotencyKey); err == nil && cached != nil && cached.Class.Terminal() {
		c.logger.Debug("idempotent replay from cache",
			slog.String("provider", c.provider.Name()),
			slog.String("key", call.IdempotencyKey),
			slog.String("class", string(cached.Class)),
		)
		return cached, nil
	}

	// Authoritative check. An unreachable store aborts the call: invoking
	// the provider without the idempotency guarantee risks a duplicate
	// side effect.
	rec, err := c.idem.GetRecord(ctx, call.IdempotencyKey)
	if err != nil && !errors.Is(err, steward.ErrRecordNotFound) {
		return nil, fmt.Errorf("integration %s: idempotency lookup for %q: %w", c.provider.Name(), call.IdempotencyKey, err)
	}
	if err == nil && rec.Terminal() {
		c.mirror(ctx, call.IdempotencyKey, rec.Outcome)
		c.logger.Debug("idempotent replay from store",
			slog.String("provider", c.provider.Name()),
			slog.String("key", call.IdempotencyKey),
			slog.String("class", string(rec.Outcome.Class)),
		)
		return rec.Outcome, nil
	}

	out, err := c.attemptLoop(ctx, call)
	if err != nil {
		return nil, err
	}

	if out.Class.Terminal() {
		stored, commitErr := c.commit(ctx, call.IdempotencyKey, out)
		if commitErr != nil {
			return nil, commitErr
		}
		// First write wins: a concurrent invocation may have committed
		// a different terminal outcome; honor the stored one.
		out = stored
		c.mirror(ctx, call.IdempotencyKey, out)
	}

	return out, nil
}

// attemptLoop runs the provider through the middleware chain with
// per-attempt timeouts, retrying transient failures within the budget.
func (c *Client) attemptLoop(ctx context.Context, call *Call) (*outcome.Outcome, error) {
	chain := Chain(c.mws...)
	timeout := call.Timeout
	if timeout <= 0 {
		timeout = c.defaultTimeout
	}

	var last *outcome.Outcome
	for attempt := 1; ; attempt++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("integration %s: rate limiter: %w", c.provider.Name(), err)
			}
		}

		var out *outcome.Outcome
		if c.overSharedLimit(ctx) {
			out = outcome.Transient("rate-limited", "shared window cap reached for "+c.sharedLimitKey)
		} else {
			out = c.attempt(ctx, call, chain, timeout)
		}
		if out.Class.Terminal() {
			return out, nil
		}
		last = out

		if c.retry.Exhausted(attempt) {
			c.logger.Warn("intra-call retry budget exhausted",
				slog.String("provider", c.provider.Name()),
				slog.String("capability", call.Capability),
				slog.Int("attempts", attempt),
				slog.String("code", out.Code),
			)
			return last, nil
		}

		delay := c.retry.Strategy.Delay(attempt)
		c.logger.Debug("retrying provider call",
			slog.String("provider", c.provider.Name()),
			slog.String("capability", call.Capability),
			slog.Int("attempt", attempt),
			slog.Duration("delay", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// overSharedLimit reports whether the shared window counter is past the
// cap. Counter errors never limit; the cache is best effort and a lost
// counter only loosens the cap until the window rolls.
func (c *Client) overSharedLimit(ctx context.Context) bool {
	if c.sharedLimitMax <= 0 {
		return false
	}
	n, err := c.cache.Incr(ctx, c.sharedLimitKey, c.sharedLimitWindow)
	if err != nil {
		c.logger.Debug("shared rate-limit counter unavailable",
			slog.String("key", c.sharedLimitKey),
			slog.String("error", err.Error()),
		)
		return false
	}
	return n > c.sharedLimitMax
}

// attempt performs one provider round trip and classifies the result.
func (c *Client) attempt(ctx context.Context, call *Call, chain Middleware, timeout time.Duration) *outcome.Outcome {
	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	out, err := chain(attemptCtx, call, func(ctx context.Context) (*outcome.Outcome, error) {
		return c.provider.Do(ctx, call)
	})
	if err != nil {
		class := outcome.ClassifyErr(err)
		if class == outcome.TransientFailure {
			return outcome.Transient("provider-unreachable", err.Error())
		}
		return outcome.Permanent("invalid-call", err.Error(), nil)
	}
	return out
}

// commit durably records a terminal outcome. The write is retried a
// bounded number of times; if it still cannot complete, the failure is
// surfaced rather than dropped, so the caller re-runs the call later
// and the idempotency check absorbs the duplicate.
func (c *Client) commit(ctx context.Context, key string, out *outcome.Outcome) (*outcome.Outcome, error) {
	expires := time.Now().UTC().Add(c.recordTTL)

	var lastErr error
	for i := 0; i < storeWriteRetries; i++ {
		rec, err := c.idem.PutOutcome(ctx, key, out, expires)
		if err == nil {
			return rec.Outcome, nil
		}
		lastErr = err
		select {
		case <-time.After(time.Duration(i+1) * 100 * time.Millisecond):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("integration %s: record outcome for %q: %w", c.provider.Name(), key, lastErr)
}

// mirror writes a terminal outcome to the cache, best effort.
func (c *Client) mirror(ctx context.Context, key string, out *outcome.Outcome) {
	if err := c.cache.SetOutcome(ctx, key, out, c.recordTTL); err != nil {
		c.logger.Debug("cache mirror failed",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

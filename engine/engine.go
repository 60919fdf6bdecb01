package engine

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/chainworks/steward"
	"github.com/chainworks/steward/backoff"
	"github.com/chainworks/steward/cache"
	redcache "github.com/chainworks/steward/cache/redis"
	"github.com/chainworks/steward/id"
	"github.com/chainworks/steward/integration"
	"github.com/chainworks/steward/integration/providers"
	"github.com/chainworks/steward/orchestrator"
	"github.com/chainworks/steward/review"
	"github.com/chainworks/steward/scheduler"
	"github.com/chainworks/steward/store"
	"github.com/chainworks/steward/store/memory"
	"github.com/chainworks/steward/store/mongo"
	"github.com/chainworks/steward/store/postgres"
	"github.com/chainworks/steward/webhook"
	"github.com/chainworks/steward/workflow"
)

// smsRateLimit caps outbound SMS submissions; the gateway throttles
// well below this but a local limiter keeps bursts from tripping 429s.
const smsRateLimit = rate.Limit(10)

// smsWindowCap holds the gateway's account-wide per-minute cap across
// every process sharing the cache. Matches smsRateLimit sustained over
// a minute.
const smsWindowCap = int64(600)

// Engine wraps a Steward with the fully wired orchestration runtime:
// definition registry, integration client set, orchestrator, retry
// pool, trigger scheduler, and webhook ingress.
// Use Build() to create one.
type Engine struct {
	s      *steward.Steward
	cfg    steward.Config
	logger *slog.Logger

	store    store.Store
	cache    cache.Cache
	registry *workflow.Registry
	clients  *integration.ClientSet
	reviews  *review.Service

	orchestrator *orchestrator.Orchestrator
	pool         *orchestrator.Pool
	scheduler    *scheduler.Scheduler
	ingress      *webhook.Ingress

	// Build-time options.
	defs           []*workflow.Definition
	customClients  map[string]integration.Invoker
	mws            []integration.Middleware
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	noDefaults     bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithDefinitions registers workflow definitions in addition to the
// built-in defaults.
func WithDefinitions(defs ...*workflow.Definition) Option {
	return func(eng *Engine) {
		eng.defs = append(eng.defs, defs...)
	}
}

// WithoutDefaultDefinitions skips registration of the built-in
// compliance-check and certificate-sync definitions.
func WithoutDefaultDefinitions() Option {
	return func(eng *Engine) {
		eng.noDefaults = true
	}
}

// WithClient binds a capability to a custom invoker, overriding any
// provider wired from configuration.
func WithClient(capability string, inv integration.Invoker) Option {
	return func(eng *Engine) {
		eng.customClients[capability] = inv
	}
}

// WithMiddleware adds middleware to every integration client built from
// configuration. Custom invokers registered via WithClient are not
// wrapped.
func WithMiddleware(mws ...integration.Middleware) Option {
	return func(eng *Engine) {
		eng.mws = append(eng.mws, mws...)
	}
}

// WithTracerProvider sets a custom OTel TracerProvider. If not set, the
// global otel.GetTracerProvider() is used.
func WithTracerProvider(tp trace.TracerProvider) Option {
	return func(eng *Engine) {
		eng.tracerProvider = tp
	}
}

// WithMeterProvider sets a custom OTel MeterProvider. If not set, the
// global otel.GetMeterProvider() is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(eng *Engine) {
		eng.meterProvider = mp
	}
}

// runtime bundles the pool and scheduler lifecycles behind the
// steward's runner contract.
type runtime struct {
	pool  *orchestrator.Pool
	sched *scheduler.Scheduler
}

func (r *runtime) Start(ctx context.Context) error {
	if err := r.pool.Start(ctx); err != nil {
		return err
	}
	return r.sched.Start(ctx)
}

func (r *runtime) Stop(ctx context.Context) error {
	if err := r.sched.Stop(ctx); err != nil {
		return err
	}
	return r.pool.Stop(ctx)
}

// Build creates an Engine from a Steward. If the steward carries no
// store, one is opened from Config.StateStoreURL; either way the store
// must satisfy the composite store.Store interface.
func Build(s *steward.Steward, opts ...Option) (*Engine, error) {
	cfg := s.Config()
	logger := s.Logger()

	eng := &Engine{
		s:             s,
		cfg:           cfg,
		logger:        logger,
		registry:      workflow.NewRegistry(),
		clients:       integration.NewClientSet(),
		customClients: make(map[string]integration.Invoker),
	}
	for _, opt := range opts {
		opt(eng)
	}

	if err := eng.resolveStore(); err != nil {
		return nil, err
	}
	if err := eng.resolveCache(); err != nil {
		return nil, err
	}
	if err := eng.registerDefinitions(); err != nil {
		return nil, err
	}
	eng.buildClients()

	policy := backoff.NewPolicy(cfg.Retry.BaseDelay, cfg.Retry.MaxDelay, cfg.Retry.MaxAttempts)

	eng.reviews = review.NewService(eng.store, logger)
	eng.orchestrator = orchestrator.New(eng.store, eng.registry, eng.clients, logger,
		orchestrator.WithRetryPolicy(policy),
		orchestrator.WithReview(eng.reviews),
	)
	eng.pool = orchestrator.NewPool(eng.store, eng.orchestrator, logger,
		orchestrator.WithPoolConcurrency(cfg.Concurrency),
		orchestrator.WithPollInterval(cfg.SweepInterval),
	)
	eng.scheduler = scheduler.New(eng.store, eng.orchestrator.CreateInstance, eng.pool, logger,
		scheduler.WithSweepInterval(cfg.SweepInterval),
	)

	eng.ingress = webhook.NewIngress(eng.orchestrator, eng.store, logger)
	eng.ingress.Register("payfort", webhook.PayfortSettlement)
	eng.ingress.Register("training-connect", webhook.TrainingConnectUpload)

	s.SetRuntime(&runtime{pool: eng.pool, sched: eng.scheduler})

	return eng, nil
}

// resolveStore adopts the steward's store or opens one from the
// configured URL.
func (eng *Engine) resolveStore() error {
	if existing := eng.s.Store(); existing != nil {
		st, ok := existing.(store.Store)
		if !ok {
			return fmt.Errorf("steward: store does not implement store.Store")
		}
		eng.store = st
		return nil
	}

	st, err := openStore(context.Background(), eng.cfg.StateStoreURL, eng.logger)
	if err != nil {
		return err
	}
	eng.store = st
	eng.s.SetStore(st)
	return nil
}

// openStore builds a store backend from a connection URL. The scheme
// selects the backend; memory:// (or an empty URL) is for tests and
// development only.
func openStore(ctx context.Context, url string, logger *slog.Logger) (store.Store, error) {
	switch {
	case url == "" || strings.HasPrefix(url, "memory://"):
		return memory.New(), nil
	case strings.HasPrefix(url, "postgres://"), strings.HasPrefix(url, "postgresql://"):
		st, err := postgres.New(ctx, url, postgres.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return st, nil
	case strings.HasPrefix(url, "mongodb://"), strings.HasPrefix(url, "mongodb+srv://"):
		st, err := mongo.Connect(ctx, url, "steward", mongo.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		return st, nil
	default:
		return nil, fmt.Errorf("steward: unsupported state store url %q", url)
	}
}

// resolveCache opens the redis cache when configured; otherwise the
// in-process cache serves the same contract.
func (eng *Engine) resolveCache() error {
	if eng.cfg.CacheURL == "" {
		eng.cache = cache.NewMemory()
		return nil
	}

	redisOpts, err := goredis.ParseURL(eng.cfg.CacheURL)
	if err != nil {
		return fmt.Errorf("steward: parse cache url: %w", err)
	}
	eng.cache = redcache.New(goredis.NewClient(redisOpts))
	return nil
}

func (eng *Engine) registerDefinitions() error {
	if !eng.noDefaults {
		for _, def := range DefaultDefinitions() {
			if err := eng.registry.Register(def); err != nil {
				return err
			}
		}
	}
	for _, def := range eng.defs {
		if err := eng.registry.Register(def); err != nil {
			return err
		}
	}
	return nil
}

// buildClients wires integration clients for every provider with a
// configured endpoint, then applies custom bindings on top.
func (eng *Engine) buildClients() {
	p := eng.cfg.Providers
	hc := &http.Client{Timeout: 30 * time.Second}

	var tracingMw integration.Middleware
	if eng.tracerProvider != nil {
		tracingMw = integration.TracingWithTracer(eng.tracerProvider.Tracer("github.com/chainworks/steward"))
	} else {
		tracingMw = integration.Tracing()
	}
	var metricsMw integration.Middleware
	if eng.meterProvider != nil {
		metricsMw = integration.MetricsWithMeter(eng.meterProvider.Meter("github.com/chainworks/steward"))
	} else {
		metricsMw = integration.Metrics()
	}

	mws := []integration.Middleware{
		integration.Recover(eng.logger),
		tracingMw,
		metricsMw,
		integration.Logging(eng.logger),
	}
	mws = append(mws, eng.mws...)

	policy := backoff.NewPolicy(eng.cfg.Retry.BaseDelay, eng.cfg.Retry.MaxDelay, eng.cfg.Retry.MaxAttempts)

	register := func(provider integration.Provider, extra []integration.ClientOption, capabilities ...string) {
		opts := []integration.ClientOption{
			integration.WithRetry(policy),
			integration.WithCache(eng.cache),
			integration.WithIdempotencyTTL(eng.cfg.IdempotencyTTL),
			integration.WithMiddleware(mws...),
		}
		opts = append(opts, extra...)
		client := integration.NewClient(provider, eng.store, eng.logger, opts...)
		for _, capability := range capabilities {
			eng.clients.Register(capability, client)
		}
	}

	if p.TrainingConnectURL != "" {
		register(providers.NewTrainingConnect(p.TrainingConnectURL, p.TrainingConnectToken, hc),
			nil, "verify-training", "sync-certificate")
	}
	if p.PaymentURL != "" {
		register(providers.NewPayfort(p.PaymentURL, p.PaymentAPIKey, hc),
			nil, "charge-fee", "refund-fee")
	}
	if p.SMSAccountID != "" {
		register(providers.NewOctoSMS("", p.SMSAccountID, p.SMSAuthToken, p.SMSSender, hc),
			[]integration.ClientOption{
				integration.WithRateLimit(smsRateLimit, 10),
				integration.WithSharedRateLimit("send-sms", smsWindowCap, time.Minute),
			},
			"send-sms")
	}
	if p.MailRelayURL != "" {
		register(providers.NewMailRelay(p.MailRelayURL, p.MailRelayToken, p.MailFrom, hc),
			nil, "send-email")
	}

	for capability, inv := range eng.customClients {
		eng.clients.Register(capability, inv)
	}
}

// ──────────────────────────────────────────────────
// Application API
// ──────────────────────────────────────────────────

// CreateWorkflow creates a new instance of the named definition and
// submits it for immediate processing.
func (eng *Engine) CreateWorkflow(ctx context.Context, definition string, input []byte) (*workflow.Instance, error) {
	inst, err := eng.orchestrator.CreateInstance(ctx, definition, input, "")
	if err != nil {
		return nil, err
	}
	eng.pool.Submit(inst)
	return inst, nil
}

// GetWorkflow retrieves a workflow instance by ID.
func (eng *Engine) GetWorkflow(ctx context.Context, instanceID id.InstanceID) (*workflow.Instance, error) {
	return eng.orchestrator.GetInstance(ctx, instanceID)
}

// ListWorkflows returns instances matching the given options.
func (eng *Engine) ListWorkflows(ctx context.Context, opts workflow.ListOpts) ([]*workflow.Instance, error) {
	return eng.store.ListInstances(ctx, opts)
}

// CancelWorkflow requests cancellation of an instance. Cancellation of
// an instance awaiting a callback is deferred until the callback
// resolves.
func (eng *Engine) CancelWorkflow(ctx context.Context, instanceID id.InstanceID) error {
	return eng.orchestrator.Cancel(ctx, instanceID)
}

// ListAttempts returns the step-attempt audit log for an instance.
func (eng *Engine) ListAttempts(ctx context.Context, instanceID id.InstanceID) ([]*workflow.StepAttempt, error) {
	return eng.orchestrator.ListAttempts(ctx, instanceID)
}

// RegisterTrigger registers a periodic workflow-creation rule.
func (eng *Engine) RegisterTrigger(ctx context.Context, t *scheduler.Trigger) error {
	return eng.scheduler.Register(ctx, t)
}

// WebhookHandler returns the HTTP handler serving inbound provider
// callbacks. Mount it on the application's HTTP server.
func (eng *Engine) WebhookHandler() http.Handler {
	return eng.ingress.Handler()
}

// Reviews returns the manual-review service.
func (eng *Engine) Reviews() *review.Service { return eng.reviews }

// Orchestrator returns the orchestrator for direct access.
func (eng *Engine) Orchestrator() *orchestrator.Orchestrator { return eng.orchestrator }

// Scheduler returns the trigger scheduler for direct access.
func (eng *Engine) Scheduler() *scheduler.Scheduler { return eng.scheduler }

// Registry returns the workflow definition registry.
func (eng *Engine) Registry() *workflow.Registry { return eng.registry }

// Clients returns the integration client set.
func (eng *Engine) Clients() *integration.ClientSet { return eng.clients }

// Store returns the composite persistence backend.
func (eng *Engine) Store() store.Store { return eng.store }

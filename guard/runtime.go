package guard

import (
	"context"
	"fmt"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/jonwraymond/callguard/cache"
	"github.com/jonwraymond/callguard/config"
	"github.com/jonwraymond/callguard/failure"
	"github.com/jonwraymond/callguard/health"
	"github.com/jonwraymond/callguard/observe"
	"github.com/jonwraymond/callguard/resilience"
	"github.com/jonwraymond/callguard/secret"
)

// Runtime owns the shared callguard components of a process.
//
// Contract:
//   - Concurrency: safe for concurrent use.
//   - Lifecycle: Start and Stop are idempotent. After Stop, Cache returns
//     ErrStopped; components already handed out keep working.
type Runtime struct {
	cfg      config.Config
	obs      observe.Observer
	logger   observe.Logger
	mw       *observe.Middleware
	handler  *failure.Handler
	breakers *resilience.BreakerRegistry
	health   *health.Aggregator

	mu      sync.Mutex
	caches  map[string]*cache.AsyncCache
	runCtx  context.Context
	stopped bool
}

// New builds a Runtime from cfg and installs its failure Handler as the
// process default.
func New(ctx context.Context, cfg config.Config) (*Runtime, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	obs, err := observe.NewObserver(ctx, cfg.Observe())
	if err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}
	mw, err := observe.MiddlewareFromObserver(obs)
	if err != nil {
		return nil, fmt.Errorf("guard: %w", err)
	}

	alert, err := newAlert(ctx, cfg.Errors)
	if err != nil {
		_ = obs.Shutdown(ctx)
		return nil, err
	}

	defaults := failure.BreakerDefaults(obs.Logger(), obs.Instruments())
	defaults.FailureThreshold = cfg.Breaker.FailureThreshold
	defaults.OpenTimeout = cfg.Breaker.OpenTimeout
	breakers := resilience.NewBreakerRegistry(defaults)

	handler := failure.New(failure.Options{
		LogDir:    cfg.Errors.LogDir,
		Logger:    obs.Logger(),
		Metrics:   obs.Instruments(),
		Tracer:    observe.NewTracer(obs.Tracer()),
		Alert:     alert,
		Breakers:  breakers,
		RetryUnit: cfg.Errors.RetryUnit,
	})
	failure.SetDefault(handler)

	agg := health.NewAggregator(health.AggregatorConfig{Timeout: cfg.Health.Timeout})
	agg.Register("circuit_breakers", health.NewBreakerChecker(breakers))

	return &Runtime{
		cfg:      cfg,
		obs:      obs,
		logger:   obs.Logger(),
		mw:       mw,
		handler:  handler,
		breakers: breakers,
		health:   agg,
		caches:   make(map[string]*cache.AsyncCache),
	}, nil
}

func newAlert(ctx context.Context, cfg config.ErrorsConfig) (failure.AlertFunc, error) {
	if cfg.AlertWebhookURL == "" {
		return nil, nil
	}
	url, err := secret.DefaultResolver().ResolveValue(ctx, cfg.AlertWebhookURL)
	if err != nil {
		return nil, fmt.Errorf("guard: resolve alert webhook: %w", err)
	}
	return failure.NewWebhookAlerter(url, failure.WithUsername(cfg.AlertUsername)).Alert, nil
}

// Config returns the configuration the Runtime was built from.
func (r *Runtime) Config() config.Config { return r.cfg }

// Observer returns the telemetry observer.
func (r *Runtime) Observer() observe.Observer { return r.obs }

// Middleware returns the operation middleware built on the observer.
func (r *Runtime) Middleware() *observe.Middleware { return r.mw }

// Handler returns the failure handler.
func (r *Runtime) Handler() *failure.Handler { return r.handler }

// Breakers returns the circuit breaker registry.
func (r *Runtime) Breakers() *resilience.BreakerRegistry { return r.breakers }

var cacheNamePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)

// Cache returns the named cache, creating it on first use in its own
// subdirectory of the configured cache dir. A cache created after Start has
// its sweeper started immediately.
func (r *Runtime) Cache(name string) (*cache.AsyncCache, error) {
	if !cacheNamePattern.MatchString(name) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCacheName, name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stopped {
		return nil, ErrStopped
	}
	if c, ok := r.caches[name]; ok {
		return c, nil
	}

	strategy, err := cache.ParseStrategy(r.cfg.Cache.Strategy)
	if err != nil {
		return nil, err
	}
	c, err := cache.New(cache.Options{
		Name:          name,
		Strategy:      strategy,
		Dir:           filepath.Join(r.cfg.Cache.Dir, name),
		MaxEntries:    r.cfg.Cache.MaxEntries,
		Policy:        r.cfg.CachePolicy(),
		SweepInterval: r.cfg.Cache.SweepInterval,
		Logger:        r.logger,
		Metrics:       r.obs.Instruments(),
	})
	if err != nil {
		return nil, fmt.Errorf("guard: cache %s: %w", name, err)
	}

	r.caches[name] = c
	r.health.Register("cache."+name, health.NewCacheChecker(c, health.CacheCheckerConfig{
		MinHitRatio:       r.cfg.Health.CacheMinHitRatio,
		DiskWarningBytes:  r.cfg.Health.DiskWarningBytes,
		DiskCriticalBytes: r.cfg.Health.DiskCriticalBytes,
	}))
	if r.runCtx != nil {
		c.Start(r.runCtx)
	}
	return c, nil
}

// Start starts the sweepers of every cache, current and future.
func (r *Runtime) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped || r.runCtx != nil {
		return
	}
	r.runCtx = context.WithoutCancel(ctx)
	for _, c := range r.caches {
		c.Start(r.runCtx)
	}
	r.logger.Info(ctx, "callguard runtime started", observe.Field{Key: "caches", Value: len(r.caches)})
}

// Stop stops every sweeper, flushes telemetry and clears the process default
// failure Handler.
func (r *Runtime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	caches := make([]*cache.AsyncCache, 0, len(r.caches))
	for _, c := range r.caches {
		caches = append(caches, c)
	}
	r.mu.Unlock()

	for _, c := range caches {
		c.Stop()
	}
	failure.ResetDefault()

	r.logger.Info(ctx, "callguard runtime stopped")
	if err := r.obs.Shutdown(ctx); err != nil {
		return fmt.Errorf("guard: shutdown telemetry: %w", err)
	}
	return nil
}

// Health runs every registered health check.
func (r *Runtime) Health(ctx context.Context) health.Report {
	return r.health.Report(ctx)
}

// HealthAggregator returns the aggregator so callers can register their own
// checkers.
func (r *Runtime) HealthAggregator() *health.Aggregator { return r.health }

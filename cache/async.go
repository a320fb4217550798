package cache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jonwraymond/callguard/observe"
)

// DefaultSweepInterval is how often the background sweeper runs when
// Options.SweepInterval is unset.
const DefaultSweepInterval = 5 * time.Minute

const (
	tierMemory = "memory"
	tierDisk   = "disk"
)

// Options configures an AsyncCache.
type Options struct {
	// Name identifies the cache in logs and metrics. Defaults to "default".
	Name string

	// Strategy selects the storage tiers. The zero value is StrategyMemory.
	Strategy Strategy

	// Dir holds the disk tier's files. Required for StrategyDisk and
	// StrategyHybrid. External processes must not write into it.
	Dir string

	// MaxEntries bounds the memory tier. Defaults to DefaultMaxEntries.
	MaxEntries int

	// Policy decides the TTL of entries set without one. The zero value
	// means such entries never expire.
	Policy Policy

	// SweepInterval is the period of the background sweeper started by Start.
	SweepInterval time.Duration

	Logger  observe.Logger
	Metrics observe.CacheMetrics

	// Clock returns the current time. Defaults to time.Now.
	Clock func() time.Time
}

// AsyncCache is a best-effort cache over a memory tier, a disk tier, or both.
//
// Contract:
//   - Concurrency: safe for concurrent use. Concurrent Sets of the same key
//     leave whichever write finished last.
//   - Errors: storage failures are logged and swallowed; callers only ever see
//     key validation errors.
type AsyncCache struct {
	name     string
	strategy Strategy
	policy   Policy
	interval time.Duration
	logger   observe.Logger
	metrics  observe.CacheMetrics
	now      func() time.Time

	memory *memoryTier
	disk   *diskTier
	stats  counters

	lifecycle sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
}

// New creates an AsyncCache. It creates Options.Dir when a disk tier is used.
func New(opts Options) (*AsyncCache, error) {
	if !opts.Strategy.valid() {
		return nil, fmt.Errorf("%w: %v", ErrUnknownStrategy, opts.Strategy)
	}
	if opts.Name == "" {
		opts.Name = "default"
	}
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.SweepInterval <= 0 {
		opts.SweepInterval = DefaultSweepInterval
	}
	if opts.Logger == nil {
		opts.Logger = observe.NopLogger()
	}
	if opts.Metrics == nil {
		opts.Metrics = observe.NopInstruments()
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	c := &AsyncCache{
		name:     opts.Name,
		strategy: opts.Strategy,
		policy:   opts.Policy,
		interval: opts.SweepInterval,
		logger:   opts.Logger.With(observe.Field{Key: "cache", Value: opts.Name}),
		metrics:  opts.Metrics,
		now:      opts.Clock,
	}

	if opts.Strategy.usesMemory() {
		m, err := newMemoryTier(opts.MaxEntries)
		if err != nil {
			return nil, fmt.Errorf("cache: create memory tier: %w", err)
		}
		c.memory = m
	}
	if opts.Strategy.usesDisk() {
		if opts.Dir == "" {
			return nil, ErrMissingDir
		}
		d, err := newDiskTier(opts.Dir)
		if err != nil {
			return nil, err
		}
		c.disk = d
	}
	return c, nil
}

// Name returns the cache name.
func (c *AsyncCache) Name() string { return c.name }

// Strategy returns the storage strategy.
func (c *AsyncCache) Strategy() Strategy { return c.strategy }

// Get returns a copy of the value stored for key. Expired entries are
// removed and reported as misses.
func (c *AsyncCache) Get(ctx context.Context, key string) ([]byte, bool) {
	if ValidateKey(key) != nil {
		return nil, false
	}
	now := c.now()

	if c.memory != nil {
		rec, res := c.memory.get(key, now)
		switch res {
		case lookupHit:
			c.recordHit(ctx, tierMemory)
			return rec.Value, true
		case lookupExpired:
			c.recordExpired(ctx, 1)
		}
	}

	if c.disk != nil {
		if rec, ok := c.loadDisk(ctx, key, now); ok {
			if c.memory != nil {
				c.promote(ctx, rec)
			}
			c.recordHit(ctx, tierDisk)
			return rec.Value, true
		}
	}

	c.stats.misses.Add(1)
	c.metrics.RecordLookup(ctx, c.name, "", false)
	return nil, false
}

// loadDisk reads key from the disk tier, removing expired and corrupt files.
func (c *AsyncCache) loadDisk(ctx context.Context, key string, now time.Time) (*Record, bool) {
	rec, err := c.disk.load(key)
	if err != nil {
		c.storageError(ctx, "read", key, err)
		if _, err := c.disk.removeCorrupt(key); err != nil {
			c.storageError(ctx, "remove", key, err)
		}
		return nil, false
	}
	if rec == nil || rec.Key != key {
		return nil, false
	}
	if rec.Expired(now) {
		removed, err := c.disk.removeExpired(key, now)
		if err != nil {
			c.storageError(ctx, "remove", key, err)
		}
		if removed {
			c.recordExpired(ctx, 1)
		}
		return nil, false
	}
	touched, err := c.disk.touch(key, rec.CreatedAt, now)
	if err != nil {
		c.storageError(ctx, "write", key, err)
	}
	if touched == nil {
		rec.touch(now)
		return rec, true
	}
	return touched, true
}

func (c *AsyncCache) promote(ctx context.Context, rec *Record) {
	if evicted := c.memory.put(rec.clone()); evicted != nil {
		c.recordEvicted(ctx, evicted)
	}
}

// Set stores a copy of value under key. ttl <= 0 selects the policy default.
func (c *AsyncCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	rec := newRecord(key, value, c.now(), c.policy.EffectiveTTL(ttl))

	if c.disk != nil {
		if err := c.disk.save(rec); err != nil {
			c.storageError(ctx, "write", key, err)
			// Drop any older copy so it cannot resurface after a memory eviction.
			if _, err := c.disk.removeKey(key); err != nil {
				c.storageError(ctx, "remove", key, err)
			}
		}
	}
	if c.memory != nil {
		if evicted := c.memory.put(rec.clone()); evicted != nil {
			c.recordEvicted(ctx, evicted)
		}
	}
	return nil
}

// Delete removes key from every tier.
func (c *AsyncCache) Delete(ctx context.Context, key string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}
	if c.memory != nil {
		c.memory.remove(key)
	}
	if c.disk != nil {
		if _, err := c.disk.removeKey(key); err != nil {
			c.storageError(ctx, "remove", key, err)
		}
	}
	return nil
}

// Clear removes every entry from both tiers and resets the counters.
func (c *AsyncCache) Clear(ctx context.Context) {
	if c.memory != nil {
		c.memory.purge()
	}
	if c.disk != nil {
		if err := c.disk.purge(); err != nil {
			c.storageError(ctx, "clear", "", err)
		}
	}
	c.stats.reset()
	c.logger.Debug(ctx, "cache cleared")
}

// Stats returns a snapshot of the cache counters and tier usage.
func (c *AsyncCache) Stats() Stats {
	s := c.stats.snapshot()
	if c.memory != nil {
		s.MemoryEntries, s.MemoryBytes = c.memory.usage()
	}
	if c.disk != nil {
		s.DiskEntries, s.DiskBytes = c.disk.usage()
	}
	return s
}

// Sweep removes expired entries from both tiers and returns how many tier
// entries it removed. The memory tier is locked only while it is scanned.
func (c *AsyncCache) Sweep(ctx context.Context) int {
	now := c.now()
	n := 0
	if c.memory != nil {
		n += c.memory.sweep(now)
	}
	if c.disk != nil {
		removed, err := c.disk.sweep(now)
		if err != nil {
			c.storageError(ctx, "sweep", "", err)
		}
		n += removed
	}
	if n > 0 {
		c.recordExpired(ctx, n)
		c.logger.Debug(ctx, "expired entries swept", observe.Field{Key: "removed", Value: n})
	}
	return n
}

// Start launches the background sweeper. It is a no-op if the sweeper is
// already running. The sweeper stops when ctx is done or Stop is called.
func (c *AsyncCache) Start(ctx context.Context) {
	c.lifecycle.Lock()
	defer c.lifecycle.Unlock()
	if c.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	c.cancel, c.done = cancel, done

	go func() {
		defer close(done)
		ticker := time.NewTicker(c.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.Sweep(ctx)
			}
		}
	}()
}

// Stop halts the background sweeper and waits for it to exit. Idempotent.
func (c *AsyncCache) Stop() {
	c.lifecycle.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.lifecycle.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (c *AsyncCache) recordHit(ctx context.Context, tier string) {
	c.stats.hits.Add(1)
	c.metrics.RecordLookup(ctx, c.name, tier, true)
}

func (c *AsyncCache) recordExpired(ctx context.Context, n int) {
	c.stats.expirations.Add(int64(n))
	c.metrics.RecordRemoval(ctx, c.name, "expired", n)
}

func (c *AsyncCache) recordEvicted(ctx context.Context, rec *Record) {
	c.stats.evictions.Add(1)
	c.metrics.RecordRemoval(ctx, c.name, "capacity", 1)
	c.logger.Debug(ctx, "entry evicted", observe.Field{Key: "file_key", Value: FileKey(rec.Key)})
}

func (c *AsyncCache) storageError(ctx context.Context, op, key string, err error) {
	c.metrics.RecordStorageError(ctx, c.name, op)
	fields := []observe.Field{
		{Key: "op", Value: op},
		{Key: "error", Value: err},
	}
	if key != "" {
		fields = append(fields, observe.Field{Key: "file_key", Value: FileKey(key)})
	}
	c.logger.Warn(ctx, "cache storage failure", fields...)
}

var _ Cache = (*AsyncCache)(nil)

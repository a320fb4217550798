package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/callguard/cache"
)

// StatsSource is a cache that exposes its counters. *cache.AsyncCache
// satisfies it.
type StatsSource interface {
	Name() string
	Stats() cache.Stats
}

// CacheCheckerConfig configures the cache health checker.
type CacheCheckerConfig struct {
	// MinHitRatio is the hit ratio below which the cache is degraded.
	// Zero disables the check.
	MinHitRatio float64

	// MinRequests is the number of lookups required before the hit ratio is
	// judged. Default: 100
	MinRequests int64

	// DiskWarningBytes and DiskCriticalBytes bound the disk tier. Reaching
	// the warning size degrades the cache; reaching the critical size makes
	// it unhealthy. Zero disables each check.
	DiskWarningBytes  int64
	DiskCriticalBytes int64
}

// CacheChecker checks a cache's hit ratio and disk footprint.
type CacheChecker struct {
	source StatsSource
	config CacheCheckerConfig
}

// NewCacheChecker creates a checker for source.
func NewCacheChecker(source StatsSource, config CacheCheckerConfig) *CacheChecker {
	if config.MinHitRatio < 0 || config.MinHitRatio > 1 {
		config.MinHitRatio = 0
	}
	if config.MinRequests <= 0 {
		config.MinRequests = 100
	}
	if config.DiskCriticalBytes > 0 && config.DiskWarningBytes > config.DiskCriticalBytes {
		config.DiskWarningBytes = config.DiskCriticalBytes
	}
	return &CacheChecker{source: source, config: config}
}

func (c *CacheChecker) Name() string { return "cache." + c.source.Name() }

// Check performs the cache health check.
func (c *CacheChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	s := c.source.Stats()
	details := map[string]any{
		"hit_ratio":      s.HitRatio(),
		"total_requests": s.TotalRequests,
		"evictions":      s.Evictions,
		"expirations":    s.Expirations,
		"memory_entries": s.MemoryEntries,
		"memory_bytes":   s.MemoryBytes,
		"disk_entries":   s.DiskEntries,
		"disk_bytes":     s.DiskBytes,
	}

	if limit := c.config.DiskCriticalBytes; limit > 0 && s.DiskBytes >= limit {
		return Unhealthy(
			fmt.Sprintf("disk tier at %d bytes, limit %d", s.DiskBytes, limit),
			ErrCheckFailed,
		).WithDetails(details)
	}
	if limit := c.config.DiskWarningBytes; limit > 0 && s.DiskBytes >= limit {
		return Degraded(fmt.Sprintf("disk tier at %d bytes, warning at %d", s.DiskBytes, limit)).WithDetails(details)
	}
	if c.config.MinHitRatio > 0 && s.TotalRequests >= c.config.MinRequests && s.HitRatio() < c.config.MinHitRatio {
		return Degraded(fmt.Sprintf("hit ratio %.1f%% below %.1f%%", s.HitRatio()*100, c.config.MinHitRatio*100)).WithDetails(details)
	}
	return Healthy(fmt.Sprintf("hit ratio %.1f%%", s.HitRatio()*100)).WithDetails(details)
}

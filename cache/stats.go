package cache

import "sync/atomic"

// Stats is a point-in-time snapshot of a cache's counters.
//
// Hits, Misses and TotalRequests count Get calls. Evictions counts memory
// entries dropped for capacity. Expirations counts tier entries removed
// because their TTL elapsed, whether found by Get or by a sweep; a Hybrid
// entry expiring in both tiers counts twice.
type Stats struct {
	Hits          int64 `json:"cache_hits"`
	Misses        int64 `json:"cache_misses"`
	TotalRequests int64 `json:"total_requests"`
	Evictions     int64 `json:"evictions"`
	Expirations   int64 `json:"expirations"`

	MemoryEntries int   `json:"memory_entries"`
	MemoryBytes   int64 `json:"memory_bytes_held"`
	DiskEntries   int   `json:"disk_entries"`
	DiskBytes     int64 `json:"disk_bytes_held"`
}

// HitRatio returns Hits/TotalRequests, or 0 before the first request.
func (s Stats) HitRatio() float64 {
	if s.TotalRequests == 0 {
		return 0
	}
	return float64(s.Hits) / float64(s.TotalRequests)
}

type counters struct {
	hits        atomic.Int64
	misses      atomic.Int64
	evictions   atomic.Int64
	expirations atomic.Int64
}

func (c *counters) reset() {
	c.hits.Store(0)
	c.misses.Store(0)
	c.evictions.Store(0)
	c.expirations.Store(0)
}

func (c *counters) snapshot() Stats {
	hits, misses := c.hits.Load(), c.misses.Load()
	return Stats{
		Hits:          hits,
		Misses:        misses,
		TotalRequests: hits + misses,
		Evictions:     c.evictions.Load(),
		Expirations:   c.expirations.Load(),
	}
}

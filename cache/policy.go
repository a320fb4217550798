package cache

import "time"

// Policy configures entry lifetimes.
type Policy struct {
	// DefaultTTL is the TTL to use when none is specified.
	// If zero or negative, entries set without a TTL never expire.
	DefaultTTL time.Duration

	// MaxTTL is the maximum allowed TTL. Longer TTLs, including "never
	// expire", are clamped to it. If zero, no maximum is enforced.
	MaxTTL time.Duration
}

// DefaultPolicy returns the default caching policy.
// DefaultTTL: 1 hour, MaxTTL: 24 hours
func DefaultPolicy() Policy {
	return Policy{
		DefaultTTL: time.Hour,
		MaxTTL:     24 * time.Hour,
	}
}

// NoExpiryPolicy returns a policy under which entries only leave the cache
// by eviction, Delete or Clear.
func NoExpiryPolicy() Policy {
	return Policy{}
}

// EffectiveTTL returns the TTL to use, applying defaults and clamping.
// A result of zero means the entry does not expire.
func (p Policy) EffectiveTTL(override time.Duration) time.Duration {
	ttl := override
	if ttl <= 0 {
		ttl = p.DefaultTTL
	}
	if ttl < 0 {
		ttl = 0
	}

	if p.MaxTTL > 0 && (ttl == 0 || ttl > p.MaxTTL) {
		ttl = p.MaxTTL
	}

	return ttl
}

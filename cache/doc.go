// Package cache provides a best-effort cache for the results of expensive or
// rate-limited remote calls.
//
// An AsyncCache stores entries in memory, on disk, or in both tiers (Hybrid),
// selected by a Strategy. The memory tier is a strict LRU bounded by
// Options.MaxEntries. The disk tier keeps one JSON file per entry named after
// a truncated SHA-256 of the key and is only trimmed by expiry or Clear.
//
// Storage failures never reach callers: a corrupt file is a miss and is
// deleted, and a failed write is logged and degrades to the memory tier.
// Expired entries are removed lazily on Get and by a background sweeper that
// the owner starts and stops explicitly.
//
// Typed wraps a Cache with a Codec so callers work with their own value
// types, and Cached turns any function into a cache-aside version of itself.
package cache

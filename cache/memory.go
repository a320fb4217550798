package cache

import (
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultMaxEntries bounds the memory tier when Options.MaxEntries is unset.
const DefaultMaxEntries = 1000

type lookup int

const (
	lookupMiss lookup = iota
	lookupHit
	lookupExpired
)

// memoryTier is a strict LRU of records. Both reads and writes refresh recency.
type memoryTier struct {
	mu    sync.Mutex
	lru   *simplelru.LRU[string, *Record]
	size  int
	bytes int64
}

func newMemoryTier(maxEntries int) (*memoryTier, error) {
	m := &memoryTier{size: maxEntries}
	lru, err := simplelru.NewLRU[string, *Record](maxEntries, func(_ string, rec *Record) {
		m.bytes -= rec.SizeBytes
	})
	if err != nil {
		return nil, err
	}
	m.lru = lru
	return m, nil
}

// get returns a copy of the record for key. An expired record is removed and
// reported as lookupExpired.
func (m *memoryTier) get(key string, now time.Time) (*Record, lookup) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.lru.Peek(key)
	if !ok {
		return nil, lookupMiss
	}
	if rec.Expired(now) {
		m.lru.Remove(key)
		return nil, lookupExpired
	}
	m.lru.Get(key)
	rec.touch(now)
	return rec.clone(), lookupHit
}

// put stores rec, evicting the least recently used record when the tier is
// full. It returns the evicted record, if any.
func (m *memoryTier) put(rec *Record) *Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	var evicted *Record
	if old, ok := m.lru.Peek(rec.Key); ok {
		// Add on an existing key does not run the eviction callback.
		m.bytes -= old.SizeBytes
	} else if m.lru.Len() >= m.size {
		_, evicted, _ = m.lru.RemoveOldest()
	}
	m.lru.Add(rec.Key, rec)
	m.bytes += rec.SizeBytes
	return evicted
}

func (m *memoryTier) remove(key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Remove(key)
}

func (m *memoryTier) purge() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lru.Purge()
	m.bytes = 0
}

// sweep removes every expired record and returns how many were removed.
func (m *memoryTier) sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, key := range m.lru.Keys() {
		if rec, ok := m.lru.Peek(key); ok && rec.Expired(now) {
			m.lru.Remove(key)
			n++
		}
	}
	return n
}

func (m *memoryTier) usage() (entries int, bytes int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lru.Len(), m.bytes
}

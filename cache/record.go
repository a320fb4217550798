package cache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is one cached entry together with its expiry and access metadata.
//
// The JSON form is the on-disk format of the disk tier.
type Record struct {
	Key            string    `json:"key"`
	Value          []byte    `json:"value"`
	CreatedAt      time.Time `json:"created_at"`
	LastAccessedAt time.Time `json:"last_accessed_at"`

	// ExpiresAt is zero when the entry never expires by TTL.
	ExpiresAt time.Time `json:"expires_at,omitzero"`

	AccessCount int64 `json:"access_count"`
	SizeBytes   int64 `json:"size_bytes"`
}

// newRecord copies value into a fresh record created at now.
func newRecord(key string, value []byte, now time.Time, ttl time.Duration) *Record {
	rec := &Record{
		Key:            key,
		Value:          append([]byte(nil), value...),
		CreatedAt:      now,
		LastAccessedAt: now,
		SizeBytes:      int64(len(value)),
	}
	if ttl > 0 {
		rec.ExpiresAt = now.Add(ttl)
	}
	return rec
}

// Expired reports whether the record has expired at now.
func (r *Record) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && !now.Before(r.ExpiresAt)
}

func (r *Record) touch(now time.Time) {
	r.AccessCount++
	r.LastAccessedAt = now
}

func (r *Record) clone() *Record {
	cp := *r
	cp.Value = append([]byte(nil), r.Value...)
	return &cp
}

func (r *Record) validate() error {
	if r.Key == "" {
		return fmt.Errorf("%w: missing key", ErrCorruptRecord)
	}
	if r.SizeBytes < 0 || r.SizeBytes != int64(len(r.Value)) {
		return fmt.Errorf("%w: size %d does not match payload", ErrCorruptRecord, r.SizeBytes)
	}
	if !r.ExpiresAt.IsZero() && r.ExpiresAt.Before(r.CreatedAt) {
		return fmt.Errorf("%w: expires before creation", ErrCorruptRecord)
	}
	return nil
}

func encodeRecord(r *Record) ([]byte, error) {
	return json.Marshal(r)
}

func decodeRecord(data []byte) (*Record, error) {
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	if err := r.validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

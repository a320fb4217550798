package cache

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"slices"
)

// Keyer derives cache keys from call arguments.
//
// Contract:
// - Determinism: equal inputs produce equal keys regardless of map iteration order.
// - Concurrency: implementations must be safe for concurrent use.
type Keyer interface {
	Key(namespace string, input any) (string, error)
}

// DefaultKeyer hashes canonical JSON with SHA-256.
type DefaultKeyer struct{}

// NewDefaultKeyer creates a DefaultKeyer.
func NewDefaultKeyer() *DefaultKeyer {
	return &DefaultKeyer{}
}

// Key returns "<namespace>:<hash>", where hash is the first 16 hex characters
// of SHA-256 over the canonical JSON encoding of input.
func (k *DefaultKeyer) Key(namespace string, input any) (string, error) {
	var buf bytes.Buffer
	if err := writeCanonical(&buf, input); err != nil {
		return "", fmt.Errorf("cache: failed to canonicalize input: %w", err)
	}
	return namespace + ":" + shortHash(buf.Bytes()), nil
}

// FileKey returns the disk-tier file stem for key: the first 16 hex
// characters of SHA-256(key). Distinct keys may share a FileKey.
func FileKey(key string) string {
	return shortHash([]byte(key))
}

func shortHash(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:8])
}

// writeCanonical encodes v as JSON with map[string]any keys sorted at every
// depth. Other values use their standard encoding.
func writeCanonical(buf *bytes.Buffer, v any) error {
	switch val := v.(type) {
	case nil:
		buf.WriteString("null")
	case map[string]any:
		buf.WriteByte('{')
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for i, k := range keys {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeJSON(buf, k); err != nil {
				return err
			}
			buf.WriteByte(':')
			if err := writeCanonical(buf, val[k]); err != nil {
				return err
			}
		}
		buf.WriteByte('}')
	case []any:
		buf.WriteByte('[')
		for i, elem := range val {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := writeCanonical(buf, elem); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	default:
		return writeJSON(buf, v)
	}
	return nil
}

func writeJSON(buf *bytes.Buffer, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	buf.Write(b)
	return nil
}

var _ Keyer = (*DefaultKeyer)(nil)

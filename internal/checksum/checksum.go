// Package checksum provides stable content hashing for index entries.
//
// The checksum decides whether a record needs re-embedding, so it must be
// deterministic across processes and deploys: two structurally equal values
// always hash to the same string regardless of map key order. The algorithm
// is canonical JSON (recursively sorted object keys) digested with SHA-256
// and hex-encoded. Persisted checksums stay comparable as long as this
// algorithm is unchanged.
package checksum

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// Sum computes the canonical checksum of v.
//
// v is first marshaled to JSON (so structs, maps, and scalars are all
// accepted), then re-canonicalized with sorted object keys before hashing.
func Sum(v any) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("marshaling checksum source: %w", err)
	}

	var decoded any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return "", fmt.Errorf("decoding checksum source: %w", err)
	}

	var b strings.Builder
	if err := writeCanonical(&b, decoded); err != nil {
		return "", err
	}

	digest := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(digest[:]), nil
}

// writeCanonical serializes decoded JSON with object keys in sorted order.
func writeCanonical(b *strings.Builder, v any) error {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			keyJSON, err := json.Marshal(k)
			if err != nil {
				return fmt.Errorf("marshaling key %q: %w", k, err)
			}
			b.Write(keyJSON)
			b.WriteByte(':')
			if err := writeCanonical(b, val[k]); err != nil {
				return err
			}
		}
		b.WriteByte('}')
		return nil

	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			if err := writeCanonical(b, item); err != nil {
				return err
			}
		}
		b.WriteByte(']')
		return nil

	default:
		// Scalars (string, float64, bool, nil) round-trip through
		// encoding/json deterministically.
		raw, err := json.Marshal(val)
		if err != nil {
			return fmt.Errorf("marshaling scalar: %w", err)
		}
		b.Write(raw)
		return nil
	}
}

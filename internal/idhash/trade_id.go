// Package idhash derives deterministic identifiers for pools and trades.
package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeTradeID computes a deterministic trade_id.
// Formula: base58(SHA256(pool_id|seq))
func ComputeTradeID(poolID string, seq int64) string {
	data := fmt.Sprintf("%s|%d", poolID, seq)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

// Decode returns the 32-byte digest behind an identifier produced by this package.
func Decode(id string) ([]byte, error) {
	raw, err := base58.Decode(id)
	if err != nil {
		return nil, fmt.Errorf("decode id %q: %w", id, err)
	}
	if len(raw) != sha256.Size {
		return nil, fmt.Errorf("decode id %q: got %d bytes, want %d", id, len(raw), sha256.Size)
	}
	return raw, nil
}

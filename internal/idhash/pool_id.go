package idhash

import (
	"crypto/sha256"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputePoolID computes a pool_id from its creator, creation time and a
// ledger-local nonce. The nonce keeps IDs unique for pools created by the
// same provider within the same millisecond.
// Formula: base58(SHA256(provider_id|created_at_ms|nonce))
func ComputePoolID(providerID string, createdAtMs int64, nonce uint64) string {
	data := fmt.Sprintf("%s|%d|%d", providerID, createdAtMs, nonce)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])
}

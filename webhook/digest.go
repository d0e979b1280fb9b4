package webhook

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest computes a stable hash of an outbound payload, used as the
// payload_digest receivers can use as an idempotency hint. It is a
// plain content hash, not a canonicalizing JSON digest: the payload
// bytes are whatever the compute function produced and are hashed
// as-is, so two byte-identical payloads always digest identically.
func Digest(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// Package signature implements HMAC-SHA256 signing of outbound webhook
// bodies, hex-encoded per the X-Signature wire contract.
package signature

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"
)

const (
	// SecretPrefix marks a base64-encoded signing secret, so a secret
	// pasted into the wrong config field is easy to spot.
	SecretPrefix = "whsec_"

	// MinSecretBytes is the minimum recommended secret size (192 bits).
	MinSecretBytes = 24

	// MaxSecretBytes is the maximum recommended secret size (512 bits).
	MaxSecretBytes = 64
)

// Secret represents an HMAC signing secret for a webhook destination.
type Secret struct {
	raw    []byte
	base64 string
}

// GenerateSecret creates a new cryptographically secure signing secret
// between MinSecretBytes and MaxSecretBytes in size.
func GenerateSecret(size int) (Secret, error) {
	if size < MinSecretBytes || size > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	raw := make([]byte, size)
	if _, err := rand.Read(raw); err != nil {
		return Secret{}, fmt.Errorf("generating random bytes: %w", err)
	}

	return Secret{
		raw:    raw,
		base64: SecretPrefix + base64.StdEncoding.EncodeToString(raw),
	}, nil
}

// ParseSecret parses a base64-encoded secret carrying the whsec_ prefix.
func ParseSecret(encoded string) (Secret, error) {
	if !strings.HasPrefix(encoded, SecretPrefix) {
		return Secret{}, fmt.Errorf("secret must start with %s prefix", SecretPrefix)
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(encoded, SecretPrefix))
	if err != nil {
		return Secret{}, fmt.Errorf("decoding base64 secret: %w", err)
	}

	if len(raw) < MinSecretBytes || len(raw) > MaxSecretBytes {
		return Secret{}, fmt.Errorf("secret size must be between %d and %d bytes", MinSecretBytes, MaxSecretBytes)
	}

	return Secret{raw: raw, base64: encoded}, nil
}

// String returns the base64-encoded secret with its whsec_ prefix.
func (s Secret) String() string {
	return s.base64
}

// Bytes returns the raw secret bytes.
func (s Secret) Bytes() []byte {
	return s.raw
}

// Sign computes the hex-encoded HMAC-SHA256 of body, for the
// X-Signature header.
func Sign(secret Secret, body []byte) string {
	mac := hmac.New(sha256.New, secret.Bytes())
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

// Verify checks a hex-encoded signature against body using
// constant-time comparison.
func Verify(secret Secret, body []byte, signatureHex string) bool {
	expected, err := hex.DecodeString(signatureHex)
	if err != nil {
		return false
	}
	calculated, err := hex.DecodeString(Sign(secret, body))
	if err != nil {
		return false
	}
	return subtle.ConstantTimeCompare(expected, calculated) == 1
}

// Package apikey handles extraction, format validation and hashing of client
// API keys. Raw keys are never stored or logged; everything downstream of
// this package works with SHA-256 hex digests only.
package apikey

import (
	"crypto/sha256"
	"encoding/hex"
	"net/http"

	"admission-gateway/internal/common/errors"
)

// Header is the client-facing header carrying the raw API key.
const Header = "X-API-Key"

// minKeyLength is the minimum accepted raw key length. Anything shorter is
// treated the same as a missing key.
const minKeyLength = 20

// Extract pulls the raw API key from the request headers.
func Extract(r *http.Request) (string, error) {
	key := r.Header.Get(Header)
	if key == "" {
		return "", errors.AuthError("API key missing")
	}
	return key, nil
}

// Validate checks the raw key's format and returns its hash. Project
// membership is checked against the snapshot elsewhere.
func Validate(rawKey string) (string, error) {
	if len(rawKey) < minKeyLength {
		return "", errors.AuthError("malformed API key")
	}
	return Hash(rawKey), nil
}

// Hash returns the SHA-256 hex digest of a raw API key.
func Hash(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

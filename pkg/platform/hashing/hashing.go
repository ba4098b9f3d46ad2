// Package hashing computes content hashes over canonical JSON.
//
// encoding/json writes map keys in sorted order and struct fields in
// declaration order, so marshalling the same value always yields the same
// bytes. That property is what makes these hashes usable as content
// addresses for lens contracts, raw payloads and merged entities.
package hashing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Bytes returns the hex SHA-256 of raw bytes.
func Bytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// JSON returns the hex SHA-256 of the canonical JSON encoding of v.
func JSON(v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("canonical json: %w", err)
	}
	return Bytes(b), nil
}

// Strings hashes a sequence of parts joined by a unit separator so that
// ("ab","c") and ("a","bc") do not collide.
func Strings(parts ...string) string {
	h := sha256.New()
	for i, p := range parts {
		if i > 0 {
			h.Write([]byte{0x1f})
		}
		h.Write([]byte(p))
	}
	return hex.EncodeToString(h.Sum(nil))
}

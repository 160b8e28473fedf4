package graph

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// hashWithDomain computes SHA-256 hash with domain separation.
// Format: SHA256(domain + 0x00 + data)
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ContentAddress returns the hex SHA-256 of v's canonical JSON under domain.
// The result is stable across processes and replicas given the same input.
func ContentAddress(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("content address: %w", err)
	}
	return hashWithDomain(domain, canonical), nil
}

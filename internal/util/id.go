// Package util holds small helpers shared across the service.
package util

import (
	"crypto/rand"
	"encoding/hex"
)

const idEntropyBytes = 16

// NewID returns a random identifier like "doc_3f2a9c...". An empty prefix
// yields the bare hex string, used for raw token material.
func NewID(prefix string) string {
	buf := make([]byte, idEntropyBytes)
	rand.Read(buf)
	id := hex.EncodeToString(buf)
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}

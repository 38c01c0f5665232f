// Package sha256 names archived payloads by content.
package sha256

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Hasher implements collector.Hasher. JSON input is compacted first, so the
// same provider payload delivered with different whitespace archives once.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex SHA-256 of data, or of its compact form when data is JSON.
func (*Hasher) Hash(data []byte) (string, error) {
	var compact bytes.Buffer
	if json.Valid(data) && json.Compact(&compact, data) == nil {
		data = compact.Bytes()
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

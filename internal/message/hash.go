package message

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// ContentHash computes the deduplication hash of a message: SHA-256
// over a canonical JSON form of every field except message_id and
// timestamp, as lowercase hex. Two messages that differ only in those
// two fields hash identically.
func ContentHash(m Message) (string, error) {
	wire, err := Marshal(m)
	if err != nil {
		return "", err
	}

	var fields map[string]any
	if err := json.Unmarshal(wire, &fields); err != nil {
		return "", fmt.Errorf("canonicalize %s: %w", m.Type(), err)
	}
	delete(fields, "message_id")
	delete(fields, "timestamp")

	// encoding/json sorts map keys, so this re-marshal is canonical.
	canonical, err := json.Marshal(fields)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// HashText computes the dedup hash of raw delivery content (cascade
// texts, broadcast bodies): SHA-256 of the content bytes, lowercase hex.
func HashText(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

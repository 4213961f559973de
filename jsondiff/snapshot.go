package jsondiff

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Snapshot is one parsed observation of the remote document. It is never
// mutated after capture.
type Snapshot struct {
	ID         string    `json:"id"`
	Source     string    `json:"source"`
	CapturedAt time.Time `json:"captured_at"`
	Hash       string    `json:"hash"`
	Value      Value     `json:"value"`
}

// NewSnapshot parses raw and stamps it with its body hash.
func NewSnapshot(id, source string, raw []byte, at time.Time) (*Snapshot, error) {
	v, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	return &Snapshot{
		ID:         id,
		Source:     source,
		CapturedAt: at,
		Hash:       HashBody(raw),
		Value:      v,
	}, nil
}

// HashBody returns the hex SHA-256 of a raw document body.
func HashBody(raw []byte) string {
	h := sha256.Sum256(raw)
	return hex.EncodeToString(h[:])
}

package model

import (
	"crypto/sha256"

	"github.com/google/uuid"
)

// DeriveUUID maps an arbitrary tool-native identifier to a UUID. Identifiers
// that already parse as UUIDs pass through unchanged. Everything else is
// hashed to a stable, v4-shaped UUID, so the same tool-native id always maps
// to the same UUID on every machine. That stability is what lets re-imports
// and cross-machine sync deduplicate by id.
func DeriveUUID(s string) uuid.UUID {
	if id, err := uuid.Parse(s); err == nil {
		return id
	}

	sum := sha256.Sum256([]byte(s))
	var b [16]byte
	copy(b[:], sum[:16])

	// Stamp version 4 and variant 1 bits so the result is a valid UUID.
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80

	return uuid.UUID(b)
}

package sync

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/tripsync/internal/db"
)

// Checksum computes the SHA256 hex digest that identifies photo content
func Checksum(content []byte) string {
	h := sha256.Sum256(content)
	return hex.EncodeToString(h[:])
}

// HashString computes SHA256 hash of a string
func HashString(content string) string {
	return Checksum([]byte(content))
}

// SameContent reports whether two checksums describe byte-identical content
func SameContent(a, b string) bool {
	return a != "" && a == b
}

// NewPhoto builds a photo from its bytes. The checksum is derived here and
// never changes afterwards.
func NewPhoto(id, recordID uuid.UUID, content []byte, at time.Time) *db.Photo {
	at = at.UTC()
	return &db.Photo{
		ID:        id,
		RecordID:  recordID,
		Checksum:  Checksum(content),
		Content:   content,
		CreatedAt: at,
		UpdatedAt: at,
	}
}

package api

import (
	"bytes"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Timestamp is an ISO-8601 instant on the wire. It is always written in UTC
// with fractional seconds; values without a zone designator are rejected.
type Timestamp struct {
	time.Time
}

// NewTimestamp wraps t as a UTC wire timestamp
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC()}
}

// NewTimestampPtr is NewTimestamp for optional values
func NewTimestampPtr(t *time.Time) *Timestamp {
	if t == nil {
		return nil
	}
	ts := NewTimestamp(*t)
	return &ts
}

// TimePtr unwraps an optional wire timestamp
func (t *Timestamp) TimePtr() *time.Time {
	if t == nil {
		return nil
	}
	v := t.UTC()
	return &v
}

const wireLayout = "2006-01-02T15:04:05.000000000Z07:00"

func (t Timestamp) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.UTC().Format(wireLayout) + `"`), nil
}

func (t *Timestamp) UnmarshalJSON(data []byte) error {
	if bytes.Equal(data, []byte("null")) {
		return nil
	}
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("timestamp must be a string, got %s", data)
	}
	s := string(data[1 : len(data)-1])

	// RFC 3339 requires a zone; naive local times are a protocol violation
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}

// TripSync is a trip as exchanged through /sync
type TripSync struct {
	ID        uuid.UUID  `json:"id" validate:"required"`
	Title     string     `json:"title"`
	Content   string     `json:"content"`
	Status    string     `json:"status" validate:"required,oneof=draft in_progress archived"`
	CreatedAt *Timestamp `json:"created_at,omitempty"`
	UpdatedAt Timestamp  `json:"updated_at" validate:"required"`
	DeletedAt *Timestamp `json:"deleted_at"`
}

// RecordSync is a trip record as exchanged through /sync
type RecordSync struct {
	ID         uuid.UUID  `json:"id" validate:"required"`
	TripID     uuid.UUID  `json:"trip_id" validate:"required"`
	Type       string     `json:"type" validate:"required,oneof=interesting workout camping pickup dropoff story"`
	Content    *string    `json:"content"`
	Latitude   float64    `json:"latitude" validate:"gte=-90,lte=90"`
	Longitude  float64    `json:"longitude" validate:"gte=-180,lte=180"`
	HappenedAt Timestamp  `json:"happened_at" validate:"required"`
	CreatedAt  *Timestamp `json:"created_at,omitempty"`
	UpdatedAt  Timestamp  `json:"updated_at" validate:"required"`
	DeletedAt  *Timestamp `json:"deleted_at"`
}

// PhotoSync is photo metadata as exchanged through /sync. Mime is only set
// in responses and is present exactly when the server holds the bytes.
type PhotoSync struct {
	ID        uuid.UUID  `json:"id" validate:"required"`
	RecordID  uuid.UUID  `json:"record_id" validate:"required"`
	Checksum  *string    `json:"checksum,omitempty"`
	Mime      *string    `json:"mime,omitempty"`
	CreatedAt *Timestamp `json:"created_at,omitempty"`
	UpdatedAt Timestamp  `json:"updated_at" validate:"required"`
	DeletedAt *Timestamp `json:"deleted_at"`
}

// HasContent reports whether the server already stores the photo bytes
func (p *PhotoSync) HasContent() bool {
	return p.Mime != nil && *p.Mime != ""
}

// SyncRequest is the body of POST /api/v1/sync
type SyncRequest struct {
	Trips      []TripSync   `json:"trips" validate:"dive"`
	Records    []RecordSync `json:"records" validate:"dive"`
	Photos     []PhotoSync  `json:"photos" validate:"dive"`
	LastSyncAt *Timestamp   `json:"last_sync_at"`
}

// SyncResponse mirrors SyncRequest with the server's view of each entity
type SyncResponse struct {
	Trips   []TripSync   `json:"trips" validate:"dive"`
	Records []RecordSync `json:"records" validate:"dive"`
	Photos  []PhotoSync  `json:"photos" validate:"dive"`
}

// TokenForm is the body of POST /api/v1/tokens
type TokenForm struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// TokenDetail is the response of POST /api/v1/tokens
type TokenDetail struct {
	AccessToken string `json:"access_token" validate:"required"`
}

// UserDetail is the response of GET /api/v1/users/me
type UserDetail struct {
	ID        string    `json:"id" validate:"required"`
	Username  string    `json:"username" validate:"required"`
	CreatedAt Timestamp `json:"created_at"`
	UpdatedAt Timestamp `json:"updated_at"`
}

// PhotoDetail is the response of POST /api/v1/photos/{id}
type PhotoDetail struct {
	ID        uuid.UUID  `json:"id" validate:"required"`
	RecordID  uuid.UUID  `json:"record_id"`
	Checksum  *string    `json:"checksum,omitempty"`
	Mime      *string    `json:"mime"`
	CreatedAt Timestamp  `json:"created_at"`
	UpdatedAt *Timestamp `json:"updated_at,omitempty"`
	DeletedAt *Timestamp `json:"deleted_at"`
}

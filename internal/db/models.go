package db

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// TripStatus is the lifecycle state of a trip
type TripStatus string

const (
	TripDraft      TripStatus = "draft"
	TripInProgress TripStatus = "in_progress"
	TripArchived   TripStatus = "archived"
)

// ParseTripStatus accepts the wire spelling and the legacy "in-progress" spelling
func ParseTripStatus(s string) (TripStatus, error) {
	switch s {
	case "draft":
		return TripDraft, nil
	case "in_progress", "in-progress":
		return TripInProgress, nil
	case "archived":
		return TripArchived, nil
	default:
		return "", fmt.Errorf("unknown trip status %q", s)
	}
}

// Order is the listing order: trips in progress first, archived last
func (s TripStatus) Order() int {
	switch s {
	case TripInProgress:
		return 0
	case TripDraft:
		return 1
	case TripArchived:
		return 2
	default:
		return 3
	}
}

// RecordType classifies a trip record
type RecordType string

const (
	RecordInteresting RecordType = "interesting"
	RecordWorkout     RecordType = "workout"
	RecordCamping     RecordType = "camping"
	RecordPickup      RecordType = "pickup"
	RecordDropoff     RecordType = "dropoff"
	RecordStory       RecordType = "story"
)

// ParseRecordType validates a record type string
func ParseRecordType(s string) (RecordType, error) {
	switch t := RecordType(s); t {
	case RecordInteresting, RecordWorkout, RecordCamping, RecordPickup, RecordDropoff, RecordStory:
		return t, nil
	default:
		return "", fmt.Errorf("unknown record type %q", s)
	}
}

// Location is a WGS84 coordinate
type Location struct {
	Latitude  float64
	Longitude float64
}

// Trip is a journey owning zero or more records
type Trip struct {
	ID        uuid.UUID
	Title     string
	Content   string
	Status    TripStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// TripRecord is a single diary entry on a trip
type TripRecord struct {
	ID         uuid.UUID
	TripID     uuid.UUID
	Type       RecordType
	Content    *string
	Location   Location
	HappenedAt time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
	DeletedAt  *time.Time
}

// Photo is an image attached to a record. Content is stored out-of-line,
// keyed by Checksum.
type Photo struct {
	ID        uuid.UUID
	RecordID  uuid.UUID
	Checksum  string
	Content   []byte
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

// NewTrip creates a draft trip stamped at now
func NewTrip(title, content string, now time.Time) *Trip {
	now = now.UTC()
	return &Trip{
		ID:        uuid.New(),
		Title:     title,
		Content:   content,
		Status:    TripDraft,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Touch bumps UpdatedAt after a local mutation
func (t *Trip) Touch(now time.Time) {
	t.UpdatedAt = bump(t.CreatedAt, now)
}

// MarkDeleted tombstones the trip
func (t *Trip) MarkDeleted(now time.Time) {
	t.Touch(now)
	at := t.UpdatedAt
	t.DeletedAt = &at
}

// IsDeleted reports whether the trip is tombstoned
func (t *Trip) IsDeleted() bool { return t.DeletedAt != nil }

// Touch bumps UpdatedAt after a local mutation
func (r *TripRecord) Touch(now time.Time) {
	r.UpdatedAt = bump(r.CreatedAt, now)
}

// MarkDeleted tombstones the record
func (r *TripRecord) MarkDeleted(now time.Time) {
	r.Touch(now)
	at := r.UpdatedAt
	r.DeletedAt = &at
}

// Touch bumps UpdatedAt after a local mutation
func (p *Photo) Touch(now time.Time) {
	p.UpdatedAt = bump(p.CreatedAt, now)
}

// MarkDeleted tombstones the photo
func (p *Photo) MarkDeleted(now time.Time) {
	p.Touch(now)
	at := p.UpdatedAt
	p.DeletedAt = &at
}

// bump keeps updated_at >= created_at even with a skewed clock
func bump(created, now time.Time) time.Time {
	now = now.UTC()
	if now.Before(created) {
		return created
	}
	return now
}

// Filter is the predicate for fetch and delete operations. Zero value
// matches all live (non-tombstoned) rows.
type Filter struct {
	UpdatedSince   *time.Time
	IncludeDeleted bool
	TripID         *uuid.UUID // records only
	RecordID       *uuid.UUID // photos only
}

// SyncStatus summarizes the local store
type SyncStatus struct {
	Driver       string
	Trips        int
	Records      int
	Photos       int
	Tombstones   int
	LatestUpdate *time.Time
}

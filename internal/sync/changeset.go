package sync

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/tripsync/internal/api"
	"github.com/vonshlovens/tripsync/internal/db"
)

// Store is the local store the engine reads and writes. *db.DB implements it.
type Store interface {
	FetchTrips(ctx context.Context, f db.Filter) ([]*db.Trip, error)
	FetchRecords(ctx context.Context, f db.Filter) ([]*db.TripRecord, error)
	FetchPhotos(ctx context.Context, f db.Filter) ([]*db.Photo, error)
	GetRecord(ctx context.Context, id uuid.UUID) (*db.TripRecord, error)
	GetPhoto(ctx context.Context, id uuid.UUID) (*db.Photo, error)
	PhotoContent(ctx context.Context, checksum string) ([]byte, error)
	LatestUpdate(ctx context.Context) (*time.Time, error)
	Update(ctx context.Context, fn func(tx *db.Tx) error) error
}

// ChangeSet is everything modified locally since the cursor, tombstones
// included, in wire form
type ChangeSet struct {
	Trips   []api.TripSync
	Records []api.RecordSync
	Photos  []api.PhotoSync
}

// Len returns the number of entities in the change set
func (cs *ChangeSet) Len() int {
	return len(cs.Trips) + len(cs.Records) + len(cs.Photos)
}

// Request wraps the change set into a sync request for cursor
func (cs *ChangeSet) Request(cursor *time.Time) *api.SyncRequest {
	return &api.SyncRequest{
		Trips:      cs.Trips,
		Records:    cs.Records,
		Photos:     cs.Photos,
		LastSyncAt: api.NewTimestampPtr(cursor),
	}
}

// BuildChangeSet collects entities with updated_at >= cursor, or everything
// when cursor is nil. It has no side effects.
func BuildChangeSet(ctx context.Context, store Store, cursor *time.Time) (*ChangeSet, error) {
	filter := db.Filter{UpdatedSince: cursor, IncludeDeleted: true}

	trips, err := store.FetchTrips(ctx, filter)
	if err != nil {
		return nil, &StoreError{Op: "fetch trips", Err: err}
	}
	records, err := store.FetchRecords(ctx, filter)
	if err != nil {
		return nil, &StoreError{Op: "fetch records", Err: err}
	}
	photos, err := store.FetchPhotos(ctx, filter)
	if err != nil {
		return nil, &StoreError{Op: "fetch photos", Err: err}
	}

	cs := &ChangeSet{
		Trips:   make([]api.TripSync, 0, len(trips)),
		Records: make([]api.RecordSync, 0, len(records)),
		Photos:  make([]api.PhotoSync, 0, len(photos)),
	}
	for _, t := range trips {
		cs.Trips = append(cs.Trips, tripToWire(t))
	}
	for _, r := range records {
		cs.Records = append(cs.Records, recordToWire(r))
	}
	for _, p := range photos {
		cs.Photos = append(cs.Photos, photoToWire(p))
	}
	return cs, nil
}

func tripToWire(t *db.Trip) api.TripSync {
	created := api.NewTimestamp(t.CreatedAt)
	return api.TripSync{
		ID:        t.ID,
		Title:     t.Title,
		Content:   t.Content,
		Status:    string(t.Status),
		CreatedAt: &created,
		UpdatedAt: api.NewTimestamp(t.UpdatedAt),
		DeletedAt: api.NewTimestampPtr(t.DeletedAt),
	}
}

func recordToWire(r *db.TripRecord) api.RecordSync {
	created := api.NewTimestamp(r.CreatedAt)
	return api.RecordSync{
		ID:         r.ID,
		TripID:     r.TripID,
		Type:       string(r.Type),
		Content:    r.Content,
		Latitude:   r.Location.Latitude,
		Longitude:  r.Location.Longitude,
		HappenedAt: api.NewTimestamp(r.HappenedAt),
		CreatedAt:  &created,
		UpdatedAt:  api.NewTimestamp(r.UpdatedAt),
		DeletedAt:  api.NewTimestampPtr(r.DeletedAt),
	}
}

func photoToWire(p *db.Photo) api.PhotoSync {
	created := api.NewTimestamp(p.CreatedAt)
	checksum := p.Checksum
	return api.PhotoSync{
		ID:        p.ID,
		RecordID:  p.RecordID,
		Checksum:  &checksum,
		CreatedAt: &created,
		UpdatedAt: api.NewTimestamp(p.UpdatedAt),
		DeletedAt: api.NewTimestampPtr(p.DeletedAt),
	}
}

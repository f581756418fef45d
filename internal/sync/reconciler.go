package sync

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/schollz/progressbar/v3"
	"github.com/sourcegraph/conc/pool"

	"github.com/vonshlovens/tripsync/internal/api"
	"github.com/vonshlovens/tripsync/internal/db"
)

// Remote is the transport used by a sync cycle. *api.Client implements it.
type Remote interface {
	Sync(ctx context.Context, req *api.SyncRequest) (*api.SyncResponse, error)
	UploadPhoto(ctx context.Context, id uuid.UUID, content []byte) (*api.PhotoDetail, error)
	DownloadPhoto(ctx context.Context, id uuid.UUID) ([]byte, error)
}

// Reconciler applies a sync response to the local store. Trips are applied
// before records and records before photos; items within one step are
// independent and run concurrently.
type Reconciler struct {
	store        Store
	remote       Remote
	concurrency  int
	showProgress bool
}

// NewReconciler creates a reconciler running at most concurrency items at once
func NewReconciler(store Store, remote Remote, concurrency int, showProgress bool) *Reconciler {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Reconciler{
		store:        store,
		remote:       remote,
		concurrency:  concurrency,
		showProgress: showProgress,
	}
}

// Apply reconciles resp into the store. It never stops early: every item
// gets a result, failed or not.
func (r *Reconciler) Apply(ctx context.Context, resp *api.SyncResponse) *Report {
	report := &Report{}

	report.Items = append(report.Items, runLoop(r.concurrency, resp.Trips, func(t api.TripSync) ItemResult {
		return r.applyTrip(ctx, t)
	})...)

	report.Items = append(report.Items, runLoop(r.concurrency, resp.Records, func(rec api.RecordSync) ItemResult {
		return r.applyRecord(ctx, rec)
	})...)

	bar := r.newProgressBar(len(resp.Photos))
	report.Items = append(report.Items, runLoop(r.concurrency, resp.Photos, func(p api.PhotoSync) ItemResult {
		defer bar.Add(1)
		return r.applyPhoto(ctx, p)
	})...)
	bar.Finish()

	for _, item := range report.Failed() {
		slog.Warn("failed to reconcile item",
			"kind", item.Kind,
			"id", item.ID,
			"error", item.Err)
	}

	return report
}

// runLoop fans items out over a bounded pool and collects one result each
func runLoop[T any](concurrency int, items []T, apply func(T) ItemResult) []ItemResult {
	if len(items) == 0 {
		return nil
	}

	p := pool.NewWithResults[ItemResult]().WithMaxGoroutines(concurrency)
	for _, item := range items {
		p.Go(func() ItemResult {
			return apply(item)
		})
	}
	return p.Wait()
}

func (r *Reconciler) newProgressBar(total int) *progressbar.ProgressBar {
	var w io.Writer = io.Discard
	if r.showProgress && total > 0 {
		w = os.Stderr
	}
	return progressbar.NewOptions(total,
		progressbar.OptionSetWriter(w),
		progressbar.OptionSetDescription("Syncing photos"),
		progressbar.OptionShowCount(),
		progressbar.OptionSetWidth(40),
		progressbar.OptionClearOnFinish(),
	)
}

// applyTrip creates or overwrites a trip with the server's version
func (r *Reconciler) applyTrip(ctx context.Context, remote api.TripSync) ItemResult {
	res := ItemResult{Kind: KindTrip, ID: remote.ID}

	status, err := db.ParseTripStatus(remote.Status)
	if err != nil {
		return res.fail(err)
	}

	incoming := &db.Trip{
		ID:        remote.ID,
		Title:     remote.Title,
		Content:   remote.Content,
		Status:    status,
		CreatedAt: createdAt(remote.CreatedAt, remote.UpdatedAt),
		UpdatedAt: remote.UpdatedAt.UTC(),
		DeletedAt: remote.DeletedAt.TimePtr(),
	}

	err = r.store.Update(ctx, func(tx *db.Tx) error {
		local, err := tx.GetTrip(ctx, remote.ID)
		if err != nil {
			return &StoreError{Op: "read trip", ID: remote.ID, Err: err}
		}

		res.Action = ActionCreated
		if local != nil {
			incoming.CreatedAt = keepCreatedAt(local.CreatedAt, incoming.UpdatedAt)
			if tripEqual(local, incoming) {
				res.Action = ActionUnchanged
				return nil
			}
			res.Action = ActionUpdated
		}

		if err := tx.UpsertTrip(ctx, incoming); err != nil {
			return &StoreError{Op: "save trip", ID: remote.ID, Err: err}
		}
		return nil
	})
	if err != nil {
		return res.fail(err)
	}

	slog.Debug("trip reconciled", "trip_id", remote.ID, "action", res.Action)
	return res
}

// applyRecord creates or overwrites a record and attaches it to its trip
func (r *Reconciler) applyRecord(ctx context.Context, remote api.RecordSync) ItemResult {
	res := ItemResult{Kind: KindRecord, ID: remote.ID}

	typ, err := db.ParseRecordType(remote.Type)
	if err != nil {
		return res.fail(err)
	}

	incoming := &db.TripRecord{
		ID:         remote.ID,
		TripID:     remote.TripID,
		Type:       typ,
		Content:    remote.Content,
		Location:   db.Location{Latitude: remote.Latitude, Longitude: remote.Longitude},
		HappenedAt: remote.HappenedAt.UTC(),
		CreatedAt:  createdAt(remote.CreatedAt, remote.UpdatedAt),
		UpdatedAt:  remote.UpdatedAt.UTC(),
		DeletedAt:  remote.DeletedAt.TimePtr(),
	}

	err = r.store.Update(ctx, func(tx *db.Tx) error {
		parent, err := tx.GetTrip(ctx, remote.TripID)
		if err != nil {
			return &StoreError{Op: "read trip", ID: remote.TripID, Err: err}
		}
		if parent == nil {
			return &ReferentialError{Kind: KindRecord, ID: remote.ID, ParentID: remote.TripID}
		}

		local, err := tx.GetRecord(ctx, remote.ID)
		if err != nil {
			return &StoreError{Op: "read record", ID: remote.ID, Err: err}
		}

		res.Action = ActionCreated
		if local != nil {
			incoming.CreatedAt = keepCreatedAt(local.CreatedAt, incoming.UpdatedAt)
			if recordEqual(local, incoming) {
				res.Action = ActionUnchanged
				return nil
			}
			res.Action = ActionUpdated
		}

		if err := tx.UpsertRecord(ctx, incoming); err != nil {
			return &StoreError{Op: "save record", ID: remote.ID, Err: err}
		}
		return nil
	})
	if err != nil {
		return res.fail(err)
	}

	slog.Debug("record reconciled", "record_id", remote.ID, "trip_id", remote.TripID, "action", res.Action)
	return res
}

// applyPhoto updates photo metadata and moves bytes in whichever direction
// is missing. Network calls happen outside the store's write lock.
func (r *Reconciler) applyPhoto(ctx context.Context, remote api.PhotoSync) ItemResult {
	res := ItemResult{Kind: KindPhoto, ID: remote.ID}

	parent, err := r.store.GetRecord(ctx, remote.RecordID)
	if err != nil {
		return res.fail(&StoreError{Op: "read record", ID: remote.RecordID, Err: err})
	}
	if parent == nil {
		return res.fail(&ReferentialError{Kind: KindPhoto, ID: remote.ID, ParentID: remote.RecordID})
	}

	local, err := r.store.GetPhoto(ctx, remote.ID)
	if err != nil {
		return res.fail(&StoreError{Op: "read photo", ID: remote.ID, Err: err})
	}

	updatedAt := remote.UpdatedAt.UTC()
	deletedAt := remote.DeletedAt.TimePtr()

	if local != nil {
		res.Action = ActionUnchanged

		// no mime: the server has metadata but not the bytes. Tombstones are not uploaded.
		if !remote.HasContent() && deletedAt == nil {
			if len(local.Content) == 0 {
				return res.fail(&StoreError{Op: "upload photo", ID: remote.ID, Err: errors.New("no local content")})
			}
			if _, err := r.remote.UploadPhoto(ctx, remote.ID, local.Content); err != nil {
				return res.fail(err)
			}
			res.Action = ActionUploaded
		}

		created := keepCreatedAt(local.CreatedAt, updatedAt)
		if local.RecordID == remote.RecordID && local.CreatedAt.Equal(created) &&
			local.UpdatedAt.Equal(updatedAt) && timePtrEqual(local.DeletedAt, deletedAt) {
			return res
		}

		local.RecordID = remote.RecordID
		local.CreatedAt = created
		local.UpdatedAt = updatedAt
		local.DeletedAt = deletedAt
		local.Content = nil
		if err := r.savePhoto(ctx, local); err != nil {
			return res.fail(err)
		}
		if res.Action == ActionUnchanged {
			res.Action = ActionUpdated
		}
		return res
	}

	// Unknown locally: a tombstone has nothing to show, and without a mime
	// there are no bytes to fetch yet
	if deletedAt != nil || !remote.HasContent() {
		slog.Debug("photo skipped", "photo_id", remote.ID, "deleted", deletedAt != nil)
		res.Action = ActionSkipped
		return res
	}

	var content []byte
	res.Action = ActionDownloaded
	if remote.Checksum != nil {
		known, err := r.store.PhotoContent(ctx, *remote.Checksum)
		if err != nil {
			return res.fail(&StoreError{Op: "read photo content", ID: remote.ID, Err: err})
		}
		if known != nil && SameContent(Checksum(known), *remote.Checksum) {
			content = known
			res.Action = ActionCreated
		}
	}
	if content == nil {
		content, err = r.remote.DownloadPhoto(ctx, remote.ID)
		if err != nil {
			return res.fail(err)
		}
	}

	photo := NewPhoto(remote.ID, remote.RecordID, content, createdAt(remote.CreatedAt, remote.UpdatedAt))
	photo.UpdatedAt = updatedAt
	if remote.Checksum != nil && !SameContent(photo.Checksum, *remote.Checksum) {
		return res.fail(fmt.Errorf("photo %s content checksum %s does not match remote %s", remote.ID, photo.Checksum, *remote.Checksum))
	}

	if err := r.savePhoto(ctx, photo); err != nil {
		return res.fail(err)
	}

	slog.Debug("photo reconciled", "photo_id", remote.ID, "record_id", remote.RecordID, "action", res.Action)
	return res
}

// savePhoto writes a photo, re-checking the parent under the write lock
func (r *Reconciler) savePhoto(ctx context.Context, photo *db.Photo) error {
	return r.store.Update(ctx, func(tx *db.Tx) error {
		parent, err := tx.GetRecord(ctx, photo.RecordID)
		if err != nil {
			return &StoreError{Op: "read record", ID: photo.RecordID, Err: err}
		}
		if parent == nil {
			return &ReferentialError{Kind: KindPhoto, ID: photo.ID, ParentID: photo.RecordID}
		}
		if err := tx.UpsertPhoto(ctx, photo); err != nil {
			return &StoreError{Op: "save photo", ID: photo.ID, Err: err}
		}
		return nil
	})
}

func (res ItemResult) fail(err error) ItemResult {
	res.Action = ActionFailed
	res.Err = err
	return res
}

// createdAt falls back to updated_at when the remote omits created_at
func createdAt(created *api.Timestamp, updated api.Timestamp) time.Time {
	if created == nil || created.IsZero() || created.After(updated.Time) {
		return updated.UTC()
	}
	return created.UTC()
}

// keepCreatedAt keeps the local creation time unless the incoming
// updated_at is earlier, which happens when device clocks disagree
func keepCreatedAt(local, updated time.Time) time.Time {
	if local.After(updated) {
		return updated
	}
	return local
}

func timePtrEqual(a, b *time.Time) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Equal(*b)
}

func tripEqual(a, b *db.Trip) bool {
	return a.Title == b.Title &&
		a.Content == b.Content &&
		a.Status == b.Status &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		timePtrEqual(a.DeletedAt, b.DeletedAt)
}

func recordEqual(a, b *db.TripRecord) bool {
	sameContent := (a.Content == nil && b.Content == nil) ||
		(a.Content != nil && b.Content != nil && *a.Content == *b.Content)
	return sameContent &&
		a.TripID == b.TripID &&
		a.Type == b.Type &&
		a.Location == b.Location &&
		a.HappenedAt.Equal(b.HappenedAt) &&
		a.CreatedAt.Equal(b.CreatedAt) &&
		a.UpdatedAt.Equal(b.UpdatedAt) &&
		timePtrEqual(a.DeletedAt, b.DeletedAt)
}

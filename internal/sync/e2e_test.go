package sync

import (
	"context"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonshlovens/tripsync/internal/api"
	"github.com/vonshlovens/tripsync/internal/db"
	"github.com/vonshlovens/tripsync/internal/devserver"
)

type device struct {
	store  *db.DB
	state  *StateTracker
	engine *Engine
}

func newDevServer(t *testing.T) string {
	t.Helper()
	s := devserver.New("e2e-secret", time.Hour)
	s.AddUser("ana", "hunter2")
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)
	return srv.URL
}

func newDevice(t *testing.T, baseURL string) *device {
	t.Helper()
	client := api.NewClient(baseURL, 5*time.Second)
	client.SetCredentials(api.NewPasswordLogin(client, "ana", "hunter2", "", nil))

	store := newTestStore(t)
	state, err := NewStateTracker(t.TempDir(), baseURL)
	require.NoError(t, err)
	return &device{
		store:  store,
		state:  state,
		engine: NewEngine(store, client, state, Options{Concurrency: 4}),
	}
}

func TestEndToEnd_TwoDevices(t *testing.T) {
	ctx := context.Background()
	baseURL := newDevServer(t)
	phone := newDevice(t, baseURL)
	laptop := newDevice(t, baseURL)

	now := time.Now().UTC()
	trip := db.NewTrip("Bratislava to Lisbon", "first night in Vienna", now)
	rec := newRecord(trip.ID, now)
	photo := NewPhoto(uuid.New(), rec.ID, []byte("\xff\xd8\xff\xe0 roadside"), now)
	seed(t, phone.store, trip, rec, photo)

	report, err := phone.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(KindPhoto, ActionUploaded))

	report, err = laptop.engine.Sync(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Count(KindTrip, ActionCreated))
	assert.Equal(t, 1, report.Count(KindRecord, ActionCreated))
	assert.Equal(t, 1, report.Count(KindPhoto, ActionDownloaded))

	got, err := laptop.store.GetPhoto(ctx, photo.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, photo.Content, got.Content)
	assert.Equal(t, photo.Checksum, got.Checksum)

	changed, err := laptop.engine.HasLocalChanges(ctx)
	require.NoError(t, err)
	assert.False(t, changed)

	// soft delete on one device reaches the other
	trip.MarkDeleted(time.Now())
	seed(t, phone.store, trip)
	_, err = phone.engine.Sync(ctx)
	require.NoError(t, err)
	_, err = laptop.engine.Sync(ctx)
	require.NoError(t, err)

	active, err := laptop.store.ActiveTrips(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)

	tombstone, err := laptop.store.GetTrip(ctx, trip.ID)
	require.NoError(t, err)
	require.NotNil(t, tombstone)
	require.NotNil(t, tombstone.DeletedAt)
	assert.True(t, tombstone.DeletedAt.Equal(*trip.DeletedAt))
}

func TestEndToEnd_RepeatedCyclesAreIdempotent(t *testing.T) {
	ctx := context.Background()
	dev := newDevice(t, newDevServer(t))

	now := time.Now().UTC()
	trip := db.NewTrip("trip", "", now)
	rec := newRecord(trip.ID, now)
	seed(t, dev.store, trip, rec, NewPhoto(uuid.New(), rec.ID, []byte("jpeg"), now))

	_, err := dev.engine.Sync(ctx)
	require.NoError(t, err)
	first := dump(t, dev.store)

	for i := 0; i < 2; i++ {
		report, err := dev.engine.Sync(ctx)
		require.NoError(t, err)
		assert.Zero(t, report.Count(KindPhoto, ActionUploaded))
		assert.Zero(t, report.Count(KindPhoto, ActionDownloaded))
		assert.Equal(t, first, dump(t, dev.store))
	}
}

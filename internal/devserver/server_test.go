package devserver

import (
	"context"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vonshlovens/tripsync/internal/api"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newTestServer(t *testing.T, opts ...func(*Server)) (*Server, *api.Client) {
	t.Helper()
	s := New("test-secret", time.Hour)
	s.AddUser("ana", "hunter2")
	for _, opt := range opts {
		opt(s)
	}

	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	client := api.NewClient(srv.URL, 5*time.Second)
	token, err := client.CreateToken(context.Background(), "ana", "hunter2")
	require.NoError(t, err)
	client.SetCredentials(api.StaticToken(token.AccessToken))
	return s, client
}

func ts(s string) api.Timestamp {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		panic(err)
	}
	return api.NewTimestamp(t)
}

func TestCreateToken(t *testing.T) {
	s := New("test-secret", time.Hour)
	s.AddUser("ana", "hunter2")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	client := api.NewClient(srv.URL, 5*time.Second)
	ctx := context.Background()

	_, err := client.CreateToken(ctx, "ana", "wrong")
	var te *api.TransportError
	require.ErrorAs(t, err, &te)
	assert.True(t, te.Unauthorized())

	token, err := client.CreateToken(ctx, "ana", "hunter2")
	require.NoError(t, err)
	assert.False(t, api.TokenExpired(token.AccessToken, time.Now()))

	client.SetCredentials(api.StaticToken(token.AccessToken))
	me, err := client.ReadUser(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ana", me.Username)
}

func TestRejectsBadTokens(t *testing.T) {
	s := New("test-secret", time.Hour)
	s.AddUser("ana", "hunter2")
	srv := httptest.NewServer(s.Router())
	defer srv.Close()

	other := New("other-secret", time.Hour)
	other.AddUser("ana", "hunter2")
	forged, err := other.IssueToken("ana")
	require.NoError(t, err)

	expiring := New("test-secret", time.Minute)
	expiring.AddUser("ana", "hunter2")
	expiring.now = func() time.Time { return time.Now().Add(-time.Hour) }
	expired, err := expiring.IssueToken("ana")
	require.NoError(t, err)

	for name, token := range map[string]string{
		"garbage": "not-a-jwt",
		"forged":  forged,
		"expired": expired,
	} {
		t.Run(name, func(t *testing.T) {
			client := api.NewClient(srv.URL, 5*time.Second)
			client.SetCredentials(api.StaticToken(token))

			_, err := client.ReadUser(context.Background())
			var te *api.TransportError
			require.ErrorAs(t, err, &te)
			assert.Equal(t, 401, te.StatusCode)
		})
	}
}

func TestSync_NewestWins(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()
	id := uuid.New()

	_, err := client.Sync(ctx, &api.SyncRequest{
		Trips: []api.TripSync{{ID: id, Title: "newer", Status: "draft", UpdatedAt: ts("2024-06-25T10:00:00Z")}},
	})
	require.NoError(t, err)

	resp, err := client.Sync(ctx, &api.SyncRequest{
		Trips: []api.TripSync{{ID: id, Title: "older", Status: "draft", UpdatedAt: ts("2024-06-25T09:00:00Z")}},
	})
	require.NoError(t, err)

	require.Len(t, resp.Trips, 1)
	assert.Equal(t, "newer", resp.Trips[0].Title, "the stale push is answered with the winner")
}

func TestSync_ReturnsChangesSinceCursor(t *testing.T) {
	var clock atomic.Int64
	clock.Store(time.Date(2024, 6, 25, 8, 0, 0, 0, time.UTC).UnixNano())
	_, client := newTestServer(t, func(s *Server) {
		s.now = func() time.Time { return time.Unix(0, clock.Load()) }
		s.tokenTTL = 24 * time.Hour
	})
	ctx := context.Background()

	first, second := uuid.New(), uuid.New()
	_, err := client.Sync(ctx, &api.SyncRequest{
		Trips: []api.TripSync{{ID: first, Title: "first", Status: "draft", UpdatedAt: ts("2024-06-25T08:00:00Z")}},
	})
	require.NoError(t, err)

	clock.Add(int64(time.Hour))
	_, err = client.Sync(ctx, &api.SyncRequest{
		Trips: []api.TripSync{{ID: second, Title: "second", Status: "draft", UpdatedAt: ts("2024-06-25T09:00:00Z")}},
	})
	require.NoError(t, err)

	cursor := ts("2024-06-25T08:30:00Z")
	resp, err := client.Sync(ctx, &api.SyncRequest{LastSyncAt: &cursor})
	require.NoError(t, err)
	require.Len(t, resp.Trips, 1)
	assert.Equal(t, second, resp.Trips[0].ID)

	resp, err = client.Sync(ctx, &api.SyncRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.Trips, 2, "no cursor returns everything")
}

func TestSync_RejectsInvalidPayload(t *testing.T) {
	_, client := newTestServer(t)

	_, err := client.Sync(context.Background(), &api.SyncRequest{
		Trips: []api.TripSync{{ID: uuid.New(), Title: "bad", Status: "lost", UpdatedAt: ts("2024-06-25T08:00:00Z")}},
	})
	var te *api.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 422, te.StatusCode)
}

func TestPhotoLifecycle(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	photoID, recordID := uuid.New(), uuid.New()
	content := []byte("\xff\xd8\xff\xe0 fake jpeg")

	resp, err := client.Sync(ctx, &api.SyncRequest{
		Photos: []api.PhotoSync{{ID: photoID, RecordID: recordID, UpdatedAt: ts("2024-06-25T08:00:00Z")}},
	})
	require.NoError(t, err)
	require.Len(t, resp.Photos, 1)
	assert.False(t, resp.Photos[0].HasContent(), "no bytes uploaded yet")

	_, err = client.DownloadPhoto(ctx, photoID)
	var te *api.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 404, te.StatusCode)

	detail, err := client.UploadPhoto(ctx, photoID, content)
	require.NoError(t, err)
	require.NotNil(t, detail.Mime)
	assert.Equal(t, "image/jpeg", *detail.Mime)

	got, err := client.DownloadPhoto(ctx, photoID)
	require.NoError(t, err)
	assert.Equal(t, content, got)

	resp, err = client.Sync(ctx, &api.SyncRequest{})
	require.NoError(t, err)
	require.Len(t, resp.Photos, 1)
	assert.True(t, resp.Photos[0].HasContent())
	require.NotNil(t, resp.Photos[0].Checksum)
}

func TestUploadPhoto_Errors(t *testing.T) {
	_, client := newTestServer(t)
	ctx := context.Background()

	_, err := client.UploadPhoto(ctx, uuid.New(), []byte("orphan"))
	var te *api.TransportError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 404, te.StatusCode, "metadata must be synced first")

	photoID := uuid.New()
	checksum := "0000000000000000000000000000000000000000000000000000000000000000"
	_, err = client.Sync(ctx, &api.SyncRequest{
		Photos: []api.PhotoSync{{ID: photoID, RecordID: uuid.New(), Checksum: &checksum, UpdatedAt: ts("2024-06-25T08:00:00Z")}},
	})
	require.NoError(t, err)

	_, err = client.UploadPhoto(ctx, photoID, []byte("does not hash to zero"))
	require.ErrorAs(t, err, &te)
	assert.Equal(t, 422, te.StatusCode)
}

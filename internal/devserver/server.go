// Package devserver is an in-memory implementation of the diary API for
// local development and end-to-end tests. Nothing it holds survives a
// restart.
package devserver

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vonshlovens/tripsync/internal/api"
)

var (
	ErrUnknownUser      = errors.New("incorrect username or password")
	ErrUnknownPhoto     = errors.New("photo not found")
	ErrChecksumMismatch = errors.New("photo content does not match its checksum")
)

type user struct {
	id        uuid.UUID
	username  string
	password  string
	createdAt time.Time
}

type photoEntry struct {
	meta    api.PhotoSync
	content []byte
	mime    string
}

// Server holds every account's diary in one shared namespace
type Server struct {
	secret   []byte
	tokenTTL time.Duration
	now      func() time.Time

	mu      sync.Mutex
	users   map[string]*user
	trips   map[uuid.UUID]api.TripSync
	records map[uuid.UUID]api.RecordSync
	photos  map[uuid.UUID]*photoEntry
	// changed is the server time each entity last changed, keyed by id
	changed map[uuid.UUID]time.Time
}

// New creates an empty server signing tokens with secret
func New(secret string, tokenTTL time.Duration) *Server {
	if tokenTTL <= 0 {
		tokenTTL = time.Hour
	}
	return &Server{
		secret:   []byte(secret),
		tokenTTL: tokenTTL,
		now:      time.Now,
		users:    make(map[string]*user),
		trips:    make(map[uuid.UUID]api.TripSync),
		records:  make(map[uuid.UUID]api.RecordSync),
		photos:   make(map[uuid.UUID]*photoEntry),
		changed:  make(map[uuid.UUID]time.Time),
	}
}

// AddUser registers an account, replacing the password of an existing one
func (s *Server) AddUser(username, password string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if u, ok := s.users[username]; ok {
		u.password = password
		return
	}
	s.users[username] = &user{
		id:        uuid.New(),
		username:  username,
		password:  password,
		createdAt: s.now().UTC(),
	}
}

func (s *Server) authenticate(username, password string) (*user, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[username]
	if !ok || u.password != password {
		return nil, ErrUnknownUser
	}
	return u, nil
}

func (s *Server) lookupUser(username string) (*user, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[username]
	return u, ok
}

// ApplySync merges a pushed change set, keeping whichever side has the newer
// updated_at, and answers with every entity changed since the client's
// cursor plus the winning version of everything it pushed.
func (s *Server) ApplySync(req *api.SyncRequest) *api.SyncResponse {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now().UTC()
	pushed := make(map[uuid.UUID]bool)

	for _, t := range req.Trips {
		pushed[t.ID] = true
		if cur, ok := s.trips[t.ID]; ok && !t.UpdatedAt.After(cur.UpdatedAt.Time) {
			continue
		}
		if cur, ok := s.trips[t.ID]; ok && cur.CreatedAt != nil {
			t.CreatedAt = cur.CreatedAt
		}
		s.trips[t.ID] = t
		s.changed[t.ID] = now
	}

	for _, r := range req.Records {
		pushed[r.ID] = true
		if cur, ok := s.records[r.ID]; ok && !r.UpdatedAt.After(cur.UpdatedAt.Time) {
			continue
		}
		if cur, ok := s.records[r.ID]; ok && cur.CreatedAt != nil {
			r.CreatedAt = cur.CreatedAt
		}
		s.records[r.ID] = r
		s.changed[r.ID] = now
	}

	for _, p := range req.Photos {
		pushed[p.ID] = true
		// mime is owned by the server
		p.Mime = nil

		entry, ok := s.photos[p.ID]
		if !ok {
			s.photos[p.ID] = &photoEntry{meta: p}
			s.changed[p.ID] = now
			continue
		}
		if !p.UpdatedAt.After(entry.meta.UpdatedAt.Time) {
			continue
		}
		if entry.meta.Checksum != nil {
			p.Checksum = entry.meta.Checksum
		}
		if entry.meta.CreatedAt != nil {
			p.CreatedAt = entry.meta.CreatedAt
		}
		entry.meta = p
		s.changed[p.ID] = now
	}

	wanted := func(id uuid.UUID) bool {
		if pushed[id] || req.LastSyncAt == nil {
			return true
		}
		return !s.changed[id].Before(req.LastSyncAt.Time)
	}

	resp := &api.SyncResponse{
		Trips:   make([]api.TripSync, 0),
		Records: make([]api.RecordSync, 0),
		Photos:  make([]api.PhotoSync, 0),
	}
	for id, t := range s.trips {
		if wanted(id) {
			resp.Trips = append(resp.Trips, t)
		}
	}
	for id, r := range s.records {
		if wanted(id) {
			resp.Records = append(resp.Records, r)
		}
	}
	for id, entry := range s.photos {
		if wanted(id) {
			resp.Photos = append(resp.Photos, entry.descriptor())
		}
	}

	slices.SortFunc(resp.Trips, func(a, b api.TripSync) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	slices.SortFunc(resp.Records, func(a, b api.RecordSync) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	slices.SortFunc(resp.Photos, func(a, b api.PhotoSync) int { return strings.Compare(a.ID.String(), b.ID.String()) })
	return resp
}

// descriptor is the photo as listed by /sync; mime is set only once bytes
// have been uploaded
func (e *photoEntry) descriptor() api.PhotoSync {
	d := e.meta
	d.Mime = nil
	if len(e.content) > 0 {
		mime := e.mime
		d.Mime = &mime
	}
	return d
}

// StorePhoto attaches uploaded bytes to known photo metadata
func (s *Server) StorePhoto(id uuid.UUID, content []byte, mime string) (api.PhotoDetail, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.photos[id]
	if !ok {
		return api.PhotoDetail{}, ErrUnknownPhoto
	}

	sum := sha256.Sum256(content)
	checksum := hex.EncodeToString(sum[:])
	if entry.meta.Checksum != nil && *entry.meta.Checksum != checksum {
		return api.PhotoDetail{}, ErrChecksumMismatch
	}

	entry.content = content
	entry.mime = mime
	entry.meta.Checksum = &checksum
	// clients that skipped the photo before the upload see it again
	s.changed[id] = s.now().UTC()

	return entry.detail(), nil
}

// Photo returns the stored bytes and their mime type
func (s *Server) Photo(id uuid.UUID) ([]byte, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.photos[id]
	if !ok || len(entry.content) == 0 {
		return nil, "", ErrUnknownPhoto
	}
	return entry.content, entry.mime, nil
}

func (e *photoEntry) detail() api.PhotoDetail {
	d := e.descriptor()
	created := d.UpdatedAt
	if d.CreatedAt != nil {
		created = *d.CreatedAt
	}
	updated := d.UpdatedAt
	return api.PhotoDetail{
		ID:        d.ID,
		RecordID:  d.RecordID,
		Checksum:  d.Checksum,
		Mime:      d.Mime,
		CreatedAt: created,
		UpdatedAt: &updated,
		DeletedAt: d.DeletedAt,
	}
}

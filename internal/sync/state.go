package sync

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// SyncState is the persisted client state for one remote
type SyncState struct {
	BaseURL  string `json:"base_url"`
	Username string `json:"username,omitempty"`
	Token    string `json:"token,omitempty"`

	// LastSyncAt is the cursor bounding the next change set
	LastSyncAt *time.Time `json:"last_sync_at,omitempty"`

	// LocalWatermark is the newest local updated_at right after the last
	// cycle; anything newer is a local edit
	LocalWatermark *time.Time `json:"local_watermark,omitempty"`
}

// StateTracker manages local sync state
type StateTracker struct {
	state    *SyncState
	filePath string
	mu       sync.RWMutex
	dirty    bool
}

// NewStateTracker loads (or starts) the state for baseURL under stateDir
func NewStateTracker(stateDir, baseURL string) (*StateTracker, error) {
	if err := os.MkdirAll(stateDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}

	// One state file per remote
	remoteHash := HashString(baseURL)[:12]
	filePath := filepath.Join(stateDir, "state-"+remoteHash+".json")

	st := &StateTracker{
		filePath: filePath,
		state:    &SyncState{BaseURL: baseURL},
	}

	if err := st.load(); err != nil && !os.IsNotExist(err) {
		slog.Warn("ignoring unreadable sync state", "path", filePath, "error", err)
	}

	if st.state.BaseURL != baseURL {
		st.state = &SyncState{BaseURL: baseURL}
	}

	return st, nil
}

// load reads state from disk
func (st *StateTracker) load() error {
	data, err := os.ReadFile(st.filePath)
	if err != nil {
		return err
	}

	state := &SyncState{}
	if err := json.Unmarshal(data, state); err != nil {
		return err
	}

	st.state = state
	return nil
}

// Save persists state to disk
func (st *StateTracker) Save() error {
	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.dirty {
		return nil
	}

	data, err := json.MarshalIndent(st.state, "", "  ")
	if err != nil {
		return err
	}

	// the file holds a bearer token
	tmp := st.filePath + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}
	if err := os.Rename(tmp, st.filePath); err != nil {
		return fmt.Errorf("failed to replace state: %w", err)
	}

	st.dirty = false
	return nil
}

// Path returns the state file location
func (st *StateTracker) Path() string {
	return st.filePath
}

// Cursor returns the last_sync_at watermark, or nil before the first sync
func (st *StateTracker) Cursor() *time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return copyTime(st.state.LastSyncAt)
}

// AdvanceCursor moves the cursor forward. It never moves backwards.
func (st *StateTracker) AdvanceCursor(t time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()

	t = t.UTC()
	if st.state.LastSyncAt != nil && !t.After(*st.state.LastSyncAt) {
		return
	}
	st.state.LastSyncAt = &t
	st.dirty = true
}

// LocalWatermark returns the newest local update seen after the last cycle
func (st *StateTracker) LocalWatermark() *time.Time {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return copyTime(st.state.LocalWatermark)
}

// SetLocalWatermark records the newest local update after a cycle
func (st *StateTracker) SetLocalWatermark(t *time.Time) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state.LocalWatermark = copyTime(t)
	st.dirty = true
}

// SetLogin stores the account and its access token
func (st *StateTracker) SetLogin(username, token string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state.Username = username
	st.state.Token = token
	st.dirty = true
}

// SetToken replaces the access token, keeping the username
func (st *StateTracker) SetToken(token string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state.Token = token
	st.dirty = true
}

// Token returns the stored access token
func (st *StateTracker) Token() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.Token
}

// Username returns the logged-in account name
func (st *StateTracker) Username() string {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return st.state.Username
}

// LoggedIn reports whether an access token is stored
func (st *StateTracker) LoggedIn() bool {
	return st.Token() != ""
}

// Clear forgets the account and the cursor
func (st *StateTracker) Clear() {
	st.mu.Lock()
	defer st.mu.Unlock()
	st.state = &SyncState{BaseURL: st.state.BaseURL}
	st.dirty = true
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

package sync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/vonshlovens/tripsync/internal/api"
	"github.com/vonshlovens/tripsync/internal/config"
)

// State is the phase of the engine's current or last cycle
type State int

const (
	StateIdle State = iota
	StatePushing
	StateReconciling
	StateCommitted
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePushing:
		return "pushing"
	case StateReconciling:
		return "reconciling"
	case StateCommitted:
		return "committed"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Options tunes a sync engine
type Options struct {
	Concurrency            int
	ShowProgress           bool
	HoldCursorOnItemErrors bool
	RetryAttempts          int
	RetryDelay             time.Duration
}

// OptionsFromConfig maps the sync section of the configuration
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Concurrency:            cfg.Sync.Concurrency,
		ShowProgress:           cfg.Sync.ShowProgress,
		HoldCursorOnItemErrors: cfg.Sync.HoldCursorOnItemErrors,
		RetryAttempts:          cfg.Sync.RetryAttempts,
		RetryDelay:             time.Duration(cfg.Sync.RetryDelayMs) * time.Millisecond,
	}
}

// Engine runs sync cycles between the local store and the remote. At most
// one cycle runs at a time.
type Engine struct {
	store      Store
	remote     Remote
	state      *StateTracker
	reconciler *Reconciler
	opts       Options
	now        func() time.Time

	mu         sync.Mutex
	running    bool
	phase      State
	lastReport *Report
}

// NewEngine creates a new sync engine
func NewEngine(store Store, remote Remote, state *StateTracker, opts Options) *Engine {
	return &Engine{
		store:      store,
		remote:     remote,
		state:      state,
		reconciler: NewReconciler(store, remote, opts.Concurrency, opts.ShowProgress),
		opts:       opts,
		now:        time.Now,
	}
}

// State returns the phase of the running cycle, or the outcome of the last one
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.phase
}

// LastReport returns the report of the last cycle that reached reconciliation
func (e *Engine) LastReport() *Report {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastReport
}

func (e *Engine) setPhase(s State) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.phase = s
}

// begin claims the engine for one cycle
func (e *Engine) begin() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return false
	}
	e.running = true
	e.phase = StatePushing
	return true
}

func (e *Engine) end(report *Report) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.running = false
	if report != nil {
		e.lastReport = report
	}
}

// Sync runs one cycle: push local changes, reconcile the response, advance
// the cursor. A transport failure leaves the store and cursor untouched. Item
// failures are returned as a *CycleError after every other item was applied.
func (e *Engine) Sync(ctx context.Context) (report *Report, err error) {
	if !e.begin() {
		return nil, ErrBusy
	}
	defer func() { e.end(report) }()

	// Captured before anything is read, so edits made while the request is in
	// flight are pushed again next cycle
	next := e.now().UTC()
	cursor := e.state.Cursor()

	changes, err := BuildChangeSet(ctx, e.store, cursor)
	if err != nil {
		e.setPhase(StateFailed)
		return nil, fmt.Errorf("failed to build change set: %w", err)
	}

	slog.Info("starting sync",
		"cursor", cursor,
		"trips", len(changes.Trips),
		"records", len(changes.Records),
		"photos", len(changes.Photos))

	resp, err := e.remote.Sync(ctx, changes.Request(cursor))
	if err != nil {
		e.setPhase(StateFailed)
		return nil, err
	}

	e.setPhase(StateReconciling)

	// Once the response is in hand the cycle runs to completion
	report = e.reconciler.Apply(context.WithoutCancel(ctx), resp)
	report.StartedAt = next
	report.PushedTrips = len(changes.Trips)
	report.PushedRecords = len(changes.Records)
	report.PushedPhotos = len(changes.Photos)

	failed := len(report.Failed()) > 0
	if !failed || !e.opts.HoldCursorOnItemErrors {
		e.state.AdvanceCursor(next)
		report.CursorAdvanced = true
	}
	report.Cursor = e.state.Cursor()

	if latest, err := e.store.LatestUpdate(context.WithoutCancel(ctx)); err != nil {
		slog.Warn("failed to read local watermark", "error", err)
	} else {
		e.state.SetLocalWatermark(latest)
	}
	if err := e.state.Save(); err != nil {
		slog.Warn("failed to save state", "error", err)
	}
	report.FinishedAt = e.now().UTC()

	if failed {
		e.setPhase(StateFailed)
		slog.Warn("sync finished with errors",
			"summary", report.Summary(),
			"cursor_advanced", report.CursorAdvanced,
			"duration_s", report.FinishedAt.Sub(report.StartedAt).Seconds())
		return report, &CycleError{Report: report}
	}

	e.setPhase(StateCommitted)
	slog.Info("sync completed",
		"summary", report.Summary(),
		"duration_s", report.FinishedAt.Sub(report.StartedAt).Seconds())
	return report, nil
}

// RunWithRetry runs Sync, retrying whole cycles that failed in transport
// with exponential backoff. Item failures and rejected credentials are not
// retried.
func (e *Engine) RunWithRetry(ctx context.Context) (*Report, error) {
	delay := e.opts.RetryDelay
	if delay <= 0 {
		delay = time.Second
	}
	attempts := e.opts.RetryAttempts
	if attempts < 0 {
		attempts = 0
	}

	backoff := retry.NewExponential(delay)
	backoff = retry.WithCappedDuration(time.Minute, backoff)
	backoff = retry.WithMaxRetries(uint64(attempts), backoff)

	var report *Report
	attempt := 0
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attempt++
		r, err := e.Sync(ctx)
		report = r
		if err == nil {
			return nil
		}

		var cycleErr *CycleError
		if errors.As(err, &cycleErr) {
			return err
		}

		var te *api.TransportError
		if errors.As(err, &te) && !te.Unauthorized() {
			slog.Warn("sync attempt failed", "attempt", attempt, "error", err)
			return retry.RetryableError(err)
		}
		return err
	})
	return report, err
}

// HasLocalChanges reports whether the store holds edits newer than the last
// cycle. Writes made by reconciliation itself do not count.
func (e *Engine) HasLocalChanges(ctx context.Context) (bool, error) {
	latest, err := e.store.LatestUpdate(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to read latest update: %w", err)
	}
	if latest == nil {
		return false, nil
	}

	watermark := e.state.LocalWatermark()
	if watermark == nil {
		return true, nil
	}
	return latest.After(*watermark), nil
}

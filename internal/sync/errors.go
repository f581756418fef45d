package sync

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/multierr"
)

var (
	// ErrBusy is returned when a cycle is already running on the engine
	ErrBusy = errors.New("sync already in progress")

	// ErrNotLoggedIn is returned when no access token is stored
	ErrNotLoggedIn = errors.New("not logged in")
)

// EntityKind names the entity an item result refers to
type EntityKind string

const (
	KindTrip   EntityKind = "trip"
	KindRecord EntityKind = "record"
	KindPhoto  EntityKind = "photo"
)

// ReferentialError means an item's parent is not known locally
type ReferentialError struct {
	Kind     EntityKind
	ID       uuid.UUID
	ParentID uuid.UUID
}

func (e *ReferentialError) Error() string {
	parent := KindTrip
	if e.Kind == KindPhoto {
		parent = KindRecord
	}
	return fmt.Sprintf("%s %s references unknown %s %s", e.Kind, e.ID, parent, e.ParentID)
}

// StoreError wraps a local persistence failure for one item
type StoreError struct {
	Op  string
	ID  uuid.UUID
	Err error
}

func (e *StoreError) Error() string {
	if e.ID == uuid.Nil {
		return fmt.Sprintf("failed to %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("failed to %s %s: %v", e.Op, e.ID, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Action is what reconciliation did with one item
type Action string

const (
	ActionCreated    Action = "created"
	ActionUpdated    Action = "updated"
	ActionUnchanged  Action = "unchanged"
	ActionUploaded   Action = "uploaded"
	ActionDownloaded Action = "downloaded"
	ActionSkipped    Action = "skipped"
	ActionFailed     Action = "failed"
)

// ItemResult is the outcome of reconciling one remote entity
type ItemResult struct {
	Kind   EntityKind
	ID     uuid.UUID
	Action Action
	Err    error
}

// Report describes one sync cycle
type Report struct {
	StartedAt  time.Time
	FinishedAt time.Time

	PushedTrips   int
	PushedRecords int
	PushedPhotos  int

	Items []ItemResult

	// Cursor is the watermark after the cycle; nil if it was never set
	Cursor         *time.Time
	CursorAdvanced bool
}

// Count returns how many items of kind ended with action
func (r *Report) Count(kind EntityKind, action Action) int {
	n := 0
	for _, item := range r.Items {
		if item.Kind == kind && item.Action == action {
			n++
		}
	}
	return n
}

// Failed returns the items that could not be applied
func (r *Report) Failed() []ItemResult {
	var failed []ItemResult
	for _, item := range r.Items {
		if item.Err != nil {
			failed = append(failed, item)
		}
	}
	return failed
}

// Err combines all item errors, or returns nil
func (r *Report) Err() error {
	var err error
	for _, item := range r.Items {
		err = multierr.Append(err, item.Err)
	}
	return err
}

// Summary is a one-line human-readable description of the cycle
func (r *Report) Summary() string {
	var parts []string
	for _, kind := range []EntityKind{KindTrip, KindRecord, KindPhoto} {
		total, failed := 0, 0
		for _, item := range r.Items {
			if item.Kind != kind {
				continue
			}
			total++
			if item.Err != nil {
				failed++
			}
		}
		part := fmt.Sprintf("%ss %d", kind, total)
		if failed > 0 {
			part += fmt.Sprintf(" (%d failed)", failed)
		}
		parts = append(parts, part)
	}
	return fmt.Sprintf("pushed %d/%d/%d, received %s",
		r.PushedTrips, r.PushedRecords, r.PushedPhotos, strings.Join(parts, ", "))
}

// CycleError is returned when reconciliation finished with item failures.
// Items that did apply are kept.
type CycleError struct {
	Report *Report
}

func (e *CycleError) Error() string {
	failed := e.Report.Failed()
	msg := fmt.Sprintf("sync cycle failed: %d of %d items failed", len(failed), len(e.Report.Items))
	if len(failed) > 0 {
		msg += ": " + failed[0].Err.Error()
		if len(failed) > 1 {
			msg += fmt.Sprintf(" (and %d more)", len(failed)-1)
		}
	}
	return msg
}

// Unwrap exposes the individual item errors to errors.Is and errors.As
func (e *CycleError) Unwrap() []error {
	return multierr.Errors(e.Report.Err())
}

package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

// querier is satisfied by both *sqlx.DB and *sqlx.Tx
type querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
	Rebind(query string) string
}

type tripRow struct {
	ID        string        `db:"id"`
	Title     string        `db:"title"`
	Content   string        `db:"content"`
	Status    string        `db:"status"`
	CreatedAt int64         `db:"created_at"`
	UpdatedAt int64         `db:"updated_at"`
	DeletedAt sql.NullInt64 `db:"deleted_at"`
}

type recordRow struct {
	ID         string         `db:"id"`
	TripID     string         `db:"trip_id"`
	Type       string         `db:"type"`
	Content    sql.NullString `db:"content"`
	Latitude   float64        `db:"latitude"`
	Longitude  float64        `db:"longitude"`
	HappenedAt int64          `db:"happened_at"`
	CreatedAt  int64          `db:"created_at"`
	UpdatedAt  int64          `db:"updated_at"`
	DeletedAt  sql.NullInt64  `db:"deleted_at"`
}

type photoRow struct {
	ID        string        `db:"id"`
	RecordID  string        `db:"record_id"`
	Checksum  string        `db:"checksum"`
	Content   []byte        `db:"content"`
	CreatedAt int64         `db:"created_at"`
	UpdatedAt int64         `db:"updated_at"`
	DeletedAt sql.NullInt64 `db:"deleted_at"`
}

const (
	tripColumns   = "id, title, content, status, created_at, updated_at, deleted_at"
	recordColumns = "id, trip_id, type, content, latitude, longitude, happened_at, created_at, updated_at, deleted_at"
	photoColumns  = "p.id, p.record_id, p.checksum, p.created_at, p.updated_at, p.deleted_at"
)

// Timestamps are stored as UTC unix nanoseconds so that ordering and
// equality behave identically on SQLite and Postgres.
func toNanos(t time.Time) int64 {
	return t.UTC().UnixNano()
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}

func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNanos(*t), Valid: true}
}

func fromNullNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNanos(n.Int64)
	return &t
}

func (r *tripRow) toTrip() (*Trip, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid trip id %q: %w", r.ID, err)
	}
	status, err := ParseTripStatus(r.Status)
	if err != nil {
		return nil, err
	}
	return &Trip{
		ID:        id,
		Title:     r.Title,
		Content:   r.Content,
		Status:    status,
		CreatedAt: fromNanos(r.CreatedAt),
		UpdatedAt: fromNanos(r.UpdatedAt),
		DeletedAt: fromNullNanos(r.DeletedAt),
	}, nil
}

func (r *recordRow) toRecord() (*TripRecord, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid record id %q: %w", r.ID, err)
	}
	tripID, err := uuid.Parse(r.TripID)
	if err != nil {
		return nil, fmt.Errorf("invalid trip id %q on record %s: %w", r.TripID, r.ID, err)
	}
	typ, err := ParseRecordType(r.Type)
	if err != nil {
		return nil, err
	}
	rec := &TripRecord{
		ID:         id,
		TripID:     tripID,
		Type:       typ,
		Location:   Location{Latitude: r.Latitude, Longitude: r.Longitude},
		HappenedAt: fromNanos(r.HappenedAt),
		CreatedAt:  fromNanos(r.CreatedAt),
		UpdatedAt:  fromNanos(r.UpdatedAt),
		DeletedAt:  fromNullNanos(r.DeletedAt),
	}
	if r.Content.Valid {
		content := r.Content.String
		rec.Content = &content
	}
	return rec, nil
}

func (r *photoRow) toPhoto() (*Photo, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("invalid photo id %q: %w", r.ID, err)
	}
	recordID, err := uuid.Parse(r.RecordID)
	if err != nil {
		return nil, fmt.Errorf("invalid record id %q on photo %s: %w", r.RecordID, r.ID, err)
	}
	return &Photo{
		ID:        id,
		RecordID:  recordID,
		Checksum:  r.Checksum,
		Content:   r.Content,
		CreatedAt: fromNanos(r.CreatedAt),
		UpdatedAt: fromNanos(r.UpdatedAt),
		DeletedAt: fromNullNanos(r.DeletedAt),
	}, nil
}

// where renders the filter as a WHERE clause with ? placeholders
func (f Filter) where(prefix string) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if !f.IncludeDeleted {
		conds = append(conds, prefix+"deleted_at IS NULL")
	}
	if f.UpdatedSince != nil {
		conds = append(conds, prefix+"updated_at >= ?")
		args = append(args, toNanos(*f.UpdatedSince))
	}
	if f.TripID != nil {
		conds = append(conds, prefix+"trip_id = ?")
		args = append(args, f.TripID.String())
	}
	if f.RecordID != nil {
		conds = append(conds, prefix+"record_id = ?")
		args = append(args, f.RecordID.String())
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// FetchTrips returns trips matching the filter
func (db *DB) FetchTrips(ctx context.Context, f Filter) ([]*Trip, error) {
	if f.TripID != nil || f.RecordID != nil {
		return nil, fmt.Errorf("trip filter cannot use parent references")
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	where, args := f.where("")
	var rows []tripRow
	if err := sqlx.SelectContext(ctx, db.conn, &rows, db.conn.Rebind("SELECT "+tripColumns+" FROM trips"+where), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch trips: %w", err)
	}

	trips := make([]*Trip, 0, len(rows))
	for i := range rows {
		trip, err := rows[i].toTrip()
		if err != nil {
			return nil, err
		}
		trips = append(trips, trip)
	}
	return trips, nil
}

// FetchRecords returns records matching the filter
func (db *DB) FetchRecords(ctx context.Context, f Filter) ([]*TripRecord, error) {
	if f.RecordID != nil {
		return nil, fmt.Errorf("record filter cannot use a record reference")
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	where, args := f.where("")
	var rows []recordRow
	if err := sqlx.SelectContext(ctx, db.conn, &rows, db.conn.Rebind("SELECT "+recordColumns+" FROM trip_records"+where), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch records: %w", err)
	}

	records := make([]*TripRecord, 0, len(rows))
	for i := range rows {
		rec, err := rows[i].toRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// FetchPhotos returns photo metadata matching the filter. Content is not
// loaded; use GetPhoto or PhotoContent for bytes.
func (db *DB) FetchPhotos(ctx context.Context, f Filter) ([]*Photo, error) {
	if f.TripID != nil {
		return nil, fmt.Errorf("photo filter cannot use a trip reference")
	}

	db.mu.RLock()
	defer db.mu.RUnlock()

	where, args := f.where("p.")
	var rows []photoRow
	if err := sqlx.SelectContext(ctx, db.conn, &rows, db.conn.Rebind("SELECT "+photoColumns+" FROM photos p"+where), args...); err != nil {
		return nil, fmt.Errorf("failed to fetch photos: %w", err)
	}

	photos := make([]*Photo, 0, len(rows))
	for i := range rows {
		photo, err := rows[i].toPhoto()
		if err != nil {
			return nil, err
		}
		photos = append(photos, photo)
	}
	return photos, nil
}

// GetTrip fetches a trip by id, tombstoned or not. Returns nil, nil when absent.
func (db *DB) GetTrip(ctx context.Context, id uuid.UUID) (*Trip, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return getTrip(ctx, db.conn, id)
}

// GetRecord fetches a record by id, tombstoned or not. Returns nil, nil when absent.
func (db *DB) GetRecord(ctx context.Context, id uuid.UUID) (*TripRecord, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return getRecord(ctx, db.conn, id)
}

// GetPhoto fetches a photo with its content. Returns nil, nil when absent.
func (db *DB) GetPhoto(ctx context.Context, id uuid.UUID) (*Photo, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return getPhoto(ctx, db.conn, id)
}

// PhotoContent returns the bytes stored under a checksum, or nil when unknown
func (db *DB) PhotoContent(ctx context.Context, checksum string) ([]byte, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	var content []byte
	err := sqlx.GetContext(ctx, db.conn, &content, db.conn.Rebind("SELECT content FROM photo_contents WHERE checksum = ?"), checksum)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read photo content: %w", err)
	}
	return content, nil
}

// ActiveTrips returns non-deleted trips for listing
func (db *DB) ActiveTrips(ctx context.Context) ([]*Trip, error) {
	return db.FetchTrips(ctx, Filter{})
}

// DeleteWhere hard-deletes trips matching the filter together with their
// records, photos and any photo content no longer referenced. Sync never
// calls this; it exists for logout and local cleanup.
func (db *DB) DeleteWhere(ctx context.Context, f Filter) (int64, error) {
	if f.TripID != nil || f.RecordID != nil {
		return 0, fmt.Errorf("delete filter cannot use parent references")
	}

	var deleted int64
	err := db.Update(ctx, func(tx *Tx) error {
		where, args := f.where("")
		sub := "SELECT id FROM trips" + where

		stmts := []string{
			"DELETE FROM photos WHERE record_id IN (SELECT id FROM trip_records WHERE trip_id IN (" + sub + "))",
			"DELETE FROM trip_records WHERE trip_id IN (" + sub + ")",
		}
		for _, stmt := range stmts {
			if _, err := tx.q.ExecContext(ctx, tx.q.Rebind(stmt), args...); err != nil {
				return fmt.Errorf("failed to delete children: %w", err)
			}
		}

		res, err := tx.q.ExecContext(ctx, tx.q.Rebind("DELETE FROM trips"+where), args...)
		if err != nil {
			return fmt.Errorf("failed to delete trips: %w", err)
		}
		deleted, _ = res.RowsAffected()

		_, err = tx.q.ExecContext(ctx, "DELETE FROM photo_contents WHERE checksum NOT IN (SELECT checksum FROM photos)")
		if err != nil {
			return fmt.Errorf("failed to delete photo content: %w", err)
		}
		return nil
	})
	return deleted, err
}

// Tx is a write transaction handed out by Update
type Tx struct {
	q querier
}

// Update runs fn inside a transaction while holding the store's write lock.
// The transaction commits when fn returns nil and rolls back otherwise.
func (db *DB) Update(ctx context.Context, fn func(tx *Tx) error) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	sqlTx, err := db.conn.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	if err := fn(&Tx{q: sqlTx}); err != nil {
		_ = sqlTx.Rollback()
		return err
	}

	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// GetTrip reads a trip inside the transaction
func (tx *Tx) GetTrip(ctx context.Context, id uuid.UUID) (*Trip, error) {
	return getTrip(ctx, tx.q, id)
}

// GetRecord reads a record inside the transaction
func (tx *Tx) GetRecord(ctx context.Context, id uuid.UUID) (*TripRecord, error) {
	return getRecord(ctx, tx.q, id)
}

// GetPhoto reads a photo inside the transaction
func (tx *Tx) GetPhoto(ctx context.Context, id uuid.UUID) (*Photo, error) {
	return getPhoto(ctx, tx.q, id)
}

// UpsertTrip inserts or updates a trip
func (tx *Tx) UpsertTrip(ctx context.Context, t *Trip) error {
	_, err := tx.q.ExecContext(ctx, tx.q.Rebind(`
		INSERT INTO trips (id, title, content, status, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			title = excluded.title,
			content = excluded.content,
			status = excluded.status,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`),
		t.ID.String(), t.Title, t.Content, string(t.Status),
		toNanos(t.CreatedAt), toNanos(t.UpdatedAt), nullNanos(t.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert trip %s: %w", t.ID, err)
	}
	return nil
}

// UpsertRecord inserts or updates a record
func (tx *Tx) UpsertRecord(ctx context.Context, r *TripRecord) error {
	var content sql.NullString
	if r.Content != nil {
		content = sql.NullString{String: *r.Content, Valid: true}
	}

	_, err := tx.q.ExecContext(ctx, tx.q.Rebind(`
		INSERT INTO trip_records (id, trip_id, type, content, latitude, longitude, happened_at, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			trip_id = excluded.trip_id,
			type = excluded.type,
			content = excluded.content,
			latitude = excluded.latitude,
			longitude = excluded.longitude,
			happened_at = excluded.happened_at,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`),
		r.ID.String(), r.TripID.String(), string(r.Type), content,
		r.Location.Latitude, r.Location.Longitude, toNanos(r.HappenedAt),
		toNanos(r.CreatedAt), toNanos(r.UpdatedAt), nullNanos(r.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert record %s: %w", r.ID, err)
	}
	return nil
}

// UpsertPhoto inserts or updates photo metadata. When Content is set it is
// stored under Checksum; identical content is stored once.
func (tx *Tx) UpsertPhoto(ctx context.Context, p *Photo) error {
	if p.Checksum == "" {
		return fmt.Errorf("photo %s has no checksum", p.ID)
	}

	if len(p.Content) > 0 {
		_, err := tx.q.ExecContext(ctx, tx.q.Rebind(`
			INSERT INTO photo_contents (checksum, content, size_bytes)
			VALUES (?, ?, ?)
			ON CONFLICT (checksum) DO NOTHING
		`), p.Checksum, p.Content, len(p.Content))
		if err != nil {
			return fmt.Errorf("failed to store content of photo %s: %w", p.ID, err)
		}
	}

	// checksum is immutable once assigned
	_, err := tx.q.ExecContext(ctx, tx.q.Rebind(`
		INSERT INTO photos (id, record_id, checksum, created_at, updated_at, deleted_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			record_id = excluded.record_id,
			created_at = excluded.created_at,
			updated_at = excluded.updated_at,
			deleted_at = excluded.deleted_at
	`),
		p.ID.String(), p.RecordID.String(), p.Checksum,
		toNanos(p.CreatedAt), toNanos(p.UpdatedAt), nullNanos(p.DeletedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert photo %s: %w", p.ID, err)
	}
	return nil
}

func getTrip(ctx context.Context, q querier, id uuid.UUID) (*Trip, error) {
	var row tripRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind("SELECT "+tripColumns+" FROM trips WHERE id = ?"), id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get trip %s: %w", id, err)
	}
	return row.toTrip()
}

func getRecord(ctx context.Context, q querier, id uuid.UUID) (*TripRecord, error) {
	var row recordRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind("SELECT "+recordColumns+" FROM trip_records WHERE id = ?"), id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get record %s: %w", id, err)
	}
	return row.toRecord()
}

func getPhoto(ctx context.Context, q querier, id uuid.UUID) (*Photo, error) {
	var row photoRow
	err := sqlx.GetContext(ctx, q, &row, q.Rebind(`
		SELECT `+photoColumns+`, c.content
		FROM photos p
		LEFT JOIN photo_contents c ON c.checksum = p.checksum
		WHERE p.id = ?
	`), id.String())
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get photo %s: %w", id, err)
	}
	return row.toPhoto()
}

func latestUpdate(ctx context.Context, q querier) (*time.Time, error) {
	var latest sql.NullInt64
	err := sqlx.GetContext(ctx, q, &latest, `
		SELECT MAX(updated_at) FROM (
			SELECT updated_at FROM trips
			UNION ALL
			SELECT updated_at FROM trip_records
			UNION ALL
			SELECT updated_at FROM photos
		) t
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest update: %w", err)
	}
	return fromNullNanos(latest), nil
}

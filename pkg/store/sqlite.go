// Package store manages persistence for buckets and their event logs.
//
// The local backend is SQLite in WAL mode via the pure-Go driver. Watchers
// hammer the heartbeat path many times per second, so the connection is
// tuned for concurrent short writes (WAL, busy_timeout) and every write
// goes through retryOnContention to absorb transient driver errors.
//
// Timestamps are stored as fixed-width UTC RFC 3339 strings (nanosecond
// precision, zero-padded) so that lexicographic comparison in SQL matches
// chronological order; range scans and ORDER BY work directly on the
// column.
package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ackaraca/PeakActivity/pkg/model"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width for UTC times: nanoseconds are zero-padded and
// the offset always renders as "Z". String order equals time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func fmtTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// SQLite is the local embedded Store backend.
type SQLite struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs schema migration.
func Open(path string) (*SQLite, error) {
	dsn := path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(60000)&_pragma=synchronous(NORMAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(30 * time.Minute)

	s := &SQLite{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLite) Close() error { return s.db.Close() }

func (s *SQLite) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS buckets (
		id       TEXT PRIMARY KEY,
		name     TEXT NOT NULL DEFAULT '',
		type     TEXT NOT NULL,
		client   TEXT NOT NULL,
		hostname TEXT NOT NULL,
		created  TEXT NOT NULL,
		data     TEXT NOT NULL DEFAULT '{}'
	);

	CREATE TABLE IF NOT EXISTS events (
		bucket_id TEXT NOT NULL REFERENCES buckets(id),
		id        INTEGER NOT NULL,
		timestamp TEXT NOT NULL,
		duration  REAL NOT NULL DEFAULT 0,
		data      TEXT NOT NULL DEFAULT '{}',
		PRIMARY KEY (bucket_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_events_bucket_ts ON events(bucket_id, timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ---------------------------------------------------------------------------
// Bucket registry
// ---------------------------------------------------------------------------

// Buckets returns all buckets keyed by id. LastUpdated is computed from
// each bucket's most recent event (timestamp + duration) when one exists.
func (s *SQLite) Buckets() (map[string]model.Bucket, error) {
	rows, err := s.db.Query(
		`SELECT id, name, type, client, hostname, created, data FROM buckets ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	buckets := make(map[string]model.Bucket)
	for rows.Next() {
		b, err := scanBucket(rows)
		if err != nil {
			return nil, err
		}
		buckets[b.ID] = b
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for id, b := range buckets {
		last, err := s.LastEvent(id)
		if err != nil {
			return nil, err
		}
		if last != nil {
			end := last.End()
			b.LastUpdated = &end
			buckets[id] = b
		}
	}
	return buckets, nil
}

// GetBucket returns a single bucket's metadata, including LastUpdated.
func (s *SQLite) GetBucket(bucketID string) (model.Bucket, error) {
	row := s.db.QueryRow(
		`SELECT id, name, type, client, hostname, created, data FROM buckets WHERE id = ?`, bucketID,
	)
	b, err := scanBucket(row)
	if err == sql.ErrNoRows {
		return model.Bucket{}, NoSuchBucket(bucketID)
	}
	if err != nil {
		return model.Bucket{}, err
	}
	last, err := s.LastEvent(bucketID)
	if err != nil {
		return model.Bucket{}, err
	}
	if last != nil {
		end := last.End()
		b.LastUpdated = &end
	}
	return b, nil
}

// CreateBucket creates a bucket. Returns ErrExists if the id is taken.
func (s *SQLite) CreateBucket(b model.Bucket) error {
	data, err := marshalData(b.Data)
	if err != nil {
		return err
	}
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`INSERT INTO buckets (id, name, type, client, hostname, created, data)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			b.ID, b.Name, b.Type, b.Client, b.Hostname, fmtTime(b.Created), data,
		)
		if err != nil && isUniqueViolation(err) {
			return fmt.Errorf("bucket %q: %w", b.ID, ErrExists)
		}
		return err
	})
}

// UpdateBucket applies a partial metadata update. Nil patch fields keep
// the stored value.
func (s *SQLite) UpdateBucket(bucketID string, patch model.BucketPatch) error {
	b, err := s.GetBucket(bucketID)
	if err != nil {
		return err
	}
	if patch.Name != nil {
		b.Name = *patch.Name
	}
	if patch.Type != nil {
		b.Type = *patch.Type
	}
	if patch.Client != nil {
		b.Client = *patch.Client
	}
	if patch.Hostname != nil {
		b.Hostname = *patch.Hostname
	}
	if patch.Data != nil {
		b.Data = patch.Data
	}
	data, err := marshalData(b.Data)
	if err != nil {
		return err
	}
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`UPDATE buckets SET name = ?, type = ?, client = ?, hostname = ?, data = ? WHERE id = ?`,
			b.Name, b.Type, b.Client, b.Hostname, data, bucketID,
		)
		return err
	})
}

// DeleteBucket removes a bucket and cascades to all events it owns.
func (s *SQLite) DeleteBucket(bucketID string) error {
	return retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

		if _, err := tx.Exec(`DELETE FROM events WHERE bucket_id = ?`, bucketID); err != nil {
			return err
		}
		res, err := tx.Exec(`DELETE FROM buckets WHERE id = ?`, bucketID)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return NoSuchBucket(bucketID)
		}
		return tx.Commit()
	})
}

// checkBucket returns ErrNotFound when the bucket does not exist. Event
// operations call this first so a bad bucket id surfaces as NotFound
// rather than as an empty result.
func (s *SQLite) checkBucket(bucketID string) error {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM buckets WHERE id = ?`, bucketID).Scan(&one)
	if err == sql.ErrNoRows {
		return NoSuchBucket(bucketID)
	}
	return err
}

// ---------------------------------------------------------------------------
// Event log
// ---------------------------------------------------------------------------

// InsertEvents atomically inserts events into a bucket. Event ids are
// scoped to the bucket: events without an id get the next id in this
// bucket's sequence, and events that already carry one are upserted under
// (bucket, id), so replaying the same batch converges to the same state
// and ids from one bucket can never touch another bucket's rows.
func (s *SQLite) InsertEvents(bucketID string, events []model.Event) ([]model.Event, error) {
	if err := s.checkBucket(bucketID); err != nil {
		return nil, err
	}
	out := make([]model.Event, len(events))
	copy(out, events)

	err := retryOnContention(func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		var nextID int64
		if err := tx.QueryRow(
			`SELECT COALESCE(MAX(id), 0) FROM events WHERE bucket_id = ?`, bucketID,
		).Scan(&nextID); err != nil {
			return err
		}

		for i, e := range out {
			data, err := marshalData(e.Data)
			if err != nil {
				return err
			}
			if e.ID == 0 {
				nextID++
				out[i].ID = nextID
			}
			_, err = tx.Exec(
				`INSERT INTO events (bucket_id, id, timestamp, duration, data)
				 VALUES (?, ?, ?, ?, ?)
				 ON CONFLICT(bucket_id, id) DO UPDATE SET
				   timestamp = excluded.timestamp,
				   duration = excluded.duration,
				   data = excluded.data`,
				bucketID, out[i].ID, fmtTime(e.Timestamp), e.Duration.Seconds(), data,
			)
			if err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// Events returns events in [start, end) ordered ascending by timestamp.
// limit = -1 means unbounded.
func (s *SQLite) Events(bucketID string, limit int, start, end *time.Time) ([]model.Event, error) {
	if err := s.checkBucket(bucketID); err != nil {
		return nil, err
	}
	query := `SELECT id, timestamp, duration, data FROM events WHERE bucket_id = ?`
	args := []any{bucketID}
	if start != nil {
		query += ` AND timestamp >= ?`
		args = append(args, fmtTime(*start))
	}
	if end != nil {
		query += ` AND timestamp < ?`
		args = append(args, fmtTime(*end))
	}
	query += ` ORDER BY timestamp ASC, id ASC`
	if limit >= 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanEvents(rows)
}

// LastEvent returns the chronologically most recent event in the bucket,
// or nil when the bucket is empty.
func (s *SQLite) LastEvent(bucketID string) (*model.Event, error) {
	row := s.db.QueryRow(
		`SELECT id, timestamp, duration, data FROM events
		 WHERE bucket_id = ? ORDER BY timestamp DESC, id DESC LIMIT 1`,
		bucketID,
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// EventByID returns a single event, or nil when no such id exists.
func (s *SQLite) EventByID(bucketID string, eventID int64) (*model.Event, error) {
	if err := s.checkBucket(bucketID); err != nil {
		return nil, err
	}
	row := s.db.QueryRow(
		`SELECT id, timestamp, duration, data FROM events WHERE bucket_id = ? AND id = ?`,
		bucketID, eventID,
	)
	e, err := scanEvent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return e, nil
}

// DeleteEvent removes one event. Returns true if a row was deleted.
func (s *SQLite) DeleteEvent(bucketID string, eventID int64) (bool, error) {
	if err := s.checkBucket(bucketID); err != nil {
		return false, err
	}
	var n int64
	err := retryOnContention(func() error {
		res, err := s.db.Exec(
			`DELETE FROM events WHERE bucket_id = ? AND id = ?`, bucketID, eventID,
		)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	return n > 0, err
}

// ReplaceLastEvent overwrites the most recent event in the bucket with e,
// keeping the stored row's id. The single UPDATE makes the
// select-newest-then-overwrite step atomic, and applying the same merged
// event twice leaves the store unchanged.
func (s *SQLite) ReplaceLastEvent(bucketID string, e model.Event) error {
	if err := s.checkBucket(bucketID); err != nil {
		return err
	}
	data, err := marshalData(e.Data)
	if err != nil {
		return err
	}
	return retryOnContention(func() error {
		_, err := s.db.Exec(
			`UPDATE events SET timestamp = ?, duration = ?, data = ?
			 WHERE bucket_id = ?
			   AND id = (SELECT id FROM events WHERE bucket_id = ?
			             ORDER BY timestamp DESC, id DESC LIMIT 1)`,
			fmtTime(e.Timestamp), e.Duration.Seconds(), data, bucketID, bucketID,
		)
		return err
	})
}

// ReplaceEvent overwrites the event with the given id.
func (s *SQLite) ReplaceEvent(bucketID string, eventID int64, e model.Event) error {
	if err := s.checkBucket(bucketID); err != nil {
		return err
	}
	data, err := marshalData(e.Data)
	if err != nil {
		return err
	}
	return retryOnContention(func() error {
		res, err := s.db.Exec(
			`UPDATE events SET timestamp = ?, duration = ?, data = ?
			 WHERE bucket_id = ? AND id = ?`,
			fmtTime(e.Timestamp), e.Duration.Seconds(), data, bucketID, eventID,
		)
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return NoSuchEvent(bucketID, eventID)
		}
		return nil
	})
}

// CountEvents counts events in [start, end).
func (s *SQLite) CountEvents(bucketID string, start, end *time.Time) (int, error) {
	if err := s.checkBucket(bucketID); err != nil {
		return 0, err
	}
	query := `SELECT COUNT(*) FROM events WHERE bucket_id = ?`
	args := []any{bucketID}
	if start != nil {
		query += ` AND timestamp >= ?`
		args = append(args, fmtTime(*start))
	}
	if end != nil {
		query += ` AND timestamp < ?`
		args = append(args, fmtTime(*end))
	}
	var count int
	if err := s.db.QueryRow(query, args...).Scan(&count); err != nil {
		return 0, err
	}
	return count, nil
}

// ---------------------------------------------------------------------------
// Scanning helpers
// ---------------------------------------------------------------------------

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBucket(row rowScanner) (model.Bucket, error) {
	var b model.Bucket
	var createdStr, dataStr string
	if err := row.Scan(&b.ID, &b.Name, &b.Type, &b.Client, &b.Hostname, &createdStr, &dataStr); err != nil {
		return model.Bucket{}, err
	}
	var err error
	b.Created, err = parseTime(createdStr)
	if err != nil {
		return model.Bucket{}, fmt.Errorf("parse created time for bucket %s: %w", b.ID, err)
	}
	if err := json.Unmarshal([]byte(dataStr), &b.Data); err != nil {
		return model.Bucket{}, fmt.Errorf("parse data for bucket %s: %w", b.ID, err)
	}
	return b, nil
}

func scanEvent(row rowScanner) (*model.Event, error) {
	var e model.Event
	var tsStr, dataStr string
	var durSecs float64
	if err := row.Scan(&e.ID, &tsStr, &durSecs, &dataStr); err != nil {
		return nil, err
	}
	var err error
	e.Timestamp, err = parseTime(tsStr)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp for event %d: %w", e.ID, err)
	}
	e.Duration = time.Duration(durSecs * float64(time.Second))
	if err := json.Unmarshal([]byte(dataStr), &e.Data); err != nil {
		return nil, fmt.Errorf("parse data for event %d: %w", e.ID, err)
	}
	return &e, nil
}

func scanEvents(rows *sql.Rows) ([]model.Event, error) {
	var events []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		events = append(events, *e)
	}
	return events, rows.Err()
}

func marshalData(data map[string]any) (string, error) {
	if data == nil {
		return "{}", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("marshal data: %w", err)
	}
	return string(b), nil
}

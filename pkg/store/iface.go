// iface.go defines the Store interface both storage backends implement.
//
// Two implementations exist: the local embedded SQLite store (this
// package) and the remote mirror client (pkg/remote). The sync engine
// depends only on this interface, so reconciliation code is identical
// regardless of which side is local and which is the mirror. Tests can
// also substitute either implementation.
package store

import (
	"time"

	"github.com/ackaraca/PeakActivity/pkg/model"
)

// Store is a bucket registry plus a per-bucket ordered event log.
//
// Range parameters follow half-open [start, end) semantics; a nil bound
// means unbounded in that direction. A limit of -1 means no limit.
type Store interface {
	// Close releases the underlying resources.
	Close() error

	// --- Bucket registry ---

	// Buckets returns all buckets keyed by id, with LastUpdated computed
	// from each bucket's most recent event when one exists.
	Buckets() (map[string]model.Bucket, error)

	// GetBucket returns a single bucket's metadata. ErrNotFound if absent.
	GetBucket(bucketID string) (model.Bucket, error)

	// CreateBucket creates a bucket. ErrExists if the id is taken.
	CreateBucket(b model.Bucket) error

	// UpdateBucket applies a partial metadata update. ErrNotFound if absent.
	UpdateBucket(bucketID string, patch model.BucketPatch) error

	// DeleteBucket removes a bucket and all events it owns.
	// ErrNotFound if absent.
	DeleteBucket(bucketID string) error

	// --- Event log (scoped to one bucket) ---

	// InsertEvents atomically inserts events into a bucket, assigning a
	// fresh id to each event that lacks one. Events that already carry an
	// id keep it (upsert), which is what makes sync idempotent. Returns
	// the events with ids filled in, in input order.
	InsertEvents(bucketID string, events []model.Event) ([]model.Event, error)

	// Events returns events ordered ascending by timestamp.
	Events(bucketID string, limit int, start, end *time.Time) ([]model.Event, error)

	// LastEvent returns the chronologically most recent event in the
	// bucket, or nil when the bucket is empty.
	LastEvent(bucketID string) (*model.Event, error)

	// EventByID returns a single event, or nil when no such id exists.
	EventByID(bucketID string, eventID int64) (*model.Event, error)

	// DeleteEvent removes one event. Returns true if something was deleted.
	DeleteEvent(bucketID string, eventID int64) (bool, error)

	// ReplaceLastEvent overwrites the chronologically most recent event in
	// the bucket with the given event, keeping the stored row's id. Used
	// by heartbeat merging.
	ReplaceLastEvent(bucketID string, e model.Event) error

	// ReplaceEvent overwrites the event with the given id. Used by sync
	// for last-write-wins reconciliation. ErrNotFound if absent.
	ReplaceEvent(bucketID string, eventID int64, e model.Event) error

	// CountEvents counts events in the range, same semantics as Events.
	CountEvents(bucketID string, start, end *time.Time) (int, error)
}

// Compile-time check that *SQLite implements Store.
var _ Store = (*SQLite)(nil)

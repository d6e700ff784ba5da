package service

import (
	"time"

	"github.com/ackaraca/PeakActivity/pkg/model"
	"github.com/ackaraca/PeakActivity/pkg/store"
)

// syncStore is the local store as seen by an in-process sync engine.
// Reads pass straight through; every event-mutating write drops the
// bucket's heartbeat cache entry, so an event pulled or replaced during
// sync is never shadowed by a stale cached copy.
type syncStore struct {
	svc *Service
}

var _ store.Store = (*syncStore)(nil)

// SyncStore returns a view of the local store for use as a sync engine's
// local side. Writes through it keep the service's cache consistent.
func (s *Service) SyncStore() store.Store {
	return &syncStore{svc: s}
}

// Close is a no-op; the service's owner closes the underlying store.
func (w *syncStore) Close() error { return nil }

func (w *syncStore) Buckets() (map[string]model.Bucket, error) {
	return w.svc.db.Buckets()
}

func (w *syncStore) GetBucket(bucketID string) (model.Bucket, error) {
	return w.svc.db.GetBucket(bucketID)
}

func (w *syncStore) CreateBucket(b model.Bucket) error {
	return w.svc.db.CreateBucket(b)
}

func (w *syncStore) UpdateBucket(bucketID string, patch model.BucketPatch) error {
	return w.svc.db.UpdateBucket(bucketID, patch)
}

func (w *syncStore) DeleteBucket(bucketID string) error {
	if err := w.svc.db.DeleteBucket(bucketID); err != nil {
		return err
	}
	w.svc.cache.Invalidate(bucketID)
	return nil
}

func (w *syncStore) InsertEvents(bucketID string, events []model.Event) ([]model.Event, error) {
	inserted, err := w.svc.db.InsertEvents(bucketID, events)
	if err != nil {
		return nil, err
	}
	w.svc.cache.Invalidate(bucketID)
	return inserted, nil
}

func (w *syncStore) Events(bucketID string, limit int, start, end *time.Time) ([]model.Event, error) {
	return w.svc.db.Events(bucketID, limit, start, end)
}

func (w *syncStore) LastEvent(bucketID string) (*model.Event, error) {
	return w.svc.db.LastEvent(bucketID)
}

func (w *syncStore) EventByID(bucketID string, eventID int64) (*model.Event, error) {
	return w.svc.db.EventByID(bucketID, eventID)
}

func (w *syncStore) DeleteEvent(bucketID string, eventID int64) (bool, error) {
	deleted, err := w.svc.db.DeleteEvent(bucketID, eventID)
	if err != nil {
		return false, err
	}
	if deleted {
		w.svc.cache.Invalidate(bucketID)
	}
	return deleted, nil
}

func (w *syncStore) ReplaceLastEvent(bucketID string, e model.Event) error {
	if err := w.svc.db.ReplaceLastEvent(bucketID, e); err != nil {
		return err
	}
	w.svc.cache.Invalidate(bucketID)
	return nil
}

func (w *syncStore) ReplaceEvent(bucketID string, eventID int64, e model.Event) error {
	if err := w.svc.db.ReplaceEvent(bucketID, eventID, e); err != nil {
		return err
	}
	w.svc.cache.Invalidate(bucketID)
	return nil
}

func (w *syncStore) CountEvents(bucketID string, start, end *time.Time) (int, error) {
	return w.svc.db.CountEvents(bucketID, start, end)
}

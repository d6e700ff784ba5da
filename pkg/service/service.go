// Package service orchestrates the bucket registry, the event log and the
// heartbeat merge window behind the operations the transport layer calls.
//
// It owns two pieces of in-process state: the last-event cache and the
// per-bucket lock table. Both exist only to make the heartbeat hot path
// cheap and safe; neither is authoritative.
package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ackaraca/PeakActivity/pkg/heartbeat"
	"github.com/ackaraca/PeakActivity/pkg/metrics"
	"github.com/ackaraca/PeakActivity/pkg/model"
	"github.com/ackaraca/PeakActivity/pkg/store"
)

// Event types assigned to implicitly created buckets.
const (
	ManualActivityEventType = "manualactivity"
	MicrosurveyEventType    = "microsurvey"
)

// LocalHostSentinel in a create-bucket request means "resolve the
// hostname server-side and attach this device's id". Watchers that run
// locally but don't know their hostname (e.g. browser extensions) use it.
const LocalHostSentinel = "!local"

// defaultLockTimeout bounds the wait for a bucket's heartbeat lock.
const defaultLockTimeout = time.Second

// Service exposes the ingestion operations of one local store.
type Service struct {
	db          store.Store
	info        Info
	cache       *lastEventCache
	locks       *lockTable
	lockTimeout time.Duration
	log         *logrus.Entry
}

// New wraps db with ingestion orchestration. info identifies this host
// for "!local" resolution and the info endpoint.
func New(db store.Store, info Info) *Service {
	return &Service{
		db:          db,
		info:        info,
		cache:       newLastEventCache(),
		locks:       newLockTable(),
		lockTimeout: defaultLockTimeout,
		log:         logrus.WithField("component", "service"),
	}
}

// Info returns the server identity payload.
func (s *Service) Info() Info { return s.info }

// ---------------------------------------------------------------------------
// Buckets
// ---------------------------------------------------------------------------

// Buckets returns all buckets with their derived last_updated times.
func (s *Service) Buckets() (map[string]model.Bucket, error) {
	return s.db.Buckets()
}

// GetBucket returns one bucket's metadata.
func (s *Service) GetBucket(bucketID string) (model.Bucket, error) {
	return s.db.GetBucket(bucketID)
}

// CreateBucket creates a bucket, resolving the "!local" hostname sentinel.
// Returns false with no error when a bucket with that id already exists.
func (s *Service) CreateBucket(bucketID, eventType, client, hostname string, created *time.Time, data map[string]any) (bool, error) {
	if hostname == LocalHostSentinel {
		hostname = s.info.Hostname
		if data == nil {
			data = map[string]any{}
		}
		data["device_id"] = s.info.DeviceID
	}
	createdAt := time.Now()
	if created != nil {
		createdAt = *created
	}
	err := s.db.CreateBucket(model.Bucket{
		ID:       bucketID,
		Type:     eventType,
		Client:   client,
		Hostname: hostname,
		Created:  createdAt,
		Data:     data,
	})
	if errors.Is(err, store.ErrExists) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	s.log.WithFields(logrus.Fields{
		"bucket": bucketID,
		"type":   eventType,
		"client": client,
	}).Info("created bucket")
	return true, nil
}

// UpdateBucket applies a partial metadata update.
func (s *Service) UpdateBucket(bucketID string, patch model.BucketPatch) error {
	return s.db.UpdateBucket(bucketID, patch)
}

// DeleteBucket removes a bucket and everything in it.
func (s *Service) DeleteBucket(bucketID string) error {
	if err := s.db.DeleteBucket(bucketID); err != nil {
		return err
	}
	s.cache.Invalidate(bucketID)
	s.log.WithField("bucket", bucketID).Info("deleted bucket")
	return nil
}

// ---------------------------------------------------------------------------
// Events
// ---------------------------------------------------------------------------

// CreateEvents inserts events into a bucket. Mirrors the store contract:
// the single inserted event is returned when exactly one was given,
// otherwise nil.
func (s *Service) CreateEvents(bucketID string, events []model.Event) (*model.Event, error) {
	for _, e := range events {
		if e.Duration < 0 {
			return nil, fmt.Errorf("negative duration %v: %w", e.Duration, store.ErrBadRequest)
		}
	}
	inserted, err := s.db.InsertEvents(bucketID, events)
	if err != nil {
		return nil, err
	}
	metrics.EventsInserted.Add(float64(len(inserted)))
	// The newest event may have changed under the heartbeat path's feet.
	s.cache.Invalidate(bucketID)
	if len(inserted) == 1 {
		return &inserted[0], nil
	}
	return nil, nil
}

// Events returns events from a bucket, ascending, within [start, end).
func (s *Service) Events(bucketID string, limit int, start, end *time.Time) ([]model.Event, error) {
	return s.db.Events(bucketID, limit, start, end)
}

// Event returns a single event by id, or nil when absent.
func (s *Service) Event(bucketID string, eventID int64) (*model.Event, error) {
	return s.db.EventByID(bucketID, eventID)
}

// DeleteEvent removes a single event. Returns true if one was deleted.
func (s *Service) DeleteEvent(bucketID string, eventID int64) (bool, error) {
	deleted, err := s.db.DeleteEvent(bucketID, eventID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.cache.Invalidate(bucketID)
	}
	return deleted, nil
}

// LastEvent returns the bucket's chronologically most recent event, or
// nil when the bucket is empty.
func (s *Service) LastEvent(bucketID string) (*model.Event, error) {
	return s.db.LastEvent(bucketID)
}

// ReplaceLastEvent overwrites the bucket's most recent event, dropping
// the cached copy so the next heartbeat re-reads the store.
func (s *Service) ReplaceLastEvent(bucketID string, e model.Event) error {
	if e.Duration < 0 {
		return fmt.Errorf("negative duration %v: %w", e.Duration, store.ErrBadRequest)
	}
	if err := s.db.ReplaceLastEvent(bucketID, e); err != nil {
		return err
	}
	s.cache.Invalidate(bucketID)
	return nil
}

// ReplaceEvent overwrites a single event by id. The replacement may be
// the bucket's newest event, so the cache entry is dropped.
func (s *Service) ReplaceEvent(bucketID string, eventID int64, e model.Event) error {
	if e.Duration < 0 {
		return fmt.Errorf("negative duration %v: %w", e.Duration, store.ErrBadRequest)
	}
	if err := s.db.ReplaceEvent(bucketID, eventID, e); err != nil {
		return err
	}
	s.cache.Invalidate(bucketID)
	return nil
}

// EventCount counts events in [start, end).
func (s *Service) EventCount(bucketID string, start, end *time.Time) (int, error) {
	return s.db.CountEvents(bucketID, start, end)
}

// ---------------------------------------------------------------------------
// Heartbeats
// ---------------------------------------------------------------------------

// Heartbeat ingests one heartbeat for a bucket, either extending the
// bucket's most recent event or starting a new one.
//
// The decision sequence (read last event, decide, write) runs under the
// bucket's lock. If the lock cannot be taken within the bound the
// heartbeat is still processed: a missed merge degrades storage into two
// events instead of one, which is recoverable, whereas blocking forever
// is not.
func (s *Service) Heartbeat(bucketID string, hb model.Event, pulsetime float64) (model.Event, error) {
	if pulsetime < 0 {
		return model.Event{}, fmt.Errorf("negative pulsetime %v: %w", pulsetime, store.ErrBadRequest)
	}
	if hb.Duration < 0 {
		return model.Event{}, fmt.Errorf("negative duration %v: %w", hb.Duration, store.ErrBadRequest)
	}
	if _, err := s.db.GetBucket(bucketID); err != nil {
		return model.Event{}, err
	}
	metrics.HeartbeatsReceived.Inc()

	log := s.log.WithFields(logrus.Fields{
		"bucket":    bucketID,
		"timestamp": hb.Timestamp,
		"pulsetime": pulsetime,
	})

	if s.locks.Acquire(bucketID, s.lockTimeout) {
		defer s.locks.Release(bucketID)
	} else {
		metrics.HeartbeatLockTimeouts.Inc()
		log.Warn("heartbeat lock not acquired within bound, processing without merge serialization")
	}

	last := s.cache.Get(bucketID)
	if last == nil {
		var err error
		last, err = s.db.LastEvent(bucketID)
		if err != nil {
			return model.Event{}, err
		}
	}

	if last != nil && last.DataEquals(hb) {
		if merged, ok := heartbeat.Merge(*last, hb, pulsetime); ok {
			if err := s.db.ReplaceLastEvent(bucketID, merged); err != nil {
				return model.Event{}, err
			}
			metrics.HeartbeatsMerged.Inc()
			s.cache.Set(bucketID, merged)
			log.Debug("heartbeat merged into last event")
			return merged, nil
		}
		log.Debug("heartbeat outside pulse window, inserting as new event")
	} else if last != nil {
		log.Debug("heartbeat data differs from last event, inserting as new event")
	} else {
		log.Debug("bucket empty, inserting heartbeat as first event")
	}

	inserted, err := s.db.InsertEvents(bucketID, []model.Event{hb})
	if err != nil {
		return model.Event{}, err
	}
	metrics.EventsInserted.Inc()
	s.cache.Set(bucketID, inserted[0])
	return inserted[0], nil
}

// ---------------------------------------------------------------------------
// Producer conveniences
// ---------------------------------------------------------------------------

// LogManualActivity stores manually logged activity events, creating a
// bucket of type "manualactivity" named manual_<hostname> when bucketID
// is empty and the bucket does not exist yet.
func (s *Service) LogManualActivity(events []model.Event, bucketID string) (*model.Event, error) {
	return s.logToDerivedBucket(events, bucketID, "manual", "manual", ManualActivityEventType)
}

// LogMicrosurvey stores microsurvey responses, creating a bucket of type
// "microsurvey" named microsurvey_<hostname> when bucketID is empty.
func (s *Service) LogMicrosurvey(events []model.Event, bucketID string) (*model.Event, error) {
	return s.logToDerivedBucket(events, bucketID, "microsurvey", "survey", MicrosurveyEventType)
}

func (s *Service) logToDerivedBucket(events []model.Event, bucketID, prefix, client, eventType string) (*model.Event, error) {
	if len(events) == 0 {
		return nil, fmt.Errorf("no events given: %w", store.ErrBadRequest)
	}
	if bucketID == "" {
		bucketID = fmt.Sprintf("%s_%s", prefix, s.info.Hostname)
	}
	if _, err := s.CreateBucket(bucketID, eventType, client, LocalHostSentinel, nil, nil); err != nil {
		return nil, err
	}
	return s.CreateEvents(bucketID, events)
}

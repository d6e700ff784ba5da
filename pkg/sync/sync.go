// Package sync reconciles a local store against a remote mirror store.
//
// The two stores never share state; consistency comes only from the
// timestamp-compare-and-overwrite protocol. Events keep their ids across
// stores, buckets compare on the derived last_updated time, and between
// two copies of the same record the one with the strictly later timestamp
// wins (ties keep the existing copy). Every step is idempotent: a sync
// pass interrupted anywhere can simply be re-run and converges the same
// way.
//
// Sync is best-effort. A failure on one bucket or event is logged and
// skipped so the rest of the pass still makes progress; only a failure to
// list a side at all aborts a phase.
package sync

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/ackaraca/PeakActivity/pkg/metrics"
	"github.com/ackaraca/PeakActivity/pkg/model"
	"github.com/ackaraca/PeakActivity/pkg/store"
)

// Mode selects a reconciliation direction.
type Mode string

const (
	// ModePush writes local buckets and events to the mirror.
	ModePush Mode = "push"
	// ModePull writes mirror buckets and events to the local store.
	ModePull Mode = "pull"
	// ModeFull pushes everything, then pulls. The push completes before
	// the pull starts, so buckets created remotely during this run's push
	// are visible to its pull.
	ModeFull Mode = "full"
)

// Engine reconciles two stores. It depends only on the Store interface,
// so "local" and "remote" are just roles: either side can be the embedded
// SQLite store or a mirror client.
type Engine struct {
	local  store.Store
	remote store.Store
	log    *logrus.Entry
}

// New creates a sync engine over a local store and its mirror.
func New(local, remote store.Store) *Engine {
	return &Engine{
		local:  local,
		remote: remote,
		log:    logrus.WithField("component", "sync"),
	}
}

// Run executes one sync pass in the given mode. bucketID restricts a push
// to a single bucket; it is ignored for pull and full.
func (e *Engine) Run(mode Mode, bucketID string) error {
	start := time.Now()
	defer func() {
		metrics.SyncDuration.Observe(time.Since(start).Seconds())
	}()
	metrics.SyncRuns.WithLabelValues(string(mode)).Inc()

	switch mode {
	case ModePush:
		return e.Push(bucketID)
	case ModePull:
		return e.Pull()
	case ModeFull:
		return e.Full()
	default:
		return fmt.Errorf("unknown sync mode %q: %w", mode, store.ErrBadRequest)
	}
}

// Full pushes all buckets, then pulls.
func (e *Engine) Full() error {
	e.log.Info("starting full sync")
	if err := e.Push(""); err != nil {
		return err
	}
	if err := e.Pull(); err != nil {
		return err
	}
	e.log.Info("full sync complete")
	return nil
}

// Push reconciles local buckets and events onto the mirror. An empty
// bucketID means all buckets.
func (e *Engine) Push(bucketID string) error {
	localBuckets, err := e.local.Buckets()
	if err != nil {
		return fmt.Errorf("list local buckets: %w", err)
	}
	if bucketID != "" {
		b, ok := localBuckets[bucketID]
		if !ok {
			return store.NoSuchBucket(bucketID)
		}
		localBuckets = map[string]model.Bucket{bucketID: b}
	}
	remoteBuckets, err := e.remote.Buckets()
	if err != nil {
		return fmt.Errorf("list remote buckets: %w", err)
	}

	for id, lb := range localBuckets {
		log := e.log.WithField("bucket", id)
		if err := e.pushBucketMeta(lb, remoteBuckets); err != nil {
			metrics.SyncItemsFailed.WithLabelValues("push").Inc()
			log.WithError(err).Error("failed to push bucket metadata, skipping bucket")
			continue
		}
		if err := e.pushBucketEvents(id, log); err != nil {
			metrics.SyncItemsFailed.WithLabelValues("push").Inc()
			log.WithError(err).Error("failed to push bucket events")
		}
	}
	return nil
}

// pushBucketMeta creates the bucket remotely when missing, or overwrites
// remote metadata when the local copy is strictly newer.
func (e *Engine) pushBucketMeta(lb model.Bucket, remoteBuckets map[string]model.Bucket) error {
	rb, ok := remoteBuckets[lb.ID]
	if !ok {
		if err := e.remote.CreateBucket(lb); err != nil {
			return fmt.Errorf("create remote bucket: %w", err)
		}
		metrics.SyncItemsSynced.WithLabelValues("push").Inc()
		e.log.WithField("bucket", lb.ID).Info("created bucket on mirror")
		return nil
	}
	if newerThan(lb.LastUpdated, rb.LastUpdated) {
		patch := model.BucketPatch{
			Name:     &lb.Name,
			Type:     &lb.Type,
			Client:   &lb.Client,
			Hostname: &lb.Hostname,
			Data:     lb.Data,
		}
		if err := e.remote.UpdateBucket(lb.ID, patch); err != nil {
			return fmt.Errorf("update remote bucket: %w", err)
		}
		metrics.SyncItemsSynced.WithLabelValues("push").Inc()
	}
	return nil
}

// pushBucketEvents applies last-write-wins, local to remote, per event.
func (e *Engine) pushBucketEvents(bucketID string, log *logrus.Entry) error {
	events, err := e.local.Events(bucketID, -1, nil, nil)
	if err != nil {
		return fmt.Errorf("list local events: %w", err)
	}
	for _, ev := range events {
		if err := e.reconcileEvent(e.remote, bucketID, ev); err != nil {
			metrics.SyncItemsFailed.WithLabelValues("push").Inc()
			log.WithError(err).WithField("event", ev.ID).Error("failed to push event, skipping")
			continue
		}
	}
	return nil
}

// Pull reconciles mirror buckets and events into the local store.
func (e *Engine) Pull() error {
	remoteBuckets, err := e.remote.Buckets()
	if err != nil {
		return fmt.Errorf("list remote buckets: %w", err)
	}
	localBuckets, err := e.local.Buckets()
	if err != nil {
		return fmt.Errorf("list local buckets: %w", err)
	}

	for id, rb := range remoteBuckets {
		log := e.log.WithField("bucket", id)
		if _, ok := localBuckets[id]; !ok {
			if err := e.local.CreateBucket(rb); err != nil {
				metrics.SyncItemsFailed.WithLabelValues("pull").Inc()
				log.WithError(err).Error("failed to create local bucket, skipping bucket")
				continue
			}
			metrics.SyncItemsSynced.WithLabelValues("pull").Inc()
			log.Info("created bucket locally from mirror")
		}

		events, err := e.remote.Events(id, -1, nil, nil)
		if err != nil {
			metrics.SyncItemsFailed.WithLabelValues("pull").Inc()
			log.WithError(err).Error("failed to list remote events, skipping bucket")
			continue
		}
		for _, ev := range events {
			if err := e.reconcileEvent(e.local, id, ev); err != nil {
				metrics.SyncItemsFailed.WithLabelValues("pull").Inc()
				log.WithError(err).WithField("event", ev.ID).Error("failed to pull event, skipping")
				continue
			}
		}
	}
	return nil
}

// reconcileEvent writes ev into dst under last-write-wins: insert when
// absent by id, overwrite when ev's timestamp is strictly later than the
// stored copy's, and otherwise leave dst untouched. Applying the same
// event twice is a no-op, which is what makes sync passes idempotent.
func (e *Engine) reconcileEvent(dst store.Store, bucketID string, ev model.Event) error {
	existing, err := dst.EventByID(bucketID, ev.ID)
	if err != nil {
		return fmt.Errorf("get event: %w", err)
	}
	if existing == nil {
		if _, err := dst.InsertEvents(bucketID, []model.Event{ev}); err != nil {
			return fmt.Errorf("insert event: %w", err)
		}
		metrics.SyncItemsSynced.WithLabelValues(direction(dst == e.local)).Inc()
		return nil
	}
	if ev.Timestamp.After(existing.Timestamp) {
		if err := dst.ReplaceEvent(bucketID, ev.ID, ev); err != nil {
			return fmt.Errorf("replace event: %w", err)
		}
		metrics.SyncItemsSynced.WithLabelValues(direction(dst == e.local)).Inc()
	}
	return nil
}

func direction(towardLocal bool) string {
	if towardLocal {
		return "pull"
	}
	return "push"
}

// newerThan reports whether a is a strictly later last_updated than b.
// A nil side counts as "never updated".
func newerThan(a, b *time.Time) bool {
	if a == nil {
		return false
	}
	if b == nil {
		return true
	}
	return a.After(*b)
}

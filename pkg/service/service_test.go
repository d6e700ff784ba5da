package service

import (
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ackaraca/PeakActivity/pkg/model"
	"github.com/ackaraca/PeakActivity/pkg/store"
)

var testInfo = Info{Hostname: "testhost", Version: "test", DeviceID: "dev-123"}

func newTestService(t *testing.T) *Service {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, testInfo)
}

func mustCreateBucket(t *testing.T, s *Service, id string) {
	t.Helper()
	created, err := s.CreateBucket(id, "afkstatus", "test-watcher", "testhost", nil, nil)
	require.NoError(t, err)
	require.True(t, created)
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func probe(sec float64, data map[string]any) model.Event {
	return model.Event{
		Timestamp: base.Add(time.Duration(sec * float64(time.Second))),
		Data:      data,
	}
}

// --- Bucket lifecycle ---

func TestCreateBucket_LocalSentinel(t *testing.T) {
	s := newTestService(t)
	created, err := s.CreateBucket("b-web", "currentwindow", "web-watcher", LocalHostSentinel, nil, nil)
	require.NoError(t, err)
	require.True(t, created)

	b, err := s.GetBucket("b-web")
	require.NoError(t, err)
	assert.Equal(t, "testhost", b.Hostname, "sentinel must resolve to the local hostname")
	assert.Equal(t, "dev-123", b.Data["device_id"], "sentinel must attach the device id")

	// Stable across repeated creations in the same environment.
	_, err = s.CreateBucket("b-web2", "currentwindow", "web-watcher", LocalHostSentinel, nil, nil)
	require.NoError(t, err)
	b2, err := s.GetBucket("b-web2")
	require.NoError(t, err)
	assert.Equal(t, b.Data["device_id"], b2.Data["device_id"])
}

func TestCreateBucket_ExistingIDIsNotAnError(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")

	created, err := s.CreateBucket("b1", "other", "other", "elsewhere", nil, nil)
	require.NoError(t, err)
	assert.False(t, created, "duplicate create must signal false, not fail")

	// The original metadata must be untouched.
	b, err := s.GetBucket("b1")
	require.NoError(t, err)
	assert.Equal(t, "afkstatus", b.Type)
}

func TestDeleteBucket_NotFound(t *testing.T) {
	s := newTestService(t)
	err := s.DeleteBucket("missing")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// --- Event creation contract ---

func TestCreateEvents_SingleReturnsEvent(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")

	e, err := s.CreateEvents("b1", []model.Event{probe(0, map[string]any{"k": "v"})})
	require.NoError(t, err)
	require.NotNil(t, e)
	assert.NotZero(t, e.ID)
}

func TestCreateEvents_BatchReturnsNil(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")

	e, err := s.CreateEvents("b1", []model.Event{
		probe(0, map[string]any{"k": "v"}),
		probe(1, map[string]any{"k": "v"}),
	})
	require.NoError(t, err)
	assert.Nil(t, e, "multi-event insert returns no single event")

	n, err := s.EventCount("b1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestCreateEvents_NegativeDuration(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")

	e := probe(0, map[string]any{})
	e.Duration = -time.Second
	_, err := s.CreateEvents("b1", []model.Event{e})
	assert.ErrorIs(t, err, store.ErrBadRequest)
}

// --- Heartbeats ---

func TestHeartbeat_PulseSequence(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")
	data := map[string]any{"status": "not-afk"}

	// t=0: bucket empty, stored verbatim.
	e1, err := s.Heartbeat("b1", probe(0, data), 5)
	require.NoError(t, err)
	assert.Equal(t, time.Duration(0), e1.Duration)

	// t=3: same data within the window, merged into (t=0, dur=3).
	e2, err := s.Heartbeat("b1", probe(3, data), 5)
	require.NoError(t, err)
	assert.Equal(t, e1.ID, e2.ID)
	assert.True(t, e2.Timestamp.Equal(base))
	assert.Equal(t, 3*time.Second, e2.Duration)

	// t=10: gap 7 > 5, stored as a new event.
	e3, err := s.Heartbeat("b1", probe(10, data), 5)
	require.NoError(t, err)
	assert.NotEqual(t, e1.ID, e3.ID)
	assert.Equal(t, time.Duration(0), e3.Duration)

	events, err := s.Events("b1", -1, nil, nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, 3*time.Second, events[0].Duration)
	assert.Equal(t, time.Duration(0), events[1].Duration)
}

func TestHeartbeat_DifferingDataAlwaysInserts(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")

	_, err := s.Heartbeat("b1", probe(0, map[string]any{"app": "emacs"}), 60)
	require.NoError(t, err)
	_, err = s.Heartbeat("b1", probe(1, map[string]any{"app": "firefox"}), 60)
	require.NoError(t, err)
	_, err = s.Heartbeat("b1", probe(2, map[string]any{"app": "emacs"}), 60)
	require.NoError(t, err)

	n, err := s.EventCount("b1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, n, "data change must start a new event regardless of timing")
}

func TestHeartbeat_ColdCacheFallsBackToStore(t *testing.T) {
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	data := map[string]any{"status": "not-afk"}

	s1 := New(db, testInfo)
	_, err = s1.CreateBucket("b1", "afkstatus", "w", "testhost", nil, nil)
	require.NoError(t, err)
	_, err = s1.Heartbeat("b1", probe(0, data), 5)
	require.NoError(t, err)

	// Fresh service over the same store: the cache is empty, the merge
	// decision must come from the persisted last event.
	s2 := New(db, testInfo)
	merged, err := s2.Heartbeat("b1", probe(3, data), 5)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, merged.Duration)

	n, err := s2.EventCount("b1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHeartbeat_UnknownBucket(t *testing.T) {
	s := newTestService(t)
	_, err := s.Heartbeat("missing", probe(0, map[string]any{}), 5)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestHeartbeat_NegativePulsetime(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")
	_, err := s.Heartbeat("b1", probe(0, map[string]any{}), -1)
	assert.ErrorIs(t, err, store.ErrBadRequest)
}

func TestHeartbeat_CreateEventsInvalidatesCache(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")
	data := map[string]any{"status": "not-afk"}

	_, err := s.Heartbeat("b1", probe(0, data), 5)
	require.NoError(t, err)

	// A direct insert lands a newer event behind the heartbeat cache.
	_, err = s.CreateEvents("b1", []model.Event{probe(100, data)})
	require.NoError(t, err)

	// The next heartbeat must merge against the direct insert, not the
	// stale cached event.
	merged, err := s.Heartbeat("b1", probe(102, data), 5)
	require.NoError(t, err)
	assert.True(t, merged.Timestamp.Equal(base.Add(100*time.Second)))

	n, err := s.EventCount("b1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestHeartbeat_ConcurrentSameBucket(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")
	data := map[string]any{"status": "not-afk"}

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := s.Heartbeat("b1", probe(float64(i)*0.1, data), 10)
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	// Serialized merging must fold every probe into a single event no
	// matter the arrival order.
	n, err := s.EventCount("b1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestHeartbeat_NegativeDuration(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")
	hb := probe(0, map[string]any{})
	hb.Duration = -time.Second
	_, err := s.Heartbeat("b1", hb, 5)
	assert.ErrorIs(t, err, store.ErrBadRequest)
}

func TestHeartbeat_LockTimeoutStillProcesses(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")
	s.lockTimeout = 10 * time.Millisecond
	data := map[string]any{"status": "not-afk"}

	// Hold the bucket's lock for the whole test so every heartbeat takes
	// the degraded path.
	require.True(t, s.locks.Acquire("b1", time.Second))
	defer s.locks.Release("b1")

	e, err := s.Heartbeat("b1", probe(0, data), 5)
	require.NoError(t, err)
	assert.NotZero(t, e.ID)

	// Degraded means unserialized, not unprocessed: merging still works.
	merged, err := s.Heartbeat("b1", probe(3, data), 5)
	require.NoError(t, err)
	assert.Equal(t, 3*time.Second, merged.Duration)

	n, err := s.EventCount("b1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReplaceLastEvent_InvalidatesCache(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")
	data := map[string]any{"status": "not-afk"}

	// Seed the cache via a heartbeat, then move the last event forward
	// the way a peer's sync push does.
	_, err := s.Heartbeat("b1", probe(0, data), 5)
	require.NoError(t, err)
	require.NoError(t, s.ReplaceLastEvent("b1", probe(100, data)))

	// The next heartbeat must see the replaced event, not the cached one:
	// against a stale t=0 copy the gap would be over the window and a
	// second event would appear.
	merged, err := s.Heartbeat("b1", probe(102, data), 5)
	require.NoError(t, err)
	assert.True(t, merged.Timestamp.Equal(base.Add(100*time.Second)))

	n, err := s.EventCount("b1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReplaceEvent_InvalidatesCache(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")
	data := map[string]any{"status": "not-afk"}

	seeded, err := s.Heartbeat("b1", probe(0, data), 5)
	require.NoError(t, err)
	require.NoError(t, s.ReplaceEvent("b1", seeded.ID, probe(100, data)))

	merged, err := s.Heartbeat("b1", probe(102, data), 5)
	require.NoError(t, err)
	assert.True(t, merged.Timestamp.Equal(base.Add(100*time.Second)))

	n, err := s.EventCount("b1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestReplaceEvent_NegativeDuration(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")
	e := probe(0, map[string]any{})
	e.Duration = -time.Second
	err := s.ReplaceLastEvent("b1", e)
	assert.ErrorIs(t, err, store.ErrBadRequest)
	err = s.ReplaceEvent("b1", 1, e)
	assert.ErrorIs(t, err, store.ErrBadRequest)
}

func TestSyncStore_WritesInvalidateCache(t *testing.T) {
	s := newTestService(t)
	mustCreateBucket(t, s, "b1")
	data := map[string]any{"status": "not-afk"}

	_, err := s.Heartbeat("b1", probe(0, data), 5)
	require.NoError(t, err)

	// A pull through the sync view lands a newer event behind the cache.
	_, err = s.SyncStore().InsertEvents("b1", []model.Event{probe(100, data)})
	require.NoError(t, err)

	merged, err := s.Heartbeat("b1", probe(102, data), 5)
	require.NoError(t, err)
	assert.True(t, merged.Timestamp.Equal(base.Add(100*time.Second)))

	n, err := s.EventCount("b1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

// --- Producer conveniences ---

func TestLogManualActivity_DerivesBucket(t *testing.T) {
	s := newTestService(t)

	e, err := s.LogManualActivity([]model.Event{probe(0, map[string]any{"label": "reading"})}, "")
	require.NoError(t, err)
	require.NotNil(t, e)

	b, err := s.GetBucket("manual_testhost")
	require.NoError(t, err)
	assert.Equal(t, ManualActivityEventType, b.Type)
	assert.Equal(t, "manual", b.Client)

	// A second log call reuses the bucket.
	_, err = s.LogManualActivity([]model.Event{probe(10, map[string]any{"label": "writing"})}, "")
	require.NoError(t, err)
	n, err := s.EventCount("manual_testhost", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestLogMicrosurvey_DerivesBucket(t *testing.T) {
	s := newTestService(t)

	_, err := s.LogMicrosurvey([]model.Event{probe(0, map[string]any{"mood": "focused"})}, "")
	require.NoError(t, err)

	b, err := s.GetBucket("microsurvey_testhost")
	require.NoError(t, err)
	assert.Equal(t, MicrosurveyEventType, b.Type)
	assert.Equal(t, "survey", b.Client)
}

func TestLogManualActivity_NoEvents(t *testing.T) {
	s := newTestService(t)
	_, err := s.LogManualActivity(nil, "")
	assert.ErrorIs(t, err, store.ErrBadRequest)
}

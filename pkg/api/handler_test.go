package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ackaraca/PeakActivity/pkg/model"
	"github.com/ackaraca/PeakActivity/pkg/service"
	"github.com/ackaraca/PeakActivity/pkg/store"
	syncpkg "github.com/ackaraca/PeakActivity/pkg/sync"
)

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type fakeSyncer struct {
	mode   syncpkg.Mode
	bucket string
	calls  int
}

func (f *fakeSyncer) Run(mode syncpkg.Mode, bucketID string) error {
	f.mode = mode
	f.bucket = bucketID
	f.calls++
	return nil
}

func newTestHandler(t *testing.T, syncer Syncer) http.Handler {
	t.Helper()
	db, err := store.Open(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	svc := service.New(db, service.Info{Hostname: "testhost", Version: "test", DeviceID: "dev-123"})
	return New(svc, syncer)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func createBucket(t *testing.T, h http.Handler, id string) {
	t.Helper()
	w := doJSON(t, h, http.MethodPost, "/api/0/buckets/"+id, map[string]any{
		"type": "currentwindow", "client": "test", "hostname": "testhost",
	})
	require.Equal(t, http.StatusOK, w.Code)
}

func TestCreateBucket_DuplicateReportsCreatedFalse(t *testing.T) {
	h := newTestHandler(t, nil)
	createBucket(t, h, "b1")

	w := doJSON(t, h, http.MethodPost, "/api/0/buckets/b1", map[string]any{
		"type": "other", "client": "other", "hostname": "testhost",
	})
	require.Equal(t, http.StatusOK, w.Code, "a duplicate create is not an HTTP error")
	var resp map[string]bool
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.False(t, resp["created"])
}

func TestGetBucket_NotFoundMapsTo404(t *testing.T) {
	h := newTestHandler(t, nil)
	w := doJSON(t, h, http.MethodGet, "/api/0/buckets/missing", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestHeartbeat_RequiresPulsetime(t *testing.T) {
	h := newTestHandler(t, nil)
	createBucket(t, h, "b1")

	hb := model.Event{Timestamp: base, Data: map[string]any{"status": "not-afk"}}
	w := doJSON(t, h, http.MethodPost, "/api/0/buckets/b1/heartbeat", hb)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/0/buckets/b1/heartbeat?pulsetime=5", hb)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestHeartbeat_MergesOverHTTP(t *testing.T) {
	h := newTestHandler(t, nil)
	createBucket(t, h, "b1")
	data := map[string]any{"status": "not-afk"}

	w := doJSON(t, h, http.MethodPost, "/api/0/buckets/b1/heartbeat?pulsetime=5",
		model.Event{Timestamp: base, Data: data})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodPost, "/api/0/buckets/b1/heartbeat?pulsetime=5",
		model.Event{Timestamp: base.Add(3 * time.Second), Data: data})
	require.Equal(t, http.StatusOK, w.Code)
	var merged model.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &merged))
	assert.Equal(t, 3*time.Second, merged.Duration)

	w = doJSON(t, h, http.MethodGet, "/api/0/buckets/b1/events/count", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "1", string(bytes.TrimSpace(w.Body.Bytes())))
}

func TestCreateEvents_AcceptsSingleAndArray(t *testing.T) {
	h := newTestHandler(t, nil)
	createBucket(t, h, "b1")

	// Single object: the inserted event comes back.
	w := doJSON(t, h, http.MethodPost, "/api/0/buckets/b1/events",
		model.Event{Timestamp: base, Data: map[string]any{"n": 1}})
	require.Equal(t, http.StatusOK, w.Code)
	var single model.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &single))
	assert.NotZero(t, single.ID)

	// Array: null comes back.
	w = doJSON(t, h, http.MethodPost, "/api/0/buckets/b1/events", []model.Event{
		{Timestamp: base.Add(time.Second), Data: map[string]any{"n": 2}},
		{Timestamp: base.Add(2 * time.Second), Data: map[string]any{"n": 3}},
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "null", string(bytes.TrimSpace(w.Body.Bytes())))
}

func TestEventRoutes_LiteralSegmentsWinOverID(t *testing.T) {
	h := newTestHandler(t, nil)
	createBucket(t, h, "b1")
	doJSON(t, h, http.MethodPost, "/api/0/buckets/b1/events",
		model.Event{Timestamp: base, Data: map[string]any{"n": 1}})

	w := doJSON(t, h, http.MethodGet, "/api/0/buckets/b1/events/count", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var n int
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &n))
	assert.Equal(t, 1, n)

	w = doJSON(t, h, http.MethodGet, "/api/0/buckets/b1/events/last", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var last model.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &last))
	assert.NotZero(t, last.ID)

	w = doJSON(t, h, http.MethodGet, fmt.Sprintf("/api/0/buckets/b1/events/%d", last.ID), nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/0/buckets/b1/events/999", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestImport_AcceptsEnvelopeAndSingleBucket(t *testing.T) {
	h := newTestHandler(t, nil)

	envelope := map[string]any{
		"buckets": map[string]any{
			"b1": map[string]any{
				"id": "b1", "type": "currentwindow", "client": "test",
				"hostname": "otherhost", "created": base,
				"events": []model.Event{{Timestamp: base, Data: map[string]any{"n": 1}}},
			},
		},
	}
	w := doJSON(t, h, http.MethodPost, "/api/0/import", envelope)
	require.Equal(t, http.StatusOK, w.Code)

	single := map[string]any{
		"id": "b2", "type": "afkstatus", "client": "test",
		"hostname": "otherhost", "created": base,
		"events": []model.Event{{Timestamp: base, Data: map[string]any{"n": 2}}},
	}
	w = doJSON(t, h, http.MethodPost, "/api/0/import", single)
	require.Equal(t, http.StatusOK, w.Code)

	for _, id := range []string{"b1", "b2"} {
		w = doJSON(t, h, http.MethodGet, "/api/0/buckets/"+id, nil)
		assert.Equal(t, http.StatusOK, w.Code)
	}
}

func TestExport_RoundTripsThroughImport(t *testing.T) {
	h := newTestHandler(t, nil)
	createBucket(t, h, "b1")
	doJSON(t, h, http.MethodPost, "/api/0/buckets/b1/events",
		model.Event{Timestamp: base, Data: map[string]any{"app": "emacs"}})

	w := doJSON(t, h, http.MethodGet, "/api/0/export", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var exp model.Export
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &exp))
	require.Contains(t, exp.Buckets, "b1")
	require.Len(t, exp.Buckets["b1"].Events, 1)
	assert.Zero(t, exp.Buckets["b1"].Events[0].ID)

	h2 := newTestHandler(t, nil)
	w = doJSON(t, h2, http.MethodPost, "/api/0/import", exp)
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h2, http.MethodGet, "/api/0/buckets/b1/events", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var events []model.Event
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &events))
	require.Len(t, events, 1)
	assert.Equal(t, "emacs", events[0].Data["app"])
}

func TestLogManual_CreatesDerivedBucket(t *testing.T) {
	h := newTestHandler(t, nil)

	w := doJSON(t, h, http.MethodPost, "/api/0/log/manual",
		model.Event{Timestamp: base, Duration: time.Hour, Data: map[string]any{"label": "reading"}})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(t, h, http.MethodGet, "/api/0/buckets/manual_testhost", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestSync_WithoutRemote(t *testing.T) {
	h := newTestHandler(t, nil)
	w := doJSON(t, h, http.MethodPost, "/api/0/sync", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestSync_DefaultsToFullMode(t *testing.T) {
	fs := &fakeSyncer{}
	h := newTestHandler(t, fs)

	w := doJSON(t, h, http.MethodPost, "/api/0/sync", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, syncpkg.ModeFull, fs.mode)

	w = doJSON(t, h, http.MethodPost, "/api/0/sync?mode=push&bucket=b1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, syncpkg.ModePush, fs.mode)
	assert.Equal(t, "b1", fs.bucket)
	assert.Equal(t, 2, fs.calls)
}

func TestInfo(t *testing.T) {
	h := newTestHandler(t, nil)
	w := doJSON(t, h, http.MethodGet, "/info", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var info service.Info
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &info))
	assert.Equal(t, "testhost", info.Hostname)
	assert.Equal(t, "dev-123", info.DeviceID)
}

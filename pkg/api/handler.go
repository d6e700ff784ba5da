// Package api is the HTTP adapter over the ingestion service and the
// sync engine. It carries no logic of its own: it decodes requests, calls
// the service, and maps the error taxonomy onto status codes. The same
// surface serves both watchers and peer servers (the mirror client).
package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/ackaraca/PeakActivity/pkg/model"
	"github.com/ackaraca/PeakActivity/pkg/service"
	syncpkg "github.com/ackaraca/PeakActivity/pkg/sync"
)

// Syncer triggers reconciliation passes on demand. Satisfied by
// *sync.Engine; nil when no mirror is configured.
type Syncer interface {
	Run(mode syncpkg.Mode, bucketID string) error
}

// Handler holds all HTTP handler dependencies.
type Handler struct {
	svc    *service.Service
	syncer Syncer
	mux    *http.ServeMux
}

// New creates the HTTP handler and registers all routes. syncer may be
// nil, which disables the sync endpoint.
func New(svc *service.Service, syncer Syncer) http.Handler {
	h := &Handler{svc: svc, syncer: syncer, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /info", h.getInfo)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	h.mux.HandleFunc("GET /api/0/buckets", h.getBuckets)
	h.mux.HandleFunc("POST /api/0/buckets/{bucket}", h.createBucket)
	h.mux.HandleFunc("GET /api/0/buckets/{bucket}", h.getBucket)
	h.mux.HandleFunc("PUT /api/0/buckets/{bucket}", h.updateBucket)
	h.mux.HandleFunc("DELETE /api/0/buckets/{bucket}", h.deleteBucket)

	h.mux.HandleFunc("GET /api/0/buckets/{bucket}/events", h.getEvents)
	h.mux.HandleFunc("POST /api/0/buckets/{bucket}/events", h.createEvents)
	h.mux.HandleFunc("GET /api/0/buckets/{bucket}/events/count", h.getEventCount)
	h.mux.HandleFunc("GET /api/0/buckets/{bucket}/events/last", h.getLastEvent)
	h.mux.HandleFunc("PUT /api/0/buckets/{bucket}/events/last", h.replaceLastEvent)
	h.mux.HandleFunc("GET /api/0/buckets/{bucket}/events/{id}", h.getEvent)
	h.mux.HandleFunc("PUT /api/0/buckets/{bucket}/events/{id}", h.replaceEvent)
	h.mux.HandleFunc("DELETE /api/0/buckets/{bucket}/events/{id}", h.deleteEvent)

	h.mux.HandleFunc("POST /api/0/buckets/{bucket}/heartbeat", h.heartbeat)

	h.mux.HandleFunc("GET /api/0/export", h.exportAll)
	h.mux.HandleFunc("GET /api/0/buckets/{bucket}/export", h.exportBucket)
	h.mux.HandleFunc("POST /api/0/import", h.importAll)

	h.mux.HandleFunc("POST /api/0/log/manual", h.logManual)
	h.mux.HandleFunc("POST /api/0/log/survey", h.logSurvey)

	h.mux.HandleFunc("POST /api/0/sync", h.sync)

	return loggingMiddleware(h.mux)
}

func (h *Handler) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getInfo(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.svc.Info())
}

// --- Buckets ---

func (h *Handler) getBuckets(w http.ResponseWriter, _ *http.Request) {
	buckets, err := h.svc.Buckets()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, buckets)
}

func (h *Handler) getBucket(w http.ResponseWriter, r *http.Request) {
	b, err := h.svc.GetBucket(r.PathValue("bucket"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

// createBucketRequest is the create-bucket payload. Hostname may be the
// "!local" sentinel.
type createBucketRequest struct {
	Type     string         `json:"type"`
	Client   string         `json:"client"`
	Hostname string         `json:"hostname"`
	Created  *time.Time     `json:"created,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

func (h *Handler) createBucket(w http.ResponseWriter, r *http.Request) {
	var req createBucketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	created, err := h.svc.CreateBucket(r.PathValue("bucket"), req.Type, req.Client, req.Hostname, req.Created, req.Data)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"created": created})
}

func (h *Handler) updateBucket(w http.ResponseWriter, r *http.Request) {
	var patch model.BucketPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if err := h.svc.UpdateBucket(r.PathValue("bucket"), patch); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) deleteBucket(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.DeleteBucket(r.PathValue("bucket")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Events ---

func (h *Handler) getEvents(w http.ResponseWriter, r *http.Request) {
	limit := -1
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = n
	}
	start, end, ok := parseRange(w, r)
	if !ok {
		return
	}
	events, err := h.svc.Events(r.PathValue("bucket"), limit, start, end)
	if err != nil {
		writeErr(w, err)
		return
	}
	if events == nil {
		events = []model.Event{}
	}
	writeJSON(w, http.StatusOK, events)
}

// createEvents accepts a single event object or an array of events.
// Responds with the inserted event for the single case, null otherwise.
func (h *Handler) createEvents(w http.ResponseWriter, r *http.Request) {
	events, ok := decodeEvents(w, r)
	if !ok {
		return
	}
	inserted, err := h.svc.CreateEvents(r.PathValue("bucket"), events)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inserted)
}

func (h *Handler) getEventCount(w http.ResponseWriter, r *http.Request) {
	start, end, ok := parseRange(w, r)
	if !ok {
		return
	}
	count, err := h.svc.EventCount(r.PathValue("bucket"), start, end)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, count)
}

func (h *Handler) getLastEvent(w http.ResponseWriter, r *http.Request) {
	bucketID := r.PathValue("bucket")
	if _, err := h.svc.GetBucket(bucketID); err != nil {
		writeErr(w, err)
		return
	}
	e, err := h.svc.LastEvent(bucketID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) replaceLastEvent(w http.ResponseWriter, r *http.Request) {
	var e model.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if err := h.svc.ReplaceLastEvent(r.PathValue("bucket"), e); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEventID(w, r)
	if !ok {
		return
	}
	e, err := h.svc.Event(r.PathValue("bucket"), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	if e == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("no event %d", id))
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (h *Handler) replaceEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEventID(w, r)
	if !ok {
		return
	}
	var e model.Event
	if err := json.NewDecoder(r.Body).Decode(&e); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if err := h.svc.ReplaceEvent(r.PathValue("bucket"), id, e); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Handler) deleteEvent(w http.ResponseWriter, r *http.Request) {
	id, ok := parseEventID(w, r)
	if !ok {
		return
	}
	deleted, err := h.svc.DeleteEvent(r.PathValue("bucket"), id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": deleted})
}

// --- Heartbeat ---

func (h *Handler) heartbeat(w http.ResponseWriter, r *http.Request) {
	pulseParam := r.URL.Query().Get("pulsetime")
	if pulseParam == "" {
		writeError(w, http.StatusBadRequest, "missing required parameter pulsetime")
		return
	}
	pulsetime, err := strconv.ParseFloat(pulseParam, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid pulsetime")
		return
	}
	var hb model.Event
	if err := json.NewDecoder(r.Body).Decode(&hb); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	e, err := h.svc.Heartbeat(r.PathValue("bucket"), hb, pulsetime)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// --- Export / import ---

func (h *Handler) exportAll(w http.ResponseWriter, _ *http.Request) {
	exp, err := h.svc.ExportAll()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, exp)
}

func (h *Handler) exportBucket(w http.ResponseWriter, r *http.Request) {
	be, err := h.svc.ExportBucket(r.PathValue("bucket"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, be)
}

// importAll accepts either the full {"buckets": {...}} envelope or a
// single bucket export.
func (h *Handler) importAll(w http.ResponseWriter, r *http.Request) {
	var raw map[string]json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return
	}
	if bucketsRaw, ok := raw["buckets"]; ok {
		var exp model.Export
		if err := json.Unmarshal(bucketsRaw, &exp.Buckets); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid buckets envelope: %s", err))
			return
		}
		if err := h.svc.ImportAll(exp); err != nil {
			writeErr(w, err)
			return
		}
	} else {
		b, _ := json.Marshal(raw)
		var be model.BucketExport
		if err := json.Unmarshal(b, &be); err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid bucket export: %s", err))
			return
		}
		if err := h.svc.ImportBucket(be); err != nil {
			writeErr(w, err)
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- Producer conveniences ---

func (h *Handler) logManual(w http.ResponseWriter, r *http.Request) {
	h.logDerived(w, r, h.svc.LogManualActivity)
}

func (h *Handler) logSurvey(w http.ResponseWriter, r *http.Request) {
	h.logDerived(w, r, h.svc.LogMicrosurvey)
}

func (h *Handler) logDerived(w http.ResponseWriter, r *http.Request, log func([]model.Event, string) (*model.Event, error)) {
	events, ok := decodeEvents(w, r)
	if !ok {
		return
	}
	inserted, err := log(events, r.URL.Query().Get("bucket"))
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, inserted)
}

// --- Sync ---

func (h *Handler) sync(w http.ResponseWriter, r *http.Request) {
	if h.syncer == nil {
		writeError(w, http.StatusServiceUnavailable, "no sync remote configured")
		return
	}
	mode := syncpkg.Mode(r.URL.Query().Get("mode"))
	if mode == "" {
		mode = syncpkg.ModeFull
	}
	if err := h.syncer.Run(mode, r.URL.Query().Get("bucket")); err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": string(mode)})
}

// --- Request parsing helpers ---

func parseEventID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event id")
		return 0, false
	}
	return id, true
}

func parseRange(w http.ResponseWriter, r *http.Request) (start, end *time.Time, ok bool) {
	q := r.URL.Query()
	if v := q.Get("start"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid start time")
			return nil, nil, false
		}
		start = &t
	}
	if v := q.Get("end"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid end time")
			return nil, nil, false
		}
		end = &t
	}
	return start, end, true
}

// decodeEvents accepts a single event object or an array of events.
func decodeEvents(w http.ResponseWriter, r *http.Request) ([]model.Event, bool) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid JSON: %s", err))
		return nil, false
	}
	var events []model.Event
	if err := json.Unmarshal(raw, &events); err != nil {
		var single model.Event
		if err := json.Unmarshal(raw, &single); err != nil {
			writeError(w, http.StatusBadRequest, "body must be an event or an array of events")
			return nil, false
		}
		events = []model.Event{single}
	}
	return events, true
}

// statusRecorder captures the response status for request logging.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		logrus.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("handled request")
	})
}

// Package model defines the core domain types for the activity tracker.
//
// The data model is small on purpose:
//
//   - Event: a timestamped interval with a free-form JSON data payload.
//     Heartbeats are events with zero duration; the ingestion layer merges
//     adjacent matching heartbeats into a single interval.
//
//   - Bucket: a named, typed append-log of events from one producer
//     (a "watcher"). Buckets own their events; deleting a bucket deletes
//     everything in it.
package model

import (
	"bytes"
	"encoding/json"
	"time"
)

// Event is a single entry in a bucket's event log.
//
// Timestamp marks the start of the interval and Timestamp+Duration its end.
// Duration is never negative; a freshly submitted heartbeat always has
// Duration zero. ID is zero until the event has been persisted; a
// persisted id is unique within its bucket, not across buckets.
type Event struct {
	ID        int64
	Timestamp time.Time
	Duration  time.Duration
	Data      map[string]any
}

// End returns the end of the event's interval (Timestamp + Duration).
func (e Event) End() time.Time {
	return e.Timestamp.Add(e.Duration)
}

// DataEquals reports whether two event data payloads are identical.
//
// Payloads are compared through their canonical JSON encoding so that a
// value decoded from the wire (float64) and one constructed in code (int)
// with the same JSON form compare equal.
func (e Event) DataEquals(other Event) bool {
	return DataEqual(e.Data, other.Data)
}

// DataEqual compares two JSON-compatible data mappings for exact
// equality. A nil map and an empty map are the same payload.
func DataEqual(a, b map[string]any) bool {
	if len(a) != len(b) {
		return false
	}
	if len(a) == 0 {
		return true
	}
	aj, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}

// eventJSON is the wire form of an Event. Duration travels as seconds
// (floating point), matching the format watchers produce. The ID is
// omitted when zero: exported events never carry storage-assigned IDs.
type eventJSON struct {
	ID        int64          `json:"id,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Duration  float64        `json:"duration"`
	Data      map[string]any `json:"data"`
}

// MarshalJSON encodes the event with its duration in seconds.
func (e Event) MarshalJSON() ([]byte, error) {
	data := e.Data
	if data == nil {
		data = map[string]any{}
	}
	return json.Marshal(eventJSON{
		ID:        e.ID,
		Timestamp: e.Timestamp,
		Duration:  e.Duration.Seconds(),
		Data:      data,
	})
}

// UnmarshalJSON decodes the event, converting the duration from seconds.
func (e *Event) UnmarshalJSON(b []byte) error {
	var ej eventJSON
	if err := json.Unmarshal(b, &ej); err != nil {
		return err
	}
	e.ID = ej.ID
	e.Timestamp = ej.Timestamp
	e.Duration = time.Duration(ej.Duration * float64(time.Second))
	e.Data = ej.Data
	if e.Data == nil {
		e.Data = map[string]any{}
	}
	return nil
}

// Bucket holds the metadata for one event log.
//
// ID is unique within a store. Name is an optional display label, set
// only through metadata updates. Type tags the event schema the bucket
// carries (e.g. "afkstatus", "currentwindow", "manualactivity"); Client
// names the producing program; Hostname names the machine it ran on.
// LastUpdated is derived at read time from the bucket's most recent
// event and is nil when the bucket is empty.
type Bucket struct {
	ID          string         `json:"id"`
	Name        string         `json:"name,omitempty"`
	Type        string         `json:"type"`
	Client      string         `json:"client"`
	Hostname    string         `json:"hostname"`
	Created     time.Time      `json:"created"`
	Data        map[string]any `json:"data"`
	LastUpdated *time.Time     `json:"last_updated,omitempty"`
}

// BucketPatch is a partial bucket-metadata update. Nil fields are left
// unchanged.
type BucketPatch struct {
	Name     *string        `json:"name,omitempty"`
	Type     *string        `json:"type,omitempty"`
	Client   *string        `json:"client,omitempty"`
	Hostname *string        `json:"hostname,omitempty"`
	Data     map[string]any `json:"data,omitempty"`
}

// BucketExport is a bucket plus all of its events, as used by the
// export/import format. Exported events are scrubbed of their IDs.
type BucketExport struct {
	Bucket
	Events []Event `json:"events"`
}

// Export is the top-level export/import envelope:
//
//	{"buckets": {"<bucket id>": {...metadata..., "events": [...]}}}
type Export struct {
	Buckets map[string]BucketExport `json:"buckets"`
}

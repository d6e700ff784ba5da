// Package heartbeat implements the heartbeat merge window decision.
//
// A watcher reports "state X holds right now" as a zero-duration event on
// some interval. Rather than storing every probe, consecutive matching
// heartbeats are folded into one event spanning the whole interval. The
// pulsetime parameter bounds how large a gap between probes may be
// bridged: a larger gap means the state genuinely ended (user left, the
// watcher restarted) and a fresh event must start.
package heartbeat

import (
	"github.com/ackaraca/PeakActivity/pkg/model"
)

// Merge attempts to fold heartbeat hb into last, the bucket's most recent
// event. The caller has already established that the two data payloads are
// identical; Merge only applies the pulse window test.
//
// The gap is measured from the end of last to the start of hb. A negative
// gap (hb starts before last ends, from clock skew or out-of-order
// delivery) counts as zero for the window test, but the merged end time is
// the later of the two candidate ends so no duration is truncated.
//
// On success the result keeps last's identity and start time, with
// duration extended to cover hb. ok is false when the gap exceeds
// pulsetime seconds, in which case hb must be inserted as a new event.
func Merge(last, hb model.Event, pulsetime float64) (merged model.Event, ok bool) {
	gap := hb.Timestamp.Sub(last.End())
	if gap < 0 {
		gap = 0
	}
	if gap.Seconds() > pulsetime {
		return model.Event{}, false
	}

	end := last.End()
	if hbEnd := hb.End(); hbEnd.After(end) {
		end = hbEnd
	}

	merged = last
	merged.Duration = end.Sub(last.Timestamp)
	return merged, true
}

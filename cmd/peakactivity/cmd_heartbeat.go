package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/ackaraca/PeakActivity/pkg/model"
	"github.com/ackaraca/PeakActivity/pkg/service"
)

// cmdHeartbeat submits a heartbeat straight to the local store, bypassing
// HTTP. Useful for scripting and for testing merge behavior by hand.
func (a *app) cmdHeartbeat(args []string) int {
	flags := flag.NewFlagSet("heartbeat", flag.ContinueOnError)
	data := flags.String("data", "{}", "event data as JSON")
	pulsetime := flags.Float64("pulsetime", 60, "max merge gap in seconds")
	eventType := flags.String("type", "manualactivity", "event type for implicit bucket creation")
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "peakactivity: heartbeat: missing bucket id")
		return 1
	}
	bucketID := flags.Arg(0)

	var payload map[string]any
	if err := json.Unmarshal([]byte(*data), &payload); err != nil {
		fmt.Fprintf(os.Stderr, "peakactivity: heartbeat: invalid --data: %v\n", err)
		return 1
	}

	// Ensure the bucket exists so ad-hoc probes don't need a create step.
	if _, err := a.svc.CreateBucket(bucketID, *eventType, "peakactivity-cli", service.LocalHostSentinel, nil, nil); err != nil {
		fmt.Fprintf(os.Stderr, "peakactivity: heartbeat: %v\n", err)
		return 1
	}

	hb := model.Event{Timestamp: time.Now(), Data: payload}
	e, err := a.svc.Heartbeat(bucketID, hb, *pulsetime)
	if err != nil {
		fmt.Fprintf(os.Stderr, "peakactivity: heartbeat: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(e)
	} else {
		fmt.Printf("heartbeat %s id=%d start=%s duration=%s\n",
			bucketID, e.ID, e.Timestamp.Format(time.RFC3339), e.Duration)
	}
	return 0
}

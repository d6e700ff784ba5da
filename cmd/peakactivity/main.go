// Command peakactivity is the activity-tracking server. Watchers push
// heartbeats into per-source buckets, a local SQLite store persists them,
// and an optional sync loop mirrors everything to a peer server.
package main

import (
	"fmt"
	"os"
)

const version = "1.0.0"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "--help", "-h", "help":
		printUsage()
		return
	case "--version", "-v", "version":
		fmt.Println("peakactivity", version)
		return
	}

	a, err := newApp()
	if err != nil {
		fatal("%v", err)
	}
	defer a.Close()

	switch os.Args[1] {
	case "serve":
		os.Exit(a.cmdServe(os.Args[2:]))
	case "buckets":
		os.Exit(a.cmdBuckets(os.Args[2:]))
	case "heartbeat", "hb":
		os.Exit(a.cmdHeartbeat(os.Args[2:]))
	case "export":
		os.Exit(a.cmdExport(os.Args[2:]))
	case "import":
		os.Exit(a.cmdImport(os.Args[2:]))
	case "sync":
		os.Exit(a.cmdSync(os.Args[2:]))

	default:
		fmt.Fprintf(os.Stderr, "peakactivity: unknown command %q\n", os.Args[1])
		fmt.Fprintln(os.Stderr, "Run 'peakactivity --help' for usage.")
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Print(`peakactivity - personal activity-tracking server

Watchers push timestamped heartbeats into per-source buckets; adjacent
matching heartbeats merge into continuous intervals. An optional sync
loop reconciles the local store against a remote mirror, last write wins.

Usage:
  peakactivity <command> [flags]

Commands:
  serve                     Run the HTTP server (and sync loop if enabled)
  buckets                   List buckets with metadata
  heartbeat <bucket>        Submit a heartbeat directly to the local store
  export [--bucket ID]      Export buckets with events as JSON to stdout
  import <file>             Import a previous export
  sync [--mode M]           Run one sync pass (push, pull or full)

Aliases:
  hb = heartbeat

Environment:
  PEAKACTIVITY_CONFIG   Path to the YAML config file
  PEAKACTIVITY_DATA     Data directory override (default: ~/.peakactivity)

All read commands support --json for machine-readable output.

Exit codes:
  0  success
  1  error
`)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "peakactivity: "+format+"\n", args...)
	os.Exit(1)
}

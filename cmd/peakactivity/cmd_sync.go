package main

import (
	"flag"
	"fmt"
	"os"

	syncpkg "github.com/ackaraca/PeakActivity/pkg/sync"
)

func (a *app) cmdSync(args []string) int {
	flags := flag.NewFlagSet("sync", flag.ContinueOnError)
	mode := flags.String("mode", "full", "sync mode: push, pull or full")
	bucket := flags.String("bucket", "", "restrict a push to one bucket")
	remoteURL := flags.String("remote", "", "mirror base URL (overrides config)")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	engine := a.syncEngine(*remoteURL)
	if engine == nil {
		fmt.Fprintln(os.Stderr, "peakactivity: sync: no mirror configured (set sync.remote or pass --remote)")
		return 1
	}

	if err := engine.Run(syncpkg.Mode(*mode), *bucket); err != nil {
		fmt.Fprintf(os.Stderr, "peakactivity: sync: %v\n", err)
		return 1
	}
	fmt.Printf("sync %s complete\n", *mode)
	return 0
}

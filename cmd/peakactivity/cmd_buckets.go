package main

import (
	"flag"
	"fmt"
	"os"
	"sort"
)

func (a *app) cmdBuckets(args []string) int {
	flags := flag.NewFlagSet("buckets", flag.ContinueOnError)
	jsonOut := flags.Bool("json", false, "JSON output")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	buckets, err := a.svc.Buckets()
	if err != nil {
		fmt.Fprintf(os.Stderr, "peakactivity: buckets: %v\n", err)
		return 1
	}

	if *jsonOut {
		printJSON(buckets)
		return 0
	}

	ids := make([]string, 0, len(buckets))
	for id := range buckets {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		b := buckets[id]
		updated := "never"
		if b.LastUpdated != nil {
			updated = b.LastUpdated.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-40s type=%-16s client=%-16s host=%-12s updated=%s\n",
			b.ID, b.Type, b.Client, b.Hostname, updated)
	}
	return 0
}

package main

import (
	"flag"
	"fmt"
	"os"
)

func (a *app) cmdExport(args []string) int {
	flags := flag.NewFlagSet("export", flag.ContinueOnError)
	bucket := flags.String("bucket", "", "export a single bucket instead of all")
	if err := flags.Parse(args); err != nil {
		return 1
	}

	if *bucket != "" {
		be, err := a.svc.ExportBucket(*bucket)
		if err != nil {
			fmt.Fprintf(os.Stderr, "peakactivity: export: %v\n", err)
			return 1
		}
		printJSON(be)
		return 0
	}

	exp, err := a.svc.ExportAll()
	if err != nil {
		fmt.Fprintf(os.Stderr, "peakactivity: export: %v\n", err)
		return 1
	}
	printJSON(exp)
	return 0
}

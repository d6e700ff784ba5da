package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"

	"github.com/ackaraca/PeakActivity/pkg/model"
)

func (a *app) cmdImport(args []string) int {
	flags := flag.NewFlagSet("import", flag.ContinueOnError)
	if err := flags.Parse(args); err != nil {
		return 1
	}
	if flags.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "peakactivity: import: missing file argument")
		return 1
	}

	b, err := os.ReadFile(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(os.Stderr, "peakactivity: import: %v\n", err)
		return 1
	}
	var exp model.Export
	if err := json.Unmarshal(b, &exp); err != nil {
		fmt.Fprintf(os.Stderr, "peakactivity: import: invalid export file: %v\n", err)
		return 1
	}
	if err := a.svc.ImportAll(exp); err != nil {
		fmt.Fprintf(os.Stderr, "peakactivity: import: %v\n", err)
		return 1
	}
	fmt.Printf("imported %d bucket(s)\n", len(exp.Buckets))
	return 0
}

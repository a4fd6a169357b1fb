// Package main converts a raw scrape artifact into one CSV per table and a
// flattened JSON Lines file.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/JakeFAU/scrape-queue/internal/convert"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("convertworker", flag.ContinueOnError)
	fs.SetOutput(stderr)
	in := fs.String("in", "", "Raw artifact to convert")
	out := fs.String("out", "", "Directory for converted files")
	name := fs.String("name", "", "Base name for converted files")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *in == "" || *out == "" || *name == "" {
		fmt.Fprintln(stderr, "-in, -out and -name are required")
		return 2
	}

	res, err := convert.ConvertFile(*in, *out, *name)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	fmt.Fprintf(stdout, "Wrote %d files, %d rows\n", len(res.Files), res.Rows)
	return 0
}

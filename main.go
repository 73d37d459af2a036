// Command madoop is a light weight MapReduce framework for education. It
// runs user-supplied map and reduce executables over partitioned input on a
// single machine, with a real shuffle/group stage in between.
package main

import (
	"fmt"
	"os"
	"strings"

	"github.com/aarmaane/madoop/internal/mapreduce"
)

const version = "1.0.0"

const usage = `usage: madoop -input DIR -output DIR -mapper EXE -reducer EXE

A light weight MapReduce framework for education.

required arguments:
  -input DIR     directory of input files
  -output DIR    output directory; must not already exist
  -mapper EXE    path to the map executable
  -reducer EXE   path to the reduce executable

optional arguments:
  --version      print version and exit
  --help         print this message and exit

Extra Hadoop streaming tokens (e.g. "jar hadoop-streaming-2.7.2.jar") are
accepted and ignored.`

type options struct {
	input   string
	output  string
	mapper  string
	reducer string
}

// parseArgs scans the command line by hand: Hadoop streaming invocations
// carry positional tokens before the real options, and the flag package
// stops parsing at the first one. Unknown tokens and options are ignored.
// A nil options with nil error means version/help was handled.
func parseArgs(args []string) (*options, error) {
	opts := &options{}
	targets := map[string]*string{
		"input":   &opts.input,
		"output":  &opts.output,
		"mapper":  &opts.mapper,
		"reducer": &opts.reducer,
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if !strings.HasPrefix(arg, "-") {
			continue
		}
		name := strings.TrimLeft(arg, "-")
		name, inline, hasInline := strings.Cut(name, "=")

		switch name {
		case "version":
			fmt.Printf("Madoop %s\n", version)
			return nil, nil
		case "help", "h":
			fmt.Println(usage)
			return nil, nil
		}

		dst, ok := targets[name]
		if !ok {
			continue
		}
		if hasInline {
			*dst = inline
		} else if i+1 < len(args) {
			i++
			*dst = args[i]
		} else {
			return nil, fmt.Errorf("missing value for -%s", name)
		}
	}

	for _, name := range []string{"input", "output", "mapper", "reducer"} {
		if *targets[name] == "" {
			return nil, fmt.Errorf("missing required argument: -%s", name)
		}
	}
	return opts, nil
}

func main() {
	opts, err := parseArgs(os.Args[1:])
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n\n%s\n", err, usage)
		os.Exit(1)
	}
	if opts == nil {
		return
	}

	job := mapreduce.NewJob(opts.input, opts.output, opts.mapper, opts.reducer)
	if err := job.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

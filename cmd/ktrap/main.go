// Copyright 2026 The gVisor Authors.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Binary ktrap decodes exception syndromes, runs trap routing against a
// simulated platform and inspects the host time base.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/google/subcommands"
	"ktrap.dev/ktrap/cmd/ktrap/config"
	"ktrap.dev/ktrap/pkg/log"
)

func main() {
	os.Exit(int(Main(os.Args[1:], os.Stdout)))
}

// Main runs the command line in args, printing results to stdout.
func Main(args []string, stdout io.Writer) subcommands.ExitStatus {
	flagSet := flag.NewFlagSet("ktrap", flag.ContinueOnError)
	cdr := subcommands.NewCommander(flagSet, "ktrap")
	cdr.Register(cdr.HelpCommand(), "")
	cdr.Register(cdr.FlagsCommand(), "")
	cdr.Register(&Decode{out: stdout}, "")
	cdr.Register(&Simulate{out: stdout}, "")
	cdr.Register(&Clock{out: stdout}, "")

	config.RegisterFlags(flagSet)
	if err := flagSet.Parse(args); err != nil {
		return subcommands.ExitUsageError
	}
	conf, err := config.NewFromFlags(flagSet)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return subcommands.ExitUsageError
	}

	logFile := io.Writer(os.Stderr)
	if conf.LogFilename != "" {
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error opening log file %q: %v\n", conf.LogFilename, err)
			return subcommands.ExitFailure
		}
		defer f.Close()
		logFile = f
	}
	log.SetTarget(newEmitter(conf.LogFormat, logFile))
	if conf.Debug {
		log.SetLevel(log.Debug)
	}

	log.Debugf("ktrap %s, %s, %d CPUs, args: %v", runtime.Version(), runtime.GOARCH, runtime.NumCPU(), args)
	if log.IsLogging(log.Debug) {
		conf.Log()
	}

	return cdr.Execute(context.Background(), conf)
}

// newEmitter returns an emitter writing format to logFile. The format has
// already been validated.
func newEmitter(format string, logFile io.Writer) log.Emitter {
	if format == "json" {
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}}
	}
	return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
}

// consoleFor opens the console named by conf, falling back to stdout. The
// returned function closes it.
func consoleFor(conf *config.Config, stdout io.Writer) (io.Writer, func(), error) {
	if conf.Console == "" {
		return stdout, func() {}, nil
	}
	f, err := os.OpenFile(conf.Console, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening console %q: %w", conf.Console, err)
	}
	return f, func() { f.Close() }, nil
}

// confFrom extracts the Config passed to Execute.
func confFrom(args []any) *config.Config {
	if len(args) > 0 {
		if conf, ok := args[0].(*config.Config); ok {
			return conf
		}
	}
	return &config.Config{LogFormat: "text"}
}

// Copyright 2026 The e2meta Authors.
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

// Package cli is the main entrypoint for e2meta.
package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/e2meta/e2meta/e2meta/cmd"
	"github.com/e2meta/e2meta/e2meta/config"
	"github.com/e2meta/e2meta/pkg/log"
	"github.com/google/subcommands"
)

// version is set at link time.
var version = "unknown"

const versionFlagName = "version"

// Main is the main entrypoint.
func Main() {
	// Help and flags commands are generated automatically.
	forEachCmd(subcommands.Register)

	// Register with the main command line.
	config.RegisterFlags(flag.CommandLine)
	flag.Bool(versionFlagName, false, "show version and exit.")

	// All subcommands must be registered before flag parsing.
	flag.Parse()

	// Are we showing the version?
	if flag.Lookup(versionFlagName).Value.(flag.Getter).Get().(bool) {
		fmt.Fprintf(os.Stdout, "e2meta version %s\n", version)
		os.Exit(0)
	}

	// Create a new Config from the flags and the configuration file.
	conf, err := config.NewFromFlags(flag.CommandLine)
	if err != nil {
		cmd.Fatalf(err.Error())
	}

	var logFile io.Writer = os.Stderr
	if conf.LogFilename != "" {
		f, err := os.OpenFile(conf.LogFilename, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
		if err != nil {
			cmd.Fatalf("error opening log file %q: %v", conf.LogFilename, err)
		}
		logFile = f
		// Errors still go to stderr, and to the log file too.
		cmd.ErrorLogger = io.MultiWriter(os.Stderr, f)
	}

	if conf.Debug {
		log.SetLevel(log.Debug)
	}
	log.SetTarget(newEmitter(conf.LogFormat, logFile, flag.CommandLine.Arg(0)))

	log.Debugf("e2meta version %s, %s, %s, PID %d", version, runtime.Version(), runtime.GOARCH, os.Getpid())
	log.Debugf("Args: %v", os.Args)
	if log.IsLogging(log.Debug) {
		conf.Log()
	}

	// Call the subcommand and pass in the configuration.
	subcmdCode := subcommands.Execute(context.Background(), conf)
	if subcmdCode != subcommands.ExitSuccess {
		log.Debugf("Failure to execute command, status: %v", subcmdCode)
	}
	os.Exit(int(subcmdCode))
}

// forEachCmd invokes the passed callback for each command supported by
// e2meta.
func forEachCmd(cb func(cmd subcommands.Command, group string)) {
	cb(subcommands.HelpCommand(), "")
	cb(subcommands.FlagsCommand(), "")
	cb(subcommands.CommandsCommand(), "")

	const inspectGroup = "inspect"
	cb(new(cmd.Superblock), inspectGroup)
	cb(new(cmd.Layout), inspectGroup)
	cb(new(cmd.Scan), inspectGroup)
	cb(new(cmd.Stat), inspectGroup)
	cb(new(cmd.Dirs), inspectGroup)

	const modifyGroup = "modify"
	cb(new(cmd.Mkfs), modifyGroup)
	cb(new(cmd.Label), modifyGroup)
}

func newEmitter(format string, logFile io.Writer, subcommand string) log.Emitter {
	switch format {
	case "text":
		return log.GoogleEmitter{Writer: &log.Writer{Next: logFile}}
	case "json":
		return log.JSONEmitter{Writer: &log.Writer{Next: logFile}, Fields: map[string]string{"command": subcommand}}
	}
	cmd.Fatalf("invalid log format %q, must be 'text' or 'json'", format)
	panic("unreachable")
}

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

package cmd

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/e2meta/e2meta/e2meta/config"
	"github.com/e2meta/e2meta/pkg/ext2"
	"github.com/google/subcommands"
)

// Label implements subcommands.Command for the "label" command.
type Label struct{}

// Name implements subcommands.Command.Name.
func (*Label) Name() string {
	return "label"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Label) Synopsis() string {
	return "print or change the volume label"
}

// Usage implements subcommands.Command.Usage.
func (*Label) Usage() string {
	return `label [flags] <image> [new label] - print or change the volume label

Changing the label requires --rw and rewrites the superblock and every
backup copy.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Label) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Label) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() < 1 || f.NArg() > 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	if f.NArg() == 2 && !conf.ReadWrite {
		Fatalf("changing the label requires --rw")
	}

	fs, err := openImage(conf, f.Arg(0))
	if err != nil {
		Fatalf("%v", err)
	}
	if f.NArg() == 1 {
		fmt.Fprintln(os.Stdout, cString(fs.Super.VolumeName[:]))
		if err := closeImage(fs); err != nil {
			Fatalf("%v", err)
		}
		return subcommands.ExitSuccess
	}

	if err := setLabel(fs, f.Arg(1)); err != nil {
		closeImage(fs)
		Fatalf("%v", err)
	}
	if err := fs.Close(); err != nil {
		Fatalf("writing %q: %v", f.Arg(0), err)
	}
	return subcommands.ExitSuccess
}

// setLabel replaces the volume label of fs. The change is written when fs is
// flushed or closed.
func setLabel(fs *ext2.Filesystem, label string) error {
	sb := &fs.Super
	if len(label) > len(sb.VolumeName) {
		return fmt.Errorf("label %q is longer than %d bytes", label, len(sb.VolumeName))
	}
	if fs.Flags()&ext2.FlagRW == 0 {
		return fmt.Errorf("filesystem is open read-only")
	}
	sb.VolumeName = [16]byte{}
	copy(sb.VolumeName[:], label)
	fs.MarkSuperDirty()
	return nil
}

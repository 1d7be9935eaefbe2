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
	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/ext2"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
	"github.com/e2meta/e2meta/pkg/log"
	"github.com/google/subcommands"
)

// Scan implements subcommands.Command for the "scan" command.
type Scan struct {
	all bool
}

// Name implements subcommands.Command.Name.
func (*Scan) Name() string {
	return "scan"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Scan) Synopsis() string {
	return "list the inodes of a filesystem image in inode table order"
}

// Usage implements subcommands.Command.Usage.
func (*Scan) Usage() string {
	return `scan [flags] <image> - list the inodes of a filesystem image in inode table order

Inodes in bad inode table blocks are reported as bad and listed even if they
look unused.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (s *Scan) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&s.all, "all", false, "list unused inodes too.")
}

// Execute implements subcommands.Command.Execute.
func (s *Scan) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	fs, err := openImage(conf, f.Arg(0))
	if err != nil {
		Fatalf("%v", err)
	}
	report, err := scanInodes(fs, conf, s.all)
	if err != nil {
		Fatalf("scanning %q: %v", f.Arg(0), err)
	}
	if err := writeYAML(os.Stdout, report); err != nil {
		Fatalf("%v", err)
	}
	if err := closeImage(fs); err != nil {
		Fatalf("closing %q: %v", f.Arg(0), err)
	}
	return subcommands.ExitSuccess
}

// inodeInfo is the printed form of an inode.
type inodeInfo struct {
	Ino      uint32 `yaml:"ino"`
	Mode     string `yaml:"mode"`
	Links    uint16 `yaml:"links"`
	UID      uint32 `yaml:"uid"`
	GID      uint32 `yaml:"gid"`
	Size     uint64 `yaml:"size"`
	Blocks   uint32 `yaml:"blocks"`
	Flags    uint32 `yaml:"flags,omitempty"`
	Deleted  bool   `yaml:"deleted,omitempty"`
	BadBlock bool   `yaml:"bad_block,omitempty"`
}

func newInodeInfo(ino uint32, in *disklayout.InodeOld) inodeInfo {
	return inodeInfo{
		Ino:     ino,
		Mode:    fmt.Sprintf("%#o", in.Mode),
		Links:   in.LinksCount,
		UID:     in.UID(),
		GID:     in.GID(),
		Size:    in.Size(),
		Blocks:  in.BlocksCountLo,
		Flags:   in.Flags,
		Deleted: in.DeletionTime != 0,
	}
}

// scanReport is the printed result of a scan.
type scanReport struct {
	Groups      uint32      `yaml:"groups"`
	Scanned     uint32      `yaml:"scanned"`
	InUse       uint32      `yaml:"in_use"`
	Directories uint32      `yaml:"directories"`
	BadInodes   []uint32    `yaml:"bad_inodes,flow,omitempty"`
	Inodes      []inodeInfo `yaml:"inodes"`
}

// scanInodes walks every inode table of fs. Unused inodes are only listed
// if all is set.
func scanInodes(fs *ext2.Filesystem, conf *config.Config, all bool) (*scanReport, error) {
	report := &scanReport{}
	err := walkInodes(fs, conf, func(ino uint32, in *disklayout.InodeOld, bad bool) error {
		report.Scanned++
		if bad {
			report.BadInodes = append(report.BadInodes, ino)
		}
		inUse := in.InUse()
		if inUse {
			report.InUse++
			if in.IsDir() {
				report.Directories++
			}
		}
		if all || inUse || bad {
			info := newInodeInfo(ino, in)
			info.BadBlock = bad
			report.Inodes = append(report.Inodes, info)
		}
		return nil
	}, func(group uint32) {
		report.Groups++
	})
	if err != nil {
		return nil, err
	}
	return report, nil
}

// walkInodes calls fn for every inode returned by a scan of fs configured by
// conf, and groupDone, if not nil, as each group is finished. bad is set for
// inodes that overlapped a bad inode table block.
func walkInodes(fs *ext2.Filesystem, conf *config.Config, fn func(ino uint32, in *disklayout.InodeOld, bad bool) error, groupDone func(group uint32)) error {
	scan, err := fs.OpenInodeScan(conf.BufferBlocks)
	if err != nil {
		return err
	}
	defer scan.Close()
	scan.SetFlags(conf.ScanFlags(), 0)
	scan.SetDoneGroup(func(_ *ext2.Filesystem, _ *ext2.InodeScan, group uint32) error {
		log.Debugf("finished scanning group %d", group)
		if groupDone != nil {
			groupDone(group)
		}
		return nil
	})

	buf := make([]byte, disklayout.OldInodeSize)
	var in disklayout.InodeOld
	for {
		ino, err := scan.Next(buf)
		bad := false
		if err != nil {
			if !exterr.IsAdvisory(err) {
				return err
			}
			bad = true
		}
		if ino == 0 {
			return nil
		}
		disklayout.Unmarshal(buf, &in)
		if err := fn(ino, &in, bad); err != nil {
			return err
		}
	}
}

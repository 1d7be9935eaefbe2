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
	"os"
	"strconv"

	"github.com/e2meta/e2meta/e2meta/config"
	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/ext2"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
	"github.com/google/subcommands"
)

// Stat implements subcommands.Command for the "stat" command.
type Stat struct{}

// Name implements subcommands.Command.Name.
func (*Stat) Name() string {
	return "stat"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Stat) Synopsis() string {
	return "print an inode and the blocks it maps"
}

// Usage implements subcommands.Command.Usage.
func (*Stat) Usage() string {
	return `stat [flags] <image> <inode> - print an inode and the blocks it maps
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Stat) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Stat) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 2 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)
	ino, err := strconv.ParseUint(f.Arg(1), 10, 32)
	if err != nil {
		Fatalf("invalid inode number %q: %v", f.Arg(1), err)
	}

	fs, err := openImage(conf, f.Arg(0))
	if err != nil {
		Fatalf("%v", err)
	}
	info, err := statInode(fs, uint32(ino))
	if err != nil {
		Fatalf("inode %d: %v", ino, err)
	}
	if err := writeYAML(os.Stdout, info); err != nil {
		Fatalf("%v", err)
	}
	if err := closeImage(fs); err != nil {
		Fatalf("closing %q: %v", f.Arg(0), err)
	}
	return subcommands.ExitSuccess
}

// mappedBlock is one entry of an inode's block map.
type mappedBlock struct {
	Block    uint64 `yaml:"block"`
	Logical  int64  `yaml:"logical"`
	Indirect bool   `yaml:"indirect,omitempty"`
}

// statInfo is the printed form of the stat command.
type statInfo struct {
	inodeInfo `yaml:",inline"`
	Group     uint32        `yaml:"group"`
	Extents   bool          `yaml:"extents,omitempty"`
	Map       []mappedBlock `yaml:"map,omitempty"`
}

func statInode(fs *ext2.Filesystem, ino uint32) (*statInfo, error) {
	var in disklayout.InodeOld
	if err := fs.ReadInode(ino, &in); err != nil {
		return nil, err
	}
	info := &statInfo{
		inodeInfo: newInodeInfo(ino, &in),
		Group:     fs.GroupOfInode(ino),
	}
	if !hasBlockMap(&in) {
		return info, nil
	}
	err := fs.BlockIterate(ino, func(blk uint64, blockcnt int64) error {
		info.Map = append(info.Map, mappedBlock{
			Block:    blk,
			Logical:  blockcnt,
			Indirect: blockcnt < 0,
		})
		return nil
	})
	switch {
	case exterr.Equals(exterr.ErrExtentMapped, err):
		info.Extents = true
	case err != nil:
		return nil, err
	}
	return info, nil
}

// hasBlockMap reports whether in.Block holds block numbers.
func hasBlockMap(in *disklayout.InodeOld) bool {
	switch in.Mode & 0xf000 {
	case 0x8000, 0x4000:
		return true
	case 0xa000:
		// Fast symlinks keep their target in the block array.
		return in.BlocksCountLo != 0
	default:
		return false
	}
}

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

	"github.com/e2meta/e2meta/e2meta/config"
	"github.com/e2meta/e2meta/pkg/ext2"
	"github.com/google/subcommands"
)

// Layout implements subcommands.Command for the "layout" command.
type Layout struct {
	group int
}

// Name implements subcommands.Command.Name.
func (*Layout) Name() string {
	return "layout"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Layout) Synopsis() string {
	return "print the metadata placement of each block group"
}

// Usage implements subcommands.Command.Usage.
func (*Layout) Usage() string {
	return `layout [flags] <image> - print the metadata placement of each block group
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (l *Layout) SetFlags(f *flag.FlagSet) {
	f.IntVar(&l.group, "group", -1, "only print this group.")
}

// Execute implements subcommands.Command.Execute.
func (l *Layout) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	fs, err := openImage(conf, f.Arg(0))
	if err != nil {
		Fatalf("%v", err)
	}
	groups := describeGroups(fs)
	if l.group >= 0 {
		if l.group >= len(groups) {
			Fatalf("group %d out of range, filesystem has %d groups", l.group, len(groups))
		}
		groups = groups[l.group : l.group+1]
	}
	if err := writeYAML(os.Stdout, groups); err != nil {
		Fatalf("%v", err)
	}
	if err := closeImage(fs); err != nil {
		Fatalf("closing %q: %v", f.Arg(0), err)
	}
	return subcommands.ExitSuccess
}

// groupInfo is the printed form of a block group.
type groupInfo struct {
	Group        uint32   `yaml:"group"`
	FirstBlock   uint64   `yaml:"first_block"`
	LastBlock    uint64   `yaml:"last_block"`
	SuperBlock   *uint64  `yaml:"superblock,omitempty"`
	OldDescBlock uint64   `yaml:"old_desc_block,omitempty"`
	NewDescBlock uint64   `yaml:"new_desc_block,omitempty"`
	MetaBG       uint32   `yaml:"meta_bg"`
	UsedBlocks   uint64   `yaml:"overhead_blocks"`
	FreeEstimate int64    `yaml:"free_estimate"`
	BlockBitmap  uint64   `yaml:"block_bitmap"`
	InodeBitmap  uint64   `yaml:"inode_bitmap"`
	InodeTable   uint64   `yaml:"inode_table"`
	FreeBlocks   uint32   `yaml:"free_blocks"`
	FreeInodes   uint32   `yaml:"free_inodes"`
	UsedDirs     uint32   `yaml:"used_dirs"`
	ItableUnused uint32   `yaml:"itable_unused,omitempty"`
	Flags        []string `yaml:"flags,flow,omitempty"`
	Checksum     *uint16  `yaml:"checksum,omitempty"`
	ChecksumOK   *bool    `yaml:"checksum_ok,omitempty"`
}

func describeGroups(fs *ext2.Filesystem) []groupInfo {
	groups := make([]groupInfo, 0, fs.GroupCount())
	for g := uint32(0); g < fs.GroupCount(); g++ {
		layout := fs.GroupLayout(g)
		gd := fs.GroupDesc(g)
		info := groupInfo{
			Group:        g,
			FirstBlock:   fs.GroupFirstBlock(g),
			LastBlock:    fs.GroupLastBlock(g),
			OldDescBlock: layout.OldDescBlk,
			NewDescBlock: layout.NewDescBlk,
			MetaBG:       layout.MetaBG,
			UsedBlocks:   layout.UsedBlocks,
			FreeEstimate: layout.FreeEstimate,
			BlockBitmap:  gd.BlockBitmap(),
			InodeBitmap:  gd.InodeBitmap(),
			InodeTable:   gd.InodeTable(),
			FreeBlocks:   gd.FreeBlocksCount(),
			FreeInodes:   gd.FreeInodesCount(),
			UsedDirs:     gd.UsedDirsCount(),
		}
		if layout.HasSuper {
			blk := layout.SuperBlk
			info.SuperBlock = &blk
		}
		if fs.Super.HasGroupDescCsum() {
			info.ItableUnused = gd.ItableUnused()
			flags := gd.Flags()
			if flags.InodeUninit {
				info.Flags = append(info.Flags, "INODE_UNINIT")
			}
			if flags.BlockUninit {
				info.Flags = append(info.Flags, "BLOCK_UNINIT")
			}
			if flags.InodeZeroed {
				info.Flags = append(info.Flags, "ITABLE_ZEROED")
			}
			csum := gd.Checksum
			ok := fs.VerifyGroupDescCsum(g)
			info.Checksum = &csum
			info.ChecksumOK = &ok
		}
		groups = append(groups, info)
	}
	return groups
}

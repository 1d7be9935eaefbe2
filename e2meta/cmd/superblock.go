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
	"bytes"
	"context"
	"flag"
	"os"
	"time"

	"github.com/e2meta/e2meta/e2meta/config"
	"github.com/e2meta/e2meta/pkg/ext2"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
	"github.com/google/subcommands"
	"github.com/google/uuid"
)

// Superblock implements subcommands.Command for the "superblock" command.
type Superblock struct{}

// Name implements subcommands.Command.Name.
func (*Superblock) Name() string {
	return "superblock"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Superblock) Synopsis() string {
	return "print the superblock of a filesystem image"
}

// Usage implements subcommands.Command.Usage.
func (*Superblock) Usage() string {
	return `superblock [flags] <image> - print the superblock of a filesystem image
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (*Superblock) SetFlags(*flag.FlagSet) {}

// Execute implements subcommands.Command.Execute.
func (*Superblock) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	fs, err := openImage(conf, f.Arg(0))
	if err != nil {
		Fatalf("%v", err)
	}
	if err := writeYAML(os.Stdout, describeSuper(fs)); err != nil {
		Fatalf("%v", err)
	}
	if err := closeImage(fs); err != nil {
		Fatalf("closing %q: %v", f.Arg(0), err)
	}
	return subcommands.ExitSuccess
}

// superInfo is the printed form of a superblock.
type superInfo struct {
	UUID              string    `yaml:"uuid"`
	VolumeName        string    `yaml:"volume_name,omitempty"`
	Revision          uint32    `yaml:"revision"`
	State             uint16    `yaml:"state"`
	BlockSize         int       `yaml:"block_size"`
	BlocksCount       uint64    `yaml:"blocks_count"`
	FreeBlocks        uint64    `yaml:"free_blocks"`
	ReservedBlocks    uint64    `yaml:"reserved_blocks"`
	FirstDataBlock    uint32    `yaml:"first_data_block"`
	BlocksPerGroup    uint32    `yaml:"blocks_per_group"`
	InodesCount       uint32    `yaml:"inodes_count"`
	FreeInodes        uint32    `yaml:"free_inodes"`
	InodesPerGroup    uint32    `yaml:"inodes_per_group"`
	InodeSize         int       `yaml:"inode_size"`
	FirstInode        uint32    `yaml:"first_inode"`
	Groups            uint32    `yaml:"groups"`
	DescSize          int       `yaml:"desc_size"`
	DescBlocks        uint64    `yaml:"desc_blocks"`
	ReservedGdtBlocks uint16    `yaml:"reserved_gdt_blocks,omitempty"`
	FirstMetaBg       *uint32   `yaml:"first_meta_bg,omitempty"`
	FeatureCompat     uint32    `yaml:"feature_compat"`
	FeatureIncompat   uint32    `yaml:"feature_incompat"`
	FeatureRoCompat   uint32    `yaml:"feature_ro_compat"`
	MountCount        uint16    `yaml:"mount_count"`
	KbytesWritten     uint64    `yaml:"kbytes_written"`
	MkfsTime          time.Time `yaml:"mkfs_time"`
	WriteTime         time.Time `yaml:"write_time"`
}

func describeSuper(fs *ext2.Filesystem) superInfo {
	sb := &fs.Super
	return superInfo{
		UUID:              uuid.UUID(sb.UUID).String(),
		VolumeName:        cString(sb.VolumeName[:]),
		Revision:          sb.RevLevel,
		State:             sb.State,
		BlockSize:         fs.BlockSize(),
		BlocksCount:       sb.BlocksCount(),
		FreeBlocks:        sb.FreeBlocksCount(),
		ReservedBlocks:    sb.RBlocksCount(),
		FirstDataBlock:    sb.FirstDataBlock,
		BlocksPerGroup:    sb.BlocksPerGroup,
		InodesCount:       sb.InodesCount,
		FreeInodes:        sb.FreeInodesCount,
		InodesPerGroup:    sb.InodesPerGroup,
		InodeSize:         fs.InodeSize(),
		FirstInode:        sb.FirstInode(),
		Groups:            fs.GroupCount(),
		DescSize:          sb.DescSize(),
		DescBlocks:        fs.DescBlocks(),
		ReservedGdtBlocks: sb.ReservedGdtBlocks,
		FirstMetaBg:       metaBgStart(sb),
		FeatureCompat:     sb.FeatureCompat,
		FeatureIncompat:   sb.FeatureIncompat,
		FeatureRoCompat:   sb.FeatureRoCompat,
		MountCount:        sb.MntCount,
		KbytesWritten:     sb.KbytesWritten,
		MkfsTime:          time.Unix(int64(sb.MkfsTime), 0).UTC(),
		WriteTime:         time.Unix(int64(sb.Wtime), 0).UTC(),
	}
}

func metaBgStart(sb *disklayout.SuperBlock) *uint32 {
	if !sb.HasIncompat(disklayout.SbIncompatMetaBG) {
		return nil
	}
	first := sb.FirstMetaBg
	return &first
}

// cString returns the NUL terminated string at the start of b.
func cString(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}
	return string(b)
}

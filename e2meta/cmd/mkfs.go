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

	"github.com/e2meta/e2meta/pkg/blockio"
	"github.com/e2meta/e2meta/pkg/ext2"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
	"github.com/e2meta/e2meta/pkg/log"
	"github.com/google/subcommands"
	"github.com/google/uuid"
)

// Mkfs implements subcommands.Command for the "mkfs" command.
type Mkfs struct {
	blocks         uint64
	blockSize      int
	blocksPerGroup uint
	inodes         uint
	inodeSize      int
	gdtCsum        bool
	metaBG         bool
	reservedGdt    uint
	label          string
	uuid           string
}

// Name implements subcommands.Command.Name.
func (*Mkfs) Name() string {
	return "mkfs"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Mkfs) Synopsis() string {
	return "create an empty filesystem image"
}

// Usage implements subcommands.Command.Usage.
func (*Mkfs) Usage() string {
	return `mkfs [flags] <image> - create an empty filesystem image

The image file is created or grown as needed. Existing contents are
overwritten.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (m *Mkfs) SetFlags(f *flag.FlagSet) {
	f.Uint64Var(&m.blocks, "blocks", 0, "size of the filesystem in blocks, by default the size of the existing image.")
	f.IntVar(&m.blockSize, "fs-block-size", ext2.DefaultBlockSize, "block size in bytes.")
	f.UintVar(&m.blocksPerGroup, "blocks-per-group", 0, "blocks per group, by default the bits of one bitmap block.")
	f.UintVar(&m.inodes, "inodes", 0, "number of inodes, 0 picks one per 8K.")
	f.IntVar(&m.inodeSize, "inode-size", ext2.DefaultInodeSize, "inode record size in bytes.")
	f.BoolVar(&m.gdtCsum, "gdt-csum", false, "enable group descriptor checksums and lazy groups.")
	f.BoolVar(&m.metaBG, "meta-bg", false, "place group descriptors in meta block groups.")
	f.UintVar(&m.reservedGdt, "reserved-gdt", 0, "descriptor blocks reserved for growth.")
	f.StringVar(&m.label, "label", "", "volume label, up to 16 bytes.")
	f.StringVar(&m.uuid, "uuid", "", "filesystem UUID, random by default.")
}

// Execute implements subcommands.Command.Execute.
func (m *Mkfs) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	path := f.Arg(0)

	p, err := m.params(path)
	if err != nil {
		Fatalf("%v", err)
	}
	if err := makeImage(path, p); err != nil {
		Fatalf("creating %q: %v", path, err)
	}
	fmt.Fprintf(os.Stdout, "created %q: %d blocks of %d bytes, UUID %s\n", path, p.BlocksCount, p.BlockSize, uuid.UUID(p.UUID))
	return subcommands.ExitSuccess
}

// params builds the initialization parameters from the flags.
func (m *Mkfs) params(path string) (ext2.InitParams, error) {
	p := ext2.InitParams{
		BlocksCount:       m.blocks,
		BlockSize:         m.blockSize,
		BlocksPerGroup:    uint32(m.blocksPerGroup),
		InodesCount:       uint32(m.inodes),
		InodeSize:         m.inodeSize,
		ReservedGdtBlocks: uint16(m.reservedGdt),
		VolumeName:        m.label,
	}
	if p.BlockSize <= 0 {
		return p, fmt.Errorf("invalid block size %d", p.BlockSize)
	}
	if p.BlocksCount == 0 {
		st, err := os.Stat(path)
		if err != nil {
			return p, fmt.Errorf("--blocks is required unless the image exists: %v", err)
		}
		p.BlocksCount = uint64(st.Size()) / uint64(p.BlockSize)
	}
	if len(m.label) > len(disklayout.SuperBlock{}.VolumeName) {
		return p, fmt.Errorf("label %q is longer than %d bytes", m.label, len(disklayout.SuperBlock{}.VolumeName))
	}

	id := uuid.New()
	if m.uuid != "" {
		var err error
		if id, err = uuid.Parse(m.uuid); err != nil {
			return p, fmt.Errorf("invalid UUID %q: %v", m.uuid, err)
		}
	}
	p.UUID = id

	if m.gdtCsum {
		p.FeatureRoCompat = disklayout.SbRoCompatSparseSuper | disklayout.SbRoCompatGdtCsum
	}
	if m.metaBG {
		p.FeatureIncompat |= disklayout.SbIncompatMetaBG
		if p.FeatureRoCompat == 0 {
			p.FeatureRoCompat = ext2.DefaultRoCompat
		}
	}
	return p, nil
}

// makeImage initializes a filesystem described by p in the file at path,
// with an empty root directory.
func makeImage(path string, p ext2.InitParams) error {
	size := int64(p.BlocksCount) * int64(p.BlockSize)
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	st, err := f.Stat()
	if err == nil && st.Size() < size {
		err = f.Truncate(size)
	}
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}

	ch, err := blockio.OpenFile(path, true)
	if err != nil {
		return err
	}
	fs, err := ext2.Initialize(ch, p)
	if err != nil {
		ch.Close()
		return err
	}
	if err := fs.MakeRootDir(); err != nil {
		ch.Close()
		return err
	}
	log.Infof("created %d groups, %d inodes", fs.GroupCount(), fs.Super.InodesCount)
	return fs.Close()
}

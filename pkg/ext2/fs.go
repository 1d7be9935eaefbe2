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

// Package ext2 implements the metadata engine of ext2 family filesystems:
// inode records, inode scans, allocation bitmaps, directory block lists and
// the durable commit of the superblock and group descriptors.
//
// A Filesystem is exclusively owned by its caller and is not safe for
// concurrent use.
package ext2

import (
	"fmt"
	"time"

	"github.com/e2meta/e2meta/pkg/bitmap"
	"github.com/e2meta/e2meta/pkg/blockio"
	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
)

// Flags are the state bits of a Filesystem.
type Flags uint32

const (
	// FlagRW allows writes.
	FlagRW Flags = 1 << iota

	// FlagChanged records that anything was written since open.
	FlagChanged

	// FlagDirty means the superblock or descriptors must be flushed.
	FlagDirty

	// FlagValid is set by checkers that found the filesystem consistent.
	FlagValid

	// FlagIBDirty means the inode bitmap must be written.
	FlagIBDirty

	// FlagBBDirty means the block bitmap must be written.
	FlagBBDirty

	// FlagMasterSBOnly restricts flushes to the primary superblock and
	// descriptors.
	FlagMasterSBOnly

	// FlagSuperOnly restricts flushes to superblocks, skipping descriptors.
	FlagSuperOnly
)

// Bitmap is a set of block or inode numbers over the inclusive range
// [Start, End].
type Bitmap interface {
	Start() uint64
	End() uint64

	Mark(n uint64) bool
	Unmark(n uint64) bool
	Test(n uint64) bool

	MarkRange(n, count uint64) error
	UnmarkRange(n, count uint64) error
	TestClearRange(n, count uint64) bool

	FindFirstSet(start, end uint64) (uint64, bool)
	FindFirstZero(start, end uint64) (uint64, bool)

	// GetRange and SetRange move num bits starting at n in the on-disk
	// encoding, least significant bit first.
	GetRange(n uint64, num int, out []byte) error
	SetRange(n uint64, num int, in []byte) error
}

var _ Bitmap = (*bitmap.Bitmap)(nil)

// Clock returns the current time for timestamps written to disk.
type Clock func() time.Time

// InodeIOHandler may take over inode record I/O, for example to serve
// inodes from a backing store other than the inode tables. A handler that
// returns handled == false defers to the default logic.
type InodeIOHandler interface {
	ReadInode(fs *Filesystem, ino uint32, buf []byte) (handled bool, err error)
	WriteInode(fs *Filesystem, ino uint32, buf []byte) (handled bool, err error)
}

// Filesystem is an open ext2 family filesystem.
type Filesystem struct {
	// Super is the in-memory superblock. Callers that modify it must call
	// MarkSuperDirty.
	Super disklayout.SuperBlock

	// origSuper is the superblock image last read from or written to the
	// primary location, or nil if unknown.
	origSuper []byte

	ch     blockio.Channel
	flags  Flags
	closed bool

	// accounted is the channel byte count already added to KbytesWritten.
	accounted uint64

	blockSize           int
	groupCount          uint32
	descBlocks          uint64
	inodeBlocksPerGroup uint64
	groupDescs          []disklayout.GroupDesc

	// BlockMap and InodeMap are nil until ReadBitmaps or Initialize.
	BlockMap Bitmap
	InodeMap Bitmap

	// BadBlocks is loaded from the bad blocks inode by the first
	// OpenInodeScan if it is nil.
	BadBlocks *BadBlocksList

	dblist *DBList
	icache *inodeCache
	scan   *InodeScan

	// InodeIO optionally overrides inode record I/O.
	InodeIO InodeIOHandler

	// WriteBitmapsFunc is invoked once per Flush to write the allocation
	// bitmaps. If nil, (*Filesystem).WriteBitmaps is used.
	WriteBitmapsFunc func(fs *Filesystem) error

	// Clock stamps wtime and inode times. If nil, time.Now is used.
	Clock Clock
}

// newFilesystem builds a handle around sb. Descriptors start zeroed.
func newFilesystem(ch blockio.Channel, sb *disklayout.SuperBlock) (*Filesystem, error) {
	if err := sb.Validate(); err != nil {
		if sb.Magic != disklayout.SbMagic {
			return nil, fmt.Errorf("%s: %v: %w", ch.Name(), err, exterr.ErrBadMagic)
		}
		return nil, fmt.Errorf("%s: %v: %w", ch.Name(), err, exterr.ErrCorruptSuperblock)
	}
	fs := &Filesystem{
		Super:               *sb,
		ch:                  ch,
		blockSize:           sb.BlockSize(),
		groupCount:          sb.GroupCount(),
		descBlocks:          sb.DescBlocks(),
		inodeBlocksPerGroup: sb.InodeBlocksPerGroup(),
	}
	fs.groupDescs = make([]disklayout.GroupDesc, fs.groupCount)
	fs.icache = newInodeCache(fs.blockSize, sb.InodeSize())
	return fs, nil
}

// Channel returns the block device under the filesystem.
func (fs *Filesystem) Channel() blockio.Channel { return fs.ch }

// BlockSize returns the block size in bytes.
func (fs *Filesystem) BlockSize() int { return fs.blockSize }

// GroupCount returns the number of block groups.
func (fs *Filesystem) GroupCount() uint32 { return fs.groupCount }

// DescBlocks returns the number of blocks of the group descriptor table.
func (fs *Filesystem) DescBlocks() uint64 { return fs.descBlocks }

// InodeBlocksPerGroup returns the number of inode table blocks in a group.
func (fs *Filesystem) InodeBlocksPerGroup() uint64 { return fs.inodeBlocksPerGroup }

// InodeSize returns the on-disk inode record size.
func (fs *Filesystem) InodeSize() int { return fs.Super.InodeSize() }

// GroupDesc returns the descriptor of group. Callers that modify it must
// call MarkSuperDirty.
func (fs *Filesystem) GroupDesc(group uint32) *disklayout.GroupDesc {
	return &fs.groupDescs[group]
}

// Flags returns the handle state.
func (fs *Filesystem) Flags() Flags { return fs.flags }

// SetFlags sets then clears flag bits.
func (fs *Filesystem) SetFlags(set, clear Flags) {
	fs.flags = (fs.flags | set) &^ clear
}

// MarkSuperDirty schedules the superblock and descriptors for Flush.
func (fs *Filesystem) MarkSuperDirty() {
	fs.flags |= FlagDirty | FlagChanged
}

// MarkBBDirty schedules the block bitmap for writing.
func (fs *Filesystem) MarkBBDirty() {
	fs.flags |= FlagBBDirty | FlagChanged
}

// MarkIBDirty schedules the inode bitmap for writing.
func (fs *Filesystem) MarkIBDirty() {
	fs.flags |= FlagIBDirty | FlagChanged
}

// Now returns the time to stamp on disk.
func (fs *Filesystem) Now() time.Time {
	if fs.Clock != nil {
		return fs.Clock()
	}
	return time.Now()
}

// nowSeconds returns Now as a 32-bit on-disk timestamp.
func (fs *Filesystem) nowSeconds() uint32 {
	return uint32(fs.Now().Unix())
}

// GroupFirstBlock returns the first block of group.
func (fs *Filesystem) GroupFirstBlock(group uint32) uint64 {
	return uint64(fs.Super.FirstDataBlock) + uint64(group)*uint64(fs.Super.BlocksPerGroup)
}

// GroupLastBlock returns the last block of group. The last group may be
// shorter than the others.
func (fs *Filesystem) GroupLastBlock(group uint32) uint64 {
	if group == fs.groupCount-1 {
		return fs.Super.BlocksCount() - 1
	}
	return fs.GroupFirstBlock(group) + uint64(fs.Super.BlocksPerGroup) - 1
}

// GroupBlocks returns the number of blocks in group.
func (fs *Filesystem) GroupBlocks(group uint32) uint64 {
	return fs.GroupLastBlock(group) - fs.GroupFirstBlock(group) + 1
}

// GroupOfBlock returns the group containing blk.
func (fs *Filesystem) GroupOfBlock(blk uint64) uint32 {
	return uint32((blk - uint64(fs.Super.FirstDataBlock)) / uint64(fs.Super.BlocksPerGroup))
}

// GroupOfInode returns the group containing inode ino.
func (fs *Filesystem) GroupOfInode(ino uint32) uint32 {
	return (ino - 1) / fs.Super.InodesPerGroup
}

// checkOpen returns ErrClosed once Close succeeded.
func (fs *Filesystem) checkOpen() error {
	if fs.closed {
		return exterr.ErrClosed
	}
	return nil
}

// checkRW returns ErrReadOnly unless the handle is writable.
func (fs *Filesystem) checkRW() error {
	if err := fs.checkOpen(); err != nil {
		return err
	}
	if fs.flags&FlagRW == 0 {
		return exterr.ErrReadOnly
	}
	return nil
}

// inodeTableInGroup validates the inode table location of group, which must
// be nonzero.
func (fs *Filesystem) inodeTableInGroup(group uint32) error {
	blk := fs.groupDescs[group].InodeTable()
	if blk < uint64(fs.Super.FirstDataBlock) || blk+fs.inodeBlocksPerGroup-1 >= fs.Super.BlocksCount() {
		return fmt.Errorf("group %d inode table at %d: %w", group, blk, exterr.ErrGDescBadInodeTable)
	}
	return nil
}

// NumDirs returns the number of directories, summed over the group
// descriptors and capped at the inode count.
func (fs *Filesystem) NumDirs() uint32 {
	var n uint64
	for i := range fs.groupDescs {
		n += uint64(fs.groupDescs[i].UsedDirsCount())
	}
	if n > uint64(fs.Super.InodesCount) {
		return fs.Super.InodesCount
	}
	return uint32(n)
}

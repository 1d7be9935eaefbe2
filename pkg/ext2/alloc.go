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

package ext2

import (
	"fmt"

	"github.com/e2meta/e2meta/pkg/errors/exterr"
)

// NewBlock returns the first free block at or after goal in bmap, wrapping
// around to the start of the filesystem. A nil bmap means fs.BlockMap. The
// block is not marked.
func (fs *Filesystem) NewBlock(goal uint64, bmap Bitmap) (uint64, error) {
	if bmap == nil {
		bmap = fs.BlockMap
	}
	if bmap == nil {
		return 0, fmt.Errorf("block bitmap not loaded: %w", exterr.ErrBlockAllocFail)
	}
	first := uint64(fs.Super.FirstDataBlock)
	last := fs.Super.BlocksCount() - 1
	if goal < first || goal > last {
		goal = first
	}
	if blk, ok := bmap.FindFirstZero(goal, last); ok {
		return blk, nil
	}
	if goal > first {
		if blk, ok := bmap.FindFirstZero(first, goal-1); ok {
			return blk, nil
		}
	}
	return 0, exterr.ErrBlockAllocFail
}

// NewInode returns the first free non reserved inode in bmap, starting the
// search in the group of the directory dir. A nil bmap means fs.InodeMap.
// The inode is not marked.
func (fs *Filesystem) NewInode(dir uint32, bmap Bitmap) (uint32, error) {
	if bmap == nil {
		bmap = fs.InodeMap
	}
	if bmap == nil {
		return 0, fmt.Errorf("inode bitmap not loaded: %w", exterr.ErrInodeAllocFail)
	}
	firstIno := uint64(fs.Super.FirstInode())
	last := uint64(fs.Super.InodesCount)
	if firstIno > last {
		return 0, exterr.ErrInodeAllocFail
	}
	start := firstIno
	if dir > 0 && dir <= fs.Super.InodesCount {
		start = max(uint64(fs.GroupOfInode(dir))*uint64(fs.Super.InodesPerGroup)+1, firstIno)
	}
	if ino, ok := bmap.FindFirstZero(start, last); ok {
		return uint32(ino), nil
	}
	if start > firstIno {
		if ino, ok := bmap.FindFirstZero(firstIno, start-1); ok {
			return uint32(ino), nil
		}
	}
	return 0, exterr.ErrInodeAllocFail
}

// BlockAllocStats marks blk allocated, or free if inuse is false, in the
// block bitmap and updates the free block counts.
func (fs *Filesystem) BlockAllocStats(blk uint64, inuse bool) error {
	if blk < uint64(fs.Super.FirstDataBlock) || blk >= fs.Super.BlocksCount() {
		return fmt.Errorf("block %d: %w", blk, exterr.ErrBadBlockNum)
	}
	if fs.BlockMap == nil {
		return fmt.Errorf("block bitmap not loaded: %w", exterr.ErrBlockAllocFail)
	}
	group := fs.GroupOfBlock(blk)
	bg := &fs.groupDescs[group]
	if inuse {
		fs.BlockMap.Mark(blk)
		bg.SetFreeBlocksCount(bg.FreeBlocksCount() - 1)
		fs.Super.SetFreeBlocksCount(fs.Super.FreeBlocksCount() - 1)
	} else {
		fs.BlockMap.Unmark(blk)
		bg.SetFreeBlocksCount(bg.FreeBlocksCount() + 1)
		fs.Super.SetFreeBlocksCount(fs.Super.FreeBlocksCount() + 1)
	}
	flags := bg.Flags()
	flags.BlockUninit = false
	bg.SetFlags(flags)
	fs.SetGroupDescCsum(group)
	fs.MarkSuperDirty()
	fs.MarkBBDirty()
	return nil
}

// InodeAllocStats marks ino allocated, or free if inuse is false, in the
// inode bitmap and updates the free inode and directory counts.
func (fs *Filesystem) InodeAllocStats(ino uint32, inuse, isDir bool) error {
	if ino == 0 || ino > fs.Super.InodesCount {
		return fmt.Errorf("inode %d: %w", ino, exterr.ErrBadInodeNum)
	}
	if fs.InodeMap == nil {
		return fmt.Errorf("inode bitmap not loaded: %w", exterr.ErrInodeAllocFail)
	}
	group := fs.GroupOfInode(ino)
	bg := &fs.groupDescs[group]
	if inuse {
		fs.InodeMap.Mark(uint64(ino))
		bg.SetFreeInodesCount(bg.FreeInodesCount() - 1)
		fs.Super.FreeInodesCount--
		if isDir {
			bg.SetUsedDirsCount(bg.UsedDirsCount() + 1)
		}
	} else {
		fs.InodeMap.Unmark(uint64(ino))
		bg.SetFreeInodesCount(bg.FreeInodesCount() + 1)
		fs.Super.FreeInodesCount++
		if isDir {
			bg.SetUsedDirsCount(bg.UsedDirsCount() - 1)
		}
	}
	flags := bg.Flags()
	flags.InodeUninit = false
	bg.SetFlags(flags)
	if fs.Super.HasGroupDescCsum() {
		ipg := fs.Super.InodesPerGroup
		firstUnused := ipg - bg.ItableUnused() + group*ipg + 1
		if ino >= firstUnused {
			bg.SetItableUnused(group*ipg + ipg - ino)
		}
		fs.SetGroupDescCsum(group)
	}
	fs.MarkSuperDirty()
	fs.MarkIBDirty()
	return nil
}

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

	"github.com/e2meta/e2meta/pkg/binary"
	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
)

// Block map layout of the inode Block array.
const (
	numDirectBlocks = 12
	indBlock        = 12
	dindBlock       = 13
	tindBlock       = 14

	// inodeFlagExtents marks an inode whose Block array holds an extent
	// tree instead of a block map.
	inodeFlagExtents = 0x80000
)

// Logical block numbers reported for indirect blocks.
const (
	BlockCountInd  int64 = -1
	BlockCountDind int64 = -2
	BlockCountTind int64 = -3
)

// BlockIterFunc is called for every block of an inode. blockcnt is the
// logical block index of data blocks, or one of the negative BlockCount
// values for indirect blocks. A non-nil error stops the walk and is returned
// by BlockIterate.
type BlockIterFunc func(blk uint64, blockcnt int64) error

// BlockIterate walks the block map of inode ino in logical order. Each
// indirect block is reported before the blocks it maps.
//
// Inodes using extents are not supported and fail with ErrExtentMapped.
func (fs *Filesystem) BlockIterate(ino uint32, fn BlockIterFunc) error {
	var in disklayout.InodeOld
	if err := fs.ReadInode(ino, &in); err != nil {
		return err
	}
	if in.Flags&inodeFlagExtents != 0 {
		return fmt.Errorf("inode %d: %w", ino, exterr.ErrExtentMapped)
	}
	w := blockWalker{
		fs:       fs,
		fn:       fn,
		perBlock: int64(fs.blockSize / 4),
	}
	for i := 0; i < numDirectBlocks; i++ {
		if blk := in.Block[i]; blk != 0 {
			if err := fn(uint64(blk), w.blockcnt); err != nil {
				return err
			}
		}
		w.blockcnt++
	}
	for level, i := range []int{indBlock, dindBlock, tindBlock} {
		if err := w.walk(in.Block[i], level+1); err != nil {
			return err
		}
	}
	return nil
}

// blockWalker tracks the logical block position across indirect blocks.
type blockWalker struct {
	fs       *Filesystem
	fn       BlockIterFunc
	perBlock int64
	blockcnt int64
}

// span returns the number of data blocks mapped by an indirect block of the
// given level.
func (w *blockWalker) span(level int) int64 {
	n := int64(1)
	for i := 0; i < level; i++ {
		n *= w.perBlock
	}
	return n
}

// walk visits the indirect block blk of the given level, 1 for single
// indirect, and everything it maps.
func (w *blockWalker) walk(blk uint32, level int) error {
	if blk == 0 {
		w.blockcnt += w.span(level)
		return nil
	}
	if uint64(blk) < uint64(w.fs.Super.FirstDataBlock) || uint64(blk) >= w.fs.Super.BlocksCount() {
		return fmt.Errorf("indirect block %d: %w", blk, exterr.ErrBadBlockNum)
	}
	if err := w.fn(uint64(blk), -int64(level)); err != nil {
		return err
	}
	buf := make([]byte, w.fs.blockSize)
	if err := w.fs.ch.ReadBlocks(uint64(blk), 1, buf); err != nil {
		return fmt.Errorf("reading indirect block %d: %w", blk, err)
	}
	for off := 0; off < len(buf); off += 4 {
		child := binary.LittleEndian.Uint32(buf[off:])
		if level > 1 {
			if err := w.walk(child, level-1); err != nil {
				return err
			}
			continue
		}
		if child != 0 {
			if err := w.fn(uint64(child), w.blockcnt); err != nil {
				return err
			}
		}
		w.blockcnt++
	}
	return nil
}

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

	diskbitmap "github.com/diskfs/go-diskfs/util/bitmap"

	"github.com/e2meta/e2meta/pkg/bitmap"
	"github.com/e2meta/e2meta/pkg/log"
)

// newBitmaps allocates empty block and inode bitmaps sized for fs.
func (fs *Filesystem) newBitmaps() (*bitmap.Bitmap, *bitmap.Bitmap, error) {
	first := uint64(fs.Super.FirstDataBlock)
	groups := uint64(fs.groupCount)
	blockMap, err := bitmap.New(first, fs.Super.BlocksCount()-1, first+groups*uint64(fs.Super.BlocksPerGroup)-1)
	if err != nil {
		return nil, nil, fmt.Errorf("block bitmap: %w", err)
	}
	inodeMap, err := bitmap.New(1, uint64(fs.Super.InodesCount), groups*uint64(fs.Super.InodesPerGroup))
	if err != nil {
		return nil, nil, fmt.Errorf("inode bitmap: %w", err)
	}
	return blockMap, inodeMap, nil
}

// markGroupMetadata marks the blocks of group that hold filesystem
// metadata: superblock and descriptor copies, and the group's own bitmaps
// and inode table when they live inside the group.
func (fs *Filesystem) markGroupMetadata(group uint32, bmap Bitmap) {
	fs.reserveSuperAndBgd(group, bmap)
	first, last := fs.GroupFirstBlock(group), fs.GroupLastBlock(group)
	in := func(blk uint64) bool { return blk >= first && blk <= last }

	bg := &fs.groupDescs[group]
	if blk := bg.BlockBitmap(); in(blk) {
		bmap.Mark(blk)
	}
	if blk := bg.InodeBitmap(); in(blk) {
		bmap.Mark(blk)
	}
	if blk := bg.InodeTable(); blk != 0 {
		for i := uint64(0); i < fs.inodeBlocksPerGroup; i++ {
			if in(blk + i) {
				bmap.Mark(blk + i)
			}
		}
	}
}

// ReadBitmaps loads the block and inode bitmaps. Groups flagged
// BLOCK_UNINIT get their metadata blocks marked instead of being read, and
// groups flagged INODE_UNINIT read as all free.
func (fs *Filesystem) ReadBitmaps() error {
	if err := fs.checkOpen(); err != nil {
		return err
	}
	blockMap, inodeMap, err := fs.newBitmaps()
	if err != nil {
		return err
	}
	csum := fs.Super.HasGroupDescCsum()
	bpg, ipg := fs.Super.BlocksPerGroup, fs.Super.InodesPerGroup
	buf := make([]byte, fs.blockSize)
	for g := uint32(0); g < fs.groupCount; g++ {
		bg := &fs.groupDescs[g]
		flags := bg.Flags()

		if csum && flags.BlockUninit {
			fs.markGroupMetadata(g, blockMap)
		} else if blk := bg.BlockBitmap(); blk != 0 {
			if err := fs.ch.ReadBlocks(blk, 1, buf); err != nil {
				return fmt.Errorf("reading block bitmap of group %d at block %d: %w", g, blk, err)
			}
			if err := blockMap.SetRange(fs.GroupFirstBlock(g), int(bpg), buf); err != nil {
				return err
			}
		}

		if csum && flags.InodeUninit {
			continue
		}
		if blk := bg.InodeBitmap(); blk != 0 {
			if err := fs.ch.ReadBlocks(blk, 1, buf); err != nil {
				return fmt.Errorf("reading inode bitmap of group %d at block %d: %w", g, blk, err)
			}
			if err := inodeMap.SetRange(uint64(g)*uint64(ipg)+1, int(ipg), buf); err != nil {
				return err
			}
		}
	}
	fs.BlockMap, fs.InodeMap = blockMap, inodeMap
	fs.flags &^= FlagBBDirty | FlagIBDirty
	return nil
}

// bitmapImage encodes num bits of bmap starting at n as one on-disk bitmap
// block. Only the first valid bits are taken from bmap; the rest of the
// block is padded with ones.
func (fs *Filesystem) bitmapImage(bmap Bitmap, n uint64, num, valid int) ([]byte, error) {
	raw := make([]byte, fs.blockSize)
	if err := bmap.GetRange(n, num, raw); err != nil {
		return nil, err
	}
	bits := diskbitmap.NewBits(fs.blockSize * 8)
	for j := 0; j < fs.blockSize*8; j++ {
		if j < valid && raw[j/8]&(1<<(j%8)) == 0 {
			continue
		}
		if err := bits.Set(j); err != nil {
			return nil, err
		}
	}
	return bits.ToBytes(), nil
}

// WriteBitmaps writes the block and inode bitmaps if they are loaded and
// dirty. Groups flagged uninit are skipped.
func (fs *Filesystem) WriteBitmaps() error {
	doBlock := fs.BlockMap != nil && fs.flags&FlagBBDirty != 0
	doInode := fs.InodeMap != nil && fs.flags&FlagIBDirty != 0
	if !doBlock && !doInode {
		return nil
	}
	if err := fs.checkRW(); err != nil {
		return err
	}
	csum := fs.Super.HasGroupDescCsum()
	bpg, ipg := fs.Super.BlocksPerGroup, fs.Super.InodesPerGroup

	for g := uint32(0); g < fs.groupCount; g++ {
		bg := &fs.groupDescs[g]
		flags := bg.Flags()

		if blk := bg.BlockBitmap(); doBlock && blk != 0 && !(csum && flags.BlockUninit) {
			img, err := fs.bitmapImage(fs.BlockMap, fs.GroupFirstBlock(g), int(bpg), int(fs.GroupBlocks(g)))
			if err != nil {
				return err
			}
			if err := fs.ch.WriteBlocks(blk, 1, img); err != nil {
				return fmt.Errorf("writing block bitmap of group %d at block %d: %w", g, blk, err)
			}
		}

		if blk := bg.InodeBitmap(); doInode && blk != 0 && !(csum && flags.InodeUninit) {
			img, err := fs.bitmapImage(fs.InodeMap, uint64(g)*uint64(ipg)+1, int(ipg), int(ipg))
			if err != nil {
				return err
			}
			if err := fs.ch.WriteBlocks(blk, 1, img); err != nil {
				return fmt.Errorf("writing inode bitmap of group %d at block %d: %w", g, blk, err)
			}
		}
	}
	if doBlock {
		fs.flags &^= FlagBBDirty
	}
	if doInode {
		fs.flags &^= FlagIBDirty
	}
	log.Debugf("%s: wrote bitmaps (block: %t, inode: %t)", fs.ch.Name(), doBlock, doInode)
	return nil
}

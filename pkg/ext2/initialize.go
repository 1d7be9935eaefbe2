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
	"math/bits"

	"github.com/e2meta/e2meta/pkg/blockio"
	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
	"github.com/e2meta/e2meta/pkg/log"
)

// Defaults applied by Initialize.
const (
	DefaultBlockSize     = 1024
	DefaultInodeSize     = 256
	DefaultBytesPerInode = 8192
	DefaultRoCompat      = disklayout.SbRoCompatSparseSuper
)

// InitParams describe a new filesystem. Zero fields take defaults.
type InitParams struct {
	// BlocksCount is the size of the filesystem in blocks. It is required.
	BlocksCount uint64

	// BlockSize defaults to DefaultBlockSize.
	BlockSize int

	// BlocksPerGroup defaults to the bits of one bitmap block.
	BlocksPerGroup uint32

	// InodesCount defaults to one inode per DefaultBytesPerInode bytes. It
	// is rounded up to fill whole inode table blocks in every group.
	InodesCount uint32

	// InodeSize defaults to DefaultInodeSize.
	InodeSize int

	// Features. If all three are zero, FeatureRoCompat defaults to
	// DefaultRoCompat.
	FeatureCompat   uint32
	FeatureIncompat uint32
	FeatureRoCompat uint32

	// DescSize is the descriptor size with the 64bit feature, by default
	// 64 bytes.
	DescSize int

	// FirstMetaBg is the first meta block group with the meta_bg feature.
	FirstMetaBg uint32

	// ReservedGdtBlocks are kept free after each descriptor table copy.
	ReservedGdtBlocks uint16

	UUID       [16]byte
	VolumeName string

	// Clock stamps creation times. If nil, time.Now is used.
	Clock Clock
}

// initSuper fills in a superblock from p. Geometry that depends on the
// group count is completed by Initialize.
func initSuper(p *InitParams, now uint32) (*disklayout.SuperBlock, error) {
	bs := p.BlockSize
	if bs == 0 {
		bs = DefaultBlockSize
	}
	if bs < disklayout.MinBlockSize || bs&(bs-1) != 0 || bs > disklayout.MinBlockSize<<disklayout.MaxBlockLogSize {
		return nil, fmt.Errorf("block size %d: %w", bs, exterr.ErrCorruptSuperblock)
	}
	isz := p.InodeSize
	if isz == 0 {
		isz = DefaultInodeSize
	}
	if isz < disklayout.OldInodeSize || isz > bs || isz&(isz-1) != 0 {
		return nil, fmt.Errorf("inode size %d: %w", isz, exterr.ErrCorruptSuperblock)
	}

	sb := &disklayout.SuperBlock{
		Magic:           disklayout.SbMagic,
		RevLevel:        disklayout.DynamicRev,
		LogBlockSize:    uint32(bits.TrailingZeros(uint(bs / disklayout.MinBlockSize))),
		FirstIno:        disklayout.GoodOldFirstIno,
		InodeSizeRaw:    uint16(isz),
		FeatureCompat:   p.FeatureCompat,
		FeatureIncompat: p.FeatureIncompat,
		FeatureRoCompat: p.FeatureRoCompat,
		State:           disklayout.StateValid,
		Errors:          1,
		MaxMntCount:     -1,
		Wtime:           now,
		LastCheck:       now,
		MkfsTime:        now,
		KbytesWritten:   1,
		UUID:            p.UUID,
		FirstMetaBg:     p.FirstMetaBg,

		ReservedGdtBlocks: p.ReservedGdtBlocks,
	}
	sb.LogClusterSize = sb.LogBlockSize
	if p.FeatureCompat == 0 && p.FeatureIncompat == 0 && p.FeatureRoCompat == 0 {
		sb.FeatureRoCompat = DefaultRoCompat
	}
	copy(sb.VolumeName[:], p.VolumeName)
	if bs == disklayout.MinBlockSize {
		sb.FirstDataBlock = 1
	}
	if sb.Has64Bit() {
		ds := p.DescSize
		if ds == 0 {
			ds = disklayout.GroupDesc64Size
		}
		sb.DescSizeRaw = uint16(ds)
	}
	if isz > disklayout.OldInodeSize {
		sb.MinExtraIsize = disklayout.ExtraIsize
		sb.WantExtraIsize = disklayout.ExtraIsize
	}

	sb.BlocksPerGroup = p.BlocksPerGroup
	if sb.BlocksPerGroup == 0 || sb.BlocksPerGroup > uint32(bs*8) {
		sb.BlocksPerGroup = uint32(bs * 8)
	}
	sb.ClustersPerGroup = sb.BlocksPerGroup
	if p.BlocksCount <= uint64(sb.FirstDataBlock) {
		return nil, fmt.Errorf("%d blocks: %w", p.BlocksCount, exterr.ErrCorruptSuperblock)
	}

	// A short last group that cannot hold its own metadata, plus some data,
	// is cut off.
	blocks := p.BlocksCount
	for {
		sb.SetBlocksCount(blocks)
		groups := uint64(sb.GroupCount())
		inodes := uint64(p.InodesCount)
		if inodes == 0 {
			inodes = max(blocks*uint64(bs)/DefaultBytesPerInode, 16)
		}
		ipg := max((inodes+groups-1)/groups, 8)
		ipb := uint64(bs / isz)
		ipg = (ipg + ipb - 1) / ipb * ipb
		ipg &^= 7
		ipg = min(ipg, uint64(bs*8))
		sb.InodesPerGroup = uint32(ipg)
		sb.InodesCount = uint32(ipg * groups)

		overhead := 4 + sb.InodeBlocksPerGroup() + sb.DescBlocks() + 2*uint64(sb.ReservedGdtBlocks)
		rem := (blocks - uint64(sb.FirstDataBlock)) % uint64(sb.BlocksPerGroup)
		if rem == 0 || rem >= overhead+50 {
			break
		}
		if groups == 1 {
			if rem < overhead {
				return nil, fmt.Errorf("%d blocks too small for the filesystem metadata: %w", blocks, exterr.ErrCorruptSuperblock)
			}
			break
		}
		blocks -= rem
	}
	sb.FreeInodesCount = sb.InodesCount
	return sb, nil
}

// reserveSuperAndBgd marks the superblock and descriptor table copies held
// by group in bmap and returns their number of blocks.
func (fs *Filesystem) reserveSuperAndBgd(group uint32, bmap Bitmap) uint64 {
	l := fs.GroupLayout(group)
	if l.HasSuper {
		bmap.Mark(l.SuperBlk)
	}
	if l.OldDescBlk != 0 {
		num := fs.descBlocks + uint64(fs.Super.ReservedGdtBlocks)
		if fs.Super.HasIncompat(disklayout.SbIncompatMetaBG) {
			num = uint64(fs.Super.FirstMetaBg)
		}
		num = min(num, fs.Super.BlocksCount()-l.OldDescBlk)
		for i := uint64(0); i < num; i++ {
			bmap.Mark(l.OldDescBlk + i)
		}
	}
	if l.NewDescBlk != 0 {
		bmap.Mark(l.NewDescBlk)
	}
	return l.UsedBlocks
}

// allocateGroupTables places the bitmaps and inode table of group in the
// first free blocks of the group.
func (fs *Filesystem) allocateGroupTables(group uint32) error {
	first, last := fs.GroupFirstBlock(group), fs.GroupLastBlock(group)
	bg := &fs.groupDescs[group]

	bb, ok := fs.BlockMap.FindFirstZero(first, last)
	if !ok {
		return fmt.Errorf("group %d block bitmap: %w", group, exterr.ErrBlockAllocFail)
	}
	fs.BlockMap.Mark(bb)
	bg.SetBlockBitmap(bb)

	ib, ok := fs.BlockMap.FindFirstZero(bb, last)
	if !ok {
		return fmt.Errorf("group %d inode bitmap: %w", group, exterr.ErrBlockAllocFail)
	}
	fs.BlockMap.Mark(ib)
	bg.SetInodeBitmap(ib)

	itb := fs.inodeBlocksPerGroup
	for pos := ib; ; {
		blk, ok := fs.BlockMap.FindFirstZero(pos, last)
		if !ok || blk+itb-1 > last {
			return fmt.Errorf("group %d inode table: %w", group, exterr.ErrBlockAllocFail)
		}
		if fs.BlockMap.TestClearRange(blk, itb) {
			if err := fs.BlockMap.MarkRange(blk, itb); err != nil {
				return err
			}
			bg.SetInodeTable(blk)
			return nil
		}
		pos = blk + 1
	}
}

// Initialize lays out a new filesystem on ch. The returned handle is
// writable and dirty; nothing reaches ch until Flush or Close, except the
// zeroed inode tables.
func Initialize(ch blockio.Channel, p InitParams) (*Filesystem, error) {
	clock := p.Clock
	fs := &Filesystem{Clock: clock}
	sb, err := initSuper(&p, fs.nowSeconds())
	if err != nil {
		return nil, err
	}
	fs, err = newFilesystem(ch, sb)
	if err != nil {
		return nil, err
	}
	fs.Clock = clock
	fs.flags = FlagRW
	if err := ch.SetBlockSize(fs.blockSize); err != nil {
		return nil, err
	}

	blockMap, inodeMap, err := fs.newBitmaps()
	if err != nil {
		return nil, err
	}
	fs.BlockMap, fs.InodeMap = blockMap, inodeMap
	fs.BadBlocks = NewBadBlocksList()

	csum := fs.Super.HasGroupDescCsum()
	var freeBlocks uint64
	for g := uint32(0); g < fs.groupCount; g++ {
		fs.reserveSuperAndBgd(g, fs.BlockMap)
		if err := fs.allocateGroupTables(g); err != nil {
			return nil, err
		}
		bg := &fs.groupDescs[g]
		var used uint64
		for blk := fs.GroupFirstBlock(g); blk <= fs.GroupLastBlock(g); blk++ {
			if fs.BlockMap.Test(blk) {
				used++
			}
		}
		free := fs.GroupBlocks(g) - used
		freeBlocks += free
		bg.SetFreeBlocksCount(uint32(free))
		bg.SetFreeInodesCount(fs.Super.InodesPerGroup)
		if csum {
			bg.SetFlags(disklayout.BGFlags{InodeUninit: true, BlockUninit: g != fs.groupCount-1})
			bg.SetItableUnused(fs.Super.InodesPerGroup)
		}
	}
	fs.Super.SetFreeBlocksCount(freeBlocks)

	for ino := uint32(1); ino < fs.Super.FirstInode(); ino++ {
		if ino == disklayout.RootIno {
			continue
		}
		if err := fs.InodeAllocStats(ino, true, false); err != nil {
			return nil, err
		}
	}

	if err := fs.zeroInodeTables(); err != nil {
		return nil, err
	}
	for g := uint32(0); g < fs.groupCount; g++ {
		fs.SetGroupDescCsum(g)
	}
	fs.flags |= FlagDirty | FlagChanged | FlagBBDirty | FlagIBDirty
	log.Debugf("%s: initialized %d blocks in %d groups, %d inodes per group",
		ch.Name(), fs.Super.BlocksCount(), fs.groupCount, fs.Super.InodesPerGroup)
	return fs, nil
}

// zeroInodeTables clears the inode table of every group that is not lazily
// initialized.
func (fs *Filesystem) zeroInodeTables() error {
	zero := make([]byte, fs.inodeBlocksPerGroup*uint64(fs.blockSize))
	csum := fs.Super.HasGroupDescCsum()
	for g := uint32(0); g < fs.groupCount; g++ {
		bg := &fs.groupDescs[g]
		flags := bg.Flags()
		if csum && flags.InodeUninit {
			continue
		}
		if err := fs.ch.WriteBlocks(bg.InodeTable(), int(fs.inodeBlocksPerGroup), zero); err != nil {
			return fmt.Errorf("zeroing inode table of group %d: %w", g, err)
		}
		if csum {
			flags.InodeZeroed = true
			bg.SetFlags(flags)
		}
	}
	fs.icache.flush()
	return nil
}

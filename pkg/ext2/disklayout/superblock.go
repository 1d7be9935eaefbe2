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

package disklayout

import (
	"fmt"
)

const (
	// SbOffset is the absolute offset at which the superblock is placed.
	SbOffset = 1024

	// SbSize is the size of the on-disk superblock.
	SbSize = 1024

	// SbMagic is the magic number the superblock must carry.
	SbMagic = 0xef53

	// MinBlockSize is the smallest block size, 1024 << 0.
	MinBlockSize = 1024

	// MaxBlockLogSize is the largest supported s_log_block_size, for 64KiB
	// blocks.
	MaxBlockLogSize = 6
)

// Revision levels.
const (
	GoodOldRev = 0
	DynamicRev = 1
)

const (
	// GoodOldInodeSize is the inode record size of revision 0 filesystems.
	GoodOldInodeSize = 128

	// GoodOldFirstIno is the first non reserved inode of revision 0
	// filesystems.
	GoodOldFirstIno = 11
)

// Reserved inode numbers.
const (
	BadBlocksIno = 1
	RootIno      = 2
	ResizeIno    = 7
	JournalIno   = 8
)

// Filesystem states, s_state.
const (
	StateValid        = 0x0001
	StateError        = 0x0002
	StateOrphanActive = 0x0004
)

// Compatible features.
const (
	SbCompatDirPrealloc  = 0x0001
	SbCompatHasJournal   = 0x0004
	SbCompatExtAttr      = 0x0008
	SbCompatResizeInode  = 0x0010
	SbCompatDirIndex     = 0x0020
	SbCompatSparseSuper2 = 0x0200
)

// Read-only compatible features.
const (
	SbRoCompatSparseSuper  = 0x0001
	SbRoCompatLargeFile    = 0x0002
	SbRoCompatHugeFile     = 0x0008
	SbRoCompatGdtCsum      = 0x0010
	SbRoCompatDirNlink     = 0x0020
	SbRoCompatExtraIsize   = 0x0040
	SbRoCompatMetadataCsum = 0x0400
)

// Incompatible features.
const (
	SbIncompatCompression = 0x0001
	SbIncompatFileType    = 0x0002
	SbIncompatRecover     = 0x0004
	SbIncompatJournalDev  = 0x0008
	SbIncompatMetaBG      = 0x0010
	SbIncompatExtents     = 0x0040
	SbIncompat64Bit       = 0x0080
	SbIncompatFlexBG      = 0x0200
)

const (
	// SbIncompatSupported are the incompatible features this library can
	// handle. Metadata is never interpreted past the inode record, so data
	// layout features such as extents are fine.
	SbIncompatSupported = SbIncompatFileType | SbIncompatRecover | SbIncompatJournalDev |
		SbIncompatMetaBG | SbIncompatExtents | SbIncompat64Bit | SbIncompatFlexBG

	// SbRoCompatSupported are the read-only compatible features that may be
	// written to.
	SbRoCompatSupported = SbRoCompatSparseSuper | SbRoCompatLargeFile | SbRoCompatHugeFile |
		SbRoCompatGdtCsum | SbRoCompatDirNlink | SbRoCompatExtraIsize
)

// SuperBlock is the ext4_super_block struct of fs/ext4/ext4.h. It is exactly
// 1024 bytes and always lives at byte offset 1024 of the device, with backup
// copies at the start of some block groups.
type SuperBlock struct {
	InodesCount       uint32
	BlocksCountLo     uint32
	RBlocksCountLo    uint32
	FreeBlocksCountLo uint32
	FreeInodesCount   uint32
	FirstDataBlock    uint32
	LogBlockSize      uint32
	LogClusterSize    uint32
	BlocksPerGroup    uint32
	ClustersPerGroup  uint32
	InodesPerGroup    uint32
	Mtime             uint32
	Wtime             uint32
	MntCount          uint16
	MaxMntCount       int16
	Magic             uint16
	State             uint16
	Errors            uint16
	MinorRevLevel     uint16
	LastCheck         uint32
	CheckInterval     uint32
	CreatorOS         uint32
	RevLevel          uint32
	DefResUID         uint16
	DefResGID         uint16

	// Dynamic revision fields.
	FirstIno          uint32
	InodeSizeRaw      uint16
	BlockGroupNr      uint16
	FeatureCompat     uint32
	FeatureIncompat   uint32
	FeatureRoCompat   uint32
	UUID              [16]byte
	VolumeName        [16]byte
	LastMounted       [64]byte
	AlgorithmUsageBmp uint32
	PreallocBlocks    uint8
	PreallocDirBlocks uint8
	ReservedGdtBlocks uint16
	JournalUUID       [16]byte
	JournalInum       uint32
	JournalDev        uint32
	LastOrphan        uint32
	HashSeed          [4]uint32
	DefHashVersion    uint8
	JnlBackupType     uint8
	DescSizeRaw       uint16
	DefaultMountOpts  uint32
	FirstMetaBg       uint32
	MkfsTime          uint32
	JnlBlocks         [17]uint32

	// 64-bit fields.
	BlocksCountHi     uint32
	RBlocksCountHi    uint32
	FreeBlocksCountHi uint32
	MinExtraIsize     uint16
	WantExtraIsize    uint16
	Flags             uint32
	RaidStride        uint16
	MmpInterval       uint16
	MmpBlock          uint64
	RaidStripeWidth   uint32
	LogGroupsPerFlex  uint8
	ChecksumType      uint8
	ReservedPad       uint16
	KbytesWritten     uint64
	SnapshotInum      uint32
	SnapshotID        uint32
	SnapshotRBlocks   uint64
	SnapshotList      uint32
	ErrorCount        uint32
	FirstErrorTime    uint32
	FirstErrorIno     uint32
	FirstErrorBlock   uint64
	FirstErrorFunc    [32]byte
	FirstErrorLine    uint32
	LastErrorTime     uint32
	LastErrorIno      uint32
	LastErrorLine     uint32
	LastErrorBlock    uint64
	LastErrorFunc     [32]byte
	MountOpts         [64]byte
	UsrQuotaInum      uint32
	GrpQuotaInum      uint32
	OverheadBlocks    uint32
	BackupBgs         [2]uint32
	EncryptAlgos      [4]uint8
	EncryptPwSalt     [16]byte
	LpfIno            uint32
	PrjQuotaInum      uint32
	ChecksumSeed      uint32
	WtimeHi           uint8
	MtimeHi           uint8
	MkfsTimeHi        uint8
	LastCheckHi       uint8
	FirstErrorTimeHi  uint8
	LastErrorTimeHi   uint8
	ErrorTimePad      [2]uint8
	Encoding          uint16
	EncodingFlags     uint16
	OrphanFileInum    uint32
	Reserved          [94]uint32
	Checksum          uint32
}

// Validate checks the fields every other computation depends on.
func (sb *SuperBlock) Validate() error {
	if sb.Magic != SbMagic {
		return fmt.Errorf("bad magic %#x", sb.Magic)
	}
	if sb.LogBlockSize > MaxBlockLogSize {
		return fmt.Errorf("block size log %d out of range", sb.LogBlockSize)
	}
	if sb.BlocksPerGroup == 0 || sb.InodesPerGroup == 0 || sb.InodesCount == 0 {
		return fmt.Errorf("zero group geometry: blocks_per_group=%d inodes_per_group=%d inodes_count=%d",
			sb.BlocksPerGroup, sb.InodesPerGroup, sb.InodesCount)
	}
	if sb.BlocksPerGroup > uint32(8*sb.BlockSize()) {
		return fmt.Errorf("%d blocks per group do not fit one bitmap block", sb.BlocksPerGroup)
	}
	if sb.InodesPerGroup > uint32(8*sb.BlockSize()) {
		return fmt.Errorf("%d inodes per group do not fit one bitmap block", sb.InodesPerGroup)
	}
	isz := sb.InodeSize()
	if isz < GoodOldInodeSize || int(isz) > sb.BlockSize() || isz&(isz-1) != 0 {
		return fmt.Errorf("invalid inode size %d", isz)
	}
	if uint64(sb.FirstDataBlock) >= sb.BlocksCount() {
		return fmt.Errorf("first data block %d beyond %d blocks", sb.FirstDataBlock, sb.BlocksCount())
	}
	if sb.Has64Bit() {
		ds := sb.DescSize()
		if ds < GroupDesc64Size || ds > 1024 || ds&(ds-1) != 0 {
			return fmt.Errorf("invalid group descriptor size %d", ds)
		}
	}
	groups := sb.GroupCount()
	if uint64(sb.InodesCount) > uint64(groups)*uint64(sb.InodesPerGroup) {
		return fmt.Errorf("%d inodes exceed %d groups of %d", sb.InodesCount, groups, sb.InodesPerGroup)
	}
	return nil
}

// BlockSize returns the block size in bytes.
func (sb *SuperBlock) BlockSize() int {
	return MinBlockSize << sb.LogBlockSize
}

// BlocksCount returns the total number of blocks.
func (sb *SuperBlock) BlocksCount() uint64 {
	if sb.Has64Bit() {
		return uint64(sb.BlocksCountHi)<<32 | uint64(sb.BlocksCountLo)
	}
	return uint64(sb.BlocksCountLo)
}

// SetBlocksCount sets the total number of blocks.
func (sb *SuperBlock) SetBlocksCount(n uint64) {
	sb.BlocksCountLo = uint32(n)
	if sb.Has64Bit() {
		sb.BlocksCountHi = uint32(n >> 32)
	}
}

// RBlocksCount returns the number of blocks reserved for the superuser.
func (sb *SuperBlock) RBlocksCount() uint64 {
	if sb.Has64Bit() {
		return uint64(sb.RBlocksCountHi)<<32 | uint64(sb.RBlocksCountLo)
	}
	return uint64(sb.RBlocksCountLo)
}

// SetRBlocksCount sets the number of reserved blocks.
func (sb *SuperBlock) SetRBlocksCount(n uint64) {
	sb.RBlocksCountLo = uint32(n)
	if sb.Has64Bit() {
		sb.RBlocksCountHi = uint32(n >> 32)
	}
}

// FreeBlocksCount returns the number of free blocks.
func (sb *SuperBlock) FreeBlocksCount() uint64 {
	if sb.Has64Bit() {
		return uint64(sb.FreeBlocksCountHi)<<32 | uint64(sb.FreeBlocksCountLo)
	}
	return uint64(sb.FreeBlocksCountLo)
}

// SetFreeBlocksCount sets the number of free blocks.
func (sb *SuperBlock) SetFreeBlocksCount(n uint64) {
	sb.FreeBlocksCountLo = uint32(n)
	if sb.Has64Bit() {
		sb.FreeBlocksCountHi = uint32(n >> 32)
	}
}

// InodeSize returns the on-disk inode record size.
func (sb *SuperBlock) InodeSize() int {
	if sb.RevLevel == GoodOldRev {
		return GoodOldInodeSize
	}
	return int(sb.InodeSizeRaw)
}

// FirstInode returns the first non reserved inode.
func (sb *SuperBlock) FirstInode() uint32 {
	if sb.RevLevel == GoodOldRev {
		return GoodOldFirstIno
	}
	return sb.FirstIno
}

// DescSize returns the size of a group descriptor.
func (sb *SuperBlock) DescSize() int {
	if sb.Has64Bit() {
		return int(sb.DescSizeRaw)
	}
	return GroupDesc32Size
}

// DescPerBlock returns the number of group descriptors in a block.
func (sb *SuperBlock) DescPerBlock() int {
	return sb.BlockSize() / sb.DescSize()
}

// GroupCount returns the number of block groups.
func (sb *SuperBlock) GroupCount() uint32 {
	data := sb.BlocksCount() - uint64(sb.FirstDataBlock)
	return uint32((data + uint64(sb.BlocksPerGroup) - 1) / uint64(sb.BlocksPerGroup))
}

// DescBlocks returns the number of blocks holding the group descriptor
// table.
func (sb *SuperBlock) DescBlocks() uint64 {
	per := uint64(sb.DescPerBlock())
	return (uint64(sb.GroupCount()) + per - 1) / per
}

// InodeBlocksPerGroup returns the number of inode table blocks per group.
func (sb *SuperBlock) InodeBlocksPerGroup() uint64 {
	bs := uint64(sb.BlockSize())
	return (uint64(sb.InodesPerGroup)*uint64(sb.InodeSize()) + bs - 1) / bs
}

// HasCompat reports whether all of the compatible features f are set.
func (sb *SuperBlock) HasCompat(f uint32) bool { return sb.FeatureCompat&f == f }

// HasRoCompat reports whether all of the read-only compatible features f are
// set.
func (sb *SuperBlock) HasRoCompat(f uint32) bool { return sb.FeatureRoCompat&f == f }

// HasIncompat reports whether all of the incompatible features f are set.
func (sb *SuperBlock) HasIncompat(f uint32) bool { return sb.FeatureIncompat&f == f }

// Has64Bit reports whether the 64bit feature is set.
func (sb *SuperBlock) Has64Bit() bool { return sb.HasIncompat(SbIncompat64Bit) }

// HasGroupDescCsum reports whether group descriptors are checksummed and
// carry the uninit flags.
func (sb *SuperBlock) HasGroupDescCsum() bool { return sb.HasRoCompat(SbRoCompatGdtCsum) }

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

const (
	// GroupDesc32Size is the descriptor size without the 64bit feature.
	GroupDesc32Size = 32

	// GroupDesc64Size is the smallest descriptor size with the 64bit feature.
	GroupDesc64Size = 64
)

// GroupDesc is the ext4_group_desc struct of fs/ext4/ext4.h. Filesystems
// without the 64bit feature only store the first 32 bytes, through Checksum;
// the high halves then read as zero.
type GroupDesc struct {
	BlockBitmapLo     uint32
	InodeBitmapLo     uint32
	InodeTableLo      uint32
	FreeBlocksCountLo uint16
	FreeInodesCountLo uint16
	UsedDirsCountLo   uint16
	FlagsRaw          uint16
	ExcludeBitmapLo   uint32
	BlockBitmapCsumLo uint16
	InodeBitmapCsumLo uint16
	ItableUnusedLo    uint16
	Checksum          uint16

	// 64-bit fields.
	BlockBitmapHi     uint32
	InodeBitmapHi     uint32
	InodeTableHi      uint32
	FreeBlocksCountHi uint16
	FreeInodesCountHi uint16
	UsedDirsCountHi   uint16
	ItableUnusedHi    uint16
	ExcludeBitmapHi   uint32
	BlockBitmapCsumHi uint16
	InodeBitmapCsumHi uint16
	Reserved          uint32
}

// ChecksumOffset is the byte offset of Checksum within a descriptor.
const ChecksumOffset = 30

// BGFlags represents all the different combinations of block group flags.
type BGFlags struct {
	InodeUninit bool
	BlockUninit bool
	InodeZeroed bool
}

// The following are valid block group flags.
const (
	BgInodeUninit uint16 = 0x1
	BgBlockUninit uint16 = 0x2
	BgInodeZeroed uint16 = 0x4
)

// ToInt converts a BGFlags struct back to its 16-bit representation.
func (f BGFlags) ToInt() uint16 {
	var res uint16

	if f.InodeUninit {
		res |= BgInodeUninit
	}
	if f.BlockUninit {
		res |= BgBlockUninit
	}
	if f.InodeZeroed {
		res |= BgInodeZeroed
	}

	return res
}

// BGFlagsFromInt converts the 16-bit flag representation to a BGFlags struct.
func BGFlagsFromInt(flags uint16) BGFlags {
	return BGFlags{
		InodeUninit: flags&BgInodeUninit > 0,
		BlockUninit: flags&BgBlockUninit > 0,
		InodeZeroed: flags&BgInodeZeroed > 0,
	}
}

// Flags returns the group's flags.
func (bg *GroupDesc) Flags() BGFlags { return BGFlagsFromInt(bg.FlagsRaw) }

// SetFlags replaces the group's flags.
func (bg *GroupDesc) SetFlags(f BGFlags) { bg.FlagsRaw = f.ToInt() }

// BlockBitmap returns the block number of the block bitmap.
func (bg *GroupDesc) BlockBitmap() uint64 {
	return uint64(bg.BlockBitmapHi)<<32 | uint64(bg.BlockBitmapLo)
}

// SetBlockBitmap sets the block number of the block bitmap.
func (bg *GroupDesc) SetBlockBitmap(blk uint64) {
	bg.BlockBitmapLo, bg.BlockBitmapHi = uint32(blk), uint32(blk>>32)
}

// InodeBitmap returns the block number of the inode bitmap.
func (bg *GroupDesc) InodeBitmap() uint64 {
	return uint64(bg.InodeBitmapHi)<<32 | uint64(bg.InodeBitmapLo)
}

// SetInodeBitmap sets the block number of the inode bitmap.
func (bg *GroupDesc) SetInodeBitmap(blk uint64) {
	bg.InodeBitmapLo, bg.InodeBitmapHi = uint32(blk), uint32(blk>>32)
}

// InodeTable returns the first block of the inode table. Zero means the
// table is missing.
func (bg *GroupDesc) InodeTable() uint64 {
	return uint64(bg.InodeTableHi)<<32 | uint64(bg.InodeTableLo)
}

// SetInodeTable sets the first block of the inode table.
func (bg *GroupDesc) SetInodeTable(blk uint64) {
	bg.InodeTableLo, bg.InodeTableHi = uint32(blk), uint32(blk>>32)
}

// FreeBlocksCount returns the number of free blocks in the group.
func (bg *GroupDesc) FreeBlocksCount() uint32 {
	return uint32(bg.FreeBlocksCountHi)<<16 | uint32(bg.FreeBlocksCountLo)
}

// SetFreeBlocksCount sets the number of free blocks in the group.
func (bg *GroupDesc) SetFreeBlocksCount(n uint32) {
	bg.FreeBlocksCountLo, bg.FreeBlocksCountHi = uint16(n), uint16(n>>16)
}

// FreeInodesCount returns the number of free inodes in the group.
func (bg *GroupDesc) FreeInodesCount() uint32 {
	return uint32(bg.FreeInodesCountHi)<<16 | uint32(bg.FreeInodesCountLo)
}

// SetFreeInodesCount sets the number of free inodes in the group.
func (bg *GroupDesc) SetFreeInodesCount(n uint32) {
	bg.FreeInodesCountLo, bg.FreeInodesCountHi = uint16(n), uint16(n>>16)
}

// UsedDirsCount returns the number of directories in the group.
func (bg *GroupDesc) UsedDirsCount() uint32 {
	return uint32(bg.UsedDirsCountHi)<<16 | uint32(bg.UsedDirsCountLo)
}

// SetUsedDirsCount sets the number of directories in the group.
func (bg *GroupDesc) SetUsedDirsCount(n uint32) {
	bg.UsedDirsCountLo, bg.UsedDirsCountHi = uint16(n), uint16(n>>16)
}

// ItableUnused returns the number of never used inodes at the end of the
// group's inode table.
func (bg *GroupDesc) ItableUnused() uint32 {
	return uint32(bg.ItableUnusedHi)<<16 | uint32(bg.ItableUnusedLo)
}

// SetItableUnused sets the unused inode table tail count.
func (bg *GroupDesc) SetItableUnused(n uint32) {
	bg.ItableUnusedLo, bg.ItableUnusedHi = uint16(n), uint16(n>>16)
}

// MarshalDesc encodes bg into a descriptor of size bytes. Sizes past 64 are
// zero padded.
func (bg *GroupDesc) MarshalDesc(size int) []byte {
	b := Marshal(bg)
	if size <= len(b) {
		return b[:size]
	}
	return append(b, make([]byte, size-len(b))...)
}

// UnmarshalDesc decodes a descriptor of any supported size.
func (bg *GroupDesc) UnmarshalDesc(buf []byte) {
	var full [GroupDesc64Size]byte
	copy(full[:], buf)
	Unmarshal(full[:], bg)
}

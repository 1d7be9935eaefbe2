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

// OldInodeSize is the size of the classic ext2 inode record, and of the
// prefix that every inode record starts with.
const OldInodeSize = 128

// LargeInodeSize is the size of InodeLarge. Records larger than 128 bytes
// carry the fields of InodeLarge after the classic body, as far as ExtraIsize
// says they are valid.
const LargeInodeSize = 160

// ExtraIsize is the i_extra_isize stamped on newly written large inodes, the
// size of the fields of InodeLarge past OldInodeSize.
const ExtraIsize = LargeInodeSize - OldInodeSize

// Byte offsets within an inode record.
const (
	InodeAtimeOffset      = 8
	InodeCtimeOffset      = 12
	InodeMtimeOffset      = 16
	InodeExtraIsizeOffset = 128
	InodeCrtimeOffset     = 144
)

// InodeOld emulates the ext2/ext3 inode struct. Inode struct size and record
// size are both 128 bytes for this.
//
// All fields representing time are in seconds since the epoch. Which means
// that they will overflow in January 2038.
type InodeOld struct {
	Mode   uint16
	UIDLo  uint16
	SizeLo uint32

	// The time fields are signed integers because they could be negative to
	// represent time before the epoch.
	AccessTime       int32
	ChangeTime       int32
	ModificationTime int32
	DeletionTime     int32

	GIDLo         uint16
	LinksCount    uint16
	BlocksCountLo uint32
	Flags         uint32
	VersionLo     uint32 // This is OS dependent.
	Block         [15]uint32
	Generation    uint32
	FileACLLo     uint32
	SizeHi        uint32
	ObsoFaddr     uint32

	// OS dependent fields have been inlined here.
	BlocksCountHi uint16
	FileACLHi     uint16
	UIDHi         uint16
	GIDHi         uint16
	ChecksumLo    uint16
	Reserved      uint16
}

// InodeLarge is the ext4_inode struct: the classic body followed by the
// extra fields of large inode records.
type InodeLarge struct {
	InodeOld

	ExtraIsizeRaw     uint16
	ChecksumHi        uint16
	ChangeTimeExtra   uint32
	ModTimeExtra      uint32
	AccessTimeExtra   uint32
	CreationTime      uint32
	CreationTimeExtra uint32
	VersionHi         uint32
	ProjectID         uint32
}

// UID returns the owner.
func (in *InodeOld) UID() uint32 {
	return uint32(in.UIDHi)<<16 | uint32(in.UIDLo)
}

// GID returns the group.
func (in *InodeOld) GID() uint32 {
	return uint32(in.GIDHi)<<16 | uint32(in.GIDLo)
}

// Size returns the file size. The high half was the directory ACL before
// large files, and is only meaningful for regular files.
func (in *InodeOld) Size() uint64 {
	return uint64(in.SizeHi)<<32 | uint64(in.SizeLo)
}

// IsDir reports whether the inode is a directory.
func (in *InodeOld) IsDir() bool { return in.Mode&0xf000 == 0x4000 }

// InUse reports whether the inode is live: linked and not deleted.
func (in *InodeOld) InUse() bool { return in.LinksCount > 0 && in.DeletionTime == 0 }

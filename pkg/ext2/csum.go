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

	"github.com/diskfs/go-diskfs/filesystem/ext4/crc"

	"github.com/e2meta/e2meta/pkg/binary"
	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
)

// GroupDescCsum computes the crc16 checksum of the descriptor of group:
// the filesystem UUID, the little endian group number and the descriptor
// bytes around the checksum field.
func (fs *Filesystem) GroupDescCsum(group uint32) uint16 {
	size := fs.Super.DescSize()
	desc := fs.groupDescs[group].MarshalDesc(size)

	var le [4]byte
	binary.LittleEndian.PutUint32(le[:], group)

	sum := crc.CRC16(0xffff, fs.Super.UUID[:])
	sum = crc.CRC16(sum, le[:])
	sum = crc.CRC16(sum, desc[:disklayout.ChecksumOffset])
	if off := disklayout.ChecksumOffset + 2; fs.Super.Has64Bit() && off < size {
		sum = crc.CRC16(sum, desc[off:])
	}
	return sum
}

// SetGroupDescCsum stores the checksum of the descriptor of group. It does
// nothing unless the filesystem has the GDT checksum feature.
func (fs *Filesystem) SetGroupDescCsum(group uint32) {
	if !fs.Super.HasGroupDescCsum() {
		return
	}
	fs.groupDescs[group].Checksum = fs.GroupDescCsum(group)
}

// VerifyGroupDescCsum reports whether the stored checksum of the descriptor
// of group is correct. Without the GDT checksum feature every descriptor
// verifies.
func (fs *Filesystem) VerifyGroupDescCsum(group uint32) bool {
	if !fs.Super.HasGroupDescCsum() {
		return true
	}
	return fs.groupDescs[group].Checksum == fs.GroupDescCsum(group)
}

// verifyGroupDescs checks the checksum of every descriptor.
func (fs *Filesystem) verifyGroupDescs() error {
	for g := uint32(0); g < fs.groupCount; g++ {
		if !fs.VerifyGroupDescCsum(g) {
			return fmt.Errorf("group %d: %w", g, exterr.ErrGDescBadChecksum)
		}
	}
	return nil
}

// lastUsedInodeInGroup returns the 1-based index within group of the last
// inode marked in the inode bitmap, or 0 if none is.
func (fs *Filesystem) lastUsedInodeInGroup(group uint32) uint32 {
	ipg := fs.Super.InodesPerGroup
	first := uint64(group)*uint64(ipg) + 1
	for i := ipg; i > 0; i-- {
		if fs.InodeMap.Test(first + uint64(i) - 1) {
			return i
		}
	}
	return 0
}

// SetGDTCsum recomputes the uninit flags, the unused inode counts and the
// checksums of every descriptor from the inode bitmap. The superblock is
// marked dirty if any descriptor changed.
func (fs *Filesystem) SetGDTCsum() error {
	if !fs.Super.HasGroupDescCsum() {
		return nil
	}
	if fs.InodeMap == nil {
		return fmt.Errorf("inode bitmap not loaded: %w", exterr.ErrUnimplemented)
	}
	dirty := false
	ipg := fs.Super.InodesPerGroup
	for g := uint32(0); g < fs.groupCount; g++ {
		bg := &fs.groupDescs[g]
		old := *bg

		flags := bg.Flags()
		if bg.FreeBlocksCount() == fs.Super.BlocksPerGroup && g != fs.groupCount-1 {
			flags.BlockUninit = true
		}
		if bg.FreeInodesCount() == ipg {
			flags.InodeUninit = true
			bg.SetItableUnused(ipg)
		} else {
			flags.InodeUninit = false
			bg.SetItableUnused(ipg - fs.lastUsedInodeInGroup(g))
		}
		bg.SetFlags(flags)
		fs.SetGroupDescCsum(g)
		if *bg != old {
			dirty = true
		}
	}
	if dirty {
		fs.MarkSuperDirty()
	}
	return nil
}

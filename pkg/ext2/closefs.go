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
	"github.com/e2meta/e2meta/pkg/log"
)

// isPowerOf reports whether n is a power of base, counting base^0 = 1.
func isPowerOf(n, base uint32) bool {
	p := uint64(1)
	for p < uint64(n) {
		p *= uint64(base)
	}
	return p == uint64(n)
}

// HasSuper reports whether group carries a superblock. With sparse_super
// only group 0 and groups whose number is a power of 3, 5 or 7 do; with
// sparse_super2 only group 0 and the two recorded backup groups do. Groups 1
// (3^0) and 9 (3^2) carry backups, as on real ext2 volumes.
func (fs *Filesystem) HasSuper(group uint32) bool {
	if group == 0 {
		return true
	}
	if fs.Super.HasCompat(disklayout.SbCompatSparseSuper2) {
		return group == fs.Super.BackupBgs[0] || group == fs.Super.BackupBgs[1]
	}
	if group <= 1 || !fs.Super.HasRoCompat(disklayout.SbRoCompatSparseSuper) {
		return true
	}
	if group&1 == 0 {
		return false
	}
	return isPowerOf(group, 3) || isPowerOf(group, 5) || isPowerOf(group, 7)
}

// GroupLayout is the placement of the filesystem metadata copies held by a
// group.
type GroupLayout struct {
	// HasSuper is set if the group carries a superblock at SuperBlk.
	HasSuper bool
	SuperBlk uint64

	// OldDescBlk is the first block of the group's copy of the contiguous
	// descriptor table, or 0.
	OldDescBlk uint64

	// NewDescBlk is the group's meta_bg descriptor block, or 0.
	NewDescBlk uint64

	// MetaBG is the meta block group of the group.
	MetaBG uint32

	// UsedBlocks counts the superblock and descriptor blocks, including
	// reserved descriptor blocks.
	UsedBlocks uint64

	// FreeEstimate is the number of group blocks left after the
	// superblock, descriptors, bitmaps and inode table. It ignores where
	// meta_bg places descriptors and tables of other groups and so is not
	// reliable on meta_bg or flex_bg filesystems.
	FreeEstimate int64
}

// GroupLayout returns the metadata placement of group.
func (fs *Filesystem) GroupLayout(group uint32) GroupLayout {
	var l GroupLayout
	groupBlock := fs.GroupFirstBlock(group)
	if groupBlock == 0 && fs.blockSize == 1024 {
		groupBlock = 1
	}

	metaBGFeature := fs.Super.HasIncompat(disklayout.SbIncompatMetaBG)
	var oldDescBlocks uint64
	if metaBGFeature {
		oldDescBlocks = uint64(fs.Super.FirstMetaBg)
	} else {
		oldDescBlocks = fs.descBlocks + uint64(fs.Super.ReservedGdtBlocks)
	}

	if fs.HasSuper(group) {
		l.HasSuper = true
		l.SuperBlk = groupBlock
		l.UsedBlocks++
	}
	metaBGSize := uint32(fs.Super.DescPerBlock())
	l.MetaBG = group / metaBGSize

	if !metaBGFeature || l.MetaBG < fs.Super.FirstMetaBg {
		if l.HasSuper {
			l.OldDescBlk = groupBlock + 1
			l.UsedBlocks += oldDescBlocks
		}
	} else {
		switch group % metaBGSize {
		case 0, 1, metaBGSize - 1:
			l.NewDescBlk = groupBlock
			if l.HasSuper {
				l.NewDescBlk++
			}
			l.UsedBlocks++
		}
	}

	l.FreeEstimate = int64(fs.GroupBlocks(group)) - 2 - int64(fs.inodeBlocksPerGroup) - int64(l.UsedBlocks)
	return l
}

// descTableImage returns the descriptor table as stored on disk, descBlocks
// blocks long.
func (fs *Filesystem) descTableImage() []byte {
	size := fs.Super.DescSize()
	buf := make([]byte, fs.descBlocks*uint64(fs.blockSize))
	for g := range fs.groupDescs {
		copy(buf[g*size:], fs.groupDescs[g].MarshalDesc(size))
	}
	return buf
}

// writeBackupSuper writes the superblock image with its group number set to
// group at blk.
func (fs *Filesystem) writeBackupSuper(group uint32, blk uint64) error {
	sb := fs.Super
	sb.BlockGroupNr = uint16(min(group, 0xffff))
	if err := fs.ch.WriteBlocks(blk, -disklayout.SbSize, disklayout.Marshal(&sb)); err != nil {
		return fmt.Errorf("writing backup superblock of group %d at block %d: %w", group, blk, err)
	}
	return nil
}

// writeBitmapsHook runs the configured bitmap writer.
func (fs *Filesystem) writeBitmapsHook() error {
	if fs.WriteBitmapsFunc != nil {
		return fs.WriteBitmapsFunc(fs)
	}
	return fs.WriteBitmaps()
}

// writeBackups writes the superblock backups and every copy of the
// descriptor table, then the bitmaps.
func (fs *Filesystem) writeBackups() error {
	descs := fs.descTableImage()
	oldDescBlocks := fs.descBlocks
	if fs.Super.HasIncompat(disklayout.SbIncompatMetaBG) {
		oldDescBlocks = min(uint64(fs.Super.FirstMetaBg), fs.descBlocks)
	}
	masterOnly := fs.flags&FlagMasterSBOnly != 0

	for g := uint32(0); g < fs.groupCount; g++ {
		l := fs.GroupLayout(g)
		if !masterOnly && g > 0 && l.HasSuper {
			if err := fs.writeBackupSuper(g, l.SuperBlk); err != nil {
				return err
			}
		}
		if fs.flags&FlagSuperOnly != 0 {
			continue
		}
		if l.OldDescBlk != 0 && oldDescBlocks > 0 && (!masterOnly || g == 0) {
			if err := fs.ch.WriteBlocks(l.OldDescBlk, int(oldDescBlocks), descs); err != nil {
				return fmt.Errorf("writing descriptors of group %d at block %d: %w", g, l.OldDescBlk, err)
			}
		}
		if l.NewDescBlk != 0 {
			off := uint64(l.MetaBG) * uint64(fs.blockSize)
			if err := fs.ch.WriteBlocks(l.NewDescBlk, 1, descs[off:]); err != nil {
				return fmt.Errorf("writing meta_bg descriptors of group %d at block %d: %w", g, l.NewDescBlk, err)
			}
		}
	}
	return fs.writeBitmapsHook()
}

// writeSuperFull writes the whole primary superblock.
func (fs *Filesystem) writeSuperFull(img []byte) error {
	if err := fs.ch.SetBlockSize(disklayout.SbOffset); err != nil {
		return err
	}
	err := fs.ch.WriteBlocks(1, -disklayout.SbSize, img)
	if serr := fs.ch.SetBlockSize(fs.blockSize); err == nil {
		err = serr
	}
	if err != nil {
		return fmt.Errorf("writing primary superblock: %w", err)
	}
	return nil
}

// writePrimarySuper writes the primary superblock. When the image last
// written is known, only the 16-bit words that changed are written.
func (fs *Filesystem) writePrimarySuper() error {
	img := disklayout.Marshal(&fs.Super)
	if fs.origSuper != nil {
		err := fs.writeSuperDiff(img)
		if err == nil {
			copy(fs.origSuper, img)
			return nil
		}
		if !exterr.Equals(exterr.ErrUnimplemented, err) {
			return err
		}
		log.Debugf("%s: byte writes unsupported, writing the full superblock", fs.ch.Name())
	}
	if err := fs.writeSuperFull(img); err != nil {
		return err
	}
	fs.origSuper = img
	return nil
}

// writeSuperDiff writes the runs of img that differ from origSuper.
func (fs *Filesystem) writeSuperDiff(img []byte) error {
	for _, run := range binary.DiffRuns(fs.origSuper, img, 2) {
		if err := fs.ch.WriteBytes(int64(disklayout.SbOffset+run.Off), img[run.Off:run.End()]); err != nil {
			return fmt.Errorf("writing superblock bytes [%d, %d): %w", run.Off, run.End(), err)
		}
	}
	return nil
}

// Flush commits the superblock, the descriptors and, through the bitmap
// hook, the bitmaps. Backups are written first with the filesystem marked
// not clean, then the primary superblock. The write time is stamped only
// when the handle is dirty. The dirty flag is cleared only once the primary
// superblock is written.
func (fs *Filesystem) Flush() error {
	if err := fs.checkRW(); err != nil {
		return err
	}
	state, incompat := fs.Super.State, fs.Super.FeatureIncompat
	defer func() {
		fs.Super.State = state
		fs.Super.FeatureIncompat = incompat
		fs.Super.BlockGroupNr = 0
	}()

	if fs.flags&FlagDirty != 0 {
		fs.Super.Wtime = fs.nowSeconds()
	}
	fs.Super.BlockGroupNr = 0
	if fs.Super.HasGroupDescCsum() {
		for g := uint32(0); g < fs.groupCount; g++ {
			fs.SetGroupDescCsum(g)
		}
	}

	fs.Super.State &^= disklayout.StateValid
	fs.Super.FeatureIncompat &^= disklayout.SbIncompatRecover
	if fs.Super.HasIncompat(disklayout.SbIncompatJournalDev) {
		log.Debugf("%s: external journal device, writing the primary superblock only", fs.ch.Name())
	} else if err := fs.writeBackups(); err != nil {
		return err
	}

	fs.Super.BlockGroupNr = 0
	fs.Super.State = state
	fs.Super.FeatureIncompat = incompat

	if err := fs.ch.Flush(); err != nil {
		return err
	}
	if err := fs.writePrimarySuper(); err != nil {
		return err
	}
	fs.flags &^= FlagDirty
	return fs.ch.Flush()
}

// Close writes dirty bitmaps, accounts the bytes written in the lifetime
// write counter, flushes dirty metadata and closes the channel. If any step
// fails the handle stays open with its dirty state intact, and Close may be
// retried.
func (fs *Filesystem) Close() error {
	if err := fs.checkOpen(); err != nil {
		return err
	}
	if err := fs.writeBitmapsHook(); err != nil {
		return err
	}

	oldKbytes := fs.Super.KbytesWritten
	oldFlags := fs.flags
	st := fs.ch.Stats()
	if written := st.BytesWritten - fs.accounted; fs.Super.KbytesWritten != 0 && fs.flags&FlagRW != 0 && written > 0 {
		fs.Super.KbytesWritten += written >> 10
		fs.MarkSuperDirty()
	}
	if fs.flags&FlagDirty != 0 {
		if err := fs.Flush(); err != nil {
			fs.Super.KbytesWritten = oldKbytes
			fs.flags = oldFlags
			return err
		}
	}
	fs.accounted = st.BytesWritten

	if fs.scan != nil {
		fs.scan.Close()
	}
	if err := fs.ch.Close(); err != nil {
		return fmt.Errorf("closing %s: %w", fs.ch.Name(), err)
	}
	fs.closed = true
	return nil
}

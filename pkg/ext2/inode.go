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

// inodeLocation returns the block holding the start of inode ino's record
// and the record's byte offset within that block.
func (fs *Filesystem) inodeLocation(ino uint32) (uint64, int, error) {
	if ino == 0 || ino > fs.Super.InodesCount {
		return 0, 0, fmt.Errorf("inode %d: %w", ino, exterr.ErrBadInodeNum)
	}
	group := fs.GroupOfInode(ino)
	if group >= fs.groupCount {
		return 0, 0, fmt.Errorf("inode %d: %w", ino, exterr.ErrBadInodeNum)
	}
	table := fs.groupDescs[group].InodeTable()
	if table == 0 {
		return 0, 0, fmt.Errorf("inode %d, group %d: %w", ino, group, exterr.ErrMissingInodeTable)
	}
	if err := fs.inodeTableInGroup(group); err != nil {
		return 0, 0, err
	}
	offset := uint64((ino-1)%fs.Super.InodesPerGroup) * uint64(fs.InodeSize())
	bs := uint64(fs.blockSize)
	return table + offset/bs, int(offset % bs), nil
}

// stageBlock loads blk into the staging buffer unless it is already there.
func (fs *Filesystem) stageBlock(blk uint64) error {
	c := fs.icache
	if c.bufBlk == blk {
		return nil
	}
	c.bufBlk = 0
	if err := fs.ch.ReadBlocks(blk, 1, c.buf); err != nil {
		return fmt.Errorf("reading inode table block %d: %w", blk, err)
	}
	c.bufBlk = blk
	return nil
}

// ReadInodeFull reads inode ino into buf. Up to InodeSize bytes are filled;
// any remainder of buf is zeroed.
func (fs *Filesystem) ReadInodeFull(ino uint32, buf []byte) error {
	if err := fs.checkOpen(); err != nil {
		return err
	}
	if fs.InodeIO != nil {
		if handled, err := fs.InodeIO.ReadInode(fs, ino, buf); handled {
			return err
		}
	}
	if ino == 0 || ino > fs.Super.InodesCount {
		return fmt.Errorf("inode %d: %w", ino, exterr.ErrBadInodeNum)
	}
	if fs.icache.get(ino, buf) {
		return nil
	}

	blk, off, err := fs.inodeLocation(ino)
	if err != nil {
		return err
	}
	rec := make([]byte, fs.InodeSize())
	cur := binary.NewCursor(rec)
	for cur.Len() > 0 {
		if err := fs.stageBlock(blk); err != nil {
			return err
		}
		n := min(cur.Len(), fs.blockSize-off)
		dst, err := cur.Next(n)
		if err != nil {
			return err
		}
		copy(dst, fs.icache.buf[off:off+n])
		off = 0
		blk++
	}
	fs.icache.put(ino, rec)
	copyRecord(buf, rec)
	return nil
}

// WriteInodeFull writes buf as inode ino. If buf is shorter than the inode
// size, the rest of the on-disk record is preserved.
func (fs *Filesystem) WriteInodeFull(ino uint32, buf []byte) error {
	if err := fs.checkOpen(); err != nil {
		return err
	}
	if fs.InodeIO != nil {
		if handled, err := fs.InodeIO.WriteInode(fs, ino, buf); handled {
			return err
		}
	}
	if err := fs.checkRW(); err != nil {
		return err
	}
	blk, off, err := fs.inodeLocation(ino)
	if err != nil {
		return err
	}

	isz := fs.InodeSize()
	rec := make([]byte, isz)
	if len(buf) < isz {
		if err := fs.ReadInodeFull(ino, rec); err != nil {
			return err
		}
	}
	copy(rec, buf)

	cur := binary.NewCursor(rec)
	for cur.Len() > 0 {
		if err := fs.stageBlock(blk); err != nil {
			return err
		}
		n := min(cur.Len(), fs.blockSize-off)
		src, err := cur.Next(n)
		if err != nil {
			return err
		}
		copy(fs.icache.buf[off:off+n], src)
		if err := fs.ch.WriteBlocks(blk, 1, fs.icache.buf); err != nil {
			// The staged block no longer matches the disk.
			fs.icache.bufBlk = 0
			return fmt.Errorf("writing inode table block %d: %w", blk, err)
		}
		off = 0
		blk++
	}
	fs.icache.update(ino, rec)
	fs.flags |= FlagChanged
	return nil
}

// ReadInode reads the classic 128 byte body of inode ino.
func (fs *Filesystem) ReadInode(ino uint32, in *disklayout.InodeOld) error {
	buf := make([]byte, disklayout.OldInodeSize)
	if err := fs.ReadInodeFull(ino, buf); err != nil {
		return err
	}
	disklayout.Unmarshal(buf, in)
	return nil
}

// WriteInode writes the classic 128 byte body of inode ino, preserving any
// large inode fields on disk.
func (fs *Filesystem) WriteInode(ino uint32, in *disklayout.InodeOld) error {
	return fs.WriteInodeFull(ino, disklayout.Marshal(in))
}

// WriteNewInode writes a freshly allocated inode. The record is built from
// the classic body in buf with a zeroed tail. Unset access, change and
// modification times are stamped with Now and, for large records, the extra
// size marker and an unset creation time are filled in.
func (fs *Filesystem) WriteNewInode(ino uint32, buf []byte) error {
	isz := fs.InodeSize()
	rec := make([]byte, isz)
	copy(rec, buf[:min(len(buf), disklayout.OldInodeSize)])

	now := fs.nowSeconds()
	for _, off := range []int{disklayout.InodeCtimeOffset, disklayout.InodeMtimeOffset, disklayout.InodeAtimeOffset} {
		if binary.LittleEndian.Uint32(rec[off:]) == 0 {
			binary.LittleEndian.PutUint32(rec[off:], now)
		}
	}
	if isz > disklayout.OldInodeSize {
		binary.LittleEndian.PutUint16(rec[disklayout.InodeExtraIsizeOffset:], disklayout.ExtraIsize)
		if isz >= disklayout.InodeCrtimeOffset+4 {
			binary.LittleEndian.PutUint32(rec[disklayout.InodeCrtimeOffset:], now)
		}
	}
	return fs.WriteInodeFull(ino, rec)
}

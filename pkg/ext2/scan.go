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
	"time"

	"github.com/e2meta/e2meta/pkg/binary"
	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/log"
)

// DefaultScanBufferBlocks is the number of inode table blocks read at once
// when OpenInodeScan is passed zero.
const DefaultScanBufferBlocks = 8

// ScanFlags control an InodeScan.
type ScanFlags uint32

const (
	// ScanCheckBadBlocks trims reads around blocks of Filesystem.BadBlocks.
	ScanCheckBadBlocks ScanFlags = 1 << iota

	// ScanDoLazy skips groups flagged INODE_UNINIT.
	ScanDoLazy

	// ScanSkipMissingTable skips groups without an inode table instead of
	// failing with ErrMissingInodeTable.
	ScanSkipMissingTable

	// scanBadInodeBlk means the current buffer is a zero-filled bad block.
	scanBadInodeBlk

	// scanBadExtraBytes means the stashed record prefix came from a bad
	// block.
	scanBadExtraBytes
)

// DoneGroupFunc is called by Next each time a scan finishes a group. A
// non-nil error is returned by Next.
type DoneGroupFunc func(fs *Filesystem, scan *InodeScan, group uint32) error

// InodeScan is a cursor over every inode of a filesystem in inode table
// order. It batches inode table reads and tolerates bad blocks.
type InodeScan struct {
	fs           *Filesystem
	bufferBlocks int
	inodeSize    int

	currentGroup uint32
	groupsLeft   uint32
	currentBlock uint64
	currentInode uint32
	inodesLeft   uint32
	blocksLeft   uint64

	// buf holds the last batch of inode table blocks; cur is the unconsumed
	// part of it.
	buf []byte
	cur binary.Cursor

	// stash holds the first extra bytes of a record that straddles two
	// batches.
	stash []byte
	extra int

	flags     ScanFlags
	doneGroup DoneGroupFunc
	warn      log.Logger
}

// OpenInodeScan starts a scan at the first inode of group 0. bufferBlocks is
// the number of inode table blocks read at once, or zero for the default.
// Only one scan may be open on a filesystem at a time.
func (fs *Filesystem) OpenInodeScan(bufferBlocks int) (*InodeScan, error) {
	if err := fs.checkOpen(); err != nil {
		return nil, err
	}
	if fs.scan != nil {
		return nil, exterr.ErrScanInProgress
	}
	if bufferBlocks <= 0 {
		bufferBlocks = DefaultScanBufferBlocks
	}
	if fs.BadBlocks == nil {
		list, err := fs.ReadBadBlocksInode()
		if err != nil {
			log.Debugf("%s: no bad blocks list: %v", fs.ch.Name(), err)
			list = NewBadBlocksList()
		}
		fs.BadBlocks = list
	}

	scan := &InodeScan{
		fs:           fs,
		bufferBlocks: bufferBlocks,
		inodeSize:    fs.InodeSize(),
		groupsLeft:   fs.groupCount - 1,
		buf:          make([]byte, bufferBlocks*fs.blockSize),
		stash:        make([]byte, fs.InodeSize()),
		warn:         log.BasicRateLimitedLogger(time.Second),
	}
	if fs.BadBlocks.Len() > 0 {
		scan.flags |= ScanCheckBadBlocks
	}
	if fs.Super.HasGroupDescCsum() {
		scan.flags |= ScanDoLazy
	}
	if err := scan.startGroup(0); err != nil {
		return nil, err
	}
	fs.scan = scan
	return scan, nil
}

// Close releases the scan so that another may be opened.
func (s *InodeScan) Close() {
	if s.fs != nil && s.fs.scan == s {
		s.fs.scan = nil
	}
	s.fs = nil
	s.buf = nil
}

// Flags returns the scan flags.
func (s *InodeScan) Flags() ScanFlags { return s.flags }

// SetFlags sets then clears scan flags.
func (s *InodeScan) SetFlags(set, clear ScanFlags) {
	s.flags = (s.flags | set) &^ clear
}

// SetDoneGroup installs fn as the group completion callback. A nil fn
// removes it.
func (s *InodeScan) SetDoneGroup(fn DoneGroupFunc) {
	s.doneGroup = fn
}

// CurrentGroup returns the group being scanned.
func (s *InodeScan) CurrentGroup() uint32 { return s.currentGroup }

// startGroup points the cursor at the first inode of group and discards
// buffered bytes.
func (s *InodeScan) startGroup(group uint32) error {
	fs := s.fs
	s.currentGroup = group
	s.currentBlock = fs.groupDescs[group].InodeTable()
	s.currentInode = group * fs.Super.InodesPerGroup
	s.cur.Reset(nil)

	s.inodesLeft = fs.Super.InodesPerGroup
	if rest := fs.Super.InodesCount - s.currentInode; rest < s.inodesLeft {
		s.inodesLeft = rest
	}
	s.blocksLeft = fs.inodeBlocksPerGroup
	if fs.Super.HasGroupDescCsum() {
		unused := fs.groupDescs[group].ItableUnused()
		if s.inodesLeft > unused {
			s.inodesLeft -= unused
		} else {
			s.inodesLeft = 0
		}
		bs := uint64(fs.blockSize)
		isz := uint64(s.inodeSize)
		s.blocksLeft = (uint64(s.inodesLeft) + (bs/isz - 1)) * isz / bs
	}
	if s.currentBlock != 0 {
		if err := fs.inodeTableInGroup(group); err != nil {
			return err
		}
	}
	return nil
}

// nextGroup advances to the following group.
func (s *InodeScan) nextGroup() error {
	s.groupsLeft--
	return s.startGroup(s.currentGroup + 1)
}

// GotoBlockGroup repositions the scan at the first inode of group. Partially
// assembled records are discarded.
func (s *InodeScan) GotoBlockGroup(group uint32) error {
	if group >= s.fs.groupCount {
		return fmt.Errorf("group %d: %w", group, exterr.ErrBadGroupNum)
	}
	s.groupsLeft = s.fs.groupCount - group - 1
	s.flags &^= scanBadInodeBlk | scanBadExtraBytes
	s.extra = 0
	return s.startGroup(group)
}

// trimForBadBlocks limits a read of num blocks at the current block so that
// it never mixes good and bad blocks. A bad current block is read alone and
// flagged.
func (s *InodeScan) trimForBadBlocks(num uint64) uint64 {
	blk := s.currentBlock
	bad, ok := s.fs.BadBlocks.NextFrom(blk)
	switch {
	case !ok:
		return num
	case bad == blk:
		s.flags |= scanBadInodeBlk
		return 1
	case bad < blk+num:
		return bad - blk
	default:
		return num
	}
}

// nextBlocks refills the buffer with the next batch of inode table blocks.
func (s *InodeScan) nextBlocks() error {
	fs := s.fs
	num := min(uint64(s.bufferBlocks), s.blocksLeft)
	if num == 0 {
		return fmt.Errorf("group %d: inode table exhausted with %d inodes left: %w",
			s.currentGroup, s.inodesLeft, exterr.ErrNextInodeRead)
	}

	if s.flags&scanBadInodeBlk != 0 {
		if s.extra > 0 {
			s.flags |= scanBadExtraBytes
		}
		s.flags &^= scanBadInodeBlk
	}
	if s.flags&ScanCheckBadBlocks != 0 && s.currentBlock != 0 {
		num = s.trimForBadBlocks(num)
	}

	size := int(num) * fs.blockSize
	data := s.buf[:size]
	if s.flags&scanBadInodeBlk != 0 || s.currentBlock == 0 {
		clear(data)
		if s.flags&scanBadInodeBlk != 0 {
			s.warn.Warningf("%s: bad block %d in the inode table of group %d", fs.ch.Name(), s.currentBlock, s.currentGroup)
		}
	} else if err := fs.ch.ReadBlocks(s.currentBlock, int(num), data); err != nil {
		return fmt.Errorf("group %d inode table block %d: %w: %w", s.currentGroup, s.currentBlock, exterr.ErrNextInodeRead, err)
	}
	s.cur.Reset(data)
	s.blocksLeft -= num
	if s.currentBlock != 0 {
		s.currentBlock += num
	}
	return nil
}

// Next copies the next inode record into buf, zero filling any remainder of
// buf, and returns its number. The end of the scan is reported as inode 0
// with a nil error.
//
// ErrBadBlockInInodeTable is advisory: the record overlapped a bad block and
// was zero filled, but the returned inode number is valid and the scan may
// continue.
func (s *InodeScan) Next(buf []byte) (uint32, error) {
	if s.fs == nil {
		return 0, exterr.ErrClosed
	}
	fs := s.fs

	forceNewGroup := false
	for {
		for forceNewGroup || s.inodesLeft == 0 {
			forceNewGroup = false
			if s.doneGroup != nil {
				if err := s.doneGroup(fs, s, s.currentGroup); err != nil {
					return 0, err
				}
			}
			if s.groupsLeft == 0 {
				return 0, nil
			}
			if err := s.nextGroup(); err != nil {
				return 0, err
			}
		}
		if s.flags&ScanDoLazy != 0 && fs.groupDescs[s.currentGroup].Flags().InodeUninit {
			forceNewGroup = true
			continue
		}
		if s.currentBlock == 0 {
			if s.flags&ScanSkipMissingTable != 0 {
				forceNewGroup = true
				continue
			}
			return 0, fmt.Errorf("group %d: %w", s.currentGroup, exterr.ErrMissingInodeTable)
		}
		break
	}

	s.extra = 0
	if s.cur.Len() < s.inodeSize {
		s.extra = s.cur.CopyTo(s.stash)
		if err := s.nextBlocks(); err != nil {
			return 0, err
		}
	}

	var err error
	if s.extra > 0 {
		fresh, nerr := s.cur.Next(s.inodeSize - s.extra)
		if nerr != nil {
			return 0, fmt.Errorf("group %d: %v: %w", s.currentGroup, nerr, exterr.ErrNextInodeRead)
		}
		copy(s.stash[s.extra:], fresh)
		copyRecord(buf, s.stash)
		if s.flags&(scanBadExtraBytes|scanBadInodeBlk) != 0 {
			err = exterr.ErrBadBlockInInodeTable
		}
		s.flags &^= scanBadExtraBytes
		s.extra = 0
	} else {
		rec, nerr := s.cur.Next(s.inodeSize)
		if nerr != nil {
			return 0, fmt.Errorf("group %d: %v: %w", s.currentGroup, nerr, exterr.ErrNextInodeRead)
		}
		copyRecord(buf, rec)
		if s.flags&scanBadInodeBlk != 0 {
			err = exterr.ErrBadBlockInInodeTable
		}
	}

	s.inodesLeft--
	s.currentInode++
	if err != nil {
		err = fmt.Errorf("inode %d: %w", s.currentInode, err)
	}
	return s.currentInode, err
}

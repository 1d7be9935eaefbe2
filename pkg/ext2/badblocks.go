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
	"github.com/google/btree"

	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
	"github.com/e2meta/e2meta/pkg/log"
)

// badBlocksDegree is the btree degree of a BadBlocksList.
const badBlocksDegree = 8

// BadBlocksList is an ascending, deduplicated set of physical block numbers
// known to be unreadable.
//
// The zero value is not usable; use NewBadBlocksList.
type BadBlocksList struct {
	tree *btree.BTreeG[uint64]
}

// NewBadBlocksList returns a list holding blocks.
func NewBadBlocksList(blocks ...uint64) *BadBlocksList {
	l := &BadBlocksList{tree: btree.NewOrderedG[uint64](badBlocksDegree)}
	for _, blk := range blocks {
		l.Add(blk)
	}
	return l
}

// Add inserts blk. Adding a block twice has no effect.
func (l *BadBlocksList) Add(blk uint64) {
	l.tree.ReplaceOrInsert(blk)
}

// Test reports whether blk is bad.
func (l *BadBlocksList) Test(blk uint64) bool {
	return l != nil && l.tree.Has(blk)
}

// Len returns the number of bad blocks.
func (l *BadBlocksList) Len() int {
	if l == nil {
		return 0
	}
	return l.tree.Len()
}

// Blocks returns the bad blocks in ascending order.
func (l *BadBlocksList) Blocks() []uint64 {
	if l == nil {
		return nil
	}
	blocks := make([]uint64, 0, l.tree.Len())
	l.tree.Ascend(func(blk uint64) bool {
		blocks = append(blocks, blk)
		return true
	})
	return blocks
}

// NextFrom returns the smallest bad block >= blk.
func (l *BadBlocksList) NextFrom(blk uint64) (uint64, bool) {
	if l == nil {
		return 0, false
	}
	var (
		next  uint64
		found bool
	)
	l.tree.AscendGreaterOrEqual(blk, func(b uint64) bool {
		next, found = b, true
		return false
	})
	return next, found
}

// ReadBadBlocksInode loads the bad block list from the bad blocks inode,
// which owns every bad block as one of its data blocks. Blocks outside of the
// filesystem are ignored.
func (fs *Filesystem) ReadBadBlocksInode() (*BadBlocksList, error) {
	var in disklayout.InodeOld
	if err := fs.ReadInode(disklayout.BadBlocksIno, &in); err != nil {
		return nil, err
	}
	list := NewBadBlocksList()
	if in.BlocksCountLo == 0 {
		return list, nil
	}
	first := uint64(fs.Super.FirstDataBlock)
	total := fs.Super.BlocksCount()
	err := fs.BlockIterate(disklayout.BadBlocksIno, func(blk uint64, blockcnt int64) error {
		if blockcnt < 0 {
			return nil
		}
		if blk < first || blk >= total {
			log.Debugf("%s: ignoring bad block %d outside of the filesystem", fs.ch.Name(), blk)
			return nil
		}
		list.Add(blk)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

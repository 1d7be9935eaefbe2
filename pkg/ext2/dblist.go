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
	goerrors "errors"
	"slices"

	"github.com/e2meta/e2meta/pkg/errors/exterr"
)

// DirBlock is one directory block: the owning inode, the physical block and
// the logical block index within the directory.
type DirBlock struct {
	Ino      uint32
	Blk      uint64
	BlockCnt int64
}

// DirBlock32 is the narrow form of DirBlock kept for callers that store
// 32-bit block numbers. Conversions truncate.
type DirBlock32 struct {
	Ino      uint32
	Blk      uint32
	BlockCnt int32
}

// narrow converts db to its 32-bit form.
func (db DirBlock) narrow() DirBlock32 {
	return DirBlock32{Ino: db.Ino, Blk: uint32(db.Blk), BlockCnt: int32(db.BlockCnt)}
}

// widen converts db to its full form.
func (db DirBlock32) widen() DirBlock {
	return DirBlock{Ino: db.Ino, Blk: uint64(db.Blk), BlockCnt: int64(db.BlockCnt)}
}

// DBListAbort may be returned by an iteration visitor to stop the iteration
// early. The iteration then returns nil.
var DBListAbort = goerrors.New("abort directory block iteration")

// CompareDirBlocks orders directory blocks by block, inode and logical index.
func CompareDirBlocks(a, b DirBlock) int {
	switch {
	case a.Blk != b.Blk:
		if a.Blk < b.Blk {
			return -1
		}
		return 1
	case a.Ino != b.Ino:
		if a.Ino < b.Ino {
			return -1
		}
		return 1
	case a.BlockCnt != b.BlockCnt:
		if a.BlockCnt < b.BlockCnt {
			return -1
		}
		return 1
	}
	return 0
}

// DBList is a growable, sortable list of directory blocks.
type DBList struct {
	fs     *Filesystem
	size   int
	list   []DirBlock
	sorted bool
}

// NewDBList returns an empty list with room for size entries. A size of zero
// picks one from the number of directories of fs.
func NewDBList(fs *Filesystem, size int) *DBList {
	if size <= 0 {
		size = int(fs.NumDirs())*2 + 12
	}
	return &DBList{
		fs:     fs,
		size:   size,
		list:   make([]DirBlock, 0, size),
		sorted: true,
	}
}

// InitDBList replaces the directory block list of fs with an empty one and
// returns it.
func (fs *Filesystem) InitDBList() *DBList {
	fs.dblist = NewDBList(fs, 0)
	return fs.dblist
}

// DBList returns the directory block list of fs, or nil if none was
// initialized.
func (fs *Filesystem) DBList() *DBList { return fs.dblist }

// SetDBList installs l as the directory block list of fs.
func (fs *Filesystem) SetDBList(l *DBList) { fs.dblist = l }

// Capacity returns the number of entries the list holds before growing.
func (l *DBList) Capacity() int { return l.size }

// Count returns the number of entries.
func (l *DBList) Count() int { return len(l.list) }

// Sorted reports whether the list is known to be in order.
func (l *DBList) Sorted() bool { return l.sorted }

// grow makes room for one more entry. Large lists grow by half, small ones
// by a hundred entries.
func (l *DBList) grow() {
	if len(l.list) < l.size {
		return
	}
	if l.size > 200 {
		l.size += l.size / 2
	} else {
		l.size += 100
	}
	l.list = slices.Grow(l.list, l.size-len(l.list))
}

// Add appends a directory block.
func (l *DBList) Add(ino uint32, blk uint64, blockcnt int64) {
	l.grow()
	l.list = append(l.list, DirBlock{Ino: ino, Blk: blk, BlockCnt: blockcnt})
	l.sorted = false
}

// Set changes the physical block of the entry for (ino, blockcnt).
func (l *DBList) Set(ino uint32, blk uint64, blockcnt int64) error {
	for i := range l.list {
		if l.list[i].Ino == ino && l.list[i].BlockCnt == blockcnt {
			l.list[i].Blk = blk
			l.sorted = false
			return nil
		}
	}
	return exterr.ErrDBNotFound
}

// Sort orders the list with cmp, or with CompareDirBlocks if cmp is nil.
func (l *DBList) Sort(cmp func(a, b DirBlock) int) {
	if cmp == nil {
		cmp = CompareDirBlocks
	}
	slices.SortStableFunc(l.list, cmp)
	l.sorted = true
}

// Iterate calls fn for every entry in order, sorting the list first if
// needed.
func (l *DBList) Iterate(fn func(db *DirBlock) error) error {
	return l.IterateRange(0, len(l.list), fn)
}

// IterateRange is Iterate restricted to count entries starting at index
// start of the sorted list.
func (l *DBList) IterateRange(start, count int, fn func(db *DirBlock) error) error {
	if !l.sorted {
		l.Sort(nil)
	}
	end := len(l.list)
	if count < end-start {
		end = start + count
	}
	for i := max(start, 0); i < end; i++ {
		if err := fn(&l.list[i]); err != nil {
			if goerrors.Is(err, DBListAbort) {
				return nil
			}
			return err
		}
	}
	return nil
}

// Get returns the entry at index i.
func (l *DBList) Get(i int) (DirBlock, bool) {
	if i < 0 || i >= len(l.list) {
		return DirBlock{}, false
	}
	return l.list[i], true
}

// GetLast returns the entry with the highest index.
func (l *DBList) GetLast() (DirBlock, error) {
	if len(l.list) == 0 {
		return DirBlock{}, exterr.ErrDBListEmpty
	}
	return l.list[len(l.list)-1], nil
}

// DropLast removes the entry with the highest index.
func (l *DBList) DropLast() error {
	if len(l.list) == 0 {
		return exterr.ErrDBListEmpty
	}
	l.list = l.list[:len(l.list)-1]
	return nil
}

// Copy returns an independent copy of the list.
func (l *DBList) Copy() *DBList {
	c := &DBList{
		fs:     l.fs,
		size:   l.size,
		list:   make([]DirBlock, len(l.list), l.size),
		sorted: l.sorted,
	}
	copy(c.list, l.list)
	return c
}

// Add32 is Add for 32-bit callers.
func (l *DBList) Add32(ino uint32, blk uint32, blockcnt int32) {
	l.Add(ino, uint64(blk), int64(blockcnt))
}

// Set32 is Set for 32-bit callers.
func (l *DBList) Set32(ino uint32, blk uint32, blockcnt int32) error {
	return l.Set(ino, uint64(blk), int64(blockcnt))
}

// GetLast32 is GetLast for 32-bit callers.
func (l *DBList) GetLast32() (DirBlock32, error) {
	db, err := l.GetLast()
	return db.narrow(), err
}

// Sort32 orders the list with a comparator over the narrow form. Entries are
// compared as their truncated 32-bit values.
func (l *DBList) Sort32(cmp func(a, b DirBlock32) int) {
	if cmp == nil {
		l.Sort(nil)
		return
	}
	l.Sort(func(a, b DirBlock) int {
		return cmp(a.narrow(), b.narrow())
	})
}

// Iterate32 is Iterate for 32-bit callers. Changes fn makes to an entry are
// copied back, widened.
func (l *DBList) Iterate32(fn func(db *DirBlock32) error) error {
	return l.Iterate(func(db *DirBlock) error {
		n := db.narrow()
		err := fn(&n)
		if n != db.narrow() {
			*db = n.widen()
		}
		return err
	})
}

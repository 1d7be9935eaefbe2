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

// inodeCacheSize is the number of records kept by the inode cache.
const inodeCacheSize = 4

type icacheEntry struct {
	// ino is zero for an empty slot.
	ino uint32
	rec []byte
}

// inodeCache remembers the last few inode records read and holds the one
// block staging buffer used to assemble records.
//
// Records are owned by the cache: they are copied on the way in and on the
// way out, so a cache entry never shares memory with a caller's buffer.
type inodeCache struct {
	// last is the slot most recently filled. Slots are refilled in ring
	// order, evicting the oldest insertion.
	last    int
	entries [inodeCacheSize]icacheEntry

	// bufBlk is the block held in buf, zero if none. Block zero never holds
	// an inode table.
	bufBlk uint64
	buf    []byte
}

func newInodeCache(blockSize, inodeSize int) *inodeCache {
	c := &inodeCache{
		last: inodeCacheSize - 1,
		buf:  make([]byte, blockSize),
	}
	for i := range c.entries {
		c.entries[i].rec = make([]byte, inodeSize)
	}
	return c
}

// lookup returns the slot holding ino, or -1.
func (c *inodeCache) lookup(ino uint32) int {
	for i := range c.entries {
		if c.entries[i].ino == ino {
			return i
		}
	}
	return -1
}

// get copies the cached record of ino into dst and zero fills the rest of
// dst. It reports whether ino was cached.
func (c *inodeCache) get(ino uint32, dst []byte) bool {
	i := c.lookup(ino)
	if i < 0 {
		return false
	}
	copyRecord(dst, c.entries[i].rec)
	return true
}

// put stores a copy of rec for ino in the next ring slot.
func (c *inodeCache) put(ino uint32, rec []byte) {
	c.last = (c.last + 1) % inodeCacheSize
	e := &c.entries[c.last]
	e.ino = ino
	copyRecord(e.rec, rec)
}

// update refreshes the record of ino if it is cached. Only the first
// len(rec) bytes change.
func (c *inodeCache) update(ino uint32, rec []byte) {
	if i := c.lookup(ino); i >= 0 {
		copy(c.entries[i].rec, rec)
	}
}

// flush drops every record and the staging buffer.
func (c *inodeCache) flush() {
	for i := range c.entries {
		c.entries[i].ino = 0
	}
	c.bufBlk = 0
}

// copyRecord copies src into dst and zero fills the remainder of dst.
func copyRecord(dst, src []byte) {
	n := copy(dst, src)
	for i := n; i < len(dst); i++ {
		dst[i] = 0
	}
}

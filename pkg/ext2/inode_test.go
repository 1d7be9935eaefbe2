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
	"bytes"
	"encoding/binary"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/e2meta/e2meta/pkg/blockio"
	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
)

// pattern returns n bytes that differ per inode.
func pattern(ino uint32, n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(int(ino)*7 + i)
	}
	return b
}

func TestInodeLocation(t *testing.T) {
	sb := disklayout.SuperBlock{
		Magic:          disklayout.SbMagic,
		RevLevel:       disklayout.GoodOldRev,
		FirstDataBlock: 1,
		BlocksCountLo:  8193,
		BlocksPerGroup: 8192,
		InodesPerGroup: 8192,
		InodesCount:    8192,
	}
	fs, err := newFilesystem(blockio.NewMemChannel("location", nil), &sb)
	if err != nil {
		t.Fatalf("newFilesystem failed: %v", err)
	}
	fs.GroupDesc(0).SetInodeTable(100)

	for _, test := range []struct {
		ino     uint32
		wantBlk uint64
		wantOff int
	}{
		{1, 100, 0},
		{8, 100, 896},
		{9, 101, 0},
		{5000, 724, 896},
		{8192, 1123, 896},
	} {
		blk, off, err := fs.inodeLocation(test.ino)
		if err != nil {
			t.Errorf("inodeLocation(%d) failed: %v", test.ino, err)
			continue
		}
		if blk != test.wantBlk || off != test.wantOff {
			t.Errorf("inodeLocation(%d) = %d, %d, want %d, %d", test.ino, blk, off, test.wantBlk, test.wantOff)
		}
	}

	fs.GroupDesc(0).SetInodeTable(8000)
	if _, _, err := fs.inodeLocation(1); !exterr.Equals(exterr.ErrGDescBadInodeTable, err) {
		t.Errorf("inodeLocation with a table past the end: got %v, want %v", err, exterr.ErrGDescBadInodeTable)
	}
}

func TestReadWriteInodeFull(t *testing.T) {
	for _, isz := range []int{128, 256, 512, 1024} {
		p := eightGroups
		p.InodeSize = isz
		_, fs := setUp(t, p)
		inodes := []uint32{1, 11, 32, 33, 100, fs.Super.InodesCount}

		for _, ino := range inodes {
			if err := fs.WriteInodeFull(ino, pattern(ino, isz)); err != nil {
				t.Fatalf("isz %d: WriteInodeFull(%d) failed: %v", isz, ino, err)
			}
		}
		for _, uncached := range []bool{false, true} {
			if uncached {
				fs.icache.flush()
			}
			for _, ino := range inodes {
				got := make([]byte, isz)
				if err := fs.ReadInodeFull(ino, got); err != nil {
					t.Fatalf("isz %d: ReadInodeFull(%d) failed: %v", isz, ino, err)
				}
				if diff := cmp.Diff(pattern(ino, isz), got); diff != "" {
					t.Errorf("isz %d, uncached %t: inode %d mismatch (-want +got):\n%s", isz, uncached, ino, diff)
				}
			}
		}
	}
}

func TestReadInodeFullBufferSizes(t *testing.T) {
	_, fs := setUp(t, eightGroups)
	const ino = 12
	rec := pattern(ino, 256)
	if err := fs.WriteInodeFull(ino, rec); err != nil {
		t.Fatalf("WriteInodeFull failed: %v", err)
	}

	short := make([]byte, 100)
	if err := fs.ReadInodeFull(ino, short); err != nil {
		t.Fatalf("ReadInodeFull failed: %v", err)
	}
	if diff := cmp.Diff(rec[:100], short); diff != "" {
		t.Errorf("short read mismatch (-want +got):\n%s", diff)
	}

	long := bytes.Repeat([]byte{0xff}, 300)
	if err := fs.ReadInodeFull(ino, long); err != nil {
		t.Fatalf("ReadInodeFull failed: %v", err)
	}
	want := append(append([]byte{}, rec...), make([]byte, 44)...)
	if diff := cmp.Diff(want, long); diff != "" {
		t.Errorf("long read mismatch (-want +got):\n%s", diff)
	}
}

func TestWriteInodePreservesTail(t *testing.T) {
	mem, fs := setUp(t, eightGroups)
	const ino = 20
	rec := pattern(ino, 256)
	if err := fs.WriteInodeFull(ino, rec); err != nil {
		t.Fatalf("WriteInodeFull failed: %v", err)
	}

	in := disklayout.InodeOld{Mode: 0x81a4, LinksCount: 1, SizeLo: 4096}
	if err := fs.WriteInode(ino, &in); err != nil {
		t.Fatalf("WriteInode failed: %v", err)
	}
	want := append(disklayout.Marshal(&in), rec[disklayout.OldInodeSize:]...)

	got := make([]byte, 256)
	if err := fs.ReadInodeFull(ino, got); err != nil {
		t.Fatalf("ReadInodeFull failed: %v", err)
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("cached record mismatch (-want +got):\n%s", diff)
	}

	blk, off, err := fs.inodeLocation(ino)
	if err != nil {
		t.Fatalf("inodeLocation failed: %v", err)
	}
	start := int(blk)*fs.BlockSize() + off
	if diff := cmp.Diff(want, mem.Bytes()[start:start+256]); diff != "" {
		t.Errorf("on-disk record mismatch (-want +got):\n%s", diff)
	}

	var back disklayout.InodeOld
	if err := fs.ReadInode(ino, &back); err != nil {
		t.Fatalf("ReadInode failed: %v", err)
	}
	if diff := cmp.Diff(in, back); diff != "" {
		t.Errorf("ReadInode mismatch (-want +got):\n%s", diff)
	}
}

func TestInodeCacheServesReads(t *testing.T) {
	mem, fs := setUp(t, eightGroups)
	const ino = 15
	if err := fs.WriteInodeFull(ino, pattern(ino, 256)); err != nil {
		t.Fatalf("WriteInodeFull failed: %v", err)
	}
	fs.icache.flush()
	buf := make([]byte, 256)
	if err := fs.ReadInodeFull(ino, buf); err != nil {
		t.Fatalf("ReadInodeFull failed: %v", err)
	}

	// A cached record is served even when the inode table is unreadable.
	blk, _, _ := fs.inodeLocation(ino)
	mem.FailReads(blk)
	before := mem.ReadCalls()
	if err := fs.ReadInodeFull(ino, buf); err != nil {
		t.Fatalf("cached ReadInodeFull failed: %v", err)
	}
	if got := mem.ReadCalls(); got != before {
		t.Errorf("cached read issued %d reads", got-before)
	}

	fs.icache.flush()
	if err := fs.ReadInodeFull(ino, buf); !exterr.Equals(exterr.ErrShortRead, err) {
		t.Errorf("uncached read of a bad block: got %v, want %v", err, exterr.ErrShortRead)
	}
}

func TestInodeErrors(t *testing.T) {
	_, fs := setUp(t, eightGroups)
	buf := make([]byte, 256)

	for _, ino := range []uint32{0, fs.Super.InodesCount + 1} {
		if err := fs.ReadInodeFull(ino, buf); !exterr.Equals(exterr.ErrBadInodeNum, err) {
			t.Errorf("ReadInodeFull(%d): got %v, want %v", ino, err, exterr.ErrBadInodeNum)
		}
		if err := fs.WriteInodeFull(ino, buf); !exterr.Equals(exterr.ErrBadInodeNum, err) {
			t.Errorf("WriteInodeFull(%d): got %v, want %v", ino, err, exterr.ErrBadInodeNum)
		}
	}

	table := fs.GroupDesc(1).InodeTable()
	fs.GroupDesc(1).SetInodeTable(0)
	if err := fs.ReadInodeFull(40, buf); !exterr.Equals(exterr.ErrMissingInodeTable, err) {
		t.Errorf("ReadInodeFull without an inode table: got %v, want %v", err, exterr.ErrMissingInodeTable)
	}
	fs.GroupDesc(1).SetInodeTable(table)

	fs.SetFlags(0, FlagRW)
	if err := fs.WriteInodeFull(40, pattern(40, 256)); !exterr.Equals(exterr.ErrReadOnly, err) {
		t.Errorf("WriteInodeFull on a read-only handle: got %v, want %v", err, exterr.ErrReadOnly)
	}
	if err := fs.ReadInodeFull(40, buf); err != nil {
		t.Fatalf("ReadInodeFull failed: %v", err)
	}
	if diff := cmp.Diff(make([]byte, 256), buf); diff != "" {
		t.Errorf("failed write changed the inode (-want +got):\n%s", diff)
	}
}

func TestWriteInodeFailureDropsStaging(t *testing.T) {
	mem, fs := setUp(t, eightGroups)
	// Inodes 13 and 14 share the fourth inode table block of group 0.
	const ino = 14
	blk, _, _ := fs.inodeLocation(ino)
	buf := make([]byte, 256)
	if err := fs.ReadInodeFull(ino-1, buf); err != nil {
		t.Fatalf("ReadInodeFull failed: %v", err)
	}
	if fs.icache.bufBlk != blk {
		t.Fatalf("staged block = %d, want %d", fs.icache.bufBlk, blk)
	}

	mem.FailWrites(blk)
	if err := fs.WriteInodeFull(ino, pattern(ino, 256)); !exterr.Equals(exterr.ErrShortWrite, err) {
		t.Fatalf("WriteInodeFull: got %v, want %v", err, exterr.ErrShortWrite)
	}
	mem.FailWrites()
	if fs.icache.bufBlk != 0 {
		t.Errorf("staged block %d kept after a failed write", fs.icache.bufBlk)
	}
	if err := fs.ReadInodeFull(ino, buf); err != nil {
		t.Fatalf("ReadInodeFull failed: %v", err)
	}
	if diff := cmp.Diff(make([]byte, 256), buf); diff != "" {
		t.Errorf("inode changed by a failed write (-want +got):\n%s", diff)
	}
}

func TestWriteInodeFailureKeepsCachedRecord(t *testing.T) {
	mem, fs := setUp(t, eightGroups)
	const ino = 14
	blk, _, _ := fs.inodeLocation(ino)
	buf := make([]byte, 256)
	if err := fs.ReadInodeFull(ino, buf); err != nil {
		t.Fatalf("ReadInodeFull failed: %v", err)
	}
	if fs.icache.lookup(ino) < 0 {
		t.Fatalf("inode %d not cached after a read", ino)
	}

	mem.FailWrites(blk)
	if err := fs.WriteInodeFull(ino, pattern(ino, 256)); !exterr.Equals(exterr.ErrShortWrite, err) {
		t.Fatalf("WriteInodeFull: got %v, want %v", err, exterr.ErrShortWrite)
	}
	mem.FailWrites()
	if err := fs.ReadInodeFull(ino, buf); err != nil {
		t.Fatalf("ReadInodeFull failed: %v", err)
	}
	if diff := cmp.Diff(make([]byte, 256), buf); diff != "" {
		t.Errorf("read after a failed write mismatch (-want +got):\n%s", diff)
	}

	// A successful short write refreshes the whole cached record.
	want := make([]byte, 256)
	copy(want, pattern(ino, 100))
	if err := fs.WriteInodeFull(ino, want[:100]); err != nil {
		t.Fatalf("WriteInodeFull failed: %v", err)
	}
	reads := mem.ReadCalls()
	if err := fs.ReadInodeFull(ino, buf); err != nil {
		t.Fatalf("ReadInodeFull failed: %v", err)
	}
	if diff := cmp.Diff(want, buf); diff != "" {
		t.Errorf("read after a write mismatch (-want +got):\n%s", diff)
	}
	if got := mem.ReadCalls(); got != reads {
		t.Errorf("cached read issued %d channel reads", got-reads)
	}
}

func TestWriteNewInode(t *testing.T) {
	_, fs := setUp(t, eightGroups)
	now := uint32(testTime.Unix())

	in := disklayout.InodeOld{Mode: 0x81a4, LinksCount: 1, AccessTime: 42}
	if err := fs.WriteNewInode(12, disklayout.Marshal(&in)); err != nil {
		t.Fatalf("WriteNewInode failed: %v", err)
	}
	rec := make([]byte, 256)
	if err := fs.ReadInodeFull(12, rec); err != nil {
		t.Fatalf("ReadInodeFull failed: %v", err)
	}
	for _, test := range []struct {
		name string
		off  int
		size int
		want uint32
	}{
		{"atime", disklayout.InodeAtimeOffset, 4, 42},
		{"ctime", disklayout.InodeCtimeOffset, 4, now},
		{"mtime", disklayout.InodeMtimeOffset, 4, now},
		{"extra_isize", disklayout.InodeExtraIsizeOffset, 2, disklayout.ExtraIsize},
		{"crtime", disklayout.InodeCrtimeOffset, 4, now},
	} {
		var got uint32
		if test.size == 2 {
			got = uint32(binary.LittleEndian.Uint16(rec[test.off:]))
		} else {
			got = binary.LittleEndian.Uint32(rec[test.off:])
		}
		if got != test.want {
			t.Errorf("%s = %d, want %d", test.name, got, test.want)
		}
	}
}

// tableHandler serves a single inode from memory.
type tableHandler struct {
	ino     uint32
	rec     []byte
	written []byte
}

func (h *tableHandler) ReadInode(_ *Filesystem, ino uint32, buf []byte) (bool, error) {
	if ino != h.ino {
		return false, nil
	}
	copyRecord(buf, h.rec)
	return true, nil
}

func (h *tableHandler) WriteInode(_ *Filesystem, ino uint32, buf []byte) (bool, error) {
	if ino != h.ino {
		return false, nil
	}
	h.written = append([]byte{}, buf...)
	return true, nil
}

func TestInodeIOHandler(t *testing.T) {
	_, fs := setUp(t, eightGroups)
	h := &tableHandler{ino: 12, rec: bytes.Repeat([]byte{0xab}, 256)}
	fs.InodeIO = h

	buf := make([]byte, 256)
	if err := fs.ReadInodeFull(12, buf); err != nil {
		t.Fatalf("ReadInodeFull(12) failed: %v", err)
	}
	if diff := cmp.Diff(h.rec, buf); diff != "" {
		t.Errorf("handled read mismatch (-want +got):\n%s", diff)
	}
	if err := fs.ReadInodeFull(13, buf); err != nil {
		t.Fatalf("ReadInodeFull(13) failed: %v", err)
	}
	if diff := cmp.Diff(make([]byte, 256), buf); diff != "" {
		t.Errorf("default read mismatch (-want +got):\n%s", diff)
	}

	if err := fs.WriteInodeFull(12, pattern(12, 256)); err != nil {
		t.Fatalf("WriteInodeFull(12) failed: %v", err)
	}
	if diff := cmp.Diff(pattern(12, 256), h.written); diff != "" {
		t.Errorf("handled write mismatch (-want +got):\n%s", diff)
	}
	fs.InodeIO = nil
	if err := fs.ReadInodeFull(12, buf); err != nil {
		t.Fatalf("ReadInodeFull(12) failed: %v", err)
	}
	if diff := cmp.Diff(make([]byte, 256), buf); diff != "" {
		t.Errorf("handled write reached the inode table (-want +got):\n%s", diff)
	}
}

func TestInodeCache(t *testing.T) {
	c := newInodeCache(1024, 128)
	for ino := uint32(1); ino <= 5; ino++ {
		c.put(ino, pattern(ino, 128))
	}
	buf := make([]byte, 128)
	if c.get(1, buf) {
		t.Errorf("inode 1 still cached after %d newer insertions", inodeCacheSize)
	}
	for ino := uint32(2); ino <= 5; ino++ {
		if !c.get(ino, buf) {
			t.Errorf("inode %d not cached", ino)
			continue
		}
		if diff := cmp.Diff(pattern(ino, 128), buf); diff != "" {
			t.Errorf("inode %d mismatch (-want +got):\n%s", ino, diff)
		}
	}

	// Entries never alias caller memory.
	rec := pattern(9, 128)
	c.put(9, rec)
	rec[0] ^= 0xff
	c.get(9, buf)
	if buf[0] == rec[0] {
		t.Errorf("cache entry aliases the inserted buffer")
	}
	buf[1] ^= 0xff
	again := make([]byte, 128)
	c.get(9, again)
	if again[1] == buf[1] {
		t.Errorf("cache entry aliases the returned buffer")
	}

	c.update(9, []byte{1, 2})
	c.get(9, buf)
	if diff := cmp.Diff(append([]byte{1, 2}, pattern(9, 128)[2:]...), buf); diff != "" {
		t.Errorf("update mismatch (-want +got):\n%s", diff)
	}
	c.update(100, []byte{1})
	if c.get(100, buf) {
		t.Errorf("update inserted an uncached inode")
	}

	c.bufBlk = 7
	c.flush()
	if c.get(9, buf) || c.bufBlk != 0 {
		t.Errorf("flush left records or the staged block")
	}
}

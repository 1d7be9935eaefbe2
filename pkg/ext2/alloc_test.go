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
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
)

func TestNewBlock(t *testing.T) {
	_, fs := setUp(t, eightGroups)
	for _, test := range []struct {
		name string
		goal uint64
		want uint64
	}{
		{"free goal", 600, 600},
		{"goal on metadata", 513, 515 + 8},
		{"goal out of range", 5000, 13},
		{"goal zero", 0, 13},
		{"last block", 2047, 2047},
	} {
		got, err := fs.NewBlock(test.goal, nil)
		if err != nil {
			t.Errorf("%s: NewBlock(%d) failed: %v", test.name, test.goal, err)
			continue
		}
		if got != test.want {
			t.Errorf("%s: NewBlock(%d) = %d, want %d", test.name, test.goal, got, test.want)
		}
	}

	fs.BlockMap.Mark(2047)
	if got, err := fs.NewBlock(2047, nil); err != nil || got != 13 {
		t.Errorf("NewBlock wrapping around = %d, %v, want 13", got, err)
	}

	full, _, err := fs.newBitmaps()
	if err != nil {
		t.Fatalf("newBitmaps failed: %v", err)
	}
	if err := full.MarkRange(1, 2047); err != nil {
		t.Fatalf("MarkRange failed: %v", err)
	}
	if _, err := fs.NewBlock(100, full); !exterr.Equals(exterr.ErrBlockAllocFail, err) {
		t.Errorf("NewBlock on a full bitmap: got %v, want %v", err, exterr.ErrBlockAllocFail)
	}
}

func TestNewInode(t *testing.T) {
	_, fs := setUp(t, eightGroups)
	for _, test := range []struct {
		dir  uint32
		want uint32
	}{
		{0, 11},
		{2, 11},
		{100, 97},
		{256, 225},
	} {
		if got, err := fs.NewInode(test.dir, nil); err != nil || got != test.want {
			t.Errorf("NewInode(%d) = %d, %v, want %d", test.dir, got, err, test.want)
		}
	}

	if err := fs.InodeMap.MarkRange(225, 32); err != nil {
		t.Fatalf("MarkRange failed: %v", err)
	}
	if got, err := fs.NewInode(256, nil); err != nil || got != 11 {
		t.Errorf("NewInode wrapping around = %d, %v, want 11", got, err)
	}
	if err := fs.InodeMap.MarkRange(1, 256); err != nil {
		t.Fatalf("MarkRange failed: %v", err)
	}
	if _, err := fs.NewInode(0, nil); !exterr.Equals(exterr.ErrInodeAllocFail, err) {
		t.Errorf("NewInode on a full bitmap: got %v, want %v", err, exterr.ErrInodeAllocFail)
	}
}

func TestBlockAllocStats(t *testing.T) {
	_, fs := setUp(t, withCsum(eightGroups))
	free := fs.Super.FreeBlocksCount()
	if !fs.GroupDesc(2).Flags().BlockUninit {
		t.Fatalf("group 2 not flagged BLOCK_UNINIT")
	}
	fs.SetFlags(0, FlagDirty|FlagBBDirty)

	if err := fs.BlockAllocStats(600, true); err != nil {
		t.Fatalf("BlockAllocStats failed: %v", err)
	}
	bg := fs.GroupDesc(2)
	if got := bg.FreeBlocksCount(); got != 245 {
		t.Errorf("group 2 free blocks = %d, want 245", got)
	}
	if got := fs.Super.FreeBlocksCount(); got != free-1 {
		t.Errorf("free blocks = %d, want %d", got, free-1)
	}
	if bg.Flags().BlockUninit {
		t.Errorf("BLOCK_UNINIT kept after an allocation")
	}
	if !fs.BlockMap.Test(600) {
		t.Errorf("block 600 not marked")
	}
	if !fs.VerifyGroupDescCsum(2) {
		t.Errorf("group 2 checksum not updated")
	}
	if want := FlagDirty | FlagBBDirty; fs.Flags()&want != want {
		t.Errorf("flags = %#x, want %#x set", fs.Flags(), want)
	}

	if err := fs.BlockAllocStats(600, false); err != nil {
		t.Fatalf("BlockAllocStats failed: %v", err)
	}
	if got := bg.FreeBlocksCount(); got != 246 {
		t.Errorf("group 2 free blocks = %d after freeing, want 246", got)
	}
	if fs.BlockMap.Test(600) {
		t.Errorf("block 600 still marked")
	}

	for _, blk := range []uint64{0, 2048} {
		if err := fs.BlockAllocStats(blk, true); !exterr.Equals(exterr.ErrBadBlockNum, err) {
			t.Errorf("BlockAllocStats(%d): got %v, want %v", blk, err, exterr.ErrBadBlockNum)
		}
	}
}

func TestInodeAllocStats(t *testing.T) {
	_, fs := setUp(t, withCsum(eightGroups))
	bg := fs.GroupDesc(3)
	if got := bg.ItableUnused(); got != 32 {
		t.Fatalf("group 3 unused inodes = %d, want 32", got)
	}

	for _, test := range []struct {
		ino        uint32
		dir        bool
		wantUnused uint32
	}{
		{101, false, 27},
		{99, true, 27},
		{110, false, 18},
	} {
		if err := fs.InodeAllocStats(test.ino, true, test.dir); err != nil {
			t.Fatalf("InodeAllocStats(%d) failed: %v", test.ino, err)
		}
		if got := bg.ItableUnused(); got != test.wantUnused {
			t.Errorf("after allocating %d: unused inodes = %d, want %d", test.ino, got, test.wantUnused)
		}
	}
	if bg.Flags().InodeUninit {
		t.Errorf("INODE_UNINIT kept after an allocation")
	}
	if got := bg.FreeInodesCount(); got != 29 {
		t.Errorf("free inodes = %d, want 29", got)
	}
	if got := fs.NumDirs(); got != 1 {
		t.Errorf("NumDirs() = %d, want 1", got)
	}
	if !fs.VerifyGroupDescCsum(3) {
		t.Errorf("group 3 checksum not updated")
	}

	if err := fs.InodeAllocStats(99, false, true); err != nil {
		t.Fatalf("InodeAllocStats failed: %v", err)
	}
	if got := fs.NumDirs(); got != 0 {
		t.Errorf("NumDirs() = %d after freeing the directory, want 0", got)
	}
	if err := fs.InodeAllocStats(0, true, false); !exterr.Equals(exterr.ErrBadInodeNum, err) {
		t.Errorf("InodeAllocStats(0): got %v, want %v", err, exterr.ErrBadInodeNum)
	}
}

func TestBitmapsRoundTrip(t *testing.T) {
	for _, test := range []struct {
		name string
		p    InitParams
	}{
		{"plain", eightGroups},
		{"gdt_csum", withCsum(eightGroups)},
	} {
		t.Run(test.name, func(t *testing.T) {
			mem, fs := setUp(t, test.p)
			for _, goal := range []uint64{600, 1800, 13} {
				blk, err := fs.NewBlock(goal, nil)
				if err != nil {
					t.Fatalf("NewBlock(%d) failed: %v", goal, err)
				}
				if err := fs.BlockAllocStats(blk, true); err != nil {
					t.Fatalf("BlockAllocStats(%d) failed: %v", blk, err)
				}
			}
			for _, dir := range []uint32{0, 100, 200} {
				ino, err := fs.NewInode(dir, nil)
				if err != nil {
					t.Fatalf("NewInode(%d) failed: %v", dir, err)
				}
				if err := fs.InodeAllocStats(ino, true, false); err != nil {
					t.Fatalf("InodeAllocStats(%d) failed: %v", ino, err)
				}
			}

			old := fs
			fs = reopen(t, mem, fs, true)
			if fs.BlockMap != nil || fs.InodeMap != nil {
				t.Fatalf("Open loaded the bitmaps")
			}
			if err := fs.ReadBitmaps(); err != nil {
				t.Fatalf("ReadBitmaps failed: %v", err)
			}
			for blk := uint64(1); blk < fs.Super.BlocksCount(); blk++ {
				if got, want := fs.BlockMap.Test(blk), old.BlockMap.Test(blk); got != want {
					t.Errorf("block %d: marked %t, want %t", blk, got, want)
				}
			}
			for ino := uint64(1); ino <= uint64(fs.Super.InodesCount); ino++ {
				if got, want := fs.InodeMap.Test(ino), old.InodeMap.Test(ino); got != want {
					t.Errorf("inode %d: marked %t, want %t", ino, got, want)
				}
			}
			for g := uint32(0); g < fs.GroupCount(); g++ {
				if diff := cmp.Diff(*old.GroupDesc(g), *fs.GroupDesc(g)); diff != "" {
					t.Errorf("group %d descriptor mismatch (-want +got):\n%s", g, diff)
				}
			}
			if fs.Flags()&(FlagBBDirty|FlagIBDirty) != 0 {
				t.Errorf("bitmaps dirty after ReadBitmaps")
			}
		})
	}
}

func TestWriteBitmapsPadding(t *testing.T) {
	mem, fs := setUp(t, eightGroups)
	if err := fs.WriteBitmaps(); err != nil {
		t.Fatalf("WriteBitmaps failed: %v", err)
	}
	// The last group has 255 blocks: bit 255 of its bitmap is padding.
	bb := int(fs.GroupDesc(7).BlockBitmap()) * fs.BlockSize()
	if got := mem.Bytes()[bb+31]; got&0x80 == 0 {
		t.Errorf("padding bit of the last block bitmap clear: %#x", got)
	}
	if got := mem.Bytes()[bb+fs.BlockSize()-1]; got != 0xff {
		t.Errorf("bitmap block tail = %#x, want 0xff", got)
	}
	// 32 inodes per group: every byte past the fourth is padding.
	ib := int(fs.GroupDesc(1).InodeBitmap()) * fs.BlockSize()
	if diff := cmp.Diff([]byte{0, 0, 0, 0, 0xff}, mem.Bytes()[ib:ib+5]); diff != "" {
		t.Errorf("group 1 inode bitmap mismatch (-want +got):\n%s", diff)
	}

	fs.SetFlags(0, FlagRW)
	fs.MarkBBDirty()
	if err := fs.WriteBitmaps(); !exterr.Equals(exterr.ErrReadOnly, err) {
		t.Errorf("WriteBitmaps on a read-only handle: got %v, want %v", err, exterr.ErrReadOnly)
	}
}

func TestGroupDescCsum(t *testing.T) {
	_, fs := setUp(t, withCsum(eightGroups))
	for g := uint32(0); g < fs.GroupCount(); g++ {
		if !fs.VerifyGroupDescCsum(g) {
			t.Errorf("group %d checksum does not verify after Initialize", g)
		}
	}

	bg := fs.GroupDesc(2)
	bg.SetFreeBlocksCount(bg.FreeBlocksCount() - 1)
	if fs.VerifyGroupDescCsum(2) {
		t.Errorf("modified descriptor still verifies")
	}
	fs.SetGroupDescCsum(2)
	if !fs.VerifyGroupDescCsum(2) {
		t.Errorf("descriptor does not verify after SetGroupDescCsum")
	}

	sum := fs.GroupDescCsum(2)
	fs.Super.UUID[0] ^= 1
	if fs.GroupDescCsum(2) == sum {
		t.Errorf("checksum independent of the filesystem UUID")
	}
	fs.Super.UUID[0] ^= 1

	fs.Super.FeatureRoCompat &^= disklayout.SbRoCompatGdtCsum
	bg.Checksum ^= 0xffff
	if !fs.VerifyGroupDescCsum(2) {
		t.Errorf("checksum verified without the GDT checksum feature")
	}
}

func TestSetGDTCsum(t *testing.T) {
	_, fs := setUp(t, withCsum(eightGroups))
	if err := fs.InodeAllocStats(101, true, false); err != nil {
		t.Fatalf("InodeAllocStats failed: %v", err)
	}
	if err := fs.InodeAllocStats(101, false, false); err != nil {
		t.Fatalf("InodeAllocStats failed: %v", err)
	}
	fs.SetFlags(0, FlagDirty)

	if err := fs.SetGDTCsum(); err != nil {
		t.Fatalf("SetGDTCsum failed: %v", err)
	}
	if fs.Flags()&FlagDirty == 0 {
		t.Errorf("SetGDTCsum changed descriptors without marking them dirty")
	}
	for _, test := range []struct {
		group      uint32
		wantUninit bool
		wantUnused uint32
	}{
		{0, false, 22},
		{3, true, 32},
		{7, true, 32},
	} {
		bg := fs.GroupDesc(test.group)
		if got := bg.Flags().InodeUninit; got != test.wantUninit {
			t.Errorf("group %d INODE_UNINIT = %t, want %t", test.group, got, test.wantUninit)
		}
		if got := bg.ItableUnused(); got != test.wantUnused {
			t.Errorf("group %d unused inodes = %d, want %d", test.group, got, test.wantUnused)
		}
		if !fs.VerifyGroupDescCsum(test.group) {
			t.Errorf("group %d checksum does not verify", test.group)
		}
	}

	fs.SetFlags(0, FlagDirty)
	if err := fs.SetGDTCsum(); err != nil {
		t.Fatalf("SetGDTCsum failed: %v", err)
	}
	if fs.Flags()&FlagDirty != 0 {
		t.Errorf("unchanged descriptors marked dirty")
	}

	fs.InodeMap = nil
	if err := fs.SetGDTCsum(); !exterr.Equals(exterr.ErrUnimplemented, err) {
		t.Errorf("SetGDTCsum without an inode bitmap: got %v, want %v", err, exterr.ErrUnimplemented)
	}
}

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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/e2meta/e2meta/pkg/blockio"
	"github.com/e2meta/e2meta/pkg/errors"
	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
)

func TestOpen(t *testing.T) {
	mem, fs := setUp(t, eightGroups)
	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	got, err := Open(mem, OpenOptions{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if diff := cmp.Diff(fs.Super, got.Super); diff != "" {
		t.Errorf("superblock mismatch (-want +got):\n%s", diff)
	}
	for g := uint32(0); g < fs.GroupCount(); g++ {
		if diff := cmp.Diff(*fs.GroupDesc(g), *got.GroupDesc(g)); diff != "" {
			t.Errorf("group %d descriptor mismatch (-want +got):\n%s", g, diff)
		}
	}
	if got.Flags()&FlagRW != 0 {
		t.Errorf("read-only open is writable")
	}
}

func TestOpenErrors(t *testing.T) {
	for _, test := range []struct {
		name  string
		p     InitParams
		opts  OpenOptions
		patch func(img []byte)
		want  *errors.Error
	}{
		{
			name: "bad magic",
			p:    eightGroups,
			patch: func(img []byte) {
				clear(img[disklayout.SbOffset : 2*disklayout.SbOffset])
			},
			want: exterr.ErrBadMagic,
		},
		{
			name: "unsupported incompat feature",
			p: InitParams{
				BlocksCount:     2048,
				BlocksPerGroup:  256,
				FeatureRoCompat: disklayout.SbRoCompatSparseSuper,
				FeatureIncompat: disklayout.SbIncompatCompression,
			},
			want: exterr.ErrUnsupportedFeature,
		},
		{
			name: "unsupported ro_compat feature",
			p: InitParams{
				BlocksCount:     2048,
				BlocksPerGroup:  256,
				FeatureRoCompat: disklayout.SbRoCompatSparseSuper | disklayout.SbRoCompatMetadataCsum,
			},
			opts: OpenOptions{ReadWrite: true},
			want: exterr.ErrUnsupportedFeature,
		},
		{
			name: "bad descriptor checksum",
			p:    withCsum(eightGroups),
			patch: func(img []byte) {
				img[2*1024] ^= 0xff
			},
			want: exterr.ErrGDescBadChecksum,
		},
		{
			name: "backup without block size",
			p:    eightGroups,
			opts: OpenOptions{SuperBlock: 257},
			want: exterr.ErrBadBlockNum,
		},
	} {
		t.Run(test.name, func(t *testing.T) {
			mem, fs := setUp(t, test.p)
			if err := fs.Close(); err != nil {
				t.Fatalf("Close failed: %v", err)
			}
			if test.patch != nil {
				test.patch(mem.Bytes())
			}
			if _, err := Open(mem, test.opts); !exterr.Equals(test.want, err) {
				t.Errorf("Open: got %v, want %v", err, test.want)
			}
		})
	}
}

func TestOpenReadOnlyCompat(t *testing.T) {
	p := eightGroups
	p.FeatureRoCompat = disklayout.SbRoCompatSparseSuper | disklayout.SbRoCompatMetadataCsum
	mem, fs := setUp(t, p)
	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := Open(mem, OpenOptions{}); err != nil {
		t.Errorf("read-only Open with an unknown ro_compat feature failed: %v", err)
	}
}

func TestOpenIgnoreChecksumErrors(t *testing.T) {
	mem, fs := setUp(t, withCsum(eightGroups))
	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	mem.Bytes()[2*1024] ^= 0xff
	fs, err := Open(mem, OpenOptions{IgnoreChecksumErrors: true})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	if fs.VerifyGroupDescCsum(0) {
		t.Errorf("corrupted descriptor verifies")
	}
}

func TestOpenBackupSuperblock(t *testing.T) {
	mem, fs := setUp(t, eightGroups)
	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	backup, err := Open(mem, OpenOptions{SuperBlock: 257, BlockSize: 1024})
	if err != nil {
		t.Fatalf("Open from the group 1 backup failed: %v", err)
	}
	if backup.origSuper != nil {
		t.Errorf("backup open remembered a primary superblock image")
	}
	if got := backup.Super.BlockGroupNr; got != 1 {
		t.Errorf("backup block_group_nr = %d, want 1", got)
	}
	for g := uint32(0); g < fs.GroupCount(); g++ {
		if diff := cmp.Diff(*fs.GroupDesc(g), *backup.GroupDesc(g)); diff != "" {
			t.Errorf("group %d descriptor mismatch (-want +got):\n%s", g, diff)
		}
	}
}

func TestOpenBackupClearsUninit(t *testing.T) {
	mem, fs := setUp(t, withCsum(eightGroups))
	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	fs, err := Open(mem, OpenOptions{SuperBlock: 769, BlockSize: 1024, ReadWrite: true, Clock: testClock})
	if err != nil {
		t.Fatalf("Open from the group 3 backup failed: %v", err)
	}
	for g := uint32(0); g < fs.GroupCount(); g++ {
		bg := fs.GroupDesc(g)
		flags := bg.Flags()
		if flags.BlockUninit || flags.InodeUninit || bg.ItableUnused() != 0 {
			t.Errorf("group %d: flags %+v, %d unused inodes, want no uninit hints", g, flags, bg.ItableUnused())
		}
		if !fs.VerifyGroupDescCsum(g) {
			t.Errorf("group %d checksum does not verify", g)
		}
	}
	if fs.Flags()&FlagDirty == 0 {
		t.Errorf("backup open did not schedule a flush")
	}

	// The full superblock is written: no primary image is known.
	mem.ResetWrites()
	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	want := []blockio.Extent{{Off: disklayout.SbOffset, Len: disklayout.SbSize}}
	if diff := cmp.Diff(want, writesIn(mem, disklayout.SbOffset, 2*disklayout.SbOffset)); diff != "" {
		t.Errorf("primary superblock writes mismatch (-want +got):\n%s", diff)
	}
	if _, err := Open(mem, OpenOptions{}); err != nil {
		t.Errorf("Open of the repaired primary failed: %v", err)
	}
}

func TestMakeRootDir(t *testing.T) {
	mem, fs := setUp(t, eightGroups)
	fs.InitDBList()
	if err := fs.MakeRootDir(); err != nil {
		t.Fatalf("MakeRootDir failed: %v", err)
	}

	var root disklayout.InodeOld
	if err := fs.ReadInode(disklayout.RootIno, &root); err != nil {
		t.Fatalf("ReadInode failed: %v", err)
	}
	if !root.IsDir() || root.LinksCount != 2 || root.Size() != 1024 || root.BlocksCountLo != 2 {
		t.Errorf("root inode = %+v, want a one block directory with two links", root)
	}
	if root.ChangeTime != int32(testTime.Unix()) {
		t.Errorf("root ctime = %d, want %d", root.ChangeTime, testTime.Unix())
	}
	blk := uint64(root.Block[0])
	if blk != 13 {
		t.Errorf("root directory block = %d, want 13", blk)
	}

	img := mem.Bytes()[blk*1024 : (blk+1)*1024]
	var dot, dotdot disklayout.DirentHeader
	disklayout.Unmarshal(img[:disklayout.DirentHeaderSize], &dot)
	disklayout.Unmarshal(img[12:12+disklayout.DirentHeaderSize], &dotdot)
	wantDot := disklayout.DirentHeader{InodeNumber: 2, RecordLength: 12, NameLength: 1}
	wantDotdot := disklayout.DirentHeader{InodeNumber: 2, RecordLength: 1012, NameLength: 2}
	if diff := cmp.Diff(wantDot, dot); diff != "" {
		t.Errorf(`"." entry mismatch (-want +got):\n%s`, diff)
	}
	if diff := cmp.Diff(wantDotdot, dotdot); diff != "" {
		t.Errorf(`".." entry mismatch (-want +got):\n%s`, diff)
	}
	if got := string(img[8:9]) + "|" + string(img[20:22]); got != ".|.." {
		t.Errorf("entry names = %q, want %q", got, ".|..")
	}

	if got := fs.NumDirs(); got != 1 {
		t.Errorf("NumDirs() = %d, want 1", got)
	}
	last, err := fs.DBList().GetLast()
	if err != nil {
		t.Fatalf("GetLast failed: %v", err)
	}
	if diff := cmp.Diff(DirBlock{Ino: 2, Blk: 13}, last); diff != "" {
		t.Errorf("directory block list mismatch (-want +got):\n%s", diff)
	}
	if err := fs.MakeRootDir(); err == nil {
		t.Errorf("second MakeRootDir succeeded")
	}

	fs = reopen(t, mem, fs, false)
	if err := fs.ReadBitmaps(); err != nil {
		t.Fatalf("ReadBitmaps failed: %v", err)
	}
	if !fs.InodeMap.Test(disklayout.RootIno) || !fs.BlockMap.Test(blk) {
		t.Errorf("root inode or block not allocated on disk")
	}
}

func TestFileChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fs.img")
	if err := os.WriteFile(path, make([]byte, 2048*1024), 0o644); err != nil {
		t.Fatalf("creating image failed: %v", err)
	}

	ch, err := blockio.OpenFile(path, true)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	p := eightGroups
	p.Clock = testClock
	fs, err := Initialize(ch, p)
	if err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	if err := fs.MakeRootDir(); err != nil {
		t.Fatalf("MakeRootDir failed: %v", err)
	}
	if err := fs.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	ch, err = blockio.OpenFile(path, false)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	fs, err = Open(ch, OpenOptions{})
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer fs.Close()
	var root disklayout.InodeOld
	if err := fs.ReadInode(disklayout.RootIno, &root); err != nil {
		t.Fatalf("ReadInode failed: %v", err)
	}
	if !root.IsDir() {
		t.Errorf("root inode mode %#o is not a directory", root.Mode)
	}
	if fs.Super.KbytesWritten <= 1 {
		t.Errorf("KbytesWritten = %d, want the bytes of Initialize accounted", fs.Super.KbytesWritten)
	}
}

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

	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
)

// Mode bits of a new directory.
const dirMode = 0x4000 | 0o755

// dirBlockImage returns a directory block holding only the "." and ".."
// entries.
func (fs *Filesystem) dirBlockImage(ino, parent uint32) []byte {
	var ftype uint8
	if fs.Super.HasIncompat(disklayout.SbIncompatFileType) {
		ftype = disklayout.FileTypeDir
	}
	buf := make([]byte, fs.blockSize)
	n := disklayout.PutDirent(buf, ino, disklayout.DirentRecLen(1), ".", ftype)
	disklayout.PutDirent(buf[n:], parent, fs.blockSize-n, "..", ftype)
	return buf
}

// MakeRootDir creates the root directory with a single block holding "."
// and "..". The block and inode bitmaps must be loaded.
func (fs *Filesystem) MakeRootDir() error {
	if err := fs.checkRW(); err != nil {
		return err
	}
	const ino = disklayout.RootIno
	if fs.InodeMap == nil || fs.BlockMap == nil {
		return fmt.Errorf("creating root directory: bitmaps not loaded")
	}
	if fs.InodeMap.Test(ino) {
		return fmt.Errorf("creating root directory: inode %d in use", ino)
	}

	blk, err := fs.NewBlock(fs.GroupFirstBlock(0), nil)
	if err != nil {
		return err
	}
	if err := fs.ch.WriteBlocks(blk, 1, fs.dirBlockImage(ino, ino)); err != nil {
		return fmt.Errorf("writing root directory block %d: %w", blk, err)
	}
	if err := fs.BlockAllocStats(blk, true); err != nil {
		return err
	}

	in := disklayout.InodeOld{
		Mode:          dirMode,
		SizeLo:        uint32(fs.blockSize),
		LinksCount:    2,
		BlocksCountLo: uint32(fs.blockSize / 512),
	}
	in.Block[0] = uint32(blk)
	if err := fs.WriteNewInode(ino, disklayout.Marshal(&in)); err != nil {
		return err
	}
	if err := fs.InodeAllocStats(ino, true, true); err != nil {
		return err
	}
	if fs.dblist != nil {
		fs.dblist.Add(ino, blk, 0)
	}
	return nil
}

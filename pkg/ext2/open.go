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

	"github.com/e2meta/e2meta/pkg/blockio"
	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
	"github.com/e2meta/e2meta/pkg/log"
)

// OpenOptions control Open.
type OpenOptions struct {
	// ReadWrite allows writes through the handle.
	ReadWrite bool

	// SuperBlock, if nonzero, is the block of a backup superblock to open
	// from, in units of BlockSize, which is then required.
	SuperBlock uint64
	BlockSize  int

	// IgnoreChecksumErrors opens filesystems with bad descriptor checksums.
	IgnoreChecksumErrors bool

	// Clock stamps on-disk times. If nil, time.Now is used.
	Clock Clock
}

// readSuper reads the superblock image selected by opts.
func readSuper(ch blockio.Channel, opts *OpenOptions) ([]byte, error) {
	img := make([]byte, disklayout.SbSize)
	blk, bs := uint64(1), disklayout.SbOffset
	if opts.SuperBlock != 0 {
		if opts.BlockSize == 0 {
			return nil, fmt.Errorf("%s: a block size is required to open backup superblock %d: %w",
				ch.Name(), opts.SuperBlock, exterr.ErrBadBlockNum)
		}
		blk, bs = opts.SuperBlock, opts.BlockSize
	}
	if err := ch.SetBlockSize(bs); err != nil {
		return nil, err
	}
	if err := ch.ReadBlocks(blk, -disklayout.SbSize, img); err != nil {
		return nil, fmt.Errorf("%s: reading superblock at block %d: %w", ch.Name(), blk, err)
	}
	return img, nil
}

// descriptorBlock returns the location of block i of the descriptor table
// for a superblock at groupBlock.
func (fs *Filesystem) descriptorBlock(groupBlock uint64, i uint64) uint64 {
	if !fs.Super.HasIncompat(disklayout.SbIncompatMetaBG) || i < uint64(fs.Super.FirstMetaBg) {
		return groupBlock + i + 1
	}
	bg := uint32(i) * uint32(fs.Super.DescPerBlock())
	// Opening from a backup superblock uses the backup copy held by the
	// second group of the meta block group.
	if groupBlock != uint64(fs.Super.FirstDataBlock) && bg+1 < fs.groupCount {
		bg++
	}
	blk := fs.GroupFirstBlock(bg)
	if fs.HasSuper(bg) {
		blk++
	}
	return blk
}

// Open opens the filesystem on ch: the superblock is read and checked, then
// the group descriptors. Bitmaps are loaded on demand by ReadBitmaps.
func Open(ch blockio.Channel, opts OpenOptions) (*Filesystem, error) {
	img, err := readSuper(ch, &opts)
	if err != nil {
		return nil, err
	}
	var sb disklayout.SuperBlock
	disklayout.Unmarshal(img, &sb)
	fs, err := newFilesystem(ch, &sb)
	if err != nil {
		return nil, err
	}
	fs.Clock = opts.Clock
	if opts.SuperBlock != 0 && fs.blockSize != opts.BlockSize {
		return nil, fmt.Errorf("%s: superblock says %d byte blocks, want %d: %w",
			ch.Name(), fs.blockSize, opts.BlockSize, exterr.ErrCorruptSuperblock)
	}
	if f := sb.FeatureIncompat &^ disklayout.SbIncompatSupported; f != 0 {
		return nil, fmt.Errorf("%s: incompat features %#x: %w", ch.Name(), f, exterr.ErrUnsupportedFeature)
	}
	if f := sb.FeatureRoCompat &^ disklayout.SbRoCompatSupported; opts.ReadWrite && f != 0 {
		return nil, fmt.Errorf("%s: ro_compat features %#x: %w", ch.Name(), f, exterr.ErrUnsupportedFeature)
	}
	if err := ch.SetBlockSize(fs.blockSize); err != nil {
		return nil, err
	}

	groupBlock := uint64(fs.Super.FirstDataBlock)
	if groupBlock == 0 && fs.blockSize == disklayout.MinBlockSize {
		groupBlock = 1
	}
	if opts.SuperBlock != 0 {
		groupBlock = opts.SuperBlock
	}
	descs := make([]byte, fs.descBlocks*uint64(fs.blockSize))
	for i := uint64(0); i < fs.descBlocks; i++ {
		blk := fs.descriptorBlock(groupBlock, i)
		if err := ch.ReadBlocks(blk, 1, descs[i*uint64(fs.blockSize):]); err != nil {
			return nil, fmt.Errorf("%s: reading group descriptors at block %d: %w", ch.Name(), blk, err)
		}
	}
	ds := fs.Super.DescSize()
	for g := range fs.groupDescs {
		fs.groupDescs[g].UnmarshalDesc(descs[g*ds : (g+1)*ds])
	}
	if err := fs.verifyGroupDescs(); err != nil {
		if !opts.IgnoreChecksumErrors {
			return nil, fmt.Errorf("%s: %w", ch.Name(), err)
		}
		log.Warningf("%s: ignoring descriptor checksum errors: %v", ch.Name(), err)
	}

	if opts.ReadWrite {
		fs.flags |= FlagRW
	}
	if opts.SuperBlock == 0 {
		fs.origSuper = img
	} else if opts.SuperBlock > 1 && fs.Super.HasGroupDescCsum() && opts.ReadWrite {
		// Uninit hints in backup descriptors may be stale.
		for g := uint32(0); g < fs.groupCount; g++ {
			bg := &fs.groupDescs[g]
			flags := bg.Flags()
			flags.BlockUninit, flags.InodeUninit = false, false
			bg.SetFlags(flags)
			bg.SetItableUnused(0)
			fs.SetGroupDescCsum(g)
		}
		fs.MarkSuperDirty()
	}
	log.Debugf("%s: opened %d blocks of %d bytes, %d groups, %d inodes", ch.Name(),
		fs.Super.BlocksCount(), fs.blockSize, fs.groupCount, fs.Super.InodesCount)
	return fs, nil
}

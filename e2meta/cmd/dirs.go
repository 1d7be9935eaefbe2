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

package cmd

import (
	"context"
	"flag"
	"os"

	"github.com/e2meta/e2meta/e2meta/config"
	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/ext2"
	"github.com/e2meta/e2meta/pkg/ext2/disklayout"
	"github.com/e2meta/e2meta/pkg/log"
	"github.com/google/subcommands"
)

// Dirs implements subcommands.Command for the "dirs" command.
type Dirs struct {
	byInode bool
}

// Name implements subcommands.Command.Name.
func (*Dirs) Name() string {
	return "dirs"
}

// Synopsis implements subcommands.Command.Synopsis.
func (*Dirs) Synopsis() string {
	return "list the blocks of every directory"
}

// Usage implements subcommands.Command.Usage.
func (*Dirs) Usage() string {
	return `dirs [flags] <image> - list the blocks of every directory

Blocks are listed in disk order, which is the order a checker reads them in.
`
}

// SetFlags implements subcommands.Command.SetFlags.
func (d *Dirs) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&d.byInode, "by-inode", false, "order blocks by directory and logical block instead.")
}

// Execute implements subcommands.Command.Execute.
func (d *Dirs) Execute(_ context.Context, f *flag.FlagSet, args ...any) subcommands.ExitStatus {
	if f.NArg() != 1 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	conf := args[0].(*config.Config)

	fs, err := openImage(conf, f.Arg(0))
	if err != nil {
		Fatalf("%v", err)
	}
	l, err := collectDirBlocks(fs, conf)
	if err != nil {
		Fatalf("collecting directory blocks of %q: %v", f.Arg(0), err)
	}
	if d.byInode {
		l.Sort(compareByInode)
	}
	blocks, err := listDirBlocks(l)
	if err != nil {
		Fatalf("%v", err)
	}
	if err := writeYAML(os.Stdout, blocks); err != nil {
		Fatalf("%v", err)
	}
	if err := closeImage(fs); err != nil {
		Fatalf("closing %q: %v", f.Arg(0), err)
	}
	return subcommands.ExitSuccess
}

// dirBlockInfo is the printed form of a directory block.
type dirBlockInfo struct {
	Ino     uint32 `yaml:"ino"`
	Block   uint64 `yaml:"block"`
	Logical int64  `yaml:"logical"`
}

// collectDirBlocks scans fs for directories and records their data blocks in
// a fresh directory block list of fs, sorted in disk order.
func collectDirBlocks(fs *ext2.Filesystem, conf *config.Config) (*ext2.DBList, error) {
	var dirs []uint32
	err := walkInodes(fs, conf, func(ino uint32, in *disklayout.InodeOld, bad bool) error {
		if !bad && in.InUse() && in.IsDir() {
			dirs = append(dirs, ino)
		}
		return nil
	}, nil)
	if err != nil {
		return nil, err
	}

	l := fs.InitDBList()
	for _, ino := range dirs {
		err := fs.BlockIterate(ino, func(blk uint64, blockcnt int64) error {
			if blockcnt >= 0 {
				l.Add(ino, blk, blockcnt)
			}
			return nil
		})
		if exterr.Equals(exterr.ErrExtentMapped, err) {
			log.Warningf("skipping directory %d: %v", ino, err)
			continue
		}
		if err != nil {
			return nil, err
		}
	}
	l.Sort(ext2.CompareDirBlocks)
	log.Debugf("collected %d blocks of %d directories", l.Count(), len(dirs))
	return l, nil
}

// compareByInode orders directory blocks by inode and logical index.
func compareByInode(a, b ext2.DirBlock) int {
	switch {
	case a.Ino < b.Ino:
		return -1
	case a.Ino > b.Ino:
		return 1
	case a.BlockCnt < b.BlockCnt:
		return -1
	case a.BlockCnt > b.BlockCnt:
		return 1
	}
	return 0
}

func listDirBlocks(l *ext2.DBList) ([]dirBlockInfo, error) {
	blocks := make([]dirBlockInfo, 0, l.Count())
	err := l.Iterate(func(db *ext2.DirBlock) error {
		blocks = append(blocks, dirBlockInfo{Ino: db.Ino, Block: db.Blk, Logical: db.BlockCnt})
		return nil
	})
	return blocks, err
}

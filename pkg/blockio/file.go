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

package blockio

import (
	"fmt"
	"io"
	"sync"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/e2meta/e2meta/pkg/errors/exterr"
	"github.com/e2meta/e2meta/pkg/fd"
	"github.com/e2meta/e2meta/pkg/log"
)

// FileChannel is a Channel over an image file or block device.
//
// The image is locked for the lifetime of the channel: exclusively when
// opened for writing and shared otherwise, so two writers never interleave
// metadata updates.
type FileChannel struct {
	path string
	file *fd.FD
	lock *flock.Flock

	mu        sync.Mutex
	blockSize int
	stats     Stats
}

var _ Channel = (*FileChannel)(nil)

// OpenFile opens the image at path.
func OpenFile(path string, writable bool) (*FileChannel, error) {
	l := flock.NewFlock(path)
	var (
		locked bool
		err    error
	)
	if writable {
		locked, err = l.TryLock()
	} else {
		locked, err = l.TryRLock()
	}
	if err != nil {
		return nil, fmt.Errorf("error acquiring lock on %q: %v", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("image %q is locked by another process", path)
	}

	mode := unix.O_RDONLY
	if writable {
		mode = unix.O_RDWR
	}
	f, err := fd.Open(path, mode, 0)
	if err != nil {
		l.Unlock()
		return nil, fmt.Errorf("error opening %q: %v", path, err)
	}
	log.Debugf("Opened %q writable=%t", path, writable)
	return &FileChannel{
		path:      path,
		file:      f,
		lock:      l,
		blockSize: 1024,
	}, nil
}

// Name implements Channel.Name.
func (c *FileChannel) Name() string { return c.path }

// BlockSize implements Channel.BlockSize.
func (c *FileChannel) BlockSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.blockSize
}

// SetBlockSize implements Channel.SetBlockSize.
func (c *FileChannel) SetBlockSize(size int) error {
	if err := validBlockSize(size); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blockSize = size
	return nil
}

// ReadBlocks implements Channel.ReadBlocks.
func (c *FileChannel) ReadBlocks(blk uint64, count int, buf []byte) error {
	c.mu.Lock()
	bs := c.blockSize
	c.mu.Unlock()
	size, err := checkTransfer(bs, count, buf)
	if err != nil {
		return err
	}
	n, err := c.file.ReadAt(buf[:size], int64(blk)*int64(bs))
	c.account(uint64(n), 0)
	if err == io.EOF {
		// A short image reads as zeroes, matching a sparse file.
		for i := n; i < size; i++ {
			buf[i] = 0
		}
		return fmt.Errorf("%s: read of block %d: %w", c.path, blk, exterr.ErrShortRead)
	}
	if err != nil {
		return fmt.Errorf("%s: read of block %d: %v: %w", c.path, blk, err, exterr.ErrShortRead)
	}
	return nil
}

// WriteBlocks implements Channel.WriteBlocks.
func (c *FileChannel) WriteBlocks(blk uint64, count int, buf []byte) error {
	c.mu.Lock()
	bs := c.blockSize
	c.mu.Unlock()
	size, err := checkTransfer(bs, count, buf)
	if err != nil {
		return err
	}
	return c.writeAt(int64(blk)*int64(bs), buf[:size])
}

// WriteBytes implements Channel.WriteBytes.
func (c *FileChannel) WriteBytes(off int64, buf []byte) error {
	return c.writeAt(off, buf)
}

func (c *FileChannel) writeAt(off int64, buf []byte) error {
	n, err := c.file.WriteAt(buf, off)
	c.account(0, uint64(n))
	if err != nil {
		return fmt.Errorf("%s: write at offset %d: %v: %w", c.path, off, err, exterr.ErrShortWrite)
	}
	return nil
}

func (c *FileChannel) account(read, written uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stats.BytesRead += read
	c.stats.BytesWritten += written
}

// Flush implements Channel.Flush.
func (c *FileChannel) Flush() error {
	if err := c.file.Sync(); err != nil {
		return fmt.Errorf("%s: fdatasync: %v", c.path, err)
	}
	return nil
}

// Stats implements Channel.Stats.
func (c *FileChannel) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close implements Channel.Close.
func (c *FileChannel) Close() error {
	err := c.file.Close()
	if uerr := c.lock.Unlock(); err == nil {
		err = uerr
	}
	return err
}

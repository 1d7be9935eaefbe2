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

// Package blockio provides block-granular access to a filesystem image.
//
// A Channel addresses its backing store in units of its current block size.
// The count passed to ReadBlocks and WriteBlocks is a number of blocks when
// positive and a number of bytes when negative, so that a caller can move a
// partial block, such as the 1024 byte superblock, without changing the block
// size.
package blockio

import (
	"fmt"
)

// Stats are the cumulative I/O counters of a channel.
type Stats struct {
	BytesRead    uint64 `json:"bytes_read" yaml:"bytes_read"`
	BytesWritten uint64 `json:"bytes_written" yaml:"bytes_written"`
}

// Channel is a block device.
type Channel interface {
	// Name identifies the backing store in messages.
	Name() string

	// BlockSize returns the current block size in bytes.
	BlockSize() int

	// SetBlockSize changes the unit of ReadBlocks and WriteBlocks.
	SetBlockSize(size int) error

	// ReadBlocks fills buf with count units starting at block blk.
	ReadBlocks(blk uint64, count int, buf []byte) error

	// WriteBlocks writes count units from buf starting at block blk.
	WriteBlocks(blk uint64, count int, buf []byte) error

	// WriteBytes writes buf at byte offset off. Channels that cannot write
	// at byte granularity return exterr.ErrUnimplemented.
	WriteBytes(off int64, buf []byte) error

	// Flush pushes written data to stable storage.
	Flush() error

	// Stats returns the I/O counters.
	Stats() Stats

	// Close releases the backing store.
	Close() error
}

// TransferSize returns the number of bytes moved by an I/O of count units
// with the given block size.
func TransferSize(blockSize, count int) int {
	if count < 0 {
		return -count
	}
	return count * blockSize
}

// checkTransfer validates a ReadBlocks or WriteBlocks request.
func checkTransfer(blockSize, count int, buf []byte) (int, error) {
	size := TransferSize(blockSize, count)
	if len(buf) < size {
		return 0, fmt.Errorf("buffer of %d bytes too small for a %d byte transfer", len(buf), size)
	}
	return size, nil
}

// validBlockSize reports whether size is a power of two no smaller than a
// sector.
func validBlockSize(size int) error {
	if size < 512 || size&(size-1) != 0 {
		return fmt.Errorf("invalid block size %d", size)
	}
	return nil
}

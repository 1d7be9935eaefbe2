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
	"sync"

	"github.com/e2meta/e2meta/pkg/errors/exterr"
)

// Extent is a byte range touched by an I/O.
type Extent struct {
	Off int64
	Len int
}

// MemChannel is a Channel backed by a byte slice. It records every write and
// can be told to fail reads of chosen blocks, which makes it the channel of
// choice for tests.
type MemChannel struct {
	mu sync.Mutex

	name      string
	data      []byte
	blockSize int
	stats     Stats

	// readCalls counts ReadBlocks calls.
	readCalls int

	// writes records every successful write in order.
	writes []Extent

	// badBlocks are block numbers, in units of 1024 bytes, whose reads fail.
	badBlocks map[uint64]struct{}

	// failWrites are block numbers, in units of 1024 bytes, whose writes
	// fail.
	failWrites map[uint64]struct{}

	// byteWrites enables WriteBytes.
	byteWrites bool

	// closeErr is returned by Close.
	closeErr error
}

var _ Channel = (*MemChannel)(nil)

// NewMemChannel returns a channel over data with a 1024 byte block size.
// data is used in place, not copied.
func NewMemChannel(name string, data []byte) *MemChannel {
	return &MemChannel{
		name:       name,
		data:       data,
		blockSize:  1024,
		badBlocks:  make(map[uint64]struct{}),
		failWrites: make(map[uint64]struct{}),
		byteWrites: true,
	}
}

// Name implements Channel.Name.
func (m *MemChannel) Name() string { return m.name }

// BlockSize implements Channel.BlockSize.
func (m *MemChannel) BlockSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.blockSize
}

// SetBlockSize implements Channel.SetBlockSize.
func (m *MemChannel) SetBlockSize(size int) error {
	if err := validBlockSize(size); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blockSize = size
	return nil
}

// SetByteWrites enables or disables WriteBytes.
func (m *MemChannel) SetByteWrites(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byteWrites = enabled
}

// FailReads makes any read touching the given 1024 byte units fail.
func (m *MemChannel) FailReads(units ...uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range units {
		m.badBlocks[u] = struct{}{}
	}
}

// FailWrites makes any write touching the given 1024 byte units fail. With
// no arguments, writes succeed again.
func (m *MemChannel) FailWrites(units ...uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(units) == 0 {
		clear(m.failWrites)
	}
	for _, u := range units {
		m.failWrites[u] = struct{}{}
	}
}

// FailClose makes Close return err. A nil err makes Close succeed again.
func (m *MemChannel) FailClose(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closeErr = err
}

// touches reports whether [off, off+size) overlaps any unit of set.
func touches(set map[uint64]struct{}, off int64, size int) bool {
	if size <= 0 {
		return false
	}
	for u := uint64(off) / 1024; u <= uint64(off+int64(size)-1)/1024; u++ {
		if _, ok := set[u]; ok {
			return true
		}
	}
	return false
}

// ReadCalls returns the number of ReadBlocks calls made so far.
func (m *MemChannel) ReadCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.readCalls
}

// Writes returns the writes recorded so far.
func (m *MemChannel) Writes() []Extent {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Extent(nil), m.writes...)
}

// ResetWrites discards the recorded writes.
func (m *MemChannel) ResetWrites() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.writes = nil
}

// Bytes returns the backing store.
func (m *MemChannel) Bytes() []byte {
	return m.data
}

// span returns the byte range of a transfer, checking it against the store.
func (m *MemChannel) span(off int64, size int) ([]byte, error) {
	if off < 0 || off+int64(size) > int64(len(m.data)) {
		return nil, fmt.Errorf("%s: I/O of %d bytes at offset %d beyond end of %d byte image", m.name, size, off, len(m.data))
	}
	return m.data[off : off+int64(size)], nil
}

// ReadBlocks implements Channel.ReadBlocks.
func (m *MemChannel) ReadBlocks(blk uint64, count int, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readCalls++
	size, err := checkTransfer(m.blockSize, count, buf)
	if err != nil {
		return err
	}
	off := int64(blk) * int64(m.blockSize)
	if touches(m.badBlocks, off, size) {
		return fmt.Errorf("%s: read at block %d: %w", m.name, blk, exterr.ErrShortRead)
	}
	src, err := m.span(off, size)
	if err != nil {
		return fmt.Errorf("%v: %w", err, exterr.ErrShortRead)
	}
	copy(buf, src)
	m.stats.BytesRead += uint64(size)
	return nil
}

// WriteBlocks implements Channel.WriteBlocks.
func (m *MemChannel) WriteBlocks(blk uint64, count int, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	size, err := checkTransfer(m.blockSize, count, buf)
	if err != nil {
		return err
	}
	return m.writeLocked(int64(blk)*int64(m.blockSize), buf[:size])
}

// WriteBytes implements Channel.WriteBytes.
func (m *MemChannel) WriteBytes(off int64, buf []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.byteWrites {
		return exterr.ErrUnimplemented
	}
	return m.writeLocked(off, buf)
}

// +checklocks:m.mu
func (m *MemChannel) writeLocked(off int64, buf []byte) error {
	if touches(m.failWrites, off, len(buf)) {
		return fmt.Errorf("%s: write at offset %d: %w", m.name, off, exterr.ErrShortWrite)
	}
	dst, err := m.span(off, len(buf))
	if err != nil {
		return fmt.Errorf("%v: %w", err, exterr.ErrShortWrite)
	}
	copy(dst, buf)
	m.stats.BytesWritten += uint64(len(buf))
	m.writes = append(m.writes, Extent{Off: off, Len: len(buf)})
	return nil
}

// Flush implements Channel.Flush.
func (m *MemChannel) Flush() error { return nil }

// Stats implements Channel.Stats.
func (m *MemChannel) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Close implements Channel.Close.
func (m *MemChannel) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closeErr
}

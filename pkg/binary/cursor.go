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

package binary

import (
	"fmt"
)

// Cursor is a read position within a fixed-size byte slice. Every access is
// bounds checked; a Cursor never hands out bytes outside of its slice.
//
// The zero value is an empty cursor.
type Cursor struct {
	buf []byte
	off int
}

// NewCursor returns a cursor positioned at the start of buf.
func NewCursor(buf []byte) Cursor {
	return Cursor{buf: buf}
}

// Reset repositions the cursor at the start of buf.
func (c *Cursor) Reset(buf []byte) {
	c.buf = buf
	c.off = 0
}

// Offset returns the number of bytes consumed so far.
func (c *Cursor) Offset() int { return c.off }

// Len returns the number of bytes left.
func (c *Cursor) Len() int { return len(c.buf) - c.off }

// Remaining returns the unconsumed bytes without advancing.
func (c *Cursor) Remaining() []byte { return c.buf[c.off:] }

// Next returns the next n bytes and advances past them. The returned slice
// aliases the cursor's buffer.
func (c *Cursor) Next(n int) ([]byte, error) {
	if n < 0 || n > c.Len() {
		return nil, fmt.Errorf("cursor: want %d bytes, have %d", n, c.Len())
	}
	b := c.buf[c.off : c.off+n]
	c.off += n
	return b, nil
}

// CopyTo copies min(len(dst), c.Len()) bytes into dst, advances past them and
// returns the number of bytes copied.
func (c *Cursor) CopyTo(dst []byte) int {
	n := copy(dst, c.buf[c.off:])
	c.off += n
	return n
}

// Skip advances past n bytes.
func (c *Cursor) Skip(n int) error {
	_, err := c.Next(n)
	return err
}

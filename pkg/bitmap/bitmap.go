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

// Package bitmap provides the in-memory allocation bitmaps of a filesystem.
//
// A Bitmap covers the inclusive range [Start, End] of block or inode numbers.
// Storage is rounded up to RealEnd so that the padding bits of the last group
// can be carried through a read and write cycle.
package bitmap

import (
	"fmt"
	"math"
	"math/bits"
)

// Bitmap implements an efficient ranged bitmap.
type Bitmap struct {
	// start is the number of the first bit.
	start uint64

	// end is the number of the last valid bit.
	end uint64

	// realEnd is the number of the last allocated bit, end <= realEnd.
	realEnd uint64

	// numOnes is the number of ones in [start, realEnd].
	numOnes uint64

	// bitBlock holds the bits. The type of bitBlock is uint64 which means
	// each number in bitBlock contains 64 entries. Bit n lives at index
	// n-start.
	bitBlock []uint64
}

// New creates an empty Bitmap covering [start, end], with storage for
// [start, realEnd].
func New(start, end, realEnd uint64) (*Bitmap, error) {
	if end < start || realEnd < end {
		return nil, fmt.Errorf("invalid bitmap range start=%d end=%d real_end=%d", start, end, realEnd)
	}
	size := realEnd - start + 1
	if size > math.MaxInt32*64 {
		return nil, fmt.Errorf("requested bitmap size %d too large", size)
	}
	return &Bitmap{
		start:    start,
		end:      end,
		realEnd:  realEnd,
		bitBlock: make([]uint64, (size+63)/64),
	}, nil
}

// Start returns the first bit number covered.
func (b *Bitmap) Start() uint64 { return b.start }

// End returns the last valid bit number.
func (b *Bitmap) End() uint64 { return b.end }

// RealEnd returns the last bit number with backing storage.
func (b *Bitmap) RealEnd() uint64 { return b.realEnd }

// inRange returns whether n is a valid bit number.
func (b *Bitmap) inRange(n uint64) bool {
	return n >= b.start && n <= b.end
}

// Mark sets bit n. It returns false if n is out of range.
func (b *Bitmap) Mark(n uint64) bool {
	if !b.inRange(n) {
		return false
	}
	i := n - b.start
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	newBlock := oldBlock | mask
	if oldBlock != newBlock {
		b.bitBlock[blockNum] = newBlock
		b.numOnes++
	}
	return true
}

// Unmark clears bit n. It returns false if n is out of range.
func (b *Bitmap) Unmark(n uint64) bool {
	if !b.inRange(n) {
		return false
	}
	i := n - b.start
	blockNum, mask := i/64, uint64(1)<<(i%64)
	oldBlock := b.bitBlock[blockNum]
	newBlock := oldBlock &^ mask
	if oldBlock != newBlock {
		b.bitBlock[blockNum] = newBlock
		b.numOnes--
	}
	return true
}

// Test reports whether bit n is set. Out of range bits read as clear.
func (b *Bitmap) Test(n uint64) bool {
	if !b.inRange(n) {
		return false
	}
	i := n - b.start
	return b.bitBlock[i/64]&(uint64(1)<<(i%64)) != 0
}

// checkRange validates the run [n, n+count).
func (b *Bitmap) checkRange(n, count uint64) error {
	if count == 0 {
		return nil
	}
	if n < b.start || n+count-1 > b.end || n+count < n {
		return fmt.Errorf("bit range [%d, %d) outside of [%d, %d]", n, n+count, b.start, b.end)
	}
	return nil
}

// MarkRange sets the bits [n, n+count).
func (b *Bitmap) MarkRange(n, count uint64) error {
	if err := b.checkRange(n, count); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	begin := n - b.start
	oldRangeOnes := b.countOnesForBlocks(begin, begin+count-1)
	b.setRange(begin, begin+count)
	b.numOnes += b.countOnesForBlocks(begin, begin+count-1) - oldRangeOnes
	return nil
}

// UnmarkRange clears the bits [n, n+count).
func (b *Bitmap) UnmarkRange(n, count uint64) error {
	if err := b.checkRange(n, count); err != nil {
		return err
	}
	if count == 0 {
		return nil
	}
	begin := n - b.start
	oldRangeOnes := b.countOnesForBlocks(begin, begin+count-1)
	b.clearRange(begin, begin+count)
	b.numOnes -= oldRangeOnes - b.countOnesForBlocks(begin, begin+count-1)
	return nil
}

// TestClearRange reports whether every bit in [n, n+count) is clear. Ranges
// reaching outside of the bitmap are never clear.
func (b *Bitmap) TestClearRange(n, count uint64) bool {
	if count == 0 {
		return true
	}
	if b.checkRange(n, count) != nil {
		return false
	}
	_, found := b.FindFirstSet(n, n+count-1)
	return !found
}

// FindFirstZero returns the first clear bit in [start, end].
func (b *Bitmap) FindFirstZero(start, end uint64) (uint64, bool) {
	if start > end || b.checkRange(start, end-start+1) != nil {
		return 0, false
	}
	lo, hi := start-b.start, end-b.start
	i, nbit := lo/64, lo%64
	w := b.bitBlock[i] | ((uint64(1) << nbit) - 1)
	for {
		if w != ^uint64(0) {
			r := uint64(bits.TrailingZeros64(^w)) + i*64
			if r > hi {
				return 0, false
			}
			return r + b.start, true
		}
		i++
		if i > hi/64 {
			return 0, false
		}
		w = b.bitBlock[i]
	}
}

// FindFirstSet returns the first set bit in [start, end].
func (b *Bitmap) FindFirstSet(start, end uint64) (uint64, bool) {
	if start > end || b.checkRange(start, end-start+1) != nil {
		return 0, false
	}
	lo, hi := start-b.start, end-b.start
	i, nbit := lo/64, lo%64
	w := b.bitBlock[i] & (math.MaxUint64 << nbit)
	for {
		if w != 0 {
			r := uint64(bits.TrailingZeros64(w)) + i*64
			if r > hi {
				return 0, false
			}
			return r + b.start, true
		}
		i++
		if i > hi/64 {
			return 0, false
		}
		w = b.bitBlock[i]
	}
}

// Count returns the number of set bits, padding included.
func (b *Bitmap) Count() uint64 {
	return b.numOnes
}

// Clear clears every bit.
func (b *Bitmap) Clear() {
	for i := range b.bitBlock {
		b.bitBlock[i] = 0
	}
	b.numOnes = 0
}

// Clone the Bitmap.
func (b *Bitmap) Clone() *Bitmap {
	c := *b
	c.bitBlock = make([]uint64, len(b.bitBlock))
	copy(c.bitBlock, b.bitBlock)
	return &c
}

// GetRange copies num bits starting at bit n into out, least significant bit
// first in each byte. This is the on-disk bitmap encoding. Bits past RealEnd
// read as zero.
func (b *Bitmap) GetRange(n uint64, num int, out []byte) error {
	if n < b.start || len(out)*8 < num {
		return fmt.Errorf("cannot get %d bits at %d into %d bytes", num, n, len(out))
	}
	for i := range out[:(num+7)/8] {
		out[i] = 0
	}
	base := n - b.start
	for j := 0; j < num; j++ {
		k := base + uint64(j)
		if k > b.realEnd-b.start {
			break
		}
		if b.bitBlock[k/64]&(uint64(1)<<(k%64)) != 0 {
			out[j/8] |= 1 << (j % 8)
		}
	}
	return nil
}

// SetRange loads num bits from in, in the on-disk encoding, starting at bit
// n. Bits past RealEnd are dropped.
func (b *Bitmap) SetRange(n uint64, num int, in []byte) error {
	if n < b.start || len(in)*8 < num {
		return fmt.Errorf("cannot set %d bits at %d from %d bytes", num, n, len(in))
	}
	base := n - b.start
	for j := 0; j < num; j++ {
		k := base + uint64(j)
		if k > b.realEnd-b.start {
			break
		}
		mask := uint64(1) << (k % 64)
		old := b.bitBlock[k/64]
		if in[j/8]&(1<<(j%8)) != 0 {
			b.bitBlock[k/64] |= mask
		} else {
			b.bitBlock[k/64] &^= mask
		}
		if old != b.bitBlock[k/64] {
			if old&mask == 0 {
				b.numOnes++
			} else {
				b.numOnes--
			}
		}
	}
	return nil
}

// countOnesForBlocks count all 1 bits within b.bitBlock of begin and that of end.
// The begin block and end block are inclusive.
func (b *Bitmap) countOnesForBlocks(begin, end uint64) uint64 {
	ones := uint64(0)
	beginBlock := begin / 64
	endBlock := end / 64
	for i := beginBlock; i <= endBlock; i++ {
		ones += uint64(bits.OnesCount64(b.bitBlock[i]))
	}
	return ones
}

// setRange sets the bits within range (begin and end). begin is inclusive and end is exclusive.
func (b *Bitmap) setRange(begin, end uint64) {
	end--
	beginBlock := begin / 64
	endBlock := end / 64
	if beginBlock == endBlock {
		b.bitBlock[beginBlock] |= (^uint64(0) << (begin % 64)) & ((uint64(1) << (end%64 + 1)) - 1)
	} else {
		b.bitBlock[beginBlock] |= ^uint64(0) << (begin % 64)
		for i := beginBlock + 1; i < endBlock; i++ {
			b.bitBlock[i] = ^uint64(0)
		}
		b.bitBlock[endBlock] |= (uint64(1) << (end%64 + 1)) - 1
	}
}

// clearRange clear the bits within range (begin and end). begin is inclusive and end is exclusive.
func (b *Bitmap) clearRange(begin, end uint64) {
	end--
	beginBlock := begin / 64
	endBlock := end / 64
	if beginBlock == endBlock {
		b.bitBlock[beginBlock] &= ((uint64(1) << (begin % 64)) - 1) | ^((uint64(1) << (end%64 + 1)) - 1)
	} else {
		b.bitBlock[beginBlock] &= (uint64(1) << (begin % 64)) - 1
		for i := beginBlock + 1; i < endBlock; i++ {
			b.bitBlock[i] = 0
		}
		b.bitBlock[endBlock] &= ^((uint64(1) << (end%64 + 1)) - 1)
	}
}

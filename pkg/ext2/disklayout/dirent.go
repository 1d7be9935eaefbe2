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

package disklayout

// MaxFileName is the maximum length of a directory entry name.
const MaxFileName = 255

// DirentHeaderSize is the size of DirentHeader, the fixed part of an entry.
const DirentHeaderSize = 8

// File types stored in DirentHeader.FileTypeRaw when the filetype feature is
// set.
const (
	FileTypeUnknown uint8 = iota
	FileTypeReg
	FileTypeDir
	FileTypeChrdev
	FileTypeBlkdev
	FileTypeFifo
	FileTypeSock
	FileTypeSymlink
)

// DirentHeader is the fixed part of the ext4_dir_entry_2 struct. The name
// follows it on disk, padded so that every entry starts 4 byte aligned.
// RecordLength covers the header, the name and the padding; the last entry
// of a block extends to the end of the block.
type DirentHeader struct {
	InodeNumber  uint32
	RecordLength uint16
	NameLength   uint8
	FileTypeRaw  uint8
}

// DirentRecLen returns the smallest record length of an entry with a name of
// nameLen bytes.
func DirentRecLen(nameLen int) int {
	return (DirentHeaderSize + nameLen + 3) &^ 3
}

// PutDirent encodes an entry at the start of buf, which must hold recLen
// bytes, and returns recLen.
func PutDirent(buf []byte, ino uint32, recLen int, name string, fileType uint8) int {
	h := DirentHeader{
		InodeNumber:  ino,
		RecordLength: uint16(recLen),
		NameLength:   uint8(len(name)),
		FileTypeRaw:  fileType,
	}
	copy(buf, Marshal(&h))
	n := copy(buf[DirentHeaderSize:recLen], name)
	clear(buf[DirentHeaderSize+n : recLen])
	return recLen
}

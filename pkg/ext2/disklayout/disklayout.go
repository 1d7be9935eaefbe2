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

// Package disklayout provides ext2 disk level data structures.
//
// All structures are stored little endian on disk and are converted with
// pkg/binary. Field order matches the kernel's ext4_super_block,
// ext4_group_desc and ext4_inode so that binary.Size reports the on-disk
// record size.
package disklayout

import (
	"github.com/e2meta/e2meta/pkg/binary"
)

// Marshal encodes v, which must be one of the on-disk structures of this
// package, into its little endian representation.
func Marshal(v any) []byte {
	return binary.Marshal(make([]byte, 0, binary.Size(v)), binary.LittleEndian, v)
}

// Unmarshal decodes buf into v. buf must be exactly binary.Size(v) bytes.
func Unmarshal(buf []byte, v any) {
	binary.Unmarshal(buf, binary.LittleEndian, v)
}

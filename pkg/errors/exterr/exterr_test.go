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

package exterr

import (
	"fmt"
	"testing"

	"golang.org/x/sys/unix"
)

func TestEquals(t *testing.T) {
	wrapped := fmt.Errorf("reading inode 12: %w", ErrMissingInodeTable)
	for _, test := range []struct {
		name string
		err  error
		want bool
	}{
		{"same", ErrMissingInodeTable, true},
		{"wrapped", wrapped, true},
		{"other", ErrBadInodeNum, false},
		{"nil", nil, false},
		{"errno with same number", unix.EIO, false},
	} {
		t.Run(test.name, func(t *testing.T) {
			if got := Equals(ErrMissingInodeTable, test.err); got != test.want {
				t.Errorf("Equals(ErrMissingInodeTable, %v) = %t, want %t", test.err, got, test.want)
			}
		})
	}
}

func TestIsAdvisory(t *testing.T) {
	if !IsAdvisory(fmt.Errorf("inode 33: %w", ErrBadBlockInInodeTable)) {
		t.Errorf("wrapped ErrBadBlockInInodeTable not advisory")
	}
	if IsAdvisory(ErrMissingInodeTable) {
		t.Errorf("ErrMissingInodeTable reported as advisory")
	}
}

func TestToUnix(t *testing.T) {
	for _, test := range []struct {
		err  error
		want unix.Errno
	}{
		{nil, 0},
		{ErrReadOnly, unix.EROFS},
		{fmt.Errorf("alloc: %w", ErrBlockAllocFail), unix.ENOSPC},
		{unix.ENXIO, unix.ENXIO},
		{fmt.Errorf("plain"), unix.EIO},
	} {
		if got := ToUnix(test.err); got != test.want {
			t.Errorf("ToUnix(%v) = %v, want %v", test.err, got, test.want)
		}
	}
}

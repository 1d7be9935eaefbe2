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
	"bytes"
	"fmt"
)

// Run is the byte range [Off, Off+Len).
type Run struct {
	Off int
	Len int
}

// End returns the first offset past the run.
func (r Run) End() int { return r.Off + r.Len }

// DiffRuns compares old and cur word bytes at a time and returns one Run per
// maximal sequence of differing words, in ascending order. Identical buffers
// yield no runs.
//
// Preconditions: len(old) == len(cur), word > 0 and len(cur) is a multiple of
// word.
func DiffRuns(old, cur []byte, word int) []Run {
	if len(old) != len(cur) {
		panic(fmt.Sprintf("DiffRuns: length mismatch %d != %d", len(old), len(cur)))
	}
	if word <= 0 || len(cur)%word != 0 {
		panic(fmt.Sprintf("DiffRuns: buffer of %d bytes is not a multiple of word size %d", len(cur), word))
	}

	var runs []Run
	for i := 0; i < len(cur); i += word {
		if bytes.Equal(old[i:i+word], cur[i:i+word]) {
			continue
		}
		start := i
		for i += word; i < len(cur); i += word {
			if bytes.Equal(old[i:i+word], cur[i:i+word]) {
				break
			}
		}
		runs = append(runs, Run{Off: start, Len: i - start})
	}
	return runs
}

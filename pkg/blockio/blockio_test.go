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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/e2meta/e2meta/pkg/errors/exterr"
)

func TestTransferSize(t *testing.T) {
	for _, test := range []struct {
		bs, count, want int
	}{
		{1024, 1, 1024},
		{4096, 3, 12288},
		{4096, -1024, 1024},
		{1024, 0, 0},
	} {
		if got := TransferSize(test.bs, test.count); got != test.want {
			t.Errorf("TransferSize(%d, %d) = %d, want %d", test.bs, test.count, got, test.want)
		}
	}
}

func TestMemChannel(t *testing.T) {
	m := NewMemChannel("mem", make([]byte, 8192))
	if err := m.SetBlockSize(2048); err != nil {
		t.Fatalf("SetBlockSize failed: %v", err)
	}
	if err := m.SetBlockSize(1000); err == nil {
		t.Errorf("SetBlockSize(1000) succeeded")
	}

	src := make([]byte, 2048)
	for i := range src {
		src[i] = byte(i)
	}
	if err := m.WriteBlocks(1, 1, src); err != nil {
		t.Fatalf("WriteBlocks failed: %v", err)
	}
	got := make([]byte, 100)
	if err := m.ReadBlocks(1, -100, got); err != nil {
		t.Fatalf("ReadBlocks failed: %v", err)
	}
	if diff := cmp.Diff(src[:100], got); diff != "" {
		t.Errorf("ReadBlocks mismatch (-want +got):\n%s", diff)
	}
	if err := m.WriteBytes(10, []byte{0xff, 0xfe}); err != nil {
		t.Fatalf("WriteBytes failed: %v", err)
	}

	want := []Extent{{Off: 2048, Len: 2048}, {Off: 10, Len: 2}}
	if diff := cmp.Diff(want, m.Writes()); diff != "" {
		t.Errorf("Writes mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(Stats{BytesRead: 100, BytesWritten: 2050}, m.Stats()); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
	if got := m.ReadCalls(); got != 1 {
		t.Errorf("ReadCalls() = %d, want 1", got)
	}

	m.SetByteWrites(false)
	if err := m.WriteBytes(0, []byte{1}); !exterr.Equals(exterr.ErrUnimplemented, err) {
		t.Errorf("WriteBytes with byte writes disabled = %v, want %v", err, exterr.ErrUnimplemented)
	}
	if err := m.WriteBlocks(4, 1, src); err == nil {
		t.Errorf("WriteBlocks past the end succeeded")
	}
}

func TestMemChannelFailReads(t *testing.T) {
	m := NewMemChannel("mem", make([]byte, 8192))
	m.FailReads(3)
	buf := make([]byte, 4096)
	if err := m.ReadBlocks(2, 2, buf); !exterr.Equals(exterr.ErrShortRead, err) {
		t.Errorf("ReadBlocks over a failing block = %v, want %v", err, exterr.ErrShortRead)
	}
	if err := m.ReadBlocks(0, 3, buf); err != nil {
		t.Errorf("ReadBlocks before the failing block = %v", err)
	}
}

func TestMemChannelFailWrites(t *testing.T) {
	m := NewMemChannel("mem", make([]byte, 8192))
	m.FailWrites(1)
	buf := make([]byte, 2048)
	if err := m.WriteBlocks(0, 2, buf); !exterr.Equals(exterr.ErrShortWrite, err) {
		t.Errorf("WriteBlocks over a failing block = %v, want %v", err, exterr.ErrShortWrite)
	}
	if err := m.WriteBytes(1030, buf[:2]); !exterr.Equals(exterr.ErrShortWrite, err) {
		t.Errorf("WriteBytes into a failing block = %v, want %v", err, exterr.ErrShortWrite)
	}
	if len(m.Writes()) != 0 {
		t.Errorf("failed writes were recorded: %v", m.Writes())
	}
	m.FailWrites()
	if err := m.WriteBlocks(0, 2, buf); err != nil {
		t.Errorf("WriteBlocks after clearing failures = %v", err)
	}
}

func TestFileChannel(t *testing.T) {
	path := filepath.Join(t.TempDir(), "image")
	if err := os.WriteFile(path, make([]byte, 4096), 0o600); err != nil {
		t.Fatalf("WriteFile failed: %v", err)
	}
	c, err := OpenFile(path, true)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if _, err := OpenFile(path, true); err == nil {
		t.Errorf("second writable OpenFile succeeded while locked")
	}

	want := []byte("e2meta")
	if err := c.WriteBytes(1024, want); err != nil {
		t.Fatalf("WriteBytes failed: %v", err)
	}
	if err := c.Flush(); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	buf := make([]byte, 1024)
	if err := c.ReadBlocks(1, 1, buf); err != nil {
		t.Fatalf("ReadBlocks failed: %v", err)
	}
	if diff := cmp.Diff(want, buf[:len(want)]); diff != "" {
		t.Errorf("ReadBlocks mismatch (-want +got):\n%s", diff)
	}
	if err := c.ReadBlocks(4, 1, buf); !exterr.Equals(exterr.ErrShortRead, err) {
		t.Errorf("ReadBlocks past the end = %v, want %v", err, exterr.ErrShortRead)
	}
	if diff := cmp.Diff(Stats{BytesRead: 1024, BytesWritten: uint64(len(want))}, c.Stats()); diff != "" {
		t.Errorf("Stats mismatch (-want +got):\n%s", diff)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
}

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

// Package fd provides types for working with file descriptors of disk images
// and block devices.
package fd

import (
	"io"
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// ReadWriter implements io.ReaderAt and io.WriterAt for fd with pread(2) and
// pwrite(2), so concurrent users never race on a shared file offset. It does
// not take ownership of fd.
type ReadWriter struct {
	// fd is accessed atomically so FD.Close/Release can swap it.
	fd int64
}

var _ io.ReaderAt = (*ReadWriter)(nil)
var _ io.WriterAt = (*ReadWriter)(nil)

// NewReadWriter creates a ReadWriter for fd.
func NewReadWriter(fd int) *ReadWriter {
	return &ReadWriter{int64(fd)}
}

// transfer runs op until all of b has moved, retrying on EINTR. A zero length
// transfer without an error is reported as io.EOF for reads.
func (r *ReadWriter) transfer(op func(fd int, p []byte, off int64) (int, error), b []byte, off int64, read bool) (int, error) {
	done := 0
	for done < len(b) {
		n, err := op(int(atomic.LoadInt64(&r.fd)), b[done:], off+int64(done))
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return done, err
		}
		if n <= 0 {
			if read {
				return done, io.EOF
			}
			return done, io.ErrShortWrite
		}
		done += n
	}
	return done, nil
}

// ReadAt implements io.ReaderAt.
//
// ReadAt always returns a non-nil error when fewer than len(b) bytes were
// read.
func (r *ReadWriter) ReadAt(b []byte, off int64) (int, error) {
	return r.transfer(unix.Pread, b, off, true)
}

// WriteAt implements io.WriterAt.
func (r *ReadWriter) WriteAt(b []byte, off int64) (int, error) {
	return r.transfer(unix.Pwrite, b, off, false)
}

// FD owns the host file descriptor of an image or device.
//
// Unlike os.File, FD can Release its descriptor, which drops the finalizer
// that would otherwise close it.
type FD struct {
	ReadWriter
}

// New creates a new FD.
//
// New takes ownership of fd.
func New(fd int) *FD {
	if fd < 0 {
		return &FD{ReadWriter{-1}}
	}
	f := &FD{ReadWriter{int64(fd)}}
	runtime.SetFinalizer(f, (*FD).Close)
	return f
}

// Open is equivalent to open(2).
func Open(path string, openmode int, perm uint32) (*FD, error) {
	f, err := unix.Open(path, openmode|unix.O_LARGEFILE|unix.O_CLOEXEC, perm)
	if err != nil {
		return nil, err
	}
	return New(f), nil
}

// Close closes the file descriptor contained in the FD.
//
// Close is safe to call multiple times, but will return an error after the
// first call.
//
// Concurrently calling Close and any other method is undefined.
func (f *FD) Close() error {
	runtime.SetFinalizer(f, nil)
	return unix.Close(int(atomic.SwapInt64(&f.fd, -1)))
}

// Release relinquishes ownership of the contained file descriptor.
//
// Concurrently calling Release and any other method is undefined.
func (f *FD) Release() int {
	runtime.SetFinalizer(f, nil)
	return int(atomic.SwapInt64(&f.fd, -1))
}

// FD returns the file descriptor owned by FD. FD retains ownership.
func (f *FD) FD() int {
	return int(atomic.LoadInt64(&f.fd))
}

// Sync flushes the data written through the FD to stable storage.
func (f *FD) Sync() error {
	for {
		err := unix.Fdatasync(f.FD())
		if err != unix.EINTR {
			return err
		}
	}
}

// Size returns the size in bytes of the regular file behind the FD.
func (f *FD) Size() (int64, error) {
	var st unix.Stat_t
	if err := unix.Fstat(f.FD(), &st); err != nil {
		return 0, err
	}
	return st.Size, nil
}

// Truncate sets the size of the regular file behind the FD.
func (f *FD) Truncate(size int64) error {
	return unix.Ftruncate(f.FD(), size)
}

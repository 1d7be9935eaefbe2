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

// Package exterr contains the ext2 library error codes exported as error
// interface pointers. This allows for fast comparison and return operations
// comparable to unix.Errno constants.
package exterr

import (
	goerrors "errors"

	"github.com/e2meta/e2meta/pkg/errors"
	"golang.org/x/sys/unix"
)

// Inode access.
var (
	ErrBadInodeNum          = errors.New(unix.EINVAL, "illegal inode number")
	ErrMissingInodeTable    = errors.New(unix.EIO, "missing inode table")
	ErrBadBlockInInodeTable = errors.New(unix.EIO, "bad block in inode table")
	ErrNextInodeRead        = errors.New(unix.EIO, "can't read next inode")
	ErrScanInProgress       = errors.New(unix.EBUSY, "an inode scan is already open on this filesystem")
	ErrBadGroupNum          = errors.New(unix.EINVAL, "illegal block group number")
	ErrGDescBadInodeTable   = errors.New(unix.EUCLEAN, "inode table for group not in group")
	ErrExtentMapped         = errors.New(unix.EOPNOTSUPP, "inode uses extents, not a block map")
)

// Allocation.
var (
	ErrBlockAllocFail = errors.New(unix.ENOSPC, "could not allocate block in ext2 filesystem")
	ErrInodeAllocFail = errors.New(unix.ENOSPC, "could not allocate inode in ext2 filesystem")
	ErrBadBlockNum    = errors.New(unix.EINVAL, "illegal block number")
)

// Directory block list.
var (
	ErrDBListEmpty = errors.New(unix.ENOENT, "directory block list is empty")
	ErrDBNotFound  = errors.New(unix.ENOENT, "directory block not found")
)

// Superblock, descriptors and handle state.
var (
	ErrBadMagic           = errors.New(unix.EINVAL, "bad magic number in super-block")
	ErrCorruptSuperblock  = errors.New(unix.EUCLEAN, "the ext2 superblock is corrupt")
	ErrUnsupportedFeature = errors.New(unix.EOPNOTSUPP, "filesystem has unsupported feature(s)")
	ErrGDescBadChecksum   = errors.New(unix.EUCLEAN, "group descriptor checksum is invalid")
	ErrReadOnly           = errors.New(unix.EROFS, "attempt to write to filesystem opened read-only")
	ErrShortRead          = errors.New(unix.EIO, "attempt to read block from filesystem resulted in short read")
	ErrShortWrite         = errors.New(unix.EIO, "attempt to write block to filesystem resulted in short write")
	ErrUnimplemented      = errors.New(unix.ENOSYS, "unimplemented ext2 library function")
	ErrClosed             = errors.New(unix.EBADF, "filesystem handle is closed")
)

// Equals reports whether err is, or wraps, e.
func Equals(e *errors.Error, err error) bool {
	if err == nil {
		return e == nil
	}
	return goerrors.Is(err, e)
}

// IsAdvisory reports whether err only flags suspect data that was still
// returned to the caller. Scans continue past advisory errors.
func IsAdvisory(err error) bool {
	return Equals(ErrBadBlockInInodeTable, err)
}

// ToUnix returns the errno carried by err, or EIO for errors that do not
// carry one.
func ToUnix(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var e *errors.Error
	if goerrors.As(err, &e) {
		return e.Errno()
	}
	var en unix.Errno
	if goerrors.As(err, &en) {
		return en
	}
	return unix.EIO
}

// Copyright 2015 Google Inc. All Rights Reserved.
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

// Package backend defines the capability set that a remote store must
// implement in order to be mounted as a FUSE filesystem by package fs. A
// Backend knows nothing about inode numbers, page caching, or the FUSE wire
// protocol; it deals only in paths, metadata and byte ranges.
package backend

import (
	"context"
	"io"
	"os"
	"syscall"
	"time"
)

// Metadata describes a single file or directory as reported by a Backend.
// Size is meaningless for directories. Mode carries both the type bit
// (os.ModeDir) and the permission bits, mirroring fuseops.InodeAttributes so
// that package fs can copy a Metadata into an attribute response without a
// field-by-field translation.
type Metadata struct {
	Size   uint64
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
	Crtime time.Time
	Mode   os.FileMode
}

// IsDir reports whether the metadata describes a directory.
func (m Metadata) IsDir() bool {
	return m.Mode&os.ModeDir != 0
}

// DirEntry is a single result from a Readdir listing.
type DirEntry struct {
	Name     string
	Metadata Metadata
}

// DirIter is a lazy, finite sequence of directory entries. Next returns
// io.EOF once the listing is exhausted. A non-EOF, non-nil error means this
// particular entry could not be produced (for example a stat that raced with
// a remote delete); the iterator is not required to stop on such an error,
// and a caller that wants best-effort listings may keep calling Next to see
// whether later entries succeed. Callers that want all-or-nothing semantics,
// as package fs's dispatcher does, simply abort on the first error.
type DirIter interface {
	Next() (DirEntry, error)
	Close() error
}

// Backend is the capability set a remote store exposes to the dispatcher.
// Every method takes the path of the object it concerns rather than an
// inode; package inode owns the ino<->path mapping, not the backend.
//
// A Backend that does not support some capability should embed
// UnimplementedBackend and leave that method unimplemented: the embedded
// default returns syscall.ENOSYS.
type Backend interface {
	// Init is called once, before the first request is served. Backends
	// that need no setup may leave it unimplemented.
	Init(ctx context.Context) error

	// Lookup returns the metadata for path, or ENOENT if it does not exist.
	Lookup(ctx context.Context, path string) (Metadata, error)

	// Read returns up to len(buf) bytes of the file at path starting at
	// offset, returning the number of bytes actually read. Returning fewer
	// bytes than requested is only valid at end of file, matching read(2).
	Read(ctx context.Context, path string, offset int64, buf []byte) (int, error)

	// Write persists data at the given offset, growing the file if
	// necessary and creating it if it does not exist yet: the dispatcher
	// creates files locally and their first flush arrives here as a Write.
	// Implementations that only support whole-file writes may
	// reject a nonzero offset with ENOSYS.
	Write(ctx context.Context, path string, offset int64, data []byte) error

	// Readdir lists the immediate children of path.
	Readdir(ctx context.Context, path string) (DirIter, error)

	// Mkdir creates an empty directory at path.
	Mkdir(ctx context.Context, path string, mode os.FileMode) error

	// Rmdir removes the (assumed empty) directory at path.
	Rmdir(ctx context.Context, path string) error

	// Unlink removes the file at path.
	Unlink(ctx context.Context, path string) error
}

// UnimplementedBackend supplies syscall.ENOSYS for every Backend method
// except Init, whose default succeeds with no setup. Embed it in a concrete backend to pick up defaults for capabilities that
// backend does not support, the same role NotImplementedFileSystem plays for
// fuseutil.FileSystem.
type UnimplementedBackend struct{}

var _ Backend = UnimplementedBackend{}

func (UnimplementedBackend) Init(ctx context.Context) error {
	return nil
}

func (UnimplementedBackend) Lookup(ctx context.Context, path string) (Metadata, error) {
	return Metadata{}, syscall.ENOSYS
}

func (UnimplementedBackend) Read(ctx context.Context, path string, offset int64, buf []byte) (int, error) {
	return 0, syscall.ENOSYS
}

func (UnimplementedBackend) Write(ctx context.Context, path string, offset int64, data []byte) error {
	return syscall.ENOSYS
}

func (UnimplementedBackend) Readdir(ctx context.Context, path string) (DirIter, error) {
	return nil, syscall.ENOSYS
}

func (UnimplementedBackend) Mkdir(ctx context.Context, path string, mode os.FileMode) error {
	return syscall.ENOSYS
}

func (UnimplementedBackend) Rmdir(ctx context.Context, path string) error {
	return syscall.ENOSYS
}

func (UnimplementedBackend) Unlink(ctx context.Context, path string) error {
	return syscall.ENOSYS
}

// SliceDirIter adapts a pre-materialized slice of entries to DirIter, for
// backends simple enough to build the whole listing up front.
type SliceDirIter struct {
	entries []DirEntry
	pos     int
}

// NewSliceDirIter returns a DirIter over entries.
func NewSliceDirIter(entries []DirEntry) *SliceDirIter {
	return &SliceDirIter{entries: entries}
}

func (it *SliceDirIter) Next() (DirEntry, error) {
	if it.pos >= len(it.entries) {
		return DirEntry{}, io.EOF
	}
	e := it.entries[it.pos]
	it.pos++
	return e, nil
}

func (it *SliceDirIter) Close() error {
	return nil
}

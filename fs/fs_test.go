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

package fs_test

import (
	"context"
	"os"
	"syscall"
	"testing"
	"time"

	"github.com/anowell/netfuse/backend"
	"github.com/anowell/netfuse/cfg"
	"github.com/anowell/netfuse/fs"
	"github.com/anowell/netfuse/memfs"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/timeutil"
	"github.com/stretchr/testify/suite"
)

func TestFileSystem(t *testing.T) { suite.Run(t, new(FileSystemTest)) }

type FileSystemTest struct {
	suite.Suite
	backend *memfs.Backend
	clock   *timeutil.SimulatedClock
	fsys    *fs.FileSystem
}

func (t *FileSystemTest) SetupTest() {
	t.clock = &timeutil.SimulatedClock{}
	t.clock.SetTime(time.Date(2012, 8, 15, 22, 56, 0, 0, time.Local))
	t.backend = memfs.New(t.clock)

	var err error
	t.fsys, err = fs.New(fs.Config{
		Backend: t.backend,
		Options: cfg.Options{Uid: 500, Gid: 501, RootPerm: 0550},
		Clock:   t.clock,
	})
	t.Require().NoError(err)
}

func (t *FileSystemTest) mknod(name string, mode os.FileMode) (fuseops.InodeID, fuseops.HandleID) {
	op := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: name, Mode: mode}
	t.Require().NoError(t.fsys.CreateFile(context.Background(), op))
	return op.Entry.Child, op.Handle
}

func (t *FileSystemTest) write(ino fuseops.InodeID, offset int64, data []byte) {
	op := &fuseops.WriteFileOp{Inode: ino, Offset: offset, Data: data}
	t.Require().NoError(t.fsys.WriteFile(context.Background(), op))
}

func (t *FileSystemTest) read(ino fuseops.InodeID, offset int64, size int) []byte {
	buf := make([]byte, size)
	op := &fuseops.ReadFileOp{Inode: ino, Offset: offset, Dst: buf}
	t.Require().NoError(t.fsys.ReadFile(context.Background(), op))
	return buf[:op.BytesRead]
}

// mknod, write, read serves the written bytes from cache, and release
// flushes them to the backend, creating the file there.
func (t *FileSystemTest) TestCreateAndRead() {
	ino, handle := t.mknod("f", 0644)

	t.write(ino, 0, []byte("hello"))
	t.Equal([]byte("hello"), t.read(ino, 0, 5))

	releaseOp := &fuseops.ReleaseFileHandleOp{Handle: handle}
	t.Require().NoError(t.fsys.ReleaseFileHandle(context.Background(), releaseOp))

	buf := make([]byte, 5)
	n, err := t.backend.Read(context.Background(), "/f", 0, buf)
	t.Require().NoError(err)
	t.Equal("hello", string(buf[:n]))
}

// Scenario 2: lookup short-circuit after readdir has visited the parent.
func (t *FileSystemTest) TestLookupShortCircuitsAfterReaddirVisited() {
	t.backend.Mkdir(context.Background(), "/a", os.ModeDir|0755)
	t.backend.CreateFile("/a/b", 0644, []byte("x"))

	lookupA := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "a"}
	t.Require().NoError(t.fsys.LookUpInode(context.Background(), lookupA))

	readdirInit := &fuseops.OpenDirOp{Inode: lookupA.Entry.Child}
	t.Require().NoError(t.fsys.OpenDir(context.Background(), readdirInit))

	readdirOp := &fuseops.ReadDirOp{
		Inode:  lookupA.Entry.Child,
		Handle: readdirInit.Handle,
		Dst:    make([]byte, 4096),
	}
	t.Require().NoError(t.fsys.ReadDir(context.Background(), readdirOp))

	lookupMissing := &fuseops.LookUpInodeOp{Parent: lookupA.Entry.Child, Name: "c"}
	err := t.fsys.LookUpInode(context.Background(), lookupMissing)
	t.Equal(syscall.ENOENT, err)
}

// Scenario 3: a partial write warms the cache from the backend and dirties
// it, and release flushes the result.
func (t *FileSystemTest) TestDirtyFlushOnClose() {
	t.backend.CreateFile("/x", 0644, []byte("abc"))

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "x"}
	t.Require().NoError(t.fsys.LookUpInode(context.Background(), lookup))
	ino := lookup.Entry.Child

	openOp := &fuseops.OpenFileOp{Inode: ino}
	t.Require().NoError(t.fsys.OpenFile(context.Background(), openOp))

	t.write(ino, 1, []byte("ZZ"))
	t.Equal([]byte("aZZ"), t.read(ino, 0, 3))

	releaseOp := &fuseops.ReleaseFileHandleOp{Handle: openOp.Handle}
	t.Require().NoError(t.fsys.ReleaseFileHandle(context.Background(), releaseOp))

	buf := make([]byte, 3)
	n, err := t.backend.Read(context.Background(), "/x", 0, buf)
	t.Require().NoError(err)
	t.Equal("aZZ", string(buf[:n]))
}

// Scenario 6: handle-count keeps the cache entry alive until the last
// release.
func (t *FileSystemTest) TestHandleCountDefersFlushToLastRelease() {
	ino, h1 := t.mknod("f", 0644)

	openOp := &fuseops.OpenFileOp{Inode: ino}
	t.Require().NoError(t.fsys.OpenFile(context.Background(), openOp))
	h2 := openOp.Handle

	t.write(ino, 0, []byte("data"))

	t.Require().NoError(t.fsys.ReleaseFileHandle(context.Background(), &fuseops.ReleaseFileHandleOp{Handle: h1}))

	// Not yet released: the backend has never heard of this file (mknod is
	// purely local), and the first release (handles still > 0) must not have
	// flushed it into existence.
	_, err := t.backend.Read(context.Background(), "/f", 0, make([]byte, 4))
	t.Equal(syscall.ENOENT, err)

	t.Require().NoError(t.fsys.ReleaseFileHandle(context.Background(), &fuseops.ReleaseFileHandleOp{Handle: h2}))

	buf := make([]byte, 4)
	n, err := t.backend.Read(context.Background(), "/f", 0, buf)
	t.Require().NoError(err)
	t.Equal("data", string(buf[:n]))
}

// Boundary: read with offset >= size replies ENOENT.
func (t *FileSystemTest) TestReadOffsetPastEndOfFile() {
	ino, _ := t.mknod("f", 0644)
	t.write(ino, 0, []byte("hi"))

	op := &fuseops.ReadFileOp{Inode: ino, Offset: 10, Dst: make([]byte, 4)}
	err := t.fsys.ReadFile(context.Background(), op)
	t.Equal(syscall.ENOENT, err)
}

// Boundary: read with a short tail returns the available bytes, not an
// error.
func (t *FileSystemTest) TestReadShortTail() {
	ino, _ := t.mknod("f", 0644)
	t.write(ino, 0, []byte("hello"))

	t.Equal([]byte("lo"), t.read(ino, 3, 10))
}

// Boundary: write(offset=10, [..5..]) on an empty file zero-fills the gap.
func (t *FileSystemTest) TestWriteWithGapZeroFills() {
	ino, _ := t.mknod("f", 0644)
	t.write(ino, 10, []byte("abcde"))

	got := t.read(ino, 0, 15)
	t.Equal(make([]byte, 10), got[:10])
	t.Equal([]byte("abcde"), got[10:])
}

// readCountingBackend wraps a memfs.Backend to count Read calls, so a test
// can assert a backend read was (or wasn't) elided.
type readCountingBackend struct {
	*memfs.Backend
	reads int
}

func (b *readCountingBackend) Read(ctx context.Context, path string, offset int64, buf []byte) (int, error) {
	b.reads++
	return b.Backend.Read(ctx, path, offset, buf)
}

// A write at offset zero longer than the backend-known size replaces the
// file wholesale and elides the backend read that would otherwise be needed
// to warm the cache first.
func (t *FileSystemTest) TestFullReplaceElidesBackendRead() {
	counting := &readCountingBackend{Backend: t.backend}
	counting.CreateFile("/big", 0644, []byte("0123456789")) // size 10

	fsys, err := fs.New(fs.Config{
		Backend: counting,
		Options: cfg.Options{Uid: 500, Gid: 501, RootPerm: 0550},
		Clock:   t.clock,
	})
	t.Require().NoError(err)

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "big"}
	t.Require().NoError(fsys.LookUpInode(context.Background(), lookup))
	ino := lookup.Entry.Child

	openOp := &fuseops.OpenFileOp{Inode: ino}
	t.Require().NoError(fsys.OpenFile(context.Background(), openOp))

	payload := []byte("a new, longer replacement payload")
	t.Require().Greater(len(payload), 10)
	t.Require().NoError(fsys.WriteFile(context.Background(), &fuseops.WriteFileOp{
		Inode: ino, Offset: 0, Data: payload,
	}))
	t.Equal(0, counting.reads, "full replace must elide the warming backend read")

	releaseOp := &fuseops.ReleaseFileHandleOp{Handle: openOp.Handle}
	t.Require().NoError(fsys.ReleaseFileHandle(context.Background(), releaseOp))

	buf := make([]byte, len(payload))
	n, err := counting.Read(context.Background(), "/big", 0, buf)
	t.Require().NoError(err)
	t.Equal(string(payload), string(buf[:n]))
}

func (t *FileSystemTest) TestMkdirAndRmdir() {
	mkdirOp := &fuseops.MkDirOp{Parent: fuseops.RootInodeID, Name: "d", Mode: os.ModeDir | 0755}
	t.Require().NoError(t.fsys.MkDir(context.Background(), mkdirOp))

	rmdirOp := &fuseops.RmDirOp{Parent: fuseops.RootInodeID, Name: "d"}
	t.Require().NoError(t.fsys.RmDir(context.Background(), rmdirOp))

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "d"}
	err := t.fsys.LookUpInode(context.Background(), lookup)
	t.Equal(syscall.ENOENT, err)
}

func (t *FileSystemTest) TestUnlinkRemovesInodeAndCache() {
	ino, handle := t.mknod("f", 0644)
	t.write(ino, 0, []byte("x"))
	t.Require().NoError(t.fsys.ReleaseFileHandle(context.Background(), &fuseops.ReleaseFileHandleOp{Handle: handle}))

	unlinkOp := &fuseops.UnlinkOp{Parent: fuseops.RootInodeID, Name: "f"}
	t.Require().NoError(t.fsys.Unlink(context.Background(), unlinkOp))

	lookup := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "f"}
	err := t.fsys.LookUpInode(context.Background(), lookup)
	t.Equal(syscall.ENOENT, err)
}

func (t *FileSystemTest) TestSetattrIsLocalOnly() {
	ino, _ := t.mknod("f", 0644)

	size := uint64(5)
	op := &fuseops.SetInodeAttributesOp{Inode: ino, Size: &size}
	t.Require().NoError(t.fsys.SetInodeAttributes(context.Background(), op))
	t.EqualValues(5, op.Attributes.Size)

	_, err := t.backend.Lookup(context.Background(), "/f")
	t.Equal(syscall.ENOENT, err) // setattr never reaches the backend
}

// readdirCountingBackend wraps a memfs.Backend to count Readdir calls.
type readdirCountingBackend struct {
	*memfs.Backend
	readdirs int
}

func (b *readdirCountingBackend) Readdir(ctx context.Context, path string) (backend.DirIter, error) {
	b.readdirs++
	return b.Backend.Readdir(ctx, path)
}

// The second readdir of a directory is served from the inode store: the
// backend is listed exactly once, and the names resolve to the same inos both
// times.
func (t *FileSystemTest) TestReaddirTwiceHitsBackendOnce() {
	countingBackend := &readdirCountingBackend{Backend: t.backend}
	countingBackend.CreateFile("/a", 0644, []byte("x"))
	countingBackend.CreateFile("/b", 0644, []byte("y"))

	fsys, err := fs.New(fs.Config{
		Backend: countingBackend,
		Options: cfg.Options{Uid: 500, Gid: 501, RootPerm: 0550},
		Clock:   t.clock,
	})
	t.Require().NoError(err)

	openOp := &fuseops.OpenDirOp{Inode: fuseops.RootInodeID}
	t.Require().NoError(fsys.OpenDir(context.Background(), openOp))

	readdir := func() {
		op := &fuseops.ReadDirOp{
			Inode:  fuseops.RootInodeID,
			Handle: openOp.Handle,
			Dst:    make([]byte, 4096),
		}
		t.Require().NoError(fsys.ReadDir(context.Background(), op))
		t.Require().NotZero(op.BytesRead)
	}

	readdir()
	lookupB := &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "b"}
	t.Require().NoError(fsys.LookUpInode(context.Background(), lookupB))
	firstIno := lookupB.Entry.Child

	readdir()
	t.Equal(1, countingBackend.readdirs)

	lookupB = &fuseops.LookUpInodeOp{Parent: fuseops.RootInodeID, Name: "b"}
	t.Require().NoError(fsys.LookUpInode(context.Background(), lookupB))
	t.Equal(firstIno, lookupB.Entry.Child)
}

// failingWriteBackend wraps a memfs.Backend whose Write always fails, to
// exercise release's "log, don't fail" handling of a flush error.
type failingWriteBackend struct {
	*memfs.Backend
}

func (b *failingWriteBackend) Write(ctx context.Context, path string, offset int64, data []byte) error {
	return syscall.ECONNRESET
}

// A flush failure on release is logged but never fails the release reply
// itself.
func (t *FileSystemTest) TestReleaseFlushErrorDoesNotFailRelease() {
	failing := &failingWriteBackend{Backend: t.backend}
	fsys, err := fs.New(fs.Config{
		Backend: failing,
		Options: cfg.Options{Uid: 500, Gid: 501, RootPerm: 0550},
		Clock:   t.clock,
	})
	t.Require().NoError(err)

	op := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "f", Mode: 0644}
	t.Require().NoError(fsys.CreateFile(context.Background(), op))

	t.Require().NoError(fsys.WriteFile(context.Background(), &fuseops.WriteFileOp{
		Inode: op.Entry.Child, Offset: 0, Data: []byte("x"),
	}))

	err = fsys.ReleaseFileHandle(context.Background(), &fuseops.ReleaseFileHandleOp{Handle: op.Handle})
	t.Require().NoError(err, "a flush failure must not fail release itself")
}

// A backend failure during fsync replies EIO no matter what errno the
// backend itself produced.
func (t *FileSystemTest) TestFsyncBackendFailureIsEIO() {
	failing := &failingWriteBackend{Backend: t.backend}
	fsys, err := fs.New(fs.Config{
		Backend: failing,
		Options: cfg.Options{Uid: 500, Gid: 501, RootPerm: 0550},
		Clock:   t.clock,
	})
	t.Require().NoError(err)

	op := &fuseops.CreateFileOp{Parent: fuseops.RootInodeID, Name: "f", Mode: 0644}
	t.Require().NoError(fsys.CreateFile(context.Background(), op))
	t.Require().NoError(fsys.WriteFile(context.Background(), &fuseops.WriteFileOp{
		Inode: op.Entry.Child, Offset: 0, Data: []byte("x"),
	}))

	err = fsys.SyncFile(context.Background(), &fuseops.SyncFileOp{Inode: op.Entry.Child})
	t.Equal(syscall.EIO, err)
}

func (t *FileSystemTest) TestTwoFsyncsIssueAtMostOneWrite() {
	ino, _ := t.mknod("f", 0644)
	t.write(ino, 0, []byte("v1"))

	t.Require().NoError(t.fsys.SyncFile(context.Background(), &fuseops.SyncFileOp{Inode: ino}))
	// Mutate the backend out from under the cache to detect a second write.
	t.backend.CreateFile("/f", 0644, []byte("tampered"))

	t.Require().NoError(t.fsys.SyncFile(context.Background(), &fuseops.SyncFileOp{Inode: ino}))

	buf := make([]byte, 64)
	n, err := t.backend.Read(context.Background(), "/f", 0, buf)
	t.Require().NoError(err)
	t.Equal("tampered", string(buf[:n])) // unchanged: second fsync was a no-op
}

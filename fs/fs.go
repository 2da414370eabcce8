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

// Package fs implements the FUSE op dispatcher: it translates kernel
// requests arriving as fuseops.Op values into calls against a package inode
// Store, a package cache Cache, and ultimately a backend.Backend, and
// translates the results back into the responses fuseops expects.
//
// fuseutil.NewFileSystemServer dispatches every op on its own goroutine (the
// kernel only guarantees ordering of ops touching the same inode, not mutual
// exclusion across inodes), so FileSystem guards the Store and Cache with a
// single mutex held for the duration of each op. That lock is held across
// the op's backend call too: the dispatcher never lets two ops run
// concurrently, so a slow backend call is observed by every other op as the
// dispatcher simply being busy, not as a window for interleaving.
package fs

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"syscall"

	"github.com/anowell/netfuse/backend"
	"github.com/anowell/netfuse/cache"
	"github.com/anowell/netfuse/cfg"
	"github.com/anowell/netfuse/inode"
	"github.com/anowell/netfuse/metrics"
	"github.com/google/uuid"
	"github.com/jacobsa/fuse/fuseops"
	"github.com/jacobsa/fuse/fuseutil"
	"github.com/jacobsa/reqtrace"
	"github.com/jacobsa/timeutil"
)

// Config bundles everything a FileSystem needs at construction time.
type Config struct {
	// Backend is the remote store being mediated. Required.
	Backend backend.Backend

	// Options carries the mount-time settings loaded by package cfg.
	Options cfg.Options

	// Clock is used for inode timestamps. Defaults to timeutil.RealClock().
	Clock timeutil.Clock

	// Metrics records op counts and backend latency. A nil Recorder is
	// valid and simply records nothing.
	Metrics *metrics.Recorder

	// Logger receives a structured debug/error line per op. Defaults to
	// cfg.NewLogger(Options).
	Logger *slog.Logger
}

// FileSystem implements the dispatcher side of the FUSE op contract: lookup,
// getattr, read, readdir, mknod, mkdir, open, write, fsync, release,
// setattr, unlink, rmdir, plus the handle-lifecycle ops (open/release for
// both files and directories) the jacobsa/fuse binding requires on top of
// that.
//
// mu guards every field below for the duration of one op, against the
// goroutine-per-op dispatch fuseutil.NewFileSystemServer performs. It is
// one coarse lock rather than a per-inode scheme because this store has no
// separately lockable inode objects; holding it across an op's backend
// call makes the dispatcher single-threaded from the backend's point of
// view, even though jacobsa/fuse itself is not single-threaded.
type FileSystem struct {
	fuseutil.NotImplementedFileSystem

	/////////////////////////
	// Dependencies
	/////////////////////////

	backend backend.Backend
	clock   timeutil.Clock
	metrics *metrics.Recorder
	log     *slog.Logger

	/////////////////////////
	// Constant data
	/////////////////////////

	uid, gid uint32

	/////////////////////////
	// Mutable state
	/////////////////////////

	// GUARDED_BY(mu)
	mu sync.Mutex

	// GUARDED_BY(mu)
	inodes *inode.Store
	// GUARDED_BY(mu)
	cache *cache.Cache

	// Handle tables. Every Open{Dir,File} op mints a fresh HandleID; every
	// Release{Dir,File}HandleOp retires one. The handle ID carries no
	// meaning beyond "which inode does this refer to" since the cache
	// itself is keyed by inode, not handle.
	//
	// GUARDED_BY(mu)
	nextHandle fuseops.HandleID
	// GUARDED_BY(mu)
	dirHandles map[fuseops.HandleID]uint64
	// GUARDED_BY(mu)
	fileHandles map[fuseops.HandleID]uint64
}

// New constructs a FileSystem ready to be wrapped in a Server.
func New(conf Config) (*FileSystem, error) {
	if conf.Backend == nil {
		return nil, fmt.Errorf("fs.New: Backend is required")
	}

	clock := conf.Clock
	if clock == nil {
		clock = timeutil.RealClock()
	}

	logger := conf.Logger
	if logger == nil {
		logger = cfg.NewLogger(conf.Options)
	}

	rootPerm := conf.Options.RootPerm
	if rootPerm == 0 {
		rootPerm = cfg.DefaultRootPerm
	}

	s := &FileSystem{
		backend:     conf.Backend,
		clock:       clock,
		metrics:     conf.Metrics,
		log:         logger,
		uid:         conf.Options.Uid,
		gid:         conf.Options.Gid,
		inodes:      inode.NewStore(rootPerm, conf.Options.Uid, conf.Options.Gid, clock),
		cache:       cache.New(),
		nextHandle:  1,
		dirHandles:  make(map[fuseops.HandleID]uint64),
		fileHandles: make(map[fuseops.HandleID]uint64),
	}

	if err := s.backend.Init(context.Background()); err != nil {
		return nil, fmt.Errorf("backend Init: %w", err)
	}

	return s, nil
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

func childPath(parentPath, name string) string {
	if parentPath == "/" {
		return "/" + name
	}
	return parentPath + "/" + name
}

// attrFromMetadata builds an inode.Attr for a freshly-seen backend.Metadata.
func attrFromMetadata(md backend.Metadata, uid, gid uint32) inode.Attr {
	return inode.Attr{
		Size:   md.Size,
		Nlink:  1,
		Mode:   md.Mode,
		Atime:  md.Atime,
		Mtime:  md.Mtime,
		Ctime:  md.Ctime,
		Crtime: md.Crtime,
		Uid:    uid,
		Gid:    gid,
	}
}

func toFuseAttr(a inode.Attr) fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Size:   a.Size,
		Nlink:  a.Nlink,
		Mode:   a.Mode,
		Atime:  a.Atime,
		Mtime:  a.Mtime,
		Ctime:  a.Ctime,
		Crtime: a.Crtime,
		Uid:    a.Uid,
		Gid:    a.Gid,
	}
}

func (s *FileSystem) fillEntry(entry *fuseops.ChildInodeEntry, in *inode.Inode) {
	entry.Child = fuseops.InodeID(in.Ino)
	entry.Attributes = toFuseAttr(in.Attr)
}

func (s *FileSystem) newDirHandle(ino uint64) fuseops.HandleID {
	h := s.nextHandle
	s.nextHandle++
	s.dirHandles[h] = ino
	return h
}

func (s *FileSystem) newFileHandle(ino uint64) fuseops.HandleID {
	h := s.nextHandle
	s.nextHandle++
	s.fileHandles[h] = ino
	return h
}

// logOp emits one debug line per dispatched op, tagged with a fresh request
// ID so a multi-line op's log output can be correlated.
func (s *FileSystem) logOp(ctx context.Context, op string, args ...any) (context.Context, func(*error)) {
	reqID := uuid.NewString()
	ctx = context.WithValue(ctx, requestIDKey{}, reqID)
	ctx, report := reqtrace.Trace(ctx, op)
	start := s.clock.Now()

	s.log.DebugContext(ctx, "-> "+op, append([]any{"req", reqID}, args...)...)

	return ctx, func(errp *error) {
		err := *errp
		if err != nil {
			s.log.DebugContext(ctx, "<- "+op+" error", "req", reqID, "err", err)
		} else {
			s.log.DebugContext(ctx, "<- "+op+" ok", "req", reqID)
		}
		report(err)
		s.metrics.Observe(op, err, s.clock.Now().Sub(start))
	}
}

type requestIDKey struct{}

////////////////////////////////////////////////////////////////////////
// Inode lifecycle
////////////////////////////////////////////////////////////////////////

// LookUpInode resolves a (parent, name) pair to a child inode. If the
// parent has already been fully listed (Visited), a miss in the inode
// store is reported as ENOENT without consulting the backend again.
func (s *FileSystem) LookUpInode(ctx context.Context, op *fuseops.LookUpInodeOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, done := s.logOp(ctx, "lookup", "parent", op.Parent, "name", op.Name)
	defer done(&err)

	parent, ok := s.inodes.Get(uint64(op.Parent))
	if !ok {
		return syscall.ENOENT
	}

	if child, ok := s.inodes.Child(parent.Ino, op.Name); ok {
		s.fillEntry(&op.Entry, child)
		return nil
	}

	if parent.Visited {
		return syscall.ENOENT
	}

	path := childPath(parent.Path, op.Name)
	md, err := s.backend.Lookup(ctx, path)
	if err != nil {
		return err
	}

	child := s.inodes.InsertMetadata(path, attrFromMetadata(md, s.uid, s.gid))
	s.fillEntry(&op.Entry, child)
	return nil
}

// GetInodeAttributes returns the attributes last recorded for an inode.
func (s *FileSystem) GetInodeAttributes(ctx context.Context, op *fuseops.GetInodeAttributesOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, done := s.logOp(ctx, "getattr", "inode", op.Inode)
	defer done(&err)

	in, ok := s.inodes.Get(uint64(op.Inode))
	if !ok {
		return syscall.ENOENT
	}

	op.Attributes = toFuseAttr(in.Attr)
	return nil
}

// SetInodeAttributes applies a chmod/truncate/utimens locally. Attribute
// changes never touch the backend: they only mutate the inode store's record
// of the file, and are lost on unmount.
func (s *FileSystem) SetInodeAttributes(ctx context.Context, op *fuseops.SetInodeAttributesOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, done := s.logOp(ctx, "setattr", "inode", op.Inode)
	defer done(&err)

	in, ok := s.inodes.Get(uint64(op.Inode))
	if !ok {
		return syscall.ENOENT
	}

	if op.Size != nil {
		in.Attr.Size = *op.Size
		if e, ok := s.cache.Get(in.Ino); ok {
			if *op.Size < uint64(len(e.Data)) {
				e.Data = e.Data[:*op.Size]
			}
		}
	}
	if op.Mode != nil {
		in.Attr.Mode = (*op.Mode &^ os.ModeType) | (in.Attr.Mode & os.ModeType)
	}
	if op.Atime != nil {
		in.Attr.Atime = *op.Atime
	}
	if op.Mtime != nil {
		in.Attr.Mtime = *op.Mtime
	}
	in.Attr.Ctime = s.clock.Now()

	op.Attributes = toFuseAttr(in.Attr)
	return nil
}

// ForgetInode is a no-op: the store keeps an inode's bookkeeping alive
// until an explicit Unlink/RmDir removes it, so there is nothing to
// release here.
func (s *FileSystem) ForgetInode(ctx context.Context, op *fuseops.ForgetInodeOp) (err error) {
	return nil
}

////////////////////////////////////////////////////////////////////////
// Inode creation
////////////////////////////////////////////////////////////////////////

// MkDir creates a directory through the backend and records it.
func (s *FileSystem) MkDir(ctx context.Context, op *fuseops.MkDirOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, done := s.logOp(ctx, "mkdir", "parent", op.Parent, "name", op.Name)
	defer done(&err)

	parent, ok := s.inodes.Get(uint64(op.Parent))
	if !ok {
		return syscall.ENOENT
	}

	path := childPath(parent.Path, op.Name)
	if err = s.backend.Mkdir(ctx, path, op.Mode); err != nil {
		return err
	}

	now := s.clock.Now()
	attr := inode.Attr{
		Mode:   (op.Mode &^ os.ModeType) | os.ModeDir,
		Nlink:  1,
		Uid:    s.uid,
		Gid:    s.gid,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Crtime: now,
	}
	child := s.inodes.InsertMetadata(path, attr)
	s.fillEntry(&op.Entry, child)
	return nil
}

// CreateFile implements mknod: a regular file is created purely locally
// (cache entry marked warm and dirty, empty), with no backend call. The
// first flush on release or fsync is what actually creates the object on
// the backend, via Write.
func (s *FileSystem) CreateFile(ctx context.Context, op *fuseops.CreateFileOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, done := s.logOp(ctx, "mknod", "parent", op.Parent, "name", op.Name)
	defer done(&err)

	parent, ok := s.inodes.Get(uint64(op.Parent))
	if !ok {
		return syscall.ENOENT
	}

	path := childPath(parent.Path, op.Name)
	now := s.clock.Now()
	attr := inode.Attr{
		Mode:   op.Mode &^ os.ModeType,
		Nlink:  1,
		Uid:    s.uid,
		Gid:    s.gid,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Crtime: now,
	}
	child := s.inodes.InsertMetadata(path, attr)

	entry := s.cache.GetOrCreate(child.Ino)
	entry.Write(0, nil)

	op.Handle = s.newFileHandle(child.Ino)
	s.cache.Open(child.Ino)
	s.fillEntry(&op.Entry, child)
	return nil
}

////////////////////////////////////////////////////////////////////////
// Unlinking
////////////////////////////////////////////////////////////////////////

// RmDir removes an empty directory.
func (s *FileSystem) RmDir(ctx context.Context, op *fuseops.RmDirOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, done := s.logOp(ctx, "rmdir", "parent", op.Parent, "name", op.Name)
	defer done(&err)

	parent, ok := s.inodes.Get(uint64(op.Parent))
	if !ok {
		return syscall.ENOENT
	}
	child, ok := s.inodes.Child(parent.Ino, op.Name)
	if !ok {
		return syscall.ENOENT
	}

	// A backend removal failure is not distinguishable to the kernel beyond
	// "the remove did not happen": reply EIO rather than leaking whatever the
	// backend's own failure vocabulary is.
	if err = s.backend.Rmdir(ctx, child.Path); err != nil {
		return syscall.EIO
	}

	s.inodes.Remove(child.Ino)
	s.cache.Drop(child.Ino)
	return nil
}

// Unlink removes a file.
func (s *FileSystem) Unlink(ctx context.Context, op *fuseops.UnlinkOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, done := s.logOp(ctx, "unlink", "parent", op.Parent, "name", op.Name)
	defer done(&err)

	parent, ok := s.inodes.Get(uint64(op.Parent))
	if !ok {
		return syscall.ENOENT
	}
	child, ok := s.inodes.Child(parent.Ino, op.Name)
	if !ok {
		return syscall.ENOENT
	}

	if err = s.backend.Unlink(ctx, child.Path); err != nil {
		return syscall.EIO
	}

	s.inodes.Remove(child.Ino)
	s.cache.Drop(child.Ino)
	return nil
}

////////////////////////////////////////////////////////////////////////
// Directory handles
////////////////////////////////////////////////////////////////////////

// OpenDir records that a directory handle has been minted for Inode.
func (s *FileSystem) OpenDir(ctx context.Context, op *fuseops.OpenDirOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.inodes.Get(uint64(op.Inode))
	if !ok {
		return syscall.ENOENT
	}
	if !in.Attr.IsDir() {
		return syscall.ENOTDIR
	}

	op.Handle = s.newDirHandle(in.Ino)
	return nil
}

// ReadDir serves a directory listing in a single call: a nonzero Offset (the
// kernel asking to resume a previous ReadDir) yields an empty reply. The
// call at offset zero writes as many entries as fit in op.Dst; entries that
// do not fit are not returned by any later call. The listing itself comes from the inode store if the
// directory has already been fully listed once (Visited), or from the
// backend otherwise, recording every child it sees along the way.
func (s *FileSystem) ReadDir(ctx context.Context, op *fuseops.ReadDirOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, done := s.logOp(ctx, "readdir", "inode", op.Inode, "offset", op.Offset)
	defer done(&err)

	if op.Offset > 0 {
		return nil
	}

	ino, ok := s.dirHandles[op.Handle]
	if !ok {
		return syscall.EBADF
	}

	dir, ok := s.inodes.Get(ino)
	if !ok {
		return syscall.ENOENT
	}

	parentOfDir, _ := s.inodes.Parent(dir.Ino)

	type ent struct {
		name string
		ino  uint64
		dir  bool
	}
	entries := []ent{
		{name: ".", ino: dir.Ino, dir: true},
		{name: "..", ino: parentOfDir.Ino, dir: true},
	}

	if dir.Visited {
		for _, child := range s.inodes.Children(dir.Ino) {
			entries = append(entries, ent{name: child.Name(), ino: child.Ino, dir: child.Attr.IsDir()})
		}
	} else {
		it, iterErr := s.backend.Readdir(ctx, dir.Path)
		if iterErr != nil {
			return iterErr
		}
		defer it.Close()

		for {
			de, nextErr := it.Next()
			if nextErr == io.EOF {
				break
			}
			if nextErr != nil {
				return nextErr
			}

			path := childPath(dir.Path, de.Name)
			attr := attrFromMetadata(de.Metadata, s.uid, s.gid)
			child := s.inodes.InsertMetadata(path, attr)
			entries = append(entries, ent{name: de.Name, ino: child.Ino, dir: attr.IsDir()})
		}

		dir.Visited = true
	}

	offset := fuseops.DirOffset(1)
	for _, e := range entries {
		dt := fuseutil.DT_File
		if e.dir {
			dt = fuseutil.DT_Directory
		}

		n := fuseutil.WriteDirent(op.Dst[op.BytesRead:], fuseutil.Dirent{
			Offset: offset,
			Inode:  fuseops.InodeID(e.ino),
			Name:   e.name,
			Type:   dt,
		})
		if n == 0 {
			break
		}
		op.BytesRead += n
		offset++
	}

	return nil
}

// ReleaseDirHandle retires a directory handle.
func (s *FileSystem) ReleaseDirHandle(ctx context.Context, op *fuseops.ReleaseDirHandleOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.dirHandles, op.Handle)
	return nil
}

////////////////////////////////////////////////////////////////////////
// File handles
////////////////////////////////////////////////////////////////////////

// OpenFile mints a file handle and bumps the cache entry's handle count,
// warming the cache lazily on the first Read rather than here.
func (s *FileSystem) OpenFile(ctx context.Context, op *fuseops.OpenFileOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	in, ok := s.inodes.Get(uint64(op.Inode))
	if !ok {
		return syscall.ENOENT
	}
	if in.Attr.IsDir() {
		return syscall.EISDIR
	}

	op.Handle = s.newFileHandle(in.Ino)
	s.cache.Open(in.Ino)
	return nil
}

// readToCacheIfNeeded fills in.Ino's cache entry from the backend the first
// time it's needed.
func (s *FileSystem) readToCacheIfNeeded(ctx context.Context, in *inode.Inode) (*cache.Entry, error) {
	entry := s.cache.GetOrCreate(in.Ino)
	if entry.Warm {
		return entry, nil
	}

	buf := make([]byte, in.Attr.Size)
	n, err := s.backend.Read(ctx, in.Path, 0, buf)
	if err != nil {
		return nil, err
	}
	entry.Set(buf[:n])
	return entry, nil
}

// ReadFile serves a read out of the page cache, warming it from the backend
// first if necessary. An offset at or past the end of the cached contents
// replies ENOENT rather than a zero-length read; a short tail (offset before
// but offset+len past the end) replies the bytes available, not an error.
func (s *FileSystem) ReadFile(ctx context.Context, op *fuseops.ReadFileOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, done := s.logOp(ctx, "read", "inode", op.Inode, "offset", op.Offset, "size", len(op.Dst))
	defer done(&err)

	in, ok := s.inodes.Get(uint64(op.Inode))
	if !ok {
		return syscall.ENOENT
	}

	entry, err := s.readToCacheIfNeeded(ctx, in)
	if err != nil {
		return err
	}

	if op.Offset < 0 || uint64(op.Offset) >= uint64(len(entry.Data)) {
		return syscall.ENOENT
	}

	op.BytesRead = copy(op.Dst, entry.Data[op.Offset:])
	return nil
}

// WriteFile applies a write to the cache. A write at offset zero that is
// longer than the backend-known size of the file replaces the file's entire
// contents, eliding the backend read that would otherwise be needed to
// splice a partial write into unread data, since there is nothing left to
// preserve.
func (s *FileSystem) WriteFile(ctx context.Context, op *fuseops.WriteFileOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, done := s.logOp(ctx, "write", "inode", op.Inode, "offset", op.Offset, "size", len(op.Data))
	defer done(&err)

	in, ok := s.inodes.Get(uint64(op.Inode))
	if !ok {
		return syscall.ENOENT
	}

	entry := s.cache.GetOrCreate(in.Ino)

	fullReplace := op.Offset == 0 && in.Attr.Size < uint64(len(op.Data))
	if !fullReplace {
		if _, err = s.readToCacheIfNeeded(ctx, in); err != nil {
			return err
		}
	}

	entry.Write(uint64(op.Offset), op.Data)

	if uint64(op.Offset)+uint64(len(op.Data)) > in.Attr.Size {
		in.Attr.Size = uint64(op.Offset) + uint64(len(op.Data))
	}
	in.Attr.Mtime = s.clock.Now()

	return nil
}

// SyncFile flushes a dirty cache entry to the backend without releasing the
// handle, matching fsync(2) semantics: the file stays open afterward.
func (s *FileSystem) SyncFile(ctx context.Context, op *fuseops.SyncFileOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, done := s.logOp(ctx, "fsync", "inode", op.Inode)
	defer done(&err)

	in, ok := s.inodes.Get(uint64(op.Inode))
	if !ok {
		return syscall.ENOENT
	}

	if ferr := s.flushIfDirty(ctx, in); ferr != nil {
		return syscall.EIO
	}
	return nil
}

// flushIfDirty writes a dirty cache entry back to the backend, marking it
// synced on success.
func (s *FileSystem) flushIfDirty(ctx context.Context, in *inode.Inode) error {
	entry, ok := s.cache.Get(in.Ino)
	if !ok || entry.Sync || !entry.Warm {
		return nil
	}

	if err := s.backend.Write(ctx, in.Path, 0, entry.Data); err != nil {
		return err
	}
	entry.Sync = true
	return nil
}

// FlushFile flushes a dirty cache entry to the backend on close(2), without
// affecting the handle's reference count. Unlike ReleaseFileHandle it may be
// called more than once per handle (e.g. dup2), so it must not drop the
// cache entry itself.
func (s *FileSystem) FlushFile(ctx context.Context, op *fuseops.FlushFileOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, done := s.logOp(ctx, "flush", "inode", op.Inode)
	defer done(&err)

	in, ok := s.inodes.Get(uint64(op.Inode))
	if !ok {
		return syscall.ENOENT
	}

	if ferr := s.flushIfDirty(ctx, in); ferr != nil {
		return syscall.EIO
	}
	return nil
}

// ReleaseFileHandle handles the kernel dropping its last reference to this
// handle. If this was the last outstanding handle on the inode, a dirty
// entry is flushed; a flush failure is logged but never fails the release
// itself. The cache entry is then dropped once it is either synced or was
// never warmed at all (a flush failure leaves it dirty, and so in the
// cache, for a later attempt).
func (s *FileSystem) ReleaseFileHandle(ctx context.Context, op *fuseops.ReleaseFileHandleOp) (err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ino, ok := s.fileHandles[op.Handle]
	if !ok {
		return nil
	}
	delete(s.fileHandles, op.Handle)

	ctx, done := s.logOp(ctx, "release", "inode", ino)
	defer done(&err)

	_, remaining, relErr := s.cache.Release(ino)
	if relErr != nil {
		return nil
	}

	if remaining == 0 {
		if in, ok := s.inodes.Get(ino); ok {
			if ferr := s.flushIfDirty(ctx, in); ferr != nil {
				s.log.ErrorContext(ctx, "release: flush failed", "inode", ino, "err", ferr)
			}
		}

		if entry, ok := s.cache.Get(ino); ok && entry.Evictable() {
			s.cache.Drop(ino)
		}
	}

	return nil
}

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

// Package memfs is a toy backend.Backend over an in-memory tree of paths,
// grounded in jacobsa/fuse's own samples/memfs sample file system. It exists
// so package fs's tests can drive the dispatcher through a real backend
// instead of a hand-rolled mock, and as a worked example for anyone
// implementing their own backend.Backend against a real remote store.
package memfs

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"syscall"

	"github.com/anowell/netfuse/backend"
	"github.com/jacobsa/timeutil"
)

// Backend is an in-memory backend.Backend. The zero value is not usable;
// construct with New.
type Backend struct {
	clock timeutil.Clock

	mu    sync.Mutex
	nodes map[string]*entry
}

type entry struct {
	mode os.FileMode
	data []byte
}

var _ backend.Backend = (*Backend)(nil)

// New returns a Backend with an empty root directory ("/"), timestamped
// using clock. A nil clock defaults to timeutil.RealClock().
func New(clock timeutil.Clock) *Backend {
	if clock == nil {
		clock = timeutil.RealClock()
	}

	b := &Backend{
		clock: clock,
		nodes: make(map[string]*entry),
	}
	b.nodes["/"] = &entry{mode: os.ModeDir | 0755}
	return b
}

func (b *Backend) Init(ctx context.Context) error {
	return nil
}

// split returns the parent path and base name of p. p must be absolute and
// not the root.
func split(p string) (dir, name string) {
	i := strings.LastIndexByte(p, '/')
	dir = p[:i]
	if dir == "" {
		dir = "/"
	}
	name = p[i+1:]
	return
}

func (b *Backend) metadata(e *entry) backend.Metadata {
	now := b.clock.Now()
	return backend.Metadata{
		Size:   uint64(len(e.data)),
		Mode:   e.mode,
		Atime:  now,
		Mtime:  now,
		Ctime:  now,
		Crtime: now,
	}
}

func (b *Backend) Lookup(ctx context.Context, path string) (backend.Metadata, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.nodes[path]
	if !ok {
		return backend.Metadata{}, syscall.ENOENT
	}
	return b.metadata(e), nil
}

func (b *Backend) Read(ctx context.Context, path string, offset int64, buf []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.nodes[path]
	if !ok {
		return 0, syscall.ENOENT
	}
	if e.mode.IsDir() {
		return 0, syscall.EISDIR
	}
	if offset < 0 || offset >= int64(len(e.data)) {
		return 0, nil
	}
	return copy(buf, e.data[offset:]), nil
}

func (b *Backend) Write(ctx context.Context, path string, offset int64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.nodes[path]
	if !ok {
		// A write to a path not yet present creates it as a regular file,
		// provided its parent directory exists.
		dir, _ := split(path)
		if parent, ok := b.nodes[dir]; !ok || !parent.mode.IsDir() {
			return syscall.ENOENT
		}
		e = &entry{mode: 0644}
		b.nodes[path] = e
	}
	if e.mode.IsDir() {
		return syscall.EISDIR
	}

	end := offset + int64(len(data))
	if end > int64(len(e.data)) {
		grown := make([]byte, end)
		copy(grown, e.data)
		e.data = grown
	}
	copy(e.data[offset:end], data)
	return nil
}

func (b *Backend) Readdir(ctx context.Context, path string) (backend.DirIter, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	dir, ok := b.nodes[path]
	if !ok {
		return nil, syscall.ENOENT
	}
	if !dir.mode.IsDir() {
		return nil, syscall.ENOTDIR
	}

	prefix := path
	if prefix != "/" {
		prefix += "/"
	}

	var names []string
	for p := range b.nodes {
		if p == path || !strings.HasPrefix(p, prefix) {
			continue
		}
		rest := p[len(prefix):]
		if strings.ContainsRune(rest, '/') {
			continue // not an immediate child
		}
		names = append(names, rest)
	}
	sort.Strings(names)

	entries := make([]backend.DirEntry, 0, len(names))
	for _, name := range names {
		e := b.nodes[prefix+name]
		entries = append(entries, backend.DirEntry{Name: name, Metadata: b.metadata(e)})
	}

	return backend.NewSliceDirIter(entries), nil
}

func (b *Backend) Mkdir(ctx context.Context, path string, mode os.FileMode) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.nodes[path]; ok {
		return syscall.EEXIST
	}
	dir, _ := split(path)
	if parent, ok := b.nodes[dir]; !ok || !parent.mode.IsDir() {
		return syscall.ENOENT
	}

	b.nodes[path] = &entry{mode: (mode &^ os.ModeType) | os.ModeDir}
	return nil
}

func (b *Backend) Rmdir(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.nodes[path]
	if !ok {
		return syscall.ENOENT
	}
	if !e.mode.IsDir() {
		return syscall.ENOTDIR
	}

	prefix := path
	if prefix != "/" {
		prefix += "/"
	}
	for p := range b.nodes {
		if strings.HasPrefix(p, prefix) {
			return syscall.ENOTEMPTY
		}
	}

	delete(b.nodes, path)
	return nil
}

func (b *Backend) Unlink(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	e, ok := b.nodes[path]
	if !ok {
		return syscall.ENOENT
	}
	if e.mode.IsDir() {
		return syscall.EISDIR
	}

	delete(b.nodes, path)
	return nil
}

// CreateFile seeds path with initial contents and mode, for test setup; it
// is not part of backend.Backend. Overwrites any existing node at path.
func (b *Backend) CreateFile(path string, mode os.FileMode, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nodes[path] = &entry{mode: mode &^ os.ModeType, data: append([]byte(nil), data...)}
}

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

// Package cache implements the in-memory, write-back page cache that sits
// between the dispatcher and a backend.Backend: one Entry per open or
// recently-open inode, holding the full contents of the file as a single
// byte slice. There is no eviction policy beyond "drop on last release when
// nothing needs writing back"; this is not meant to bound memory use for
// huge files, only to avoid a network round trip per read(2)/write(2).
package cache

import (
	"strconv"
	"syscall"

	"github.com/jacobsa/syncutil"
)

// Entry is the cached state for a single inode's file contents.
//
// State machine:
//
//   - absent:            no Entry exists for the inode.
//   - cold (Warm=false): an Entry exists (created by Open) but its Data has
//     not yet been filled in from the backend.
//   - warm (Warm=true, Sync=false): Data reflects either a backend read or a
//     local write not yet flushed back.
//   - synced (Warm=true, Sync=true): Data has been written back to the
//     backend and matches it.
//
// A Write always leaves an entry warm and not synced. Release flushes a
// dirty entry and drops it from the Cache once Handles reaches zero,
// provided it is synced or was never warmed (nothing worth keeping around).
type Entry struct {
	Data    []byte
	Warm    bool
	Sync    bool
	Handles uint32
}

// Set replaces the entry's contents wholesale, e.g. after a backend read,
// marking the entry warm and synced (what's cached now matches the backend).
func (e *Entry) Set(data []byte) {
	e.Data = append([]byte(nil), data...)
	e.Warm = true
	e.Sync = true
}

// Write splices data into the entry at offset, growing Data and zero-filling
// any gap if offset is past the current end, the same hole semantics as
// pwrite(2). The entry is left warm and dirty (Sync=false): it must be
// flushed before it can be dropped.
func (e *Entry) Write(offset uint64, data []byte) {
	end := offset + uint64(len(data))
	if end > uint64(len(e.Data)) {
		grown := make([]byte, end)
		copy(grown, e.Data)
		e.Data = grown
	}
	copy(e.Data[offset:end], data)
	e.Warm = true
	e.Sync = false
}

// Opened records a new handle on the entry, returning the new handle count.
func (e *Entry) Opened() uint32 {
	e.Handles++
	return e.Handles
}

// Released drops a handle on the entry, returning the new handle count. It
// panics if called with no outstanding handles, since that means the
// dispatcher's open/release bookkeeping has drifted out of sync with the
// kernel's.
func (e *Entry) Released() uint32 {
	if e.Handles == 0 {
		panic("cache: Released with no outstanding handles")
	}
	e.Handles--
	return e.Handles
}

// Evictable reports whether the entry may be dropped from the Cache: either
// it is fully synced with the backend, or it was never warmed in the first
// place (so there is nothing to lose).
func (e *Entry) Evictable() bool {
	return e.Sync || !e.Warm
}

// Cache maps inode numbers to their cached file contents.
type Cache struct {
	/////////////////////////
	// Mutable state
	/////////////////////////

	// See Store.Mu in package inode for why this exists on a structure
	// that is, in practice, never contended.
	Mu syncutil.InvariantMutex

	// GUARDED_BY(Mu)
	entries map[uint64]*Entry
}

// New returns an empty Cache.
func New() *Cache {
	c := &Cache{entries: make(map[uint64]*Entry)}
	c.Mu = syncutil.NewInvariantMutex(c.checkInvariants)
	return c
}

func (c *Cache) checkInvariants() {
	for ino, e := range c.entries {
		if e == nil {
			panic("cache: nil entry recorded for ino " + strconv.FormatUint(ino, 10))
		}
	}
}

// Get returns the entry for ino, if one exists.
func (c *Cache) Get(ino uint64) (*Entry, bool) {
	e, ok := c.entries[ino]
	return e, ok
}

// GetOrCreate returns the entry for ino, creating an empty, cold one if none
// exists yet.
func (c *Cache) GetOrCreate(ino uint64) *Entry {
	e, ok := c.entries[ino]
	if !ok {
		e = &Entry{}
		c.entries[ino] = e
	}
	return e
}

// Drop removes the entry for ino, if any. It is a no-op if no entry is
// cached, and does not check Evictable: callers are responsible for only
// dropping entries that are safe to lose.
func (c *Cache) Drop(ino uint64) {
	delete(c.entries, ino)
}

// Open increments the handle count on ino's entry, creating the entry if
// necessary, and returns it.
func (c *Cache) Open(ino uint64) *Entry {
	e := c.GetOrCreate(ino)
	e.Opened()
	return e
}

// Release decrements the handle count on ino's entry and returns it along
// with the remaining handle count. It returns ENOENT if no entry is cached
// for ino, which would mean open/release bookkeeping has drifted.
func (c *Cache) Release(ino uint64) (*Entry, uint32, error) {
	e, ok := c.entries[ino]
	if !ok {
		return nil, 0, syscall.ENOENT
	}
	return e, e.Released(), nil
}

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

// Package inode maintains the bidirectional mapping between the inode
// numbers the kernel deals in and the paths a backend.Backend deals in.
package inode

import (
	"os"
	"time"
)

// RootIno is the fixed inode number of the filesystem root.
const RootIno = 1

// FirstAllocatedIno is the first inode number handed out by
// Store.InsertMetadata for anything other than the root.
const FirstAllocatedIno = 2

// Attr is the attribute record stored for an inode, shaped like
// fuseops.InodeAttributes so package fs can copy it into a response
// directly.
type Attr struct {
	Size   uint64
	Nlink  uint32
	Mode   os.FileMode
	Atime  time.Time
	Mtime  time.Time
	Ctime  time.Time
	Crtime time.Time
	Uid    uint32
	Gid    uint32
}

// IsDir reports whether the attribute record describes a directory.
func (a Attr) IsDir() bool {
	return a.Mode&os.ModeDir != 0
}

// Inode is a single entry in a Store: an inode number, the path it
// currently resolves to, its attributes, and whether the dispatcher has
// already listed it in full (Visited licenses negative lookups without a
// backend round trip).
type Inode struct {
	Ino     uint64
	Path    string
	Attr    Attr
	Visited bool
}

// Name returns the inode's basename: the last path component of Path. The
// root's basename is the empty string. Entry names are never stored
// separately; they are always derived from Path on demand.
func (in *Inode) Name() string {
	return basename(in.Path)
}

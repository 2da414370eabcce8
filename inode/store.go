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

package inode

import (
	"os"
	"strconv"
	"strings"

	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"
)

// trieNode is one node of the path-component trie that backs
// Store.GetByPath, Store.Child and Store.Children.
type trieNode struct {
	ino      uint64
	hasIno   bool
	children map[string]*trieNode
}

func newTrieNode() *trieNode {
	return &trieNode{children: make(map[string]*trieNode)}
}

// Store is the bidirectional map between inode numbers and paths. It owns
// ino allocation: ino 1 is always the root, and every other ino is handed
// out once, monotonically, and never reused, even after the path it named
// is removed. The kernel may hold cached attrs keyed by an old number long
// after a remove, so a recycled ino would alias two files.
type Store struct {
	/////////////////////////
	// Dependencies
	/////////////////////////

	clock timeutil.Clock

	/////////////////////////
	// Constant data
	/////////////////////////

	uid, gid uint32

	/////////////////////////
	// Mutable state
	/////////////////////////

	// An invariant-checking mutex: locking or unlocking it runs
	// checkInvariants, which panics on corruption. No Store method acquires
	// it and package fs does not lock it, so that check runs only for a
	// caller that locks Mu itself; the panics in Insert and Remove fire
	// regardless.
	Mu syncutil.InvariantMutex

	// GUARDED_BY(Mu)
	byIno map[uint64]*Inode

	// GUARDED_BY(Mu)
	trie *trieNode

	// GUARDED_BY(Mu)
	nextIno uint64
}

// NewStore creates a Store with only the root inode present, owned by uid
// and gid and with permission bits rootPerm (the type bit is forced to
// os.ModeDir regardless of what rootPerm carries).
func NewStore(
	rootPerm os.FileMode,
	uid uint32,
	gid uint32,
	clock timeutil.Clock) *Store {
	s := &Store{
		clock:   clock,
		uid:     uid,
		gid:     gid,
		byIno:   make(map[uint64]*Inode),
		trie:    newTrieNode(),
		nextIno: FirstAllocatedIno,
	}

	now := clock.Now()
	root := &Inode{
		Ino:  RootIno,
		Path: "/",
		Attr: Attr{
			Mode:   (rootPerm &^ os.ModeType) | os.ModeDir,
			Uid:    uid,
			Gid:    gid,
			Nlink:  1,
			Atime:  now,
			Mtime:  now,
			Ctime:  now,
			Crtime: now,
		},
	}

	s.byIno[RootIno] = root
	s.trie.hasIno = true
	s.trie.ino = RootIno

	s.Mu = syncutil.NewInvariantMutex(s.checkInvariants)

	return s
}

////////////////////////////////////////////////////////////////////////
// Helpers
////////////////////////////////////////////////////////////////////////

// basename returns the last path component of p ("" for the root).
func basename(p string) string {
	if p == "/" {
		return ""
	}
	i := strings.LastIndexByte(p, '/')
	return p[i+1:]
}

// pathComponents splits an absolute path into its components, e.g.
// "/foo/bar" -> ["foo", "bar"] and "/" -> nil.
func pathComponents(p string) []string {
	trimmed := strings.Trim(p, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

// joinPath appends name as a new final component of parent.
func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

func (s *Store) checkInvariants() {
	if root, ok := s.byIno[RootIno]; !ok || root.Path != "/" {
		panic("inode store: root inode missing or misplaced")
	}

	if !s.trie.hasIno || s.trie.ino != RootIno {
		panic("inode store: trie root does not map to root inode")
	}

	for ino, in := range s.byIno {
		if in.Ino != ino {
			panic("inode store: byIno key does not match stored inode's Ino")
		}

		node, ok := s.lookupTrieNode(pathComponents(in.Path))
		if !ok || !node.hasIno || node.ino != ino {
			panic("inode store: path trie disagrees with byIno for ino " + strconv.FormatUint(ino, 10))
		}
	}
}

// lookupTrieNode walks comps from the trie root, returning the node at the
// end of the path if every component exists.
func (s *Store) lookupTrieNode(comps []string) (*trieNode, bool) {
	node := s.trie
	for _, c := range comps {
		child, ok := node.children[c]
		if !ok {
			return nil, false
		}
		node = child
	}
	return node, true
}

// ensureTrieNode is like lookupTrieNode but creates intermediate nodes as
// needed, for use by Insert.
func (s *Store) ensureTrieNode(comps []string) *trieNode {
	node := s.trie
	for _, c := range comps {
		child, ok := node.children[c]
		if !ok {
			child = newTrieNode()
			node.children[c] = child
		}
		node = child
	}
	return node
}

////////////////////////////////////////////////////////////////////////
// Public interface
////////////////////////////////////////////////////////////////////////

// Get returns the inode with the given number, if any.
func (s *Store) Get(ino uint64) (*Inode, bool) {
	in, ok := s.byIno[ino]
	return in, ok
}

// GetByPath returns the inode currently resolving to path, if any.
func (s *Store) GetByPath(path string) (*Inode, bool) {
	node, ok := s.lookupTrieNode(pathComponents(path))
	if !ok || !node.hasIno {
		return nil, false
	}
	in, ok := s.byIno[node.ino]
	return in, ok
}

// Child returns the child of parent named name, if one has been recorded.
func (s *Store) Child(parent uint64, name string) (*Inode, bool) {
	p, ok := s.byIno[parent]
	if !ok {
		return nil, false
	}
	return s.GetByPath(joinPath(p.Path, name))
}

// Children returns every recorded child of parent, in no particular order.
func (s *Store) Children(parent uint64) []*Inode {
	p, ok := s.byIno[parent]
	if !ok {
		return nil
	}

	node, ok := s.lookupTrieNode(pathComponents(p.Path))
	if !ok {
		return nil
	}

	var out []*Inode
	for _, child := range node.children {
		if child.hasIno {
			if in, ok := s.byIno[child.ino]; ok {
				out = append(out, in)
			}
		}
	}
	return out
}

// Parent returns the parent of ino. The root is its own parent.
func (s *Store) Parent(ino uint64) (*Inode, bool) {
	in, ok := s.byIno[ino]
	if !ok {
		return nil, false
	}
	if in.Ino == RootIno {
		return in, true
	}

	comps := pathComponents(in.Path)
	parentPath := "/" + strings.Join(comps[:len(comps)-1], "/")
	return s.GetByPath(parentPath)
}

// Insert records in at its Path, allocating the trie node if necessary. It
// panics if a different ino is already recorded at that path: a store that
// lets two inodes claim the same path is corrupt.
func (s *Store) Insert(in *Inode) {
	node := s.ensureTrieNode(pathComponents(in.Path))
	if node.hasIno && node.ino != in.Ino {
		panic("inode store: path " + in.Path + " already claimed by a different ino")
	}

	node.hasIno = true
	node.ino = in.Ino
	s.byIno[in.Ino] = in
}

// InsertMetadata records attr for path, reusing the ino already recorded
// for that path if one exists, or allocating the next monotonic ino
// otherwise. It returns the resulting inode.
func (s *Store) InsertMetadata(path string, attr Attr) *Inode {
	if existing, ok := s.GetByPath(path); ok {
		existing.Attr = attr
		return existing
	}

	ino := s.nextIno
	s.nextIno++

	in := &Inode{Ino: ino, Path: path, Attr: attr}
	s.Insert(in)
	return in
}

// Remove deletes ino from the store entirely: from byIno and from the path
// trie. It panics if ino is not present, or if it still has recorded
// children, since removing a non-empty directory's bookkeeping out from
// under its children would corrupt the trie.
func (s *Store) Remove(ino uint64) {
	in, ok := s.byIno[ino]
	if !ok {
		panic("inode store: Remove of unknown ino")
	}

	comps := pathComponents(in.Path)
	node, ok := s.lookupTrieNode(comps)
	if !ok || !node.hasIno || node.ino != ino {
		panic("inode store: trie does not agree with byIno on Remove")
	}

	if len(node.children) > 0 {
		panic("inode store: Remove of ino with recorded children")
	}

	delete(s.byIno, ino)

	if len(comps) == 0 {
		panic("inode store: refusing to remove the root")
	}

	parentNode, _ := s.lookupTrieNode(comps[:len(comps)-1])
	delete(parentNode.children, comps[len(comps)-1])
}

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

package fs

import (
	"fmt"

	"github.com/jacobsa/fuse"
	"github.com/jacobsa/fuse/fuseutil"
)

// NewServer wraps a FileSystem as a fuse.Server.
// fuseutil.NewFileSystemServer dispatches each op on its own goroutine, so
// FileSystem's own mu (see fs.go) is what keeps the dispatcher's view of the
// Store and Cache single-threaded, not anything done here.
func NewServer(fsys *FileSystem) fuse.Server {
	return fuseutil.NewFileSystemServer(fsys)
}

// Mount mounts fsys at dir, serving ops with jacobsa/fuse's own connection
// loop. The returned MountedFileSystem can be joined to wait for
// unmounting.
func Mount(dir string, fsys *FileSystem, mountCfg *fuse.MountConfig) (*fuse.MountedFileSystem, error) {
	if mountCfg == nil {
		mountCfg = &fuse.MountConfig{
			FSName:  "netfuse",
			Subtype: "netfuse",
		}
	}

	mfs, err := fuse.Mount(dir, NewServer(fsys), mountCfg)
	if err != nil {
		return nil, fmt.Errorf("fuse.Mount: %w", err)
	}

	return mfs, nil
}

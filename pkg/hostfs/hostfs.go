/*
Copyright 2013 The Sentrybase Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

     http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package hostfs defines the narrow filesystem collaborator the
// property calculator and the filesystem data-source iterator consume
// (stat, open-for-read, read-symlink, sorted directory listing), and
// an os-backed default implementation.
package hostfs

import (
	"io"
	"os"
	"path"
	"sort"
	"time"

	"sentrybase.org/pkg/propval"
)

// Stat is the raw measurement a single stat call yields, mirroring the
// property set's stat-backed indices one-to-one.
type Stat struct {
	Dev, Rdev          uint64
	Inode              uint64
	Mode               uint32
	NLink              uint32
	UID, GID           uint32
	Size               int64
	ATime, MTime, CTime time.Time
	BlockSize, Blocks  int64
	FileType           propval.FileType
}

// FS is the narrow collaborator the core reads filesystem objects
// through. Implementations must never modify access times when asked
// not to (DO_NOT_MODIFY_OBJECTS / preserveAtime).
type FS interface {
	// Stat returns the object's metadata without following a trailing
	// symlink (lstat semantics).
	Stat(apiPath string) (Stat, error)
	// OpenRead opens the object for sequential reading. directIO
	// requests bypassing the OS page cache where supported.
	OpenRead(apiPath string, directIO bool) (io.ReadCloser, error)
	// ReadLink returns a symlink's target bytes, used as the symlink's
	// "content" for hashing.
	ReadLink(apiPath string) (string, error)
	// ReadDir returns the short names of apiPath's children, sorted.
	ReadDir(apiPath string) ([]string, error)
}

// OS is the default FS backed by the local operating system.
type OS struct{}

var _ FS = OS{}

func (OS) Stat(apiPath string) (Stat, error) {
	fi, err := os.Lstat(apiPath)
	if err != nil {
		return Stat{}, err
	}
	return statFromFileInfo(fi), nil
}

func (OS) OpenRead(apiPath string, directIO bool) (io.ReadCloser, error) {
	flags := os.O_RDONLY
	// Portable O_DIRECT support is platform-specific and not exposed
	// by the os package; directIO is accepted and ignored, so reads
	// always go through the OS page cache (DIRECT_IO only ever
	// affects cache behavior, never correctness).
	_ = directIO
	return os.OpenFile(apiPath, flags, 0)
}

func (OS) ReadLink(apiPath string) (string, error) {
	return os.Readlink(apiPath)
}

func (OS) ReadDir(apiPath string) ([]string, error) {
	entries, err := os.ReadDir(apiPath)
	if err != nil {
		return nil, err
	}
	names := make([]string, len(entries))
	for i, e := range entries {
		names[i] = e.Name()
	}
	sort.Strings(names)
	return names, nil
}

// Join joins a directory and a short name into the next API path,
// using the genre's delimiter convention ('/').
func Join(dir, name string) string {
	return path.Join(dir, name)
}

//go:build linux

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

package hostfs

import (
	"os"
	"syscall"
	"time"

	"sentrybase.org/pkg/propval"
)

func statFromFileInfo(fi os.FileInfo) Stat {
	s := Stat{
		Size:      fi.Size(),
		MTime:     fi.ModTime(),
		BlockSize: 4096,
		FileType:  fileTypeOf(fi),
	}
	if sys, ok := fi.Sys().(*syscall.Stat_t); ok {
		s.Dev = uint64(sys.Dev)
		s.Rdev = uint64(sys.Rdev)
		s.Inode = uint64(sys.Ino)
		s.Mode = uint32(sys.Mode)
		s.NLink = uint32(sys.Nlink)
		s.UID = sys.Uid
		s.GID = sys.Gid
		s.BlockSize = int64(sys.Blksize)
		s.Blocks = sys.Blocks
		s.ATime = time.Unix(sys.Atim.Sec, sys.Atim.Nsec)
		s.CTime = time.Unix(sys.Ctim.Sec, sys.Ctim.Nsec)
	}
	return s
}

func fileTypeOf(fi os.FileInfo) propval.FileType {
	mode := fi.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return propval.FileTypeSymlink
	case mode.IsDir():
		return propval.FileTypeDirectory
	case mode&os.ModeDevice != 0:
		return propval.FileTypeDevice
	case mode&os.ModeNamedPipe != 0:
		return propval.FileTypeFIFO
	case mode&os.ModeSocket != 0:
		return propval.FileTypeSocket
	case mode.IsRegular():
		return propval.FileTypeRegular
	default:
		return propval.FileTypeUnknown
	}
}

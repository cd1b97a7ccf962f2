//go:build !linux

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

	"sentrybase.org/pkg/propval"
)

// statFromFileInfo degrades gracefully on platforms without a
// syscall.Stat_t: device, inode, link count, uid/gid, and separate
// access/change times are left zero rather than guessed.
func statFromFileInfo(fi os.FileInfo) Stat {
	return Stat{
		Size:      fi.Size(),
		MTime:     fi.ModTime(),
		BlockSize: 4096,
		FileType:  fileTypeOf(fi),
	}
}

func fileTypeOf(fi os.FileInfo) propval.FileType {
	mode := fi.Mode()
	switch {
	case mode&os.ModeSymlink != 0:
		return propval.FileTypeSymlink
	case mode.IsDir():
		return propval.FileTypeDirectory
	case mode.IsRegular():
		return propval.FileTypeRegular
	default:
		return propval.FileTypeUnknown
	}
}

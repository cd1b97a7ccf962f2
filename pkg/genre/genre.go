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

// Package genre bundles everything that used to live behind a
// polymorphic "genre factory" singleton (property schema, name
// translator parameters, well-known property indices, and the
// stat/content partition) into a single value passed by reference to
// the pipeline. This replaces the original implementation's singleton
// hierarchy per the documented redesign: capabilities live in a
// per-genre bundle, not in global mutable state.
package genre

import (
	"sentrybase.org/pkg/hostfs"
	"sentrybase.org/pkg/propset"
	"sentrybase.org/pkg/propval"
	"sentrybase.org/pkg/propvector"
)

// propertyNames is the stable, index-ordered property list shared by
// every genre this implementation supports. The index, not the name,
// is a property's identity; names are purely for presentation.
var propertyNames = []string{
	"dev", "inode", "mode", "uid", "gid", "nlink",
	"size", "atime", "mtime", "ctime", "blksize", "blocks",
	"filetype",
	"crc32", "md5", "sha1", "haval",
}

// Well-known property indices, stable across every genre built by
// this package.
const (
	PropDev = iota
	PropInode
	PropMode
	PropUID
	PropGID
	PropNLink
	PropSize
	PropATime
	PropMTime
	PropCTime
	PropBlockSize
	PropBlocks
	PropFileType
	PropCRC32
	PropMD5
	PropSHA1
	PropHAVAL
	numProps
)

// Bundle is the per-genre capability set: schema, name-translator
// parameters, and the stat/content property partition.
type Bundle struct {
	Genre         propset.Genre
	Schema        *propset.Schema
	Delimiter     byte
	CaseSensitive bool

	// StatBacked is the set of properties a single stat call yields.
	StatBacked propvector.Vector
	// ContentBacked is the set of properties that require opening and
	// streaming the object's content.
	ContentBacked propvector.Vector
	// LooseDirMask is stripped from the comparison vector for objects
	// with CAN_HAVE_CHILDREN when loose-directory mode is enabled:
	// properties that churn merely because a directory's children
	// changed, not because the directory itself was altered.
	LooseDirMask propvector.Vector

	// PropertyLetters maps a policy property-expression uppercase
	// letter (the "+P"/"-P" grammar) to this genre's
	// property index, the per-genre table a rule's property
	// expression is compiled against.
	PropertyLetters map[byte]int
	// Presets expands a named preset (e.g. "ReadOnly") used in a
	// property expression into the vector it contributes, applied by
	// symmetric composition the same as an explicit letter run.
	Presets map[string]propvector.Vector
}

func vectorOf(indices ...int) propvector.Vector {
	v := propvector.New(numProps)
	for _, i := range indices {
		v.Add(i)
	}
	return v
}

// FS returns the bundle for the POSIX filesystem genre: '/'-delimited,
// case-sensitive names.
func FS() *Bundle {
	schema, err := propset.NewSchema(propset.GenreFS, propertyNames)
	if err != nil {
		// propertyNames is a package-level constant with no duplicates;
		// a failure here indicates a bug in this file, not bad input.
		panic(err)
	}
	letters := map[byte]int{
		'D': PropDev,
		'I': PropInode,
		'P': PropMode,
		'U': PropUID,
		'G': PropGID,
		'N': PropNLink,
		'S': PropSize,
		'A': PropATime,
		'M': PropMTime,
		'Z': PropCTime,
		'K': PropBlockSize,
		'B': PropBlocks,
		'T': PropFileType,
		'C': PropCRC32,
		'H': PropMD5,
		'V': PropSHA1,
		'L': PropHAVAL,
	}
	readOnly := vectorOf(PropMode, PropUID, PropGID, PropSize, PropMTime, PropCTime,
		PropFileType, PropCRC32, PropMD5, PropSHA1, PropHAVAL)
	growing := vectorOf(PropMode, PropUID, PropGID, PropNLink, PropCTime, PropFileType)
	all := vectorOf(PropDev, PropInode, PropMode, PropUID, PropGID, PropNLink,
		PropSize, PropATime, PropMTime, PropCTime, PropBlockSize, PropBlocks,
		PropFileType, PropCRC32, PropMD5, PropSHA1, PropHAVAL)
	return &Bundle{
		Genre:         propset.GenreFS,
		Schema:        schema,
		Delimiter:     '/',
		CaseSensitive: true,
		StatBacked: vectorOf(
			PropDev, PropInode, PropMode, PropUID, PropGID, PropNLink,
			PropSize, PropATime, PropMTime, PropCTime, PropBlockSize, PropBlocks,
			PropFileType,
		),
		ContentBacked:   vectorOf(PropCRC32, PropMD5, PropSHA1, PropHAVAL),
		LooseDirMask:    vectorOf(PropSize, PropATime, PropMTime, PropCTime, PropBlocks),
		PropertyLetters: letters,
		Presets: map[string]propvector.Vector{
			"ReadOnly": readOnly,
			"Growing":  growing,
			"All":      all,
		},
	}
}

// ApplyStat fills every stat-backed property props can hold from a
// single hostfs.Stat result, the "free" measurement a data-source
// iterator's create_fco performs without being asked.
func (b *Bundle) ApplyStat(props *propset.Set, st hostfs.Stat) {
	b.ApplyStatMasked(props, st, b.StatBacked)
}

// ApplyStatMasked is like ApplyStat but only sets the properties also
// present in mask, letting the calculator honor a request vector and
// a LEAVE collision policy instead of always writing every stat
// property.
func (b *Bundle) ApplyStatMasked(props *propset.Set, st hostfs.Stat, mask propvector.Vector) {
	set := func(i int, v propval.Value) {
		if mask.Contains(i) {
			props.Set(i, v)
		}
	}
	set(PropDev, propval.Int64(st.Dev))
	set(PropInode, propval.Int64(st.Inode))
	set(PropMode, propval.Int32(st.Mode))
	set(PropUID, propval.Int32(st.UID))
	set(PropGID, propval.Int32(st.GID))
	set(PropNLink, propval.Int32(st.NLink))
	set(PropSize, propval.Int64(st.Size))
	set(PropATime, propval.Int64(st.ATime.Unix()))
	set(PropMTime, propval.Int64(st.MTime.Unix()))
	set(PropCTime, propval.Int64(st.CTime.Unix()))
	set(PropBlockSize, propval.Int64(st.BlockSize))
	set(PropBlocks, propval.Int64(st.Blocks))
	set(PropFileType, propval.FileTypeValue{T: st.FileType})
}

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

// Package propcalc implements the property calculator: a visitor that
// fills in a requested subset of an FCO's properties by consulting the
// filesystem collaborator for a single stat call and, when content
// properties are requested, a single streaming multi-hash pass
// (internal/hashutil fans one read loop out to every requested
// digest).
package propcalc

import (
	"fmt"
	"io"
	"path"

	"sentrybase.org/internal/hashutil"
	"sentrybase.org/pkg/camerrors"
	"sentrybase.org/pkg/cryptoapi"
	"sentrybase.org/pkg/errbucket"
	"sentrybase.org/pkg/fco"
	"sentrybase.org/pkg/genre"
	"sentrybase.org/pkg/hostfs"
	"sentrybase.org/pkg/propval"
	"sentrybase.org/pkg/propvector"
)

// CollisionPolicy decides what happens when the calculator is asked to
// measure a property that is already valid on the FCO.
type CollisionPolicy int

const (
	// Overwrite re-measures every requested property regardless of
	// whether it is already valid.
	Overwrite CollisionPolicy = iota
	// Leave narrows the effective request to properties not already
	// valid, leaving existing measurements untouched (the default).
	Leave
)

// Flags is the calculator's CalcFlags bitmask.
type Flags uint32

const (
	// DirectIO requests bypassing the OS page cache for content reads.
	DirectIO Flags = 1 << iota
	// DoNotModifyProperties names the request to avoid observable
	// side effects such as access-time changes. Calculate does not
	// read this flag and passes nothing for it to the filesystem
	// collaborator; no access-time preservation is applied.
	DoNotModifyProperties
)

// contentHashIndex maps a content-backed property index to the
// registered cryptoapi.Hasher name that measures it.
var contentHashIndex = map[int]string{
	genre.PropCRC32: "crc32",
	genre.PropMD5:   "md5",
	genre.PropSHA1:  "sha1",
	genre.PropHAVAL: "haval",
}

// Calculator is the property-calculator visitor for one genre bundle.
type Calculator struct {
	fs        hostfs.FS
	bundle    *genre.Bundle
	collision CollisionPolicy
	flags     Flags
	errs      *errbucket.Bucket
}

// Option configures a Calculator.
type Option func(*Calculator)

func WithCollisionPolicy(p CollisionPolicy) Option { return func(c *Calculator) { c.collision = p } }
func WithFlags(f Flags) Option                     { return func(c *Calculator) { c.flags = f } }
func WithErrorBucket(b *errbucket.Bucket) Option    { return func(c *Calculator) { c.errs = b } }

// New returns a calculator over fs for the given genre bundle, LEAVE
// collision policy by default.
func New(fs hostfs.FS, bundle *genre.Bundle, opts ...Option) *Calculator {
	c := &Calculator{fs: fs, bundle: bundle, collision: Leave, errs: errbucket.New()}
	for _, o := range opts {
		o(c)
	}
	return c
}

func (c *Calculator) report(kind errbucket.Kind, subject, msg string, err error) {
	c.errs.Report(&errbucket.Error{Kind: kind, Fatal: false, Subject: subject, Message: msg, Cause: err})
}

// Calculate measures the properties in request on f, following the
// component design's seven steps. All failures are routed to the
// calculator's error bucket; Calculate itself only returns an error
// when the stat call that determines the FCO's type fails outright
// (nothing else can proceed without it).
func (c *Calculator) Calculate(f *fco.FCO, request propvector.Vector) error {
	apiPath := f.Name.API()
	st, err := c.fs.Stat(apiPath)
	if err != nil {
		err = fmt.Errorf("%w: %w", camerrors.ErrStatFailed, err)
		c.report(errbucket.KindStatFailed, f.Name.Display(), "stat failed", err)
		return err
	}

	// Step 1: effective = request ∩ what this FCO's type can measure.
	measurable := c.bundle.StatBacked.Clone()
	if st.FileType == propval.FileTypeRegular || st.FileType == propval.FileTypeSymlink {
		measurable = propvector.Union(measurable, c.bundle.ContentBacked)
	}
	effective := propvector.Intersect(request, measurable)

	// Step 2: collision policy.
	if c.collision == Leave {
		effective = propvector.Difference(effective, f.Props.Valid())
	}

	// Step 3/4: stat-backed properties, one stat call already made.
	statWanted := propvector.Intersect(effective, c.bundle.StatBacked)
	c.bundle.ApplyStatMasked(f.Props, st, statWanted)

	// Step 5: content-backed properties, single streaming pass.
	contentWanted := propvector.Intersect(effective, c.bundle.ContentBacked)
	if !contentWanted.IsZero() {
		c.calculateContent(f, st, apiPath, contentWanted)
	}

	return nil
}

func (c *Calculator) calculateContent(f *fco.FCO, st hostfs.Stat, apiPath string, wanted propvector.Vector) {
	var r io.ReadCloser
	var err error
	switch st.FileType {
	case propval.FileTypeRegular:
		r, err = c.fs.OpenRead(apiPath, c.flags&DirectIO != 0)
	case propval.FileTypeSymlink:
		r, err = c.openSymlinkTarget(apiPath)
	default:
		// Step 6: content requested on an unreadable type; invalidate.
		f.Props.InvalidateVector(wanted)
		return
	}
	if err != nil {
		c.report(errbucket.KindOpenFailed, f.Name.Display(), "open failed", fmt.Errorf("%w: %w", camerrors.ErrOpenFailed, err))
		f.Props.InvalidateVector(wanted)
		return
	}
	defer r.Close()

	var digests hashutil.DigestSet
	for idx, name := range contentHashIndex {
		if !wanted.Contains(idx) {
			continue
		}
		ctor, ok := cryptoapi.Factories[name]
		if !ok {
			// No registered implementation (HAVAL, typically): leave
			// this index undefined rather than fabricate a digest.
			f.Props.InvalidateIndex(idx)
			continue
		}
		digests.Add(idx, ctor())
	}
	if digests.Empty() {
		return
	}
	if _, err := digests.ReadFrom(r); err != nil {
		c.report(errbucket.KindHashStreamFailed, f.Name.Display(), "hash stream failed", fmt.Errorf("%w: %w", camerrors.ErrHashStreamFailed, err))
		for _, idx := range digests.Keys() {
			f.Props.InvalidateIndex(idx)
		}
		return
	}
	for idx, sum := range digests.Sums() {
		f.Props.Set(idx, propval.Bytes(sum))
	}
}

// openSymlinkTarget resolves apiPath's link target and opens it for
// reading, so "content" for a symlink is the resolved target's bytes
// (step 5). A dangling or unreadable target leaves the requested
// content properties undefined, matching the invalid-property scenario
// for a symlink pointing nowhere.
func (c *Calculator) openSymlinkTarget(apiPath string) (io.ReadCloser, error) {
	target, err := c.fs.ReadLink(apiPath)
	if err != nil {
		err = fmt.Errorf("%w: %w", camerrors.ErrSymlinkReadFailed, err)
		c.report(errbucket.KindSymlinkReadFailed, apiPath, "symlink read failed", err)
		return nil, err
	}
	if !path.IsAbs(target) {
		target = path.Join(path.Dir(apiPath), target)
	}
	return c.fs.OpenRead(target, c.flags&DirectIO != 0)
}

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

package datasource

import (
	"sentrybase.org/pkg/errbucket"
	"sentrybase.org/pkg/fco"
	"sentrybase.org/pkg/genre"
	"sentrybase.org/pkg/hostfs"
	"sentrybase.org/pkg/pname"
	"sentrybase.org/pkg/propval"
)

// fsFrame remembers one directory level's sorted children so Next can
// advance without re-reading the directory.
type fsFrame struct {
	parent   pname.Name
	children []string
	idx      int
}

// FSIterator is the Iterator implementation backed by the live
// filesystem, via an hostfs.FS collaborator.
type FSIterator struct {
	fs     hostfs.FS
	bundle *genre.Bundle
	flags  Flags
	errs   *errbucket.Bucket

	cur   pname.Name
	done  bool
	stack []fsFrame
}

var _ Iterator = (*FSIterator)(nil)

// NewFSIterator returns an iterator rooted at the genre's root name.
func NewFSIterator(fs hostfs.FS, bundle *genre.Bundle, flags Flags) *FSIterator {
	return &FSIterator{
		fs:     fs,
		bundle: bundle,
		flags:  flags,
		errs:   errbucket.New(),
		cur:    pname.Root(bundle.Delimiter, bundle.CaseSensitive),
	}
}

func (it *FSIterator) SetErrorBucket(b *errbucket.Bucket) { it.errs = b }

func (it *FSIterator) report(kind errbucket.Kind, fatal bool, msg string, err error) {
	it.errs.Report(&errbucket.Error{
		Kind:    kind,
		Fatal:   fatal,
		Subject: it.cur.Display(),
		Message: msg,
		Cause:   err,
	})
}

func (it *FSIterator) SeekTo(name pname.Name) error {
	it.cur = name
	it.done = false
	it.stack = nil
	if _, err := it.fs.Stat(name.API()); err != nil {
		it.done = true
		it.report(errbucket.KindStatFailed, false, "seek target does not exist", err)
		return err
	}
	return nil
}

func (it *FSIterator) Done() bool { return it.done }

func (it *FSIterator) Next() error {
	if len(it.stack) == 0 {
		it.done = true
		return nil
	}
	top := &it.stack[len(it.stack)-1]
	top.idx++
	if top.idx >= len(top.children) {
		it.done = true
		return nil
	}
	it.cur = top.parent.Push(top.children[top.idx])
	it.done = false
	return nil
}

func (it *FSIterator) CanDescend() (bool, error) {
	st, err := it.fs.Stat(it.cur.API())
	if err != nil {
		it.report(errbucket.KindStatFailed, false, "stat failed", err)
		return false, err
	}
	return st.FileType == propval.FileTypeDirectory, nil
}

func (it *FSIterator) Descend() error {
	names, err := it.fs.ReadDir(it.cur.API())
	if err != nil {
		it.report(errbucket.KindOpenFailed, false, "readdir failed", err)
		return err
	}
	it.stack = append(it.stack, fsFrame{parent: it.cur, children: names, idx: 0})
	if len(names) == 0 {
		it.done = true
		return nil
	}
	it.cur = it.cur.Push(names[0])
	it.done = false
	return nil
}

func (it *FSIterator) Ascend() error {
	if len(it.stack) == 0 {
		return errNotDescended
	}
	top := it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]
	it.cur = top.parent
	it.done = false
	return nil
}

func (it *FSIterator) AtRoot() bool { return it.cur.AtRoot() }

func (it *FSIterator) Name() pname.Name { return it.cur }

func (it *FSIterator) ParentName() pname.Name {
	parent, _, _ := it.cur.Pop()
	return parent
}

func (it *FSIterator) ShortName() string { return it.cur.ShortName() }

func (it *FSIterator) CompareSibling(other Iterator) Order {
	return compareShortNames(it.ShortName(), other.ShortName(), it.bundle.CaseSensitive)
}

func (it *FSIterator) CreateFCO() (*fco.FCO, error) {
	st, err := it.fs.Stat(it.cur.API())
	if err != nil {
		it.report(errbucket.KindStatFailed, false, "stat failed", err)
		return nil, err
	}
	var caps fco.Capabilities
	if st.FileType == propval.FileTypeDirectory {
		caps |= fco.CanHaveChildren
	}
	f := fco.New(it.cur, caps, it.bundle.Schema)
	it.bundle.ApplyStat(f.Props, st)
	return f, nil
}

type notDescendedError struct{}

func (notDescendedError) Error() string { return "datasource: Ascend called without a prior Descend" }

var errNotDescended = notDescendedError{}

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

package db

import (
	"sentrybase.org/pkg/datasource"
	"sentrybase.org/pkg/errbucket"
	"sentrybase.org/pkg/fco"
	"sentrybase.org/pkg/pname"
)

// dbFrame mirrors datasource.fsFrame: one directory level's sorted
// children, read once per Descend so Next never re-scans the store.
type dbFrame struct {
	parent   pname.Name
	children []string
	idx      int
}

// Iterator is the database-backed datasource.Iterator, the merge-walk
// primitive's other half alongside datasource.FSIterator.
type Iterator struct {
	db   *Database
	errs *errbucket.Bucket

	cur   pname.Name
	done  bool
	stack []dbFrame
}

var _ datasource.Iterator = (*Iterator)(nil)

// NewIterator returns a database iterator rooted at d's genre root.
func NewIterator(d *Database) *Iterator {
	return &Iterator{
		db:   d,
		errs: errbucket.New(),
		cur:  pname.Root(d.bundle.Delimiter, d.bundle.CaseSensitive),
	}
}

func (it *Iterator) SetErrorBucket(b *errbucket.Bucket) { it.errs = b }

func (it *Iterator) report(kind errbucket.Kind, msg string, err error) {
	it.errs.Report(&errbucket.Error{Kind: kind, Fatal: false, Subject: it.cur.Display(), Message: msg, Cause: err})
}

func (it *Iterator) SeekTo(name pname.Name) error {
	it.cur = name
	it.done = false
	it.stack = nil
	ok, err := it.db.HasData(name)
	if err != nil {
		it.done = true
		it.report(errbucket.KindFCONotInDatabase, "seek failed", err)
		return err
	}
	if !ok && !name.AtRoot() {
		it.done = true
		it.report(errbucket.KindFCONotInDatabase, "seek target not in database", nil)
		return nil
	}
	return nil
}

func (it *Iterator) Done() bool { return it.done }

func (it *Iterator) Next() error {
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

func (it *Iterator) CanDescend() (bool, error) {
	f, ok, err := it.db.Get(it.cur)
	if err != nil {
		it.report(errbucket.KindFCONotInDatabase, "get failed", err)
		return false, err
	}
	if !ok {
		return false, nil
	}
	return f.CanHaveChildren(), nil
}

func (it *Iterator) Descend() error {
	children, err := it.db.Children(it.cur)
	if err != nil {
		it.report(errbucket.KindFCONotInDatabase, "listing children failed", err)
		return err
	}
	it.stack = append(it.stack, dbFrame{parent: it.cur, children: children, idx: 0})
	if len(children) == 0 {
		it.done = true
		return nil
	}
	it.cur = it.cur.Push(children[0])
	it.done = false
	return nil
}

func (it *Iterator) Ascend() error {
	if len(it.stack) == 0 {
		return errNotDescended
	}
	top := it.stack[len(it.stack)-1]
	it.stack = it.stack[:len(it.stack)-1]
	it.cur = top.parent
	it.done = false
	return nil
}

func (it *Iterator) AtRoot() bool { return it.cur.AtRoot() }

func (it *Iterator) Name() pname.Name { return it.cur }

func (it *Iterator) ParentName() pname.Name {
	parent, _, _ := it.cur.Pop()
	return parent
}

func (it *Iterator) ShortName() string { return it.cur.ShortName() }

func (it *Iterator) CompareSibling(other datasource.Iterator) datasource.Order {
	a, b := it.ShortName(), other.ShortName()
	caseSensitive := it.db.bundle.CaseSensitive
	if !caseSensitive {
		a, b = lower(a), lower(b)
	}
	switch {
	case a < b:
		return datasource.LT
	case a > b:
		return datasource.GT
	default:
		return datasource.EQ
	}
}

func lower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

// CreateFCO returns the FCO stored at the cursor; unlike the
// filesystem iterator it never measures anything fresh, it only
// surfaces what a prior baseline wrote.
func (it *Iterator) CreateFCO() (*fco.FCO, error) {
	f, ok, err := it.db.Get(it.cur)
	if err != nil {
		it.report(errbucket.KindFCONotInDatabase, "get failed", err)
		return nil, err
	}
	if !ok {
		it.report(errbucket.KindFCONotInDatabase, "no record at cursor", nil)
		return fco.New(it.cur, 0, it.db.bundle.Schema), nil
	}
	return f, nil
}

// The mutation surface below exists only on the database iterator, not
// on the shared datasource.Iterator contract: the filesystem side of a
// merge-walk is read-only, the database side is what baseline
// generation and policy update write through.

// HasFCOData reports whether a record exists at the cursor.
func (it *Iterator) HasFCOData() (bool, error) {
	return it.db.HasData(it.cur)
}

// SetFCOData writes f's record at the cursor, replacing any prior
// record there. f's name must equal the cursor's.
func (it *Iterator) SetFCOData(f *fco.FCO) error {
	if f.Name.Relationship(it.cur) != pname.Equal {
		return errCursorMismatch
	}
	return it.db.Put(f)
}

// RemoveFCOData deletes the record at the cursor, leaving any
// children in place.
func (it *Iterator) RemoveFCOData() error {
	return it.db.Delete(it.cur)
}

// AddFCO writes f under the cursor's child level. f's name must be an
// immediate child of the cursor.
func (it *Iterator) AddFCO(f *fco.FCO) error {
	parent, _, ok := f.Name.Pop()
	if !ok || parent.Relationship(it.cur) != pname.Equal {
		return errCursorMismatch
	}
	return it.db.Put(f)
}

// RemoveFCO deletes the record for the cursor's immediate child named
// short.
func (it *Iterator) RemoveFCO(short string) error {
	return it.db.Delete(it.cur.Push(short))
}

// AddChildArray marks the cursor's record as able to hold children.
// In the keyed layout the child level itself materializes with its
// first record; what persists here is the capability bit a later
// CanDescend consults.
func (it *Iterator) AddChildArray() error {
	f, ok, err := it.db.Get(it.cur)
	if err != nil {
		return err
	}
	if !ok {
		f = fco.New(it.cur, fco.CanHaveChildren, it.db.bundle.Schema)
	} else if f.CanHaveChildren() {
		return nil
	} else {
		f.Caps |= fco.CanHaveChildren
	}
	return it.db.Put(f)
}

// CanRemoveChildArray reports whether the cursor's child level is
// empty and may therefore be removed.
func (it *Iterator) CanRemoveChildArray() (bool, error) {
	children, err := it.db.Children(it.cur)
	if err != nil {
		return false, err
	}
	return len(children) == 0, nil
}

// RemoveChildArray clears the cursor's child capability. It fails if
// any child record still exists.
func (it *Iterator) RemoveChildArray() error {
	ok, err := it.CanRemoveChildArray()
	if err != nil {
		return err
	}
	if !ok {
		return errChildrenRemain
	}
	f, has, err := it.db.Get(it.cur)
	if err != nil || !has {
		return err
	}
	f.Caps &^= fco.CanHaveChildren
	return it.db.Put(f)
}

// CreatePath creates any missing intermediate nodes between the root
// and name, then leaves the cursor on name's terminal component. The
// terminal node itself is not created; a following SetFCOData (or
// AddFCO from the parent) supplies its record.
func (it *Iterator) CreatePath(name pname.Name) error {
	for depth := 1; depth < name.Depth(); depth++ {
		ancestor := ancestorAt(name, depth)
		ok, err := it.db.HasData(ancestor)
		if err != nil {
			return err
		}
		if ok {
			continue
		}
		if err := it.db.Put(fco.New(ancestor, fco.CanHaveChildren, it.db.bundle.Schema)); err != nil {
			return err
		}
	}
	it.cur = name
	it.done = false
	it.stack = nil
	return nil
}

// ancestorAt returns the prefix of name with the given component
// count, which must be <= name.Depth().
func ancestorAt(name pname.Name, depth int) pname.Name {
	cur := name
	for cur.Depth() > depth {
		parent, _, ok := cur.Pop()
		if !ok {
			break
		}
		cur = parent
	}
	return cur
}

type notDescendedError struct{}

func (notDescendedError) Error() string { return "db: Ascend called without a prior Descend" }

var errNotDescended = notDescendedError{}

type cursorMismatchError struct{}

func (cursorMismatchError) Error() string { return "db: FCO name does not match the cursor" }

var errCursorMismatch = cursorMismatchError{}

type childrenRemainError struct{}

func (childrenRemainError) Error() string { return "db: child records still exist" }

var errChildrenRemain = childrenRemainError{}

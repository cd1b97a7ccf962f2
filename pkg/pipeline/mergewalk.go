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

// Package pipeline implements the three cooperating integrity
// routines (baseline generation, integrity check, and policy update),
// all sharing the merge-walk primitive defined here.
package pipeline

import (
	"sentrybase.org/pkg/datasource"
	"sentrybase.org/pkg/errbucket"
	"sentrybase.org/pkg/fco"
	"sentrybase.org/pkg/pname"
)

// mergeWalkCallbacks receives the three event kinds a merge-walk
// produces. A callback may itself drive recursion decisions through
// the stop function passed to mergeWalk, but never decides whether to
// recurse on its own: that is mergeWalk's job, so every caller gets
// the same recursion semantics.
type mergeWalkCallbacks struct {
	onAdded   func(fsIter datasource.Iterator) error
	onRemoved func(dbIter datasource.Iterator) error
	onChanged func(dbIter, fsIter datasource.Iterator) error
}

// absentIterator stands in for the side of a one-sided recursion that
// has nothing: it reports Done immediately and can never descend, so
// mergeWalk's ordinary two-sided loop degenerates correctly into
// "every remaining entry on the other side is Added (or Removed)"
// without a separate code path.
type absentIterator struct{}

var _ datasource.Iterator = absentIterator{}

func (absentIterator) SeekTo(pname.Name) error          { return nil }
func (absentIterator) Done() bool                       { return true }
func (absentIterator) Next() error                      { return nil }
func (absentIterator) CanDescend() (bool, error)        { return false, nil }
func (absentIterator) Descend() error                   { return nil }
func (absentIterator) Ascend() error                    { return nil }
func (absentIterator) AtRoot() bool                     { return true }
func (absentIterator) Name() pname.Name                 { return pname.Name{} }
func (absentIterator) ParentName() pname.Name           { return pname.Name{} }
func (absentIterator) ShortName() string                { return "" }
func (absentIterator) SetErrorBucket(*errbucket.Bucket) {}
func (absentIterator) CompareSibling(datasource.Iterator) datasource.Order {
	return datasource.EQ
}
func (absentIterator) CreateFCO() (*fco.FCO, error) {
	return nil, errAbsentIterator
}

var errAbsentIterator = absentIteratorError{}

type absentIteratorError struct{}

func (absentIteratorError) Error() string {
	return "pipeline: CreateFCO called on the absent side of a one-sided recursion"
}

// descendIfPossible enters its child level when it has one, reporting
// whether a level was actually entered (and therefore must be
// ascended back out of before returning).
func descendIfPossible(it datasource.Iterator) (bool, error) {
	can, err := it.CanDescend()
	if err != nil {
		return false, err
	}
	if !can {
		return false, nil
	}
	if err := it.Descend(); err != nil {
		return false, err
	}
	return true, nil
}

// mergeWalk is the shared traversal primitive: dbIter and
// fsIter must already be positioned at the same parent name. It
// descends both (where possible), walks the child level emitting
// Added/Removed/Changed events in sorted-name order, recursing into
// matched and unmatched subtrees alike, gated throughout by stop.
func mergeWalk(dbIter, fsIter datasource.Iterator, stop func(pname.Name) bool, cb mergeWalkCallbacks) error {
	dbHasLevel, err := descendIfPossible(dbIter)
	if err != nil {
		return err
	}
	fsHasLevel, err := descendIfPossible(fsIter)
	if err != nil {
		return err
	}

	for {
		dbDone := !dbHasLevel || dbIter.Done()
		fsDone := !fsHasLevel || fsIter.Done()
		if dbDone && fsDone {
			break
		}

		switch {
		case fsDone:
			if err := handleRemoved(dbIter, stop, cb); err != nil {
				return err
			}
			if err := dbIter.Next(); err != nil {
				return err
			}
		case dbDone:
			if err := handleAdded(fsIter, stop, cb); err != nil {
				return err
			}
			if err := fsIter.Next(); err != nil {
				return err
			}
		default:
			switch dbIter.CompareSibling(fsIter) {
			case datasource.LT:
				if err := handleRemoved(dbIter, stop, cb); err != nil {
					return err
				}
				if err := dbIter.Next(); err != nil {
					return err
				}
			case datasource.GT:
				if err := handleAdded(fsIter, stop, cb); err != nil {
					return err
				}
				if err := fsIter.Next(); err != nil {
					return err
				}
			default: // EQ
				if err := handleChanged(dbIter, fsIter, stop, cb); err != nil {
					return err
				}
				if err := dbIter.Next(); err != nil {
					return err
				}
				if err := fsIter.Next(); err != nil {
					return err
				}
			}
		}
	}

	if fsHasLevel {
		if err := fsIter.Ascend(); err != nil {
			return err
		}
	}
	if dbHasLevel {
		if err := dbIter.Ascend(); err != nil {
			return err
		}
	}
	return nil
}

func handleRemoved(dbIter datasource.Iterator, stop func(pname.Name) bool, cb mergeWalkCallbacks) error {
	if err := cb.onRemoved(dbIter); err != nil {
		return err
	}
	if stop(dbIter.Name()) {
		return nil
	}
	return mergeWalk(dbIter, absentIterator{}, stop, cb)
}

func handleAdded(fsIter datasource.Iterator, stop func(pname.Name) bool, cb mergeWalkCallbacks) error {
	if err := cb.onAdded(fsIter); err != nil {
		return err
	}
	if stop(fsIter.Name()) {
		return nil
	}
	return mergeWalk(absentIterator{}, fsIter, stop, cb)
}

func handleChanged(dbIter, fsIter datasource.Iterator, stop func(pname.Name) bool, cb mergeWalkCallbacks) error {
	if err := cb.onChanged(dbIter, fsIter); err != nil {
		return err
	}
	if stop(dbIter.Name()) {
		return nil
	}
	return mergeWalk(dbIter, fsIter, stop, cb)
}

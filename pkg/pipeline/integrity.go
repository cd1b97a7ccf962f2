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

package pipeline

import (
	"sentrybase.org/pkg/datasource"
	"sentrybase.org/pkg/db"
	"sentrybase.org/pkg/errbucket"
	"sentrybase.org/pkg/fco"
	"sentrybase.org/pkg/genre"
	"sentrybase.org/pkg/policy"
	"sentrybase.org/pkg/propcalc"
	"sentrybase.org/pkg/propset"
	"sentrybase.org/pkg/propval"
	"sentrybase.org/pkg/propvector"
	"sentrybase.org/pkg/report"
)

// Flags adjusts how a check run compares and reconciles properties.
// A plain integrity check runs with no flags set; policy update adds
// the reconciliation flags.
type Flags uint32

const (
	// CompareValidPropsOnly selects the strict comparison vector,
	// mask ∩ (old.valid ∩ new.valid). Its absence — the default —
	// selects mask ∩ (old.valid ∪ new.valid), so a property valid on
	// only one side surfaces as became-invalid instead of being
	// silently skipped.
	CompareValidPropsOnly Flags = 1 << iota
	// InvalidateExtraDBProps, policy-update only: invalidate in the
	// database any property valid there but not requested by the new
	// rule.
	InvalidateExtraDBProps
	// SetNewProps, policy-update only: copy from the live FCO any
	// property requested by the new rule and valid live but not yet
	// valid in the database.
	SetNewProps
)

// CheckOptions configures an integrity check or policy-update run.
type CheckOptions struct {
	Bundle *genre.Bundle
	Calc   *propcalc.Calculator
	Flags  Flags
	// LooseDirectory strips the genre's loose-directory mask from
	// the comparison vector whenever both sides CanHaveChildren; the
	// exclusion wins even when the rule's mask requests the property.
	LooseDirectory bool
}

// Checker runs the integrity-check and policy-update pipeline phases
// against one database, sharing the merge-walk primitive.
type Checker struct {
	opts CheckOptions
	errs *errbucket.Bucket
}

// NewChecker returns a Checker reporting errors to errs.
func NewChecker(opts CheckOptions, errs *errbucket.Bucket) *Checker {
	return &Checker{opts: opts, errs: errs}
}

func (c *Checker) reportf(sec *report.Section, kind errbucket.Kind, subject, msg string, cause error) {
	e := &errbucket.Error{Kind: kind, Subject: subject, Message: msg, Cause: cause}
	c.errs.Report(e)
	sec.RecordError(e)
}

// Run performs an integrity check of specList against database: for
// each rule, in canonical order, it merge-walks the database against
// the live filesystem (via fsIter) and records Added/Removed/Changed
// findings into a fresh report.
func (c *Checker) Run(specList *policy.SpecList, database *db.Database, fsIter datasource.Iterator) *report.Report {
	rpt := report.New()
	fsIter.SetErrorBucket(c.errs)
	for _, rule := range specList.Rules {
		sec := rpt.NewSection(string(specList.Genre), rule)
		c.runRule(rule, database, fsIter, sec)
	}
	return rpt
}

// runRule drives one rule's top-level comparison (the rule's start
// point itself, which the merge-walk primitive assumes is already
// matched) and then the recursive child-level merge-walk.
func (c *Checker) runRule(rule *policy.Rule, database *db.Database, fsIter datasource.Iterator, sec *report.Section) {
	dbIter := db.NewIterator(database)
	dbIter.SetErrorBucket(c.errs)

	if err := dbIter.SeekTo(rule.Start); err != nil {
		// Reported by the iterator itself; treat as "not in database".
	}
	if err := fsIter.SeekTo(rule.Start); err != nil {
		// Reported by the iterator itself; treat as "not on disk".
	}

	dbExists := !dbIter.Done()
	fsExists := !fsIter.Done()

	cb := mergeWalkCallbacks{
		onAdded:   func(it datasource.Iterator) error { return c.onAdded(rule, it, sec) },
		onRemoved: func(it datasource.Iterator) error { return c.onRemoved(rule, it, sec) },
		onChanged: func(dbIt, fsIt datasource.Iterator) error { return c.onChanged(rule, dbIt, fsIt, sec) },
	}

	var walk func() error
	switch {
	case !dbExists && !fsExists:
		return
	case !fsExists:
		c.onRemoved(rule, dbIter, sec)
		walk = func() error { return mergeWalk(dbIter, absentIterator{}, rule.ShouldStopDescent, cb) }
	case !dbExists:
		c.onAdded(rule, fsIter, sec)
		walk = func() error { return mergeWalk(absentIterator{}, fsIter, rule.ShouldStopDescent, cb) }
	default:
		c.onChanged(rule, dbIter, fsIter, sec)
		walk = func() error { return mergeWalk(dbIter, fsIter, rule.ShouldStopDescent, cb) }
	}

	if rule.ShouldStopDescent(rule.Start) {
		return
	}
	if err := walk(); err != nil {
		c.reportf(sec, errbucket.KindFCONotInDatabase, rule.Start.Display(), "merge-walk failed", err)
	}
}

func (c *Checker) onAdded(rule *policy.Rule, fsIter datasource.Iterator, sec *report.Section) error {
	// A stop point is walked past, never reported: the rule stops
	// descent there and does not contain the name itself.
	if !rule.Contains(fsIter.Name()) {
		return nil
	}
	f, err := fsIter.CreateFCO()
	if err != nil {
		c.reportf(sec, errbucket.KindFCOCreateFailure, fsIter.Name().Display(), "create fco failed", err)
		return nil
	}
	if err := c.opts.Calc.Calculate(f, rule.PropMask(f.Caps)); err != nil {
		// The calculator already routed the failure to errs; nothing
		// more to record here, the FCO's invalid properties speak for
		// themselves in the report.
	}
	sec.RecordAdded(f)
	return nil
}

func (c *Checker) onRemoved(rule *policy.Rule, dbIter datasource.Iterator, sec *report.Section) error {
	if !rule.Contains(dbIter.Name()) {
		return nil
	}
	f, err := dbIter.CreateFCO()
	if err != nil {
		c.reportf(sec, errbucket.KindFCONotInDatabase, dbIter.Name().Display(), "read stored fco failed", err)
		return nil
	}
	sec.RecordRemoved(f)
	return nil
}

func (c *Checker) onChanged(rule *policy.Rule, dbIter, fsIter datasource.Iterator, sec *report.Section) error {
	if !rule.Contains(dbIter.Name()) {
		return nil
	}
	oldFCO, err := dbIter.CreateFCO()
	if err != nil {
		c.reportf(sec, errbucket.KindFCONotInDatabase, dbIter.Name().Display(), "read stored fco failed", err)
		return nil
	}
	newFCO, err := fsIter.CreateFCO()
	if err != nil {
		c.reportf(sec, errbucket.KindFCOCreateFailure, fsIter.Name().Display(), "create fco failed", err)
		return nil
	}

	mask := rule.PropMask(newFCO.Caps)
	if err := c.opts.Calc.Calculate(newFCO, mask); err != nil {
		// reported by the calculator itself.
	}

	check := c.propsToCheck(rule, oldFCO, newFCO)
	changed, invalid := compareProps(oldFCO.Props, newFCO.Props, check)
	if !changed.IsZero() || !invalid.IsZero() {
		sec.RecordChanged(oldFCO, report.Delta{Changed: changed, BecameInvalid: invalid})
	} else {
		sec.RecordUnchanged()
	}
	return nil
}

// propsToCheck computes the comparison vector: rule.mask(fco)
// ∩ (old.valid op new.valid), op selected by CompareValidPropsOnly, with
// the loose-directory mask stripped when both sides can have children
// and loose-directory mode is enabled.
func (c *Checker) propsToCheck(rule *policy.Rule, oldFCO, newFCO *fco.FCO) propvector.Vector {
	var combined propvector.Vector
	if c.opts.Flags&CompareValidPropsOnly != 0 {
		combined = propvector.Intersect(oldFCO.Props.Valid(), newFCO.Props.Valid())
	} else {
		combined = propvector.Union(oldFCO.Props.Valid(), newFCO.Props.Valid())
	}
	check := propvector.Intersect(rule.PropMask(newFCO.Caps), combined)
	if c.opts.LooseDirectory && oldFCO.CanHaveChildren() && newFCO.CanHaveChildren() {
		check = propvector.Difference(check, c.opts.Bundle.LooseDirMask)
	}
	return check
}

// compareProps compares old and new property-by-property over mask,
// returning the unequal-property vector and the became-invalid
// vector.
func compareProps(oldProps, newProps *propset.Set, mask propvector.Vector) (changed, invalid propvector.Vector) {
	for i := 0; i < mask.Size(); i++ {
		if !mask.Contains(i) {
			continue
		}
		oldVal, oldOK := oldProps.Get(i)
		newVal, newOK := newProps.Get(i)
		if !oldOK || !newOK {
			invalid.AddAndGrow(i)
			continue
		}
		if oldVal.Compare(newVal) != propval.CompareTrue {
			changed.AddAndGrow(i)
		}
	}
	return changed, invalid
}

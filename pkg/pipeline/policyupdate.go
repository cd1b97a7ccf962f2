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
	"sentrybase.org/pkg/genre"
	"sentrybase.org/pkg/policy"
	"sentrybase.org/pkg/propcalc"
	"sentrybase.org/pkg/propvector"
	"sentrybase.org/pkg/report"
)

// PolicyUpdateOptions configures a policy-update run, the third
// pipeline phase: an integrity check against a new spec list
// that also reconciles the database's stored properties with the new
// policy instead of merely reporting the difference.
type PolicyUpdateOptions struct {
	Bundle *genre.Bundle
	Calc   *propcalc.Calculator
	// Secure makes every discrepancy fatal, aborting the run at the
	// first one; otherwise each is reported as non-fatal and
	// processing continues.
	Secure bool
	// LooseDirectory is threaded through to the underlying checker;
	// see CheckOptions.LooseDirectory.
	LooseDirectory bool
}

// PolicyUpdater reconciles a database built under OldSpec with a new
// spec list, pruning orphaned nodes and recording a report the same
// shape an integrity check produces.
type PolicyUpdater struct {
	opts PolicyUpdateOptions
	errs *errbucket.Bucket
}

// NewPolicyUpdater returns a PolicyUpdater reporting errors to errs.
func NewPolicyUpdater(opts PolicyUpdateOptions, errs *errbucket.Bucket) *PolicyUpdater {
	return &PolicyUpdater{opts: opts, errs: errs}
}

// Run performs the policy-update: a merge-walk of database
// against fsIter for every rule of newSpec, with
// InvalidateExtraDBProps|SetNewProps semantics (props_to_check uses
// union, not intersection — see the note below), filtered
// Added/Removed reporting against oldSpec, and a final prune of every
// database node the new policy no longer contains.
func (u *PolicyUpdater) Run(oldSpec, newSpec *policy.SpecList, database *db.Database, fsIter datasource.Iterator) (*report.Report, error) {
	// CompareValidPropsOnly is deliberately absent here: policy-update
	// must compare a property that's valid on only one side (freshly
	// requested by the new rule, or newly dropped) so it surfaces as an
	// invalid-vector entry instead of being skipped.
	checkerOpts := CheckOptions{
		Bundle:         u.opts.Bundle,
		Calc:           u.opts.Calc,
		Flags:          InvalidateExtraDBProps | SetNewProps,
		LooseDirectory: u.opts.LooseDirectory,
	}
	c := &policyUpdateChecker{
		Checker: NewChecker(checkerOpts, u.errs),
		oldSpec: oldSpec,
		newSpec: newSpec,
		db:      database,
		secure:  u.opts.Secure,
		errs:    u.errs,
	}

	rpt := report.New()
	fsIter.SetErrorBucket(u.errs)
	for _, rule := range newSpec.Rules {
		sec := rpt.NewSection(string(newSpec.Genre), rule)
		c.runRule(rule, database, fsIter, sec)
		if c.fatal != nil {
			return rpt, c.fatal
		}
	}

	if err := database.Prune(newSpec.Contains); err != nil {
		return rpt, err
	}
	return rpt, nil
}

// policyUpdateChecker overrides Checker's Added/Removed/Changed
// handling with policy-update's filtering and database-mutation
// semantics, while reusing Checker.runRule's merge-walk driving and
// one-sided-recursion bookkeeping.
type policyUpdateChecker struct {
	*Checker
	oldSpec *policy.SpecList
	newSpec *policy.SpecList
	db      *db.Database
	secure  bool
	errs    *errbucket.Bucket
	fatal   error
}

func (c *policyUpdateChecker) discrepancy(sec *report.Section, kind errbucket.Kind, subject, msg string) {
	e := &errbucket.Error{Kind: kind, Fatal: c.secure, Subject: subject, Message: msg}
	c.errs.Report(e)
	sec.RecordError(e)
	if c.secure && c.fatal == nil {
		c.fatal = e
	}
}

// runRule mirrors Checker.runRule but dispatches to this type's
// onAdded/onRemoved/onChanged instead of the embedded Checker's, and
// additionally writes the reconciled FCO back to the database on
// every Changed event.
func (c *policyUpdateChecker) runRule(rule *policy.Rule, database *db.Database, fsIter datasource.Iterator, sec *report.Section) {
	dbIter := db.NewIterator(database)
	dbIter.SetErrorBucket(c.errs)

	_ = dbIter.SeekTo(rule.Start)
	_ = fsIter.SeekTo(rule.Start)

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
		_ = c.onRemoved(rule, dbIter, sec)
		walk = func() error { return mergeWalk(dbIter, absentIterator{}, rule.ShouldStopDescent, cb) }
	case !dbExists:
		_ = c.onAdded(rule, fsIter, sec)
		walk = func() error { return mergeWalk(absentIterator{}, fsIter, rule.ShouldStopDescent, cb) }
	default:
		_ = c.onChanged(rule, dbIter, fsIter, sec)
		walk = func() error { return mergeWalk(dbIter, fsIter, rule.ShouldStopDescent, cb) }
	}

	if rule.ShouldStopDescent(rule.Start) {
		return
	}
	if err := walk(); err != nil {
		c.discrepancy(sec, errbucket.KindFCONotInDatabase, rule.Start.Display(), "merge-walk failed")
	}
}

// onAdded reports a newly-appeared filesystem object only if it
// belonged to the old policy too, since an object the old
// policy never monitored isn't an "addition" under policy-update, it's
// simply now in scope.
func (c *policyUpdateChecker) onAdded(rule *policy.Rule, fsIter datasource.Iterator, sec *report.Section) error {
	if !rule.Contains(fsIter.Name()) {
		return nil
	}
	f, err := fsIter.CreateFCO()
	if err != nil {
		c.discrepancy(sec, errbucket.KindFCOCreateFailure, fsIter.Name().Display(), "create fco failed")
		return nil
	}
	if err := c.Checker.opts.Calc.Calculate(f, rule.PropMask(f.Caps)); err != nil {
		// reported by the calculator itself.
	}
	if c.oldSpec.Contains(f.Name) {
		sec.RecordAdded(f)
	} else {
		sec.RecordUnchanged()
	}
	if err := c.db.Put(f); err != nil {
		c.discrepancy(sec, errbucket.KindFCONotInDatabase, f.Name.Display(), "writing reconciled record failed")
	}
	return nil
}

// onRemoved reports a database entry with no live counterpart only if
// it is still contained by the new policy; entries that
// fall outside the new policy are pruned silently after the walk, not
// reported as removed.
func (c *policyUpdateChecker) onRemoved(rule *policy.Rule, dbIter datasource.Iterator, sec *report.Section) error {
	if !rule.Contains(dbIter.Name()) {
		return nil
	}
	f, err := dbIter.CreateFCO()
	if err != nil {
		c.discrepancy(sec, errbucket.KindFCONotInDatabase, dbIter.Name().Display(), "read stored fco failed")
		return nil
	}
	if c.newSpec.Contains(f.Name) {
		sec.RecordRemoved(f)
	} else {
		sec.RecordUnchanged()
	}
	return nil
}

// onChanged computes the same props_to_check/compare pass as a plain
// integrity check, then reconciles the database record: invalidate
// whatever the stored record has that the new rule no longer
// requests, copy in whatever the new rule requests and the live FCO
// has but the stored record lacks, and persist the reconciled record.
func (c *policyUpdateChecker) onChanged(rule *policy.Rule, dbIter, fsIter datasource.Iterator, sec *report.Section) error {
	if !rule.Contains(dbIter.Name()) {
		return nil
	}
	oldFCO, err := dbIter.CreateFCO()
	if err != nil {
		c.discrepancy(sec, errbucket.KindFCONotInDatabase, dbIter.Name().Display(), "read stored fco failed")
		return nil
	}
	newFCO, err := fsIter.CreateFCO()
	if err != nil {
		c.discrepancy(sec, errbucket.KindFCOCreateFailure, fsIter.Name().Display(), "create fco failed")
		return nil
	}

	mask := rule.PropMask(newFCO.Caps)
	if err := c.Checker.opts.Calc.Calculate(newFCO, mask); err != nil {
		// reported by the calculator itself.
	}

	check := c.Checker.propsToCheck(rule, oldFCO, newFCO)
	changed, invalid := compareProps(oldFCO.Props, newFCO.Props, check)
	if !changed.IsZero() || !invalid.IsZero() {
		// oldFCO is reconciled in place below and written back to the
		// database; the report must keep the pre-reconciliation
		// snapshot, so record a clone rather than the live pointer.
		sec.RecordChanged(oldFCO.Clone(), report.Delta{Changed: changed, BecameInvalid: invalid})
	} else {
		sec.RecordUnchanged()
	}

	// InvalidateExtraDBProps: properties valid in the stored record but
	// not requested by the new rule.
	extra := propvector.Difference(oldFCO.Props.Valid(), mask)
	oldFCO.Props.InvalidateVector(extra)

	// SetNewProps: properties the new rule requests, valid on the live
	// FCO, and not yet valid in the stored record.
	missing := propvector.Difference(mask, oldFCO.Props.Valid())
	if err := oldFCO.Props.CopyProps(newFCO.Props, missing); err != nil {
		c.discrepancy(sec, errbucket.KindMismatchingParams, oldFCO.Name.Display(), "copying new properties failed")
	}

	if err := c.db.Put(oldFCO); err != nil {
		c.discrepancy(sec, errbucket.KindFCONotInDatabase, oldFCO.Name.Display(), "writing reconciled record failed")
	}
	return nil
}

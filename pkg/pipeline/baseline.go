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
	"context"

	"golang.org/x/sync/errgroup"

	"sentrybase.org/pkg/datasource"
	"sentrybase.org/pkg/db"
	"sentrybase.org/pkg/errbucket"
	"sentrybase.org/pkg/fco"
	"sentrybase.org/pkg/policy"
	"sentrybase.org/pkg/propcalc"
)

// defaultConcurrency bounds the baseline generator's fan-out when the
// caller doesn't specify one, rather than unboundedly spawning one
// goroutine per rule.
const defaultConcurrency = 4

// Baseliner generates a fresh baseline database from the live
// filesystem.
type Baseliner struct {
	calc        *propcalc.Calculator
	errs        *errbucket.Bucket
	concurrency int
}

// NewBaseliner returns a Baseliner using calc to measure properties and
// errs as the shared error channel. concurrency bounds how many rules'
// filesystem walks run concurrently before the sequential database
// write phase; a value <= 0 uses a small default.
func NewBaseliner(calc *propcalc.Calculator, errs *errbucket.Bucket, concurrency int) *Baseliner {
	if concurrency <= 0 {
		concurrency = defaultConcurrency
	}
	return &Baseliner{calc: calc, errs: errs, concurrency: concurrency}
}

// ruleWalk is one rule's collected filesystem walk: every FCO found
// under the rule's start point, in visitation order, not yet written
// to the database.
type ruleWalk struct {
	fcos []*fco.FCO
}

// Generate walks specList's rules, one bounded-concurrent filesystem
// walk per rule via newFSIterator (called once per rule so each
// goroutine gets its own cursor), then writes every collected FCO into
// database sequentially and in canonical rule order. The sequential
// commit phase keeps the database single-writer.
func (b *Baseliner) Generate(ctx context.Context, specList *policy.SpecList, newFSIterator func() datasource.Iterator, database *db.Database) error {
	walks := make([]*ruleWalk, len(specList.Rules))

	g, _ := errgroup.WithContext(ctx)
	g.SetLimit(b.concurrency)
	for i, rule := range specList.Rules {
		i, rule := i, rule
		g.Go(func() error {
			fsIter := newFSIterator()
			fsIter.SetErrorBucket(b.errs)
			w, err := b.collectRule(rule, fsIter)
			if err != nil {
				return err
			}
			walks[i] = w
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for _, w := range walks {
		if w == nil {
			continue
		}
		for _, f := range w.fcos {
			if err := database.Put(f); err != nil {
				b.errs.Report(&errbucket.Error{
					Kind:    errbucket.KindFCONotInDatabase,
					Subject: f.Name.Display(),
					Message: "writing baseline record failed",
					Cause:   err,
				})
			}
		}
	}
	return nil
}

// collectRule walks the live filesystem under rule.Start, measuring
// each visited object's rule-masked properties and collecting the
// resulting FCOs; it never writes to the database itself.
func (b *Baseliner) collectRule(rule *policy.Rule, fsIter datasource.Iterator) (*ruleWalk, error) {
	w := &ruleWalk{}
	if err := fsIter.SeekTo(rule.Start); err != nil {
		// Reported by the iterator; an absent start point contributes
		// nothing to this rule's baseline.
		return w, nil
	}
	if fsIter.Done() {
		return w, nil
	}
	if err := b.visitOne(fsIter, rule, w); err != nil {
		return nil, err
	}
	return w, nil
}

func (b *Baseliner) visitOne(fsIter datasource.Iterator, rule *policy.Rule, w *ruleWalk) error {
	f, err := fsIter.CreateFCO()
	if err != nil {
		b.errs.Report(&errbucket.Error{
			Kind:    errbucket.KindFCOCreateFailure,
			Subject: fsIter.Name().Display(),
			Message: "create fco failed",
			Cause:   err,
		})
		return nil
	}
	if rule.Contains(f.Name) {
		if err := b.calc.Calculate(f, rule.PropMask(f.Caps)); err != nil {
			// Reported by the calculator itself; the FCO's invalid
			// properties record the failure in the baseline.
		}
		w.fcos = append(w.fcos, f)
	}

	if f.CanHaveChildren() && !rule.ShouldStopDescent(fsIter.Name()) {
		can, err := fsIter.CanDescend()
		if err != nil || !can {
			return nil
		}
		if err := fsIter.Descend(); err != nil {
			return nil
		}
		for !fsIter.Done() {
			if err := b.visitOne(fsIter, rule, w); err != nil {
				return err
			}
			if err := fsIter.Next(); err != nil {
				return err
			}
		}
		return fsIter.Ascend()
	}
	return nil
}

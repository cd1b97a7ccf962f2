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

// Package report implements the pipeline's output: a per-genre
// ordered collection of spec sections, each recording what changed
// under one rule — added, removed, and changed objects, the exact
// properties that changed on each, the errors encountered, and how
// many objects were scanned.
//
// The section/changed-object shape follows the same sparse,
// vector-indexed style as pkg/propset, generalized from "one object's
// properties" to "one rule's diff against a spec list."
package report

import (
	"fmt"

	"sentrybase.org/pkg/errbucket"
	"sentrybase.org/pkg/fco"
	"sentrybase.org/pkg/pname"
	"sentrybase.org/pkg/policy"
	"sentrybase.org/pkg/propvector"
)

// Delta records what changed on one surviving object: which
// previously-valid properties now compare unequal, and which
// properties became invalid (requested but no longer measurable) on
// one side of the comparison.
type Delta struct {
	Changed         propvector.Vector
	BecameInvalid propvector.Vector
}

// Section is one rule's worth of findings: the rule it was evaluated
// against (a snapshot, since the live policy object may later be
// mutated or discarded), the three FCO sets a merge-walk classifies
// every name into, and the bookkeeping the pipeline accumulates while
// producing them.
type Section struct {
	Rule *policy.Rule

	Added   []*fco.FCO
	Removed []*fco.FCO
	// Changed holds the FCO's *old* (database) state; the new, live
	// state is transient to the walk and not retained once its delta
	// has been recorded.
	Changed []*fco.FCO
	// Deltas is keyed by the changed FCO's display name, parallel to
	// Changed.
	Deltas map[string]Delta

	ObjectsScanned int
	Errors         []*errbucket.Error
}

// newSection returns an empty section for rule.
func newSection(rule *policy.Rule) *Section {
	var snap *policy.Rule
	if rule != nil {
		r := *rule
		r.Mask = rule.Mask.Clone()
		r.DirMask = rule.DirMask.Clone()
		r.Stop.Stops = append([]pname.Name(nil), rule.Stop.Stops...)
		r.EmailTargets = append([]string(nil), rule.EmailTargets...)
		if rule.NamedAttrs != nil {
			r.NamedAttrs = make(map[string]string, len(rule.NamedAttrs))
			for k, v := range rule.NamedAttrs {
				r.NamedAttrs[k] = v
			}
		}
		snap = &r
	}
	return &Section{Rule: snap, Deltas: make(map[string]Delta)}
}

// RecordAdded appends f to the section's added set.
func (s *Section) RecordAdded(f *fco.FCO) {
	s.Added = append(s.Added, f)
	s.ObjectsScanned++
}

// RecordRemoved appends f to the section's removed set.
func (s *Section) RecordRemoved(f *fco.FCO) {
	s.Removed = append(s.Removed, f)
	s.ObjectsScanned++
}

// RecordChanged appends oldFCO to the section's changed-old set and
// records its delta.
func (s *Section) RecordChanged(oldFCO *fco.FCO, delta Delta) {
	s.Changed = append(s.Changed, oldFCO)
	s.Deltas[oldFCO.Name.Display()] = delta
	s.ObjectsScanned++
}

// RecordUnchanged bumps the scanned counter for an object that
// produced no finding, so ObjectsScanned always equals the number of
// names the merge-walk visited under this rule.
func (s *Section) RecordUnchanged() {
	s.ObjectsScanned++
}

// RecordError appends e to the section's error queue.
func (s *Section) RecordError(e *errbucket.Error) {
	s.Errors = append(s.Errors, e)
}

// HasChanges reports whether the section recorded any added, removed,
// or changed object.
func (s *Section) HasChanges() bool {
	return len(s.Added) > 0 || len(s.Removed) > 0 || len(s.Changed) > 0
}

// Report is the pipeline's complete output: one ordered list of
// sections per genre, in the genre's spec list's canonical order.
type Report struct {
	Sections map[string][]*Section
	// GenreOrder preserves the order genres were first added in, since
	// Sections is a map.
	GenreOrder []string
}

// New returns an empty report.
func New() *Report {
	return &Report{Sections: make(map[string][]*Section)}
}

// NewSection appends a fresh section for rule under genre and returns
// it for the pipeline to fill in.
func (r *Report) NewSection(genreName string, rule *policy.Rule) *Section {
	if _, ok := r.Sections[genreName]; !ok {
		r.GenreOrder = append(r.GenreOrder, genreName)
	}
	sec := newSection(rule)
	r.Sections[genreName] = append(r.Sections[genreName], sec)
	return sec
}

// TotalObjectsScanned sums ObjectsScanned across every section in
// every genre.
func (r *Report) TotalObjectsScanned() int {
	n := 0
	for _, secs := range r.Sections {
		for _, s := range secs {
			n += s.ObjectsScanned
		}
	}
	return n
}

// HasFatalErrors reports whether any section recorded a fatal error,
// the signal a driver uses to decide whether to treat the run as
// failed overall despite the "report and continue" per-object policy.
func (r *Report) HasFatalErrors() bool {
	for _, secs := range r.Sections {
		for _, s := range secs {
			for _, e := range s.Errors {
				if e.Fatal {
					return true
				}
			}
		}
	}
	return false
}

// Summary renders a one-line, human-readable count per genre, the
// shape a driver's textual report renderer (out of scope for this
// core) would build on.
func (r *Report) Summary() string {
	var out string
	for _, g := range r.GenreOrder {
		var added, removed, changed, scanned int
		for _, s := range r.Sections[g] {
			added += len(s.Added)
			removed += len(s.Removed)
			changed += len(s.Changed)
			scanned += s.ObjectsScanned
		}
		out += fmt.Sprintf("%s: %d scanned, %d added, %d removed, %d changed\n",
			g, scanned, added, removed, changed)
	}
	return out
}

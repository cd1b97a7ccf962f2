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

// Package policy implements the parsed rule set the pipeline walks:
// which names are monitored, where descent stops, and which
// properties matter for each. The AST is a small tree of plain
// values; rules carry no behavior beyond containment and descent
// queries.
package policy

import (
	"fmt"
	"sort"

	"sentrybase.org/pkg/camerrors"
	"sentrybase.org/pkg/fco"
	"sentrybase.org/pkg/pname"
	"sentrybase.org/pkg/propvector"
)

// StopPolicy decides where a rule's descent halts beneath its start
// point.
type StopPolicy struct {
	// NoChildren, when true, limits descent to exactly one level below
	// Start regardless of Stops or MaxDepth.
	NoChildren bool
	// Stops is the stop-point set: descent halts at a name equal to
	// any of these (or below it).
	Stops []pname.Name
	// MaxDepth, when > 0, additionally halts descent at that many
	// components below Start.
	MaxDepth int
}

// shouldStop reports whether the rule's descent halts at name, given
// the rule's start point. depth is name's distance below start.
func (sp StopPolicy) shouldStop(start, name pname.Name, depth int) bool {
	if sp.NoChildren && depth >= 1 {
		return true
	}
	if sp.MaxDepth > 0 && depth >= sp.MaxDepth {
		return true
	}
	for _, stop := range sp.Stops {
		switch stop.Relationship(name) {
		case pname.Equal, pname.Above:
			return true
		}
	}
	return false
}

// Rule is a single unit of policy: start point, stop policy, a
// property mask expressed as a function of an FCO's capabilities (a
// directory may request a different mask than a leaf under the
// loose-directory convention), attached attributes, severity, and
// the notification fields (severity, email targets), which are
// parsed and exposed but never dispatched by this library.
type Rule struct {
	Start         pname.Name
	Stop          StopPolicy
	Mask          propvector.Vector
	DirMask       propvector.Vector // mask used when caps has CAN_HAVE_CHILDREN; defaults to Mask if zero
	NamedAttrs    map[string]string
	Severity      int
	EmailTargets  []string
	SourceLine    int
}

// PropMask returns the effective property vector for an object with
// the given capabilities.
func (r *Rule) PropMask(caps fco.Capabilities) propvector.Vector {
	if caps&fco.CanHaveChildren != 0 && !r.DirMask.IsZero() {
		return r.DirMask
	}
	return r.Mask
}

// Contains reports whether name belongs to r: at or below Start, not
// at or below any stop point, and not past a depth cut at any
// ancestor between Start and name.
func (r *Rule) Contains(name pname.Name) bool {
	switch r.Start.Relationship(name) {
	case pname.Equal, pname.Above:
	default:
		return false
	}
	for _, stop := range r.Stop.Stops {
		switch stop.Relationship(name) {
		case pname.Equal, pname.Above:
			return false
		}
	}
	return !r.stopsBeforeReaching(name)
}

// stopsBeforeReaching walks from Start down to name and reports
// whether the stop policy halts descent strictly before name, which
// means name itself (and everything below it) is excluded.
func (r *Rule) stopsBeforeReaching(name pname.Name) bool {
	depth := name.Depth() - r.Start.Depth()
	cur := r.Start
	for d := 0; d < depth; d++ {
		if r.Stop.shouldStop(r.Start, cur, d) {
			return true
		}
		cur = ancestorAtDepth(name, r.Start.Depth()+d+1)
	}
	return false
}

// ancestorAtDepth returns the prefix of name at the given component
// depth, which must be <= name.Depth().
func ancestorAtDepth(name pname.Name, depth int) pname.Name {
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

// ShouldStopDescent reports whether r's stop policy halts descent at
// name itself, so the pipeline does not recurse into name's children.
func (r *Rule) ShouldStopDescent(name pname.Name) bool {
	depth := name.Depth() - r.Start.Depth()
	if depth < 0 {
		return false
	}
	return r.Stop.shouldStop(r.Start, name, depth)
}

// SpecList is a canonically ordered set of rules for one genre: sorted
// by start point, ties broken toward the more specific (deeper) rule.
// Invariant: no two rules share a start point (enforced by the
// parser, not here).
type SpecList struct {
	Genre string
	Rules []*Rule
}

// Sort orders Rules canonically: by start point, and within ties the
// more specific rule first.
func (sl *SpecList) Sort() {
	sort.SliceStable(sl.Rules, func(i, j int) bool {
		a, b := sl.Rules[i], sl.Rules[j]
		if c := a.Start.Compare(b.Start); c != 0 {
			return c < 0
		}
		return a.Start.Depth() > b.Start.Depth()
	})
}

// RuleFor returns the most specific rule that contains name, or nil.
// Start points may nest (a rule at /a and another at /a/b), so the
// containing rule with the deepest start point wins.
func (sl *SpecList) RuleFor(name pname.Name) *Rule {
	var best *Rule
	for _, r := range sl.Rules {
		if !r.Contains(name) {
			continue
		}
		if best == nil || r.Start.Depth() > best.Start.Depth() {
			best = r
		}
	}
	return best
}

// Contains reports whether any rule in the list contains name.
func (sl *SpecList) Contains(name pname.Name) bool {
	return sl.RuleFor(name) != nil
}

// ShouldStopDescent reports whether the rule containing name (if any)
// halts descent there. A name contained by no rule never halts
// descent on that account alone; the pipeline's own walk bounds
// still apply.
func (sl *SpecList) ShouldStopDescent(name pname.Name) bool {
	r := sl.RuleFor(name)
	if r == nil {
		return false
	}
	return r.ShouldStopDescent(name)
}

// Validate checks the policy-wide invariants: no two
// rules share a start point; a start point must be absolute (every
// Name constructed by this package's parser is absolute); a stop
// point must be strictly below its rule's start point.
func (sl *SpecList) Validate() error {
	seen := make(map[string]bool, len(sl.Rules))
	for _, r := range sl.Rules {
		key := r.Start.Raw()
		if seen[key] {
			return fmt.Errorf("%w: %s", camerrors.ErrDuplicateStartPoint, r.Start.Display())
		}
		seen[key] = true
		for _, stop := range r.Stop.Stops {
			if r.Start.Relationship(stop) != pname.Above {
				return fmt.Errorf("%w: %s is not strictly below start point %s",
					camerrors.ErrStopNotUnderStart, stop.Display(), r.Start.Display())
			}
		}
	}
	return nil
}

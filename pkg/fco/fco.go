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

// Package fco defines the file-change object: the named observation
// record that flows between data-source iterators, the property
// calculator, the database, and the report.
package fco

import (
	"sentrybase.org/pkg/pname"
	"sentrybase.org/pkg/propset"
)

// Capabilities is a small bitset of object capabilities. Only one bit
// is currently defined.
type Capabilities uint32

const (
	// CanHaveChildren marks an object that may have descendants (a
	// directory, or its genre equivalent). The integrity checker uses
	// this to decide which properties to mask off in loose-directory
	// mode.
	CanHaveChildren Capabilities = 1 << iota
)

// FCO is a named observation: identity, capabilities, and the
// measured property record.
type FCO struct {
	Name  pname.Name
	Caps  Capabilities
	Props *propset.Set
}

// New constructs an FCO with an empty property set bound to schema.
func New(name pname.Name, caps Capabilities, schema *propset.Schema) *FCO {
	return &FCO{
		Name:  name,
		Caps:  caps,
		Props: propset.New(schema),
	}
}

// CanHaveChildren reports whether the object may have descendants.
func (f *FCO) CanHaveChildren() bool {
	return f.Caps&CanHaveChildren != 0
}

// Clone returns a deep copy of f: Name is a value type already safe to
// share, and Props is deep-copied so mutating the clone's property set
// never affects f's. Callers that must hold onto an FCO's state before
// reconciling it in place (the report's "before" snapshot) clone first.
func (f *FCO) Clone() *FCO {
	return &FCO{
		Name:  f.Name,
		Caps:  f.Caps,
		Props: f.Props.Clone(),
	}
}

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

package policy

import (
	"fmt"

	"sentrybase.org/pkg/genre"
	"sentrybase.org/pkg/propvector"
)

// CompileMask evaluates a property expression against bundle's letter
// table and presets: a sequence of characters where each uppercase
// letter denotes a property, optionally preceded by + (include) or -
// (exclude); presets expand via variable substitution. The final
// mask is the symmetric composition in left-to-right order.
//
// A run of uppercase letters with no leading sign is treated as
// include, matching a bare "+" run; a bare preset name (capitalized
// word) expands to the vector Presets records for it.
func CompileMask(bundle *genre.Bundle, expr string) (propvector.Vector, error) {
	mask := propvector.New(bundle.Schema.NumProps())
	i := 0
	sign := byte('+')
	for i < len(expr) {
		c := expr[i]
		switch {
		case c == '+' || c == '-':
			sign = c
			i++
		case c >= 'a' && c <= 'z':
			// Start of a preset name: consume the maximal
			// identifier run (letters only, case mixed).
			j := i
			for j < len(expr) && isIdentByte(expr[j]) {
				j++
			}
			name := expr[i:j]
			preset, ok := bundle.Presets[name]
			if !ok {
				return propvector.Vector{}, fmt.Errorf("policy: unknown preset %q", name)
			}
			mask = applySign(mask, preset, sign)
			i = j
			sign = '+'
		case c >= 'A' && c <= 'Z':
			// Could be the start of a capitalized preset name (more
			// than one char) or a single property letter.
			j := i + 1
			for j < len(expr) && isIdentByte(expr[j]) {
				j++
			}
			tok := expr[i:j]
			if len(tok) > 1 {
				if preset, ok := bundle.Presets[tok]; ok {
					mask = applySign(mask, preset, sign)
					i = j
					sign = '+'
					continue
				}
			}
			idx, ok := bundle.PropertyLetters[c]
			if !ok {
				return propvector.Vector{}, fmt.Errorf("policy: unknown property letter %q", string(c))
			}
			single := propvector.New(bundle.Schema.NumProps())
			single.AddAndGrow(idx)
			mask = applySign(mask, single, sign)
			i++
			sign = '+'
		default:
			i++ // ignore whitespace and separators
		}
	}
	return mask, nil
}

func isIdentByte(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// applySign composes delta into mask by symmetric composition:
// include adds (union), exclude removes (difference), matching the
// "symmetric composition in left-to-right order" the grammar
// describes for a sequence of signed terms.
func applySign(mask, delta propvector.Vector, sign byte) propvector.Vector {
	if sign == '-' {
		return propvector.Difference(mask, delta)
	}
	return propvector.Union(mask, delta)
}

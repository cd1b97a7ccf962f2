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
	"strings"

	"sentrybase.org/pkg/camerrors"
	"sentrybase.org/pkg/errbucket"
	"sentrybase.org/pkg/genre"
	"sentrybase.org/pkg/pname"
)

// Mode selects between the parser's two modes:
// Check reports each section's first error to the ErrBucket as
// non-fatal and goes on with the next section; sections that parse
// cleanly still get a spec list in the Result. Execute produces the
// spec list, stopping at the first fatal error. A preprocessor error
// ends the run in both modes.
type Mode int

const (
	Execute Mode = iota
	Check
)

// Options configures a Parser.
type Options struct {
	// Bundles maps a #section name to the genre bundle it parses
	// against (for property-expression compilation and name
	// delimiter/case-sensitivity).
	Bundles map[string]*genre.Bundle
	// HostIdentity is compared against #ifhost terms.
	HostIdentity string
	// Notify receives #echo messages; nil discards them.
	Notify func(string)
	// ErrBucket receives non-fatal diagnostics in Check mode.
	ErrBucket *errbucket.Bucket
	Mode      Mode
}

// Parser is the policy parser and preprocessor: it
// tokenizes, expands variables and host-conditionals, and builds one
// SpecList per genre section.
type Parser struct {
	opts Options
}

// NewParser returns a Parser configured by opts.
func NewParser(opts Options) *Parser {
	if opts.ErrBucket == nil {
		opts.ErrBucket = errbucket.New()
	}
	return &Parser{opts: opts}
}

// Result is everything Parse produces for one run: the per-genre spec
// lists and the attribute environment each rule's attributes were
// resolved against.
type Result struct {
	Specs map[string]*SpecList
}

// Parse runs the preprocessor over src, then the per-genre grammar
// parser over each resulting section, honoring the selected Mode.
func (p *Parser) Parse(src string) (*Result, error) {
	pp := newPreprocessor(p.opts.HostIdentity, p.opts.Notify)
	sections, order, err := pp.Run(src)
	if err != nil {
		return nil, p.fail(err)
	}

	result := &Result{Specs: make(map[string]*SpecList)}
	for _, g := range order {
		bundle, ok := p.opts.Bundles[g]
		if !ok {
			err := fmt.Errorf("policy: #section %q has no registered genre bundle", g)
			if p.opts.Mode == Check {
				p.report(errbucket.KindParseError, err)
				continue
			}
			return nil, p.fail(err)
		}
		sl, err := p.parseSection(g, bundle, sections[g])
		if err != nil {
			if p.opts.Mode == Check {
				p.report(errbucket.KindParseError, err)
				continue
			}
			return nil, p.fail(err)
		}
		sl.Sort()
		if err := sl.Validate(); err != nil {
			if p.opts.Mode == Check {
				p.report(errbucket.KindParseError, err)
				continue
			}
			return nil, p.fail(err)
		}
		if p.opts.Mode == Execute {
			result.Specs[g] = sl
		}
	}
	return result, nil
}

func (p *Parser) fail(err error) error {
	p.report(errbucket.KindParseError, err)
	return err
}

func (p *Parser) report(kind errbucket.Kind, err error) {
	p.opts.ErrBucket.Report(&errbucket.Error{Kind: kind, Fatal: p.opts.Mode == Execute, Message: err.Error()})
}

// sectionParser holds the token cursor and attribute-layer stack for
// one genre section's grammar parse.
type sectionParser struct {
	lx     *lexer
	tok    token
	bundle *genre.Bundle
	genre  string
	attrs  []map[string]string // stack of enclosing attribute layers, outermost first
}

func (p *Parser) parseSection(g string, bundle *genre.Bundle, src string) (*SpecList, error) {
	sp := &sectionParser{lx: newLexer(src), bundle: bundle, genre: g}
	if err := sp.advance(); err != nil {
		return nil, err
	}
	sl := &SpecList{Genre: g}
	for sp.tok.kind != tokEOF {
		rules, err := sp.parseItem()
		if err != nil {
			return nil, err
		}
		sl.Rules = append(sl.Rules, rules...)
	}
	return sl, nil
}

func (sp *sectionParser) advance() error {
	t, err := sp.lx.next()
	if err != nil {
		return err
	}
	sp.tok = t
	return nil
}

func (sp *sectionParser) expect(k tokKind) (token, error) {
	if sp.tok.kind != k {
		return token{}, fmt.Errorf("policy: line %d: unexpected token (want kind %d, got %d %q)",
			sp.tok.line, k, sp.tok.kind, sp.tok.text)
	}
	t := sp.tok
	return t, sp.advance()
}

// parseItem parses one top-level construct: an optional attribute
// list followed by either a scope block (returns every rule inside,
// with the block's attributes merged in) or a single rule.
func (sp *sectionParser) parseItem() ([]*Rule, error) {
	var local map[string]string
	if sp.tok.kind == tokLParen {
		m, err := sp.parseAttrList()
		if err != nil {
			return nil, err
		}
		local = m
	}
	if local != nil {
		sp.attrs = append(sp.attrs, local)
		defer func() { sp.attrs = sp.attrs[:len(sp.attrs)-1] }()
	}
	if sp.tok.kind == tokLBrace {
		return sp.parseScopeBody()
	}
	rule, err := sp.parseRule()
	if err != nil {
		return nil, err
	}
	return []*Rule{rule}, nil
}

func (sp *sectionParser) parseScopeBody() ([]*Rule, error) {
	if _, err := sp.expect(tokLBrace); err != nil {
		return nil, err
	}
	var rules []*Rule
	for sp.tok.kind != tokRBrace {
		if sp.tok.kind == tokEOF {
			return nil, fmt.Errorf("policy: unterminated scope block")
		}
		got, err := sp.parseItem()
		if err != nil {
			return nil, err
		}
		rules = append(rules, got...)
	}
	return rules, sp.advance() // consume '}'
}

// parseRule parses "PATH -> PROPEXPR (ATTRS)? ;".
func (sp *sectionParser) parseRule() (*Rule, error) {
	pathTok, err := sp.parsePathToken()
	if err != nil {
		return nil, err
	}
	if _, err := sp.expect(tokArrow); err != nil {
		return nil, err
	}
	expr, err := sp.parsePropExpr()
	if err != nil {
		return nil, err
	}
	var ruleAttrs map[string]string
	if sp.tok.kind == tokLParen {
		ruleAttrs, err = sp.parseAttrList()
		if err != nil {
			return nil, err
		}
	}
	if _, err := sp.expect(tokSemi); err != nil {
		return nil, err
	}

	start := pname.Parse(pathTok, sp.bundle.Delimiter, sp.bundle.CaseSensitive)
	if start.AtRoot() && pathTok != string(sp.bundle.Delimiter) {
		return nil, fmt.Errorf("%w: %q", camerrors.ErrStartNotAbsolute, pathTok)
	}
	mask, err := CompileMask(sp.bundle, expr)
	if err != nil {
		return nil, err
	}

	merged := mergeAttrs(append(append([]map[string]string{}, sp.attrs...), ruleAttrs)...)
	r := &Rule{Start: start, Mask: mask, NamedAttrs: map[string]string{}}
	if err := applyKnownAttrs(r, merged, sp.bundle); err != nil {
		return nil, err
	}
	return r, nil
}

// parsePathToken accumulates a path literal, which the lexer tokenizes
// as a single ident run since '/' is an identifier-start byte.
func (sp *sectionParser) parsePathToken() (string, error) {
	if sp.tok.kind != tokIdent && sp.tok.kind != tokString {
		return "", fmt.Errorf("policy: line %d: expected a path, got %q", sp.tok.line, sp.tok.text)
	}
	text := sp.tok.text
	return text, sp.advance()
}

// parsePropExpr accumulates the run of +/-/letter tokens between "->"
// and the rule's trailing attribute list or semicolon.
func (sp *sectionParser) parsePropExpr() (string, error) {
	var b strings.Builder
	for {
		switch sp.tok.kind {
		case tokPlus:
			b.WriteByte('+')
		case tokMinus:
			b.WriteByte('-')
		case tokIdent:
			b.WriteString(sp.tok.text)
		case tokDollar:
			return "", fmt.Errorf("policy: line %d: unresolved variable reference in property expression", sp.tok.line)
		default:
			if b.Len() == 0 {
				return "", fmt.Errorf("policy: line %d: expected a property expression", sp.tok.line)
			}
			return b.String(), nil
		}
		if err := sp.advance(); err != nil {
			return "", err
		}
	}
}

// parseAttrList parses "( key = value (, key = value)* )".
func (sp *sectionParser) parseAttrList() (map[string]string, error) {
	if _, err := sp.expect(tokLParen); err != nil {
		return nil, err
	}
	m := make(map[string]string)
	for sp.tok.kind != tokRParen {
		keyTok, err := sp.expect(tokIdent)
		if err != nil {
			return nil, err
		}
		if _, err := sp.expect(tokEquals); err != nil {
			return nil, err
		}
		val, err := sp.parseAttrValue()
		if err != nil {
			return nil, err
		}
		m[keyTok.text] = val
		if sp.tok.kind == tokComma {
			if err := sp.advance(); err != nil {
				return nil, err
			}
		}
	}
	return m, sp.advance() // consume ')'
}

// parseAttrValue parses a single string, a brace-enclosed comma list
// of strings (joined with '|', the same separator email_targets and
// stop-point sets use internally), or a bare identifier (e.g. an
// integer literal for severity/recurse).
func (sp *sectionParser) parseAttrValue() (string, error) {
	switch sp.tok.kind {
	case tokString:
		v := sp.tok.text
		return v, sp.advance()
	case tokIdent:
		v := sp.tok.text
		return v, sp.advance()
	case tokLBrace:
		if err := sp.advance(); err != nil {
			return "", err
		}
		var items []string
		for sp.tok.kind != tokRBrace {
			t, err := sp.expect(tokString)
			if err != nil {
				if sp.tok.kind == tokIdent {
					t = sp.tok
					if err := sp.advance(); err != nil {
						return "", err
					}
				} else {
					return "", err
				}
			}
			items = append(items, t.text)
			if sp.tok.kind == tokComma {
				if err := sp.advance(); err != nil {
					return "", err
				}
			}
		}
		if err := sp.advance(); err != nil { // consume '}'
			return "", err
		}
		return strings.Join(items, "|"), nil
	default:
		return "", fmt.Errorf("policy: line %d: expected an attribute value", sp.tok.line)
	}
}

// mergeAttrs layers attribute maps outer-to-inner, later maps
// overriding earlier ones for the same key: inner wins, while an
// outer (including a global, first-in-list) layer still fills any key
// an inner layer never set.
func mergeAttrs(layers ...map[string]string) map[string]string {
	out := make(map[string]string)
	for _, l := range layers {
		for k, v := range l {
			out[k] = v
		}
	}
	return out
}

// applyKnownAttrs interprets the merged attribute map's recognized
// keys (severity, emailto, recurse, stop) onto r, placing everything
// else into r.NamedAttrs untouched.
func applyKnownAttrs(r *Rule, attrs map[string]string, bundle *genre.Bundle) error {
	for k, v := range attrs {
		switch k {
		case "severity":
			n, err := parseIntAttr("severity", v)
			if err != nil {
				return err
			}
			if n < 0 {
				return fmt.Errorf("%w: severity %d", camerrors.ErrSeverityOutOfRange, n)
			}
			r.Severity = n
		case "emailto":
			r.EmailTargets = strings.Split(v, "|")
		case "recurse":
			n, err := parseIntAttr("recurse", v)
			if err != nil {
				return err
			}
			switch {
			case n == 0:
				r.Stop.NoChildren = true
			case n > 0:
				r.Stop.MaxDepth = n
			}
		case "stop":
			for _, s := range strings.Split(v, "|") {
				if s == "" {
					continue
				}
				r.Stop.Stops = append(r.Stop.Stops, pname.Parse(s, bundle.Delimiter, bundle.CaseSensitive))
			}
		default:
			r.NamedAttrs[k] = v
		}
	}
	return nil
}

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
	"bytes"
	"context"
	"crypto/md5"
	"io"
	"sort"
	"testing"
	"time"

	"sentrybase.org/pkg/datasource"
	"sentrybase.org/pkg/db"
	"sentrybase.org/pkg/errbucket"
	"sentrybase.org/pkg/fco"
	"sentrybase.org/pkg/genre"
	"sentrybase.org/pkg/hostfs"
	"sentrybase.org/pkg/pname"
	"sentrybase.org/pkg/policy"
	"sentrybase.org/pkg/propcalc"
	"sentrybase.org/pkg/propval"
	"sentrybase.org/pkg/propvector"
	"sentrybase.org/pkg/sorted"
)

// memNode/memFS mirror pkg/datasource's own fixture: an in-memory
// hostfs.FS so these end-to-end scenarios never touch a real disk.
type memNode struct {
	isDir      bool
	isSymlink  bool
	linkTarget string
	content    []byte
}

type memFS struct {
	nodes map[string]memNode
}

func newMemFS() *memFS { return &memFS{nodes: map[string]memNode{"/": {isDir: true}}} }

func (m *memFS) mkdir(p string)            { m.nodes[p] = memNode{isDir: true} }
func (m *memFS) put(p string, data string) { m.nodes[p] = memNode{content: []byte(data)} }
func (m *memFS) symlink(p, target string)  { m.nodes[p] = memNode{isSymlink: true, linkTarget: target} }
func (m *memFS) rmdir(p string)            { delete(m.nodes, p) }

func (m *memFS) Stat(p string) (hostfs.Stat, error) {
	n, ok := m.nodes[p]
	if !ok {
		return hostfs.Stat{}, io.ErrUnexpectedEOF
	}
	ft := propval.FileTypeRegular
	switch {
	case n.isDir:
		ft = propval.FileTypeDirectory
	case n.isSymlink:
		ft = propval.FileTypeSymlink
	}
	return hostfs.Stat{
		Size:     int64(len(n.content)),
		MTime:    time.Unix(0, 0),
		FileType: ft,
	}, nil
}

func (m *memFS) OpenRead(p string, directIO bool) (io.ReadCloser, error) {
	n, ok := m.nodes[p]
	if !ok {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(n.content)), nil
}

func (m *memFS) ReadLink(p string) (string, error) {
	n, ok := m.nodes[p]
	if !ok || !n.isSymlink {
		return "", io.ErrUnexpectedEOF
	}
	return n.linkTarget, nil
}

func (m *memFS) ReadDir(p string) ([]string, error) {
	prefix := p
	if prefix != "/" {
		prefix += "/"
	}
	seen := map[string]bool{}
	var names []string
	for path := range m.nodes {
		if path == p || path == "/" {
			continue
		}
		if len(path) <= len(prefix) || path[:len(prefix)] != prefix {
			continue
		}
		rest := path[len(prefix):]
		for i, c := range rest {
			if c == '/' {
				rest = rest[:i]
				break
			}
		}
		if !seen[rest] {
			seen[rest] = true
			names = append(names, rest)
		}
	}
	sort.Strings(names)
	return names, nil
}

var _ hostfs.FS = (*memFS)(nil)

// fixture bundles everything one pipeline scenario needs: a genre
// bundle, an in-memory filesystem and database, and a calculator over
// them.
type fixture struct {
	t      *testing.T
	bundle *genre.Bundle
	fs     *memFS
	database *db.Database
	calc   *propcalc.Calculator
	errs   *errbucket.Bucket
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	bundle := genre.FS()
	database, err := db.Open(sorted.NewMemoryKeyValue(), bundle)
	if err != nil {
		t.Fatalf("db.Open: %v", err)
	}
	fs := newMemFS()
	errs := errbucket.New()
	return &fixture{
		t:      t,
		bundle: bundle,
		fs:     fs,
		database: database,
		calc:   propcalc.New(fs, bundle, propcalc.WithErrorBucket(errs)),
		errs:   errs,
	}
}

func (f *fixture) name(comps ...string) pname.Name {
	n := pname.Root(f.bundle.Delimiter, f.bundle.CaseSensitive)
	for _, c := range comps {
		n = n.Push(c)
	}
	return n
}

func (f *fixture) fsIter() datasource.Iterator {
	return datasource.NewFSIterator(f.fs, f.bundle, 0)
}

// rule builds a single-rule spec list with the given mask, matching
// the scenarios' "Rule {start=..., mask=...}" shorthand.
func (f *fixture) specList(start pname.Name, mask propvector.Vector, stops ...pname.Name) *policy.SpecList {
	r := &policy.Rule{Start: start, Mask: mask, Stop: policy.StopPolicy{Stops: stops}}
	sl := &policy.SpecList{Genre: string(f.bundle.Genre), Rules: []*policy.Rule{r}}
	sl.Sort()
	return sl
}

func maskOf(bundle *genre.Bundle, indices ...int) propvector.Vector {
	v := propvector.New(bundle.Schema.NumProps())
	for _, i := range indices {
		v.Add(i)
	}
	return v
}

func putFCO(t *testing.T, database *db.Database, bundle *genre.Bundle, name pname.Name, caps fco.Capabilities, set func(*fco.FCO)) {
	t.Helper()
	f := fco.New(name, caps, bundle.Schema)
	if set != nil {
		set(f)
	}
	if err := database.Put(f); err != nil {
		t.Fatalf("db.Put(%s): %v", name.Display(), err)
	}
}

// putDirFCO records a directory's database entry with the size (zero,
// for every directory this fixture's memFS creates) already matching
// what the calculator would measure live, so a rule's own start point
// never shows up as a spurious Changed finding alongside the
// descendant a scenario is actually about.
func putDirFCO(t *testing.T, database *db.Database, bundle *genre.Bundle, name pname.Name) {
	t.Helper()
	putFCO(t, database, bundle, name, fco.CanHaveChildren, func(fc *fco.FCO) {
		fc.Props.Set(genre.PropSize, propval.Int64(0))
	})
}

// An added object: rule {start=/A, mask={size,md5}}; database has /A only;
// filesystem has /A and /A/x (10 bytes); expect one Added /A/x with
// md5 of the 10 bytes, no Removed, no Changed.
func TestIntegrityCheckAdded(t *testing.T) {
	f := newFixture(t)
	a := f.name("A")
	x := a.Push("x")
	mask := maskOf(f.bundle, genre.PropSize, genre.PropMD5)

	f.fs.mkdir("/A")
	f.fs.put("/A/x", "0123456789")
	putDirFCO(t, f.database, f.bundle, a)

	sl := f.specList(a, mask)
	checker := NewChecker(CheckOptions{Bundle: f.bundle, Calc: f.calc}, f.errs)
	rpt := checker.Run(sl, f.database, f.fsIter())

	sec := rpt.Sections[string(f.bundle.Genre)][0]
	if len(sec.Removed) != 0 || len(sec.Changed) != 0 {
		t.Fatalf("want no removed/changed, got removed=%d changed=%d", len(sec.Removed), len(sec.Changed))
	}
	if len(sec.Added) != 1 || sec.Added[0].Name.Display() != x.Display() {
		t.Fatalf("want one Added /A/x, got %+v", sec.Added)
	}
	v, ok := sec.Added[0].Props.Get(genre.PropMD5)
	if !ok {
		t.Fatalf("Added /A/x has no md5")
	}
	want := md5Hex(t, "0123456789")
	if string(v.(propval.Bytes)) != want {
		t.Errorf("md5 = %x, want %x", v.(propval.Bytes), want)
	}
}

// A removed object: same rule; database has /A and /A/x; filesystem has /A only;
// expect one Removed /A/x.
func TestIntegrityCheckRemoved(t *testing.T) {
	f := newFixture(t)
	a := f.name("A")
	x := a.Push("x")
	mask := maskOf(f.bundle, genre.PropSize, genre.PropMD5)

	f.fs.mkdir("/A")
	putDirFCO(t, f.database, f.bundle, a)
	putFCO(t, f.database, f.bundle, x, 0, func(fc *fco.FCO) {
		fc.Props.Set(genre.PropSize, propval.Int64(10))
	})

	sl := f.specList(a, mask)
	checker := NewChecker(CheckOptions{Bundle: f.bundle, Calc: f.calc}, f.errs)
	rpt := checker.Run(sl, f.database, f.fsIter())

	sec := rpt.Sections[string(f.bundle.Genre)][0]
	if len(sec.Added) != 0 || len(sec.Changed) != 0 {
		t.Fatalf("want no added/changed, got added=%d changed=%d", len(sec.Added), len(sec.Changed))
	}
	if len(sec.Removed) != 1 || sec.Removed[0].Name.Display() != x.Display() {
		t.Fatalf("want one Removed /A/x, got %+v", sec.Removed)
	}
}

// A changed object: database /A/x has size=10, md5=M1; filesystem /A/x now 11
// bytes with md5=M2; expect one Changed /A/x with unequal = {size,
// md5} and invalid = ∅.
func TestIntegrityCheckChanged(t *testing.T) {
	f := newFixture(t)
	a := f.name("A")
	x := a.Push("x")
	mask := maskOf(f.bundle, genre.PropSize, genre.PropMD5)

	f.fs.mkdir("/A")
	f.fs.put("/A/x", "01234567890") // 11 bytes
	putDirFCO(t, f.database, f.bundle, a)
	putFCO(t, f.database, f.bundle, x, 0, func(fc *fco.FCO) {
		fc.Props.Set(genre.PropSize, propval.Int64(10))
		fc.Props.Set(genre.PropMD5, propval.Bytes(md5Hex(t, "0123456789")))
	})

	sl := f.specList(a, mask)
	checker := NewChecker(CheckOptions{Bundle: f.bundle, Calc: f.calc}, f.errs)
	rpt := checker.Run(sl, f.database, f.fsIter())

	sec := rpt.Sections[string(f.bundle.Genre)][0]
	if len(sec.Added) != 0 || len(sec.Removed) != 0 {
		t.Fatalf("want no added/removed, got added=%d removed=%d", len(sec.Added), len(sec.Removed))
	}
	if len(sec.Changed) != 1 {
		t.Fatalf("want one Changed, got %d", len(sec.Changed))
	}
	delta := sec.Deltas[x.Display()]
	if !delta.Changed.Contains(genre.PropSize) || !delta.Changed.Contains(genre.PropMD5) {
		t.Errorf("changed vector missing size/md5: %+v", delta.Changed)
	}
	if !delta.BecameInvalid.IsZero() {
		t.Errorf("want empty invalid vector, got %+v", delta.BecameInvalid)
	}
}

// An invalid property: rule asks for md5 on a symlink /A/y -> /z where /z does not
// exist; expect md5 undefined in the live FCO, and the comparison
// treats the property as invalid rather than unequal.
func TestIntegrityCheckInvalidProperty(t *testing.T) {
	f := newFixture(t)
	a := f.name("A")
	y := a.Push("y")
	mask := maskOf(f.bundle, genre.PropMD5)

	f.fs.mkdir("/A")
	f.fs.symlink("/A/y", "/z") // dangling: /z was never created
	putFCO(t, f.database, f.bundle, a, fco.CanHaveChildren, nil)
	putFCO(t, f.database, f.bundle, y, 0, func(fc *fco.FCO) {
		fc.Props.Set(genre.PropMD5, propval.Bytes("stale"))
	})

	sl := f.specList(a, mask)
	checker := NewChecker(CheckOptions{Bundle: f.bundle, Calc: f.calc}, f.errs)
	rpt := checker.Run(sl, f.database, f.fsIter())

	sec := rpt.Sections[string(f.bundle.Genre)][0]
	if len(sec.Changed) != 1 {
		t.Fatalf("want one Changed (invalid md5), got %d", len(sec.Changed))
	}
	delta := sec.Deltas[y.Display()]
	if delta.Changed.Contains(genre.PropMD5) {
		t.Errorf("md5 should be reported invalid, not unequal")
	}
	if !delta.BecameInvalid.Contains(genre.PropMD5) {
		t.Errorf("want md5 in became-invalid vector")
	}
}

// A stop point: rule {start=/A, stop={/A/skip}}; filesystem has /A/skip/deep;
// expect /A/skip/deep neither added, removed nor changed.
func TestIntegrityCheckStopPoint(t *testing.T) {
	f := newFixture(t)
	a := f.name("A")
	skip := a.Push("skip")
	mask := maskOf(f.bundle, genre.PropSize)

	f.fs.mkdir("/A")
	f.fs.mkdir("/A/skip")
	f.fs.put("/A/skip/deep", "data")
	putDirFCO(t, f.database, f.bundle, a)

	sl := f.specList(a, mask, skip)
	checker := NewChecker(CheckOptions{Bundle: f.bundle, Calc: f.calc}, f.errs)
	rpt := checker.Run(sl, f.database, f.fsIter())

	sec := rpt.Sections[string(f.bundle.Genre)][0]
	for _, added := range sec.Added {
		if added.Name.Relationship(skip) == pname.Equal || skip.Relationship(added.Name) == pname.Above {
			t.Errorf("stop-point descendant %s should not be reported Added", added.Name.Display())
		}
	}
}

// A one-sided property: the database has only size for /A/x, the rule
// asks for {size, md5}. The default comparison takes the union of the
// two valid vectors, so the md5 the live side measures but the stored
// record lacks is reported as became-invalid; under
// CompareValidPropsOnly (strict) it is excluded and nothing is
// reported.
func TestIntegrityCheckOneSidedPropertyDefaultVsStrict(t *testing.T) {
	f := newFixture(t)
	a := f.name("A")
	x := a.Push("x")
	mask := maskOf(f.bundle, genre.PropSize, genre.PropMD5)

	f.fs.mkdir("/A")
	f.fs.put("/A/x", "0123456789")
	putDirFCO(t, f.database, f.bundle, a)
	putFCO(t, f.database, f.bundle, x, 0, func(fc *fco.FCO) {
		fc.Props.Set(genre.PropSize, propval.Int64(10))
	})

	sl := f.specList(a, mask)

	checker := NewChecker(CheckOptions{Bundle: f.bundle, Calc: f.calc}, f.errs)
	rpt := checker.Run(sl, f.database, f.fsIter())
	sec := rpt.Sections[string(f.bundle.Genre)][0]
	if len(sec.Changed) != 1 {
		t.Fatalf("default check: want one Changed for the one-sided md5, got %d", len(sec.Changed))
	}
	delta := sec.Deltas[x.Display()]
	if !delta.BecameInvalid.Contains(genre.PropMD5) {
		t.Errorf("default check: want md5 in became-invalid vector, got %+v", delta.BecameInvalid)
	}
	if delta.Changed.Contains(genre.PropSize) {
		t.Errorf("default check: size is equal on both sides and should not be flagged")
	}

	strict := NewChecker(CheckOptions{Bundle: f.bundle, Calc: f.calc, Flags: CompareValidPropsOnly}, f.errs)
	rpt = strict.Run(sl, f.database, f.fsIter())
	sec = rpt.Sections[string(f.bundle.Genre)][0]
	if len(sec.Changed) != 0 {
		t.Fatalf("strict check: one-sided md5 should be excluded, got %d Changed", len(sec.Changed))
	}
}

// A loose directory: a directory's size differs between the database
// and the live tree. With LooseDirectory the genre's loose-dir mask is
// stripped from the comparison vector even though the rule's mask
// requests size, so the churn is not reported; without it the change
// is flagged as usual.
func TestIntegrityCheckLooseDirectory(t *testing.T) {
	f := newFixture(t)
	a := f.name("A")
	mask := maskOf(f.bundle, genre.PropSize)

	f.fs.mkdir("/A") // live size is 0
	putFCO(t, f.database, f.bundle, a, fco.CanHaveChildren, func(fc *fco.FCO) {
		fc.Props.Set(genre.PropSize, propval.Int64(5))
	})

	sl := f.specList(a, mask)

	checker := NewChecker(CheckOptions{Bundle: f.bundle, Calc: f.calc}, f.errs)
	rpt := checker.Run(sl, f.database, f.fsIter())
	sec := rpt.Sections[string(f.bundle.Genre)][0]
	if len(sec.Changed) != 1 {
		t.Fatalf("without LooseDirectory: want one Changed for the size churn, got %d", len(sec.Changed))
	}
	if !sec.Deltas[a.Display()].Changed.Contains(genre.PropSize) {
		t.Errorf("without LooseDirectory: want size in the changed vector")
	}

	loose := NewChecker(CheckOptions{Bundle: f.bundle, Calc: f.calc, LooseDirectory: true}, f.errs)
	rpt = loose.Run(sl, f.database, f.fsIter())
	sec = rpt.Sections[string(f.bundle.Genre)][0]
	if len(sec.Changed) != 0 {
		t.Fatalf("with LooseDirectory: directory size churn should be masked off, got %d Changed", len(sec.Changed))
	}
}

// A policy update: old rule requested {size}; new rule requests {size, md5};
// database /A/x has only size. After policy-update, /A/x in the
// database has both size and md5 valid; one Changed record is
// emitted with invalid-vector = {md5} pre-update.
func TestPolicyUpdateAddsMissingProperty(t *testing.T) {
	f := newFixture(t)
	a := f.name("A")
	x := a.Push("x")

	f.fs.mkdir("/A")
	f.fs.put("/A/x", "0123456789")
	putDirFCO(t, f.database, f.bundle, a)
	putFCO(t, f.database, f.bundle, x, 0, func(fc *fco.FCO) {
		fc.Props.Set(genre.PropSize, propval.Int64(10))
	})

	oldSpec := f.specList(a, maskOf(f.bundle, genre.PropSize))
	newSpec := f.specList(a, maskOf(f.bundle, genre.PropSize, genre.PropMD5))

	updater := NewPolicyUpdater(PolicyUpdateOptions{Bundle: f.bundle, Calc: f.calc}, f.errs)
	rpt, err := updater.Run(oldSpec, newSpec, f.database, f.fsIter())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	sec := rpt.Sections[string(f.bundle.Genre)][0]
	if len(sec.Changed) != 1 {
		t.Fatalf("want one Changed, got %d", len(sec.Changed))
	}
	delta := sec.Deltas[x.Display()]
	if !delta.BecameInvalid.Contains(genre.PropMD5) {
		t.Errorf("want md5 in pre-update invalid vector, got %+v", delta.BecameInvalid)
	}

	got, ok, err := f.database.Get(x)
	if err != nil || !ok {
		t.Fatalf("Get(/A/x) after update: ok=%v err=%v", ok, err)
	}
	if !got.Props.IsReadable(genre.PropSize) {
		t.Errorf("size should remain readable after policy-update")
	}
	if !got.Props.IsReadable(genre.PropMD5) {
		t.Errorf("md5 should now be readable after policy-update")
	}
	v, _ := got.Props.Get(genre.PropMD5)
	if string(v.(propval.Bytes)) != md5Hex(t, "0123456789") {
		t.Errorf("md5 = %x, want digest of current content", v)
	}
}

// TestBaselineGenerate exercises the baseline phase end to end: a
// fresh database populated from a two-level tree should contain every
// visited name with the rule's masked properties.
func TestBaselineGenerate(t *testing.T) {
	f := newFixture(t)
	a := f.name("A")
	mask := maskOf(f.bundle, genre.PropSize, genre.PropMD5)

	f.fs.mkdir("/A")
	f.fs.put("/A/x", "hello")
	f.fs.mkdir("/A/sub")
	f.fs.put("/A/sub/y", "world")

	sl := f.specList(a, mask)
	b := NewBaseliner(f.calc, f.errs, 1)
	if err := b.Generate(context.Background(), sl, f.fsIter, f.database); err != nil {
		t.Fatalf("Generate: %v", err)
	}

	for _, name := range []pname.Name{a, a.Push("x"), a.Push("sub"), a.Push("sub").Push("y")} {
		if ok, err := f.database.HasData(name); err != nil || !ok {
			t.Errorf("database missing %s after baseline (ok=%v err=%v)", name.Display(), ok, err)
		}
	}
	x, ok, err := f.database.Get(a.Push("x"))
	if err != nil || !ok {
		t.Fatalf("Get(/A/x): ok=%v err=%v", ok, err)
	}
	if !x.Props.IsReadable(genre.PropMD5) {
		t.Errorf("/A/x missing md5 after baseline")
	}
}

func md5Hex(t *testing.T, s string) string {
	t.Helper()
	sum := md5.Sum([]byte(s))
	return string(sum[:])
}

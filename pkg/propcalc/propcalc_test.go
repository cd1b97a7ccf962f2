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

package propcalc

import (
	"bytes"
	"crypto/md5"
	"io"
	"testing"
	"time"

	"sentrybase.org/pkg/errbucket"
	"sentrybase.org/pkg/fco"
	"sentrybase.org/pkg/genre"
	"sentrybase.org/pkg/hostfs"
	"sentrybase.org/pkg/pname"
	"sentrybase.org/pkg/propval"
	"sentrybase.org/pkg/propvector"
)

type memNode struct {
	isDir    bool
	content  []byte
	linkTo   string
	isSymlnk bool
}

type memFS struct {
	nodes map[string]memNode
}

func newMemFS() *memFS { return &memFS{nodes: map[string]memNode{}} }

func (m *memFS) put(p, data string)   { m.nodes[p] = memNode{content: []byte(data)} }
func (m *memFS) symlink(p, target string) {
	m.nodes[p] = memNode{isSymlnk: true, linkTo: target}
}

func (m *memFS) Stat(p string) (hostfs.Stat, error) {
	n, ok := m.nodes[p]
	if !ok {
		return hostfs.Stat{}, io.ErrUnexpectedEOF
	}
	ft := propval.FileTypeRegular
	switch {
	case n.isDir:
		ft = propval.FileTypeDirectory
	case n.isSymlnk:
		ft = propval.FileTypeSymlink
	}
	return hostfs.Stat{
		Size:     int64(len(n.content)),
		MTime:    time.Unix(100, 0),
		FileType: ft,
	}, nil
}

func (m *memFS) OpenRead(p string, directIO bool) (io.ReadCloser, error) {
	n, ok := m.nodes[p]
	if !ok || n.isSymlnk || n.isDir {
		return nil, io.ErrUnexpectedEOF
	}
	return io.NopCloser(bytes.NewReader(n.content)), nil
}

func (m *memFS) ReadLink(p string) (string, error) {
	n, ok := m.nodes[p]
	if !ok || !n.isSymlnk {
		return "", io.ErrUnexpectedEOF
	}
	return n.linkTo, nil
}

func (m *memFS) ReadDir(p string) ([]string, error) { return nil, nil }

func request(indices ...int) propvector.Vector {
	v := propvector.New(32)
	for _, i := range indices {
		v.Add(i)
	}
	return v
}

func TestCalculateHashesRegularFile(t *testing.T) {
	fs := newMemFS()
	fs.put("/A/x", "hello world")

	bundle := genre.FS()
	name := pname.Root(bundle.Delimiter, bundle.CaseSensitive).Push("A").Push("x")
	f := fco.New(name, 0, bundle.Schema)

	_, bucket := errbucket.NewRecorder()
	calc := New(fs, bundle, WithErrorBucket(bucket))

	req := request(genre.PropMD5, genre.PropSize)
	if err := calc.Calculate(f, req); err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	want := md5.Sum([]byte("hello world"))
	v, ok := f.Props.Get(genre.PropMD5)
	if !ok {
		t.Fatalf("md5 not set")
	}
	got := v.(propval.Bytes)
	if !bytes.Equal(got, want[:]) {
		t.Errorf("md5 = %x, want %x", got, want)
	}

	szVal, ok := f.Props.Get(genre.PropSize)
	if !ok {
		t.Fatalf("size not set")
	}
	if szVal.(propval.Int64) != 11 {
		t.Errorf("size = %v, want 11", szVal)
	}
}

func TestCalculateFollowsSymlinkTarget(t *testing.T) {
	fs := newMemFS()
	fs.put("/z", "target bytes")
	fs.symlink("/A/y", "/z")

	bundle := genre.FS()
	name := pname.Root(bundle.Delimiter, bundle.CaseSensitive).Push("A").Push("y")
	f := fco.New(name, 0, bundle.Schema)

	_, bucket := errbucket.NewRecorder()
	calc := New(fs, bundle, WithErrorBucket(bucket))

	req := request(genre.PropMD5)
	if err := calc.Calculate(f, req); err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	want := md5.Sum([]byte("target bytes"))
	v, ok := f.Props.Get(genre.PropMD5)
	if !ok {
		t.Fatalf("md5 not set")
	}
	if !bytes.Equal(v.(propval.Bytes), want[:]) {
		t.Errorf("md5 mismatch")
	}
}

func TestCalculateDanglingSymlinkLeavesPropertyUndefined(t *testing.T) {
	fs := newMemFS()
	fs.symlink("/A/y", "/z") // /z does not exist

	bundle := genre.FS()
	name := pname.Root(bundle.Delimiter, bundle.CaseSensitive).Push("A").Push("y")
	f := fco.New(name, 0, bundle.Schema)

	rec, bucket := errbucket.NewRecorder()
	calc := New(fs, bundle, WithErrorBucket(bucket))

	req := request(genre.PropMD5)
	if err := calc.Calculate(f, req); err != nil {
		t.Fatalf("Calculate: %v", err)
	}

	if f.Props.IsReadable(genre.PropMD5) {
		t.Errorf("md5 should be undefined for a dangling symlink target")
	}
	if len(rec.Errors) == 0 {
		t.Errorf("expected a reported error for the dangling target")
	}
}

func TestCalculateLeaveCollisionPolicySkipsAlreadyValid(t *testing.T) {
	fs := newMemFS()
	fs.put("/A/x", "hello world")

	bundle := genre.FS()
	name := pname.Root(bundle.Delimiter, bundle.CaseSensitive).Push("A").Push("x")
	f := fco.New(name, 0, bundle.Schema)
	f.Props.Set(genre.PropMD5, propval.Bytes("stale"))

	_, bucket := errbucket.NewRecorder()
	calc := New(fs, bundle, WithErrorBucket(bucket)) // default Leave

	if err := calc.Calculate(f, request(genre.PropMD5)); err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	v, _ := f.Props.Get(genre.PropMD5)
	if string(v.(propval.Bytes)) != "stale" {
		t.Errorf("Leave policy should not overwrite an already-valid property")
	}
}

func TestCalculateOverwriteCollisionPolicyRemeasures(t *testing.T) {
	fs := newMemFS()
	fs.put("/A/x", "hello world")

	bundle := genre.FS()
	name := pname.Root(bundle.Delimiter, bundle.CaseSensitive).Push("A").Push("x")
	f := fco.New(name, 0, bundle.Schema)
	f.Props.Set(genre.PropMD5, propval.Bytes("stale"))

	_, bucket := errbucket.NewRecorder()
	calc := New(fs, bundle, WithCollisionPolicy(Overwrite), WithErrorBucket(bucket))

	if err := calc.Calculate(f, request(genre.PropMD5)); err != nil {
		t.Fatalf("Calculate: %v", err)
	}
	want := md5.Sum([]byte("hello world"))
	v, _ := f.Props.Get(genre.PropMD5)
	if !bytes.Equal(v.(propval.Bytes), want[:]) {
		t.Errorf("Overwrite policy should re-measure the property")
	}
}

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

package datasource

import (
	"bytes"
	"io"
	"sort"
	"testing"
	"time"

	"sentrybase.org/pkg/genre"
	"sentrybase.org/pkg/hostfs"
	"sentrybase.org/pkg/pname"
	"sentrybase.org/pkg/propval"
)

// memNode and memFS are an in-memory hostfs.FS fixture for testing the
// filesystem iterator without touching the real filesystem.
type memNode struct {
	isDir   bool
	content []byte
}

type memFS struct {
	nodes map[string]memNode
}

func newMemFS() *memFS { return &memFS{nodes: map[string]memNode{"/": {isDir: true}}} }

func (m *memFS) mkdir(p string)            { m.nodes[p] = memNode{isDir: true} }
func (m *memFS) put(p string, data string) { m.nodes[p] = memNode{content: []byte(data)} }

func (m *memFS) Stat(p string) (hostfs.Stat, error) {
	n, ok := m.nodes[p]
	if !ok {
		return hostfs.Stat{}, io.ErrUnexpectedEOF
	}
	ft := propval.FileTypeRegular
	if n.isDir {
		ft = propval.FileTypeDirectory
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

func (m *memFS) ReadLink(p string) (string, error) { return "", io.ErrUnexpectedEOF }

func (m *memFS) ReadDir(p string) ([]string, error) {
	prefix := p
	if prefix != "/" {
		prefix += "/"
	} else {
		prefix = "/"
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

func TestFSIteratorWalksSortedTree(t *testing.T) {
	fs := newMemFS()
	fs.mkdir("/A")
	fs.put("/A/b", "hello")
	fs.put("/A/a", "world!!!")
	fs.mkdir("/A/c")

	bundle := genre.FS()
	root := pname.Root(bundle.Delimiter, bundle.CaseSensitive)
	a := root.Push("A")

	it := NewFSIterator(fs, bundle, 0)
	if err := it.SeekTo(a); err != nil {
		t.Fatalf("SeekTo(/A): %v", err)
	}
	f, err := it.CreateFCO()
	if err != nil {
		t.Fatalf("CreateFCO: %v", err)
	}
	if !f.CanHaveChildren() {
		t.Fatalf("/A should report CanHaveChildren")
	}

	can, err := it.CanDescend()
	if err != nil || !can {
		t.Fatalf("CanDescend(/A) = %v, %v; want true, nil", can, err)
	}
	if err := it.Descend(); err != nil {
		t.Fatalf("Descend: %v", err)
	}

	var got []string
	for !it.Done() {
		got = append(got, it.ShortName())
		if err := it.Next(); err != nil {
			t.Fatalf("Next: %v", err)
		}
	}
	want := []string{"a", "b", "c"}
	if len(got) != len(want) {
		t.Fatalf("walked %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("child %d = %q, want %q", i, got[i], want[i])
		}
	}

	if err := it.Ascend(); err != nil {
		t.Fatalf("Ascend: %v", err)
	}
	if it.ShortName() != "A" {
		t.Fatalf("after Ascend, ShortName() = %q, want A", it.ShortName())
	}
}

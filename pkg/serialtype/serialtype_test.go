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

package serialtype

import (
	"bytes"
	"encoding/binary"
	"io"
	"testing"
)

type point struct {
	x, y int32
}

func (p *point) Version() int32 { return 1 }

func (p *point) WriteBody(w io.Writer) error {
	var buf [8]byte
	binary.LittleEndian.PutUint32(buf[0:4], uint32(p.x))
	binary.LittleEndian.PutUint32(buf[4:8], uint32(p.y))
	_, err := w.Write(buf[:])
	return err
}

func (p *point) ReadBody(r io.Reader, version int32) error {
	if version != 1 {
		return io.ErrUnexpectedEOF
	}
	var buf [8]byte
	if _, err := io.ReadFull(r, buf[:]); err != nil {
		return err
	}
	p.x = int32(binary.LittleEndian.Uint32(buf[0:4]))
	p.y = int32(binary.LittleEndian.Uint32(buf[4:8]))
	return nil
}

func newPoint() Decodable { return &point{} }

func TestByValueRoundTrip(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterByValue("sentrybase.point", newPoint)

	var buf bytes.Buffer
	sw := NewWriter(&buf, reg)
	if err := sw.WriteByValue("sentrybase.point", &point{x: 3, y: 4}); err != nil {
		t.Fatalf("WriteByValue: %v", err)
	}

	sr := NewReader(&buf, reg)
	obj, err := sr.ReadOne()
	if err != nil {
		t.Fatalf("ReadOne: %v", err)
	}
	got := obj.(*point)
	if got.x != 3 || got.y != 4 {
		t.Errorf("got %+v, want {3 4}", got)
	}
}

func TestRefCountedInterning(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterRefCounted("sentrybase.point", newPoint)

	shared := &point{x: 7, y: 9}
	var buf bytes.Buffer
	sw := NewWriter(&buf, reg)
	if err := sw.WriteRefCounted("sentrybase.point", shared, shared); err != nil {
		t.Fatalf("first WriteRefCounted: %v", err)
	}
	if err := sw.WriteRefCounted("sentrybase.point", shared, shared); err != nil {
		t.Fatalf("second WriteRefCounted: %v", err)
	}

	sr := NewReader(&buf, reg)
	first, err := sr.ReadOne()
	if err != nil {
		t.Fatalf("ReadOne first: %v", err)
	}
	second, err := sr.ReadOne()
	if err != nil {
		t.Fatalf("ReadOne second: %v", err)
	}
	if first != second {
		t.Errorf("expected the same interned instance to be returned for the repeated reference")
	}
	if first.(*point).x != 7 {
		t.Errorf("x = %d, want 7", first.(*point).x)
	}
}

func TestUnknownTypeIsAnError(t *testing.T) {
	reg := NewRegistry()
	reg.RegisterByValue("sentrybase.point", newPoint)

	other := NewRegistry()
	var buf bytes.Buffer
	sw := NewWriter(&buf, reg)
	if err := sw.WriteByValue("sentrybase.point", &point{}); err != nil {
		t.Fatalf("WriteByValue: %v", err)
	}

	sr := NewReader(&buf, other)
	if _, err := sr.ReadOne(); err == nil {
		t.Fatalf("expected an unknown-type error reading against an empty registry")
	}
}

func TestDuplicateRegistrationPanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected a panic on duplicate registration")
		}
	}()
	reg := NewRegistry()
	reg.RegisterByValue("sentrybase.point", newPoint)
	reg.RegisterByValue("sentrybase.point", newPoint)
}

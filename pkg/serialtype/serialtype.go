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

// Package serialtype implements the typed object stream a report is
// written through: a type-id
// registry keyed by a stable 32-bit hash of the canonical type name,
// versioned per-object read/write, and reference-counted interning so
// an object shared by several referrers is written once per stream.
//
// Type identity is a stable content-derived identifier (the CRC32 of
// the canonical type name) rather than a live pointer, so readers and
// writers built at different times agree on it.
package serialtype

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
	"io"

	"sentrybase.org/pkg/camerrors"
)

// TypeID is the stable 32-bit identifier for a registered type: the
// IEEE CRC32 of its canonical name.
type TypeID uint32

// TypeIDOf computes the type id for a canonical type name. Registries
// call this once at registration time; callers never need to.
func TypeIDOf(name string) TypeID {
	return TypeID(crc32.ChecksumIEEE([]byte(name)))
}

// Encodable is implemented by every object the serializer can write.
// Version lets Read dispatch to the correct decode path when the
// on-disk format for a type changes across major versions.
type Encodable interface {
	Version() int32
	WriteBody(w io.Writer) error
}

// ByValueFactory creates a fresh zero object to decode into, for types
// that are never shared across references in a single stream.
type ByValueFactory func() Decodable

// RefCountedFactory is like ByValueFactory but for types the registry
// additionally interns: the first encounter is written in full, every
// later reference to the same live object is written as a bare index.
type RefCountedFactory func() Decodable

// Decodable is implemented by every object the serializer can read.
// ReadBody must consume exactly the bytes WriteBody produced for the
// declared version.
type Decodable interface {
	ReadBody(r io.Reader, version int32) error
}

// Registry is the process-wide type table: two creation registries
// (by-value and reference-counted) keyed by TypeID. Registration is a
// constant-time insertion with a duplicate check that fails fast;
// a driver assembles its registry once at startup.
type Registry struct {
	byValue    map[TypeID]ByValueFactory
	refCounted map[TypeID]RefCountedFactory
	names      map[TypeID]string
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		byValue:    make(map[TypeID]ByValueFactory),
		refCounted: make(map[TypeID]RefCountedFactory),
		names:      make(map[TypeID]string),
	}
}

// RegisterByValue registers name's canonical type under the by-value
// discipline. It panics on a duplicate registration: this is
// constructor-time wiring, a programmer error, not a runtime
// condition the caller can usefully recover from.
func (r *Registry) RegisterByValue(name string, factory ByValueFactory) TypeID {
	id := TypeIDOf(name)
	if _, dup := r.names[id]; dup {
		panic(fmt.Sprintf("serialtype: duplicate registration for type %q", name))
	}
	r.byValue[id] = factory
	r.names[id] = name
	return id
}

// RegisterRefCounted registers name's canonical type under the
// reference-counted discipline.
func (r *Registry) RegisterRefCounted(name string, factory RefCountedFactory) TypeID {
	id := TypeIDOf(name)
	if _, dup := r.names[id]; dup {
		panic(fmt.Sprintf("serialtype: duplicate registration for type %q", name))
	}
	r.refCounted[id] = factory
	r.names[id] = name
	return id
}

// NameOf returns the canonical name registered under id, or "".
func (r *Registry) NameOf(id TypeID) string { return r.names[id] }

// Writer writes a stream of typed objects against a Registry,
// interning reference-counted objects by identity (pointer equality)
// as they are first seen.
type Writer struct {
	w        io.Writer
	reg      *Registry
	interned map[any]int32
	next     int32
}

// NewWriter returns a Writer that serializes objects to w using reg's
// type ids.
func NewWriter(w io.Writer, reg *Registry) *Writer {
	return &Writer{w: w, reg: reg, interned: make(map[any]int32)}
}

// WriteByValue writes obj as a fresh, non-interned instance of the
// type registered under name.
func (sw *Writer) WriteByValue(name string, obj Encodable) error {
	return sw.writeFrame(TypeIDOf(name), obj, -1)
}

// WriteRefCounted writes obj under name's reference-counted type. If
// an identical Go value (by pointer identity, hashable via the any
// key) has already been written in this stream, only its reference
// index is emitted; otherwise the full body is written and the object
// is interned for subsequent references.
func (sw *Writer) WriteRefCounted(name string, key any, obj Encodable) error {
	if idx, ok := sw.interned[key]; ok {
		return sw.writeFrame(TypeIDOf(name), nil, idx)
	}
	idx := sw.next
	sw.next++
	sw.interned[key] = idx
	return sw.writeFrame(TypeIDOf(name), obj, idx)
}

// writeFrame emits type_id(u32), version(i32), size_placeholder(i32),
// ref_index(i32), payload. obj == nil means "emit a
// reference to an already-interned object": the payload is empty and
// the reader must resolve ref_index itself instead of decoding a body.
func (sw *Writer) writeFrame(id TypeID, obj Encodable, refIndex int32) error {
	var body []byte
	var version int32
	if obj != nil {
		version = obj.Version()
		bw := &byteCollector{}
		if err := obj.WriteBody(bw); err != nil {
			return fmt.Errorf("serialtype: writing body for type %#x: %w", id, err)
		}
		body = bw.buf
	}
	var hdr [16]byte
	binary.LittleEndian.PutUint32(hdr[0:4], uint32(id))
	binary.LittleEndian.PutUint32(hdr[4:8], uint32(version))
	binary.LittleEndian.PutUint32(hdr[8:12], uint32(len(body)))
	binary.LittleEndian.PutUint32(hdr[12:16], uint32(refIndex))
	if _, err := sw.w.Write(hdr[:]); err != nil {
		return err
	}
	if len(body) > 0 {
		if _, err := sw.w.Write(body); err != nil {
			return err
		}
	}
	return nil
}

type byteCollector struct{ buf []byte }

func (b *byteCollector) Write(p []byte) (int, error) {
	b.buf = append(b.buf, p...)
	return len(p), nil
}

// Reader reads a stream of typed objects previously written by
// Writer, resolving reference-counted objects back to the same
// Decodable instance by ref_index.
type Reader struct {
	r        io.Reader
	reg      *Registry
	interned map[int32]Decodable
}

// NewReader returns a Reader over r using reg's type ids.
func NewReader(r io.Reader, reg *Registry) *Reader {
	return &Reader{r: r, reg: reg, interned: make(map[int32]Decodable)}
}

// ErrUnknownType is returned when a frame's type id has no registered
// factory.
var ErrUnknownType = camerrors.ErrSerializerUnknownType

// ReadOne reads the next frame and returns the decoded object. For a
// reference-counted frame whose ref_index was already seen, the
// previously decoded instance is returned without reading a body.
func (sr *Reader) ReadOne() (Decodable, error) {
	var hdr [16]byte
	if _, err := io.ReadFull(sr.r, hdr[:]); err != nil {
		return nil, err
	}
	id := TypeID(binary.LittleEndian.Uint32(hdr[0:4]))
	version := int32(binary.LittleEndian.Uint32(hdr[4:8]))
	size := binary.LittleEndian.Uint32(hdr[8:12])
	refIndex := int32(binary.LittleEndian.Uint32(hdr[12:16]))

	if refIndex >= 0 {
		if obj, ok := sr.interned[refIndex]; ok && size == 0 {
			return obj, nil
		}
	}

	body := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(sr.r, body); err != nil {
			return nil, fmt.Errorf("serialtype: reading body for type %#x: %w", id, err)
		}
	}

	var obj Decodable
	if factory, ok := sr.reg.byValue[id]; ok {
		obj = factory()
	} else if factory, ok := sr.reg.refCounted[id]; ok {
		obj = factory()
	} else {
		return nil, fmt.Errorf("%w: %#x", ErrUnknownType, id)
	}
	if err := obj.ReadBody(newByteReader(body), version); err != nil {
		return nil, fmt.Errorf("%w: decoding type %#x: %w", camerrors.ErrSerializerStreamFormat, id, err)
	}
	if refIndex >= 0 {
		sr.interned[refIndex] = obj
	}
	return obj, nil
}

func newByteReader(b []byte) io.Reader { return &byteReader{buf: b} }

type byteReader struct {
	buf []byte
	pos int
}

func (b *byteReader) Read(p []byte) (int, error) {
	if b.pos >= len(b.buf) {
		return 0, io.EOF
	}
	n := copy(p, b.buf[b.pos:])
	b.pos += n
	return n, nil
}

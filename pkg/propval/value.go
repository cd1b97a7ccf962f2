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

// Package propval implements the tagged property-value variant that a
// property set stores one of per measured attribute: integers, a
// file-type enum, byte-string digests, and strings. Every value
// implements rendering, typed comparison, and same-type copy.
package propval

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Kind identifies a value's concrete representation. It is the type
// discriminator written ahead of every serialized value.
type Kind uint8

const (
	KindInt32    Kind = iota // a plain 32-bit integer property (e.g. uid, gid)
	KindInt64                // a 64-bit integer property (e.g. size, timestamps)
	KindFileType             // the small file-type enum
	KindBytes                // a byte-string, typically a hash digest
	KindString               // a display string
)

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFileType:
		return "filetype"
	case KindBytes:
		return "bytes"
	case KindString:
		return "string"
	default:
		return fmt.Sprintf("propval.Kind(%d)", uint8(k))
	}
}

// Compare is the three-and-a-half-valued result of comparing two
// values: equal, unequal, type mismatch, or no comparison defined.
type Compare int

const (
	CompareTrue Compare = iota
	CompareFalse
	CompareWrongType
	CompareUnsupported
)

// Value is a single typed property measurement.
type Value interface {
	Kind() Kind
	// String renders the value for display, independent of its raw
	// on-disk form.
	String() string
	// Compare reports whether v equals other. A Kind mismatch always
	// yields CompareWrongType, never CompareFalse.
	Compare(other Value) Compare
	writeTo(w io.Writer) error
}

// Copy returns an independent value holding the same contents as src.
// Values are immutable once constructed (mirroring pname.Name), so
// copying is expressed as a constructor rather than a mutating
// method; the property-set layer rejects cross-genre copies before a
// value ever changes hands.
func Copy(src Value) Value {
	switch v := src.(type) {
	case Int32:
		return v
	case Int64:
		return v
	case FileTypeValue:
		return v
	case Bytes:
		cp := make(Bytes, len(v))
		copy(cp, v)
		return cp
	case String:
		return v
	default:
		return nil
	}
}

// SameKind reports whether a and b have the same concrete Kind.
func SameKind(a, b Value) bool {
	return a.Kind() == b.Kind()
}

// FileType enumerates the small set of object kinds the core
// distinguishes at the stat layer.
type FileType uint8

const (
	FileTypeRegular FileType = iota
	FileTypeDirectory
	FileTypeSymlink
	FileTypeDevice
	FileTypeFIFO
	FileTypeSocket
	FileTypeUnknown
)

func (t FileType) String() string {
	switch t {
	case FileTypeRegular:
		return "regular"
	case FileTypeDirectory:
		return "directory"
	case FileTypeSymlink:
		return "symlink"
	case FileTypeDevice:
		return "device"
	case FileTypeFIFO:
		return "fifo"
	case FileTypeSocket:
		return "socket"
	default:
		return "unknown"
	}
}

type Int32 int32

func (v Int32) Kind() Kind { return KindInt32 }
func (v Int32) String() string { return fmt.Sprintf("%d", int32(v)) }
func (v Int32) Compare(other Value) Compare {
	o, ok := other.(Int32)
	if !ok {
		return CompareWrongType
	}
	if v == o {
		return CompareTrue
	}
	return CompareFalse
}
func (v Int32) writeTo(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, int32(v))
}

type Int64 int64

func (v Int64) Kind() Kind { return KindInt64 }
func (v Int64) String() string { return fmt.Sprintf("%d", int64(v)) }
func (v Int64) Compare(other Value) Compare {
	o, ok := other.(Int64)
	if !ok {
		return CompareWrongType
	}
	if v == o {
		return CompareTrue
	}
	return CompareFalse
}
func (v Int64) writeTo(w io.Writer) error {
	return binary.Write(w, binary.LittleEndian, int64(v))
}

type FileTypeValue struct{ T FileType }

func (v FileTypeValue) Kind() Kind    { return KindFileType }
func (v FileTypeValue) String() string { return v.T.String() }
func (v FileTypeValue) Compare(other Value) Compare {
	o, ok := other.(FileTypeValue)
	if !ok {
		return CompareWrongType
	}
	if v.T == o.T {
		return CompareTrue
	}
	return CompareFalse
}
func (v FileTypeValue) writeTo(w io.Writer) error {
	_, err := w.Write([]byte{byte(v.T)})
	return err
}

// Bytes holds a byte-string value, typically a hash digest. Two Bytes
// values of different lengths compare CompareFalse, not
// CompareWrongType: length is a value difference within the same
// kind, not a type mismatch.
type Bytes []byte

func (v Bytes) Kind() Kind { return KindBytes }
func (v Bytes) String() string { return fmt.Sprintf("%x", []byte(v)) }
func (v Bytes) Compare(other Value) Compare {
	o, ok := other.(Bytes)
	if !ok {
		return CompareWrongType
	}
	if len(v) != len(o) {
		return CompareFalse
	}
	for i := range v {
		if v[i] != o[i] {
			return CompareFalse
		}
	}
	return CompareTrue
}
func (v Bytes) writeTo(w io.Writer) error {
	if err := binary.Write(w, binary.LittleEndian, uint32(len(v))); err != nil {
		return err
	}
	_, err := w.Write(v)
	return err
}

type String string

func (v String) Kind() Kind { return KindString }
func (v String) String() string { return string(v) }
func (v String) Compare(other Value) Compare {
	o, ok := other.(String)
	if !ok {
		return CompareWrongType
	}
	if v == o {
		return CompareTrue
	}
	return CompareFalse
}
func (v String) writeTo(w io.Writer) error {
	b := []byte(v)
	if err := binary.Write(w, binary.LittleEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

// WriteTagged writes a value preceded by its Kind discriminator, per
// the property-set serialization format.
func WriteTagged(w io.Writer, v Value) error {
	if _, err := w.Write([]byte{byte(v.Kind())}); err != nil {
		return err
	}
	return v.writeTo(w)
}

// ReadTagged reads a Kind discriminator followed by the value it
// introduces, constructing the matching concrete type.
func ReadTagged(r io.Reader) (Value, error) {
	var kindByte [1]byte
	if _, err := io.ReadFull(r, kindByte[:]); err != nil {
		return nil, fmt.Errorf("propval: reading kind: %w", err)
	}
	switch Kind(kindByte[0]) {
	case KindInt32:
		var i int32
		if err := binary.Read(r, binary.LittleEndian, &i); err != nil {
			return nil, err
		}
		return Int32(i), nil
	case KindInt64:
		var i int64
		if err := binary.Read(r, binary.LittleEndian, &i); err != nil {
			return nil, err
		}
		return Int64(i), nil
	case KindFileType:
		var b [1]byte
		if _, err := io.ReadFull(r, b[:]); err != nil {
			return nil, err
		}
		return FileTypeValue{T: FileType(b[0])}, nil
	case KindBytes:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return Bytes(buf), nil
	case KindString:
		var n uint32
		if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
			return nil, err
		}
		buf := make([]byte, n)
		if _, err := io.ReadFull(r, buf); err != nil {
			return nil, err
		}
		return String(buf), nil
	default:
		return nil, fmt.Errorf("propval: unknown kind discriminator %d", kindByte[0])
	}
}

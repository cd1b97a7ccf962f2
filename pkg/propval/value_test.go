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

package propval

import (
	"bytes"
	"testing"
)

func TestCompare(t *testing.T) {
	tests := []struct {
		name string
		a, b Value
		want Compare
	}{
		{"int32 equal", Int32(5), Int32(5), CompareTrue},
		{"int32 unequal", Int32(5), Int32(6), CompareFalse},
		{"wrong type", Int32(5), Int64(5), CompareWrongType},
		{"bytes equal", Bytes("abc"), Bytes("abc"), CompareTrue},
		{"bytes unequal length", Bytes("abc"), Bytes("abcd"), CompareFalse},
		{"filetype equal", FileTypeValue{FileTypeRegular}, FileTypeValue{FileTypeRegular}, CompareTrue},
		{"filetype unequal", FileTypeValue{FileTypeRegular}, FileTypeValue{FileTypeSymlink}, CompareFalse},
		{"string equal", String("x"), String("x"), CompareTrue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.a.Compare(tt.b); got != tt.want {
				t.Errorf("Compare() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestCopyIsIndependent(t *testing.T) {
	src := Bytes([]byte{1, 2, 3})
	cp := Copy(src).(Bytes)
	cp[0] = 9
	if src[0] != 1 {
		t.Fatalf("Copy shared backing array with source")
	}
}

func TestTaggedRoundTrip(t *testing.T) {
	values := []Value{
		Int32(-7),
		Int64(1 << 40),
		FileTypeValue{FileTypeSymlink},
		Bytes([]byte("digest-bytes")),
		String("hello"),
	}
	for _, v := range values {
		var buf bytes.Buffer
		if err := WriteTagged(&buf, v); err != nil {
			t.Fatalf("WriteTagged(%v): %v", v, err)
		}
		got, err := ReadTagged(&buf)
		if err != nil {
			t.Fatalf("ReadTagged: %v", err)
		}
		if got.Compare(v) != CompareTrue {
			t.Errorf("round trip mismatch: got %v (%s), want %v (%s)", got, got.Kind(), v, v.Kind())
		}
	}
}

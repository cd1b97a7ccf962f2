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

// Package hashutil drives several hash sinks from one content read, so
// a caller that wants multiple digests of the same object streams its
// bytes exactly once.
package hashutil

import (
	"hash"
	"io"
)

// DigestSet accumulates any number of keyed hash sinks and fills them
// all from a single streaming pass.
type DigestSet struct {
	keys  []int
	sinks []hash.Hash
}

// Add registers h under key. Keys are opaque to this package; callers
// use property indices.
func (s *DigestSet) Add(key int, h hash.Hash) {
	s.keys = append(s.keys, key)
	s.sinks = append(s.sinks, h)
}

// Empty reports whether no sinks have been registered.
func (s *DigestSet) Empty() bool { return len(s.sinks) == 0 }

// Keys returns the registered keys in registration order.
func (s *DigestSet) Keys() []int { return s.keys }

// ReadFrom streams r to completion, feeding every registered sink.
func (s *DigestSet) ReadFrom(r io.Reader) (int64, error) {
	ws := make([]io.Writer, len(s.sinks))
	for i, h := range s.sinks {
		ws[i] = h
	}
	return io.Copy(io.MultiWriter(ws...), r)
}

// Sums returns each registered sink's final digest, keyed as added.
// Call only after ReadFrom has returned without error.
func (s *DigestSet) Sums() map[int][]byte {
	out := make(map[int][]byte, len(s.sinks))
	for i, h := range s.sinks {
		out[s.keys[i]] = h.Sum(nil)
	}
	return out
}

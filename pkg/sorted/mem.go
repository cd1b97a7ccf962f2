/*
Copyright 2011 The Sentrybase Authors.

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

package sorted

import (
	"sort"
	"sync"

	"go4.org/jsonconfig"
)

// NewMemoryKeyValue returns a KeyValue implementation that's backed only
// by memory. It's mostly useful for tests and development.
func NewMemoryKeyValue() KeyValue {
	return &memKeys{rows: make(map[string]string)}
}

// memKeys is a naive in-memory implementation of KeyValue for test &
// development purposes only: every Find re-sorts the full key set,
// which is fine at the scale a test fixture or a small policy-driven
// scan needs and never the backend a real baseline runs against.
type memKeys struct {
	mu   sync.Mutex
	rows map[string]string
}

type memIter struct {
	keys []string
	vals map[string]string
	pos  int
}

func (it *memIter) Next() bool {
	it.pos++
	return it.pos < len(it.keys)
}

func (it *memIter) Key() string   { return it.keys[it.pos] }
func (it *memIter) Value() string { return it.vals[it.keys[it.pos]] }
func (it *memIter) Close() error  { return nil }

func (mk *memKeys) Get(key string) (string, error) {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	v, ok := mk.rows[key]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (mk *memKeys) Find(start, end string) Iterator {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	keys := make([]string, 0, len(mk.rows))
	for k := range mk.rows {
		if k < start {
			continue
		}
		if end != "" && k >= end {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	vals := make(map[string]string, len(keys))
	for _, k := range keys {
		vals[k] = mk.rows[k]
	}
	return &memIter{keys: keys, vals: vals, pos: -1}
}

func (mk *memKeys) Set(key, value string) error {
	if err := CheckSizes(key, value); err != nil {
		return err
	}
	mk.mu.Lock()
	defer mk.mu.Unlock()
	mk.rows[key] = value
	return nil
}

func (mk *memKeys) Delete(key string) error {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	delete(mk.rows, key)
	return nil
}

func (mk *memKeys) BeginBatch() BatchMutation {
	return &batch{}
}

func (mk *memKeys) CommitBatch(bm BatchMutation) error {
	b, ok := bm.(*batch)
	if !ok {
		return errInvalidBatch
	}
	mk.mu.Lock()
	defer mk.mu.Unlock()
	for _, m := range b.Mutations() {
		if m.IsDelete() {
			delete(mk.rows, m.Key())
			continue
		}
		if err := CheckSizes(m.Key(), m.Value()); err != nil {
			return err
		}
		mk.rows[m.Key()] = m.Value()
	}
	return nil
}

func (mk *memKeys) Close() error { return nil }

func (mk *memKeys) Wipe() error {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	mk.rows = make(map[string]string)
	return nil
}

var _ Wiper = (*memKeys)(nil)

func init() {
	RegisterKeyValue("memory", func(cfg jsonconfig.Obj) (KeyValue, error) {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
		return NewMemoryKeyValue(), nil
	})
}

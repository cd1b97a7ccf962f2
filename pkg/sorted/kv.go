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

// Package sorted provides a KeyValue interface and constructor registry.
// The database package builds its block store on top of a KeyValue
// implementation rather than talking to goleveldb directly, keeping
// the store swappable between memory, leveldb, and other backends.
package sorted

import (
	"errors"
	"fmt"

	"go4.org/jsonconfig"
)

var ErrNotFound = errors.New("sorted: key not found")

// Key and value sizes are capped: generously for this domain's
// digest-and-small-record values, but
// bounded so a corrupt or adversarial write can't grow a single
// leveldb value without limit.
const (
	MaxKeySize   = 1 << 16
	MaxValueSize = 1 << 20
)

var (
	ErrKeyTooLarge   = errors.New("sorted: key too large")
	ErrValueTooLarge = errors.New("sorted: value too large")
)

var errInvalidBatch = errors.New("sorted: invalid batch type; not an instance returned by BeginBatch")

// CheckSizes validates that key and value fit within the backend's
// documented limits before a Set or batched Set is attempted.
func CheckSizes(key, value string) error {
	if len(key) > MaxKeySize {
		return ErrKeyTooLarge
	}
	if len(value) > MaxValueSize {
		return ErrValueTooLarge
	}
	return nil
}

// KeyValue is a sorted, enumerable key-value interface supporting
// batch mutations.
type KeyValue interface {
	// Get gets the value for the given key. It returns ErrNotFound if the DB
	// does not contain the key.
	Get(key string) (string, error)

	Set(key, value string) error
	Delete(key string) error

	BeginBatch() BatchMutation
	CommitBatch(b BatchMutation) error

	// Find returns an iterator over all key/value pairs with start <=
	// key < end. An empty end means no upper bound.
	Find(start, end string) Iterator

	// Close is a polite way for the server to shut down the storage.
	// Implementations should never lose data after a Set, Delete,
	// or CommitBatch, though.
	Close() error
}

// Wiper is implemented by KeyValue backends that can discard all of
// their data and start fresh, used by the database's ResetAll.
type Wiper interface {
	Wipe() error
}

// Iterator iterates over an index KeyValue's key/value pairs in key order.
//
// An iterator must be closed after use, but it is not necessary to read an
// iterator until exhaustion.
type Iterator interface {
	// Next moves the iterator to the next key/value pair.
	// It returns false when the iterator is exhausted.
	Next() bool

	// Key returns the key of the current key/value pair.
	// Only valid after a call to Next returns true.
	Key() string

	// Value returns the value of the current key/value pair.
	// Only valid after a call to Next returns true.
	Value() string

	// Close closes the iterator and returns any accumulated error.
	// Exhausting all the key/value pairs is not considered an error.
	Close() error
}

type BatchMutation interface {
	Set(key, value string)
	Delete(key string)
}

type Mutation interface {
	Key() string
	Value() string
	IsDelete() bool
}

type mutation struct {
	key    string
	value  string // used if !delete
	delete bool   // if to be deleted
}

func (m mutation) Key() string   { return m.key }
func (m mutation) Value() string { return m.value }
func (m mutation) IsDelete() bool { return m.delete }

func NewBatchMutation() BatchMutation {
	return &batch{}
}

type batch struct {
	m []Mutation
}

func (b *batch) Mutations() []Mutation { return b.m }

func (b *batch) Delete(key string) {
	b.m = append(b.m, mutation{key: key, delete: true})
}

func (b *batch) Set(key, value string) {
	b.m = append(b.m, mutation{key: key, value: value})
}

var ctors = make(map[string]func(jsonconfig.Obj) (KeyValue, error))

// RegisterKeyValue registers a KeyValue constructor under typ, so the
// configuration layer can select a backend by name.
func RegisterKeyValue(typ string, fn func(jsonconfig.Obj) (KeyValue, error)) {
	if typ == "" || fn == nil {
		panic("sorted: zero type or nil constructor")
	}
	if _, dup := ctors[typ]; dup {
		panic("sorted: duplicate registration of type " + typ)
	}
	ctors[typ] = fn
}

func NewKeyValue(cfg jsonconfig.Obj) (KeyValue, error) {
	typ := cfg.RequiredString("type")
	ctor, ok := ctors[typ]
	if typ != "" && !ok {
		return nil, fmt.Errorf("sorted: unknown key-value storage type %q", typ)
	}
	var kv KeyValue
	var err error
	if ok {
		kv, err = ctor(cfg)
		if err != nil {
			return nil, err
		}
	}
	return kv, cfg.Validate()
}

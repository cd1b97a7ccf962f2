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

// Package db implements the hierarchical, persistent store the
// pipeline writes a baseline into and later compares against: every
// node is recorded under its canonical name, keyed so that a range
// scan over one prefix yields exactly that name's immediate children.
// A sorted.KeyValue backend (leveldb or memory) stands in for a
// hand-rolled paged block file and free list: the database itself
// never speaks block format, it composes a KeyValue whose write-ahead
// log provides the fully-updated-or-last-committed guarantee.
package db

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"sentrybase.org/pkg/camerrors"
	"sentrybase.org/pkg/fco"
	"sentrybase.org/pkg/genre"
	"sentrybase.org/pkg/pname"
	"sentrybase.org/pkg/propset"
	"sentrybase.org/pkg/sorted"
)

// ErrGenreMismatch is returned by Open when the database already
// contains records for a different genre than bundle names: genre and
// delimiter are fixed at database creation, per the component design.
var ErrGenreMismatch = errors.New("db: genre does not match database contents")

const genreMetaKey = "\x00genre"

// Database is the persistent, hierarchical store of FCOs for one
// genre, backed by a sorted.KeyValue.
type Database struct {
	kv     sorted.KeyValue
	bundle *genre.Bundle
}

// Open binds a Database to an existing (or empty) KeyValue store for
// bundle's genre, checking the stored genre tag matches if the store
// is not empty.
func Open(kv sorted.KeyValue, bundle *genre.Bundle) (*Database, error) {
	stored, err := kv.Get(genreMetaKey)
	if err == sorted.ErrNotFound {
		if err := kv.Set(genreMetaKey, string(bundle.Genre)); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	} else if stored != string(bundle.Genre) {
		return nil, ErrGenreMismatch
	}
	return &Database{kv: kv, bundle: bundle}, nil
}

func (d *Database) key(name pname.Name) string { return name.Raw() }

// encodeRecord serializes an FCO's capability bits and property set
// into the database's stored record format.
func encodeRecord(f *fco.FCO) (string, error) {
	var buf bytes.Buffer
	var caps [4]byte
	binary.LittleEndian.PutUint32(caps[:], uint32(f.Caps))
	buf.Write(caps[:])
	if _, err := f.Props.WriteTo(&buf); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func decodeRecord(schema *propset.Schema, raw string) (fco.Capabilities, *propset.Set, error) {
	r := bytes.NewReader([]byte(raw))
	var capsBuf [4]byte
	if _, err := io.ReadFull(r, capsBuf[:]); err != nil {
		return 0, nil, fmt.Errorf("db: reading capabilities: %w", err)
	}
	caps := fco.Capabilities(binary.LittleEndian.Uint32(capsBuf[:]))
	props, err := propset.ReadFrom(schema, r)
	if err != nil {
		return 0, nil, fmt.Errorf("db: reading property set: %w", err)
	}
	return caps, props, nil
}

// Put writes f into the database under its own name, replacing any
// prior record there. It does not create intermediate parent records:
// the baseline generator is responsible for visiting ancestors before
// descendants, matching the filesystem iterator's own traversal order.
func (d *Database) Put(f *fco.FCO) error {
	rec, err := encodeRecord(f)
	if err != nil {
		return err
	}
	return d.kv.Set(d.key(f.Name), rec)
}

// Get reads the FCO stored at name. ok is false if no record exists.
func (d *Database) Get(name pname.Name) (f *fco.FCO, ok bool, err error) {
	raw, err := d.kv.Get(d.key(name))
	if err == sorted.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	caps, props, err := decodeRecord(d.bundle.Schema, raw)
	if err != nil {
		return nil, false, err
	}
	return &fco.FCO{Name: name, Caps: caps, Props: props}, true, nil
}

// Delete removes the record at name, if any.
func (d *Database) Delete(name pname.Name) error {
	return d.kv.Delete(d.key(name))
}

// HasData reports whether a record for name exists.
func (d *Database) HasData(name pname.Name) (bool, error) {
	_, ok, err := d.Get(name)
	return ok, err
}

// childRange returns the key range [start, end) that covers every
// record stored directly (not transitively) under parent.
func childRange(parent pname.Name, delim byte) (start, end string) {
	prefix := parent.Raw()
	if !parent.AtRoot() {
		prefix += string(delim)
	}
	return prefix, prefixUpperBound(prefix)
}

// prefixUpperBound returns the smallest key that is not itself
// prefixed by prefix, or "" if prefix is all 0xff bytes (no practical
// upper bound needed for the name alphabets this database stores).
func prefixUpperBound(prefix string) string {
	b := []byte(prefix)
	for i := len(b) - 1; i >= 0; i-- {
		if b[i] != 0xff {
			b[i]++
			return string(b[:i+1])
		}
	}
	return ""
}

// immediateChild extracts the next path component after prefix from
// key, or "" if key has additional delimiters beyond one component
// (i.e. it names a grandchild, not a child).
func immediateChild(key, prefix string, delim byte) (string, bool) {
	if len(key) <= len(prefix) {
		return "", false
	}
	rest := key[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == delim {
			return "", false
		}
	}
	return rest, true
}

// Children returns the sorted, de-duplicated list of short names
// stored directly under parent.
func (d *Database) Children(parent pname.Name) ([]string, error) {
	start, end := childRange(parent, d.bundle.Delimiter)
	it := d.kv.Find(start, end)
	defer it.Close()
	seen := make(map[string]bool)
	var names []string
	for it.Next() {
		child, ok := immediateChild(it.Key(), start, d.bundle.Delimiter)
		if !ok || seen[child] {
			continue
		}
		seen[child] = true
		names = append(names, child)
	}
	return names, it.Close()
}

// CheckConsistency walks every stored record and verifies it decodes
// cleanly, the supplemented replacement for the original's
// assert_all_blocks_valid debug-build walk: there is no free list or
// block checksum in this backend, so the only failure mode left to
// detect is a record that fails to deserialize against the bound
// schema.
func (d *Database) CheckConsistency() error {
	it := d.kv.Find("", "")
	defer it.Close()
	for it.Next() {
		if it.Key() == genreMetaKey {
			continue
		}
		if _, _, err := decodeRecord(d.bundle.Schema, it.Value()); err != nil {
			return fmt.Errorf("%w: record at key %q: %w", camerrors.ErrCorruptBlock, it.Key(), err)
		}
	}
	return it.Close()
}

// Prune deletes every record whose name is not contained by keep (the
// new policy's spec_contains predicate), used by the policy-update
// pipeline to drop nodes that fall under no rule of the new spec.
func (d *Database) Prune(keep func(pname.Name) bool) error {
	it := d.kv.Find("", "")
	var toDelete []string
	for it.Next() {
		if it.Key() == genreMetaKey {
			continue
		}
		name := pname.Parse(it.Key(), d.bundle.Delimiter, d.bundle.CaseSensitive)
		if !keep(name) {
			toDelete = append(toDelete, it.Key())
		}
	}
	if err := it.Close(); err != nil {
		return err
	}
	for _, k := range toDelete {
		if err := d.kv.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

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

// Package cryptoapi defines the narrow interfaces the core consumes
// from its cryptographic collaborator: streaming hashers plus a
// sign/verify pair over an opaque key handle. The core never inspects
// key material directly; it only calls through these interfaces.
//
// This package has no signing implementation of its own (ElGamal in
// the original design) and no HAVAL hasher: signing and verification
// are interfaces here, and pkg/pgpsign supplies an OpenPGP
// Signer/Verifier behind them.
package cryptoapi

import (
	"crypto/md5"
	"crypto/sha1"
	"hash"
	"hash/crc32"
)

// Hasher is a streaming hash that also reports its registered name,
// the form property values of kind propval.Bytes are tagged with.
type Hasher interface {
	hash.Hash
	Name() string
}

type namedHash struct {
	hash.Hash
	name string
}

func (h namedHash) Name() string { return h.name }

// NewCRC32 returns the CRC32 (IEEE) streaming hasher.
func NewCRC32() Hasher { return namedHash{crc32.NewIEEE(), "crc32"} }

// NewMD5 returns the MD5 streaming hasher.
func NewMD5() Hasher { return namedHash{md5.New(), "md5"} }

// NewSHA1 returns the SHA-1 streaming hasher.
func NewSHA1() Hasher { return namedHash{sha1.New(), "sha1"} }

// Factories maps a hash name to its constructor. HAVAL has no entry:
// it is supplied, if at all, by the crypto collaborator at runtime via
// RegisterFactory, never by this package.
var Factories = map[string]func() Hasher{
	"crc32": NewCRC32,
	"md5":   NewMD5,
	"sha1":  NewSHA1,
}

// RegisterFactory lets an external collaborator add a hash
// implementation (e.g. HAVAL) this package does not provide.
func RegisterFactory(name string, ctor func() Hasher) {
	Factories[name] = ctor
}

// KeyHandle is an opaque reference to private key material. The core
// never dereferences it; it only threads it through Signer.
type KeyHandle interface{}

// Signer produces a signature over body using the key behind handle.
type Signer interface {
	Sign(handle KeyHandle, body []byte) (signature []byte, err error)
}

// Verifier checks a signature over body, returning a non-nil error if
// verification fails for any reason (including an unverifiable or
// absent key).
type Verifier interface {
	Verify(body, signature []byte) error
}

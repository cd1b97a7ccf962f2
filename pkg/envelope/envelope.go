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

// Package envelope implements the signed archive envelope that policy
// files and reports are wrapped in: a fixed magic number, a header
// identifying which kind of file this is, an encoding tag, caller-
// defined baggage, and the payload body itself. The database is not
// written through an envelope; it lives in its key-value store.
//
// The four-byte header-id convention mirrors pkg/errbucket's packed
// ASCII Kind codes; the frame's write/read shape follows
// pkg/serialtype's fixed-header-then-payload convention, generalized
// to a whole-file wrapper instead of one object in a stream.
package envelope

import (
	"encoding/binary"
	"fmt"
	"io"

	"sentrybase.org/pkg/camerrors"
	"sentrybase.org/pkg/cryptoapi"
)

// Magic is the fixed four-byte value that opens every envelope.
const Magic uint32 = 0x78f9beb3

// HeaderVersion is the current envelope frame layout version.
const HeaderVersion int32 = 1

// HeaderID identifies what kind of file an envelope carries.
type HeaderID uint32

func headerID(s string) HeaderID {
	var b [4]byte
	copy(b[:], s)
	return HeaderID(uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3]))
}

// The envelope's distinct file identifiers. Callers identify a file
// by its header id, one per persistent file kind.
var (
	HeaderPolicy   = headerID("POLY")
	HeaderDatabase = headerID("DATB")
	HeaderReport   = headerID("RPRT")
	HeaderConfig   = headerID("CONF")
	HeaderKey      = headerID("KEYF")
)

// Encoding is the encoding tag recorded in the frame. Only
// EncodingAsymmetric changes the frame, by appending a signature;
// EncodingCompressed is recorded in the header, but Write and Read do
// not compress or decompress the body.
type Encoding int16

const (
	EncodingNone Encoding = iota
	EncodingCompressed
	EncodingAsymmetric
)

// Envelope is a decoded frame: everything but the body is metadata; the
// body is the caller's serialized payload (a policy text file or a
// typed-serialization stream).
type Envelope struct {
	HeaderVersion int32
	HeaderID      HeaderID
	PayloadVersion uint32
	Encoding      Encoding
	Baggage       []byte
	Body          []byte
}

// ErrBadMagic is returned by Read when the stream does not begin with
// Magic: the file is not an envelope at all, or is corrupt beyond
// recovery. It is the same value as camerrors.ErrCorruptBlock: an
// envelope with a bad magic number is corrupt by the same vocabulary
// a database record is.
var ErrBadMagic = camerrors.ErrCorruptBlock

// ErrVersionMismatch is returned by Read when header_version names a
// layout this package does not understand.
var ErrVersionMismatch = camerrors.ErrVersionMismatch

// ErrSignatureFailed is returned by Read when a verifier is supplied
// and the encoded signature fails to verify.
var ErrSignatureFailed = camerrors.ErrSignatureFailed

// Write serializes e to w: header, baggage, body, then — when
// e.Encoding is EncodingAsymmetric — a signature over the body bytes.
// Framing a body of unknown length followed by a variable-length
// trailing signature needs a body-length field, so the frame carries
// one (body_len, u32, immediately after baggage) rather than require
// the signature
// format to be self-delimiting.
func Write(w io.Writer, e *Envelope, signer cryptoapi.Signer, handle cryptoapi.KeyHandle) error {
	var hdr [4 + 4 + 4 + 4 + 2 + 4 + 4]byte
	off := 0
	binary.LittleEndian.PutUint32(hdr[off:], Magic)
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], uint32(e.HeaderVersion))
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], uint32(e.HeaderID))
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], e.PayloadVersion)
	off += 4
	binary.LittleEndian.PutUint16(hdr[off:], uint16(e.Encoding))
	off += 2
	binary.LittleEndian.PutUint32(hdr[off:], uint32(len(e.Baggage)))
	off += 4
	binary.LittleEndian.PutUint32(hdr[off:], uint32(len(e.Body)))
	if _, err := w.Write(hdr[:]); err != nil {
		return fmt.Errorf("envelope: writing header: %w", err)
	}
	if len(e.Baggage) > 0 {
		if _, err := w.Write(e.Baggage); err != nil {
			return fmt.Errorf("envelope: writing baggage: %w", err)
		}
	}
	if _, err := w.Write(e.Body); err != nil {
		return fmt.Errorf("envelope: writing body: %w", err)
	}
	if e.Encoding == EncodingAsymmetric {
		if signer == nil {
			return fmt.Errorf("envelope: ASYMMETRIC encoding requires a signer")
		}
		sig, err := signer.Sign(handle, e.Body)
		if err != nil {
			return fmt.Errorf("envelope: signing body: %w", err)
		}
		if _, err := w.Write(sig); err != nil {
			return fmt.Errorf("envelope: writing signature: %w", err)
		}
	}
	return nil
}

// Read parses an envelope from r. When the stream encodes ASYMMETRIC
// and verifier is non-nil, the trailing signature is checked against
// the body before Read returns; a nil verifier skips verification
// (the caller is responsible for deciding that is acceptable).
func Read(r io.Reader, verifier cryptoapi.Verifier) (*Envelope, error) {
	var hdr [4 + 4 + 4 + 4 + 2 + 4 + 4]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("envelope: reading header: %w", err)
	}
	off := 0
	magic := binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	if magic != Magic {
		return nil, ErrBadMagic
	}
	hv := int32(binary.LittleEndian.Uint32(hdr[off:]))
	off += 4
	if hv != HeaderVersion {
		return nil, ErrVersionMismatch
	}
	id := HeaderID(binary.LittleEndian.Uint32(hdr[off:]))
	off += 4
	payloadVersion := binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	encoding := Encoding(binary.LittleEndian.Uint16(hdr[off:]))
	off += 2
	baggageLen := binary.LittleEndian.Uint32(hdr[off:])
	off += 4
	bodyLen := binary.LittleEndian.Uint32(hdr[off:])

	baggage := make([]byte, baggageLen)
	if baggageLen > 0 {
		if _, err := io.ReadFull(r, baggage); err != nil {
			return nil, fmt.Errorf("envelope: reading baggage: %w", err)
		}
	}

	body := make([]byte, bodyLen)
	if bodyLen > 0 {
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("envelope: reading body: %w", err)
		}
	}

	var sig []byte
	if encoding == EncodingAsymmetric {
		rest, err := io.ReadAll(r)
		if err != nil {
			return nil, fmt.Errorf("envelope: reading signature: %w", err)
		}
		sig = rest
	}

	if encoding == EncodingAsymmetric && verifier != nil {
		if err := verifier.Verify(body, sig); err != nil {
			return nil, ErrSignatureFailed
		}
	}

	return &Envelope{
		HeaderVersion:  hv,
		HeaderID:       id,
		PayloadVersion: payloadVersion,
		Encoding:       encoding,
		Baggage:        baggage,
		Body:           body,
	}, nil
}

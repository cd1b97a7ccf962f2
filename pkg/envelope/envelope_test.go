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

package envelope

import (
	"bytes"
	"testing"

	"sentrybase.org/pkg/pgpsign"
)

func TestWriteReadRoundTripNone(t *testing.T) {
	e := &Envelope{
		HeaderVersion:  HeaderVersion,
		HeaderID:       HeaderDatabase,
		PayloadVersion: 3,
		Encoding:       EncodingNone,
		Baggage:        []byte("baggage"),
		Body:           []byte("the database block file contents"),
	}
	var buf bytes.Buffer
	if err := Write(&buf, e, nil, nil); err != nil {
		t.Fatalf("Write: %v", err)
	}
	got, err := Read(&buf, nil)
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got.HeaderID != HeaderDatabase || got.PayloadVersion != 3 {
		t.Errorf("got %+v", got)
	}
	if !bytes.Equal(got.Baggage, e.Baggage) || !bytes.Equal(got.Body, e.Body) {
		t.Errorf("baggage/body mismatch: got %+v", got)
	}
}

func TestWriteReadAsymmetricVerifies(t *testing.T) {
	kp, err := pgpsign.NewKeyPair("envelope test")
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	armored, err := kp.ArmoredPublicKey()
	if err != nil {
		t.Fatalf("ArmoredPublicKey: %v", err)
	}
	pub, err := pgpsign.LoadArmoredPublicKey(bytes.NewReader([]byte(armored)))
	if err != nil {
		t.Fatalf("LoadArmoredPublicKey: %v", err)
	}

	e := &Envelope{
		HeaderVersion:  HeaderVersion,
		HeaderID:       HeaderReport,
		PayloadVersion: 1,
		Encoding:       EncodingAsymmetric,
		Body:           []byte("a serialized report"),
	}
	var buf bytes.Buffer
	if err := Write(&buf, e, pgpsign.Signer{}, kp); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, err := Read(&buf, pgpsign.NewVerifier(pub))
	if err != nil {
		t.Fatalf("Read: %v", err)
	}
	if !bytes.Equal(got.Body, e.Body) {
		t.Errorf("body mismatch")
	}
}

func TestReadRejectsTamperedBody(t *testing.T) {
	kp, err := pgpsign.NewKeyPair("envelope test")
	if err != nil {
		t.Fatalf("NewKeyPair: %v", err)
	}
	armored, err := kp.ArmoredPublicKey()
	if err != nil {
		t.Fatalf("ArmoredPublicKey: %v", err)
	}
	pub, err := pgpsign.LoadArmoredPublicKey(bytes.NewReader([]byte(armored)))
	if err != nil {
		t.Fatalf("LoadArmoredPublicKey: %v", err)
	}

	e := &Envelope{
		HeaderVersion:  HeaderVersion,
		HeaderID:       HeaderReport,
		PayloadVersion: 1,
		Encoding:       EncodingAsymmetric,
		Body:           []byte("original bytes"),
	}
	var buf bytes.Buffer
	if err := Write(&buf, e, pgpsign.Signer{}, kp); err != nil {
		t.Fatalf("Write: %v", err)
	}

	raw := buf.Bytes()
	idx := bytes.Index(raw, []byte("original bytes"))
	if idx < 0 {
		t.Fatalf("body not found in serialized envelope")
	}
	raw[idx] = 'X'

	if _, err := Read(bytes.NewReader(raw), pgpsign.NewVerifier(pub)); err != ErrSignatureFailed {
		t.Fatalf("Read error = %v, want ErrSignatureFailed", err)
	}
}

func TestReadRejectsBadMagic(t *testing.T) {
	if _, err := Read(bytes.NewReader(make([]byte, 26)), nil); err != ErrBadMagic {
		t.Fatalf("Read error = %v, want ErrBadMagic", err)
	}
}

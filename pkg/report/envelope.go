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

package report

import (
	"bytes"
	"fmt"
	"io"

	"sentrybase.org/pkg/cryptoapi"
	"sentrybase.org/pkg/envelope"
	"sentrybase.org/pkg/genre"
)

// WriteEnvelope serializes r (per WriteTo) and wraps the result in a
// signed envelope. A non-nil signer declares ASYMMETRIC
// encoding and signs the serialized body with handle.
func WriteEnvelope(w io.Writer, r *Report, signer cryptoapi.Signer, handle cryptoapi.KeyHandle) error {
	var buf bytes.Buffer
	if err := r.WriteTo(&buf); err != nil {
		return fmt.Errorf("report: serializing: %w", err)
	}
	enc := envelope.EncodingNone
	if signer != nil {
		enc = envelope.EncodingAsymmetric
	}
	env := &envelope.Envelope{
		HeaderVersion:  envelope.HeaderVersion,
		HeaderID:       envelope.HeaderReport,
		PayloadVersion: uint32(reportVersion),
		Encoding:       enc,
		Body:           buf.Bytes(),
	}
	return envelope.Write(w, env, signer, handle)
}

// ReadEnvelope reads a report previously written by WriteEnvelope.
// bundles maps every genre name the report covers to the bundle its
// property sets were calculated against.
func ReadEnvelope(r io.Reader, verifier cryptoapi.Verifier, bundles map[string]*genre.Bundle) (*Report, error) {
	env, err := envelope.Read(r, verifier)
	if err != nil {
		return nil, err
	}
	if env.HeaderID != envelope.HeaderReport {
		return nil, fmt.Errorf("report: envelope header id %#x is not a report file", env.HeaderID)
	}
	return ReadFrom(bytes.NewReader(env.Body), bundles)
}

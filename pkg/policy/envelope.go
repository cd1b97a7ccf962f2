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

package policy

import (
	"fmt"
	"io"

	"sentrybase.org/pkg/cryptoapi"
	"sentrybase.org/pkg/envelope"
)

// policyPayloadVersion is the policy source text's payload version
// inside the envelope; the preprocessor/grammar themselves are
// versioned independently by the file's own directives.
const policyPayloadVersion = 1

// ReadEnvelope reads a policy file through the signed envelope
// format; the body is the policy source text. A non-nil
// verifier checks the trailing signature when the envelope declares
// ASYMMETRIC encoding; a nil verifier accepts an unverified file.
func ReadEnvelope(r io.Reader, verifier cryptoapi.Verifier) (src string, err error) {
	env, err := envelope.Read(r, verifier)
	if err != nil {
		return "", err
	}
	if env.HeaderID != envelope.HeaderPolicy {
		return "", fmt.Errorf("policy: envelope header id %#x is not a policy file", env.HeaderID)
	}
	return string(env.Body), nil
}

// WriteEnvelope wraps src (a policy file's source text) in a signed
// envelope. When signer is non-nil the envelope declares ASYMMETRIC
// encoding and handle is passed to signer.Sign; a nil signer writes
// an unsigned NONE-encoding envelope.
func WriteEnvelope(w io.Writer, src string, signer cryptoapi.Signer, handle cryptoapi.KeyHandle) error {
	enc := envelope.EncodingNone
	if signer != nil {
		enc = envelope.EncodingAsymmetric
	}
	env := &envelope.Envelope{
		HeaderVersion:  envelope.HeaderVersion,
		HeaderID:       envelope.HeaderPolicy,
		PayloadVersion: policyPayloadVersion,
		Encoding:       enc,
		Body:           []byte(src),
	}
	return envelope.Write(w, env, signer, handle)
}

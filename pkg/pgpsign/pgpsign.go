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

// Package pgpsign implements cryptoapi.Signer and cryptoapi.Verifier
// over OpenPGP detached signatures, the concrete crypto collaborator
// a driver wires in for the envelope's ASYMMETRIC encoding: entity
// loading from an armored secret keyring, armored public-key export,
// detached signing and verification. Passphrases are explicit
// arguments; this core has no terminal UI of its own to prompt
// through.
package pgpsign

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/openpgp"
	"golang.org/x/crypto/openpgp/armor"
	"golang.org/x/crypto/openpgp/packet"

	"sentrybase.org/pkg/cryptoapi"
)

const publicKeyMaxSize = 256 * 1024

// KeyPair wraps an OpenPGP entity and satisfies cryptoapi.KeyHandle.
// The core never inspects it directly; it is only ever threaded back
// into Signer.Sign.
type KeyPair struct {
	entity *openpgp.Entity
}

// NewKeyPair generates a fresh OpenPGP entity for a key file.
// golang.org/x/crypto/openpgp does not implement ElGamal signing
// (only RSA/DSA), so the generated entity's default RSA signing
// subkey fills that role.
func NewKeyPair(comment string) (*KeyPair, error) {
	entity, err := openpgp.NewEntity("sentrybase", comment, "", nil)
	if err != nil {
		return nil, fmt.Errorf("pgpsign: generating key pair: %w", err)
	}
	return &KeyPair{entity: entity}, nil
}

// KeyPairFromArmoredSecretKey loads a single entity out of an armored
// secret-key block, decrypting the private key with passphrase if it
// is encrypted. keyID selects among multiple entities in the block by
// short or full hex key id; pass "" when the block holds exactly one
// entity.
func KeyPairFromArmoredSecretKey(r io.Reader, keyID, passphrase string) (*KeyPair, error) {
	block, err := armor.Decode(r)
	if err != nil {
		return nil, fmt.Errorf("pgpsign: decoding armor: %w", err)
	}
	if block.Type != openpgp.PrivateKeyType {
		return nil, fmt.Errorf("pgpsign: armored block is %q, not a private key", block.Type)
	}
	el, err := openpgp.ReadKeyRing(block.Body)
	if err != nil {
		return nil, fmt.Errorf("pgpsign: reading key ring: %w", err)
	}
	keyID = strings.ToUpper(keyID)
	var entity *openpgp.Entity
	for _, e := range el {
		if e.PrivateKey == nil {
			continue
		}
		if keyID == "" || e.PrivateKey.KeyIdString() == keyID || e.PrivateKey.KeyIdShortString() == keyID {
			entity = e
			break
		}
	}
	if entity == nil {
		return nil, fmt.Errorf("pgpsign: no private key matching %q found in key ring", keyID)
	}
	if entity.PrivateKey.Encrypted {
		if err := entity.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
			return nil, fmt.Errorf("pgpsign: decrypting private key: %w", err)
		}
		for _, subkey := range entity.Subkeys {
			if subkey.PrivateKey != nil && subkey.PrivateKey.Encrypted {
				if err := subkey.PrivateKey.Decrypt([]byte(passphrase)); err != nil {
					return nil, fmt.Errorf("pgpsign: decrypting subkey: %w", err)
				}
			}
		}
	}
	return &KeyPair{entity: entity}, nil
}

// ArmoredPublicKey renders the key pair's public key in ASCII-armored
// form, the format a key file's public half is stored in.
func (kp *KeyPair) ArmoredPublicKey() (string, error) {
	var buf bytes.Buffer
	wc, err := armor.Encode(&buf, openpgp.PublicKeyType, nil)
	if err != nil {
		return "", err
	}
	if err := kp.entity.PrivateKey.PublicKey.Serialize(wc); err != nil {
		return "", err
	}
	if err := wc.Close(); err != nil {
		return "", err
	}
	if !strings.HasSuffix(buf.String(), "\n") {
		buf.WriteString("\n")
	}
	return buf.String(), nil
}

// LoadArmoredPublicKey parses an armored public-key block for
// verification, independent of any private key material.
func LoadArmoredPublicKey(r io.Reader) (*packet.PublicKey, error) {
	lr := io.LimitReader(r, publicKeyMaxSize)
	block, err := armor.Decode(lr)
	if err != nil {
		return nil, fmt.Errorf("pgpsign: decoding armor: %w", err)
	}
	if block.Type != openpgp.PublicKeyType {
		return nil, fmt.Errorf("pgpsign: armored block is %q, not a public key", block.Type)
	}
	p, err := packet.Read(block.Body)
	if err != nil {
		return nil, fmt.Errorf("pgpsign: reading public key packet: %w", err)
	}
	pk, ok := p.(*packet.PublicKey)
	if !ok {
		return nil, errors.New("pgpsign: armored block does not contain a public key packet")
	}
	return pk, nil
}

// Signer implements cryptoapi.Signer over a detached OpenPGP
// signature: the handle passed to Sign must be a *KeyPair produced by
// this package.
type Signer struct{}

// Sign returns a binary (non-armored) detached OpenPGP signature over
// body using handle's private key.
func (Signer) Sign(handle cryptoapi.KeyHandle, body []byte) ([]byte, error) {
	kp, ok := handle.(*KeyPair)
	if !ok {
		return nil, fmt.Errorf("pgpsign: Sign called with a %T, want *pgpsign.KeyPair", handle)
	}
	var sig bytes.Buffer
	if err := openpgp.DetachSign(&sig, kp.entity, bytes.NewReader(body), nil); err != nil {
		return nil, fmt.Errorf("pgpsign: signing: %w", err)
	}
	return sig.Bytes(), nil
}

// Verifier implements cryptoapi.Verifier over a detached OpenPGP
// signature, checked against a fixed set of trusted public keys.
type Verifier struct {
	keyring openpgp.EntityList
}

// NewVerifier returns a Verifier that trusts exactly the given public
// keys.
func NewVerifier(keys ...*packet.PublicKey) *Verifier {
	el := make(openpgp.EntityList, len(keys))
	for i, k := range keys {
		el[i] = &openpgp.Entity{
			PrimaryKey: k,
			Identities: map[string]*openpgp.Identity{
				"": {SelfSignature: &packet.Signature{FlagsValid: true, FlagSign: true}},
			},
		}
	}
	return &Verifier{keyring: el}
}

// Verify checks sig as a detached OpenPGP signature over body against
// the verifier's trusted keyring.
func (v *Verifier) Verify(body, sig []byte) error {
	_, err := openpgp.CheckDetachedSignature(v.keyring, bytes.NewReader(body), bytes.NewReader(sig))
	if err != nil {
		return fmt.Errorf("pgpsign: signature verification failed: %w", err)
	}
	return nil
}

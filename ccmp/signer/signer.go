// Copyright 2024 The Erigon Authors
// This file is part of the Erigon library.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package signer abstracts the threshold-ECDSA signing capability the
// relay consumes. LocalVault is a stand-in implementation: the real
// threshold signing service is an external collaborator (spec.md §1,
// "out of scope"), but the core still needs something that satisfies the
// same contract end to end for the pipeline to be runnable and testable.
package signer

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/hmac"
	"crypto/sha512"
	"math/big"

	"github.com/erigontech/ccmp-relay/ccmp/types"
	"github.com/ethereum/go-ethereum/crypto"
)

// Signer signs a 32-byte digest under a derivation path and key name,
// returning the 64-byte (r||s) signature. EVM callers append the recovery
// byte themselves (Recover, below) since that step needs the relay's
// cached public key to disambiguate.
type Signer interface {
	// PublicKey returns the 65-byte uncompressed public key for path under
	// keyName, deriving (but not persisting) it if necessary.
	PublicKey(ctx context.Context, keyName string, path [][]byte) ([]byte, error)
	// Sign returns a 64-byte (r||s) signature over digest, under keyName
	// and derivation path.
	Sign(ctx context.Context, keyName string, path [][]byte, digest [32]byte) ([]byte, error)
}

// LocalVault holds one master secp256k1 key per configured key name and
// derives per-path child keys deterministically: childScalar = master +
// HMAC-SHA512(key = master scalar, msg = path segments) mod N; an empty
// path yields the master key itself. This is a simplified, non-hardened
// derivation (no BIP-32 chain codes) — sufficient for this core's
// requirement that the same path always yields the same keypair, which is
// all the Writer/top-up consistency (§9 design notes) actually needs.
type LocalVault struct {
	keys map[string]*ecdsa.PrivateKey
}

// NewLocalVault creates a vault with one master key per name in keyNames,
// derived deterministically from the name (HMAC-SHA512 of it under a
// fixed vault label, in masterKeyForName), so repeated calls in tests
// are stable.
func NewLocalVault(keyNames ...string) (*LocalVault, error) {
	v := &LocalVault{keys: make(map[string]*ecdsa.PrivateKey, len(keyNames))}
	for _, name := range keyNames {
		key, err := masterKeyForName(name)
		if err != nil {
			return nil, err
		}
		v.keys[name] = key
	}
	return v, nil
}

func masterKeyForName(name string) (*ecdsa.PrivateKey, error) {
	seed := hmac.New(sha512.New, []byte("ccmp-relay-local-vault"))
	seed.Write([]byte(name))
	return deriveFromScalarSeed(seed.Sum(nil))
}

func deriveFromScalarSeed(seed []byte) (*ecdsa.PrivateKey, error) {
	curve := crypto.S256()
	d := new(big.Int).SetBytes(seed)
	d.Mod(d, curve.Params().N)
	if d.Sign() == 0 {
		d.SetInt64(1)
	}
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.D = d
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	return priv, nil
}

func (v *LocalVault) childKey(keyName string, path [][]byte) (*ecdsa.PrivateKey, error) {
	master, ok := v.keys[keyName]
	if !ok {
		return nil, types.NewError(types.ErrSignFailure, "unknown key name "+keyName, nil)
	}
	if len(path) == 0 {
		return master, nil
	}

	mac := hmac.New(sha512.New, master.D.Bytes())
	for _, seg := range path {
		mac.Write(seg)
	}
	offset := new(big.Int).SetBytes(mac.Sum(nil))

	curve := master.Curve
	d := new(big.Int).Add(master.D, offset)
	d.Mod(d, curve.Params().N)
	if d.Sign() == 0 {
		d.SetInt64(1)
	}
	priv := new(ecdsa.PrivateKey)
	priv.PublicKey.Curve = curve
	priv.D = d
	priv.PublicKey.X, priv.PublicKey.Y = curve.ScalarBaseMult(d.Bytes())
	return priv, nil
}

func (v *LocalVault) PublicKey(_ context.Context, keyName string, path [][]byte) ([]byte, error) {
	priv, err := v.childKey(keyName, path)
	if err != nil {
		return nil, err
	}
	return elliptic.Marshal(priv.Curve, priv.PublicKey.X, priv.PublicKey.Y), nil
}

func (v *LocalVault) Sign(_ context.Context, keyName string, path [][]byte, digest [32]byte) ([]byte, error) {
	priv, err := v.childKey(keyName, path)
	if err != nil {
		return nil, err
	}
	sig, err := crypto.Sign(digest[:], priv)
	if err != nil {
		return nil, types.NewError(types.ErrSignFailure, "ecdsa sign failed", err)
	}
	// crypto.Sign returns 65 bytes (r||s||v); the Signer contract only
	// promises (r||s) — the EVM recovery byte is a caller-side concern.
	return sig[:64], nil
}

// Recover computes the EVM recovery byte for an (r||s) signature over
// digest by trying recovery id 0 and comparing the recovered public key
// to relayPubkey: 27 on a match, 28 otherwise. It never tries id 1 — the
// spec's §4.2 algorithm is exactly this one-shot comparison.
func Recover(digest [32]byte, rs []byte, relayPubkey []byte) (v byte, sig65 []byte, err error) {
	if len(rs) != 64 {
		return 0, nil, types.NewError(types.ErrSignFailure, "signature must be 64 bytes (r||s)", nil)
	}
	candidate := append(append([]byte(nil), rs...), 0)
	recovered, err := crypto.Ecrecover(digest[:], candidate)
	if err != nil {
		return 0, nil, types.NewError(types.ErrSignFailure, "ecrecover failed", err)
	}
	if bytesEqual(recovered, relayPubkey) {
		v = 27
	} else {
		v = 28
	}
	sig65 = append(candidate[:64], v)
	return v, sig65, nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

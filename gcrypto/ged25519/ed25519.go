// Package ged25519 implements tmconsensus.PubKey, gcrypto.Signer, and
// gcrypto.Scheme on top of the standard library's ed25519 implementation.
// It is the default signature scheme used by tmconsensustest fixtures and
// by single-signature (non-aggregated) deployments.
package ged25519

import (
	"crypto/ed25519"
	"crypto/sha256"
	"fmt"

	"github.com/chorus-consensus/chorus/gcrypto"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

const SchemeName = "ed25519"

// PubKey adapts an ed25519.PublicKey to tmconsensus.PubKey.
type PubKey struct {
	Key ed25519.PublicKey
}

func (k PubKey) Address() tmconsensus.Address {
	sum := sha256.Sum256(k.Key)
	return tmconsensus.Address(sum[:20])
}

func (k PubKey) Bytes() []byte { return []byte(k.Key) }

func (k PubKey) Equal(other tmconsensus.PubKey) bool {
	o, ok := other.(PubKey)
	if !ok {
		return false
	}
	return k.Key.Equal(o.Key)
}

func (k PubKey) Verify(msg, sig []byte) bool {
	return ed25519.Verify(k.Key, msg, sig)
}

// SchemeName satisfies tmstore/tmsqlite's scheme-tagging interface, letting
// a validator store record which gcrypto.Registry entry can decode this key.
func (k PubKey) SchemeName() string { return SchemeName }

// Signer wraps an ed25519 private key.
type Signer struct {
	Priv ed25519.PrivateKey
}

// NewSigner derives a Signer from a 32-byte seed, for deterministic test
// fixtures (see tmconsensustest).
func NewSigner(seed []byte) Signer {
	return Signer{Priv: ed25519.NewKeyFromSeed(seed)}
}

func (s Signer) PubKey() tmconsensus.PubKey {
	return PubKey{Key: s.Priv.Public().(ed25519.PublicKey)}
}

func (s Signer) Sign(msg []byte) ([]byte, error) {
	return ed25519.Sign(s.Priv, msg), nil
}

// Scheme implements gcrypto.Scheme for the registry.
type Scheme struct{}

func (Scheme) Name() string { return SchemeName }

func (Scheme) DecodePubKey(b []byte) (tmconsensus.PubKey, error) {
	if len(b) != ed25519.PublicKeySize {
		return nil, fmt.Errorf("ged25519: public key must be %d bytes, got %d", ed25519.PublicKeySize, len(b))
	}
	return PubKey{Key: ed25519.PublicKey(b)}, nil
}

// Register adds the ed25519 scheme to reg.
func Register(reg *gcrypto.Registry) {
	reg.Register(Scheme{})
}

// Package gbls implements a BLS12-381 minimized-signature signature scheme
// on top of github.com/supranational/blst, offered as an alternative to
// gcrypto/ged25519 for deployments that want aggregatable certificate
// signatures. Public keys live on the G2 curve; signatures live on G1, so
// many precommit signatures for one certificate can be aggregated into a
// single compact point via Aggregate.
package gbls

import (
	"errors"
	"fmt"

	"github.com/chorus-consensus/chorus/gcrypto"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	blst "github.com/supranational/blst/bindings/go"
)

const SchemeName = "bls12381-minsig"

// DomainSeparationTag follows the ciphersuite naming convention from
// draft-irtf-cfrg-bls-signature: BLS_SIG_<H2C_SUITE_ID><SC_TAG>_.
var DomainSeparationTag = []byte("BLS_SIG_BLS12381G1_XMD:SHA-256_SSWU_RO_NUL_")

// PubKey wraps a blst.P2Affine point.
type PubKey struct {
	p2 blst.P2Affine
}

func (k PubKey) Address() tmconsensus.Address {
	b := k.p2.Compress()
	return tmconsensus.Address(b[:20])
}

func (k PubKey) Bytes() []byte { return k.p2.Compress() }

func (k PubKey) Equal(other tmconsensus.PubKey) bool {
	o, ok := other.(PubKey)
	if !ok {
		return false
	}
	return k.p2.Equals(&o.p2)
}

func (k PubKey) Verify(msg, sig []byte) bool {
	p1 := new(blst.P1Affine).Uncompress(sig)
	if p1 == nil {
		return false
	}
	if !p1.SigValidate(false) {
		return false
	}
	return p1.Verify(false, &k.p2, false, blst.Message(msg), DomainSeparationTag)
}

// SchemeName satisfies tmstore/tmsqlite's scheme-tagging interface, letting
// a validator store record which gcrypto.Registry entry can decode this key.
func (k PubKey) SchemeName() string { return SchemeName }

// Signer wraps a blst secret key and its corresponding P2 point.
type Signer struct {
	secret blst.SecretKey
	point  blst.P2Affine
}

// NewSigner derives a Signer from at least 32 bytes of key material.
func NewSigner(ikm []byte) (Signer, error) {
	if len(ikm) < blst.BLST_SCALAR_BYTES {
		return Signer{}, fmt.Errorf(
			"gbls: key material too short: got %d bytes, need at least %d",
			len(ikm), blst.BLST_SCALAR_BYTES,
		)
	}
	sk := blst.KeyGenV5(ikm, []byte("chorus-gbls"))
	point := new(blst.P2Affine).From(sk)
	return Signer{secret: *sk, point: *point}, nil
}

func (s Signer) PubKey() tmconsensus.PubKey { return PubKey{p2: s.point} }

func (s Signer) Sign(msg []byte) ([]byte, error) {
	sig := new(blst.P1Affine).Sign(&s.secret, msg, DomainSeparationTag, true)
	if sig == nil {
		return nil, errors.New("gbls: signing failed")
	}
	return sig.Compress(), nil
}

// Aggregate combines multiple compressed G1 signatures, over possibly
// distinct messages and keys, into a single compressed signature suitable
// for AggregateVerify. Certificates do not use it: they carry each vote's
// signature individually, and nothing else in the repository calls it.
func Aggregate(sigs [][]byte) ([]byte, error) {
	if len(sigs) == 0 {
		return nil, errors.New("gbls: no signatures to aggregate")
	}
	agg := new(blst.P1Aggregate)
	if !agg.AggregateCompressed(sigs, true) {
		return nil, errors.New("gbls: failed to aggregate signatures")
	}
	affine := agg.ToAffine()
	return affine.Compress(), nil
}

// AggregateVerify checks an aggregate signature against the parallel slices
// of messages and public keys that produced it.
func AggregateVerify(aggSig []byte, msgs [][]byte, keys []PubKey) bool {
	if len(msgs) != len(keys) || len(msgs) == 0 {
		return false
	}
	p1 := new(blst.P1Affine).Uncompress(aggSig)
	if p1 == nil {
		return false
	}
	pts := make([]*blst.P2Affine, len(keys))
	bmsgs := make([]blst.Message, len(msgs))
	for i := range keys {
		pts[i] = &keys[i].p2
		bmsgs[i] = blst.Message(msgs[i])
	}
	return p1.AggregateVerify(false, pts, false, bmsgs, DomainSeparationTag)
}

// Scheme implements gcrypto.Scheme for the registry.
type Scheme struct{}

func (Scheme) Name() string { return SchemeName }

func (Scheme) DecodePubKey(b []byte) (tmconsensus.PubKey, error) {
	if len(b) != blst.BLST_P2_COMPRESS_BYTES {
		return nil, fmt.Errorf("gbls: expected %d compressed bytes, got %d", blst.BLST_P2_COMPRESS_BYTES, len(b))
	}
	p2 := new(blst.P2Affine).Uncompress(b)
	if p2 == nil {
		return nil, errors.New("gbls: failed to decompress public key")
	}
	if !p2.KeyValidate() {
		return nil, errors.New("gbls: public key failed validation")
	}
	return PubKey{p2: *p2}, nil
}

// Register adds the BLS scheme to reg.
func Register(reg *gcrypto.Registry) {
	reg.Register(Scheme{})
}

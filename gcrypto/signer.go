// Package gcrypto defines the signing abstractions the consensus core and
// its collaborators use: a Signer that produces raw signatures and the
// PubKey/verification surface tmconsensus.PubKey is built from. Concrete
// schemes live in the ged25519 and gbls subpackages.
package gcrypto

import "github.com/chorus-consensus/chorus/tm/tmconsensus"

// Signer produces signatures for the local validator's private key.
type Signer interface {
	PubKey() tmconsensus.PubKey
	Sign(msg []byte) ([]byte, error)
}

// Registry maps scheme names to Schemes that decode raw public-key bytes
// back into a PubKey implementation, so that a key read from storage or the
// wire can be associated with the correct verification scheme.
// Scheme-specific packages register themselves by name (e.g. "ed25519",
// "bls12381-minsig").
type Registry struct {
	schemes map[string]Scheme
}

// Scheme decodes raw public-key bytes produced by a particular signing
// algorithm.
type Scheme interface {
	Name() string
	DecodePubKey(b []byte) (tmconsensus.PubKey, error)
}

// Register adds s to the registry, keyed by its Name().
func (r *Registry) Register(s Scheme) {
	if r.schemes == nil {
		r.schemes = make(map[string]Scheme)
	}
	r.schemes[s.Name()] = s
}

// Decode looks up the scheme named by scheme and decodes b with it.
func (r *Registry) Decode(scheme string, b []byte) (tmconsensus.PubKey, error) {
	s, ok := r.schemes[scheme]
	if !ok {
		return nil, UnknownSchemeError{Scheme: scheme}
	}
	return s.DecodePubKey(b)
}

// UnknownSchemeError reports that no Scheme was registered under the
// requested name.
type UnknownSchemeError struct {
	Scheme string
}

func (e UnknownSchemeError) Error() string {
	return "gcrypto: unknown signature scheme " + e.Scheme
}

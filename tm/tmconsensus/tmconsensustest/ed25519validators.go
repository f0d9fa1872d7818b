package tmconsensustest

import (
	"crypto/sha256"

	"github.com/chorus-consensus/chorus/gcrypto/ged25519"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

// DeterministicValidatorsEd25519 returns n validators with deterministic
// ed25519 keys, ordered by descending power. Deterministic keys make test
// failures reproducible across runs: the same addresses and logs appear
// every time, and there is no per-test key-generation cost.
func DeterministicValidatorsEd25519(n int) PrivVals {
	res := make(PrivVals, n)

	for i := range res {
		seed := sha256.Sum256([]byte{byte(i), byte(i >> 8), 'c', 'h', 'o', 'r', 'u', 's'})
		signer := ged25519.NewSigner(seed[:])
		pub := signer.PubKey()

		res[i] = PrivVal{
			Val: tmconsensus.Validator{
				Address: pub.Address(),
				PubKey:  pub,

				// Descending power keeps validator order stable and matches
				// the deterministic key order, which is convenient when a
				// test asserts on "the first two validators" etc.
				Power: uint64(100_000 - i),
			},
			Signer: signer,
		}
	}

	return res
}

// Package tmconsensustest provides deterministic fixtures for exercising
// tmvote, tmround, tmmux, and tmengine in tests without depending on real
// key generation or wall-clock timers.
package tmconsensustest

import (
	"github.com/chorus-consensus/chorus/gcrypto"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

// PrivVal pairs a plain consensus Validator with the Signer backing it, so
// that tests can both vote as a validator and verify its votes.
type PrivVal struct {
	Val    tmconsensus.Validator
	Signer gcrypto.Signer
}

type PrivVals []PrivVal

func (vs PrivVals) Vals() []tmconsensus.Validator {
	out := make([]tmconsensus.Validator, len(vs))
	for i, v := range vs {
		out[i] = v.Val
	}
	return out
}

// ByAddress returns the PrivVal whose validator address equals addr,
// or false if none match.
func (vs PrivVals) ByAddress(addr tmconsensus.Address) (PrivVal, bool) {
	for _, v := range vs {
		if v.Val.Address == addr {
			return v, true
		}
	}
	return PrivVal{}, false
}

package tmconsensus

import "fmt"

// ValidatorSet is an ordered, immutable-once-built list of validators.
//
// Construction through NewValidatorSet is preferred so the total power and
// per-address lookup index are always consistent with Validators.
type ValidatorSet struct {
	Validators []Validator

	totalPower uint64
	byAddress  map[Address]int
}

// NewValidatorSet builds a ValidatorSet from vs, precomputing the total
// voting power and an address lookup index.
func NewValidatorSet(vs []Validator) (ValidatorSet, error) {
	if len(vs) == 0 {
		return ValidatorSet{}, fmt.Errorf("tmconsensus: validator set must not be empty")
	}

	byAddress := make(map[Address]int, len(vs))
	var total uint64
	for i, v := range vs {
		if _, ok := byAddress[v.Address]; ok {
			return ValidatorSet{}, fmt.Errorf("tmconsensus: duplicate validator address %q", v.Address)
		}
		byAddress[v.Address] = i
		total += v.Power
	}

	return ValidatorSet{
		Validators: vs,
		totalPower: total,
		byAddress:  byAddress,
	}, nil
}

// TotalPower returns the sum of voting power across all validators.
func (vs ValidatorSet) TotalPower() uint64 { return vs.totalPower }

// Lookup returns the validator at addr and whether it was found.
func (vs ValidatorSet) Lookup(addr Address) (Validator, bool) {
	i, ok := vs.byAddress[addr]
	if !ok {
		return Validator{}, false
	}
	return vs.Validators[i], true
}

// PowerOf returns the voting power of addr, or 0 if addr is not a member.
// Per the vote-keeper spec (§4.2 step 1), an unknown voter contributes zero
// weight rather than being rejected here; height/round/signature validity
// is checked upstream by the driver.
func (vs ValidatorSet) PowerOf(addr Address) uint64 {
	v, ok := vs.Lookup(addr)
	if !ok {
		return 0
	}
	return v.Power
}

// Proposer deterministically selects the proposer for (height, round) with
// a closed form driven only by (height, round): seed = height*1_000_003 +
// round+1, and the proposer is the validator whose cumulative power range,
// in Validators order, contains seed % totalPower (seed % len(Validators)
// when total power is zero). Selection is power-weighted but keeps no
// proposer-priority state, so it is not a Tendermint-style priority
// round-robin across heights.
func (vs ValidatorSet) Proposer(h Height, r Round) Address {
	n := len(vs.Validators)
	if n == 0 {
		return ""
	}

	// Deterministic seed combining height and round, then weighted selection
	// proportional to validator power, using cumulative power ranges.
	seed := uint64(h)*1_000_003 + uint64(int64(r)+1)
	total := vs.totalPower
	if total == 0 {
		return vs.Validators[int(seed)%n].Address
	}

	target := seed % total
	var acc uint64
	for _, v := range vs.Validators {
		acc += v.Power
		if target < acc {
			return v.Address
		}
	}
	// Unreachable unless total power overflowed; fall back to last validator.
	return vs.Validators[n-1].Address
}

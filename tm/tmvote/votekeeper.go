// Package tmvote implements the vote keeper (spec.md §4.2): a pure,
// in-memory accumulator of weighted votes across every round of one height,
// reporting quorum and skip thresholds to its caller. It holds no timers and
// performs no I/O; it is driven entirely by tmmux feeding it votes and
// certificates. The accounting shape (per-round prevote/precommit tallies
// keyed by value, plus per-voter weight bookkeeping) follows the
// HeightVoteSet/RoundVoteSet split used by the cometbft reference
// implementation, adapted here to the height/round/value vocabulary of
// tmconsensus instead of block headers.
package tmvote

import (
	"github.com/bits-and-blooms/bitset"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

// Threshold is the outcome of comparing accumulated weight against the
// quorum and skip fractions.
type Threshold uint8

const (
	ThresholdUnreached Threshold = iota
	ThresholdValue
	ThresholdNil
	ThresholdAny
)

// Output mirrors spec.md's VoteKeeperOutput sum type. Exactly one of the
// Round/ValueID-bearing variants is populated per the Kind.
type OutputKind uint8

const (
	OutputNone OutputKind = iota
	OutputPolkaValue
	OutputPolkaNil
	OutputPolkaAny
	OutputPrecommitValue
	OutputPrecommitAny
	OutputSkipRound
)

type Output struct {
	Kind    OutputKind
	Round   tmconsensus.Round
	ValueID tmconsensus.ValueID
}

var None = Output{Kind: OutputNone}

// Evidence records two conflicting votes from the same address, same type,
// same round, but differing value IDs: an equivocation.
type Evidence struct {
	Round tmconsensus.Round
	Type  tmconsensus.VoteType
	First tmconsensus.Vote
	Second tmconsensus.Vote
}

// VoteCount accumulates one vote type's weight for one round, bucketed by
// value ID so several competing values can be tallied concurrently.
type VoteCount struct {
	// votesByValue holds the vote that won each address's current slot in
	// this round/type, keyed by value ID, only for bookkeeping of "who voted
	// for what"; weightByValue is the running weight total per value.
	votesByValue map[tmconsensus.ValueID][]tmconsensus.Vote
	weightByValue map[tmconsensus.ValueID]uint64

	// voterValue tracks the value of each address's first recorded vote, so
	// a later differing vote from the same address is detected as
	// equivocation rather than silently re-tallied; it is not overwritten.
	voterValue map[tmconsensus.Address]tmconsensus.ValueID

	totalWeight uint64
}

func newVoteCount() *VoteCount {
	return &VoteCount{
		votesByValue:  make(map[tmconsensus.ValueID][]tmconsensus.Vote),
		weightByValue: make(map[tmconsensus.ValueID]uint64),
		voterValue:    make(map[tmconsensus.Address]tmconsensus.ValueID),
	}
}

// add records vote's weight against its value ID, returning any equivocation
// evidence if addr already voted for a different value in this count. It
// does not re-credit weight for the equivocating vote.
func (vc *VoteCount) add(vote tmconsensus.Vote, weight uint64) (ev *Evidence, isNew bool) {
	prior, voted := vc.voterValue[vote.VoterAddress]
	if voted {
		if prior == vote.ValueID {
			return nil, false
		}
		// Equivocation: same address, same round/type, different value.
		var first tmconsensus.Vote
		for _, v := range vc.votesByValue[prior] {
			if v.VoterAddress == vote.VoterAddress {
				first = v
				break
			}
		}
		return &Evidence{
			Round: vote.Round,
			Type:  vote.Type,
			First: first,
			Second: vote,
		}, false
	}

	vc.voterValue[vote.VoterAddress] = vote.ValueID
	vc.votesByValue[vote.ValueID] = append(vc.votesByValue[vote.ValueID], vote)
	vc.weightByValue[vote.ValueID] += weight
	vc.totalWeight += weight
	return nil, true
}

func (vc *VoteCount) weightFor(id tmconsensus.ValueID) uint64 {
	return vc.weightByValue[id]
}

// threshold compares vc's accumulated weight against total, per spec.md
// §4.2 step 7. valueHint, when non-empty, is checked first so a caller who
// just added a vote for a specific value can learn if that value alone
// crossed quorum.
func (vc *VoteCount) threshold(total uint64, valueHint tmconsensus.ValueID) (Threshold, tmconsensus.ValueID) {
	if valueHint != "" && !valueHint.IsNil() {
		if w := vc.weightByValue[valueHint]; w*3 > total*2 {
			return ThresholdValue, valueHint
		}
	}
	for id, w := range vc.weightByValue {
		if id.IsNil() {
			continue
		}
		if w*3 > total*2 {
			return ThresholdValue, id
		}
	}
	if w := vc.weightByValue[tmconsensus.ValueID("")]; w*3 > total*2 {
		return ThresholdNil, ""
	}
	if vc.totalWeight*3 > total*2 {
		return ThresholdAny, ""
	}
	return ThresholdUnreached, ""
}

// RoundVotes holds the prevote and precommit counts for a single round.
type RoundVotes struct {
	Prevotes   *VoteCount
	Precommits *VoteCount

	// voters is a compact membership bitset over the validator set's index
	// order, independent of vote type, used to answer the skip-threshold
	// query in step 6 without re-walking every map.
	voters      *bitset.BitSet
	votersWeight uint64

	emitted map[OutputKind]map[tmconsensus.ValueID]bool
}

func newRoundVotes(nVals int) *RoundVotes {
	return &RoundVotes{
		Prevotes:   newVoteCount(),
		Precommits: newVoteCount(),
		voters:     bitset.New(uint(nVals)),
		emitted:    make(map[OutputKind]map[tmconsensus.ValueID]bool),
	}
}

func (rv *RoundVotes) markEmitted(kind OutputKind, id tmconsensus.ValueID) bool {
	m, ok := rv.emitted[kind]
	if !ok {
		m = make(map[tmconsensus.ValueID]bool)
		rv.emitted[kind] = m
	}
	if m[id] {
		return false
	}
	m[id] = true
	return true
}

// State is the vote keeper for one height, tracking RoundVotes across every
// round touched so far.
type State struct {
	height tmconsensus.Height
	vals   tmconsensus.ValidatorSet

	rounds map[tmconsensus.Round]*RoundVotes

	// valIndex maps addresses to a stable index for the RoundVotes bitset.
	valIndex map[tmconsensus.Address]int

	evidence []Evidence
}

// New returns a vote keeper for height, tallying against vals.
func New(height tmconsensus.Height, vals tmconsensus.ValidatorSet) *State {
	idx := make(map[tmconsensus.Address]int, len(vals.Validators))
	for i, v := range vals.Validators {
		idx[v.Address] = i
	}
	return &State{
		height:   height,
		vals:     vals,
		rounds:   make(map[tmconsensus.Round]*RoundVotes),
		valIndex: idx,
	}
}

func (s *State) roundVotes(r tmconsensus.Round) *RoundVotes {
	rv, ok := s.rounds[r]
	if !ok {
		rv = newRoundVotes(len(s.vals.Validators))
		s.rounds[r] = rv
	}
	return rv
}

// Evidence returns every equivocation recorded so far.
func (s *State) Evidence() []Evidence {
	return s.evidence
}

// ApplyVote implements spec.md §4.2's apply_vote. currentRound is the
// driver's round, used only to decide whether vote.round qualifies for the
// skip-round threshold (strictly ahead of currentRound).
func (s *State) ApplyVote(vote tmconsensus.Vote, currentRound tmconsensus.Round) Output {
	weight := s.vals.PowerOf(vote.VoterAddress)
	total := s.vals.TotalPower()

	rv := s.roundVotes(vote.Round)

	var vc *VoteCount
	switch vote.Type {
	case tmconsensus.Prevote:
		vc = rv.Prevotes
	case tmconsensus.Precommit:
		vc = rv.Precommits
	default:
		return None
	}

	ev, isNew := vc.add(vote, weight)
	if ev != nil {
		s.evidence = append(s.evidence, *ev)
	}

	if isNew {
		if idx, ok := s.valIndex[vote.VoterAddress]; ok && !rv.voters.Test(uint(idx)) {
			rv.voters.Set(uint(idx))
			rv.votersWeight += weight
		}
	}

	// Step 6: skip threshold, only for rounds strictly ahead of current.
	if vote.Round > currentRound {
		if rv.votersWeight*3 > total && total > 0 {
			if rv.markEmitted(OutputSkipRound, "") {
				return Output{Kind: OutputSkipRound, Round: vote.Round}
			}
		}
		return None
	}

	return s.thresholdOutput(vote.Round, vote.Type, vc, total, vote.ValueID)
}

func (s *State) thresholdOutput(
	round tmconsensus.Round, vt tmconsensus.VoteType, vc *VoteCount, total uint64, hint tmconsensus.ValueID,
) Output {
	th, id := vc.threshold(total, hint)
	rv := s.rounds[round]

	var kind OutputKind
	switch {
	case vt == tmconsensus.Prevote && th == ThresholdValue:
		kind = OutputPolkaValue
	case vt == tmconsensus.Prevote && th == ThresholdNil:
		kind = OutputPolkaNil
	case vt == tmconsensus.Prevote && th == ThresholdAny:
		kind = OutputPolkaAny
	case vt == tmconsensus.Precommit && th == ThresholdValue:
		kind = OutputPrecommitValue
	case vt == tmconsensus.Precommit && th == ThresholdAny:
		kind = OutputPrecommitAny
	default:
		return None
	}

	emitID := id
	if kind == OutputPolkaNil || kind == OutputPolkaAny || kind == OutputPrecommitAny {
		emitID = ""
	}
	if !rv.markEmitted(kind, emitID) {
		return None
	}

	return Output{Kind: kind, Round: round, ValueID: id}
}

// ApplyCertificate implements spec.md §4.2's apply_certificate: validates
// the certificate, merges its votes into the touched VoteCount, and emits
// the corresponding threshold output. Applying the same certificate twice
// leaves state unchanged after the second call, since every vote it carries
// was already folded into voterValue on the first application.
func (s *State) ApplyCertificate(cert tmconsensus.Certificate, sigScheme tmconsensus.SignatureScheme) Output {
	if err := cert.Validate(s.vals, sigScheme); err != nil {
		return None
	}

	total := s.vals.TotalPower()
	rv := s.roundVotes(cert.Round)

	var vc *VoteCount
	var vt tmconsensus.VoteType
	switch cert.Kind {
	case tmconsensus.PolkaCertificate:
		vc, vt = rv.Prevotes, tmconsensus.Prevote
	case tmconsensus.CommitCertificate:
		vc, vt = rv.Precommits, tmconsensus.Precommit
	default:
		return None
	}

	for _, vote := range cert.Votes {
		weight := s.vals.PowerOf(vote.VoterAddress)
		ev, isNew := vc.add(vote, weight)
		if ev != nil {
			s.evidence = append(s.evidence, *ev)
		}
		if isNew {
			if idx, ok := s.valIndex[vote.VoterAddress]; ok && !rv.voters.Test(uint(idx)) {
				rv.voters.Set(uint(idx))
				rv.votersWeight += weight
			}
		}
	}

	return s.thresholdOutput(cert.Round, vt, vc, total, cert.ValueID)
}

// GetCertificate materializes a certificate for (round, kind, valueID) from
// accumulated votes, whenever at least one vote for valueID has been
// recorded. It does not itself check the quorum threshold; callers are
// expected to have just observed the corresponding Output.
func (s *State) GetCertificate(
	round tmconsensus.Round, kind tmconsensus.CertificateKind, valueID tmconsensus.ValueID,
) (tmconsensus.Certificate, bool) {
	rv, ok := s.rounds[round]
	if !ok {
		return tmconsensus.Certificate{}, false
	}

	var vc *VoteCount
	switch kind {
	case tmconsensus.PolkaCertificate:
		vc = rv.Prevotes
	case tmconsensus.CommitCertificate:
		vc = rv.Precommits
	default:
		return tmconsensus.Certificate{}, false
	}

	votes, ok := vc.votesByValue[valueID]
	if !ok || len(votes) == 0 {
		return tmconsensus.Certificate{}, false
	}

	out := make([]tmconsensus.Vote, len(votes))
	copy(out, votes)

	return tmconsensus.Certificate{
		Kind:    kind,
		Height:  s.height,
		Round:   round,
		ValueID: valueID,
		Votes:   out,
	}, true
}

// CheckThreshold reports whether a quorum for valueID (or, for an empty
// valueID, the any-value threshold) already holds for (round, voteType),
// without side effects or emitting an Output.
func (s *State) CheckThreshold(round tmconsensus.Round, vt tmconsensus.VoteType, valueID tmconsensus.ValueID) bool {
	rv, ok := s.rounds[round]
	if !ok {
		return false
	}

	var vc *VoteCount
	switch vt {
	case tmconsensus.Prevote:
		vc = rv.Prevotes
	case tmconsensus.Precommit:
		vc = rv.Precommits
	default:
		return false
	}

	total := s.vals.TotalPower()
	if valueID == "" {
		return vc.totalWeight*3 > total*2
	}
	return vc.weightFor(valueID)*3 > total*2
}

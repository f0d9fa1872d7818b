// Package tmround implements the round state machine (spec.md §4.1): a
// deterministic, pure transition function for a single (height, round) that
// holds no networking, no timers, and no storage. It is driven entirely by
// tmmux, which owns the vote keeper and synthesizes RoundInput values from
// vote-keeper output; tmengine applies the resulting RoundOutput values
// (signing, timeouts, decisions) against the host.
//
// Apply never fails: any input that doesn't match the current step reduces
// to a None output, mirroring the teacher's style of total functions over
// sum-typed inputs rather than returning an error for "nothing to do here".
package tmround

import (
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

// Step is the round's lifecycle stage. Steps advance monotonically within
// a round: Unstarted -> Propose -> Prevote -> Precommit -> Commit.
type Step uint8

const (
	Unstarted Step = iota
	Propose
	Prevote
	Precommit
	Commit
)

func (s Step) String() string {
	switch s {
	case Unstarted:
		return "Unstarted"
	case Propose:
		return "Propose"
	case Prevote:
		return "Prevote"
	case Precommit:
		return "Precommit"
	case Commit:
		return "Commit"
	default:
		return "Step(?)"
	}
}

// InputKind enumerates the RoundInput variants from spec.md §4.1.
type InputKind uint8

const (
	_ InputKind = iota
	InputNewRound
	InputNewRoundProposer
	InputProposeValue
	InputProposal
	InputProposalAndPolkaPrevious
	InputProposalAndPolkaCurrent
	InputProposalAndPolkaAndInvalid
	InputProposalInvalid
	InputProposalAndCommitAndValid
	InputPolkaNil
	InputPolkaAny
	InputPrecommitAny
	InputRoundSkip
	InputTimeoutPropose
	InputTimeoutPrevote
	InputTimeoutPrecommit
)

// Input is a RoundInput value. Only the fields relevant to Kind are
// populated; see the constructor functions below.
type Input struct {
	Kind InputKind

	// Round carries the target round for NewRound, NewRoundProposer,
	// RoundSkip, and the decided/polka round for ProposalAndPolkaPrevious
	// and ProposalAndCommitAndValid.
	Round tmconsensus.Round

	// Value carries the proposed or decided value for ProposeValue,
	// Proposal-bearing inputs, and ProposalAndCommitAndValid.
	Value tmconsensus.Value

	// Proposal is the full signed proposal backing a Proposal-bearing
	// input, when one exists (absent for PolkaNil/PolkaAny/PrecommitAny).
	Proposal *tmconsensus.Proposal
}

func NewRound(r tmconsensus.Round) Input         { return Input{Kind: InputNewRound, Round: r} }
func NewRoundProposer(r tmconsensus.Round) Input { return Input{Kind: InputNewRoundProposer, Round: r} }
func ProposeValue(v tmconsensus.Value) Input     { return Input{Kind: InputProposeValue, Value: v} }

func Proposal(p tmconsensus.Proposal) Input {
	return Input{Kind: InputProposal, Value: p.Value, Proposal: &p}
}

func ProposalAndPolkaPrevious(p tmconsensus.Proposal, vr tmconsensus.Round) Input {
	return Input{Kind: InputProposalAndPolkaPrevious, Value: p.Value, Round: vr, Proposal: &p}
}

func ProposalAndPolkaCurrent(p tmconsensus.Proposal) Input {
	return Input{Kind: InputProposalAndPolkaCurrent, Value: p.Value, Proposal: &p}
}

func ProposalAndPolkaAndInvalid(p tmconsensus.Proposal) Input {
	return Input{Kind: InputProposalAndPolkaAndInvalid, Value: p.Value, Proposal: &p}
}

func ProposalInvalid() Input { return Input{Kind: InputProposalInvalid} }

func ProposalAndCommitAndValid(r tmconsensus.Round, v tmconsensus.Value) Input {
	return Input{Kind: InputProposalAndCommitAndValid, Round: r, Value: v}
}

func PolkaNil() Input     { return Input{Kind: InputPolkaNil} }
func PolkaAny() Input     { return Input{Kind: InputPolkaAny} }
func PrecommitAny() Input { return Input{Kind: InputPrecommitAny} }

func RoundSkip(r tmconsensus.Round) Input { return Input{Kind: InputRoundSkip, Round: r} }

func TimeoutPropose() Input   { return Input{Kind: InputTimeoutPropose} }
func TimeoutPrevote() Input   { return Input{Kind: InputTimeoutPrevote} }
func TimeoutPrecommit() Input { return Input{Kind: InputTimeoutPrecommit} }

// OutputKind enumerates the RoundOutput variants from spec.md §4.1.
type OutputKind uint8

const (
	OutputNone OutputKind = iota
	OutputProposal
	OutputVote
	OutputScheduleTimeout
	OutputGetValueAndScheduleTimeout
	OutputDecision
	OutputSkipRound
)

// Output is a RoundOutput value.
type Output struct {
	Kind OutputKind

	// Proposal is populated for OutputProposal. ProposerAddress is set from
	// State.SelfAddress; Signature is left zero and filled by tmengine
	// before broadcasting.
	Proposal tmconsensus.Proposal

	// Vote is populated for OutputVote. VoterAddress is set from
	// State.SelfAddress and Signature is left zero, as for Proposal;
	// Extension is left empty even for precommits, since extending a vote
	// is a host-side effect (ExtendVote) that tmengine requests for non-nil
	// precommits before signing.
	Vote tmconsensus.Vote

	// TimeoutStep names which timer to start, for OutputScheduleTimeout and
	// OutputGetValueAndScheduleTimeout (always Propose for the latter).
	TimeoutStep Step

	// Round carries the destination round for OutputSkipRound and the
	// decided round for OutputDecision.
	Round tmconsensus.Round

	// Value carries the decided value for OutputDecision.
	Value tmconsensus.Value
}

var None = Output{Kind: OutputNone}

// LockedValue is the (round, value) pair recorded by State.Locked and
// State.Valid: the round in which this validator last issued a Precommit
// for Value (Locked), or last observed a polka for Value (Valid).
type LockedValue struct {
	Round tmconsensus.Round
	Value tmconsensus.Value
}

// State is one round's state machine instance. A new State is constructed
// by tmmux for every round a height passes through, seeded with whatever
// Locked/Valid carried over from the previous round.
type State struct {
	Height tmconsensus.Height
	Round  tmconsensus.Round
	Step   Step

	// SelfAddress stamps ProposerAddress/VoterAddress on values this
	// participant emits; it is never compared against anything, only
	// copied onto outputs.
	SelfAddress tmconsensus.Address

	Proposal *tmconsensus.Proposal
	Locked   *LockedValue
	Valid    *LockedValue
	Decision tmconsensus.Value

	isProposer bool

	lockedThisRound    bool
	polkaAnyEmitted    bool
	precommitAnyEmitted bool
}

// New constructs the state machine for (height, round), carrying forward
// locked and valid from the previous round (either may be nil).
func New(h tmconsensus.Height, r tmconsensus.Round, self tmconsensus.Address, locked, valid *LockedValue) State {
	return State{
		Height:      h,
		Round:       r,
		Step:        Unstarted,
		SelfAddress: self,
		Locked:      locked,
		Valid:       valid,
	}
}

// Apply is the pure transition function apply(state, input) -> (state',
// output) from spec.md §4.1. It never returns an error: inputs that don't
// match the current step, or fail a guard, reduce to None.
func Apply(s State, in Input) (State, Output) {
	// Universal transitions, checked ahead of the per-step table, mirroring
	// the "any" rows in spec.md's transition table.
	if in.Kind == InputProposalAndCommitAndValid && s.Decision == nil {
		s.Decision = in.Value
		s.Step = Commit
		return s, Output{Kind: OutputDecision, Round: in.Round, Value: in.Value}
	}

	if in.Kind == InputRoundSkip && in.Round > s.Round {
		return s, Output{Kind: OutputSkipRound, Round: in.Round}
	}

	if s.Step != Commit {
		switch in.Kind {
		case InputPrecommitAny:
			if !s.precommitAnyEmitted {
				s.precommitAnyEmitted = true
				return s, Output{Kind: OutputScheduleTimeout, TimeoutStep: Precommit}
			}
			return s, None
		case InputTimeoutPrecommit:
			s.Step = Unstarted
			return s, Output{Kind: OutputSkipRound, Round: s.Round + 1}
		}
	}

	switch s.Step {
	case Unstarted:
		return applyUnstarted(s, in)
	case Propose:
		return applyPropose(s, in)
	case Prevote:
		return applyPrevote(s, in)
	case Precommit:
		return applyPrecommit(s, in)
	default:
		return s, None
	}
}

func applyUnstarted(s State, in Input) (State, Output) {
	switch in.Kind {
	case InputNewRound:
		s.isProposer = false
		s.Step = Propose
		return s, Output{Kind: OutputScheduleTimeout, TimeoutStep: Propose}

	case InputNewRoundProposer:
		s.isProposer = true
		s.Step = Propose
		if s.Valid == nil {
			return s, Output{Kind: OutputGetValueAndScheduleTimeout, TimeoutStep: Propose}
		}
		p := tmconsensus.Proposal{
			Height:          s.Height,
			Round:           s.Round,
			Value:           s.Valid.Value,
			ValidRound:      s.Valid.Round,
			ProposerAddress: s.SelfAddress,
		}
		return s, Output{Kind: OutputProposal, Proposal: p}

	default:
		return s, None
	}
}

func applyPropose(s State, in Input) (State, Output) {
	switch in.Kind {
	case InputProposeValue:
		if !s.isProposer {
			return s, None
		}
		p := tmconsensus.Proposal{
			Height:          s.Height,
			Round:           s.Round,
			Value:           in.Value,
			ValidRound:      tmconsensus.NoRound,
			ProposerAddress: s.SelfAddress,
		}
		return s, Output{Kind: OutputProposal, Proposal: p}

	case InputProposal:
		s.Proposal = in.Proposal
		s.Step = Prevote
		// A proposal with valid_round=-1 carries no polka evidence of its
		// own, so a validator locked on a different value must not prevote
		// for it: the lock only releases when a newer polka is observed
		// (ProposalAndPolkaPrevious, handled below), never on a bare
		// unlocked reproposal. Tendermint Alg.1 lines 22-27.
		if s.Locked != nil && s.Locked.Value.ID() != in.Value.ID() {
			return s, Output{Kind: OutputVote, Vote: tmconsensus.Vote{
				Type:         tmconsensus.Prevote,
				Height:       s.Height,
				Round:        s.Round,
				ValueID:      "",
				VoterAddress: s.SelfAddress,
			}}
		}
		return s, Output{Kind: OutputVote, Vote: tmconsensus.Vote{
			Type:         tmconsensus.Prevote,
			Height:       s.Height,
			Round:        s.Round,
			ValueID:      in.Value.ID(),
			VoterAddress: s.SelfAddress,
		}}

	case InputProposalAndPolkaPrevious:
		// Subsumed by the polka certificate attached to this input: the
		// driver only synthesizes ProposalAndPolkaPrevious when a verified
		// polka for (vr, v) exists, which is by definition newer than any
		// lock this validator could hold at vr < current round, so no lock
		// re-check is needed here (spec.md §4.1 note).
		s.Proposal = in.Proposal
		s.Step = Prevote
		return s, Output{Kind: OutputVote, Vote: tmconsensus.Vote{
			Type:         tmconsensus.Prevote,
			Height:       s.Height,
			Round:        s.Round,
			ValueID:      in.Value.ID(),
			VoterAddress: s.SelfAddress,
		}}

	case InputProposalInvalid, InputProposalAndPolkaAndInvalid, InputTimeoutPropose:
		s.Step = Prevote
		return s, Output{Kind: OutputVote, Vote: tmconsensus.Vote{
			Type:         tmconsensus.Prevote,
			Height:       s.Height,
			Round:        s.Round,
			ValueID:      "",
			VoterAddress: s.SelfAddress,
		}}

	default:
		return s, None
	}
}

func applyPrevote(s State, in Input) (State, Output) {
	switch in.Kind {
	case InputProposalAndPolkaCurrent:
		if s.lockedThisRound {
			return s, None
		}
		s.lockedThisRound = true
		s.Locked = &LockedValue{Round: s.Round, Value: in.Value}
		s.Valid = &LockedValue{Round: s.Round, Value: in.Value}
		s.Step = Precommit
		return s, Output{Kind: OutputVote, Vote: tmconsensus.Vote{
			Type:         tmconsensus.Precommit,
			Height:       s.Height,
			Round:        s.Round,
			ValueID:      in.Value.ID(),
			VoterAddress: s.SelfAddress,
		}}

	case InputPolkaNil:
		s.Step = Precommit
		return s, Output{Kind: OutputVote, Vote: tmconsensus.Vote{
			Type:         tmconsensus.Precommit,
			Height:       s.Height,
			Round:        s.Round,
			ValueID:      "",
			VoterAddress: s.SelfAddress,
		}}

	case InputPolkaAny:
		if s.polkaAnyEmitted {
			return s, None
		}
		s.polkaAnyEmitted = true
		return s, Output{Kind: OutputScheduleTimeout, TimeoutStep: Prevote}

	case InputTimeoutPrevote:
		s.Step = Precommit
		return s, Output{Kind: OutputVote, Vote: tmconsensus.Vote{
			Type:         tmconsensus.Precommit,
			Height:       s.Height,
			Round:        s.Round,
			ValueID:      "",
			VoterAddress: s.SelfAddress,
		}}

	default:
		return s, None
	}
}

func applyPrecommit(s State, in Input) (State, Output) {
	switch in.Kind {
	case InputProposalAndPolkaCurrent:
		// Refresh valid only; a newer polka for the current round doesn't
		// change locked or trigger another precommit once already locked.
		s.Valid = &LockedValue{Round: s.Round, Value: in.Value}
		return s, None

	default:
		return s, None
	}
}

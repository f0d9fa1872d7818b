// Package tmmux implements the driver/multiplexer (spec.md §4.3): it owns
// one height's tmvote.State and tmround.State, feeds them from incoming
// proposals/votes/certificates/timeouts, and synthesizes the RoundInput
// that the round state machine should see next. It is owned exclusively by
// tmengine, one instance per height in flight, and is never accessed from
// more than one goroutine at a time -- the single-threaded cooperative
// scheduling model from spec.md §5.
package tmmux

import (
	"log/slog"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmround"
	"github.com/chorus-consensus/chorus/tm/tmvote"
)

// InputKind enumerates the driver-level Input variants from spec.md §4.3.
type InputKind uint8

const (
	_ InputKind = iota
	InputNewHeight
	InputProposal
	InputVote
	InputCertificate
	InputTimeout
	InputProposeValue
)

// Input is one event fed into Driver.Process.
type Input struct {
	Kind InputKind

	// Height/Validators populate InputNewHeight.
	Height     tmconsensus.Height
	Validators tmconsensus.ValidatorSet

	Proposal    *tmconsensus.Proposal
	Vote        *tmconsensus.Vote
	Certificate *tmconsensus.Certificate

	// TimeoutStep names which timer fired, for InputTimeout.
	TimeoutStep tmround.Step

	// Value populates InputProposeValue, the host's response to
	// GetValueAndScheduleTimeout.
	Value tmconsensus.Value
}

// Decision is recorded in Driver.Decision, with Driver.Decided set, when
// Driver.Process decides a height.
type Decision struct {
	Round       tmconsensus.Round
	Value       tmconsensus.Value
	Certificate tmconsensus.Certificate
}

// ValueValidator reports whether a received value passes application-level
// validation, independent of consensus validity. tmengine supplies this as
// a synchronous wrapper around a tmdriver.ValidateValueRequest round trip.
type ValueValidator func(tmconsensus.Value) bool

// Driver is the per-height multiplexer. New fields are exported for tmengine
// to inspect (e.g. CurrentRound, Decided) between Process calls; nothing
// outside this package mutates them directly.
type Driver struct {
	log *slog.Logger

	SelfAddress tmconsensus.Address
	SigScheme   tmconsensus.SignatureScheme
	ValidValue  ValueValidator

	Height tmconsensus.Height
	Vals   tmconsensus.ValidatorSet

	CurrentRound tmconsensus.Round
	Round        tmround.State

	VK *tmvote.State

	// proposals holds every proposal seen for this height, indexed by
	// round, retaining all of them even under a Byzantine proposer who
	// sends conflicting proposals for the same round.
	proposals map[tmconsensus.Round][]tmconsensus.Proposal

	polkaCerts  map[tmconsensus.Round]tmconsensus.Certificate
	commitCerts map[tmconsensus.Round]tmconsensus.Certificate

	// pending holds RoundInputs synthesized from a vote-keeper threshold
	// that arrived before the round state machine reached the step that
	// input applies to (spec.md §4.3 step 4, "deferred inputs"): e.g. a
	// PolkaAny/PolkaNil threshold observed while this validator is still in
	// Propose, before it has cast its own prevote. tmvote never re-emits a
	// threshold once delivered, so losing it here would stall the round;
	// instead it is parked and replayed on every subsequent step change
	// until it applies or the round is abandoned (decided or skipped).
	pending []tmround.Input

	Decided  bool
	Decision Decision
}

// New starts a fresh driver for height h with no prior locked/valid value.
func New(
	log *slog.Logger,
	h tmconsensus.Height, vals tmconsensus.ValidatorSet,
	self tmconsensus.Address, sigScheme tmconsensus.SignatureScheme, validValue ValueValidator,
) *Driver {
	d := &Driver{
		log:         log,
		SelfAddress: self,
		SigScheme:   sigScheme,
		ValidValue:  validValue,
		Height:      h,
		Vals:        vals,
		proposals:   make(map[tmconsensus.Round][]tmconsensus.Proposal),
		polkaCerts:  make(map[tmconsensus.Round]tmconsensus.Certificate),
		commitCerts: make(map[tmconsensus.Round]tmconsensus.Certificate),
	}
	d.VK = tmvote.New(h, vals)
	d.enterRound(0, nil, nil)
	return d
}

func (d *Driver) enterRound(r tmconsensus.Round, locked, valid *tmround.LockedValue) []tmround.Output {
	d.CurrentRound = r
	d.Round = tmround.New(d.Height, r, d.SelfAddress, locked, valid)

	// A new round gets its own State instance; any input still parked from
	// the previous round no longer applies to it.
	d.pending = nil

	proposer := d.Vals.Proposer(d.Height, r)
	var in tmround.Input
	if proposer == d.SelfAddress {
		in = tmround.NewRoundProposer(r)
	} else {
		in = tmround.NewRound(r)
	}
	return d.applyRoundCore(in)
}

// applyRoundCore feeds in into the round state machine, handling the
// universal SkipRound/Decision side effects (round transitions, decision
// bookkeeping) before returning the raw outputs to the caller. It does not
// itself drain d.pending; callers that may have unblocked a deferred input
// go through applyRound instead.
func (d *Driver) applyRoundCore(in tmround.Input) []tmround.Output {
	s, out := tmround.Apply(d.Round, in)
	d.Round = s

	outs := []tmround.Output{out}

	switch out.Kind {
	case tmround.OutputSkipRound:
		outs = append(outs, d.enterRound(out.Round, d.Round.Locked, d.Round.Valid)...)
		return outs

	case tmround.OutputDecision:
		// out.Round is the round the ProposalAndCommitAndValid short-cut
		// decided on, which may be earlier than d.CurrentRound (the short-cut
		// can fire from any step, including a round this validator has
		// already moved past). The commit certificate must be looked up for
		// that decided round, not the driver's current one.
		cert, ok := d.VK.GetCertificate(out.Round, tmconsensus.CommitCertificate, out.Value.ID())
		if !ok {
			if c, ok2 := d.commitCerts[out.Round]; ok2 {
				cert, ok = c, true
			}
		}
		d.Decided = true
		d.Decision = Decision{Round: out.Round, Value: out.Value, Certificate: cert}
		return outs
	}

	return outs
}

// applyRound is applyRoundCore plus a drain of any previously deferred
// input that the step transition just performed may have unblocked.
func (d *Driver) applyRound(in tmround.Input) []tmround.Output {
	outs := d.applyRoundCore(in)
	outs = append(outs, d.drainPending()...)
	return outs
}

// stepReady reports whether in can be fed to the round state machine given
// its current step. PolkaAny/PolkaNil only apply while in Prevote (spec.md
// §4.1's table); if the vote keeper's threshold arrives earlier -- e.g. 2f+1
// prevotes observed while this validator is still in Propose, per spec.md
// §8 scenario 4's worked skip example extended to the polka case -- the
// input must wait rather than be silently dropped.
func (d *Driver) stepReady(in tmround.Input) bool {
	switch in.Kind {
	case tmround.InputPolkaAny, tmround.InputPolkaNil:
		return d.Round.Step == tmround.Prevote
	case tmround.InputPrecommitAny:
		return d.Round.Step != tmround.Commit
	default:
		return true
	}
}

// drainPending replays every parked input that stepReady now accepts,
// repeating until a full pass makes no progress (the bounded fixpoint from
// spec.md §9's design notes: at most one transition per round per step, so
// this always terminates). Inputs that remain not-ready stay parked for the
// next step change; the round entirely abandoning them happens in
// enterRound, which clears d.pending outright.
func (d *Driver) drainPending() []tmround.Output {
	var outs []tmround.Output
	for {
		if d.Decided || len(d.pending) == 0 {
			return outs
		}

		batch := d.pending
		d.pending = nil

		progressed := false
		for _, in := range batch {
			if d.Decided {
				// The height decided partway through this batch; whatever is
				// left unvisited in batch is abandoned along with the round.
				break
			}
			if d.stepReady(in) {
				progressed = true
				outs = append(outs, d.applyRoundCore(in)...)
			} else {
				d.pending = append(d.pending, in)
			}
		}

		if !progressed {
			return outs
		}
	}
}

// Process implements the driver's public process(input) -> []RoundOutput
// operation (spec.md §4.3).
func (d *Driver) Process(in Input) []tmround.Output {
	switch in.Kind {
	case InputProposal:
		return d.processProposal(*in.Proposal)
	case InputVote:
		return d.processVote(*in.Vote)
	case InputCertificate:
		return d.processCertificate(*in.Certificate)
	case InputTimeout:
		return d.processTimeout(in.TimeoutStep)
	case InputProposeValue:
		return d.applyRound(tmround.ProposeValue(in.Value))
	default:
		return nil
	}
}

func (d *Driver) processProposal(p tmconsensus.Proposal) []tmround.Output {
	// Pre-validation: drop proposals not signed by the round's proposer.
	if p.ProposerAddress != d.Vals.Proposer(d.Height, p.Round) {
		d.log.Info("Dropping proposal from non-proposer",
			"round", p.Round, "got_proposer", p.ProposerAddress)
		return nil
	}

	d.proposals[p.Round] = append(d.proposals[p.Round], p)

	if p.Round != d.CurrentRound {
		// Old or future round: retained for evidence/eventual round-skip,
		// but not fed to the state machine directly.
		return nil
	}

	valid := d.ValidValue == nil || d.ValidValue(p.Value)

	switch {
	case p.ValidRound == tmconsensus.NoRound && d.Round.Step == tmround.Propose:
		if !valid {
			return d.dispatchOrDefer(tmround.ProposalInvalid())
		}
		return d.dispatchOrDefer(tmround.Proposal(p))

	case p.ValidRound >= 0:
		if cert, ok := d.polkaCerts[p.ValidRound]; ok && cert.ValueID == p.Value.ID() {
			if !valid {
				return d.dispatchOrDefer(tmround.ProposalAndPolkaAndInvalid(p))
			}
			return d.dispatchOrDefer(tmround.ProposalAndPolkaPrevious(p, p.ValidRound))
		}
		// Polka for the claimed valid_round hasn't arrived yet; park the
		// proposal until it does (it is already stored in d.proposals).
		return nil

	default:
		return nil
	}
}

func (d *Driver) processVote(v tmconsensus.Vote) []tmround.Output {
	if _, ok := d.Vals.Lookup(v.VoterAddress); !ok {
		d.log.Info("Dropping vote from non-validator", "voter", v.VoterAddress)
		return nil
	}

	out := d.VK.ApplyVote(v, d.CurrentRound)
	return d.dispatchVoteKeeperOutput(out)
}

func (d *Driver) processCertificate(c tmconsensus.Certificate) []tmround.Output {
	out := d.VK.ApplyCertificate(c, d.SigScheme)
	if out.Kind == tmvote.OutputPolkaValue {
		d.polkaCerts[c.Round] = c
	}
	if out.Kind == tmvote.OutputPrecommitValue {
		d.commitCerts[c.Round] = c
	}
	return d.dispatchVoteKeeperOutput(out)
}

func (d *Driver) processTimeout(step tmround.Step) []tmround.Output {
	if step != d.Round.Step {
		return nil
	}
	switch step {
	case tmround.Propose:
		return d.applyRound(tmround.TimeoutPropose())
	case tmround.Prevote:
		return d.applyRound(tmround.TimeoutPrevote())
	case tmround.Precommit:
		return d.applyRound(tmround.TimeoutPrecommit())
	default:
		return nil
	}
}

// dispatchVoteKeeperOutput implements the multiplex table of spec.md §4.3,
// turning a tmvote.Output into the corresponding tmround.Input (if any).
func (d *Driver) dispatchVoteKeeperOutput(out tmvote.Output) []tmround.Output {
	switch out.Kind {
	case tmvote.OutputPolkaValue:
		if out.Round == d.CurrentRound {
			if p, ok := d.matchingProposal(out.Round, out.ValueID); ok {
				return d.dispatchOrDefer(tmround.ProposalAndPolkaCurrent(p))
			}
			return d.dispatchOrDefer(tmround.PolkaAny())
		}
		if out.Round < d.CurrentRound {
			if p, ok := d.proposalWithValidRound(d.CurrentRound, out.Round, out.ValueID); ok {
				return d.dispatchOrDefer(tmround.ProposalAndPolkaPrevious(p, out.Round))
			}
		}
		return nil

	case tmvote.OutputPolkaNil:
		if out.Round == d.CurrentRound {
			return d.dispatchOrDefer(tmround.PolkaNil())
		}
		return nil

	case tmvote.OutputPolkaAny:
		if out.Round == d.CurrentRound {
			return d.dispatchOrDefer(tmround.PolkaAny())
		}
		return nil

	case tmvote.OutputPrecommitValue:
		if p, ok := d.matchingProposalAnyRound(out.Round, out.ValueID); ok {
			_ = p
			return d.dispatchOrDefer(tmround.ProposalAndCommitAndValid(out.Round, d.valueOf(out.Round, out.ValueID)))
		}
		if out.Round == d.CurrentRound {
			return d.dispatchOrDefer(tmround.PrecommitAny())
		}
		return nil

	case tmvote.OutputPrecommitAny:
		if out.Round == d.CurrentRound {
			return d.dispatchOrDefer(tmround.PrecommitAny())
		}
		return nil

	case tmvote.OutputSkipRound:
		if out.Round > d.CurrentRound {
			return d.dispatchOrDefer(tmround.RoundSkip(out.Round))
		}
		return nil

	default:
		return nil
	}
}

// dispatchOrDefer feeds in to the round state machine if the current step
// accepts it; otherwise it implements spec.md §4.3 step 4's "deferred
// inputs" by parking in on d.pending, to be retried on every subsequent
// step change (see drainPending) until it applies or the round is
// abandoned. Proposal/certificate-matching inputs above are already guarded
// by a stored-proposal/stored-certificate lookup before reaching here, so
// in practice only PolkaAny/PolkaNil/PrecommitAny -- which depend solely on
// the round's current step, not on any stored evidence -- can actually be
// deferred; stepReady is consulted uniformly regardless.
func (d *Driver) dispatchOrDefer(in tmround.Input) []tmround.Output {
	if !d.stepReady(in) {
		d.pending = append(d.pending, in)
		return nil
	}
	return d.applyRound(in)
}

func (d *Driver) matchingProposal(round tmconsensus.Round, id tmconsensus.ValueID) (tmconsensus.Proposal, bool) {
	for _, p := range d.proposals[round] {
		if p.Value.ID() == id {
			return p, true
		}
	}
	return tmconsensus.Proposal{}, false
}

func (d *Driver) matchingProposalAnyRound(round tmconsensus.Round, id tmconsensus.ValueID) (tmconsensus.Proposal, bool) {
	return d.matchingProposal(round, id)
}

func (d *Driver) proposalWithValidRound(round, validRound tmconsensus.Round, id tmconsensus.ValueID) (tmconsensus.Proposal, bool) {
	for _, p := range d.proposals[round] {
		if p.ValidRound == validRound && p.Value.ID() == id {
			return p, true
		}
	}
	return tmconsensus.Proposal{}, false
}

func (d *Driver) valueOf(round tmconsensus.Round, id tmconsensus.ValueID) tmconsensus.Value {
	if p, ok := d.matchingProposal(round, id); ok {
		return p.Value
	}
	return nil
}

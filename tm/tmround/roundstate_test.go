package tmround_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmround"
)

type testValue string

func (v testValue) ID() tmconsensus.ValueID { return tmconsensus.ValueID(v) }

const (
	alice tmconsensus.Address = "alice"
)

func TestHappyPath_ProposerWithoutValid(t *testing.T) {
	s := tmround.New(1, 0, alice, nil, nil)

	s, out := tmround.Apply(s, tmround.NewRoundProposer(0))
	require.Equal(t, tmround.OutputGetValueAndScheduleTimeout, out.Kind)
	require.Equal(t, tmround.Propose, s.Step)

	s, out = tmround.Apply(s, tmround.ProposeValue(testValue("A")))
	require.Equal(t, tmround.OutputProposal, out.Kind)
	require.Equal(t, testValue("A"), out.Proposal.Value)
	require.Equal(t, tmconsensus.NoRound, out.Proposal.ValidRound)

	p := tmconsensus.Proposal{Height: 1, Round: 0, Value: testValue("A"), ValidRound: tmconsensus.NoRound}
	s, out = tmround.Apply(s, tmround.Proposal(p))
	require.Equal(t, tmround.OutputVote, out.Kind)
	require.Equal(t, tmconsensus.Prevote, out.Vote.Type)
	require.Equal(t, tmconsensus.ValueID("A"), out.Vote.ValueID)
	require.Equal(t, tmround.Prevote, s.Step)

	s, out = tmround.Apply(s, tmround.ProposalAndPolkaCurrent(p))
	require.Equal(t, tmround.OutputVote, out.Kind)
	require.Equal(t, tmconsensus.Precommit, out.Vote.Type)
	require.Equal(t, tmconsensus.ValueID("A"), out.Vote.ValueID)
	require.Equal(t, tmround.Precommit, s.Step)
	require.NotNil(t, s.Locked)
	require.Equal(t, testValue("A"), s.Locked.Value)

	s, out = tmround.Apply(s, tmround.ProposalAndCommitAndValid(0, testValue("A")))
	require.Equal(t, tmround.OutputDecision, out.Kind)
	require.Equal(t, testValue("A"), out.Value)
	require.Equal(t, tmround.Commit, s.Step)
}

func TestNilDecisionAfterProposeTimeout(t *testing.T) {
	s := tmround.New(1, 0, alice, nil, nil)
	s, _ = tmround.Apply(s, tmround.NewRound(0))
	require.Equal(t, tmround.Propose, s.Step)

	s, out := tmround.Apply(s, tmround.TimeoutPropose())
	require.Equal(t, tmround.OutputVote, out.Kind)
	require.True(t, out.Vote.ValueID.IsNil())
	require.Equal(t, tmround.Prevote, s.Step)

	s, out = tmround.Apply(s, tmround.PolkaNil())
	require.Equal(t, tmround.OutputVote, out.Kind)
	require.True(t, out.Vote.ValueID.IsNil())
	require.Equal(t, tmconsensus.Precommit, out.Vote.Type)
	require.Equal(t, tmround.Precommit, s.Step)

	s, out = tmround.Apply(s, tmround.TimeoutPrecommit())
	require.Equal(t, tmround.OutputSkipRound, out.Kind)
	require.Equal(t, tmconsensus.Round(1), out.Round)
	require.Equal(t, tmround.Unstarted, s.Step)
}

func TestLockPreventsPrevoteForDifferentValue(t *testing.T) {
	// Round 0: locks on "A".
	s := tmround.New(1, 0, alice, nil, nil)
	s, _ = tmround.Apply(s, tmround.NewRound(0))
	pA := tmconsensus.Proposal{Height: 1, Round: 0, Value: testValue("A"), ValidRound: tmconsensus.NoRound}
	s, _ = tmround.Apply(s, tmround.Proposal(pA))
	s, out := tmround.Apply(s, tmround.ProposalAndPolkaCurrent(pA))
	require.Equal(t, tmconsensus.ValueID("A"), out.Vote.ValueID)
	require.NotNil(t, s.Locked)
	require.Equal(t, tmconsensus.Round(0), s.Locked.Round)

	// Round 1: a new proposer proposes "B" with no valid_round (vr=-1, no
	// polka evidence). This validator is still locked on "A" from round 0,
	// so even though the proposal itself is well-formed and application
	// valid, the state machine must prevote Nil rather than "B".
	next := tmround.New(1, 1, alice, s.Locked, s.Valid)
	require.Equal(t, tmconsensus.Round(0), next.Locked.Round)
	require.Equal(t, testValue("A"), next.Locked.Value)

	next, _ = tmround.Apply(next, tmround.NewRound(1))
	pB := tmconsensus.Proposal{Height: 1, Round: 1, Value: testValue("B"), ValidRound: tmconsensus.NoRound}
	next, out = tmround.Apply(next, tmround.Proposal(pB))
	require.Equal(t, tmround.OutputVote, out.Kind)
	require.Equal(t, tmconsensus.Prevote, out.Vote.Type)
	require.True(t, out.Vote.ValueID.IsNil(), "validator locked on A must prevote Nil for B, not vote %q", out.Vote.ValueID)
	require.Equal(t, tmround.Prevote, next.Step)
}

func TestLockUnlocksOnNewerPolka(t *testing.T) {
	s := tmround.New(1, 2, alice, &tmround.LockedValue{Round: 0, Value: testValue("A")}, &tmround.LockedValue{Round: 0, Value: testValue("A")})
	s, _ = tmround.Apply(s, tmround.NewRound(2))

	pA := tmconsensus.Proposal{Height: 1, Round: 2, Value: testValue("A"), ValidRound: 0}
	s, out := tmround.Apply(s, tmround.ProposalAndPolkaPrevious(pA, 0))
	require.Equal(t, tmconsensus.ValueID("A"), out.Vote.ValueID)

	s, out = tmround.Apply(s, tmround.ProposalAndPolkaCurrent(pA))
	require.Equal(t, tmconsensus.Precommit, out.Vote.Type)
	require.Equal(t, tmconsensus.Round(2), s.Locked.Round)
	require.Equal(t, testValue("A"), s.Locked.Value)
}

func TestRoundSkipViaFPlusOne(t *testing.T) {
	s := tmround.New(1, 0, alice, nil, nil)
	s, _ = tmround.Apply(s, tmround.NewRound(0))

	s, out := tmround.Apply(s, tmround.RoundSkip(3))
	require.Equal(t, tmround.OutputSkipRound, out.Kind)
	require.Equal(t, tmconsensus.Round(3), out.Round)

	// A RoundSkip for a round not ahead of current must not fire.
	s2 := tmround.New(1, 5, alice, nil, nil)
	s2, _ = tmround.Apply(s2, tmround.NewRound(5))
	_, out2 := tmround.Apply(s2, tmround.RoundSkip(3))
	require.Equal(t, tmround.None, out2)
}

func TestPolkaAnyAndPrecommitAnyEmitOnceEach(t *testing.T) {
	s := tmround.New(1, 0, alice, nil, nil)
	s, _ = tmround.Apply(s, tmround.NewRound(0))
	s, _ = tmround.Apply(s, tmround.TimeoutPropose())

	s, out := tmround.Apply(s, tmround.PolkaAny())
	require.Equal(t, tmround.OutputScheduleTimeout, out.Kind)
	_, out = tmround.Apply(s, tmround.PolkaAny())
	require.Equal(t, tmround.None, out)

	s, _ = tmround.Apply(s, tmround.TimeoutPrevote())
	s, out = tmround.Apply(s, tmround.PrecommitAny())
	require.Equal(t, tmround.OutputScheduleTimeout, out.Kind)
	_, out = tmround.Apply(s, tmround.PrecommitAny())
	require.Equal(t, tmround.None, out)
}

func TestDecisionShortCutFiresFromAnyStep(t *testing.T) {
	s := tmround.New(1, 0, alice, nil, nil)
	s, _ = tmround.Apply(s, tmround.NewRound(0))

	s, out := tmround.Apply(s, tmround.ProposalAndCommitAndValid(0, testValue("A")))
	require.Equal(t, tmround.OutputDecision, out.Kind)
	require.Equal(t, tmround.Commit, s.Step)

	// A second decision input after already decided must not re-fire.
	_, out2 := tmround.Apply(s, tmround.ProposalAndCommitAndValid(0, testValue("A")))
	require.Equal(t, tmround.None, out2)
}

package tmmux_test

import (
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmconsensus/tmconsensustest"
	"github.com/chorus-consensus/chorus/tm/tmengine/internal/tmmux"
	"github.com/chorus-consensus/chorus/tm/tmround"
)

type testValue string

func (v testValue) ID() tmconsensus.ValueID { return tmconsensus.ValueID(v) }

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func TestDriver_HappyPath(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vals := fx.ValSet()

	self := fx.PrivVals[0].Val.Address
	d := tmmux.New(discardLogger(), 1, vals, self, fx.SignatureScheme, nil)

	require.Equal(t, tmconsensus.Round(0), d.CurrentRound)

	proposer := vals.Proposer(1, 0)
	idx := -1
	for i, pv := range fx.PrivVals {
		if pv.Val.Address == proposer {
			idx = i
		}
	}
	require.GreaterOrEqual(t, idx, 0)

	p := fx.SignProposal(idx, tmconsensus.Proposal{
		Height: 1, Round: 0, Value: testValue("A"), ValidRound: tmconsensus.NoRound,
	})

	d.Process(tmmux.Input{Kind: tmmux.InputProposal, Proposal: &p})

	for i := 0; i < 3; i++ {
		v := fx.SignVote(i, tmconsensus.Vote{
			Type: tmconsensus.Prevote, Height: 1, Round: 0, ValueID: "A",
		})
		d.Process(tmmux.Input{Kind: tmmux.InputVote, Vote: &v})
	}

	require.Equal(t, tmround.Precommit, d.Round.Step)

	for i := 0; i < 3; i++ {
		v := fx.SignVote(i, tmconsensus.Vote{
			Type: tmconsensus.Precommit, Height: 1, Round: 0, ValueID: "A",
		})
		d.Process(tmmux.Input{Kind: tmmux.InputVote, Vote: &v})
	}

	require.True(t, d.Decided)
	require.Equal(t, testValue("A"), d.Decision.Value)
}

func TestDriver_DeferredPolkaAnyReplaysOnceInPrevote(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vals := fx.ValSet()

	proposer := vals.Proposer(1, 0)
	self := fx.PrivVals[0].Val.Address
	if self == proposer {
		self = fx.PrivVals[1].Val.Address
	}

	d := tmmux.New(discardLogger(), 1, vals, self, fx.SignatureScheme, nil)
	require.Equal(t, tmround.Propose, d.Round.Step)

	// Three other validators prevote for three distinct, non-matching
	// values before this node has cast its own prevote (still Step ==
	// Propose, no proposal in hand). No single value reaches 2f+1, but the
	// combined weight crosses the "any" threshold, so the vote keeper emits
	// PolkaAny -- which the round state machine cannot accept while still
	// in Propose (spec.md §4.1's table only allows PolkaAny in Prevote).
	others := make([]int, 0, 3)
	for i := range fx.PrivVals {
		if fx.PrivVals[i].Val.Address != self {
			others = append(others, i)
		}
	}
	require.Len(t, others, 3)

	values := []tmconsensus.ValueID{"x", "y", "z"}
	var outs []tmround.Output
	for i, idx := range others {
		v := fx.SignVote(idx, tmconsensus.Vote{
			Type: tmconsensus.Prevote, Height: 1, Round: 0, ValueID: values[i],
		})
		outs = d.Process(tmmux.Input{Kind: tmmux.InputVote, Vote: &v})
	}
	// The PolkaAny threshold fired on the last vote above but could not be
	// delivered yet: no outputs should have escaped, and the round must
	// still be sitting in Propose.
	require.Empty(t, outs)
	require.Equal(t, tmround.Propose, d.Round.Step)

	// This node's own propose timeout elapses: it prevotes Nil, entering
	// Prevote. The now-unblocked PolkaAny must replay in the same Process
	// call rather than being lost, producing the one-shot prevote-timeout
	// schedule.
	outs = d.Process(tmmux.Input{Kind: tmmux.InputTimeout, TimeoutStep: tmround.Propose})
	require.Equal(t, tmround.Prevote, d.Round.Step)

	var sawVote, sawScheduleTimeout bool
	for _, out := range outs {
		switch out.Kind {
		case tmround.OutputVote:
			sawVote = true
			require.True(t, out.Vote.ValueID.IsNil())
		case tmround.OutputScheduleTimeout:
			sawScheduleTimeout = true
			require.Equal(t, tmround.Prevote, out.TimeoutStep)
		}
	}
	require.True(t, sawVote, "expected the Propose-timeout nil prevote")
	require.True(t, sawScheduleTimeout, "expected the deferred PolkaAny to replay as a Prevote timeout schedule")
}

func TestDriver_RoundSkipOnFuturePrevotes(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vals := fx.ValSet()
	self := fx.PrivVals[0].Val.Address
	d := tmmux.New(discardLogger(), 1, vals, self, fx.SignatureScheme, nil)

	for i := 0; i < 2; i++ {
		v := fx.SignVote(i, tmconsensus.Vote{
			Type: tmconsensus.Prevote, Height: 1, Round: 3, ValueID: "x",
		})
		d.Process(tmmux.Input{Kind: tmmux.InputVote, Vote: &v})
	}

	require.Equal(t, tmconsensus.Round(3), d.CurrentRound)
}

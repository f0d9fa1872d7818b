package tmvote_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmconsensus/tmconsensustest"
	"github.com/chorus-consensus/chorus/tm/tmvote"
)

func TestApplyVote_PolkaValue(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vs := fx.ValSet()
	vk := tmvote.New(1, vs)

	const valID tmconsensus.ValueID = "val-a"

	for i := 0; i < 2; i++ {
		out := vk.ApplyVote(fx.SignVote(i, tmconsensus.Vote{
			Type:    tmconsensus.Prevote,
			Height:  1,
			Round:   0,
			ValueID: valID,
		}), 0)
		require.Equal(t, tmvote.None, out, "no threshold yet at %d/4 power", i+1)
	}

	out := vk.ApplyVote(fx.SignVote(2, tmconsensus.Vote{
		Type:    tmconsensus.Prevote,
		Height:  1,
		Round:   0,
		ValueID: valID,
	}), 0)
	require.Equal(t, tmvote.OutputPolkaValue, out.Kind)
	require.Equal(t, valID, out.ValueID)

	// A fourth vote for the same value must not re-emit the same output.
	out = vk.ApplyVote(fx.SignVote(3, tmconsensus.Vote{
		Type:    tmconsensus.Prevote,
		Height:  1,
		Round:   0,
		ValueID: valID,
	}), 0)
	require.Equal(t, tmvote.None, out)
}

func TestApplyVote_PolkaNilAndAny(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vk := tmvote.New(1, fx.ValSet())

	vk.ApplyVote(fx.SignVote(0, tmconsensus.Vote{Type: tmconsensus.Prevote, Height: 1, Round: 0, ValueID: ""}), 0)
	vk.ApplyVote(fx.SignVote(1, tmconsensus.Vote{Type: tmconsensus.Prevote, Height: 1, Round: 0, ValueID: ""}), 0)
	out := vk.ApplyVote(fx.SignVote(2, tmconsensus.Vote{Type: tmconsensus.Prevote, Height: 1, Round: 0, ValueID: ""}), 0)
	require.Equal(t, tmvote.OutputPolkaNil, out.Kind)

	// Split votes across two distinct non-nil values should still cross the
	// "any" threshold even though no single value reaches quorum.
	vk2 := tmvote.New(1, fx.ValSet())
	vk2.ApplyVote(fx.SignVote(0, tmconsensus.Vote{Type: tmconsensus.Prevote, Height: 1, Round: 0, ValueID: "a"}), 0)
	vk2.ApplyVote(fx.SignVote(1, tmconsensus.Vote{Type: tmconsensus.Prevote, Height: 1, Round: 0, ValueID: "b"}), 0)
	out2 := vk2.ApplyVote(fx.SignVote(2, tmconsensus.Vote{Type: tmconsensus.Prevote, Height: 1, Round: 0, ValueID: "a"}), 0)
	require.Equal(t, tmvote.OutputPolkaAny, out2.Kind)
}

func TestApplyVote_SkipRound(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vk := tmvote.New(1, fx.ValSet())

	out := vk.ApplyVote(fx.SignVote(0, tmconsensus.Vote{Type: tmconsensus.Prevote, Height: 1, Round: 3, ValueID: "x"}), 0)
	require.Equal(t, tmvote.None, out, "one validator alone is not f+1 of 4")

	out = vk.ApplyVote(fx.SignVote(1, tmconsensus.Vote{Type: tmconsensus.Prevote, Height: 1, Round: 3, ValueID: "x"}), 0)
	require.Equal(t, tmvote.OutputSkipRound, out.Kind)
	require.Equal(t, tmconsensus.Round(3), out.Round)

	// Must not re-emit on a third vote for the same round.
	out = vk.ApplyVote(fx.SignVote(2, tmconsensus.Vote{Type: tmconsensus.Prevote, Height: 1, Round: 3, ValueID: "x"}), 0)
	require.Equal(t, tmvote.None, out)
}

func TestApplyVote_Equivocation(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vk := tmvote.New(1, fx.ValSet())

	vk.ApplyVote(fx.SignVote(0, tmconsensus.Vote{Type: tmconsensus.Prevote, Height: 1, Round: 0, ValueID: "a"}), 0)
	vk.ApplyVote(fx.SignVote(0, tmconsensus.Vote{Type: tmconsensus.Prevote, Height: 1, Round: 0, ValueID: "b"}), 0)

	ev := vk.Evidence()
	require.Len(t, ev, 1)
	require.Equal(t, tmconsensus.ValueID("a"), ev[0].First.ValueID)
	require.Equal(t, tmconsensus.ValueID("b"), ev[0].Second.ValueID)
}

func TestApplyCertificate_Idempotent(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vk := tmvote.New(1, fx.ValSet())

	cert := fx.Certificate(tmconsensus.CommitCertificate, 1, 0, "val-a", []int{0, 1, 2})

	out1 := vk.ApplyCertificate(cert, fx.SignatureScheme)
	require.Equal(t, tmvote.OutputPrecommitValue, out1.Kind)

	out2 := vk.ApplyCertificate(cert, fx.SignatureScheme)
	require.Equal(t, tmvote.None, out2, "re-applying the same certificate must not re-emit")
}

func TestGetCertificate(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vk := tmvote.New(1, fx.ValSet())

	const valID tmconsensus.ValueID = "val-a"
	for i := 0; i < 3; i++ {
		vk.ApplyVote(fx.SignVote(i, tmconsensus.Vote{
			Type: tmconsensus.Precommit, Height: 1, Round: 0, ValueID: valID,
		}), 0)
	}

	cert, ok := vk.GetCertificate(0, tmconsensus.CommitCertificate, valID)
	require.True(t, ok)
	require.Len(t, cert.Votes, 3)
	require.NoError(t, cert.Validate(fx.ValSet(), fx.SignatureScheme))
}

func TestCheckThreshold(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vk := tmvote.New(1, fx.ValSet())

	require.False(t, vk.CheckThreshold(0, tmconsensus.Prevote, "val-a"))

	for i := 0; i < 3; i++ {
		vk.ApplyVote(fx.SignVote(i, tmconsensus.Vote{
			Type: tmconsensus.Prevote, Height: 1, Round: 0, ValueID: "val-a",
		}), 0)
	}

	require.True(t, vk.CheckThreshold(0, tmconsensus.Prevote, "val-a"))
}

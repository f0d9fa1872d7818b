package tmmemstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmconsensus/tmconsensustest"
	"github.com/chorus-consensus/chorus/tm/tmstore"
	"github.com/chorus-consensus/chorus/tm/tmstore/tmmemstore"
)

func TestWALStore_AppendReplay(t *testing.T) {
	ctx := context.Background()
	s := tmmemstore.NewWALStore()

	v := tmconsensus.Vote{Type: tmconsensus.Prevote, Height: 1, Round: 0, ValueID: "a"}
	require.NoError(t, s.Append(ctx, 1, tmstore.WALEntry{Kind: tmstore.WALEntryVote, Vote: &v}))

	entries, err := s.Replay(ctx, 1)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, v, *entries[0].Vote)

	require.NoError(t, s.Delete(ctx, 1))
	entries, err = s.Replay(ctx, 1)
	require.NoError(t, err)
	require.Empty(t, entries)
}

func TestValidatorStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	fx := tmconsensustest.NewEd25519Fixture(3)
	vs := fx.ValSet()

	s := tmmemstore.NewValidatorStore()
	require.NoError(t, s.SaveValidators(ctx, 1, vs))

	got, err := s.LoadValidators(ctx, 1)
	require.NoError(t, err)
	require.Equal(t, vs.TotalPower(), got.TotalPower())

	_, err = s.LoadValidators(ctx, 2)
	require.ErrorIs(t, err, tmconsensus.ErrUnknownHeight)
}

func TestChainStore_LastDecidedHeight(t *testing.T) {
	ctx := context.Background()
	s := tmmemstore.NewChainStore()

	h, err := s.LastDecidedHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, tmconsensus.Height(0), h)

	require.NoError(t, s.SaveDecision(ctx, tmstore.DecidedEntry{Height: 5}))
	h, err = s.LastDecidedHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, tmconsensus.Height(5), h)
}

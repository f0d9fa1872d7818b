package tmsync_test

import (
	"context"
	"testing"

	"github.com/neilotoole/slogt"
	"github.com/stretchr/testify/require"

	"github.com/chorus-consensus/chorus/tm/tmcodec"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmconsensus/tmconsensustest"
	"github.com/chorus-consensus/chorus/tm/tmstore/tmmemstore"
	"github.com/chorus-consensus/chorus/tm/tmsync"
)

type testValue string

func (v testValue) ID() tmconsensus.ValueID { return tmconsensus.ValueID(v) }

func TestSyncer_Adopt(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vs := fx.ValSet()

	ctx := context.Background()
	log := slogt.New(t)

	valStore := tmmemstore.NewValidatorStore()
	require.NoError(t, valStore.SaveValidators(ctx, 5, vs))

	chainStore := tmmemstore.NewChainStore()

	s := tmsync.New(log, valStore, chainStore, fx.SignatureScheme)

	const valID tmconsensus.ValueID = "decided-value"
	cert := fx.Certificate(tmconsensus.CommitCertificate, 5, 0, valID, []int{0, 1, 2})

	resp := tmcodec.SyncResponse{
		Height:      5,
		Round:       0,
		Value:       testValue(valID),
		Certificate: cert,
	}

	require.NoError(t, s.Adopt(ctx, resp))

	got, err := chainStore.LoadDecision(ctx, 5)
	require.NoError(t, err)
	require.Equal(t, valID, got.Value.ID())
}

func TestSyncer_Adopt_RejectsInsufficientPower(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vs := fx.ValSet()

	ctx := context.Background()
	log := slogt.New(t)

	valStore := tmmemstore.NewValidatorStore()
	require.NoError(t, valStore.SaveValidators(ctx, 5, vs))

	chainStore := tmmemstore.NewChainStore()

	s := tmsync.New(log, valStore, chainStore, fx.SignatureScheme)

	const valID tmconsensus.ValueID = "decided-value"
	// Only one of four nearly equal-power voters: well under the 2/3 threshold.
	cert := fx.Certificate(tmconsensus.CommitCertificate, 5, 0, valID, []int{0})

	resp := tmcodec.SyncResponse{
		Height:      5,
		Round:       0,
		Value:       testValue(valID),
		Certificate: cert,
	}

	require.Error(t, s.Adopt(ctx, resp))

	_, err := chainStore.LoadDecision(ctx, 5)
	require.ErrorIs(t, err, tmconsensus.ErrUnknownHeight)
}

func TestSyncer_CatchUp(t *testing.T) {
	fx := tmconsensustest.NewEd25519Fixture(4)
	vs := fx.ValSet()

	ctx := context.Background()
	log := slogt.New(t)

	valStore := tmmemstore.NewValidatorStore()
	for h := tmconsensus.Height(1); h <= 3; h++ {
		require.NoError(t, valStore.SaveValidators(ctx, h, vs))
	}

	chainStore := tmmemstore.NewChainStore()
	s := tmsync.New(log, valStore, chainStore, fx.SignatureScheme)

	resps := map[tmconsensus.Height]tmcodec.SyncResponse{}
	for h := tmconsensus.Height(1); h <= 3; h++ {
		valID := tmconsensus.ValueID("value-" + string(rune('0'+h)))
		resps[h] = tmcodec.SyncResponse{
			Height:      h,
			Round:       0,
			Value:       testValue(valID),
			Certificate: fx.Certificate(tmconsensus.CommitCertificate, h, 0, valID, []int{0, 1, 2}),
		}
	}

	fetch := func(_ context.Context, h tmconsensus.Height) (tmcodec.SyncResponse, bool, error) {
		resp, ok := resps[h]
		return resp, ok, nil
	}

	n, err := s.CatchUp(ctx, fetch)
	require.NoError(t, err)
	require.Equal(t, 3, n)

	last, err := chainStore.LastDecidedHeight(ctx)
	require.NoError(t, err)
	require.Equal(t, tmconsensus.Height(3), last)
}

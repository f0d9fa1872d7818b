package tmsync_test

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-consensus/chorus/tm/tmsync"
)

func TestShredderRoundTrip(t *testing.T) {
	sh, err := tmsync.NewShredder(4, 2)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("decided-value-payload-"), 37)

	shreds, err := sh.Encode(append([]byte(nil), payload...))
	require.NoError(t, err)
	require.Len(t, shreds, 6)

	asm, err := tmsync.NewAssembler(4, 2, len(payload))
	require.NoError(t, err)

	// Drop two shreds picked by a seeded permutation; four data+parity
	// shreds remain, exactly enough.
	r := rand.New(rand.NewSource(1))
	order := r.Perm(len(shreds))

	var (
		got []byte
		ok  bool
	)
	for _, idx := range order[:4] {
		got, err = asm.Add(shreds[idx])
		if err == tmsync.ErrIncomplete {
			continue
		}
		require.NoError(t, err)
		ok = true
	}
	require.True(t, ok, "expected reconstruction to succeed with 4 of 6 shreds")
	require.Equal(t, payload, got)
}

func TestShredderRoundTrip_TooFewShreds(t *testing.T) {
	sh, err := tmsync.NewShredder(4, 2)
	require.NoError(t, err)

	payload := bytes.Repeat([]byte("x"), 128)
	shreds, err := sh.Encode(append([]byte(nil), payload...))
	require.NoError(t, err)

	asm, err := tmsync.NewAssembler(4, 2, len(payload))
	require.NoError(t, err)

	for _, sh := range shreds[:3] {
		_, err := asm.Add(sh)
		require.ErrorIs(t, err, tmsync.ErrIncomplete)
	}
}

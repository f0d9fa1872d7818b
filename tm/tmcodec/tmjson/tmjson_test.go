package tmjson_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/chorus-consensus/chorus/tm/tmcodec"
	"github.com/chorus-consensus/chorus/tm/tmcodec/tmjson"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

type stringValue string

func (v stringValue) ID() tmconsensus.ValueID { return tmconsensus.ValueID(v) }

type stringValueCodec struct{}

func (stringValueCodec) MarshalValue(v tmconsensus.Value) ([]byte, error) {
	return []byte(`"` + string(v.(stringValue)) + `"`), nil
}

func (stringValueCodec) UnmarshalValue(b []byte) (tmconsensus.Value, error) {
	s := string(b)
	return stringValue(s[1 : len(s)-1]), nil
}

func TestCodec_RoundTripVote(t *testing.T) {
	c := tmjson.New(stringValueCodec{})

	v := tmconsensus.Vote{
		Type: tmconsensus.Precommit, Height: 5, Round: 1,
		ValueID: "abc", VoterAddress: "val1", Signature: []byte{1, 2, 3},
	}

	b, err := c.MarshalMessage(tmcodec.Message{Kind: tmcodec.MessageVote, Vote: &v})
	require.NoError(t, err)

	m, err := c.UnmarshalMessage(b)
	require.NoError(t, err)
	require.Equal(t, v, *m.Vote)
}

func TestCodec_RoundTripProposal(t *testing.T) {
	c := tmjson.New(stringValueCodec{})

	p := tmconsensus.Proposal{
		Height: 5, Round: 1, Value: stringValue("hello"),
		ValidRound: tmconsensus.NoRound, ProposerAddress: "val1", Signature: []byte{9},
	}

	b, err := c.MarshalMessage(tmcodec.Message{Kind: tmcodec.MessageProposal, Proposal: &p})
	require.NoError(t, err)

	m, err := c.UnmarshalMessage(b)
	require.NoError(t, err)
	require.Equal(t, p, *m.Proposal)
}

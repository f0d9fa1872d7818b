// Package tmjson contains a MarshalCodec implementation that serializes to
// and deserializes from JSON. It trades wire compactness for being simple
// to work with, simple to maintain, and easy to read in logs and WAL dumps.
package tmjson

import (
	"encoding/json"
	"fmt"

	"github.com/chorus-consensus/chorus/tm/tmcodec"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

// Codec implements tmcodec.MarshalCodec over JSON, delegating the
// application-defined Value payload to vc.
type Codec struct {
	vc tmcodec.ValueCodec
}

func New(vc tmcodec.ValueCodec) Codec { return Codec{vc: vc} }

type jsonProposal struct {
	Height          tmconsensus.Height
	Round           tmconsensus.Round
	Value           json.RawMessage
	ValidRound      tmconsensus.Round
	ProposerAddress tmconsensus.Address
	Signature       []byte
}

type jsonVote struct {
	Type         tmconsensus.VoteType
	Height       tmconsensus.Height
	Round        tmconsensus.Round
	ValueID      tmconsensus.ValueID
	VoterAddress tmconsensus.Address
	Extension    []byte
	Signature    []byte
}

type jsonCertificate struct {
	Kind    tmconsensus.CertificateKind
	Height  tmconsensus.Height
	Round   tmconsensus.Round
	ValueID tmconsensus.ValueID
	Votes   []jsonVote
}

type jsonSyncResponse struct {
	Height      tmconsensus.Height
	Round       tmconsensus.Round
	Value       json.RawMessage
	Certificate jsonCertificate
}

type jsonMessage struct {
	Kind        tmcodec.MessageKind
	Proposal    *jsonProposal
	Vote        *jsonVote
	Certificate *jsonCertificate
	SyncResp    *jsonSyncResponse
}

func (c Codec) MarshalMessage(m tmcodec.Message) ([]byte, error) {
	jm := jsonMessage{Kind: m.Kind}

	switch m.Kind {
	case tmcodec.MessageProposal:
		jp, err := c.toJSONProposal(*m.Proposal)
		if err != nil {
			return nil, err
		}
		jm.Proposal = &jp

	case tmcodec.MessageVote:
		jv := toJSONVote(*m.Vote)
		jm.Vote = &jv

	case tmcodec.MessageCertificate:
		jc, err := c.toJSONCertificate(*m.Certificate)
		if err != nil {
			return nil, err
		}
		jm.Certificate = &jc

	case tmcodec.MessageSyncResponse:
		valBytes, err := c.vc.MarshalValue(m.SyncResp.Value)
		if err != nil {
			return nil, fmt.Errorf("tmjson: marshaling sync response value: %w", err)
		}
		jc, err := c.toJSONCertificate(m.SyncResp.Certificate)
		if err != nil {
			return nil, err
		}
		jm.SyncResp = &jsonSyncResponse{
			Height: m.SyncResp.Height, Round: m.SyncResp.Round,
			Value: valBytes, Certificate: jc,
		}

	default:
		return nil, fmt.Errorf("tmjson: unknown message kind %d", m.Kind)
	}

	return json.Marshal(jm)
}

func (c Codec) UnmarshalMessage(b []byte) (tmcodec.Message, error) {
	var jm jsonMessage
	if err := json.Unmarshal(b, &jm); err != nil {
		return tmcodec.Message{}, err
	}

	out := tmcodec.Message{Kind: jm.Kind}

	switch jm.Kind {
	case tmcodec.MessageProposal:
		p, err := c.fromJSONProposal(*jm.Proposal)
		if err != nil {
			return tmcodec.Message{}, err
		}
		out.Proposal = &p

	case tmcodec.MessageVote:
		v := fromJSONVote(*jm.Vote)
		out.Vote = &v

	case tmcodec.MessageCertificate:
		cert, err := c.fromJSONCertificate(*jm.Certificate)
		if err != nil {
			return tmcodec.Message{}, err
		}
		out.Certificate = &cert

	case tmcodec.MessageSyncResponse:
		val, err := c.vc.UnmarshalValue(jm.SyncResp.Value)
		if err != nil {
			return tmcodec.Message{}, fmt.Errorf("tmjson: unmarshaling sync response value: %w", err)
		}
		cert, err := c.fromJSONCertificate(jm.SyncResp.Certificate)
		if err != nil {
			return tmcodec.Message{}, err
		}
		out.SyncResp = &tmcodec.SyncResponse{
			Height: jm.SyncResp.Height, Round: jm.SyncResp.Round,
			Value: val, Certificate: cert,
		}

	default:
		return tmcodec.Message{}, fmt.Errorf("tmjson: unknown message kind %d", jm.Kind)
	}

	return out, nil
}

func (c Codec) toJSONProposal(p tmconsensus.Proposal) (jsonProposal, error) {
	valBytes, err := c.vc.MarshalValue(p.Value)
	if err != nil {
		return jsonProposal{}, fmt.Errorf("tmjson: marshaling proposal value: %w", err)
	}
	return jsonProposal{
		Height: p.Height, Round: p.Round, Value: valBytes,
		ValidRound: p.ValidRound, ProposerAddress: p.ProposerAddress, Signature: p.Signature,
	}, nil
}

func (c Codec) fromJSONProposal(jp jsonProposal) (tmconsensus.Proposal, error) {
	val, err := c.vc.UnmarshalValue(jp.Value)
	if err != nil {
		return tmconsensus.Proposal{}, fmt.Errorf("tmjson: unmarshaling proposal value: %w", err)
	}
	return tmconsensus.Proposal{
		Height: jp.Height, Round: jp.Round, Value: val,
		ValidRound: jp.ValidRound, ProposerAddress: jp.ProposerAddress, Signature: jp.Signature,
	}, nil
}

func toJSONVote(v tmconsensus.Vote) jsonVote {
	return jsonVote{
		Type: v.Type, Height: v.Height, Round: v.Round, ValueID: v.ValueID,
		VoterAddress: v.VoterAddress, Extension: v.Extension, Signature: v.Signature,
	}
}

func fromJSONVote(jv jsonVote) tmconsensus.Vote {
	return tmconsensus.Vote{
		Type: jv.Type, Height: jv.Height, Round: jv.Round, ValueID: jv.ValueID,
		VoterAddress: jv.VoterAddress, Extension: jv.Extension, Signature: jv.Signature,
	}
}

func (c Codec) toJSONCertificate(cert tmconsensus.Certificate) (jsonCertificate, error) {
	votes := make([]jsonVote, len(cert.Votes))
	for i, v := range cert.Votes {
		votes[i] = toJSONVote(v)
	}
	return jsonCertificate{
		Kind: cert.Kind, Height: cert.Height, Round: cert.Round, ValueID: cert.ValueID, Votes: votes,
	}, nil
}

func (c Codec) fromJSONCertificate(jc jsonCertificate) (tmconsensus.Certificate, error) {
	votes := make([]tmconsensus.Vote, len(jc.Votes))
	for i, v := range jc.Votes {
		votes[i] = fromJSONVote(v)
	}
	return tmconsensus.Certificate{
		Kind: jc.Kind, Height: jc.Height, Round: jc.Round, ValueID: jc.ValueID, Votes: votes,
	}, nil
}

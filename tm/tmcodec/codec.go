// Package tmcodec defines the wire marshal/unmarshal surface (spec.md
// §6.2): the logical schema for proposals, votes, and certificates is
// fixed by the spec, but byte-level encoding is left to the application.
// Concrete codecs live in subpackages, e.g. tmcodec/tmjson.
package tmcodec

import (
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

// ValueCodec marshals and unmarshals the application-defined Value payload.
// Every concrete MarshalCodec is parameterized by one of these, since
// tmconsensus.Value is an interface the core cannot decode on its own.
type ValueCodec interface {
	MarshalValue(v tmconsensus.Value) ([]byte, error)
	UnmarshalValue(b []byte) (tmconsensus.Value, error)
}

// MessageKind tags the variant carried by a MarshalCodec-encoded message,
// mirroring the "signed_message ∈ {proposal, vote, certificate, sync
// response}" enumeration from spec.md §6.1.
type MessageKind uint8

const (
	_ MessageKind = iota
	MessageProposal
	MessageVote
	MessageCertificate
	MessageSyncResponse
)

// SyncResponse is the sync collaborator's wire message (spec.md §6.3): a
// decided value plus the commit certificate proving it, so a lagging peer
// can adopt a height without vote-by-vote replay.
type SyncResponse struct {
	Height      tmconsensus.Height
	Round       tmconsensus.Round
	Value       tmconsensus.Value
	Certificate tmconsensus.Certificate
}

// Message is the envelope every gossip transport and WAL entry marshals:
// exactly one of the kind-tagged fields is populated, matching Kind.
type Message struct {
	Kind MessageKind

	Proposal    *tmconsensus.Proposal
	Vote        *tmconsensus.Vote
	Certificate *tmconsensus.Certificate
	SyncResp    *SyncResponse
}

// MarshalCodec marshals and unmarshals Message envelopes to and from bytes.
type MarshalCodec interface {
	MarshalMessage(m Message) ([]byte, error)
	UnmarshalMessage(b []byte) (Message, error)
}

package tmconsensustest

import (
	"encoding/binary"
	"fmt"

	"github.com/chorus-consensus/chorus/gcrypto"
	"github.com/chorus-consensus/chorus/gmerkle"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

// SimpleSignatureScheme builds sign bytes by concatenating fixed-width
// fields in a deterministic order. It is intended for tests and for
// collaborators that don't need a particular wire format (see spec.md
// §6.2: the canonical encoding is fixed only at the logical-schema level;
// byte-level encoding is chosen by the application).
type SimpleSignatureScheme struct{}

func (SimpleSignatureScheme) ProposalSignBytes(p tmconsensus.Proposal) ([]byte, error) {
	var buf []byte
	buf = appendUint64(buf, uint64(p.Height))
	buf = appendInt32(buf, int32(p.Round))
	buf = appendInt32(buf, int32(p.ValidRound))
	if p.Value != nil {
		buf = append(buf, []byte(p.Value.ID())...)
	}
	buf = append(buf, []byte(p.ProposerAddress)...)
	return buf, nil
}

func (SimpleSignatureScheme) VoteSignBytes(v tmconsensus.Vote) ([]byte, error) {
	var buf []byte
	buf = append(buf, byte(v.Type))
	buf = appendUint64(buf, uint64(v.Height))
	buf = appendInt32(buf, int32(v.Round))
	buf = append(buf, []byte(v.ValueID)...)
	buf = append(buf, []byte(v.VoterAddress)...)
	return buf, nil
}

func appendUint64(buf []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(buf, b[:]...)
}

func appendInt32(buf []byte, v int32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], uint32(v))
	return append(buf, b[:]...)
}

// Fixture bundles a deterministic validator set with the schemes needed to
// sign and verify proposals, votes, and certificates, for use across
// tmvote, tmround, and tmmux tests.
type Fixture struct {
	PrivVals PrivVals

	SignatureScheme tmconsensus.SignatureScheme
	HashScheme      tmconsensus.HashScheme

	Registry gcrypto.Registry
}

// NewEd25519Fixture returns a Fixture with n deterministic ed25519
// validators and the SimpleSignatureScheme/Blake2bHashScheme pair.
func NewEd25519Fixture(n int) *Fixture {
	return &Fixture{
		PrivVals:        DeterministicValidatorsEd25519(n),
		SignatureScheme: SimpleSignatureScheme{},
		HashScheme:      gmerkle.Blake2bHashScheme{},
	}
}

func (f *Fixture) Vals() []tmconsensus.Validator { return f.PrivVals.Vals() }

func (f *Fixture) ValSet() tmconsensus.ValidatorSet {
	vs, err := tmconsensus.NewValidatorSet(f.PrivVals.Vals())
	if err != nil {
		panic(fmt.Errorf("tmconsensustest: building validator set: %w", err))
	}
	return vs
}

// SignVote signs v as the validator at index idx and returns the signed
// copy.
func (f *Fixture) SignVote(idx int, v tmconsensus.Vote) tmconsensus.Vote {
	pv := f.PrivVals[idx]
	v.VoterAddress = pv.Val.Address
	msg, err := f.SignatureScheme.VoteSignBytes(v)
	if err != nil {
		panic(fmt.Errorf("tmconsensustest: building vote sign bytes: %w", err))
	}
	sig, err := pv.Signer.Sign(msg)
	if err != nil {
		panic(fmt.Errorf("tmconsensustest: signing vote: %w", err))
	}
	v.Signature = sig
	return v
}

// SignProposal signs p as the validator at index idx and returns the signed
// copy.
func (f *Fixture) SignProposal(idx int, p tmconsensus.Proposal) tmconsensus.Proposal {
	pv := f.PrivVals[idx]
	p.ProposerAddress = pv.Val.Address
	msg, err := f.SignatureScheme.ProposalSignBytes(p)
	if err != nil {
		panic(fmt.Errorf("tmconsensustest: building proposal sign bytes: %w", err))
	}
	sig, err := pv.Signer.Sign(msg)
	if err != nil {
		panic(fmt.Errorf("tmconsensustest: signing proposal: %w", err))
	}
	p.Signature = sig
	return p
}

// Certificate builds and signs a certificate of kind from the given voter
// indices, all voting for valueID at (h, r).
func (f *Fixture) Certificate(
	kind tmconsensus.CertificateKind,
	h tmconsensus.Height, r tmconsensus.Round, valueID tmconsensus.ValueID,
	voterIdxs []int,
) tmconsensus.Certificate {
	vt := tmconsensus.Prevote
	if kind == tmconsensus.CommitCertificate {
		vt = tmconsensus.Precommit
	}

	votes := make([]tmconsensus.Vote, len(voterIdxs))
	for i, idx := range voterIdxs {
		votes[i] = f.SignVote(idx, tmconsensus.Vote{
			Type:    vt,
			Height:  h,
			Round:   r,
			ValueID: valueID,
		})
	}

	return tmconsensus.Certificate{
		Kind:    kind,
		Height:  h,
		Round:   r,
		ValueID: valueID,
		Votes:   votes,
	}
}

// Package tmconsensus defines the data model shared by the round state
// machine, the vote keeper, the driver, and the consensus engine: heights,
// rounds, validators, proposals, votes, and the certificates that witness
// quorum and skip thresholds.
package tmconsensus

import (
	"errors"
	"fmt"
)

// Height is a totally ordered, successor-having index into the decided chain.
type Height uint64

// Round identifies an attempt within a height. NoRound is the sentinel
// value meaning "no valid round" in a proposal's ValidRound field.
type Round int32

// NoRound is the sentinel value for "no prior polka round".
const NoRound Round = -1

// Address is an opaque validator identity, comparable with ==.
type Address string

// ValueID is the compact identity of a Value, used in votes and certificates.
// The zero value (empty string) represents Nil.
type ValueID string

// IsNil reports whether id represents a nil vote target.
func (id ValueID) IsNil() bool { return id == "" }

// Value is the application-defined payload that consensus agrees on for a
// single height.
type Value interface {
	// ID returns the compact identity used in votes and certificates.
	ID() ValueID
}

// VoteType distinguishes prevotes from precommits.
type VoteType uint8

const (
	_ VoteType = iota
	Prevote
	Precommit
)

func (t VoteType) String() string {
	switch t {
	case Prevote:
		return "Prevote"
	case Precommit:
		return "Precommit"
	default:
		return fmt.Sprintf("VoteType(%d)", uint8(t))
	}
}

// Proposal is a signable proposal for a value at (Height, Round).
//
// ValidRound is NoRound when the proposer has no prior polka to justify the
// value; otherwise it names the earlier round whose polka certificate is
// being carried forward (see ProposalAndPolkaPrevious in package tmround).
type Proposal struct {
	Height Height
	Round  Round

	Value Value

	ValidRound Round

	ProposerAddress Address

	Signature []byte
}

// Vote is a signable prevote or precommit for (Height, Round).
// A Nil vote has a zero-value ValueID.
type Vote struct {
	Type   VoteType
	Height Height
	Round  Round

	ValueID ValueID

	VoterAddress Address

	// Extension is an optional opaque payload attached to a precommit.
	// It must be nil/empty for prevotes.
	Extension []byte

	Signature []byte
}

// Validator is one member of a ValidatorSet.
type Validator struct {
	Address Address

	PubKey PubKey

	Power uint64
}

// PubKey is the minimal public-key surface the core needs from a signing
// scheme implementation (see package gcrypto for concrete schemes).
type PubKey interface {
	Address() Address
	Bytes() []byte
	Equal(other PubKey) bool
	Verify(msg, sig []byte) bool
}

// SignatureScheme produces the canonical bytes that get signed for a
// proposal or a vote. Concrete implementations live under gcrypto.
type SignatureScheme interface {
	ProposalSignBytes(p Proposal) ([]byte, error)
	VoteSignBytes(v Vote) ([]byte, error)
}

// HashScheme computes the canonical ValueID-independent digests the core
// needs: certificate canonicalization and validator-set hashing.
type HashScheme interface {
	Certificate(c Certificate) ([]byte, error)
	Validators(vs []Validator) ([]byte, error)
}

var (
	// ErrUnknownHeight is returned by stores when a height has no recorded data.
	ErrUnknownHeight = errors.New("tmconsensus: unknown height")

	// ErrUnknownRound is returned by stores when a round has no recorded data.
	ErrUnknownRound = errors.New("tmconsensus: unknown round")

	// ErrInvalidCertificate is returned when a certificate fails its validity
	// predicate (see Certificate.Validate).
	ErrInvalidCertificate = errors.New("tmconsensus: invalid certificate")
)

// HeightUnknownError reports that a specific height was requested from a
// store but no record exists for it.
type HeightUnknownError struct {
	Want Height
}

func (e HeightUnknownError) Error() string {
	return fmt.Sprintf("tmconsensus: height %d unknown", e.Want)
}

func (e HeightUnknownError) Is(target error) bool {
	return target == ErrUnknownHeight
}

// RoundUnknownError reports that a specific (height, round) pair was
// requested from a store but no record exists for it.
type RoundUnknownError struct {
	Height Height
	Round  Round
}

func (e RoundUnknownError) Error() string {
	return fmt.Sprintf("tmconsensus: round %d/%d unknown", e.Height, e.Round)
}

func (e RoundUnknownError) Is(target error) bool {
	return target == ErrUnknownRound
}

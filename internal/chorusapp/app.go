// Package chorusapp is the minimal host application cmd/chorusd runs a
// tmengine.Engine against: it answers GetValue/ValidateValue/
// GetValidatorSet/Decide requests with an opaque byte-blob value type, the
// same shape as the teacher repo's gordian-echo host application, reduced
// here to chorusd's own domain (a consensus core demo, not a blockchain
// app) rather than echoing inputs back.
package chorusapp

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmdriver"
)

// Value is an opaque, application-defined payload: chorusd proposes
// whatever its local value source currently holds, with no further
// interpretation.
type Value []byte

func (v Value) ID() tmconsensus.ValueID {
	sum := sha256.Sum256(v)
	return tmconsensus.ValueID(sum[:])
}

// ValueCodec marshals Value as its raw bytes, the simplest possible
// tmcodec.ValueCodec implementation, matching spec.md §6.2's promise that
// byte-level value encoding is entirely up to the application.
type ValueCodec struct{}

func (ValueCodec) MarshalValue(v tmconsensus.Value) ([]byte, error) {
	bv, ok := v.(Value)
	if !ok {
		return nil, fmt.Errorf("chorusapp: cannot marshal value of type %T", v)
	}
	return []byte(bv), nil
}

func (ValueCodec) UnmarshalValue(b []byte) (tmconsensus.Value, error) {
	return Value(append([]byte(nil), b...)), nil
}

// SignatureScheme builds sign bytes for proposals and votes by
// concatenating their fields in a fixed order, mirroring
// tmconsensustest.SimpleSignatureScheme's approach but living outside the
// test package since a running node needs the same canonical encoding at
// both signing and verification time.
type SignatureScheme struct{}

func (SignatureScheme) ProposalSignBytes(p tmconsensus.Proposal) ([]byte, error) {
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

func (SignatureScheme) VoteSignBytes(v tmconsensus.Vote) ([]byte, error) {
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

// App answers the engine's host-facing requests for the lifetime of ctx.
// ValueSource is called once per GetValueRequest; a nil ValueSource makes
// the node an observer that never proposes.
type App struct {
	log *slog.Logger

	vals tmconsensus.ValidatorSet

	ValueSource func() Value

	GetValueCh        chan tmdriver.GetValueRequest
	ValidateValueCh   chan tmdriver.ValidateValueRequest
	GetValidatorSetCh chan tmdriver.GetValidatorSetRequest
	DecideCh          chan tmdriver.DecideRequest
}

// New builds an App fixed to a single, unchanging validator set: chorusd
// does not implement validator-set rotation, consistent with spec.md's
// core, which treats the validator set as externally resolved per height.
func New(log *slog.Logger, vals tmconsensus.ValidatorSet, valueSource func() Value) *App {
	return &App{
		log:               log,
		vals:              vals,
		ValueSource:       valueSource,
		GetValueCh:        make(chan tmdriver.GetValueRequest, 1),
		ValidateValueCh:   make(chan tmdriver.ValidateValueRequest, 1),
		GetValidatorSetCh: make(chan tmdriver.GetValidatorSetRequest, 1),
		DecideCh:          make(chan tmdriver.DecideRequest, 1),
	}
}

// Run services requests until ctx is cancelled.
func (a *App) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return

		case req := <-a.GetValueCh:
			if a.ValueSource == nil {
				continue
			}
			v := a.ValueSource()
			select {
			case req.Resp <- tmdriver.GetValueResponse{Value: v}:
			case <-ctx.Done():
				return
			}

		case req := <-a.ValidateValueCh:
			select {
			case req.Resp <- tmdriver.ValidateValueResponse{Valid: true}:
			case <-ctx.Done():
				return
			}

		case req := <-a.GetValidatorSetCh:
			select {
			case req.Resp <- tmdriver.GetValidatorSetResponse{Validators: a.vals}:
			case <-ctx.Done():
				return
			}

		case req := <-a.DecideCh:
			a.log.Info("Decided height", "height", req.Height, "round", req.Round)
		}
	}
}

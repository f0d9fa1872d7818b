// Package tmsync implements the bulk value-sync collaborator spec.md §6.1
// mentions only by name: a node that has fallen behind adopts a decided
// height directly from its commit certificate instead of replaying every
// vote that produced it. Large decided values are chunked into erasure-coded
// shreds with github.com/klauspost/reedsolomon, the same posture the
// teacher repo's gerasure/gereedsolomon package uses for turbine-style block
// propagation, scaled down here to a single encode/decode helper around one
// sync response instead of a full shred-distribution pipeline.
package tmsync

import (
	"fmt"

	"github.com/klauspost/reedsolomon"
)

// Shredder splits a sync response payload into dataShreds data shreds plus
// parityShreds parity shreds; Assembler reassembles a payload from any
// dataShreds of the resulting total. The pair mirrors gereedsolomon.Encoder/Reconstructor's
// split between producing all shards up front and reconstructing from a
// partial set.
type Shredder struct {
	rs                     reedsolomon.Encoder
	dataShreds, parityShreds int
}

// NewShredder builds a Shredder encoding dataShreds of payload alongside
// parityShreds recoverable parity shreds: any dataShreds of the
// dataShreds+parityShreds total are sufficient to reconstruct the payload,
// so a syncing node doesn't stall behind a single slow or dropped peer
// response.
func NewShredder(dataShreds, parityShreds int) (*Shredder, error) {
	if dataShreds <= 0 {
		return nil, fmt.Errorf("tmsync: data shreds must be > 0")
	}
	if parityShreds <= 0 {
		return nil, fmt.Errorf("tmsync: parity shreds must be > 0")
	}
	rs, err := reedsolomon.New(dataShreds, parityShreds)
	if err != nil {
		return nil, fmt.Errorf("tmsync: creating reed-solomon encoder: %w", err)
	}
	return &Shredder{rs: rs, dataShreds: dataShreds, parityShreds: parityShreds}, nil
}

// Shred is one data or parity chunk of an encoded sync response. Idx
// identifies its position among the Shredder's data-then-parity ordering,
// so a receiver can reconstruct regardless of arrival order.
type Shred struct {
	Idx  int
	Data []byte
}

// Encode splits payload into this Shredder's data and parity shreds. It
// takes ownership of payload, matching gereedsolomon.Encoder.Encode's
// contract for the same reason: reedsolomon.Split subslices it in place.
func (s *Shredder) Encode(payload []byte) ([]Shred, error) {
	allShards, err := s.rs.Split(payload)
	if err != nil {
		return nil, fmt.Errorf("tmsync: splitting payload: %w", err)
	}
	if err := s.rs.Encode(allShards); err != nil {
		return nil, fmt.Errorf("tmsync: encoding parity: %w", err)
	}

	out := make([]Shred, len(allShards))
	for i, shard := range allShards {
		out[i] = Shred{Idx: i, Data: shard}
	}
	return out, nil
}

// Assembler accumulates Shred values for one sync response until enough
// have arrived to reconstruct the original payload, following the same
// incremental-reconstruction shape as gereedsolomon.Reconstructor: shreds
// may arrive in any order, and reconstruction is only attempted once enough
// distinct indices have been seen.
type Assembler struct {
	rs         reedsolomon.Encoder
	dataShreds int
	origLen    int

	shards [][]byte
	have   int
}

// NewAssembler prepares to reconstruct a payload of origLen bytes shredded
// by a Shredder built with the same dataShreds/parityShreds.
func NewAssembler(dataShreds, parityShreds, origLen int) (*Assembler, error) {
	rs, err := reedsolomon.New(dataShreds, parityShreds)
	if err != nil {
		return nil, fmt.Errorf("tmsync: creating reed-solomon decoder: %w", err)
	}
	return &Assembler{
		rs:         rs,
		dataShreds: dataShreds,
		origLen:    origLen,
		shards:     make([][]byte, dataShreds+parityShreds),
	}, nil
}

// ErrIncomplete is returned by Add while too few distinct shreds have been
// seen to reconstruct the payload.
var ErrIncomplete = fmt.Errorf("tmsync: not enough shreds yet to reconstruct")

// Add records one shred and attempts reconstruction. It returns the
// reassembled payload once enough shreds have arrived, or ErrIncomplete
// otherwise. Adding the same index twice is harmless.
func (a *Assembler) Add(sh Shred) ([]byte, error) {
	if sh.Idx < 0 || sh.Idx >= len(a.shards) {
		return nil, fmt.Errorf("tmsync: shred index %d out of range", sh.Idx)
	}
	if a.shards[sh.Idx] == nil {
		a.shards[sh.Idx] = sh.Data
		a.have++
	}

	if err := a.rs.ReconstructData(a.shards); err != nil {
		if err == reedsolomon.ErrTooFewShards {
			return nil, ErrIncomplete
		}
		return nil, fmt.Errorf("tmsync: reconstructing payload: %w", err)
	}

	var out []byte
	for _, shard := range a.shards[:a.dataShreds] {
		out = append(out, shard...)
	}
	if len(out) > a.origLen {
		out = out[:a.origLen]
	}
	return out, nil
}

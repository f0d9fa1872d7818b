package tmsync

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/chorus-consensus/chorus/tm/tmcodec"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmstore"
)

// Syncer adopts a decided height from a peer-supplied tmcodec.SyncResponse
// without replaying the votes that produced it, the mechanism spec.md
// §6.1/§6.3 describes as the sync path around an otherwise vote-by-vote
// round state machine. A lagging node accumulates a response's erasure-coded
// shreds through an Assembler, then hands the reassembled SyncResponse here
// for certificate verification before it ever touches the chain store.
type Syncer struct {
	log *slog.Logger

	valStore   tmstore.ValidatorStore
	chainStore tmstore.ChainStore
	sigScheme  tmconsensus.SignatureScheme
}

// New builds a Syncer over the same validator, chain, and signature
// dependencies an Engine uses for ordinary round replay, so a synced
// decision is checked against exactly the validator set the round state
// machine would have used.
func New(
	log *slog.Logger,
	valStore tmstore.ValidatorStore,
	chainStore tmstore.ChainStore,
	sigScheme tmconsensus.SignatureScheme,
) *Syncer {
	return &Syncer{
		log:        log,
		valStore:   valStore,
		chainStore: chainStore,
		sigScheme:  sigScheme,
	}
}

// Adopt verifies resp's commit certificate against the validator set
// resolved for resp.Height, then records the decision directly into the
// chain store. It is the sync-path counterpart to the round state
// machine's OutputDecision handling: the effect on the chain store is
// identical, only the provenance of the decision differs.
//
// The engine's per-height loop checks chainStore.LoadDecision before
// starting a round replay (spec.md §4.4's sync_decided_value short
// circuit), so a successful Adopt here is what lets that height be skipped
// entirely.
func (s *Syncer) Adopt(ctx context.Context, resp tmcodec.SyncResponse) error {
	if resp.Certificate.Kind != tmconsensus.CommitCertificate {
		return fmt.Errorf("tmsync: sync response for height %d carries a %s certificate, not a commit certificate",
			resp.Height, resp.Certificate.Kind)
	}
	if resp.Certificate.Height != resp.Height || resp.Certificate.Round != resp.Round {
		return fmt.Errorf("tmsync: sync response certificate (h=%d,r=%d) does not match response (h=%d,r=%d)",
			resp.Certificate.Height, resp.Certificate.Round, resp.Height, resp.Round)
	}
	if resp.Value == nil {
		return fmt.Errorf("tmsync: sync response for height %d carries no value", resp.Height)
	}
	if got, want := resp.Value.ID(), resp.Certificate.ValueID; got != want {
		return fmt.Errorf("tmsync: sync response value id %q does not match certificate value id %q", got, want)
	}

	vs, err := s.valStore.LoadValidators(ctx, resp.Height)
	if err != nil {
		return fmt.Errorf("tmsync: resolving validator set for height %d: %w", resp.Height, err)
	}

	if err := resp.Certificate.Validate(vs, s.sigScheme); err != nil {
		return fmt.Errorf("tmsync: rejecting sync response for height %d: %w", resp.Height, err)
	}

	if err := s.chainStore.SaveDecision(ctx, tmstore.DecidedEntry{
		Height:      resp.Height,
		Value:       resp.Value,
		Certificate: resp.Certificate,
	}); err != nil {
		return fmt.Errorf("tmsync: saving synced decision for height %d: %w", resp.Height, err)
	}

	s.log.Info("Adopted decided height via value sync", "height", resp.Height, "round", resp.Round)
	return nil
}

// CatchUp repeatedly asks fetch for the next undecided height's sync
// response, starting just above the chain store's last decided height, and
// adopts each one in order, stopping at the first height fetch cannot
// produce (typically because the local node has caught up to the network's
// decided tip). It returns the number of heights adopted.
//
// fetch is left to the caller so the transport — gossip request/response,
// a direct peer dial, whatever tm/tmp2p wires up — stays out of this
// package's concerns; CatchUp only orders the fetch-then-verify-then-adopt
// loop.
func (s *Syncer) CatchUp(
	ctx context.Context,
	fetch func(ctx context.Context, h tmconsensus.Height) (tmcodec.SyncResponse, bool, error),
) (int, error) {
	last, err := s.chainStore.LastDecidedHeight(ctx)
	if err != nil {
		return 0, fmt.Errorf("tmsync: reading last decided height: %w", err)
	}

	adopted := 0
	for h := last + 1; ; h++ {
		resp, ok, err := fetch(ctx, h)
		if err != nil {
			return adopted, fmt.Errorf("tmsync: fetching sync response for height %d: %w", h, err)
		}
		if !ok {
			return adopted, nil
		}
		if err := s.Adopt(ctx, resp); err != nil {
			return adopted, err
		}
		adopted++
	}
}

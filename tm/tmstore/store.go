// Package tmstore defines the persisted-state interfaces from spec.md
// §6.3: a write-ahead log, certificate storage, the validator sets bound to
// each height, and the decided chain. Concrete implementations live under
// tmstore/tmmemstore (in-memory, for tests and fixtures) and
// tmstore/tmsqlite (durable, for production nodes).
package tmstore

import (
	"context"
	"errors"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
)

// ErrWalClosed is returned by WALStore methods after Close has been called.
var ErrWalClosed = errors.New("tmstore: wal store closed")

// WALEntryKind distinguishes the two entry shapes a WAL can hold, per
// spec.md §4.4: every incoming signed message and every scheduled timeout
// is appended before being handed to the driver.
type WALEntryKind uint8

const (
	_ WALEntryKind = iota
	WALEntryProposal
	WALEntryVote
	WALEntryCertificate
	WALEntryScheduledTimeout
)

// WALEntry is one length-prefixed record in a height's WAL.
type WALEntry struct {
	Kind WALEntryKind

	Proposal    *tmconsensus.Proposal
	Vote        *tmconsensus.Vote
	Certificate *tmconsensus.Certificate

	// TimeoutStep/TimeoutRound populate WALEntryScheduledTimeout.
	TimeoutStep  uint8
	TimeoutRound tmconsensus.Round
}

// WALStore appends and replays the write-ahead log for one height at a
// time. Append failures are fatal at the engine layer (spec.md §7):
// callers must stop rather than continue with an unrecorded entry.
type WALStore interface {
	Append(ctx context.Context, h tmconsensus.Height, e WALEntry) error
	Replay(ctx context.Context, h tmconsensus.Height) ([]WALEntry, error)

	// Delete removes the WAL for h. Called only after h's decision is
	// durably recorded in the decided-chain store.
	Delete(ctx context.Context, h tmconsensus.Height) error
}

// CertificateStore persists polka and commit certificates, indexed by
// height and round, so a restarted engine or a syncing peer can fetch one
// without replaying every vote.
type CertificateStore interface {
	SaveCertificate(ctx context.Context, c tmconsensus.Certificate) error
	LoadCertificate(
		ctx context.Context, h tmconsensus.Height, r tmconsensus.Round, kind tmconsensus.CertificateKind,
	) (tmconsensus.Certificate, error)
}

// ValidatorStore resolves the validator set effective at a given height.
// Heights are immutable once resolved (spec.md §5).
type ValidatorStore interface {
	SaveValidators(ctx context.Context, h tmconsensus.Height, vs tmconsensus.ValidatorSet) error
	LoadValidators(ctx context.Context, h tmconsensus.Height) (tmconsensus.ValidatorSet, error)
}

// DecidedEntry is one row of the decided chain (spec.md §6.3): the value
// and commit certificate an engine produced for a height.
type DecidedEntry struct {
	Height      tmconsensus.Height
	Value       tmconsensus.Value
	Certificate tmconsensus.Certificate
}

// ChainStore records the host-visible decided chain.
type ChainStore interface {
	SaveDecision(ctx context.Context, e DecidedEntry) error
	LoadDecision(ctx context.Context, h tmconsensus.Height) (DecidedEntry, error)

	// LastDecidedHeight returns the highest height with a saved decision,
	// or zero if none exists.
	LastDecidedHeight(ctx context.Context) (tmconsensus.Height, error)
}

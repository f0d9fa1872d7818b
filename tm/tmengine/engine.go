// Package tmengine assembles the round state machine (tmround), the vote
// keeper (tmvote), and the driver (tmmux) into a running participant: it
// owns the WAL-append-before-process write path, the per-step timers, the
// host request/response round trips (tmdriver), and gossip publication.
// One Engine instance runs one height at a time, advancing to the next as
// soon as the current one decides, matching the single-threaded
// cooperative scheduling model described for tmmux.
package tmengine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/chorus-consensus/chorus/gcrypto"
	"github.com/chorus-consensus/chorus/internal/gchan"
	"github.com/chorus-consensus/chorus/internal/glog"
	"github.com/chorus-consensus/chorus/tm/tmcodec"
	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmdriver"
	"github.com/chorus-consensus/chorus/tm/tmengine/internal/tmmux"
	"github.com/chorus-consensus/chorus/tm/tmgossip"
	"github.com/chorus-consensus/chorus/tm/tmround"
	"github.com/chorus-consensus/chorus/tm/tmstore"
)

// Engine is the entrypoint to a running consensus participant. Use New to
// construct one, then Run to drive it.
type Engine struct {
	log *slog.Logger

	walStore   tmstore.WALStore
	certStore  tmstore.CertificateStore
	valStore   tmstore.ValidatorStore
	chainStore tmstore.ChainStore

	sigScheme  tmconsensus.SignatureScheme
	hashScheme tmconsensus.HashScheme
	registry   *gcrypto.Registry

	signer      gcrypto.Signer
	selfAddress tmconsensus.Address

	gossip          tmgossip.Strategy
	timeoutStrategy TimeoutStrategy

	localValueValidator func(tmconsensus.Value) bool

	getValueCh            chan<- tmdriver.GetValueRequest
	validateValueCh       chan<- tmdriver.ValidateValueRequest
	extendVoteCh          chan<- tmdriver.ExtendVoteRequest
	verifyVoteExtensionCh chan<- tmdriver.VerifyVoteExtensionRequest
	decideCh              chan<- tmdriver.DecideRequest
	getValidatorSetCh     chan<- tmdriver.GetValidatorSetRequest

	rebroadcastInterval time.Duration
	lastVote            *tmconsensus.Vote

	statusMu sync.RWMutex
	status   Status
}

// New constructs an Engine, applying opts in order. It returns an error
// naming every missing required option, rather than stopping at the
// first.
func New(log *slog.Logger, opts ...Opt) (*Engine, error) {
	e := &Engine{
		log:                 log,
		rebroadcastInterval: 10 * time.Second,
	}

	var err error
	for _, opt := range opts {
		err = errors.Join(err, opt(e))
	}
	if err != nil {
		return nil, err
	}

	if e.timeoutStrategy == nil {
		e.timeoutStrategy = DefaultTimeoutParams()
	}

	if verr := e.validateSettings(); verr != nil {
		return nil, verr
	}

	return e, nil
}

func (e *Engine) validateSettings() error {
	var err error
	if e.walStore == nil {
		err = errors.Join(err, errors.New("no WAL store set (use tmengine.WithWALStore)"))
	}
	if e.certStore == nil {
		err = errors.Join(err, errors.New("no certificate store set (use tmengine.WithCertificateStore)"))
	}
	if e.valStore == nil {
		err = errors.Join(err, errors.New("no validator store set (use tmengine.WithValidatorStore)"))
	}
	if e.chainStore == nil {
		err = errors.Join(err, errors.New("no chain store set (use tmengine.WithChainStore)"))
	}
	if e.sigScheme == nil {
		err = errors.Join(err, errors.New("no signature scheme set (use tmengine.WithSignatureScheme)"))
	}
	if e.hashScheme == nil {
		err = errors.Join(err, errors.New("no hash scheme set (use tmengine.WithHashScheme)"))
	}
	if e.registry == nil {
		err = errors.Join(err, errors.New("no registry set (use tmengine.WithRegistry)"))
	}
	if e.gossip == nil {
		err = errors.Join(err, errors.New("no gossip strategy set (use tmengine.WithGossipStrategy)"))
	}
	if e.validateValueCh == nil {
		err = errors.Join(err, errors.New("no validate-value channel set (use tmengine.WithValidateValueChannel)"))
	}
	if e.decideCh == nil {
		err = errors.Join(err, errors.New("no decide channel set (use tmengine.WithDecideChannel)"))
	}
	if e.getValidatorSetCh == nil {
		err = errors.Join(err, errors.New("no validator-set channel set (use tmengine.WithGetValidatorSetChannel)"))
	}
	if e.signer != nil && e.getValueCh == nil {
		err = errors.Join(err, errors.New("no get-value channel set for a signing engine (use tmengine.WithGetValueChannel)"))
	}
	return err
}

// timer is an in-flight round timeout, cancelled by stopping t.
type timer struct {
	step tmround.Step
	t    *time.Timer
	fire chan tmround.Step
}

func (e *Engine) startTimer(round tmconsensus.Round, step tmround.Step) *timer {
	d := e.timeoutStrategy.Duration(step, round)
	fire := make(chan tmround.Step, 1)
	t := time.AfterFunc(d, func() { fire <- step })
	return &timer{step: step, t: t, fire: fire}
}

func (tm *timer) stop() {
	if tm == nil {
		return
	}
	tm.t.Stop()
}

// Run drives the engine starting at startHeight, until ctx is cancelled or
// an unrecoverable error occurs (a WAL append failure, per spec.md §7's
// rule that callers must stop rather than continue with an unrecorded
// entry).
func (e *Engine) Run(ctx context.Context, startHeight tmconsensus.Height) error {
	height := startHeight
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}

		if err := e.runHeight(ctx, height); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("tmengine: height %d: %w", height, err)
		}

		height++
	}
}

func (e *Engine) runHeight(ctx context.Context, height tmconsensus.Height) error {
	// A value-sync collaborator (tm/tmsync) may have already written this
	// height's decision directly into the chain store, bypassing vote-by-vote
	// replay entirely (spec.md §4.4's sync_decided_value). If so, there is
	// nothing left for the round state machine to do at this height.
	if _, err := e.chainStore.LoadDecision(ctx, height); err == nil {
		e.log.Info("Height already decided via value sync, skipping round replay", "height", height)
		return nil
	} else if !errors.Is(err, tmconsensus.ErrUnknownHeight) {
		return fmt.Errorf("checking for synced decision: %w", err)
	}

	vals, err := e.resolveValidatorSet(ctx, height)
	if err != nil {
		return fmt.Errorf("resolving validator set: %w", err)
	}

	log := e.log.With("height", height)
	d := tmmux.New(log, height, vals, e.selfAddress, e.sigScheme, e.validateValue(ctx))

	if err := e.replayWAL(ctx, d, height); err != nil {
		return fmt.Errorf("replaying wal: %w", err)
	}

	var curTimer *timer
	valueCh := make(chan tmconsensus.Value, 1)
	e.handleOutputs(ctx, d, height, &curTimer, valueCh, nil)
	e.recordStatus(d)

	rebroadcast := time.NewTicker(e.rebroadcastInterval)
	defer rebroadcast.Stop()

	for !d.Decided {
		select {
		case <-ctx.Done():
			curTimer.stop()
			return ctx.Err()

		case msg, ok := <-e.gossip.Incoming():
			if !ok {
				curTimer.stop()
				return errors.New("gossip strategy closed")
			}
			if err := e.handleIncoming(ctx, d, height, msg, &curTimer, valueCh); err != nil {
				curTimer.stop()
				return err
			}
			e.recordStatus(d)

		case step := <-timerFire(curTimer):
			in := tmmux.Input{Kind: tmmux.InputTimeout, Height: height, TimeoutStep: step}
			outs := d.Process(in)
			e.handleOutputs(ctx, d, height, &curTimer, valueCh, outs)
			e.recordStatus(d)

		case v := <-valueCh:
			// A value the host produced in response to a GetValue request.
			// The value carries no round tag: InputProposeValue takes effect
			// whenever this validator is the Propose-step proposer of the
			// current round, so a late value that arrives while this
			// validator is proposer in a later round is proposed there.
			outs := d.Process(tmmux.Input{Kind: tmmux.InputProposeValue, Height: height, Value: v})
			e.handleOutputs(ctx, d, height, &curTimer, valueCh, outs)
			e.recordStatus(d)

		case <-rebroadcast.C:
			e.rebroadcastLastVote(ctx, d)
		}
	}

	curTimer.stop()
	return e.finalizeDecision(ctx, d, height)
}

func timerFire(t *timer) <-chan tmround.Step {
	if t == nil {
		return nil
	}
	return t.fire
}

func (e *Engine) resolveValidatorSet(ctx context.Context, h tmconsensus.Height) (tmconsensus.ValidatorSet, error) {
	vs, err := e.valStore.LoadValidators(ctx, h)
	if err == nil {
		return vs, nil
	}
	if !errors.Is(err, tmconsensus.ErrUnknownHeight) {
		return tmconsensus.ValidatorSet{}, err
	}

	req := tmdriver.GetValidatorSetRequest{Height: h, Resp: make(chan tmdriver.GetValidatorSetResponse, 1)}
	r, ok := gchan.ReqResp(ctx, e.log, e.getValidatorSetCh, req, req.Resp, "validator set")
	if !ok {
		return tmconsensus.ValidatorSet{}, ctx.Err()
	}

	if err := e.valStore.SaveValidators(ctx, h, r.Validators); err != nil {
		return tmconsensus.ValidatorSet{}, fmt.Errorf("saving resolved validator set: %w", err)
	}
	return r.Validators, nil
}

func (e *Engine) validateValue(ctx context.Context) tmmux.ValueValidator {
	return func(v tmconsensus.Value) bool {
		if e.localValueValidator != nil && !e.localValueValidator(v) {
			return false
		}
		if e.validateValueCh == nil {
			return true
		}
		req := tmdriver.ValidateValueRequest{Value: v, Resp: make(chan tmdriver.ValidateValueResponse, 1)}
		resp, ok := gchan.ReqResp(ctx, e.log, e.validateValueCh, req, req.Resp, "validate value")
		return ok && resp.Valid
	}
}

// handleIncoming decodes one gossip message, appends it to the WAL, feeds
// it to the driver, and processes the resulting outputs.
func (e *Engine) handleIncoming(ctx context.Context, d *tmmux.Driver, height tmconsensus.Height, msg tmcodec.Message, curTimer **timer, valueCh chan<- tmconsensus.Value) error {
	var (
		in  tmmux.Input
		wal tmstore.WALEntry
	)
	switch msg.Kind {
	case tmcodec.MessageProposal:
		if msg.Proposal == nil || msg.Proposal.Height != height {
			return nil
		}
		in = tmmux.Input{Kind: tmmux.InputProposal, Height: height, Proposal: msg.Proposal}
		wal = tmstore.WALEntry{Kind: tmstore.WALEntryProposal, Proposal: msg.Proposal}

	case tmcodec.MessageVote:
		if msg.Vote == nil || msg.Vote.Height != height {
			return nil
		}
		if e.verifyVoteExtensionCh != nil && msg.Vote.Type == tmconsensus.Precommit && len(msg.Vote.Extension) > 0 {
			req := tmdriver.VerifyVoteExtensionRequest{Vote: *msg.Vote, Resp: make(chan tmdriver.VerifyVoteExtensionResponse, 1)}
			resp, ok := gchan.ReqResp(ctx, e.log, e.verifyVoteExtensionCh, req, req.Resp, "verify vote extension")
			if !ok {
				return ctx.Err()
			}
			if !resp.Valid {
				e.log.Info("Dropping vote with invalid extension", "voter", msg.Vote.VoterAddress)
				return nil
			}
		}
		in = tmmux.Input{Kind: tmmux.InputVote, Height: height, Vote: msg.Vote}
		wal = tmstore.WALEntry{Kind: tmstore.WALEntryVote, Vote: msg.Vote}

	case tmcodec.MessageCertificate:
		if msg.Certificate == nil || msg.Certificate.Height != height {
			return nil
		}
		in = tmmux.Input{Kind: tmmux.InputCertificate, Height: height, Certificate: msg.Certificate}
		wal = tmstore.WALEntry{Kind: tmstore.WALEntryCertificate, Certificate: msg.Certificate}

	default:
		return nil
	}

	if err := e.walStore.Append(ctx, height, wal); err != nil {
		return fmt.Errorf("appending wal entry: %w", err)
	}

	outs := d.Process(in)
	e.handleOutputs(ctx, d, height, curTimer, valueCh, outs)
	return nil
}

// replayWAL feeds every persisted entry for height back through the
// driver, reconstructing in-flight state after a restart.
func (e *Engine) replayWAL(ctx context.Context, d *tmmux.Driver, height tmconsensus.Height) error {
	entries, err := e.walStore.Replay(ctx, height)
	if err != nil {
		return err
	}
	for _, en := range entries {
		var in tmmux.Input
		switch en.Kind {
		case tmstore.WALEntryProposal:
			in = tmmux.Input{Kind: tmmux.InputProposal, Height: height, Proposal: en.Proposal}
		case tmstore.WALEntryVote:
			in = tmmux.Input{Kind: tmmux.InputVote, Height: height, Vote: en.Vote}
		case tmstore.WALEntryCertificate:
			in = tmmux.Input{Kind: tmmux.InputCertificate, Height: height, Certificate: en.Certificate}
		default:
			continue
		}
		_ = d.Process(in)
	}
	return nil
}

// handleOutputs applies every tmround.Output the driver just produced:
// signing and broadcasting proposals/votes, starting timers, requesting a
// value to propose, and recursing into the driver for its own emitted
// events so a proposer's own proposal/vote is credited to its own vote
// keeper exactly like a peer's would be.
func (e *Engine) handleOutputs(ctx context.Context, d *tmmux.Driver, height tmconsensus.Height, curTimer **timer, valueCh chan<- tmconsensus.Value, outs []tmround.Output) {
	for _, out := range outs {
		switch out.Kind {
		case tmround.OutputNone:
			// nothing to do

		case tmround.OutputProposal:
			e.emitProposal(ctx, d, height, out.Proposal, curTimer, valueCh)

		case tmround.OutputVote:
			e.emitVote(ctx, d, height, out.Vote, curTimer, valueCh)

		case tmround.OutputScheduleTimeout:
			(*curTimer).stop()
			*curTimer = e.startTimer(d.CurrentRound, out.TimeoutStep)

		case tmround.OutputGetValueAndScheduleTimeout:
			(*curTimer).stop()
			*curTimer = e.startTimer(d.CurrentRound, out.TimeoutStep)
			go e.fetchValue(ctx, height, d.CurrentRound, valueCh)
		}
	}
}

func (e *Engine) emitProposal(ctx context.Context, d *tmmux.Driver, height tmconsensus.Height, p tmconsensus.Proposal, curTimer **timer, valueCh chan<- tmconsensus.Value) {
	if e.signer == nil {
		return
	}
	p.ProposerAddress = e.selfAddress
	msg, err := e.sigScheme.ProposalSignBytes(p)
	if err != nil {
		e.log.Warn("Failed to build proposal sign bytes", "err", err)
		return
	}
	sig, err := e.signer.Sign(msg)
	if err != nil {
		e.log.Warn("Failed to sign proposal", "err", err)
		return
	}
	p.Signature = sig

	if err := e.walStore.Append(ctx, height, tmstore.WALEntry{Kind: tmstore.WALEntryProposal, Proposal: &p}); err != nil {
		e.log.Warn("Failed to append own proposal to wal", "err", err)
		return
	}

	if err := e.gossip.Publish(ctx, tmcodec.Message{Kind: tmcodec.MessageProposal, Proposal: &p}); err != nil {
		e.log.Warn("Failed to publish proposal", "err", err)
	}

	outs := d.Process(tmmux.Input{Kind: tmmux.InputProposal, Height: height, Proposal: &p})
	// Own proposal re-entry cannot itself emit another OutputProposal, so
	// there is no risk of recursing forever here.
	e.handleOutputs(ctx, d, height, curTimer, valueCh, outs)
}

func (e *Engine) emitVote(ctx context.Context, d *tmmux.Driver, height tmconsensus.Height, v tmconsensus.Vote, curTimer **timer, valueCh chan<- tmconsensus.Value) {
	if e.signer == nil {
		return
	}
	v.VoterAddress = e.selfAddress

	if v.Type == tmconsensus.Precommit && !v.ValueID.IsNil() && e.extendVoteCh != nil {
		req := tmdriver.ExtendVoteRequest{Height: v.Height, Round: v.Round, ValueID: v.ValueID, Resp: make(chan tmdriver.ExtendVoteResponse, 1)}
		resp, ok := gchan.ReqResp(ctx, e.log, e.extendVoteCh, req, req.Resp, "extend vote")
		if ok {
			v.Extension = resp.Extension
		}
	}

	msg, err := e.sigScheme.VoteSignBytes(v)
	if err != nil {
		e.log.Warn("Failed to build vote sign bytes", "err", err)
		return
	}
	sig, err := e.signer.Sign(msg)
	if err != nil {
		e.log.Warn("Failed to sign vote", "err", err)
		return
	}
	v.Signature = sig

	if err := e.walStore.Append(ctx, height, tmstore.WALEntry{Kind: tmstore.WALEntryVote, Vote: &v}); err != nil {
		e.log.Warn("Failed to append own vote to wal", "err", err)
		return
	}

	e.lastVote = &v

	if err := e.gossip.Publish(ctx, tmcodec.Message{Kind: tmcodec.MessageVote, Vote: &v}); err != nil {
		e.log.Warn("Failed to publish vote", "err", err)
	}

	outs := d.Process(tmmux.Input{Kind: tmmux.InputVote, Height: height, Vote: &v})
	e.handleOutputs(ctx, d, height, curTimer, valueCh, outs)
}

// fetchValue asks the host for a value to propose and delivers the result
// on valueCh, where the engine's main select loop feeds it back into the
// driver as InputProposeValue. It never touches the driver directly: the
// driver is owned exclusively by the goroutine running runHeight, per the
// single-threaded cooperative scheduling model. A GetValue round trip that
// outlasts the round's propose timeout (already started by the caller)
// simply means the round times out as a nil prevote. The late value, if it
// ever arrives, is not tagged with its round; it is ignored unless this
// validator is then the Propose-step proposer of the current round.
func (e *Engine) fetchValue(ctx context.Context, height tmconsensus.Height, round tmconsensus.Round, valueCh chan<- tmconsensus.Value) {
	if e.getValueCh == nil {
		return
	}
	req := tmdriver.GetValueRequest{Height: height, Round: round, Resp: make(chan tmdriver.GetValueResponse, 1)}
	resp, ok := gchan.ReqResp(ctx, e.log, e.getValueCh, req, req.Resp, "get value")
	if !ok {
		return
	}
	gchan.SendC(ctx, e.log, valueCh, resp.Value, "propose value")
}

func (e *Engine) rebroadcastLastVote(ctx context.Context, d *tmmux.Driver) {
	if e.lastVote == nil {
		return
	}
	if err := e.gossip.Publish(ctx, tmcodec.Message{Kind: tmcodec.MessageVote, Vote: e.lastVote}); err != nil {
		e.log.Warn("Failed to rebroadcast last vote", "err", err)
	}
}

func (e *Engine) finalizeDecision(ctx context.Context, d *tmmux.Driver, height tmconsensus.Height) error {
	dec := d.Decision
	if err := e.certStore.SaveCertificate(ctx, dec.Certificate); err != nil {
		return fmt.Errorf("saving commit certificate: %w", err)
	}
	if err := e.chainStore.SaveDecision(ctx, tmstore.DecidedEntry{
		Height: height, Value: dec.Value, Certificate: dec.Certificate,
	}); err != nil {
		return fmt.Errorf("saving decision: %w", err)
	}
	if err := e.walStore.Delete(ctx, height); err != nil {
		e.log.Warn("Failed to delete wal after decision", "height", height, "err", err)
	}

	e.log.Info("Height decided", "height", height, "round", dec.Round, "value_id", glog.Hex([]byte(dec.Value.ID())))

	gchan.SendC(ctx, e.log, e.decideCh, tmdriver.DecideRequest{
		Height: height, Round: dec.Round, Value: dec.Value, Certificate: dec.Certificate,
	}, "decide")

	return nil
}

package tmengine

import (
	"time"

	"github.com/chorus-consensus/chorus/tm/tmconsensus"
	"github.com/chorus-consensus/chorus/tm/tmround"
)

// TimeoutStrategy resolves a round timeout's duration, given which step it
// guards and how many rounds this height has gone through. It is the
// pluggable equivalent of the teacher's round-timer abstraction.
type TimeoutStrategy interface {
	Duration(step tmround.Step, round tmconsensus.Round) time.Duration
}

// TimeoutParams is the default TimeoutStrategy: each step's timeout grows
// linearly with the round, on the theory that a validator repeatedly
// skipping rounds is likely contending with real network delay rather than
// a one-off hiccup.
type TimeoutParams struct {
	ProposeBase, ProposeDelta     time.Duration
	PrevoteBase, PrevoteDelta     time.Duration
	PrecommitBase, PrecommitDelta time.Duration
}

// DefaultTimeoutParams mirrors the constants the reference Tendermint
// implementation ships with: a 3s propose timeout and 1s prevote/precommit
// timeouts, each growing 500ms per round.
func DefaultTimeoutParams() TimeoutParams {
	return TimeoutParams{
		ProposeBase: 3 * time.Second, ProposeDelta: 500 * time.Millisecond,
		PrevoteBase: time.Second, PrevoteDelta: 500 * time.Millisecond,
		PrecommitBase: time.Second, PrecommitDelta: 500 * time.Millisecond,
	}
}

func (p TimeoutParams) Duration(step tmround.Step, round tmconsensus.Round) time.Duration {
	n := time.Duration(round)
	if n < 0 {
		n = 0
	}
	switch step {
	case tmround.Propose:
		return p.ProposeBase + p.ProposeDelta*n
	case tmround.Prevote:
		return p.PrevoteBase + p.PrevoteDelta*n
	case tmround.Precommit:
		return p.PrecommitBase + p.PrecommitDelta*n
	default:
		return p.ProposeBase
	}
}

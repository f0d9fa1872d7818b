// Package tmgossip defines the Strategy interface the engine publishes
// consensus messages through, plus a periodic rebroadcast ticker for the
// validator's own last-cast vote (spec.md §4.4's Rebroadcast effect).
// Concrete transports live under tmp2p/tmlibp2p.
package tmgossip

import (
	"context"
	"time"

	"github.com/chorus-consensus/chorus/tm/tmcodec"
)

// Strategy is how the engine sends and receives consensus messages. The
// engine calls Publish for every proposal, vote, and certificate it
// produces; it reads from Incoming for everything a peer sends.
type Strategy interface {
	Publish(ctx context.Context, msg tmcodec.Message) error

	// Incoming delivers messages received from peers. The channel is
	// closed when the strategy is stopped.
	Incoming() <-chan tmcodec.Message
}

// RebroadcastTicker periodically signals the engine to re-publish the
// local validator's most recent precommit, so a peer who missed the
// original transmission can still observe it without waiting for a
// request/response sync round trip.
type RebroadcastTicker struct {
	C      <-chan time.Time
	ticker *time.Ticker
}

// NewRebroadcastTicker starts a ticker firing every interval until Stop is
// called.
func NewRebroadcastTicker(interval time.Duration) *RebroadcastTicker {
	t := time.NewTicker(interval)
	return &RebroadcastTicker{C: t.C, ticker: t}
}

func (r *RebroadcastTicker) Stop() { r.ticker.Stop() }

// RunRebroadcast blocks until ctx is cancelled, invoking rebroadcast on
// every tick.
func RunRebroadcast(ctx context.Context, rt *RebroadcastTicker, rebroadcast func(context.Context)) {
	defer rt.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-rt.C:
			rebroadcast(ctx)
		}
	}
}

package tmlibp2p

import (
	"context"

	"github.com/chorus-consensus/chorus/tm/tmcodec"
	"github.com/chorus-consensus/chorus/tm/tmgossip"
)

// ConsensusBroadcaster adapts the Connection to tmgossip.Strategy, so the
// engine can be wired to it without depending on tmp2p or go-libp2p types
// directly.
func (c *Connection) ConsensusBroadcaster() tmgossip.Strategy {
	return consensusStrategy{c}
}

type consensusStrategy struct{ c *Connection }

func (s consensusStrategy) Publish(ctx context.Context, msg tmcodec.Message) error {
	return s.c.Broadcast(ctx, msg)
}

func (s consensusStrategy) Incoming() <-chan tmcodec.Message { return s.c.Messages() }

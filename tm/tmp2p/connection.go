// Package tmp2p defines the transport-facing Connection abstraction a
// gossip Strategy is built on: a single topic of consensus traffic shared
// by every validator and observer on a chain. Concrete transports live in
// subpackages, e.g. tmp2p/tmlibp2p.
package tmp2p

import (
	"context"

	"github.com/chorus-consensus/chorus/tm/tmcodec"
)

// Connection is a joined consensus gossip topic: something that can
// broadcast a message to every other connected peer and deliver whatever
// they broadcast in turn.
type Connection interface {
	Broadcast(ctx context.Context, msg tmcodec.Message) error
	Messages() <-chan tmcodec.Message

	Close() error
}

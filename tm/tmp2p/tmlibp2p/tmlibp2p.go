// Package tmlibp2p implements tmp2p.Connection over a go-libp2p host
// running go-libp2p-pubsub's gossipsub router on a single topic shared by
// every participant on a chain. Peers find each other through
// go-libp2p-kad-dht, rendezvousing on a topic-derived key.
package tmlibp2p

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/routing"

	"github.com/chorus-consensus/chorus/tm/tmcodec"
)

// topicPrefix namespaces gossipsub topics so unrelated chorus chains
// sharing a DHT never cross-deliver consensus traffic.
const topicPrefix = "/chorus/consensus/1.0.0/"

// Connection joins a chain's consensus gossipsub topic over an existing
// libp2p host, implementing tmp2p.Connection.
type Connection struct {
	log *slog.Logger

	host host.Host
	ps   *pubsub.PubSub
	dht  *dht.IpfsDHT

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	codec tmcodec.MarshalCodec

	out chan tmcodec.Message

	closeOnce sync.Once
	cancel    context.CancelFunc
	done      chan struct{}
}

// Option customizes Connect.
type Option func(*connectCfg)

type connectCfg struct {
	bootstrap []peer.AddrInfo
}

// WithBootstrapPeers seeds the DHT's routing table so the connection can
// discover the rest of the network without a prior direct connection.
func WithBootstrapPeers(peers ...peer.AddrInfo) Option {
	return func(c *connectCfg) { c.bootstrap = append(c.bootstrap, peers...) }
}

// Connect joins the gossipsub topic for chainID on h, returning a
// Connection once the DHT bootstrap and topic join both succeed. The
// returned Connection owns h for the lifetime of the connection: Close
// closes h too.
func Connect(ctx context.Context, log *slog.Logger, h host.Host, chainID string, codec tmcodec.MarshalCodec, opts ...Option) (*Connection, error) {
	var cfg connectCfg
	for _, o := range opts {
		o(&cfg)
	}

	kad, err := dht.New(ctx, h, dht.Mode(dht.ModeAutoServer))
	if err != nil {
		return nil, fmt.Errorf("tmlibp2p: new dht: %w", err)
	}
	if err := kad.Bootstrap(ctx); err != nil {
		return nil, fmt.Errorf("tmlibp2p: dht bootstrap: %w", err)
	}
	for _, pi := range cfg.bootstrap {
		if err := h.Connect(ctx, pi); err != nil {
			log.Warn("tmlibp2p: failed to connect to bootstrap peer", "peer", pi.ID, "err", err)
		}
	}

	ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithDiscovery(routing.NewRoutingDiscovery(kad)))
	if err != nil {
		return nil, fmt.Errorf("tmlibp2p: new gossipsub: %w", err)
	}

	topic, err := ps.Join(topicPrefix + chainID)
	if err != nil {
		return nil, fmt.Errorf("tmlibp2p: join topic: %w", err)
	}

	sub, err := topic.Subscribe()
	if err != nil {
		topic.Close()
		return nil, fmt.Errorf("tmlibp2p: subscribe: %w", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	c := &Connection{
		log:    log,
		host:   h,
		ps:     ps,
		dht:    kad,
		topic:  topic,
		sub:    sub,
		codec:  codec,
		out:    make(chan tmcodec.Message, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go c.readLoop(cctx)

	return c, nil
}

func (c *Connection) readLoop(ctx context.Context) {
	defer close(c.done)
	defer close(c.out)

	self := c.host.ID()
	for {
		m, err := c.sub.Next(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("tmlibp2p: subscription read failed", "err", err)
			return
		}
		if m.ReceivedFrom == self {
			continue
		}

		msg, err := c.codec.UnmarshalMessage(m.Data)
		if err != nil {
			c.log.Warn("tmlibp2p: dropping undecodable message", "from", m.ReceivedFrom, "err", err)
			continue
		}

		select {
		case c.out <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// Broadcast publishes msg to every peer subscribed to the topic.
func (c *Connection) Broadcast(ctx context.Context, msg tmcodec.Message) error {
	b, err := c.codec.MarshalMessage(msg)
	if err != nil {
		return fmt.Errorf("tmlibp2p: marshal message: %w", err)
	}
	return c.topic.Publish(ctx, b)
}

// Messages delivers decoded peer messages. Closed once the connection is
// torn down.
func (c *Connection) Messages() <-chan tmcodec.Message { return c.out }

// Close leaves the topic and shuts down the underlying host.
func (c *Connection) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.cancel()
		<-c.done
		c.sub.Cancel()
		if e := c.topic.Close(); e != nil {
			err = e
		}
		if e := c.dht.Close(); e != nil && err == nil {
			err = e
		}
		if e := c.host.Close(); e != nil && err == nil {
			err = e
		}
	})
	return err
}

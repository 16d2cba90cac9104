package p2p

import (
	"context"
	"fmt"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/uhyunpark/dexcore/pkg/app/core/types"
)

const topicEvents = "dex-events"

// EventHandler receives events gossiped by other nodes.
type EventHandler func(ctx context.Context, origin string, ev types.Event)

// Gossip publishes exchange events over libp2p gossipsub so remote
// indexers can follow the node without polling its API.
type Gossip struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	topic *pubsub.Topic
	sub   *pubsub.Subscription

	cancel context.CancelFunc
	done   chan struct{}

	muH     sync.RWMutex
	handler EventHandler
}

type GossipConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewGossip(ctx context.Context, cfg GossipConfig) (*Gossip, error) {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop().Sugar()
	}
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, err
	}

	g := &Gossip{h: h, ps: ps, log: cfg.Logger, done: make(chan struct{})}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if g.topic, err = ps.Join(topicEvents); err != nil {
		h.Close()
		return nil, err
	}
	if g.sub, err = g.topic.Subscribe(); err != nil {
		h.Close()
		return nil, err
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	g.cancel = cancel
	go g.handleEvents(loopCtx)

	cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	return g, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (g *Gossip) Host() host.Host { return g.h }

// Addrs returns dialable multiaddrs including the /p2p/<id> suffix.
func (g *Gossip) Addrs() []string {
	out := make([]string, 0, len(g.h.Addrs()))
	for _, a := range g.h.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, g.h.ID()))
	}
	return out
}

// Connect dials a peer given its full multiaddr.
func (g *Gossip) Connect(ctx context.Context, addr string) error {
	return connectMultiaddr(ctx, g.h, addr)
}

// OnEvent sets the handler for events from other peers.
func (g *Gossip) OnEvent(fn EventHandler) { g.muH.Lock(); g.handler = fn; g.muH.Unlock() }

// Publish broadcasts ev on the events topic.
func (g *Gossip) Publish(ctx context.Context, ev types.Event) error {
	data, err := gobEncode(EventWire{Origin: g.h.ID().String(), Event: ev})
	if err != nil {
		return err
	}
	return g.topic.Publish(ctx, data)
}

func (g *Gossip) Close() error {
	g.cancel()
	<-g.done
	g.sub.Cancel()
	if err := g.topic.Close(); err != nil {
		g.log.Warnw("topic_close_failed", "err", err)
	}
	return g.h.Close()
}

// inbound

func (g *Gossip) handleEvents(ctx context.Context) {
	defer close(g.done)
	for {
		msg, err := g.sub.Next(ctx)
		if err != nil {
			return
		}
		if msg.GetFrom() == g.h.ID() {
			continue
		}
		var w EventWire
		if err := gobDecode(msg.Data, &w); err != nil {
			g.log.Debugw("bad_event_wire", "from", msg.GetFrom().String(), "err", err)
			continue
		}

		g.muH.RLock()
		h := g.handler
		g.muH.RUnlock()
		if h != nil {
			h(ctx, w.Origin, w.Event)
		}
	}
}

// Package net relays light client messages over libp2p gossip and keeps
// peers' header chains in sync.
package net

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	mdns "github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"btclc/core"
	"btclc/metrics"
)

var (
	rtyAttNum = uint(5)
	rtyAtt    = retry.Attempts(rtyAttNum)
	rtyDel    = retry.Delay(time.Millisecond * 400)
	rtyErr    = retry.LastErrorOnly(true)
)

const (
	mdnsService = "btclc-mdns"
	reannounce  = 10
)

// Config describes how the node listens and whom it dials.
type Config struct {
	ListenAddrs      []string
	Bootstrap        []string
	MDNS             bool
	AnnounceInterval time.Duration
}

// DefaultConfig listens on all interfaces at port.
func DefaultConfig(port int) Config {
	return Config{
		ListenAddrs:      []string{fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", port)},
		MDNS:             true,
		AnnounceInterval: 2 * time.Second,
	}
}

// Node is a libp2p host gossiping headers, checkpoints and acknowledgments.
// Inbound messages are executed through the Handler and the resulting
// events are republished on TopicEvents.
type Node struct {
	Host   host.Host
	PubSub *pubsub.PubSub

	cfg     Config
	handler *Handler
	log     *zap.Logger
	topics  map[string]*pubsub.Topic
	mdns    mdns.Service
}

func NewNode(ctx context.Context, cfg Config, handler *Handler, log *zap.Logger) (*Node, error) {
	if cfg.AnnounceInterval <= 0 {
		cfg.AnnounceInterval = 2 * time.Second
	}
	h, err := libp2p.New(libp2p.ListenAddrStrings(cfg.ListenAddrs...))
	if err != nil {
		return nil, fmt.Errorf("libp2p host: %w", err)
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("gossipsub: %w", err)
	}

	n := &Node{
		Host:    h,
		PubSub:  ps,
		cfg:     cfg,
		handler: handler,
		log:     log.With(zap.String("component", "p2p"), zap.Stringer("peer_id", h.ID())),
		topics:  make(map[string]*pubsub.Topic),
	}
	for _, name := range []string{TopicHeaders, TopicCheckpoints, TopicAcks, TopicEvents, TopicNewTip, TopicHeaderReq} {
		t, err := ps.Join(name)
		if err != nil {
			h.Close()
			return nil, fmt.Errorf("join %s: %w", name, err)
		}
		n.topics[name] = t
	}

	if cfg.MDNS {
		n.mdns = mdns.NewMdnsService(h, mdnsService, &mdnsNotifee{host: h, log: n.log})
		if err := n.mdns.Start(); err != nil {
			h.Close()
			return nil, fmt.Errorf("mdns: %w", err)
		}
		n.log.Info("mDNS peer discovery enabled")
	}
	return n, nil
}

// Addrs returns the node's full dialable addresses.
func (n *Node) Addrs() []string {
	out := make([]string, 0, len(n.Host.Addrs()))
	for _, a := range n.Host.Addrs() {
		out = append(out, fmt.Sprintf("%s/p2p/%s", a, n.Host.ID()))
	}
	return out
}

// Connect dials every address in addrs, retrying each a few times. It
// returns the combined errors of the peers it could not reach.
func (n *Node) Connect(ctx context.Context, addrs []string) error {
	var errs error
	for _, s := range addrs {
		addr, err := ma.NewMultiaddr(s)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("multiaddr %q: %w", s, err))
			continue
		}
		pi, err := peer.AddrInfoFromP2pAddr(addr)
		if err != nil {
			errs = multierr.Append(errs, fmt.Errorf("peer info %q: %w", s, err))
			continue
		}
		if err := retry.Do(func() error {
			return n.Host.Connect(ctx, *pi)
		}, retry.Context(ctx), rtyAtt, rtyDel, rtyErr, retry.OnRetry(func(attempt uint, err error) {
			n.log.Info("Dial failed",
				zap.Stringer("peer", pi.ID),
				zap.Uint("attempt", attempt+1),
				zap.Uint("max_attempts", rtyAttNum),
				zap.Error(err))
		})); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("connect %s: %w", pi.ID, err))
			continue
		}
		n.log.Info("Connected to peer", zap.Stringer("peer", pi.ID))
	}
	return errs
}

// Run subscribes to the inbound topics and announces the local tip until
// ctx is done or a subscription fails.
func (n *Node) Run(ctx context.Context) error {
	if len(n.cfg.Bootstrap) > 0 {
		if err := n.Connect(ctx, n.cfg.Bootstrap); err != nil {
			n.log.Warn("Bootstrap incomplete", zap.Error(err))
		}
	}

	inbound := []string{TopicHeaders, TopicCheckpoints, TopicAcks, TopicNewTip, TopicHeaderReq}
	subs := make(map[string]*pubsub.Subscription, len(inbound))
	for _, name := range inbound {
		sub, err := n.topics[name].Subscribe()
		if err != nil {
			for _, s := range subs {
				s.Cancel()
			}
			return fmt.Errorf("subscribe %s: %w", name, err)
		}
		subs[name] = sub
	}

	g, ctx := errgroup.WithContext(ctx)
	for _, name := range []string{TopicHeaders, TopicCheckpoints, TopicAcks} {
		name := name
		g.Go(func() error { return n.consume(ctx, name, subs[name]) })
	}
	g.Go(func() error { return n.handleNewTip(ctx, subs[TopicNewTip]) })
	g.Go(func() error { return n.handleHeaderReq(ctx, subs[TopicHeaderReq]) })
	g.Go(func() error { return n.announce(ctx) })

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close shuts down discovery and the host.
func (n *Node) Close() error {
	var err error
	if n.mdns != nil {
		err = multierr.Append(err, n.mdns.Close())
	}
	return multierr.Append(err, n.Host.Close())
}

// Publish sends v as JSON on topic without executing it locally.
func (n *Node) Publish(ctx context.Context, topic string, v any) error {
	t, ok := n.topics[topic]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownTopic, topic)
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return t.Publish(ctx, data)
}

// Broadcast executes v locally and gossips it once the light client accepts
// it, followed by the events it produced.
func (n *Node) Broadcast(ctx context.Context, topic string, v any) (*core.Result, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	res, err := n.handler.Handle(topic, data)
	metrics.RelayMessages.WithLabelValues(topic, resultLabel(err)).Inc()
	if err != nil {
		return nil, err
	}
	if err := n.topics[topic].Publish(ctx, data); err != nil {
		return res, err
	}
	n.publishEvents(ctx, res)
	return res, nil
}

// SubmitHeaders broadcasts a batch of raw headers. It matches
// miner.SubmitFunc.
func (n *Node) SubmitHeaders(ctx context.Context, raw [][]byte) error {
	msg := HeadersMsg{Headers: make([]string, len(raw))}
	for i, r := range raw {
		msg.Headers[i] = hex.EncodeToString(r)
	}
	_, err := n.Broadcast(ctx, TopicHeaders, msg)
	return err
}

func (n *Node) consume(ctx context.Context, topic string, sub *pubsub.Subscription) error {
	defer sub.Cancel()
	for {
		msg, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if msg.ReceivedFrom == n.Host.ID() {
			continue
		}
		res, err := n.handler.Handle(topic, msg.Data)
		label := resultLabel(err)
		metrics.RelayMessages.WithLabelValues(topic, label).Inc()
		switch label {
		case "accepted":
			n.publishEvents(ctx, res)
		case "duplicate":
		default:
			n.log.Debug("Gossip message rejected",
				zap.String("topic", topic),
				zap.Stringer("from", msg.ReceivedFrom),
				zap.Error(err))
		}
	}
}

func (n *Node) publishEvents(ctx context.Context, res *core.Result) {
	for _, e := range res.Events {
		data, err := core.MarshalEvent(e)
		if err != nil {
			n.log.Error("Encode event", zap.String("type", core.EventType(e)), zap.Error(err))
			continue
		}
		if err := n.topics[TopicEvents].Publish(ctx, data); err != nil {
			n.log.Warn("Publish event", zap.String("type", core.EventType(e)), zap.Error(err))
		}
	}
}

// handleNewTip requests headers when a peer announces a higher tip.
func (n *Node) handleNewTip(ctx context.Context, sub *pubsub.Subscription) error {
	defer sub.Cancel()
	for {
		raw, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if raw.ReceivedFrom == n.Host.ID() {
			continue
		}
		var msg NewTipMsg
		if err := json.Unmarshal(raw.Data, &msg); err != nil {
			metrics.RelayMessages.WithLabelValues(TopicNewTip, "malformed").Inc()
			continue
		}
		req, behind, err := n.handler.Behind(msg)
		if err != nil {
			n.log.Warn("Compare tips", zap.Error(err))
			continue
		}
		if !behind {
			continue
		}
		n.log.Info("Peer ahead, requesting headers",
			zap.Uint64("peer_tip", msg.Height),
			zap.Uint64("after", req.After))
		if err := n.Publish(ctx, TopicHeaderReq, req); err != nil {
			n.log.Warn("Publish header request", zap.Error(err))
		}
	}
}

// handleHeaderReq serves header requests from the canonical chain.
func (n *Node) handleHeaderReq(ctx context.Context, sub *pubsub.Subscription) error {
	defer sub.Cancel()
	for {
		raw, err := sub.Next(ctx)
		if err != nil {
			return err
		}
		if raw.ReceivedFrom == n.Host.ID() {
			continue
		}
		var req HeaderRequest
		if err := json.Unmarshal(raw.Data, &req); err != nil {
			metrics.RelayMessages.WithLabelValues(TopicHeaderReq, "malformed").Inc()
			continue
		}
		resp, ok, err := n.handler.Serve(req)
		if err != nil {
			n.log.Warn("Serve header request", zap.Uint64("after", req.After), zap.Error(err))
			continue
		}
		if !ok {
			continue
		}
		if err := n.Publish(ctx, TopicHeaders, resp); err != nil {
			n.log.Warn("Publish headers", zap.Error(err))
		}
	}
}

// announce publishes the local tip when it changes, and every reannounce
// ticks regardless so that late joiners learn it. It also keeps the peer
// gauge current.
func (n *Node) announce(ctx context.Context) error {
	ticker := time.NewTicker(n.cfg.AnnounceInterval)
	defer ticker.Stop()

	var (
		last  NewTipMsg
		quiet int
	)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		metrics.RelayPeers.Set(float64(len(n.Host.Network().Peers())))

		tip, err := n.handler.Tip()
		if err != nil {
			n.log.Warn("Read tip", zap.Error(err))
			continue
		}
		if tip == last && quiet < reannounce {
			quiet++
			continue
		}
		if err := n.Publish(ctx, TopicNewTip, tip); err != nil {
			n.log.Warn("Announce tip", zap.Error(err))
			continue
		}
		last, quiet = tip, 0
	}
}

type mdnsNotifee struct {
	host host.Host
	log  *zap.Logger
}

func (m *mdnsNotifee) HandlePeerFound(info peer.AddrInfo) {
	if info.ID == m.host.ID() {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := m.host.Connect(ctx, info); err != nil {
		m.log.Debug("mDNS peer unreachable", zap.Stringer("peer", info.ID), zap.Error(err))
		return
	}
	m.log.Info("mDNS discovered peer", zap.Stringer("peer", info.ID))
}

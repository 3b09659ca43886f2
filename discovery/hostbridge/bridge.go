// Package hostbridge adapts a real libp2p host.Host's connection
// lifecycle (network.Notifiee callbacks, the host event bus) into the
// narrow surface discovery.Behaviour expects. Behaviour itself knows
// nothing about host.Host; this is the only package that does.
package hostbridge

import (
	"context"

	eventbus "github.com/libp2p/go-eventbus"
	"github.com/libp2p/go-libp2p-core/event"
	"github.com/libp2p/go-libp2p-core/host"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/peer"
	logging "github.com/ipfs/go-log"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr-net"

	"github.com/corvidchain/peernet/discovery"
)

var log = logging.Logger("discovery/hostbridge")

// EvtPeerExchangeEstablished is emitted on the host's event bus once a
// peer-exchange handshake completes, mirroring identify's
// EvtPeerIdentificationCompleted so other host subsystems can subscribe
// without depending on this package's types directly.
type EvtPeerExchangeEstablished struct {
	Peer        peer.ID
	PeerAddress ma.Multiaddr
}

// EvtPeerExchangeUpdate is emitted whenever the shared Contact Book
// admits new entries, signalling a dial-dispatcher to scan for
// candidates.
type EvtPeerExchangeUpdate struct{}

// Bridge wires one discovery.Behaviour to one host.Host: it is the "host
// driver" of spec §4.4, translating transport lifecycle callbacks into
// Behaviour inputs and draining the Behaviour's outbound directive queue
// back into host-level actions and events.
type Bridge struct {
	host      host.Host
	behaviour *discovery.Behaviour

	emitEstablished event.Emitter
	emitUpdate      event.Emitter

	ctx    context.Context
	cancel context.CancelFunc
}

// New constructs a Bridge. Call Start to begin attaching to the host.
func New(h host.Host, b *discovery.Behaviour) *Bridge {
	return &Bridge{host: h, behaviour: b}
}

// Start registers the peer-exchange stream handler, subscribes to
// connection and local-address events, starts the Behaviour's own
// housekeeping loop, and begins draining its directive queue.
func (br *Bridge) Start(ctx context.Context) error {
	br.ctx, br.cancel = context.WithCancel(ctx)
	br.behaviour.Start(br.ctx)

	var err error
	br.emitEstablished, err = br.host.EventBus().Emitter(&EvtPeerExchangeEstablished{})
	if err != nil {
		log.Warnf("hostbridge not emitting peer-exchange-established events; err: %s", err)
	}
	br.emitUpdate, err = br.host.EventBus().Emitter(&EvtPeerExchangeUpdate{})
	if err != nil {
		log.Warnf("hostbridge not emitting peer-exchange-update events; err: %s", err)
	}

	br.host.SetStreamHandler(discovery.ProtocolID, br.handleInboundStream)
	br.host.Network().Notify((*netNotifiee)(br))

	sub, err := br.host.EventBus().Subscribe(&event.EvtLocalAddressesUpdated{}, eventbus.BufSize(16))
	if err != nil {
		log.Warnf("hostbridge not watching local address updates; err: %s", err)
	} else {
		go br.watchLocalAddresses(sub)
	}

	if err := br.syncOwnAddresses(); err != nil {
		log.Warnf("seeding own contact addresses: %s", err)
	}

	go br.drainDirectives()
	return nil
}

// syncOwnAddresses pulls the host's current listen addresses into the
// Book's own entry, filtering loopback addresses the way
// identify.populateMessage does (they're only worth advertising if every
// listen address is a loopback one, e.g. a local test network).
func (br *Bridge) syncOwnAddresses() error {
	laddrs := br.host.Addrs()
	allLoopback := true
	for _, addr := range laddrs {
		if !manet.IsIPLoopback(addr) {
			allLoopback = false
			break
		}
	}

	addrs := make([]ma.Multiaddr, 0, len(laddrs))
	for _, addr := range laddrs {
		if !allLoopback && manet.IsIPLoopback(addr) {
			continue
		}
		addrs = append(addrs, addr)
	}
	return br.behaviour.PeerContactBook().SetOwnAddresses(addrs)
}

// Close tears down the bridge and its Behaviour.
func (br *Bridge) Close() error {
	br.host.Network().StopNotify((*netNotifiee)(br))
	if br.cancel != nil {
		br.cancel()
	}
	br.behaviour.Stop()
	if br.emitEstablished != nil {
		br.emitEstablished.Close()
	}
	if br.emitUpdate != nil {
		br.emitUpdate.Close()
	}
	return nil
}

// drainDirectives is the host driver's poll loop (spec §4.4 "Poll
// contract"): it takes each directive the Behaviour enqueues, in FIFO
// order, and enacts it against the real host.
func (br *Bridge) drainDirectives() {
	for {
		select {
		case d, ok := <-br.behaviour.Directives():
			if !ok {
				return
			}
			br.enact(d)
		case <-br.ctx.Done():
			return
		}
	}
}

func (br *Bridge) enact(d discovery.Directive) {
	switch v := d.(type) {
	case discovery.DirectiveGenerateEvent:
		switch ev := v.Event.(type) {
		case discovery.EventEstablished:
			if br.emitEstablished != nil {
				if err := br.emitEstablished.Emit(EvtPeerExchangeEstablished{Peer: ev.PeerID, PeerAddress: ev.PeerAddress}); err != nil {
					log.Debugf("emitting peer-exchange-established: %s", err)
				}
			}
		case discovery.EventUpdate:
			if br.emitUpdate != nil {
				if err := br.emitUpdate.Emit(EvtPeerExchangeUpdate{}); err != nil {
					log.Debugf("emitting peer-exchange-update: %s", err)
				}
			}
		}
	case discovery.DirectiveCloseConnection:
		if err := br.host.Network().ClosePeer(v.PeerID); err != nil {
			log.Debugf("closing connections to %s: %s", v.PeerID, err)
		}
	case discovery.DirectiveNewExternalAddrCandidate:
		log.Debugf("new external address candidate: %s", v.Address)
	case discovery.DirectiveNotifyHandler:
		// Behaviour dispatches HandlerInEvents to its own Handlers
		// directly (see discovery.Behaviour.ConnectionEstablished); this directive
		// kind is part of the wire-compatible Directive union for a
		// host that owns Handlers separately, which this Bridge does
		// not, so there is nothing to enact here.
	}
}

func (br *Bridge) watchLocalAddresses(sub event.Subscription) {
	defer sub.Close()
	for {
		select {
		case _, ok := <-sub.Out():
			if !ok {
				return
			}
			if err := br.syncOwnAddresses(); err != nil {
				log.Warnf("refreshing own contact after address update: %s", err)
			}
		case <-br.ctx.Done():
			return
		}
	}
}

// handleInboundStream is registered against discovery.ProtocolID: a
// peer opened a peer-exchange stream to us, so this side of the
// connection is the listener.
func (br *Bridge) handleInboundStream(s network.Stream) {
	conn := s.Conn()
	br.behaviour.ConnectionEstablished(conn.ID(), s, conn.RemoteMultiaddr(), true, nil)
}

// netNotifiee reacts to the swarm's connection lifecycle. Only the
// outbound side of a new connection actively opens the peer-exchange
// stream; the inbound side learns of it through handleInboundStream
// above, mirroring identify's split between netNotifiee.Connected (which
// pushes) and its stream handler (which responds).
type netNotifiee Bridge

func (nn *netNotifiee) bridge() *Bridge { return (*Bridge)(nn) }

func (nn *netNotifiee) Connected(n network.Network, c network.Conn) {
	if c.Stat().Direction != network.DirOutbound {
		return
	}
	br := nn.bridge()
	go func() {
		s, err := br.host.NewStream(br.ctx, c.RemotePeer(), discovery.ProtocolID)
		if err != nil {
			log.Debugf("opening peer-exchange stream to %s: %s", c.RemotePeer(), err)
			return
		}
		br.behaviour.ConnectionEstablished(c.ID(), s, c.RemoteMultiaddr(), false, nil)
	}()
}

func (nn *netNotifiee) Disconnected(n network.Network, c network.Conn) {
	nn.bridge().behaviour.ConnectionClosed(c.RemotePeer(), c.ID())
}

func (nn *netNotifiee) OpenedStream(n network.Network, s network.Stream) {}
func (nn *netNotifiee) ClosedStream(n network.Network, s network.Stream) {}
func (nn *netNotifiee) Listen(n network.Network, a ma.Multiaddr)         {}
func (nn *netNotifiee) ListenClose(n network.Network, a ma.Multiaddr)    {}

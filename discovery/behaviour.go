package discovery

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"github.com/libp2p/go-libp2p-core/network"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/corvidchain/peernet/identity"
)

// connKey identifies one physical connection within a peer's handler set.
// network.Conn has no stable comparable id of its own across libp2p
// versions, so callers supply one (the host driver already has a natural
// choice: the Conn's own ID() string).
type connKey = string

// Behaviour composes per-connection Handlers and mediates between the
// transport's connection lifecycle and the shared Contact Book (spec
// §4.4). One instance exists per node.
//
// This is the Go-idiomatic half of a poll-driven/callback-driven split:
// spec §9 explicitly sanctions a task-per-connection rewrite as long as
// per-connection ordering is preserved. Each Handler runs its own
// goroutine; Behaviour pumps its HandlerOutEvents into directives
// synchronously, so "no event may be published until the current step
// returns" holds the same way it would under single-threaded polling.
type Behaviour struct {
	cfg    Config
	signer identity.Signer
	book   *PeerContactBook
	clock  clock.Clock

	mu             sync.Mutex
	handlers       map[identity.PeerID]map[connKey]*Handler
	connectedPeers map[identity.PeerID]int

	directives chan Directive

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewBehaviour constructs a Behaviour around a shared Book. directiveBuf
// sizes the bounded outbound FIFO (spec §4.4 "bounded FIFO of
// directives"); callers must keep draining Directives() or Behaviour's
// internal goroutines will block delivering further directives.
func NewBehaviour(cfg Config, signer identity.Signer, book *PeerContactBook, clk clock.Clock, directiveBuf int) *Behaviour {
	if clk == nil {
		clk = clock.New()
	}
	return &Behaviour{
		cfg:            cfg,
		signer:         signer,
		book:           book,
		clock:          clk,
		handlers:       make(map[identity.PeerID]map[connKey]*Handler),
		connectedPeers: make(map[identity.PeerID]int),
		directives:     make(chan Directive, directiveBuf),
	}
}

// Directives is the bounded FIFO the host driver drains one item at a
// time from (spec §4.4).
func (b *Behaviour) Directives() <-chan Directive { return b.directives }

// Start launches the housekeeping ticker. It must be called once before
// any connection events are reported.
func (b *Behaviour) Start(ctx context.Context) {
	b.ctx, b.cancel = context.WithCancel(ctx)
	b.wg.Add(1)
	go b.houseKeepingLoop()
}

// Stop cancels every running Handler and waits for them to exit.
func (b *Behaviour) Stop() {
	if b.cancel != nil {
		b.cancel()
	}
	b.wg.Wait()
}

func (b *Behaviour) houseKeepingLoop() {
	defer b.wg.Done()
	ticker := b.clock.Ticker(b.cfg.HouseKeepingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if err := b.book.HouseKeeping(); err != nil {
				log.Warningf("housekeeping: %s", err)
			}
		case <-b.ctx.Done():
			return
		}
	}
}

// ConnectionEstablished reports a new connection to the transport's
// remote peer (spec §4.4 "Inbound transport events"). stream is the
// already-negotiated peer-exchange stream for this connection; inbound
// marks whether the local endpoint was the listener (in which case
// remoteAddr is an observed address candidate, not just a dial target).
// failedAddresses lists addresses the transport could not reach us on,
// which are struck from the local own-entry.
func (b *Behaviour) ConnectionEstablished(id connKey, stream network.Stream, remoteAddr ma.Multiaddr, inbound bool, failedAddresses []ma.Multiaddr) {
	peerID := stream.Conn().RemotePeer()

	b.mu.Lock()
	set, ok := b.handlers[peerID]
	if !ok {
		set = make(map[connKey]*Handler)
		b.handlers[peerID] = set
	}
	first := b.connectedPeers[peerID] == 0
	b.connectedPeers[peerID]++
	handler := NewHandler(b.cfg, b.signer, b.book, stream, remoteAddr, b.clock)
	set[id] = handler
	b.mu.Unlock()
	_ = first

	if len(failedAddresses) > 0 {
		if err := b.book.RemoveOwnAddresses(failedAddresses); err != nil {
			log.Warningf("removing failed addresses: %s", err)
		}
	}

	handler.Notify(HandlerInConnectionAddress{Address: remoteAddr})
	if inbound {
		handler.Notify(HandlerInObservedAddress{Address: remoteAddr})
	}

	b.wg.Add(2)
	go func() {
		defer b.wg.Done()
		_ = handler.Run(b.ctx)
	}()
	go b.pumpHandlerEvents(peerID, id, handler)
}

// ConnectionClosed reports that a previously-established connection has
// ended (spec §4.4 "Connection closed").
func (b *Behaviour) ConnectionClosed(peerID identity.PeerID, id connKey) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.handlers[peerID]; ok {
		delete(set, id)
		if len(set) == 0 {
			delete(b.handlers, peerID)
		}
	}
	if n := b.connectedPeers[peerID]; n > 0 {
		if n == 1 {
			delete(b.connectedPeers, peerID)
		} else {
			b.connectedPeers[peerID] = n - 1
		}
	}
}

// Connected reports whether peerID currently has at least one
// established connection tracked by this Behaviour.
func (b *Behaviour) Connected(peerID identity.PeerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connectedPeers[peerID] > 0
}

// RefreshOwnContact re-signs the local own entry immediately with its
// current address set, rather than waiting for the next housekeeping tick.
func (b *Behaviour) RefreshOwnContact() error {
	return b.book.UpdateOwnContact()
}

// PeerContactBook returns the shared Book this Behaviour was built
// around, so a host can wire a read-only surface (CLI, metrics) against
// it without threading a second reference through from construction.
func (b *Behaviour) PeerContactBook() *PeerContactBook { return b.book }

// AddressesFor is the address hint hook (spec §4.4): the only path by
// which known peer data influences outbound dialling.
func (b *Behaviour) AddressesFor(peerID identity.PeerID) []ma.Multiaddr {
	entry, ok := b.book.Get(peerID)
	if !ok {
		return nil
	}
	return entry.Contact().Addresses()
}

func (b *Behaviour) pumpHandlerEvents(peerID identity.PeerID, id connKey, handler *Handler) {
	defer b.wg.Done()
	for {
		select {
		case ev, ok := <-handler.Out():
			if !ok {
				return
			}
			b.handleHandlerEvent(peerID, id, ev)
			if _, isErr := ev.(HandlerOutError); isErr {
				return
			}
		case <-b.ctx.Done():
			return
		}
	}
}

func (b *Behaviour) handleHandlerEvent(peerID identity.PeerID, id connKey, ev HandlerOutEvent) {
	switch v := ev.(type) {
	case HandlerOutPeerExchangeEstablished:
		b.enqueue(DirectiveGenerateEvent{Event: EventEstablished{
			PeerID:      peerID,
			PeerAddress: v.PeerAddress,
			PeerContact: v.PeerContact,
		}})
	case HandlerOutObservedAddresses:
		for _, addr := range v.ObservedAddresses {
			b.enqueue(DirectiveNewExternalAddrCandidate{Address: addr})
		}
	case HandlerOutUpdate:
		b.enqueue(DirectiveGenerateEvent{Event: EventUpdate{}})
	case HandlerOutError:
		log.Debugf("handler for %s: %s", peerID, v.Err)
		b.enqueue(DirectiveCloseConnection{PeerID: peerID, Scope: CloseAll})
	}
}

// enqueue delivers a directive, blocking until the host driver drains
// space or Stop is called. Backpressure here is deliberate: dropping a
// directive would violate the strict-FIFO guarantee spec §5 makes
// between the outbound queue and the host driver.
func (b *Behaviour) enqueue(d Directive) {
	select {
	case b.directives <- d:
	case <-b.ctx.Done():
	}
}

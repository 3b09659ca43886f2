package discovery

import (
	ma "github.com/multiformats/go-multiaddr"

	"github.com/corvidchain/peernet/identity"
)

// InsertResult is the outcome of PeerContactBook.Insert (spec §4.2).
type InsertResult int

const (
	Inserted InsertResult = iota
	Replaced
	RejectedStale
	RejectedInvalid
)

func (r InsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Replaced:
		return "replaced"
	case RejectedStale:
		return "rejected-stale"
	case RejectedInvalid:
		return "rejected-invalid"
	default:
		return "unknown"
	}
}

// CloseScope selects which connections a CloseConnection directive targets.
type CloseScope int

const (
	CloseAll CloseScope = iota
	CloseOne
)

// Event is published upward to the host driver (spec §6 "events emitted").
type Event interface{ isEvent() }

// EventEstablished fires once a Handler completes its handshake.
type EventEstablished struct {
	PeerID       identity.PeerID
	PeerAddress  ma.Multiaddr
	PeerContact  *SignedPeerContact
}

func (EventEstablished) isEvent() {}

// EventUpdate fires whenever the Book received new entries, signalling the
// dial-dispatcher to scan for new candidates.
type EventUpdate struct{}

func (EventUpdate) isEvent() {}

// Directive is a host-facing action enqueued by the Behaviour (spec §6
// "directives enqueued"). The host driver drains these FIFO.
type Directive interface{ isDirective() }

// DirectiveNotifyHandler asks the host to route an inbound event to a
// specific Handler instance.
type DirectiveNotifyHandler struct {
	PeerID       identity.PeerID
	ConnectionID string
	Event        HandlerInEvent
}

func (DirectiveNotifyHandler) isDirective() {}

// DirectiveGenerateEvent carries an Event to be surfaced to the host.
type DirectiveGenerateEvent struct {
	Event Event
}

func (DirectiveGenerateEvent) isDirective() {}

// DirectiveNewExternalAddrCandidate reports an address the local node may
// be externally reachable at.
type DirectiveNewExternalAddrCandidate struct {
	Address ma.Multiaddr
}

func (DirectiveNewExternalAddrCandidate) isDirective() {}

// DirectiveCloseConnection asks the transport to close connection(s) to a
// peer, advisory only (spec §5 "Cancellation").
type DirectiveCloseConnection struct {
	PeerID identity.PeerID
	Scope  CloseScope
}

func (DirectiveCloseConnection) isDirective() {}

// HandlerInEvent is pushed down into a specific Handler.
type HandlerInEvent interface{ isHandlerInEvent() }

// HandlerInConnectionAddress tells the Handler which remote address got us
// this connection.
type HandlerInConnectionAddress struct{ Address ma.Multiaddr }

func (HandlerInConnectionAddress) isHandlerInEvent() {}

// HandlerInObservedAddress tells the Handler the remote address observed
// for an inbound (listener-side) connection.
type HandlerInObservedAddress struct{ Address ma.Multiaddr }

func (HandlerInObservedAddress) isHandlerInEvent() {}

// HandlerOutEvent is emitted by a Handler up to the Behaviour.
type HandlerOutEvent interface{ isHandlerOutEvent() }

// HandlerOutPeerExchangeEstablished fires once the three-leg handshake
// completes successfully.
type HandlerOutPeerExchangeEstablished struct {
	PeerAddress ma.Multiaddr
	PeerContact *SignedPeerContact
}

func (HandlerOutPeerExchangeEstablished) isHandlerOutEvent() {}

// HandlerOutObservedAddresses carries addresses observed for the local
// node by its peer, to be forwarded as external address candidates.
type HandlerOutObservedAddresses struct {
	ObservedAddresses []ma.Multiaddr
}

func (HandlerOutObservedAddresses) isHandlerOutEvent() {}

// HandlerOutUpdate fires whenever an incoming update added entries to the
// Book.
type HandlerOutUpdate struct{}

func (HandlerOutUpdate) isHandlerOutEvent() {}

// HandlerOutError is terminal; the Behaviour closes every connection to
// the offending peer on receipt.
type HandlerOutError struct{ Err *HandlerError }

func (HandlerOutError) isHandlerOutEvent() {}

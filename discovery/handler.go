package discovery

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	ggio "github.com/gogo/protobuf/io"
	"github.com/gogo/protobuf/proto"
	"github.com/hashicorp/go-multierror"
	logging "github.com/ipfs/go-log"
	"github.com/libp2p/go-libp2p-core/network"
	"github.com/libp2p/go-libp2p-core/protocol"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/corvidchain/peernet/discovery/wire"
	"github.com/corvidchain/peernet/identity"
)

var log = logging.Logger("discovery")

// ProtocolID is the stream protocol this Handler speaks.
const ProtocolID = protocol.ID("/p2p/peerexchange/1.0.0")

// Frame tags for the Envelope wrapper (spec §6 wire protocol table).
const (
	tagHandshake uint32 = iota + 1
	tagHandshakeAck
	tagPeerAddresses
	tagPeerAddressesAck
)

// HandshakeState is one leg of the per-connection state machine (spec
// §3 HandshakeState).
type HandshakeState int

const (
	StateDial HandshakeState = iota
	StateSendHandshake
	StateReceiveHandshake
	StateSendHandshakeAck
	StateReceiveHandshakeAck
	StateEstablished
	StateError
)

const nonceSize = 32

// Handler is the per-connection state machine described in spec §4.3: it
// drives the three-leg handshake and then the steady-state rate-limited
// exchange, reporting events upward and terminating on the first
// validation failure.
type Handler struct {
	cfg    Config
	signer identity.Signer
	book   *PeerContactBook
	clock  clock.Clock

	stream       network.Stream
	remotePeerID identity.PeerID

	reader ggio.ReadCloser
	writer ggio.WriteCloser

	mu    sync.Mutex
	state HandshakeState

	ownNonce  [nonceSize]byte
	peerNonce [nonceSize]byte

	peerServicesFilter Services

	connectionAddress ma.Multiaddr
	observedAddress   ma.Multiaddr // recorded from HandlerInObservedAddress, informational only

	lastSend time.Time
	lastRecv time.Time

	frames    chan interface{}
	frameErrs chan error
	in        chan HandlerInEvent
	out       chan HandlerOutEvent
}

// NewHandler constructs a Handler for one open connection. connAddr is the
// remote address as seen by the local endpoint (embedded as our
// observed_address field in the outgoing Handshake).
func NewHandler(cfg Config, signer identity.Signer, book *PeerContactBook, stream network.Stream, connAddr ma.Multiaddr, clk clock.Clock) *Handler {
	if clk == nil {
		clk = clock.New()
	}
	return &Handler{
		cfg:               cfg,
		signer:            signer,
		book:              book,
		clock:             clk,
		stream:            stream,
		remotePeerID:      stream.Conn().RemotePeer(),
		reader:            ggio.NewDelimitedReader(stream, 4*1024*1024),
		writer:            ggio.NewDelimitedWriter(stream),
		state:             StateDial,
		connectionAddress: connAddr,
		frames:            make(chan interface{}, 1),
		frameErrs:         make(chan error, 1),
		in:                make(chan HandlerInEvent, 4),
		out:               make(chan HandlerOutEvent, 8),
	}
}

// Out is the channel of events the Behaviour drains.
func (h *Handler) Out() <-chan HandlerOutEvent { return h.out }

// Notify delivers a Behaviour-originated event to this Handler. It must
// not block the caller's own event loop for long; the channel is
// buffered for exactly that reason.
func (h *Handler) Notify(ev HandlerInEvent) {
	select {
	case h.in <- ev:
	default:
		log.Debugf("%s dropping handler-in event for %s, buffer full", ProtocolID, h.remotePeerID)
	}
}

// KeepAlive reports whether this connection should be kept open even
// when no other behaviour is using it (spec §4.3 "Keep-alive").
func (h *Handler) KeepAlive() bool { return h.cfg.KeepAlive }

// State returns the handler's current state.
func (h *Handler) State() HandshakeState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.state
}

func (h *Handler) setState(s HandshakeState) {
	h.mu.Lock()
	h.state = s
	h.mu.Unlock()
}

// Run drives the handler to completion: the three-leg handshake, then the
// steady-state loop, until ctx is cancelled or a terminal error occurs.
func (h *Handler) Run(ctx context.Context) error {
	h.startReader(ctx)

	if err := h.runHandshake(ctx); err != nil {
		return err
	}

	return h.runSteadyState(ctx)
}

func (h *Handler) startReader(ctx context.Context) {
	go func() {
		for {
			var env wire.Envelope
			if err := h.reader.ReadMsg(&env); err != nil {
				h.sendFrameErr(ctx, wrapReadErr(err))
				return
			}
			msg, err := decodeEnvelope(&env)
			if err != nil {
				h.sendFrameErr(ctx, err)
				return
			}
			select {
			case h.frames <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()
}

func wrapReadErr(err error) error {
	if err == io.EOF {
		return newHandlerError(ErrTransportClosed, err)
	}
	return newHandlerError(ErrMalformedFrame, err)
}

func (h *Handler) sendFrameErr(ctx context.Context, err error) {
	select {
	case h.frameErrs <- err:
	case <-ctx.Done():
	}
}

func decodeEnvelope(env *wire.Envelope) (interface{}, error) {
	var msg proto.Message
	switch env.GetTag() {
	case tagHandshake:
		msg = &wire.Handshake{}
	case tagHandshakeAck:
		msg = &wire.HandshakeAck{}
	case tagPeerAddresses:
		msg = &wire.PeerAddresses{}
	case tagPeerAddressesAck:
		msg = &wire.PeerAddressesAck{}
	default:
		return nil, newHandlerError(ErrMalformedFrame, fmt.Errorf("unknown frame tag %d", env.GetTag()))
	}
	if err := proto.Unmarshal(env.GetPayload(), msg); err != nil {
		return nil, newHandlerError(ErrMalformedFrame, err)
	}
	return msg, nil
}

func (h *Handler) writeEnvelope(tag uint32, msg proto.Message) error {
	payload, err := proto.Marshal(msg)
	if err != nil {
		return newHandlerError(ErrMalformedFrame, err)
	}
	t := tag
	if err := h.writer.WriteMsg(&wire.Envelope{Tag: &t, Payload: payload}); err != nil {
		return newHandlerError(ErrTransportClosed, err)
	}
	return nil
}

// awaitFrame blocks for the next decoded frame, a read error, or ctx
// cancellation, whichever comes first.
func (h *Handler) awaitFrame(ctx context.Context) (interface{}, error) {
	select {
	case f := <-h.frames:
		return f, nil
	case err := <-h.frameErrs:
		return nil, err
	case <-ctx.Done():
		return nil, newHandlerError(ErrTransportClosed, ctx.Err())
	}
}

func (h *Handler) runHandshake(ctx context.Context) error {
	if _, err := rand.Read(h.ownNonce[:]); err != nil {
		return h.fail(ErrMalformedFrame, err)
	}

	h.setState(StateSendHandshake)
	observed := []byte(nil)
	if h.connectionAddress != nil {
		observed = h.connectionAddress.Bytes()
	}
	genesis := h.cfg.GenesisHash
	filter := uint64(h.cfg.RequiredServices)
	agent := h.cfg.UserAgent
	nonce := append([]byte(nil), h.ownNonce[:]...)
	hs := &wire.Handshake{
		GenesisHash:     genesis,
		ObservedAddress: observed,
		ServicesFilter:  &filter,
		UserAgent:       &agent,
		ChallengeNonce:  nonce,
	}
	if err := h.writeEnvelope(tagHandshake, hs); err != nil {
		return h.fail(ErrTransportClosed, err)
	}

	h.setState(StateReceiveHandshake)
	frame, err := h.awaitFrame(ctx)
	if err != nil {
		return h.failErr(err)
	}
	peerHS, ok := frame.(*wire.Handshake)
	if !ok {
		return h.fail(ErrMalformedFrame, fmt.Errorf("expected handshake, got %T", frame))
	}
	if err := h.validateHandshake(peerHS); err != nil {
		return err
	}

	h.setState(StateSendHandshakeAck)
	if err := h.sendHandshakeAck(); err != nil {
		return err
	}

	h.setState(StateReceiveHandshakeAck)
	frame, err = h.awaitFrame(ctx)
	if err != nil {
		return h.failErr(err)
	}
	ack, ok := frame.(*wire.HandshakeAck)
	if !ok {
		return h.fail(ErrMalformedFrame, fmt.Errorf("expected handshake ack, got %T", frame))
	}
	peerContact, err := h.validateHandshakeAck(ack)
	if err != nil {
		return err
	}

	h.setState(StateEstablished)
	h.emit(HandlerOutPeerExchangeEstablished{
		PeerAddress: h.connectionAddress,
		PeerContact: peerContact,
	})
	var observedAddrs []ma.Multiaddr
	if addr, err := ma.NewMultiaddrBytes(peerHS.GetObservedAddress()); err == nil {
		observedAddrs = append(observedAddrs, addr)
	}
	if len(observedAddrs) > 0 {
		h.emit(HandlerOutObservedAddresses{ObservedAddresses: observedAddrs})
	}
	return nil
}

// validateHandshake implements spec §4.3 step 2.
func (h *Handler) validateHandshake(peerHS *wire.Handshake) error {
	if !bytesEqual(peerHS.GetGenesisHash(), h.cfg.GenesisHash) {
		return h.fail(ErrWrongGenesis, fmt.Errorf("peer genesis %x != local %x", peerHS.GetGenesisHash(), h.cfg.GenesisHash))
	}
	if entry, ok := h.book.Get(h.remotePeerID); ok {
		if !entry.Contact().Services().Intersects(h.cfg.RequiredServices) {
			return h.fail(ErrIncompatibleServices, fmt.Errorf("known peer %s lacks required services", h.remotePeerID))
		}
	}
	copy(h.peerNonce[:], peerHS.GetChallengeNonce())
	h.peerServicesFilter = Services(peerHS.GetServicesFilter())
	return nil
}

func (h *Handler) sendHandshakeAck() error {
	ownEntry, ok := h.book.Get(h.book.OwnID())
	if !ok {
		return h.fail(ErrMalformedFrame, fmt.Errorf("own contact missing from book"))
	}
	ownWire, err := ownEntry.Contact().ToWire()
	if err != nil {
		return h.fail(ErrMalformedFrame, err)
	}
	sig, err := h.signer.Sign(h.peerNonce[:])
	if err != nil {
		return h.fail(ErrMalformedFrame, err)
	}

	initial := h.book.Query(h.peerServicesFilter, int(h.cfg.UpdateLimit))
	wireInitial := make([]*wire.SignedContact, 0, len(initial))
	for _, c := range initial {
		w, err := c.ToWire()
		if err != nil {
			continue
		}
		wireInitial = append(wireInitial, w)
	}

	ack := &wire.HandshakeAck{
		SignedPeerContact:      ownWire,
		SignatureOverChallenge: sig,
		InitialPeerContacts:    wireInitial,
	}
	if err := h.writeEnvelope(tagHandshakeAck, ack); err != nil {
		return h.fail(ErrTransportClosed, err)
	}
	return nil
}

// validateHandshakeAck implements spec §4.3 step 4.
func (h *Handler) validateHandshakeAck(ack *wire.HandshakeAck) (*SignedPeerContact, error) {
	peerContact, err := SignedContactFromWire(ack.GetSignedPeerContact())
	if err != nil {
		return nil, h.fail(ErrBadSignature, err)
	}
	if err := peerContact.Verify(); err != nil {
		return nil, h.fail(ErrBadSignature, err)
	}
	ok, err := peerContact.PublicKey().Verify(h.ownNonce[:], ack.GetSignatureOverChallenge())
	if err != nil || !ok {
		return nil, h.fail(ErrChallengeMismatch, err)
	}
	peerID, err := peerContact.PeerID()
	if err != nil || peerID != h.remotePeerID {
		return nil, h.fail(ErrIdentityMismatch, fmt.Errorf("advertised id %s != transport id %s", peerID, h.remotePeerID))
	}

	if _, err := h.book.Insert(peerContact, h.remotePeerID); err != nil {
		log.Debugf("%s: peer contact for %s not inserted: %s", ProtocolID, h.remotePeerID, err)
	}

	var merr *multierror.Error
	for _, w := range ack.GetInitialPeerContacts() {
		sc, err := SignedContactFromWire(w)
		if err != nil {
			merr = multierror.Append(merr, err)
			continue
		}
		if _, err := h.book.Insert(sc, ""); err != nil {
			merr = multierror.Append(merr, err)
		}
	}
	if merr.ErrorOrNil() != nil {
		log.Debugf("%s: dropped invalid initial contacts from %s: %s", ProtocolID, h.remotePeerID, merr)
	}

	return peerContact, nil
}

func (h *Handler) runSteadyState(ctx context.Context) error {
	timer := h.clock.Timer(h.cfg.UpdateInterval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-timer.C:
			if err := h.maybeSendUpdate(); err != nil {
				return h.failErr(err)
			}
			timer.Reset(h.cfg.UpdateInterval)
		case frame := <-h.frames:
			if err := h.handleSteadyFrame(frame); err != nil {
				return h.failErr(err)
			}
		case err := <-h.frameErrs:
			return h.failErr(err)
		case ev := <-h.in:
			h.handleInEvent(ev)
		}
	}
}

func (h *Handler) handleInEvent(ev HandlerInEvent) {
	switch v := ev.(type) {
	case HandlerInConnectionAddress:
		h.connectionAddress = v.Address
	case HandlerInObservedAddress:
		h.observedAddress = v.Address
	}
}

func (h *Handler) maybeSendUpdate() error {
	now := h.clock.Now()
	if !h.lastSend.IsZero() && now.Sub(h.lastSend) < h.cfg.MinSendUpdateInterval {
		return nil
	}
	entries := h.book.Query(h.peerServicesFilter, int(h.cfg.UpdateLimit))
	wireEntries := make([]*wire.SignedContact, 0, len(entries))
	for _, e := range entries {
		w, err := e.ToWire()
		if err != nil {
			continue
		}
		wireEntries = append(wireEntries, w)
	}
	if err := h.writeEnvelope(tagPeerAddresses, &wire.PeerAddresses{Entries: wireEntries}); err != nil {
		return err
	}
	h.lastSend = now
	return nil
}

// handleSteadyFrame implements spec §4.3 "Each incoming PeerAddresses
// frame is processed iff (now - last_recv) >= min_recv_update_interval".
func (h *Handler) handleSteadyFrame(frame interface{}) error {
	switch v := frame.(type) {
	case *wire.PeerAddresses:
		now := h.clock.Now()
		if !h.lastRecv.IsZero() && now.Sub(h.lastRecv) < h.cfg.MinRecvUpdateInterval {
			return newHandlerError(ErrTooManyUpdates, fmt.Errorf("update received before min_recv_update_interval elapsed"))
		}
		if len(v.GetEntries()) > int(h.cfg.UpdateLimit) {
			return newHandlerError(ErrTooManyUpdates, fmt.Errorf("update carried %d entries, limit %d", len(v.GetEntries()), h.cfg.UpdateLimit))
		}
		h.lastRecv = now

		var merr *multierror.Error
		inserted := false
		for _, w := range v.GetEntries() {
			sc, err := SignedContactFromWire(w)
			if err != nil {
				merr = multierror.Append(merr, err)
				continue
			}
			res, err := h.book.Insert(sc, "")
			if err != nil {
				merr = multierror.Append(merr, err)
				continue
			}
			if res == Inserted || res == Replaced {
				inserted = true
			}
		}
		if merr.ErrorOrNil() != nil {
			log.Debugf("%s: dropped invalid update entries from %s: %s", ProtocolID, h.remotePeerID, merr)
		}
		if inserted {
			h.emit(HandlerOutUpdate{})
		}
		return nil
	case *wire.PeerAddressesAck:
		return nil
	default:
		return newHandlerError(ErrMalformedFrame, fmt.Errorf("unexpected frame %T in established state", v))
	}
}

func (h *Handler) emit(ev HandlerOutEvent) {
	select {
	case h.out <- ev:
	default:
		log.Warningf("%s: dropping handler-out event for %s, buffer full", ProtocolID, h.remotePeerID)
	}
}

func (h *Handler) fail(kind ErrorKind, err error) error {
	return h.failErr(newHandlerError(kind, err))
}

func (h *Handler) failErr(err error) error {
	herr, ok := err.(*HandlerError)
	if !ok {
		herr = newHandlerError(ErrMalformedFrame, err)
	}
	h.setState(StateError)
	h.emit(HandlerOutError{Err: herr})
	_ = h.stream.Reset()
	return herr
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

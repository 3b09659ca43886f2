package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	libp2p "github.com/libp2p/go-libp2p-core/network"
	mocknet "github.com/libp2p/go-libp2p/p2p/net/mock"
	p2putil "github.com/libp2p/go-libp2p-netutil"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/corvidchain/peernet/identity"
)

// handlerPair wires two Handlers over a real mocknet connection, the
// same harness style the teacher uses for its own protocol tests
// (p2p/protocol/identify/obsaddr_test.go).
type handlerPair struct {
	a, b         *Handler
	bookA, bookB *PeerContactBook
	cancel       context.CancelFunc
}

func newHandlerPair(t *testing.T, mock *clock.Mock) *handlerPair {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())

	mn := mocknet.New(ctx)

	skA, err := p2putil.RandTestBogusPrivateKey()
	require.NoError(t, err)
	skB, err := p2putil.RandTestBogusPrivateKey()
	require.NoError(t, err)

	hostA, err := mn.AddPeer(skA, ma.StringCast("/ip4/127.0.0.1/tcp/10001"))
	require.NoError(t, err)
	hostB, err := mn.AddPeer(skB, ma.StringCast("/ip4/127.0.0.1/tcp/10002"))
	require.NoError(t, err)

	require.NoError(t, mn.LinkPeers(hostA.ID(), hostB.ID()))
	_, err = mn.ConnectPeers(hostA.ID(), hostB.ID())
	require.NoError(t, err)

	streamCh := make(chan libp2p.Stream, 1)
	hostB.SetStreamHandler(ProtocolID, func(s libp2p.Stream) { streamCh <- s })

	streamA, err := hostA.NewStream(ctx, hostB.ID(), ProtocolID)
	require.NoError(t, err)

	var streamB libp2p.Stream
	select {
	case streamB = <-streamCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound stream")
	}

	signerA, err := identity.NewKeySigner(skA)
	require.NoError(t, err)
	signerB, err := identity.NewKeySigner(skB)
	require.NoError(t, err)

	cfg := DefaultConfig([]byte("genesis"), 0b01, 0b11)
	cfg.MinSendUpdateInterval = 0
	cfg.MinRecvUpdateInterval = 0

	bookA, err := NewPeerContactBook(cfg, signerA, mock, []ma.Multiaddr{ma.StringCast("/ip4/127.0.0.1/tcp/10001")})
	require.NoError(t, err)
	bookB, err := NewPeerContactBook(cfg, signerB, mock, []ma.Multiaddr{ma.StringCast("/ip4/127.0.0.1/tcp/10002")})
	require.NoError(t, err)

	a := NewHandler(cfg, signerA, bookA, streamA, ma.StringCast("/ip4/127.0.0.1/tcp/10002"), mock)
	b := NewHandler(cfg, signerB, bookB, streamB, ma.StringCast("/ip4/127.0.0.1/tcp/10001"), mock)

	go a.Run(ctx)
	go b.Run(ctx)

	return &handlerPair{a: a, b: b, bookA: bookA, bookB: bookB, cancel: cancel}
}

func awaitEstablished(t *testing.T, h *Handler) HandlerOutPeerExchangeEstablished {
	t.Helper()
	for {
		select {
		case ev := <-h.Out():
			if est, ok := ev.(HandlerOutPeerExchangeEstablished); ok {
				return est
			}
			if errEv, ok := ev.(HandlerOutError); ok {
				t.Fatalf("handler reported error before establishing: %s", errEv.Err)
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for handshake to establish")
		}
	}
}

func TestHandlerHandshakeEstablishesBothSides(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))
	pair := newHandlerPair(t, mock)
	defer pair.cancel()

	estA := awaitEstablished(t, pair.a)
	estB := awaitEstablished(t, pair.b)

	idA, err := estB.PeerContact.PeerID()
	require.NoError(t, err)
	require.Equal(t, pair.bookA.OwnID(), idA)

	idB, err := estA.PeerContact.PeerID()
	require.NoError(t, err)
	require.Equal(t, pair.bookB.OwnID(), idB)

	_, ok := pair.bookA.Get(pair.bookB.OwnID())
	require.True(t, ok)
	_, ok = pair.bookB.Get(pair.bookA.OwnID())
	require.True(t, ok)
}

func TestHandlerRejectsMismatchedGenesis(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mn := mocknet.New(ctx)

	skA, err := p2putil.RandTestBogusPrivateKey()
	require.NoError(t, err)
	skB, err := p2putil.RandTestBogusPrivateKey()
	require.NoError(t, err)

	hostA, err := mn.AddPeer(skA, ma.StringCast("/ip4/127.0.0.1/tcp/10003"))
	require.NoError(t, err)
	hostB, err := mn.AddPeer(skB, ma.StringCast("/ip4/127.0.0.1/tcp/10004"))
	require.NoError(t, err)
	require.NoError(t, mn.LinkPeers(hostA.ID(), hostB.ID()))
	_, err = mn.ConnectPeers(hostA.ID(), hostB.ID())
	require.NoError(t, err)

	streamCh := make(chan libp2p.Stream, 1)
	hostB.SetStreamHandler(ProtocolID, func(s libp2p.Stream) { streamCh <- s })
	streamA, err := hostA.NewStream(ctx, hostB.ID(), ProtocolID)
	require.NoError(t, err)
	var streamB libp2p.Stream
	select {
	case streamB = <-streamCh:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound stream")
	}

	signerA, err := identity.NewKeySigner(skA)
	require.NoError(t, err)
	signerB, err := identity.NewKeySigner(skB)
	require.NoError(t, err)

	cfgA := DefaultConfig([]byte("genesis-a"), 0b01, 0b11)
	cfgB := DefaultConfig([]byte("genesis-b"), 0b01, 0b11)

	bookA, err := NewPeerContactBook(cfgA, signerA, mock, nil)
	require.NoError(t, err)
	bookB, err := NewPeerContactBook(cfgB, signerB, mock, nil)
	require.NoError(t, err)

	a := NewHandler(cfgA, signerA, bookA, streamA, nil, mock)
	b := NewHandler(cfgB, signerB, bookB, streamB, nil, mock)

	go a.Run(ctx)
	go b.Run(ctx)

	for {
		select {
		case ev := <-a.Out():
			if errEv, ok := ev.(HandlerOutError); ok {
				require.Equal(t, ErrWrongGenesis, errEv.Err.Kind)
				return
			}
		case ev := <-b.Out():
			if errEv, ok := ev.(HandlerOutError); ok {
				require.Equal(t, ErrWrongGenesis, errEv.Err.Kind)
				return
			}
		case <-time.After(time.Second):
			t.Fatal("timed out waiting for genesis mismatch error")
		}
	}
}

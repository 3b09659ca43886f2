package discovery

import (
	"crypto/rand"
	"testing"

	ic "github.com/libp2p/go-libp2p-core/crypto"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/corvidchain/peernet/identity"
)

func newTestSigner(t *testing.T) *identity.KeySigner {
	t.Helper()
	priv, _, err := ic.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	signer, err := identity.NewKeySigner(priv)
	require.NoError(t, err)
	return signer
}

func mustAddr(t *testing.T, s string) ma.Multiaddr {
	t.Helper()
	a, err := ma.NewMultiaddr(s)
	require.NoError(t, err)
	return a
}

func TestSignContactVerify(t *testing.T) {
	signer := newTestSigner(t)
	c := &PeerContact{
		Addresses: []ma.Multiaddr{mustAddr(t, "/ip4/127.0.0.1/tcp/4001")},
		Services:  0b11,
		Timestamp: 1000,
	}
	signed, err := SignContact(c, signer)
	require.NoError(t, err)
	require.NoError(t, signed.Verify())

	peerID, err := signed.PeerID()
	require.NoError(t, err)
	require.Equal(t, signer.PeerID(), peerID)
}

func TestVerifyRejectsTamperedSignature(t *testing.T) {
	signer := newTestSigner(t)
	c := &PeerContact{
		Addresses: []ma.Multiaddr{mustAddr(t, "/ip4/127.0.0.1/tcp/4001")},
		Services:  0b01,
		Timestamp: 1000,
	}
	signed, err := SignContact(c, signer)
	require.NoError(t, err)

	// mutate the signed body after signing (P5-adjacent: a tampered
	// contact must fail verification, not just fail to round-trip).
	signed.contact.Timestamp = 1001
	require.ErrorIs(t, signed.Verify(), ErrBadContactSignature)
}

func TestExceeds(t *testing.T) {
	signer := newTestSigner(t)
	older, err := SignContact(&PeerContact{Timestamp: 100}, signer)
	require.NoError(t, err)
	newer, err := SignContact(&PeerContact{Timestamp: 200}, signer)
	require.NoError(t, err)

	require.True(t, newer.Exceeds(older))
	require.False(t, older.Exceeds(newer))
	require.False(t, older.Exceeds(older))
}

func TestCanonicalRoundTripViaWire(t *testing.T) {
	signer := newTestSigner(t)
	c := &PeerContact{
		Addresses: []ma.Multiaddr{
			mustAddr(t, "/ip4/10.0.0.1/tcp/4001"),
			mustAddr(t, "/ip4/10.0.0.2/tcp/4002"),
		},
		Services:  0b1010,
		Timestamp: 4242,
	}
	signed, err := SignContact(c, signer)
	require.NoError(t, err)

	w, err := signed.ToWire()
	require.NoError(t, err)

	decoded, err := SignedContactFromWire(w)
	require.NoError(t, err)
	require.NoError(t, decoded.Verify())

	require.Equal(t, signed.Services(), decoded.Services())
	require.Equal(t, signed.Timestamp(), decoded.Timestamp())
	require.Equal(t, signed.Addresses(), decoded.Addresses())
}

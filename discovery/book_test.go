package discovery

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"

	"github.com/corvidchain/peernet/identity"
)

func newTestBook(t *testing.T, mock *clock.Mock) (*PeerContactBook, *identity.KeySigner) {
	t.Helper()
	signer := newTestSigner(t)
	cfg := DefaultConfig([]byte("genesis"), 0b01, 0b11)
	b, err := NewPeerContactBook(cfg, signer, mock, nil)
	require.NoError(t, err)
	return b, signer
}

func signedAt(t *testing.T, ts int64, services Services) *SignedPeerContact {
	t.Helper()
	signer := newTestSigner(t)
	signed, err := SignContact(&PeerContact{Services: services, Timestamp: ts}, signer)
	require.NoError(t, err)
	return signed
}

func TestInsertFreshness(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))
	book, _ := newTestBook(t, mock)

	signer := newTestSigner(t)
	p1, err := SignContact(&PeerContact{Timestamp: 100}, signer)
	require.NoError(t, err)
	res, err := book.Insert(p1, "")
	require.NoError(t, err)
	require.Equal(t, Inserted, res)

	stale, err := SignContact(&PeerContact{Timestamp: 99, PublicKey: signer.PublicKey()}, signer)
	require.NoError(t, err)
	res, err = book.Insert(stale, "")
	require.NoError(t, err)
	require.Equal(t, RejectedStale, res)

	fresher, err := SignContact(&PeerContact{Timestamp: 101, PublicKey: signer.PublicKey()}, signer)
	require.NoError(t, err)
	res, err = book.Insert(fresher, "")
	require.NoError(t, err)
	require.Equal(t, Replaced, res)

	id, err := fresher.PeerID()
	require.NoError(t, err)
	entry, ok := book.Get(id)
	require.True(t, ok)
	require.Equal(t, int64(101), entry.Contact().Timestamp())
}

func TestInsertRejectsInvalidSignature(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))
	book, _ := newTestBook(t, mock)

	signed := signedAt(t, 500, 0b01)
	signed.signature = append([]byte(nil), signed.signature...)
	signed.signature[0] ^= 0xFF

	res, err := book.Insert(signed, "")
	require.Error(t, err)
	require.Equal(t, RejectedInvalid, res)
}

func TestInsertRejectsIdentityMismatch(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))
	book, _ := newTestBook(t, mock)

	signed := signedAt(t, 500, 0b01)
	res, err := book.Insert(signed, "some-other-peer-id")
	require.ErrorIs(t, err, ErrContactIdentityMismatch)
	require.Equal(t, RejectedInvalid, res)
}

func TestInsertRejectsFutureTimestamp(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))
	book, _ := newTestBook(t, mock)

	signed := signedAt(t, 1000+int64(book.cfg.MaxClockSkew/time.Second)+100, 0b01)
	res, err := book.Insert(signed, "")
	require.ErrorIs(t, err, ErrContactTimestampFuture)
	require.Equal(t, RejectedInvalid, res)
}

func TestQueryFiltersServicesOwnEntryAndLimit(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))
	book, _ := newTestBook(t, mock)

	for i, services := range []Services{0b01, 0b11, 0b10, 0b01, 0b11} {
		signed := signedAt(t, int64(500+i), services)
		_, err := book.Insert(signed, "")
		require.NoError(t, err)
	}

	res := book.Query(0b01, 10)
	require.Len(t, res, 4)
	for _, c := range res {
		require.True(t, c.Services().Has(0b01))
	}

	limited := book.Query(0, 1)
	require.Len(t, limited, 1)
}

func TestHouseKeepingEvictsStaleEntries(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(0, 0))
	book, _ := newTestBook(t, mock)
	book.cfg.MaxAge = 25 * time.Second
	book.cfg.UpdateInterval = 10 * time.Second

	for _, ts := range []int64{10, 20, 30, 40} {
		signed := signedAt(t, ts, 0b01)
		_, err := book.Insert(signed, "")
		require.NoError(t, err)
	}

	mock.Set(time.Unix(50, 0))
	require.NoError(t, book.HouseKeeping())

	survivors := book.Query(0, 100)
	require.Len(t, survivors, 2)
	for _, s := range survivors {
		require.GreaterOrEqual(t, s.Timestamp(), int64(30))
	}

	ownEntry, ok := book.Get(book.OwnID())
	require.True(t, ok)
	require.Equal(t, int64(50), ownEntry.Contact().Timestamp())
}

func TestRemoveOwnAddresses(t *testing.T) {
	mock := clock.NewMock()
	mock.Set(time.Unix(1000, 0))
	book, _ := newTestBook(t, mock)

	a1 := mustAddr(t, "/ip4/1.2.3.4/tcp/1")
	a2 := mustAddr(t, "/ip4/5.6.7.8/tcp/2")
	require.NoError(t, book.SetOwnAddresses([]ma.Multiaddr{a1, a2}))

	require.NoError(t, book.RemoveOwnAddresses([]ma.Multiaddr{a1}))

	entry, ok := book.Get(book.OwnID())
	require.True(t, ok)
	require.Len(t, entry.Contact().Addresses(), 1)
	require.Equal(t, a2.String(), entry.Contact().Addresses()[0].String())
}

// Package identity narrows the cryptographic identity surface that the
// discovery subsystem depends on. Signature algorithms and key material
// themselves are an external collaborator (see spec §6); this package only
// re-exposes the pieces of go-libp2p-core that discovery needs, plus the
// small "owning identity" callback shape used for the local node's own
// contact record.
package identity

import (
	ic "github.com/libp2p/go-libp2p-core/crypto"
	"github.com/libp2p/go-libp2p-core/peer"
)

// PeerID identifies a peer; it is always derived deterministically from a
// PubKey (peer_id = digest(public_key)), never assigned independently.
type PeerID = peer.ID

// PrivKey and PubKey are the narrow signing/verification interfaces this
// subsystem relies on. Concrete curve/hash choices live entirely outside
// this module.
type PrivKey = ic.PrivKey
type PubKey = ic.PubKey

// IDFromPublicKey derives a PeerID from a public key. Two keys that are
// Equal always derive the same PeerID and vice versa.
func IDFromPublicKey(pub PubKey) (PeerID, error) {
	return peer.IDFromPublicKey(pub)
}

// UnmarshalPublicKey decodes a wire-format public key, the counterpart of
// PubKey.Bytes().
func UnmarshalPublicKey(data []byte) (PubKey, error) {
	return ic.UnmarshalPublicKey(data)
}

// Decode parses a PeerID's string form (as produced by PeerID.Pretty or
// PeerID.String), the counterpart used when a peer id arrives as plain
// text, e.g. an mDNS TXT record.
func Decode(s string) (PeerID, error) {
	return peer.Decode(s)
}

// Signer is the callback hook into the local node's identity. A
// PeerContactBook holds no private key material directly (§3
// PeerContactBookEntry); it instead calls back into whatever owns the
// node's keypair whenever its own entry needs re-signing.
type Signer interface {
	// Sign produces a signature over data under the identity's private key.
	Sign(data []byte) ([]byte, error)
	// PublicKey returns the identity's public key, embedded in every
	// contact record it signs.
	PublicKey() PubKey
	// PeerID is the identity's own derived peer id.
	PeerID() PeerID
}

// KeySigner adapts a bare PrivKey into a Signer.
type KeySigner struct {
	Priv PrivKey
}

// NewKeySigner builds a Signer from a private key, checking up front that
// a PeerID can be derived from its public key. PeerID re-derives the id on
// each call.
func NewKeySigner(priv PrivKey) (*KeySigner, error) {
	if _, err := peer.IDFromPublicKey(priv.GetPublic()); err != nil {
		return nil, err
	}
	return &KeySigner{Priv: priv}, nil
}

func (k *KeySigner) Sign(data []byte) ([]byte, error) {
	return k.Priv.Sign(data)
}

func (k *KeySigner) PublicKey() PubKey {
	return k.Priv.GetPublic()
}

func (k *KeySigner) PeerID() PeerID {
	id, _ := peer.IDFromPublicKey(k.Priv.GetPublic())
	return id
}

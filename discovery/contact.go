package discovery

import (
	"bytes"
	"encoding/binary"
	"fmt"

	ma "github.com/multiformats/go-multiaddr"

	"github.com/corvidchain/peernet/discovery/wire"
	"github.com/corvidchain/peernet/identity"
)

// PeerContact is the unsigned record described in spec §3: an ordered set
// of reachable addresses, a services bitmask, a freshness timestamp, and
// the owning public key. Peer identity is always derived from PublicKey,
// never stored independently.
type PeerContact struct {
	Addresses []ma.Multiaddr
	Services  Services
	Timestamp int64 // unix seconds
	PublicKey identity.PubKey
}

// PeerID derives this contact's peer id from its public key.
func (c *PeerContact) PeerID() (identity.PeerID, error) {
	return identity.IDFromPublicKey(c.PublicKey)
}

// CanonicalBytes produces the deterministic, length-prefixed encoding of
// the contact body that signatures are computed over (spec §4.1). Field
// order is fixed: address count + each address, services, timestamp,
// public key. This is intentionally not the wire protobuf encoding: a
// signature must cover exactly the same bytes regardless of which
// protobuf library or field ordering a peer implementation happens to
// use, so the signed body is a hand-specified canonical layout instead.
func (c *PeerContact) CanonicalBytes() ([]byte, error) {
	var buf bytes.Buffer

	writeUvarint(&buf, uint64(len(c.Addresses)))
	for _, addr := range c.Addresses {
		b := addr.Bytes()
		writeUvarint(&buf, uint64(len(b)))
		buf.Write(b)
	}

	writeUvarint(&buf, uint64(c.Services))
	writeVarint(&buf, c.Timestamp)

	if c.PublicKey == nil {
		return nil, fmt.Errorf("peer contact: missing public key")
	}
	pkBytes, err := c.PublicKey.Bytes()
	if err != nil {
		return nil, fmt.Errorf("peer contact: marshal public key: %w", err)
	}
	writeUvarint(&buf, uint64(len(pkBytes)))
	buf.Write(pkBytes)

	return buf.Bytes(), nil
}

func writeUvarint(buf *bytes.Buffer, v uint64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(tmp[:], v)
	buf.Write(tmp[:n])
}

func writeVarint(buf *bytes.Buffer, v int64) {
	var tmp [binary.MaxVarintLen64]byte
	n := binary.PutVarint(tmp[:], v)
	buf.Write(tmp[:n])
}

// SignedPeerContact is an immutable PeerContact plus a signature over its
// CanonicalBytes by the contained public key (spec §4.1). A
// SignedPeerContact is never admitted to the Book unless Verify succeeds
// and its derived peer id matches any expected identity (§3 invariant).
type SignedPeerContact struct {
	contact   *PeerContact
	signature []byte
}

// SignContact signs c under signer's private key, embedding signer's
// public key into the resulting record. Only the owner of the private key
// can produce this.
func SignContact(c *PeerContact, signer identity.Signer) (*SignedPeerContact, error) {
	c.PublicKey = signer.PublicKey()
	body, err := c.CanonicalBytes()
	if err != nil {
		return nil, err
	}
	sig, err := signer.Sign(body)
	if err != nil {
		return nil, fmt.Errorf("sign contact: %w", err)
	}
	return &SignedPeerContact{contact: c, signature: sig}, nil
}

// Verify checks the signature against the embedded public key. It does
// not check timestamp freshness or identity expectations; those are the
// Book's job at insertion time.
func (s *SignedPeerContact) Verify() error {
	if s.contact == nil || s.contact.PublicKey == nil {
		return ErrBadContactSignature
	}
	body, err := s.contact.CanonicalBytes()
	if err != nil {
		return err
	}
	ok, err := s.contact.PublicKey.Verify(body, s.signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBadContactSignature, err)
	}
	if !ok {
		return ErrBadContactSignature
	}
	return nil
}

// PeerID derives the peer id of the record's owner.
func (s *SignedPeerContact) PeerID() (identity.PeerID, error) {
	return s.contact.PeerID()
}

// Addresses returns the contact's advertised reachable addresses.
func (s *SignedPeerContact) Addresses() []ma.Multiaddr { return s.contact.Addresses }

// Services returns the contact's advertised services bitmask.
func (s *SignedPeerContact) Services() Services { return s.contact.Services }

// Timestamp returns the contact's freshness timestamp (unix seconds).
func (s *SignedPeerContact) Timestamp() int64 { return s.contact.Timestamp }

// PublicKey returns the embedded public key.
func (s *SignedPeerContact) PublicKey() identity.PubKey { return s.contact.PublicKey }

// Exceeds reports whether s is strictly fresher than other.
func (s *SignedPeerContact) Exceeds(other *SignedPeerContact) bool {
	return s.contact.Timestamp > other.contact.Timestamp
}

// Contact exposes the underlying unsigned contact. Callers must not
// mutate the returned value; SignedPeerContact is immutable by contract.
func (s *SignedPeerContact) Contact() *PeerContact { return s.contact }

// ToWire encodes s into its protobuf wire form for transmission.
func (s *SignedPeerContact) ToWire() (*wire.SignedContact, error) {
	pkBytes, err := s.contact.PublicKey.Bytes()
	if err != nil {
		return nil, err
	}
	addrs := make([][]byte, len(s.contact.Addresses))
	for i, a := range s.contact.Addresses {
		addrs[i] = a.Bytes()
	}
	services := uint64(s.contact.Services)
	ts := s.contact.Timestamp
	return &wire.SignedContact{
		Contact: &wire.Contact{
			Addresses: addrs,
			Services:  &services,
			Timestamp: &ts,
			PublicKey: pkBytes,
		},
		Signature: s.signature,
	}, nil
}

// SignedContactFromWire decodes and structurally validates (but does not
// cryptographically verify) a wire.SignedContact. Callers must call
// Verify before trusting the result.
func SignedContactFromWire(w *wire.SignedContact) (*SignedPeerContact, error) {
	if w == nil || w.Contact == nil {
		return nil, fmt.Errorf("signed contact: empty message")
	}
	pub, err := identity.UnmarshalPublicKey(w.Contact.GetPublicKey())
	if err != nil {
		return nil, fmt.Errorf("signed contact: unmarshal public key: %w", err)
	}
	addrs := make([]ma.Multiaddr, 0, len(w.Contact.GetAddresses()))
	for _, b := range w.Contact.GetAddresses() {
		addr, err := ma.NewMultiaddrBytes(b)
		if err != nil {
			return nil, fmt.Errorf("signed contact: parse address: %w", err)
		}
		addrs = append(addrs, addr)
	}
	c := &PeerContact{
		Addresses: addrs,
		Services:  Services(w.Contact.GetServices()),
		Timestamp: w.Contact.GetTimestamp(),
		PublicKey: pub,
	}
	return &SignedPeerContact{contact: c, signature: w.GetSignature()}, nil
}

package discovery

import (
	"sort"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/corvidchain/peernet/identity"
)

// PeerContactBookEntry holds one SignedPeerContact and the wall-clock
// marker of when it was last (re)written into the book (spec §3).
type PeerContactBookEntry struct {
	signed   *SignedPeerContact
	lastSeen time.Time
}

// Contact returns the stored signed record.
func (e *PeerContactBookEntry) Contact() *SignedPeerContact { return e.signed }

// LastSeen returns the wall-clock time this entry was last written.
func (e *PeerContactBookEntry) LastSeen() time.Time { return e.lastSeen }

// PeerContactBook is the shared, concurrently-read mapping from peer id to
// latest valid contact described in spec §4.2. It is created once per
// node and shared by every Handler and the Behaviour; it tolerates
// multiple concurrent readers with occasional writers (§5).
type PeerContactBook struct {
	mu    sync.RWMutex
	clock clock.Clock
	cfg   Config

	signer identity.Signer
	ownID  identity.PeerID

	entries map[identity.PeerID]*PeerContactBookEntry

	ownAddresses   []ma.Multiaddr
	ownLastRefresh time.Time
	ownDirty       bool
}

// NewPeerContactBook creates the book and signs+inserts the local node's
// own entry (spec §3 invariant I3: the local node always has exactly one
// entry).
func NewPeerContactBook(cfg Config, signer identity.Signer, clk clock.Clock, ownAddresses []ma.Multiaddr) (*PeerContactBook, error) {
	if clk == nil {
		clk = clock.New()
	}
	b := &PeerContactBook{
		clock:        clk,
		cfg:          cfg,
		signer:       signer,
		ownID:        signer.PeerID(),
		entries:      make(map[identity.PeerID]*PeerContactBookEntry),
		ownAddresses: append([]ma.Multiaddr(nil), ownAddresses...),
	}
	if err := b.refreshOwnContactLocked(); err != nil {
		return nil, err
	}
	return b, nil
}

// OwnID returns the local node's peer id.
func (b *PeerContactBook) OwnID() identity.PeerID { return b.ownID }

// Insert validates signed and admits it iff absent or strictly newer by
// timestamp (spec §4.2 Insert, invariants I1/P2/P3). expectedID, if
// non-empty, must match the contact's derived peer id (used by the
// handshake-ack leg to bind the wire-level remote peer to its advertised
// identity); pass "" to skip that check (permissive import of third-party
// contacts carried inside an update).
func (b *PeerContactBook) Insert(signed *SignedPeerContact, expectedID identity.PeerID) (InsertResult, error) {
	if err := signed.Verify(); err != nil {
		return RejectedInvalid, err
	}
	peerID, err := signed.PeerID()
	if err != nil {
		return RejectedInvalid, err
	}
	if expectedID != "" && peerID != expectedID {
		return RejectedInvalid, ErrContactIdentityMismatch
	}
	now := b.clock.Now()
	if signed.Timestamp() > now.Add(b.cfg.MaxClockSkew).Unix() {
		return RejectedInvalid, ErrContactTimestampFuture
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	existing, ok := b.entries[peerID]
	if ok && !signed.Exceeds(existing.signed) {
		return RejectedStale, nil
	}

	b.entries[peerID] = &PeerContactBookEntry{signed: signed, lastSeen: now}
	if !ok {
		return Inserted, nil
	}
	return Replaced, nil
}

// Get returns a snapshot read of the entry for peerID, if any.
func (b *PeerContactBook) Get(peerID identity.PeerID) (*PeerContactBookEntry, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[peerID]
	return e, ok
}

// Query returns up to limit entries whose services mask satisfies
// required, excluding the caller's own identity and entries older than
// MaxAge, favouring freshest timestamps and tie-breaking by peer id
// lexicographic order (spec §4.2 Query, P4).
func (b *PeerContactBook) Query(required Services, limit int) []*SignedPeerContact {
	b.mu.RLock()
	defer b.mu.RUnlock()

	now := b.clock.Now()
	candidates := make([]*PeerContactBookEntry, 0, len(b.entries))
	ids := make(map[*PeerContactBookEntry]identity.PeerID, len(b.entries))
	for id, e := range b.entries {
		if id == b.ownID {
			continue
		}
		if !e.signed.Services().Has(required) {
			continue
		}
		if now.Sub(time.Unix(e.signed.Timestamp(), 0)) > b.cfg.MaxAge {
			continue
		}
		candidates = append(candidates, e)
		ids[e] = id
	}

	sort.Slice(candidates, func(i, j int) bool {
		ti, tj := candidates[i].signed.Timestamp(), candidates[j].signed.Timestamp()
		if ti != tj {
			return ti > tj
		}
		return ids[candidates[i]] < ids[candidates[j]]
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	out := make([]*SignedPeerContact, len(candidates))
	for i, e := range candidates {
		out[i] = e.signed
	}
	return out
}

// HouseKeeping evicts entries older than MaxAge and refreshes the local
// own entry if its address set has changed since the last refresh or the
// last refresh predates UpdateInterval (spec §4.2 housekeeping, P8).
func (b *PeerContactBook) HouseKeeping() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	for id, e := range b.entries {
		if id == b.ownID {
			continue
		}
		if now.Sub(time.Unix(e.signed.Timestamp(), 0)) > b.cfg.MaxAge {
			delete(b.entries, id)
		}
	}

	if b.ownDirty || now.Sub(b.ownLastRefresh) >= b.cfg.UpdateInterval {
		return b.refreshOwnContactLocked()
	}
	return nil
}

// UpdateOwnContact re-signs and stores the local entry unconditionally,
// bumping its timestamp to now.
func (b *PeerContactBook) UpdateOwnContact() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.refreshOwnContactLocked()
}

// SetOwnAddresses replaces the local node's advertised address set and
// re-signs immediately (spec I3: "refreshed whenever the address set
// changes").
func (b *PeerContactBook) SetOwnAddresses(addrs []ma.Multiaddr) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.ownAddresses = append([]ma.Multiaddr(nil), addrs...)
	return b.refreshOwnContactLocked()
}

// RemoveOwnAddresses removes the listed addresses from the local entry
// and re-signs (spec §4.2, "address-set minus failed" in §9: this is how
// a node learns it is behind NAT for some address family).
func (b *PeerContactBook) RemoveOwnAddresses(toRemove []ma.Multiaddr) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(toRemove) == 0 {
		return nil
	}
	remove := make(map[string]bool, len(toRemove))
	for _, a := range toRemove {
		remove[a.String()] = true
	}
	kept := b.ownAddresses[:0:0]
	for _, a := range b.ownAddresses {
		if !remove[a.String()] {
			kept = append(kept, a)
		}
	}
	b.ownAddresses = kept
	return b.refreshOwnContactLocked()
}

// refreshOwnContactLocked must be called with b.mu held.
func (b *PeerContactBook) refreshOwnContactLocked() error {
	now := b.clock.Now()
	contact := &PeerContact{
		Addresses: append([]ma.Multiaddr(nil), b.ownAddresses...),
		Services:  b.cfg.OfferedServices,
		Timestamp: now.Unix(),
	}
	signed, err := SignContact(contact, b.signer)
	if err != nil {
		return err
	}
	b.entries[b.ownID] = &PeerContactBookEntry{signed: signed, lastSeen: now}
	b.ownLastRefresh = now
	b.ownDirty = false
	return nil
}

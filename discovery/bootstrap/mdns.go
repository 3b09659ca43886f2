// Package bootstrap finds LAN dial candidates outside the signed Contact
// Book trust boundary. Its findings are hints, not Book entries: nothing
// here is ever signature-verified, so a discovered address is only ever
// handed to the transport to dial, never inserted into the Book
// directly. That happens naturally anyway, since the peer-exchange
// handshake on the resulting connection produces the signed contact.
package bootstrap

import (
	"context"
	"errors"
	"io"
	"io/ioutil"
	golog "log"
	"net"
	"sync"
	"time"

	logging "github.com/ipfs/go-log"
	mdns "github.com/grandcat/zeroconf"
	ma "github.com/multiformats/go-multiaddr"
	manet "github.com/multiformats/go-multiaddr-net"

	"github.com/corvidchain/peernet/identity"
)

var log = logging.Logger("discovery/bootstrap")

// ServiceTag is the default mDNS service name peers advertise under.
const ServiceTag = "_peernet-discovery._udp"

// HostView is the narrow slice of host.Host this service actually
// needs: its own identity (to skip self-discovery) and its listen
// addresses (to pick an mDNS broadcast port).
type HostView interface {
	ID() identity.PeerID
	ListenAddresses() []ma.Multiaddr
}

// PeerFound is one mDNS sighting: a candidate peer id and the raw
// addresses it was seen advertising.
type PeerFound struct {
	ID    identity.PeerID
	Addrs []ma.Multiaddr
}

// Notifee receives PeerFound sightings.
type Notifee interface {
	HandlePeerFound(PeerFound)
}

// Service is a running LAN discovery process.
type Service interface {
	io.Closer
	RegisterNotifee(Notifee)
	UnregisterNotifee(Notifee)
}

type mdnsService struct {
	server   *mdns.Server
	resolver *mdns.Resolver
	host     HostView
	tag      string

	lk       sync.Mutex
	notifees []Notifee
	interval time.Duration
}

// getBestPort picks a TCP port worth advertising over mDNS, preferring
// an unspecified listener and otherwise the least-local address.
func getBestPort(addrs []ma.Multiaddr) (int, error) {
	var best *net.TCPAddr
	for _, addr := range addrs {
		na, err := manet.ToNetAddr(addr)
		if err != nil {
			continue
		}
		tcp, ok := na.(*net.TCPAddr)
		if !ok {
			continue
		}
		if tcp.IP.IsMulticast() || tcp.IP.IsLinkLocalUnicast() {
			continue
		}
		if tcp.IP.IsUnspecified() {
			return tcp.Port, nil
		}
		if best == nil || best.IP.IsLoopback() {
			best = tcp
		}
	}
	if best == nil {
		return 0, errors.New("bootstrap: no usable listen address to advertise over mdns")
	}
	return best.Port, nil
}

// NewMdnsService starts advertising peerhost's identity over mDNS and
// polling for other peers at the given interval. serviceTag defaults to
// ServiceTag when empty, letting a test network isolate itself from the
// default tag.
func NewMdnsService(ctx context.Context, peerhost HostView, interval time.Duration, serviceTag string) (Service, error) {
	golog.SetOutput(ioutil.Discard)

	port, err := getBestPort(peerhost.ListenAddresses())
	if err != nil {
		return nil, err
	}
	myID := peerhost.ID().Pretty()

	if serviceTag == "" {
		serviceTag = ServiceTag
	}

	resolver, err := mdns.NewResolver(nil)
	if err != nil {
		return nil, err
	}

	server, err := mdns.Register(myID, serviceTag, "", port, []string{myID}, nil)
	if err != nil {
		return nil, err
	}

	s := &mdnsService{
		server:   server,
		resolver: resolver,
		host:     peerhost,
		interval: interval,
		tag:      serviceTag,
	}
	go s.pollForEntries(ctx)
	return s, nil
}

func (m *mdnsService) Close() error {
	m.server.Shutdown()
	return nil
}

func (m *mdnsService) pollForEntries(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()
	for {
		entriesCh := make(chan *mdns.ServiceEntry, 16)
		go func(results <-chan *mdns.ServiceEntry) {
			for entry := range results {
				m.handleEntry(entry)
			}
		}(entriesCh)

		log.Debug("starting mdns query")
		queryCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		if err := m.resolver.Browse(queryCtx, m.tag, "local", entriesCh); err != nil {
			log.Errorf("mdns lookup error: %s", err)
		}
		close(entriesCh)
		cancel()
		log.Debug("mdns query complete")

		select {
		case <-ticker.C:
			continue
		case <-ctx.Done():
			log.Debug("mdns service halting")
			return
		}
	}
}

func (m *mdnsService) handleEntry(e *mdns.ServiceEntry) {
	if len(e.Text) != 1 {
		log.Warningf("expected exactly one TXT record, got: %v", e.Text)
		return
	}
	peerID, err := identity.Decode(e.Text[0])
	if err != nil {
		log.Warningf("error parsing peer id from mdns entry: %s", err)
		return
	}
	if peerID == m.host.ID() {
		log.Debug("got our own mdns entry, skipping")
		return
	}

	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)

	var found PeerFound
	found.ID = peerID
	for _, ip := range addrs {
		maddr, err := manet.FromNetAddr(&net.TCPAddr{IP: ip, Port: e.Port})
		if err != nil {
			log.Errorf("building multiaddr from mdns entry (%s:%d): %s", ip, e.Port, err)
			continue
		}
		found.Addrs = append(found.Addrs, maddr)
	}
	if len(found.Addrs) == 0 {
		return
	}

	m.lk.Lock()
	for _, n := range m.notifees {
		go n.HandlePeerFound(found)
	}
	m.lk.Unlock()
}

func (m *mdnsService) RegisterNotifee(n Notifee) {
	m.lk.Lock()
	m.notifees = append(m.notifees, n)
	m.lk.Unlock()
}

func (m *mdnsService) UnregisterNotifee(n Notifee) {
	m.lk.Lock()
	defer m.lk.Unlock()
	for i, notif := range m.notifees {
		if notif == n {
			m.notifees = append(m.notifees[:i], m.notifees[i+1:]...)
			return
		}
	}
}

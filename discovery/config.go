package discovery

import "time"

// Services is a bitmask advertising which protocols/roles a peer supports.
type Services uint64

// Intersects reports whether s shares any bit with other.
func (s Services) Intersects(other Services) bool {
	return s&other != 0
}

// Has reports whether s carries every bit set in required.
func (s Services) Has(required Services) bool {
	return s&required == required
}

// Config mirrors spec §3 Config and §6 defaults.
type Config struct {
	// GenesisHash identifies the network we want to be connected to.
	GenesisHash []byte

	// RequiredServices is the set of services we need others to provide.
	RequiredServices Services

	// OfferedServices is the set of services this node itself provides.
	// It is what gets advertised in our own contact record; the
	// handshake's services_filter we send to peers carries
	// RequiredServices instead.
	OfferedServices Services

	// UpdateInterval is how often we send a PeerAddresses update.
	UpdateInterval time.Duration

	// MinSendUpdateInterval floors how often we will send an update.
	MinSendUpdateInterval time.Duration

	// MinRecvUpdateInterval floors how often we will accept an update.
	MinRecvUpdateInterval time.Duration

	// UpdateLimit bounds how many contacts we send or accept per update.
	UpdateLimit uint16

	// HouseKeepingInterval is how often the book is swept for stale
	// entries and the local own contact is refreshed.
	HouseKeepingInterval time.Duration

	// KeepAlive, while true, reports the connection as in-use so the
	// transport does not idle-close it.
	KeepAlive bool

	// MaxAge is how old (relative to now) a contact may be before
	// housekeeping evicts it (spec I2).
	MaxAge time.Duration

	// MaxClockSkew bounds how far into the future a peer-supplied
	// timestamp may be before it is rejected outright. See SPEC_FULL.md
	// "OPEN QUESTIONS" for why this, and not clock synchronization, is
	// the answer to the original's unresolved clock-exchange TODO.
	MaxClockSkew time.Duration

	// UserAgent is advertised in the handshake.
	UserAgent string
}

// DefaultConfig returns the §6 defaults for the given genesis hash,
// required services (what we need from peers) and offered services (what
// we advertise about ourselves).
func DefaultConfig(genesisHash []byte, requiredServices, offeredServices Services) Config {
	return Config{
		GenesisHash:           genesisHash,
		RequiredServices:      requiredServices,
		OfferedServices:       offeredServices,
		UpdateInterval:        60 * time.Second,
		MinSendUpdateInterval: 30 * time.Second,
		MinRecvUpdateInterval: 30 * time.Second,
		UpdateLimit:           64,
		HouseKeepingInterval:  60 * time.Second,
		KeepAlive:             true,
		MaxAge:                30 * time.Minute,
		MaxClockSkew:          90 * time.Second,
		UserAgent:             "go-peernet",
	}
}

package bootstrap

import (
	"testing"

	ma "github.com/multiformats/go-multiaddr"
	"github.com/stretchr/testify/require"
)

func addr(t *testing.T, s string) ma.Multiaddr {
	t.Helper()
	a, err := ma.NewMultiaddr(s)
	require.NoError(t, err)
	return a
}

func TestGetBestPortPrefersUnspecified(t *testing.T) {
	port, err := getBestPort([]ma.Multiaddr{
		addr(t, "/ip4/127.0.0.1/tcp/4001"),
		addr(t, "/ip4/0.0.0.0/tcp/4002"),
		addr(t, "/ip4/10.0.0.5/tcp/4003"),
	})
	require.NoError(t, err)
	require.Equal(t, 4002, port)
}

func TestGetBestPortFallsBackToNonLoopback(t *testing.T) {
	port, err := getBestPort([]ma.Multiaddr{
		addr(t, "/ip4/127.0.0.1/tcp/4001"),
		addr(t, "/ip4/10.0.0.5/tcp/4003"),
	})
	require.NoError(t, err)
	require.Equal(t, 4003, port)
}

func TestGetBestPortSkipsLinkLocalAndMulticast(t *testing.T) {
	port, err := getBestPort([]ma.Multiaddr{
		addr(t, "/ip4/169.254.1.1/tcp/9999"),
		addr(t, "/ip4/224.0.0.1/tcp/8888"),
		addr(t, "/ip4/10.0.0.7/tcp/4005"),
	})
	require.NoError(t, err)
	require.Equal(t, 4005, port)
}

func TestGetBestPortErrorsWithNoUsableAddress(t *testing.T) {
	_, err := getBestPort(nil)
	require.Error(t, err)
}

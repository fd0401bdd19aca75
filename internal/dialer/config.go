package dialer

import (
	"net"
	"time"

	"github.com/die-net/mixproxy/internal/tcpopt"
)

type Config struct {
	DialTimeout        time.Duration
	NegotiationTimeout time.Duration
	KeepAlive          net.KeepAliveConfig
	NoDelay            bool
	TCP                tcpopt.Options

	// Resolver, if set, replaces the system resolver for domain names.
	Resolver Resolver
}

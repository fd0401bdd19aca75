package proxy

import (
	"net"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/mixproxy/internal/dialer"
	"github.com/die-net/mixproxy/internal/tcpopt"
)

type Config struct {
	// NegotiationTimeout bounds classification, the SOCKS5 sub-handshake
	// and reading the request address. Zero disables it.
	NegotiationTimeout time.Duration

	KeepAlive net.KeepAliveConfig
	NoDelay   bool
	TCP       tcpopt.Options

	// Dialer opens outbound TCP connections. UDPDialer opens the outbound
	// socket of a UDP association; it is never an upstream proxy.
	Dialer    dialer.Dialer
	UDPDialer dialer.Dialer

	// RateLimit caps each relay direction of a session in bytes per
	// second. Zero means unlimited.
	RateLimit int64

	Logger zerolog.Logger

	// OnEnd, if set, is called once per session after it has released its
	// resources.
	OnEnd func(Session)
}

package dialer

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/die-net/mixproxy/internal/socks5"
)

// SOCKS5ProxyDialer dials outbound TCP connections through a no-auth SOCKS5
// server using CONNECT.
type SOCKS5ProxyDialer struct {
	cfg       Config
	proxyAddr string
	direct    *DirectDialer
}

func NewSOCKS5ProxyDialer(cfg Config, proxyAddr string) *SOCKS5ProxyDialer {
	return &SOCKS5ProxyDialer{cfg: cfg, proxyAddr: proxyAddr, direct: NewDirectDialer(cfg)}
}

// ProxyAddr returns the proxy host:port.
func (f *SOCKS5ProxyDialer) ProxyAddr() string {
	return f.proxyAddr
}

func (f *SOCKS5ProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: unsupported network", network, address)
	}

	c, err := f.direct.DialContext(ctx, network, f.proxyAddr)
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy: %w", err)
	}
	err = negotiate(ctx, c, f.cfg.NegotiationTimeout, func() error {
		return socks5.ClientDial(c, address)
	})
	if err != nil {
		return nil, fmt.Errorf("socks5 proxy dial %s %s: %w", network, address, err)
	}
	return c, nil
}

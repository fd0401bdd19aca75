package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"

	"github.com/die-net/mixproxy/internal/tcpopt"
)

// DirectDialer dials destinations without an upstream proxy, applying the
// configured TCP tuning to every outbound TCP socket.
type DirectDialer struct {
	cfg Config
	nd  net.Dialer
}

func NewDirectDialer(cfg Config) *DirectDialer {
	return &DirectDialer{
		cfg: cfg,
		nd: net.Dialer{
			Timeout: cfg.DialTimeout,
			Control: tcpopt.DialControl(cfg.TCP),
		},
	}
}

// DialContext dials network ("tcp*" or "udp*") address. With a Resolver
// configured, domain names are resolved through it and each address is
// tried in order.
func (d *DirectDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if d.cfg.Resolver == nil {
		return d.dial(ctx, network, address)
	}

	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	if _, err := netip.ParseAddr(host); err == nil {
		return d.dial(ctx, network, address)
	}

	if d.cfg.DialTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, d.cfg.DialTimeout)
		defer cancel()
	}

	ips, err := d.cfg.Resolver.LookupNetIP(ctx, host)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}
	if len(ips) == 0 {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, ErrNoAddresses)
	}

	var errs []error
	for _, ip := range ips {
		conn, err := d.dial(ctx, network, net.JoinHostPort(ip.String(), port))
		if err == nil {
			return conn, nil
		}
		errs = append(errs, err)
		if ctx.Err() != nil {
			break
		}
	}
	return nil, errors.Join(errs...)
}

func (d *DirectDialer) dial(ctx context.Context, network, address string) (net.Conn, error) {
	conn, err := d.nd.DialContext(ctx, network, address)
	if err != nil {
		return nil, fmt.Errorf("dial %s %s: %w", network, address, err)
	}

	if tc, ok := conn.(*net.TCPConn); ok {
		_ = tc.SetKeepAliveConfig(d.cfg.KeepAlive)
		_ = tc.SetNoDelay(d.cfg.NoDelay)
	}

	return conn, nil
}

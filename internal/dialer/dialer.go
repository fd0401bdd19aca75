package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"
)

// Dialer mirrors the net.Dialer interface.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

var defaultPorts = map[string]string{
	"http":   "80",
	"https":  "443",
	"socks5": "1080",
}

// New builds the outbound Dialer described by upstream. Accepted forms are
// direct://, http://[user:pass@]host[:port], https://[user:pass@]host[:port]
// and socks5://host[:port]; a missing port takes the scheme default.
func New(cfg Config, upstream string) (Dialer, error) {
	u, err := parseUpstream(upstream)
	if err != nil {
		return nil, err
	}

	switch u.Scheme {
	case "direct":
		return NewDirectDialer(cfg), nil
	case "socks5":
		if u.User != nil {
			return nil, errors.New("upstream: socks5 authentication is not supported")
		}
		return NewSOCKS5ProxyDialer(cfg, u.Host), nil
	default:
		var user, pass string
		if u.User != nil {
			user = u.User.Username()
			pass, _ = u.User.Password()
		}
		return NewHTTPProxyDialer(cfg, u, user, pass)
	}
}

func parseUpstream(s string) (*url.URL, error) {
	u, err := url.Parse(s)
	if err != nil {
		return nil, fmt.Errorf("upstream: %w", err)
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "" {
		return nil, errors.New("upstream: missing scheme")
	}
	if u.Path != "" && u.Path != "/" {
		return nil, fmt.Errorf("upstream: unexpected path %q", u.Path)
	}
	if u.Scheme == "direct" {
		return u, nil
	}

	port, ok := defaultPorts[u.Scheme]
	if !ok {
		return nil, fmt.Errorf("upstream: unsupported scheme %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, errors.New("upstream: missing host")
	}
	if u.Port() == "" {
		u.Host = net.JoinHostPort(u.Hostname(), port)
	}
	return u, nil
}

// negotiate runs fn against c with the negotiation deadline applied. A
// cancelled ctx interrupts fn by expiring the deadline. On failure c is
// closed.
func negotiate(ctx context.Context, c net.Conn, timeout time.Duration, fn func() error) error {
	if timeout > 0 {
		_ = c.SetDeadline(time.Now().Add(timeout))
	}

	stop := context.AfterFunc(ctx, func() { _ = c.SetDeadline(time.Unix(1, 0)) })
	err := fn()
	if !stop() {
		err = ctx.Err()
	}
	if err != nil {
		_ = c.Close()
		return err
	}

	_ = c.SetDeadline(time.Time{})
	return nil
}

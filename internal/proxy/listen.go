package proxy

import (
	"context"
	"fmt"
	"net"

	"github.com/die-net/mixproxy/internal/tcpopt"
)

// ListenTCP listens on the given network/address with cfg's TCP options
// (Fast Open, user timeout) and returns a net.Listener that applies cfg's
// keepalive and no-delay settings to accepted connections.
func ListenTCP(ctx context.Context, network, addr string, cfg Config) (net.Listener, error) {
	lc := net.ListenConfig{Control: tcpopt.ListenControl(cfg.TCP)}

	ln, err := lc.Listen(ctx, network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}

	return &TunedListener{Listener: ln, KeepAliveConfig: cfg.KeepAlive, NoDelay: cfg.NoDelay}, nil
}

// TunedListener wraps a net.Listener and applies KeepAliveConfig and
// NoDelay to any accepted *net.TCPConn.
type TunedListener struct {
	net.Listener
	net.KeepAliveConfig
	NoDelay bool
}

// Accept accepts the next connection and tunes it if it is a *net.TCPConn.
func (l *TunedListener) Accept() (net.Conn, error) {
	conn, err := l.Listener.Accept()
	if err != nil {
		return nil, err
	}

	tc, ok := conn.(*net.TCPConn)
	if ok {
		_ = tc.SetKeepAliveConfig(l.KeepAliveConfig)
		_ = tc.SetNoDelay(l.NoDelay)
	}

	return conn, nil
}

package proxy

import (
	"context"
	"fmt"
	"net"

	"github.com/die-net/mixproxy/internal/socks5"
)

// SOCKS5TCPSession serves a SOCKS5 CONNECT whose greeting and command have
// already been negotiated.
type SOCKS5TCPSession struct {
	baseSession
}

func newSOCKS5TCPSession(cfg *Config, id uint64, client net.Conn) *SOCKS5TCPSession {
	s := &SOCKS5TCPSession{}
	s.init(cfg, id, KindSOCKS5TCP, client, s)
	return s
}

func (s *SOCKS5TCPSession) Run(ctx context.Context) error {
	defer s.Close()
	defer s.watch(ctx)()

	done := s.readDeadline()
	dst, err := socks5.ReadAddr(s.client)
	done()
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}

	s.log.Debug().Stringer("dst", dst).Msg("connect")

	up, err := s.cfg.Dialer.DialContext(ctx, "tcp", dst.String())
	if err != nil {
		// No negative reply; the client sees the connection close.
		return fmt.Errorf("connect %s: %w", dst, err)
	}
	if !s.connect(up, StateConnected) {
		return nil
	}

	if err := socks5.WriteConnectedReply(s.client); err != nil {
		return err
	}

	return Relay(ctx, s.client, up, s.cfg.relayOptions())
}

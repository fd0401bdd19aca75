package proxy

import (
	"context"
	"fmt"
	"io"
	"net"

	"github.com/die-net/mixproxy/internal/httpheader"
)

const connectEstablished = "HTTP/1.1 200 Connection Established\r\n\r\n"

// HTTPSession serves an HTTP proxy request classified by the factory. A
// CONNECT becomes an opaque tunnel; any other method has its raw request
// bytes replayed to the origin and the connection relayed as-is.
type HTTPSession struct {
	baseSession
	header *httpheader.Header
}

func newHTTPSession(cfg *Config, id uint64, client net.Conn, h *httpheader.Header) *HTTPSession {
	s := &HTTPSession{header: h}
	s.init(cfg, id, KindHTTP, client, s)
	return s
}

// Header returns the parsed request head.
func (s *HTTPSession) Header() *httpheader.Header {
	return s.header
}

func (s *HTTPSession) Run(ctx context.Context) error {
	defer s.Close()
	defer s.watch(ctx)()

	dst := s.header.Address()
	s.log.Debug().Str("method", s.header.Method).Str("dst", dst).Msg("connect")

	up, err := s.cfg.Dialer.DialContext(ctx, "tcp", dst)
	if err != nil {
		return fmt.Errorf("connect %s: %w", dst, err)
	}
	if !s.connect(up, StateConnected) {
		return nil
	}

	if s.header.IsConnect {
		// Bytes the client pipelined after the CONNECT head are dropped.
		if _, err := io.WriteString(s.client, connectEstablished); err != nil {
			return fmt.Errorf("write connect response: %w", err)
		}
	} else {
		if _, err := up.Write(s.header.Raw); err != nil {
			return fmt.Errorf("forward request: %w", err)
		}
	}

	return Relay(ctx, s.client, up, s.cfg.relayOptions())
}

package proxy

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/netip"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/die-net/mixproxy/internal/socks5"
)

// SOCKS5UDPSession serves a SOCKS5 UDP ASSOCIATE. The client names one
// destination in its request; datagrams from the first inbound peer are
// unwrapped and sent there, and replies are wrapped and sent back to that
// peer. The association lives as long as the TCP control connection.
type SOCKS5UDPSession struct {
	baseSession

	localIP netip.Addr
	target  socks5.Addr

	in   net.PacketConn
	peer atomic.Pointer[net.UDPAddr]
}

func newSOCKS5UDPSession(cfg *Config, id uint64, client net.Conn) (*SOCKS5UDPSession, error) {
	ta, ok := client.LocalAddr().(*net.TCPAddr)
	if !ok {
		return nil, fmt.Errorf("control connection local address %v is not tcp", client.LocalAddr())
	}

	s := &SOCKS5UDPSession{localIP: ta.AddrPort().Addr().Unmap()}
	s.init(cfg, id, KindSOCKS5UDP, client, s)
	return s, nil
}

// Peer returns the bound inbound peer, or nil before the first datagram.
func (s *SOCKS5UDPSession) Peer() net.Addr {
	if p := s.peer.Load(); p != nil {
		return p
	}
	return nil
}

// RelayAddr returns the inbound listener address, or nil before it is open.
func (s *SOCKS5UDPSession) RelayAddr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.in == nil {
		return nil
	}
	return s.in.LocalAddr()
}

func (s *SOCKS5UDPSession) Run(ctx context.Context) error {
	defer s.Close()
	defer s.watch(ctx)()

	done := s.readDeadline()
	target, err := socks5.ReadAddr(s.client)
	done()
	if err != nil {
		return fmt.Errorf("read request: %w", err)
	}
	s.target = target

	s.log.Debug().Stringer("dst", target).Msg("udp associate")

	out, err := s.cfg.UDPDialer.DialContext(ctx, "udp", target.String())
	if err != nil {
		return fmt.Errorf("dial udp %s: %w", target, err)
	}
	if !s.connect(out, StateOutUDPConnected) {
		return nil
	}

	lc := net.ListenConfig{}
	in, err := lc.ListenPacket(ctx, "udp", net.JoinHostPort(s.localIP.String(), "0"))
	if err != nil {
		return fmt.Errorf("listen udp: %w", err)
	}
	if !s.attach(in) {
		return nil
	}
	s.mu.Lock()
	s.in = in
	s.mu.Unlock()

	ua, ok := in.LocalAddr().(*net.UDPAddr)
	if !ok || ua.Port == 0 {
		return fmt.Errorf("udp listener has no port: %v", in.LocalAddr())
	}
	if !s.enter(StateInUDPListenerReady) {
		return nil
	}

	bound := socks5.AddrFromIPPort(netip.AddrPortFrom(s.localIP, uint16(ua.Port)))
	if err := socks5.WriteSuccessReply(s.client, bound); err != nil {
		return err
	}
	s.log.Debug().Stringer("relay", bound).Msg("udp relay ready")

	if !s.enter(StateWaitingForInUDPConnection) {
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(s.drainControl)
	g.Go(func() error { return s.forwardInbound(in, out) })
	g.Go(func() error { return s.returnOutbound(in, out) })

	g.Go(func() error {
		<-gctx.Done()
		s.Close()
		return nil
	})

	return quiet(g.Wait())
}

// drainControl discards anything the client sends on the TCP connection
// and reports its closure.
func (s *SOCKS5UDPSession) drainControl() error {
	if _, err := io.Copy(io.Discard, s.client); err != nil {
		return fmt.Errorf("control connection: %w", err)
	}
	return errStreamEnded
}

// forwardInbound unwraps datagrams from the bound peer and writes their
// payload to the destination. The first sender becomes the bound peer.
func (s *SOCKS5UDPSession) forwardInbound(in net.PacketConn, out net.Conn) error {
	buf := make([]byte, socks5.MaxDatagramSize)
	for {
		n, from, err := in.ReadFrom(buf)
		if err != nil {
			return fmt.Errorf("read inbound: %w", err)
		}

		if !s.acceptPeer(from) {
			udpDropped.Inc()
			s.log.Trace().Stringer("from", from).Msg("datagram from unbound peer dropped")
			continue
		}

		dg, err := socks5.ParseDatagram(buf[:n])
		if err != nil || len(dg.Payload) == 0 {
			udpDropped.Inc()
			s.log.Trace().Err(err).Int("bytes", n).Msg("datagram dropped")
			continue
		}

		if _, err := out.Write(dg.Payload); err != nil {
			return fmt.Errorf("write outbound: %w", err)
		}
		udpForwarded.Inc()
	}
}

// returnOutbound wraps datagrams from the destination and sends them to the
// bound peer. Replies arriving before a peer is bound are dropped.
func (s *SOCKS5UDPSession) returnOutbound(in net.PacketConn, out net.Conn) error {
	hdr, err := socks5.Datagram{Addr: s.target}.MarshalBinary()
	if err != nil {
		return fmt.Errorf("reply header: %w", err)
	}

	buf := make([]byte, len(hdr)+socks5.MaxDatagramSize)
	copy(buf, hdr)
	for {
		n, err := out.Read(buf[len(hdr):])
		if err != nil {
			return fmt.Errorf("read outbound: %w", err)
		}

		peer := s.peer.Load()
		if peer == nil {
			udpDropped.Inc()
			continue
		}

		if _, err := in.WriteTo(buf[:len(hdr)+n], peer); err != nil {
			return fmt.Errorf("write inbound: %w", err)
		}
		udpReturned.Inc()
	}
}

func (s *SOCKS5UDPSession) acceptPeer(from net.Addr) bool {
	ua, ok := from.(*net.UDPAddr)
	if !ok {
		return false
	}

	if p := s.peer.Load(); p != nil {
		return p.AddrPort() == ua.AddrPort()
	}

	s.peer.Store(ua)
	s.enter(StateTransmitting)
	s.log.Debug().Stringer("peer", ua).Msg("udp peer bound")
	return true
}

package proxy

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/die-net/mixproxy/internal/httpheader"
	"github.com/die-net/mixproxy/internal/socks5"
)

// RequestKind is the protocol a connection's first bytes belong to.
type RequestKind int

const (
	RequestSOCKS5 RequestKind = iota + 1
	RequestHTTP
)

func (k RequestKind) String() string {
	switch k {
	case RequestSOCKS5:
		return "socks5"
	case RequestHTTP:
		return "http"
	default:
		return "invalid"
	}
}

// Classify decides what buf, the first bytes read from a client, is. Exactly
// GreetingLen bytes must be a no-auth SOCKS5 greeting; anything longer must
// parse as an HTTP request head.
func Classify(buf []byte) (RequestKind, *httpheader.Header, error) {
	switch {
	case len(buf) < socks5.GreetingLen:
		return 0, nil, ErrFailedToReadFromConnection
	case len(buf) == socks5.GreetingLen:
		if err := socks5.ParseGreeting(buf); err != nil {
			switch {
			case errors.Is(err, socks5.ErrVersion):
				return 0, nil, fmt.Errorf("%w: %w", ErrUnsupportedSocksVersion, err)
			case errors.Is(err, socks5.ErrAuthMethod):
				return 0, nil, fmt.Errorf("%w: %w", ErrUnsupportedAuthenticationMethod, err)
			default:
				return 0, nil, fmt.Errorf("%w: %w", ErrContaminatedRequest, err)
			}
		}
		return RequestSOCKS5, nil, nil
	default:
		h, err := httpheader.Parse(buf)
		if err != nil {
			return 0, nil, fmt.Errorf("%w: %w", ErrContaminatedRequest, err)
		}
		return RequestHTTP, h, nil
	}
}

// Factory turns accepted connections into sessions.
type Factory struct {
	cfg    *Config
	log    zerolog.Logger
	nextID atomic.Uint64
}

func NewFactory(cfg Config) *Factory {
	return &Factory{
		cfg: &cfg,
		log: cfg.Logger.With().Str("component", "factory").Logger(),
	}
}

// NewSession reads the first bytes of conn, completes the SOCKS5 method and
// command negotiation when needed, and returns the matching session. On
// error the caller still owns conn.
func (f *Factory) NewSession(ctx context.Context, conn net.Conn) (Session, error) {
	s, err := f.negotiate(ctx, conn)
	if err != nil {
		factoryErrors.WithLabelValues(FactoryErrorReason(err)).Inc()
		f.log.Debug().Err(err).Stringer("remote", conn.RemoteAddr()).Msg("negotiation failed")
		return nil, err
	}

	sessionsTotal.WithLabelValues(s.Kind().String()).Inc()
	f.log.Debug().Uint64("session", s.ID()).Stringer("kind", s.Kind()).Stringer("remote", conn.RemoteAddr()).Msg("session created")
	return s, nil
}

func (f *Factory) negotiate(ctx context.Context, conn net.Conn) (Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	if f.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(f.cfg.NegotiationTimeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Unix(1, 0)) })
	defer stop()

	buf, err := f.readRequest(conn)
	if err != nil {
		return nil, f.readError(ctx, err, len(buf))
	}

	kind, h, err := Classify(buf)
	if err != nil {
		if errors.Is(err, ErrUnsupportedAuthenticationMethod) {
			_ = socks5.WriteUnsupportedAuthMethod(conn)
		}
		return nil, err
	}

	var s Session
	switch kind {
	case RequestHTTP:
		s = newHTTPSession(f.cfg, f.nextID.Add(1), conn, h)
	case RequestSOCKS5:
		s, err = f.negotiateSOCKS5(ctx, conn)
		if err != nil {
			return nil, err
		}
	}

	if !stop() {
		return nil, fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	}
	if f.cfg.NegotiationTimeout > 0 {
		_ = conn.SetDeadline(time.Time{})
	}
	return s, nil
}

// readRequest reads at least a greeting's worth of bytes. A read longer than
// that which starts like an HTTP request keeps accumulating until the header
// block ends, the buffer fills or a read fails.
func (f *Factory) readRequest(conn net.Conn) ([]byte, error) {
	buf := make([]byte, ChunkSize)

	n, err := io.ReadAtLeast(conn, buf, socks5.GreetingLen)
	if err != nil {
		return buf[:n], err
	}

	for n > socks5.GreetingLen && n < len(buf) && httpheader.LooksLikeRequest(buf[:n]) && httpheader.End(buf[:n]) < 0 {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			f.log.Trace().Err(err).Int("bytes", n).Msg("http header accumulation stopped")
			break
		}
	}

	return buf[:n], nil
}

func (f *Factory) readError(ctx context.Context, err error, n int) error {
	var ne net.Error
	switch {
	case ctx.Err() != nil:
		return fmt.Errorf("%w: %w", ErrCancelled, ctx.Err())
	case n == 0 && (errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed)):
		return fmt.Errorf("%w: %w", ErrCancelled, err)
	case errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, io.EOF):
		return fmt.Errorf("%w: %w", ErrFailedToReadFromConnection, err)
	case errors.As(err, &ne) && ne.Timeout():
		return fmt.Errorf("%w: %w", ErrFailedToReadFromConnection, err)
	default:
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}
}

func (f *Factory) negotiateSOCKS5(ctx context.Context, conn net.Conn) (Session, error) {
	if err := socks5.WriteHandshakeComplete(conn); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrHandshakeFailed, err)
	}

	hdr := make([]byte, socks5.CommandLen)
	if n, err := io.ReadFull(conn, hdr); err != nil {
		return nil, f.readError(ctx, err, n)
	}

	cmd, err := socks5.ParseCommand(hdr)
	switch {
	case errors.Is(err, socks5.ErrVersion):
		return nil, fmt.Errorf("%w: %w", ErrUnsupportedSocksVersion, err)
	case err != nil:
		return nil, fmt.Errorf("%w: %w", ErrContaminatedRequest, err)
	}

	switch cmd {
	case socks5.CmdConnect:
		return newSOCKS5TCPSession(f.cfg, f.nextID.Add(1), conn), nil
	case socks5.CmdUDPAssociate:
		s, err := newSOCKS5UDPSession(f.cfg, f.nextID.Add(1), conn)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFailedToInitializeSession, err)
		}
		return s, nil
	case socks5.CmdBind:
		_ = socks5.WriteCommandNotSupportedReply(conn)
		return nil, ErrBindCommandNotSupported
	default:
		_ = socks5.WriteCommandNotSupportedReply(conn)
		return nil, fmt.Errorf("%w: %s", ErrInvalidSocksCommand, cmd)
	}
}

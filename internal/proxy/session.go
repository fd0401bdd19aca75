package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Kind identifies which protocol a session speaks.
type Kind int

const (
	KindSOCKS5TCP Kind = iota
	KindSOCKS5UDP
	KindHTTP
)

func (k Kind) String() string {
	switch k {
	case KindSOCKS5TCP:
		return "socks5-tcp"
	case KindSOCKS5UDP:
		return "socks5-udp"
	case KindHTTP:
		return "http"
	default:
		return "unknown"
	}
}

// State is a step of a session state machine. TCP and HTTP sessions go
// ReadingRequest, Connected, Ended. UDP sessions go ReadingRequest,
// OutUDPConnected, InUDPListenerReady, WaitingForInUDPConnection,
// Transmitting, Ended.
type State int

const (
	StateReadingRequest State = iota
	StateConnected
	StateOutUDPConnected
	StateInUDPListenerReady
	StateWaitingForInUDPConnection
	StateTransmitting
	StateEnded
)

func (s State) String() string {
	switch s {
	case StateReadingRequest:
		return "reading-request"
	case StateConnected:
		return "connected"
	case StateOutUDPConnected:
		return "out-udp-connected"
	case StateInUDPListenerReady:
		return "in-udp-listener-ready"
	case StateWaitingForInUDPConnection:
		return "waiting-for-in-udp-connection"
	case StateTransmitting:
		return "transmitting"
	case StateEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// Session is one classified client connection.
type Session interface {
	ID() uint64
	Kind() Kind
	State() State

	// Run drives the session until it ends. It returns nil when a peer
	// closed normally and the terminating cause otherwise.
	Run(ctx context.Context) error

	// Close ends the session. It is safe to call any number of times from
	// any goroutine; the end notification fires once.
	Close()
}

// baseSession holds what every session type shares: identity, the client
// connection, attached resources and the end notification.
type baseSession struct {
	id     uint64
	kind   Kind
	client net.Conn
	cfg    *Config
	log    zerolog.Logger
	self   Session

	mu       sync.Mutex
	state    State
	upstream net.Conn // nil until the outbound side is open
	closers  []io.Closer

	closeOnce sync.Once
}

func (b *baseSession) init(cfg *Config, id uint64, kind Kind, client net.Conn, self Session) {
	b.id = id
	b.kind = kind
	b.client = client
	b.cfg = cfg
	b.log = cfg.Logger.With().Str("component", kind.String()).Uint64("session", id).Logger()
	b.self = self
	b.state = StateReadingRequest
}

func (b *baseSession) ID() uint64 { return b.id }

func (b *baseSession) Kind() Kind { return b.kind }

func (b *baseSession) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// enter moves to state. It returns false if the session already ended or
// is already in state; the latter is logged as an anomaly.
func (b *baseSession) enter(state State) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateEnded {
		return false
	}
	if b.state == state {
		b.log.Error().Stringer("state", state).Msg("session re-entered state")
		return false
	}
	b.log.Trace().Stringer("from", b.state).Stringer("to", state).Msg("state")
	b.state = state
	return true
}

// attach ties c to the session lifetime. If the session already ended, c is
// closed immediately and attach returns false.
func (b *baseSession) attach(c io.Closer) bool {
	b.mu.Lock()
	if b.state != StateEnded {
		b.closers = append(b.closers, c)
		b.mu.Unlock()
		return true
	}
	b.mu.Unlock()

	_ = c.Close()
	return false
}

// Upstream returns the outbound connection, or nil before it is open.
func (b *baseSession) Upstream() net.Conn {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.upstream
}

// connect attaches up as the session's outbound side and enters state. If
// the session ended meanwhile, up is closed and connect returns false.
func (b *baseSession) connect(up net.Conn, state State) bool {
	if !b.attach(up) {
		return false
	}
	if !b.enter(state) {
		return false
	}
	b.mu.Lock()
	b.upstream = up
	b.mu.Unlock()
	return true
}

func (b *baseSession) Close() {
	b.closeOnce.Do(func() {
		b.mu.Lock()
		from := b.state
		b.state = StateEnded
		closers := b.closers
		b.closers = nil
		b.mu.Unlock()

		_ = b.client.Close()
		for _, c := range closers {
			_ = c.Close()
		}

		b.log.Debug().Stringer("from", from).Msg("session ended")

		if b.cfg.OnEnd != nil {
			b.cfg.OnEnd(b.self)
		}
	})
}

// watch closes the session when ctx is done. The returned func releases
// the watch.
func (b *baseSession) watch(ctx context.Context) func() bool {
	return context.AfterFunc(ctx, b.Close)
}

// quiet maps errors that only mean "the session was torn down" to nil.
func quiet(err error) error {
	if errors.Is(err, errStreamEnded) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}

// readDeadline bounds request reading by NegotiationTimeout. The returned
// func clears the deadline again.
func (b *baseSession) readDeadline() func() {
	if b.cfg.NegotiationTimeout <= 0 {
		return func() {}
	}
	_ = b.client.SetDeadline(time.Now().Add(b.cfg.NegotiationTimeout))
	return func() { _ = b.client.SetDeadline(time.Time{}) }
}

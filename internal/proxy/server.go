package proxy

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const maxAcceptBackoff = time.Second

// Server accepts client connections, classifies each through a Factory and
// runs the resulting session while tracking it in a Registry.
type Server struct {
	factory  *Factory
	registry *Registry
	log      zerolog.Logger
	wg       sync.WaitGroup
}

func NewServer(cfg Config) *Server {
	s := &Server{
		registry: NewRegistry(),
		log:      cfg.Logger.With().Str("component", "server").Logger(),
	}

	onEnd := cfg.OnEnd
	cfg.OnEnd = func(sess Session) {
		s.registry.Remove(sess.ID())
		if onEnd != nil {
			onEnd(sess)
		}
	}
	s.factory = NewFactory(cfg)

	return s
}

func (s *Server) Registry() *Registry {
	return s.registry
}

// Serve accepts connections on ln until ln is closed or ctx is done. It
// returns nil in both cases.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	stop := context.AfterFunc(ctx, func() { _ = ln.Close() })
	defer stop()

	s.log.Info().Stringer("addr", ln.Addr()).Msg("listening")

	var backoff time.Duration
	for {
		c, err := ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}

			if backoff == 0 {
				backoff = 5 * time.Millisecond
			} else {
				backoff = min(2*backoff, maxAcceptBackoff)
			}
			s.log.Error().Err(err).Dur("retry", backoff).Msg("accept failed")

			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return nil
			}
			continue
		}
		backoff = 0

		s.wg.Go(func() { s.handle(ctx, c) })
	}
}

func (s *Server) handle(ctx context.Context, c net.Conn) {
	sess, err := s.factory.NewSession(ctx, c)
	if err != nil {
		_ = c.Close()
		return
	}

	s.registry.Add(sess)
	if err := sess.Run(ctx); err != nil {
		s.log.Debug().Err(err).Uint64("session", sess.ID()).Stringer("kind", sess.Kind()).Msg("session failed")
	}
}

// Shutdown closes every live session and waits for their goroutines. Cancel
// the Serve context first so connections still negotiating give up too.
func (s *Server) Shutdown() {
	s.registry.CloseAll()
	s.wg.Wait()
}

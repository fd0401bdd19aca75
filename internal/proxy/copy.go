package proxy

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"
	"syscall"

	"github.com/juju/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"
)

// errStreamEnded ends a relay once one side reaches EOF.
var errStreamEnded = errors.New("proxy: stream ended")

// RelayOptions tunes Relay. The zero value relays without limits or
// accounting.
type RelayOptions struct {
	// RateLimit caps each direction in bytes per second.
	RateLimit int64

	// Upstream counts client-to-destination bytes, Downstream the reverse.
	Upstream   prometheus.Counter
	Downstream prometheus.Counter
}

// Relay copies client to upstream and upstream to client concurrently until
// either side ends or fails, then closes both. It returns nil when a side
// reached EOF or was closed, and the first other error otherwise.
func Relay(ctx context.Context, client, upstream net.Conn, o RelayOptions) error {
	g, gctx := errgroup.WithContext(ctx)

	var closeOnce sync.Once
	closeBoth := func() {
		closeOnce.Do(func() {
			_ = client.Close()
			_ = upstream.Close()
		})
	}
	defer closeBoth()

	g.Go(func() error {
		return pump(upstream, limitReader(client, o.RateLimit), o.Upstream)
	})

	g.Go(func() error {
		return pump(client, limitReader(upstream, o.RateLimit), o.Downstream)
	})

	// Either direction ending cancels gctx; closing both unblocks the other.
	g.Go(func() error {
		<-gctx.Done()
		closeBoth()
		return nil
	})

	return quiet(g.Wait())
}

// pump copies src to dst one chunk at a time. A read is issued only after
// the previous write completed. It never returns nil.
func pump(dst io.Writer, src io.Reader, counter prometheus.Counter) error {
	chunk := relayChunks.Get()
	defer relayChunks.Put(chunk)
	buf := *chunk

	for {
		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return werr
			}
			if counter != nil {
				counter.Add(float64(n))
			}
		}
		if err != nil {
			if errors.Is(err, syscall.ENODATA) {
				continue
			}
			if errors.Is(err, io.EOF) {
				return errStreamEnded
			}
			return err
		}
	}
}

func limitReader(r io.Reader, rate int64) io.Reader {
	if rate <= 0 {
		return r
	}
	return ratelimit.Reader(r, ratelimit.NewBucketWithRate(float64(rate), rate))
}

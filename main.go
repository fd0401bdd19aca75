package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/mixproxy/internal/config"
	"github.com/die-net/mixproxy/internal/dialer"
	"github.com/die-net/mixproxy/internal/logging"
	"github.com/die-net/mixproxy/internal/proxy"
	"github.com/die-net/mixproxy/internal/tcpopt"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newFlagSet() *pflag.FlagSet {
	fs := pflag.NewFlagSet("mixproxy", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.Uint16P("port", "p", config.DefaultPort, "Listen port")
	fs.BoolP("fast-open", "f", false, "Enable TCP Fast Open on the listener and outbound connections")
	fs.String("listen", "", "Listen host (empty listens on all interfaces)")
	fs.String("config", "", "Path to a YAML config file")
	fs.String("keep-alive", "off", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")
	fs.Bool("no-delay", true, "Disable Nagle's algorithm on client and outbound TCP connections")
	fs.Duration("connect-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
	fs.Duration("negotiation-timeout", 10*time.Second, "Timeout for protocol negotiation to set up connection")
	fs.String("upstream", "direct://", "Upstream for TCP: direct:// | socks5://host:port | http://[user:pass@]host:port | https://[user:pass@]host:port")
	fs.String("dns-server", "", "DNS server (host[:port]) for destination names; empty uses the system resolver")
	fs.String("rate-limit", "0", "Per-session, per-direction bandwidth cap in bytes/second (e.g. 512KB, 10MB); 0 is unlimited")
	fs.String("log-level", "info", "Log level: trace|debug|info|warning|error")
	fs.String("log-file", "", "Write JSON logs to this rotating file instead of stderr")
	fs.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof and /metrics (e.g. 127.0.0.1:6060). Empty disables.")

	return fs
}

// loadConfig builds the effective config: defaults, then ALL_PROXY, then
// the YAML file, then explicitly set flags. It also returns the arguments
// that were not understood.
func loadConfig(args []string) (config.Config, []string, error) {
	fs := newFlagSet()

	known, invalid := splitArgs(fs, args)
	if err := fs.Parse(known); err != nil {
		return config.Config{}, nil, err
	}
	invalid = append(invalid, fs.Args()...)

	cfg := config.Default()
	if p := defaultUpstream(); p != "" {
		cfg.Upstream = p
	}
	if path, _ := fs.GetString("config"); path != "" {
		if err := cfg.LoadFile(path); err != nil {
			return cfg, invalid, err
		}
	}

	if err := applyFlags(fs, &cfg); err != nil {
		return cfg, invalid, err
	}
	if err := cfg.Validate(); err != nil {
		return cfg, invalid, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, invalid, nil
}

func applyFlags(fs *pflag.FlagSet, cfg *config.Config) error {
	var err error
	set := func(name string, apply func()) {
		if err == nil && fs.Changed(name) {
			apply()
		}
	}

	set("port", func() { cfg.Port, err = fs.GetUint16("port") })
	set("fast-open", func() { cfg.TCP.FastOpen, err = fs.GetBool("fast-open") })
	set("listen", func() { cfg.Listen, err = fs.GetString("listen") })
	set("keep-alive", func() { cfg.TCP.KeepAlive, err = fs.GetString("keep-alive") })
	set("no-delay", func() { cfg.TCP.NoDelay, err = fs.GetBool("no-delay") })
	set("connect-timeout", func() {
		var d time.Duration
		d, err = fs.GetDuration("connect-timeout")
		cfg.TCP.ConnectTimeout = config.Duration(d)
	})
	set("negotiation-timeout", func() {
		var d time.Duration
		d, err = fs.GetDuration("negotiation-timeout")
		cfg.NegotiationTimeout = config.Duration(d)
	})
	set("upstream", func() { cfg.Upstream, err = fs.GetString("upstream") })
	set("dns-server", func() { cfg.DNS.Server, err = fs.GetString("dns-server") })
	set("rate-limit", func() {
		var s string
		var n int64
		if s, err = fs.GetString("rate-limit"); err == nil {
			n, err = config.ParseSize(s)
			cfg.RateLimit = config.Size(n)
		}
		if err != nil {
			err = fmt.Errorf("invalid --rate-limit: %w", err)
		}
	})
	set("log-level", func() { cfg.Log.Level, err = fs.GetString("log-level") })
	set("log-file", func() { cfg.Log.File, err = fs.GetString("log-file") })
	set("debug-listen", func() { cfg.DebugListen, err = fs.GetString("debug-listen") })

	return err
}

// splitArgs separates arguments naming flags fs does not define, so they can
// be reported and ignored instead of failing the parse.
func splitArgs(fs *pflag.FlagSet, args []string) (known, invalid []string) {
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch {
		case arg == "--":
			known = append(known, args[i:]...)
			return known, invalid
		case arg == "-h" || arg == "--help":
			known = append(known, arg)
		case strings.HasPrefix(arg, "--"):
			name, _, hasValue := strings.Cut(arg[2:], "=")
			f := fs.Lookup(name)
			if f == nil {
				invalid = append(invalid, arg)
				continue
			}
			known = append(known, arg)
			if !hasValue && f.NoOptDefVal == "" && i+1 < len(args) {
				i++
				known = append(known, args[i])
			}
		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			var last *pflag.Flag
			ok := true
			for j, c := range arg[1:] {
				last = fs.ShorthandLookup(string(c))
				if last == nil {
					ok = false
					break
				}
				if last.NoOptDefVal == "" {
					// The rest of the argument is this flag's value.
					if j+2 < len(arg) {
						last = nil
					}
					break
				}
			}
			if !ok {
				invalid = append(invalid, arg)
				continue
			}
			known = append(known, arg)
			if last != nil && last.NoOptDefVal == "" && i+1 < len(args) {
				i++
				known = append(known, args[i])
			}
		default:
			known = append(known, arg)
		}
	}
	return known, invalid
}

func run(args []string) error {
	cfg, invalid, err := loadConfig(args)
	if errors.Is(err, pflag.ErrHelp) {
		return nil
	}
	if err != nil {
		return err
	}

	logger, logw, err := logging.New(logging.Options{
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
		Compress:   cfg.Log.Compress,
	})
	if err != nil {
		return err
	}
	defer logw.Close()

	for _, arg := range invalid {
		logger.Warn().Str("arg", arg).Msg("invalid argument")
	}

	pcfg, err := proxyConfig(cfg, logger)
	if err != nil {
		return err
	}

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.DebugListen != "" {
		if err := serveDebug(ctx, g, cfg.DebugListen, pcfg.KeepAlive); err != nil {
			return err
		}
		logger.Info().Str("addr", cfg.DebugListen).Msg("debug listening")
	}

	ln, err := proxy.ListenTCP(ctx, "tcp", cfg.ListenAddr(), pcfg)
	if err != nil {
		return err
	}

	srv := proxy.NewServer(pcfg)
	g.Go(func() error {
		return srv.Serve(ctx, ln)
	})

	err = g.Wait()
	if errors.Is(err, http.ErrServerClosed) {
		err = nil
	}

	logger.Info().Msg("shutting down")
	srv.Shutdown()
	return err
}

func proxyConfig(cfg config.Config, logger zerolog.Logger) (proxy.Config, error) {
	ka, err := config.ParseKeepAlive(cfg.TCP.KeepAlive)
	if err != nil {
		return proxy.Config{}, fmt.Errorf("invalid keep-alive: %w", err)
	}

	tcp := tcpopt.Options{
		FastOpen:    cfg.TCP.FastOpen,
		UserTimeout: cfg.TCP.PersistTimeout.Duration(),
	}
	if tcp.FastOpen && !tcpopt.IsSupported {
		logger.Warn().Msg("tcp fast open is not supported on this platform")
	}

	dialCfg := dialer.Config{
		DialTimeout:        cfg.TCP.ConnectTimeout.Duration(),
		NegotiationTimeout: cfg.NegotiationTimeout.Duration(),
		KeepAlive:          ka,
		NoDelay:            cfg.TCP.NoDelay,
		TCP:                tcp,
	}
	if cfg.DNS.Server != "" {
		dialCfg.Resolver = dialer.NewDNSResolver(cfg.DNS.Server, dialCfg.DialTimeout, cfg.DNS.CacheTTLCap.Duration())
	}

	d, err := dialer.New(dialCfg, cfg.Upstream)
	if err != nil {
		return proxy.Config{}, fmt.Errorf("invalid --upstream: %w", err)
	}

	return proxy.Config{
		NegotiationTimeout: cfg.NegotiationTimeout.Duration(),
		KeepAlive:          ka,
		NoDelay:            cfg.TCP.NoDelay,
		TCP:                tcp,
		Dialer:             d,
		UDPDialer:          dialer.NewDirectDialer(dialCfg),
		RateLimit:          int64(cfg.RateLimit),
		Logger:             logger,
	}, nil
}

func serveDebug(ctx context.Context, g *errgroup.Group, addr string, ka net.KeepAliveConfig) error {
	http.Handle("/metrics", promhttp.Handler())

	debugSrv := &http.Server{Handler: http.DefaultServeMux} //nolint:gosec // Not concerned about timeouts on debug port.
	lc := net.ListenConfig{KeepAliveConfig: ka}
	debugLn, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("debug listen: %w", err)
	}
	context.AfterFunc(ctx, func() {
		_ = debugSrv.Close()
		_ = debugLn.Close()
	})

	g.Go(func() error {
		if err := debugSrv.Serve(debugLn); err != nil {
			return fmt.Errorf("debug serve: %w", err)
		}
		return nil
	})
	return nil
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return ""
}

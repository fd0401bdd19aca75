package dialer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/netip"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/patrickmn/go-cache"
)

// Resolver resolves a host name to IP addresses.
type Resolver interface {
	LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error)
}

var ErrNoAddresses = errors.New("dns: no addresses")

// DNSResolver queries one DNS server directly for A and AAAA records and
// caches the answers for their TTL, capped at maxTTL.
type DNSResolver struct {
	server string
	udp    *dns.Client
	tcp    *dns.Client
	maxTTL time.Duration
	cache  *cache.Cache
}

// NewDNSResolver returns a resolver for server ("host" or "host:port",
// default port 53).
func NewDNSResolver(server string, timeout, maxTTL time.Duration) *DNSResolver {
	if _, _, err := net.SplitHostPort(server); err != nil {
		server = net.JoinHostPort(server, "53")
	}
	if maxTTL <= 0 {
		maxTTL = 5 * time.Minute
	}
	return &DNSResolver{
		server: server,
		udp:    &dns.Client{Net: "udp", Timeout: timeout},
		tcp:    &dns.Client{Net: "tcp", Timeout: timeout},
		maxTTL: maxTTL,
		cache:  cache.New(maxTTL, 2*maxTTL),
	}
}

func (r *DNSResolver) LookupNetIP(ctx context.Context, host string) ([]netip.Addr, error) {
	if ip, err := netip.ParseAddr(host); err == nil {
		return []netip.Addr{ip}, nil
	}

	name := dns.Fqdn(strings.ToLower(host))
	if v, ok := r.cache.Get(name); ok {
		return v.([]netip.Addr), nil
	}

	v4, ttl4, err4 := r.query(ctx, name, dns.TypeA)
	v6, ttl6, err6 := r.query(ctx, name, dns.TypeAAAA)

	ips := append(v4, v6...)
	if len(ips) == 0 {
		if err := errors.Join(err4, err6); err != nil {
			return nil, fmt.Errorf("resolve %s: %w", host, err)
		}
		return nil, fmt.Errorf("resolve %s: %w", host, ErrNoAddresses)
	}

	ttl := r.maxTTL
	for _, t := range []time.Duration{ttl4, ttl6} {
		if t > 0 && t < ttl {
			ttl = t
		}
	}
	r.cache.Set(name, ips, ttl)

	return ips, nil
}

func (r *DNSResolver) query(ctx context.Context, name string, qtype uint16) ([]netip.Addr, time.Duration, error) {
	m := new(dns.Msg)
	m.SetQuestion(name, qtype)
	m.RecursionDesired = true

	resp, _, err := r.udp.ExchangeContext(ctx, m, r.server)
	if err == nil && resp.Truncated {
		resp, _, err = r.tcp.ExchangeContext(ctx, m, r.server)
	}
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", dns.TypeToString[qtype], name, err)
	}
	if resp.Rcode != dns.RcodeSuccess {
		return nil, 0, fmt.Errorf("%s %s: %s", dns.TypeToString[qtype], name, dns.RcodeToString[resp.Rcode])
	}

	var (
		ips []netip.Addr
		ttl time.Duration
	)
	for _, rr := range resp.Answer {
		var ip net.IP
		switch v := rr.(type) {
		case *dns.A:
			ip = v.A
		case *dns.AAAA:
			ip = v.AAAA
		default:
			continue
		}
		addr, ok := netip.AddrFromSlice(ip)
		if !ok {
			continue
		}
		ips = append(ips, addr.Unmap())
		if t := time.Duration(rr.Header().Ttl) * time.Second; ttl == 0 || t < ttl {
			ttl = t
		}
	}
	return ips, ttl, nil
}

package dialer

import (
	"bufio"
	"context"
	"crypto/tls"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
)

// HTTPProxyDialer tunnels outbound TCP connections through an HTTP or HTTPS
// proxy with CONNECT.
type HTTPProxyDialer struct {
	cfg    Config
	addr   string
	tls    *tls.Config // nil for plain http
	header http.Header
	direct *DirectDialer
}

// NewHTTPProxyDialer builds a CONNECT dialer for proxyURL. A non-empty
// username adds Basic Proxy-Authorization to every request.
func NewHTTPProxyDialer(cfg Config, proxyURL *url.URL, username, password string) (*HTTPProxyDialer, error) {
	if proxyURL == nil || proxyURL.Hostname() == "" {
		return nil, errors.New("http proxy dialer: missing proxy host")
	}

	d := &HTTPProxyDialer{
		cfg:    cfg,
		addr:   proxyURL.Host,
		header: make(http.Header),
		direct: NewDirectDialer(cfg),
	}
	switch strings.ToLower(proxyURL.Scheme) {
	case "http":
	case "https":
		d.tls = &tls.Config{MinVersion: tls.VersionTLS12, ServerName: proxyURL.Hostname()}
	default:
		return nil, fmt.Errorf("http proxy dialer: unsupported scheme %q", proxyURL.Scheme)
	}
	if username != "" {
		d.header.Set("Proxy-Authorization", "Basic "+base64.StdEncoding.EncodeToString([]byte(username+":"+password)))
	}
	return d, nil
}

// ProxyAddr returns the proxy host:port.
func (f *HTTPProxyDialer) ProxyAddr() string {
	return f.addr
}

// DialContext returns a connection tunnelled to address once the proxy has
// answered CONNECT with a 2xx status. TLS to an https proxy and the CONNECT
// exchange share one negotiation deadline.
func (f *HTTPProxyDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if !strings.HasPrefix(network, "tcp") {
		return nil, fmt.Errorf("http proxy dial %s %s: unsupported network", network, address)
	}

	c, err := f.direct.DialContext(ctx, network, f.addr)
	if err != nil {
		return nil, fmt.Errorf("http proxy: %w", err)
	}
	if f.tls != nil {
		c = tls.Client(c, f.tls)
	}

	err = negotiate(ctx, c, f.cfg.NegotiationTimeout, func() error {
		return f.connect(c, address)
	})
	if err != nil {
		return nil, fmt.Errorf("http proxy dial %s %s: %w", network, address, err)
	}
	return c, nil
}

func (f *HTTPProxyDialer) connect(c net.Conn, address string) error {
	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: address},
		Host:   address,
		Header: f.header.Clone(),
	}
	if err := req.Write(c); err != nil {
		return fmt.Errorf("write connect: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(c), req)
	if err != nil {
		return fmt.Errorf("read connect response: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("connect rejected: %s", resp.Status)
	}
	return nil
}

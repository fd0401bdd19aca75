// Package httpheader parses the request line and header block of an HTTP
// proxy request as received on the wire.
//
// The parser keeps the raw bytes, the original header order and the
// original key spelling, because a plain-proxy request is forwarded upstream
// verbatim.
package httpheader

import (
	"bytes"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"unicode/utf8"
)

const defaultPort = 80

var (
	ErrIncomplete      = errors.New("httpheader: header block not terminated")
	ErrInvalidEncoding = errors.New("httpheader: header is not valid UTF-8")
	ErrInvalidRequest  = errors.New("httpheader: invalid request line")
	ErrMalformedHeader = errors.New("httpheader: malformed header field")
	ErrMissingHost     = errors.New("httpheader: invalid or missing Host")
)

var terminator = []byte("\r\n\r\n")

var methods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodConnect,
	http.MethodOptions,
	http.MethodTrace,
}

// Field is one header line.
type Field struct {
	Key   string
	Value string
}

// Header is a parsed request head. It is not modified after Parse returns.
type Header struct {
	Method    string
	IsConnect bool
	// Target is the request-target for non-CONNECT requests; empty for
	// CONNECT, whose target is carried in Host and Port.
	Target  string
	Version string
	Host    string
	Port    uint16
	Fields  []Field
	// Raw is every byte that was parsed, including any bytes past the
	// header block.
	Raw []byte
}

// Get returns the first value for key, compared case-insensitively.
func (h *Header) Get(key string) (string, bool) {
	for _, f := range h.Fields {
		if strings.EqualFold(f.Key, key) {
			return f.Value, true
		}
	}
	return "", false
}

// Address returns the upstream target in host:port form.
func (h *Header) Address() string {
	return net.JoinHostPort(h.Host, strconv.Itoa(int(h.Port)))
}

// End returns the offset just past the blank line ending the header block
// in b, or -1.
func End(b []byte) int {
	i := bytes.Index(b, terminator)
	if i < 0 {
		return -1
	}
	return i + len(terminator)
}

// LooksLikeRequest reports whether b starts with a known method token
// followed by a space. Partial reads shorter than that are not requests.
func LooksLikeRequest(b []byte) bool {
	for _, m := range methods {
		if len(b) > len(m) && string(b[:len(m)]) == m && b[len(m)] == ' ' {
			return true
		}
	}
	return false
}

// Parse parses data as a request line plus headers terminated by CRLFCRLF.
func Parse(data []byte) (*Header, error) {
	end := End(data)
	if end < 0 {
		return nil, ErrIncomplete
	}
	head := data[:end-len(terminator)]
	if !utf8.Valid(head) {
		return nil, ErrInvalidEncoding
	}

	lines := strings.Split(string(head), "\r\n")

	// <Method> <Request-Target> <HTTP-Version>
	parts := strings.Split(lines[0], " ")
	if len(parts) != 3 || parts[0] == "" || parts[1] == "" || !strings.HasPrefix(parts[2], "HTTP/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidRequest, lines[0])
	}

	h := &Header{
		Method:    parts[0],
		IsConnect: strings.EqualFold(parts[0], http.MethodConnect),
		Version:   parts[2],
		Raw:       data,
	}

	for _, line := range lines[1:] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		h.Fields = append(h.Fields, Field{
			Key:   strings.TrimSpace(key),
			Value: strings.TrimSpace(value),
		})
	}

	if h.IsConnect {
		// CONNECT requires both host and port in the request-target.
		host, port, err := splitHostPort(parts[1], false)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidRequest, err)
		}
		h.Host, h.Port = host, port
		return h, nil
	}

	h.Target = parts[1]
	hostHeader, ok := h.Get("Host")
	if !ok || hostHeader == "" {
		return nil, ErrMissingHost
	}
	host, port, err := splitHostPort(hostHeader, true)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMissingHost, err)
	}
	h.Host, h.Port = host, port
	return h, nil
}

func splitHostPort(s string, portOptional bool) (string, uint16, error) {
	if portOptional && !hasPort(s) {
		host := strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
		if host == "" {
			return "", 0, fmt.Errorf("empty host in %q", s)
		}
		return host, defaultPort, nil
	}

	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return "", 0, err
	}
	if host == "" {
		return "", 0, fmt.Errorf("empty host in %q", s)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return "", 0, fmt.Errorf("invalid port %q", portStr)
	}
	return host, uint16(port), nil
}

// hasPort reports whether s carries a :port suffix, allowing for bracketed
// IPv6 literals.
func hasPort(s string) bool {
	if strings.HasPrefix(s, "[") {
		return strings.Contains(s, "]:")
	}
	return strings.Contains(s, ":")
}

package socks5

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strconv"

	txsocks5 "github.com/txthinking/socks5"
)

// AddrType is the SOCKS5 ATYP byte.
type AddrType byte

const (
	AddrIPv4   AddrType = AddrType(txsocks5.ATYPIPv4)
	AddrDomain AddrType = AddrType(txsocks5.ATYPDomain)
	AddrIPv6   AddrType = AddrType(txsocks5.ATYPIPv6)
)

func (t AddrType) String() string {
	switch t {
	case AddrIPv4:
		return "ipv4"
	case AddrDomain:
		return "domain"
	case AddrIPv6:
		return "ipv6"
	default:
		return "atyp(" + strconv.Itoa(int(t)) + ")"
	}
}

const maxDomainLen = 255

var (
	ErrInvalidAddressType = errors.New("socks5: invalid address type")
	ErrTruncatedAddress   = errors.New("socks5: truncated address")
	ErrInvalidPort        = errors.New("socks5: invalid port")
	ErrInvalidDomain      = errors.New("socks5: invalid domain name")
)

// Addr is a decoded SOCKS5 address: ATYP, DST.ADDR and DST.PORT.
//
// For AddrIPv4 and AddrIPv6 the IP field is set and Name is empty; for
// AddrDomain Name is set and IP is the zero netip.Addr. Addr is comparable.
type Addr struct {
	Type AddrType
	IP   netip.Addr
	Name string
	Port uint16
}

// IPv4Addr returns an AddrIPv4 address. ip must be 4 bytes or IPv4-mapped.
func IPv4Addr(ip netip.Addr, port uint16) Addr {
	return Addr{Type: AddrIPv4, IP: ip.Unmap(), Port: port}
}

// IPv6Addr returns an AddrIPv6 address in its 16-byte form.
func IPv6Addr(ip netip.Addr, port uint16) Addr {
	return Addr{Type: AddrIPv6, IP: netip.AddrFrom16(ip.As16()), Port: port}
}

// DomainAddr returns an AddrDomain address.
func DomainAddr(name string, port uint16) Addr {
	return Addr{Type: AddrDomain, Name: name, Port: port}
}

// AddrFromIPPort picks AddrIPv4 or AddrIPv6 to match ip's family.
func AddrFromIPPort(ap netip.AddrPort) Addr {
	ip := ap.Addr().Unmap()
	if ip.Is4() {
		return IPv4Addr(ip, ap.Port())
	}
	return IPv6Addr(ip, ap.Port())
}

// AddrFromNetAddr converts a *net.TCPAddr or *net.UDPAddr.
func AddrFromNetAddr(a net.Addr) (Addr, error) {
	switch v := a.(type) {
	case *net.TCPAddr:
		return AddrFromIPPort(v.AddrPort()), nil
	case *net.UDPAddr:
		return AddrFromIPPort(v.AddrPort()), nil
	default:
		if a == nil {
			return Addr{}, fmt.Errorf("socks5: nil address")
		}
		return ParseHostPort(a.String())
	}
}

// ParseHostPort converts "host:port" into an Addr, using the IP form when
// host is a literal.
func ParseHostPort(hostport string) (Addr, error) {
	host, portStr, err := net.SplitHostPort(hostport)
	if err != nil {
		return Addr{}, fmt.Errorf("socks5: %w", err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Addr{}, fmt.Errorf("%w: %q", ErrInvalidPort, portStr)
	}
	if ip, err := netip.ParseAddr(host); err == nil {
		return AddrFromIPPort(netip.AddrPortFrom(ip, uint16(port))), nil
	}
	if host == "" || len(host) > maxDomainLen {
		return Addr{}, fmt.Errorf("%w: %q", ErrInvalidDomain, host)
	}
	return DomainAddr(host, uint16(port)), nil
}

// Host returns the textual host without the port.
func (a Addr) Host() string {
	if a.Type == AddrDomain {
		return a.Name
	}
	return a.IP.String()
}

// String returns the address in host:port form, suitable for dialing.
func (a Addr) String() string {
	return net.JoinHostPort(a.Host(), strconv.Itoa(int(a.Port)))
}

// Len returns the encoded size of a, including the ATYP byte.
func (a Addr) Len() int {
	switch a.Type {
	case AddrIPv4:
		return 1 + net.IPv4len + 2
	case AddrIPv6:
		return 1 + net.IPv6len + 2
	case AddrDomain:
		return 1 + 1 + len(a.Name) + 2
	default:
		return 0
	}
}

// Validate reports whether the address type matches the shape of the value.
func (a Addr) Validate() error {
	switch a.Type {
	case AddrIPv4:
		if !a.IP.Is4() {
			return fmt.Errorf("%w: %s is not an IPv4 address", ErrInvalidAddressType, a.IP)
		}
	case AddrIPv6:
		if !a.IP.Is6() {
			return fmt.Errorf("%w: %s is not an IPv6 address", ErrInvalidAddressType, a.IP)
		}
	case AddrDomain:
		if len(a.Name) == 0 || len(a.Name) > maxDomainLen {
			return fmt.Errorf("%w: length %d", ErrInvalidDomain, len(a.Name))
		}
	default:
		return fmt.Errorf("%w: %d", ErrInvalidAddressType, byte(a.Type))
	}
	return nil
}

// AppendBinary appends the wire encoding of a to b.
func (a Addr) AppendBinary(b []byte) ([]byte, error) {
	if err := a.Validate(); err != nil {
		return b, err
	}
	b = append(b, byte(a.Type))
	switch a.Type {
	case AddrIPv4:
		ip := a.IP.As4()
		b = append(b, ip[:]...)
	case AddrIPv6:
		ip := a.IP.As16()
		b = append(b, ip[:]...)
	case AddrDomain:
		b = append(b, byte(len(a.Name)))
		b = append(b, a.Name...)
	}
	return binary.BigEndian.AppendUint16(b, a.Port), nil
}

// MarshalBinary returns ATYP | ADDR | PORT.
func (a Addr) MarshalBinary() ([]byte, error) {
	return a.AppendBinary(make([]byte, 0, a.Len()))
}

// ParseAddr decodes an address that starts at b[0] (the ATYP byte). It
// returns the address and the number of bytes consumed; trailing bytes are
// left to the caller.
func ParseAddr(b []byte) (Addr, int, error) {
	if len(b) < 1 {
		return Addr{}, 0, ErrTruncatedAddress
	}

	var (
		a Addr
		n int
	)
	a.Type = AddrType(b[0])
	switch a.Type {
	case AddrIPv4:
		n = 1 + net.IPv4len
		if len(b) < n+2 {
			return Addr{}, 0, ErrTruncatedAddress
		}
		a.IP = netip.AddrFrom4([4]byte(b[1:n]))
	case AddrIPv6:
		n = 1 + net.IPv6len
		if len(b) < n+2 {
			return Addr{}, 0, ErrTruncatedAddress
		}
		a.IP = netip.AddrFrom16([16]byte(b[1:n]))
	case AddrDomain:
		if len(b) < 2 {
			return Addr{}, 0, ErrTruncatedAddress
		}
		l := int(b[1])
		if l == 0 {
			return Addr{}, 0, ErrInvalidDomain
		}
		n = 2 + l
		if len(b) < n+2 {
			return Addr{}, 0, ErrTruncatedAddress
		}
		a.Name = string(b[2:n])
	default:
		return Addr{}, 0, fmt.Errorf("%w: %d", ErrInvalidAddressType, b[0])
	}

	a.Port = binary.BigEndian.Uint16(b[n : n+2])
	return a, n + 2, nil
}

// ReadAddr reads exactly one encoded address from r.
func ReadAddr(r io.Reader) (Addr, error) {
	// Largest encoding: ATYP + LEN + 255 + PORT.
	var buf [1 + 1 + maxDomainLen + 2]byte

	if _, err := io.ReadFull(r, buf[:2]); err != nil {
		return Addr{}, readErr(err)
	}

	var need int
	switch AddrType(buf[0]) {
	case AddrIPv4:
		need = 1 + net.IPv4len + 2
	case AddrIPv6:
		need = 1 + net.IPv6len + 2
	case AddrDomain:
		need = 2 + int(buf[1]) + 2
	default:
		return Addr{}, fmt.Errorf("%w: %d", ErrInvalidAddressType, buf[0])
	}

	if _, err := io.ReadFull(r, buf[2:need]); err != nil {
		return Addr{}, readErr(err)
	}

	a, _, err := ParseAddr(buf[:need])
	return a, err
}

func readErr(err error) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrTruncatedAddress, err)
	}
	return err
}

package socks5

import (
	"errors"
	"fmt"
)

// MaxDatagramSize bounds a single UDP read.
const MaxDatagramSize = 65535

// udpHeaderPrefix is RSV(2) + FRAG(1); fragmentation is never supported so
// all three bytes must be zero.
const udpHeaderPrefix = 3

var (
	ErrShortDatagram = errors.New("socks5: short datagram")
	ErrFragmented    = errors.New("socks5: fragmented or reserved bits set")
)

// Datagram is one SOCKS5 UDP request:
//
//	+----+------+------+----------+----------+----------+
//	|RSV | FRAG | ATYP | DST.ADDR | DST.PORT |   DATA   |
//	+----+------+------+----------+----------+----------+
//	| 2  |  1   |  1   | Variable |    2     | Variable |
//	+----+------+------+----------+----------+----------+
type Datagram struct {
	Addr    Addr
	Payload []byte
}

// ParseDatagram decodes b. The returned Payload aliases b.
func ParseDatagram(b []byte) (Datagram, error) {
	if len(b) < udpHeaderPrefix+1 {
		return Datagram{}, ErrShortDatagram
	}
	if b[0] != 0 || b[1] != 0 || b[2] != 0 {
		return Datagram{}, ErrFragmented
	}

	addr, n, err := ParseAddr(b[udpHeaderPrefix:])
	if err != nil {
		return Datagram{}, fmt.Errorf("datagram address: %w", err)
	}

	return Datagram{Addr: addr, Payload: b[udpHeaderPrefix+n:]}, nil
}

// AppendBinary appends the encoded datagram to b.
func (d Datagram) AppendBinary(b []byte) ([]byte, error) {
	b = append(b, 0x00, 0x00, 0x00)
	b, err := d.Addr.AppendBinary(b)
	if err != nil {
		return b, err
	}
	return append(b, d.Payload...), nil
}

// MarshalBinary returns the prefix, the encoded address and the payload.
func (d Datagram) MarshalBinary() ([]byte, error) {
	return d.AppendBinary(make([]byte, 0, udpHeaderPrefix+d.Addr.Len()+len(d.Payload)))
}

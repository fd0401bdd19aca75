package socks5

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"net/netip"
	"strings"
	"testing"

	txsocks5 "github.com/txthinking/socks5"
	"golang.org/x/sync/errgroup"
)

func TestAddrRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		addr Addr
	}{
		{name: "ipv4", addr: IPv4Addr(netip.MustParseAddr("127.0.0.1"), 80)},
		{name: "ipv4 port zero", addr: IPv4Addr(netip.MustParseAddr("10.1.2.3"), 0)},
		{name: "ipv4 max port", addr: IPv4Addr(netip.MustParseAddr("8.8.8.8"), 65535)},
		{name: "ipv6", addr: IPv6Addr(netip.MustParseAddr("2001:db8::1"), 443)},
		{name: "ipv6 mapped", addr: IPv6Addr(netip.MustParseAddr("::ffff:1.2.3.4"), 53)},
		{name: "domain", addr: DomainAddr("example.com", 8080)},
		{name: "domain single byte", addr: DomainAddr("a", 1)},
		{name: "domain max length", addr: DomainAddr(strings.Repeat("x", 255), 65535)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := tt.addr.MarshalBinary()
			if err != nil {
				t.Fatal(err)
			}
			if len(b) != tt.addr.Len() {
				t.Fatalf("encoded %d bytes, Len()=%d", len(b), tt.addr.Len())
			}

			got, n, err := ParseAddr(b)
			if err != nil {
				t.Fatal(err)
			}
			if n != len(b) {
				t.Fatalf("consumed %d of %d bytes", n, len(b))
			}
			if got != tt.addr {
				t.Fatalf("got %+v want %+v", got, tt.addr)
			}

			got, err = ReadAddr(bytes.NewReader(append(b, 0xaa, 0xbb)))
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.addr {
				t.Fatalf("ReadAddr got %+v want %+v", got, tt.addr)
			}
		})
	}
}

func TestParseAddrWire(t *testing.T) {
	got, n, err := ParseAddr([]byte{0x01, 0x7f, 0x00, 0x00, 0x01, 0x00, 0x50})
	if err != nil {
		t.Fatal(err)
	}
	if n != 7 {
		t.Fatalf("consumed %d want 7", n)
	}
	if got.String() != "127.0.0.1:80" {
		t.Fatalf("got %s", got)
	}

	got, _, err = ParseAddr([]byte{0x03, 0x03, 'f', 'o', 'o', 0x01, 0xbb})
	if err != nil {
		t.Fatal(err)
	}
	if got.String() != "foo:443" {
		t.Fatalf("got %s", got)
	}
}

func TestParseAddrErrors(t *testing.T) {
	tests := []struct {
		name string
		in   []byte
		want error
	}{
		{name: "empty", in: nil, want: ErrTruncatedAddress},
		{name: "bad atyp", in: []byte{0x02, 1, 2, 3, 4, 0, 80}, want: ErrInvalidAddressType},
		{name: "short ipv4", in: []byte{0x01, 1, 2, 3, 4, 0}, want: ErrTruncatedAddress},
		{name: "short ipv6", in: append([]byte{0x04}, make([]byte, 17)...), want: ErrTruncatedAddress},
		{name: "domain missing length", in: []byte{0x03}, want: ErrTruncatedAddress},
		{name: "domain short", in: []byte{0x03, 0x05, 'a', 'b', 0, 80}, want: ErrTruncatedAddress},
		{name: "domain empty", in: []byte{0x03, 0x00, 0, 80}, want: ErrInvalidDomain},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := ParseAddr(tt.in)
			if !errors.Is(err, tt.want) {
				t.Fatalf("got %v want %v", err, tt.want)
			}
		})
	}
}

func TestReadAddrTruncated(t *testing.T) {
	_, err := ReadAddr(bytes.NewReader([]byte{0x01, 127, 0}))
	if !errors.Is(err, ErrTruncatedAddress) {
		t.Fatalf("got %v", err)
	}
}

func TestAddrValidate(t *testing.T) {
	bad := []Addr{
		{Type: AddrIPv4, IP: netip.MustParseAddr("2001:db8::1")},
		{Type: AddrIPv6},
		{Type: AddrDomain},
		{Type: AddrDomain, Name: strings.Repeat("x", 256)},
		{Type: 0x09},
	}
	for _, a := range bad {
		if _, err := a.MarshalBinary(); err == nil {
			t.Errorf("expected error encoding %+v", a)
		}
	}
}

func TestParseHostPort(t *testing.T) {
	tests := []struct {
		in      string
		want    Addr
		wantErr error
	}{
		{in: "1.2.3.4:80", want: IPv4Addr(netip.MustParseAddr("1.2.3.4"), 80)},
		{in: "[::1]:53", want: IPv6Addr(netip.MustParseAddr("::1"), 53)},
		{in: "example.com:443", want: DomainAddr("example.com", 443)},
		{in: "example.com:70000", wantErr: ErrInvalidPort},
		{in: ":80", wantErr: ErrInvalidDomain},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseHostPort(tt.in)
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("got %v want %v", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Fatalf("got %+v want %+v", got, tt.want)
			}
		})
	}
}

func TestDatagramRoundTrip(t *testing.T) {
	addrs := []Addr{
		IPv4Addr(netip.MustParseAddr("8.8.8.8"), 53),
		IPv6Addr(netip.MustParseAddr("2001:db8::53"), 53),
		DomainAddr("dns.example", 5353),
	}
	payloads := [][]byte{nil, {0xde, 0xad, 0xbe, 0xef}, bytes.Repeat([]byte{0x5a}, 1400)}

	for _, a := range addrs {
		for _, p := range payloads {
			t.Run(fmt.Sprintf("%s/%d", a, len(p)), func(t *testing.T) {
				b, err := Datagram{Addr: a, Payload: p}.MarshalBinary()
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(b[:3], []byte{0, 0, 0}) {
					t.Fatalf("prefix %x", b[:3])
				}
				d, err := ParseDatagram(b)
				if err != nil {
					t.Fatal(err)
				}
				if d.Addr != a {
					t.Fatalf("addr got %+v want %+v", d.Addr, a)
				}
				if !bytes.Equal(d.Payload, p) {
					t.Fatalf("payload got %x want %x", d.Payload, p)
				}
			})
		}
	}
}

func TestParseDatagramRejectsFragments(t *testing.T) {
	good, err := Datagram{Addr: IPv4Addr(netip.MustParseAddr("8.8.8.8"), 53), Payload: []byte{0xde, 0xad}}.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		for _, v := range []byte{0x01, 0x80, 0xff} {
			b := bytes.Clone(good)
			b[i] = v
			if _, err := ParseDatagram(b); !errors.Is(err, ErrFragmented) {
				t.Fatalf("byte %d=%#x: got %v", i, v, err)
			}
		}
	}
}

func TestParseDatagramWire(t *testing.T) {
	d, err := ParseDatagram([]byte{0, 0, 0, 0x01, 8, 8, 8, 8, 0x00, 0x35, 0xde, 0xad, 0xbe, 0xef})
	if err != nil {
		t.Fatal(err)
	}
	if d.Addr.String() != "8.8.8.8:53" {
		t.Fatalf("addr %s", d.Addr)
	}
	if !bytes.Equal(d.Payload, []byte{0xde, 0xad, 0xbe, 0xef}) {
		t.Fatalf("payload %x", d.Payload)
	}

	if _, err := ParseDatagram([]byte{0, 0, 0}); !errors.Is(err, ErrShortDatagram) {
		t.Fatalf("got %v", err)
	}
	if _, err := ParseDatagram([]byte{0, 0, 0, 0x01, 8, 8}); !errors.Is(err, ErrTruncatedAddress) {
		t.Fatalf("got %v", err)
	}
}

func TestParseGreeting(t *testing.T) {
	tests := []struct {
		in   []byte
		want error
	}{
		{in: []byte{0x05, 0x01, 0x00}},
		{in: []byte{0x04, 0x01, 0x00}, want: ErrVersion},
		{in: []byte{0x05, 0x02, 0x00}, want: ErrAuthMethod},
		{in: []byte{0x05, 0x01, 0x02}, want: ErrAuthMethod},
	}
	for _, tt := range tests {
		err := ParseGreeting(tt.in)
		if tt.want == nil && err != nil {
			t.Errorf("%x: unexpected %v", tt.in, err)
		}
		if tt.want != nil && !errors.Is(err, tt.want) {
			t.Errorf("%x: got %v want %v", tt.in, err, tt.want)
		}
	}
}

func TestParseCommand(t *testing.T) {
	cmd, err := ParseCommand([]byte{0x05, 0x03, 0x00})
	if err != nil {
		t.Fatal(err)
	}
	if cmd != CmdUDPAssociate {
		t.Fatalf("got %s", cmd)
	}

	cmd, err = ParseCommand([]byte{0x05, 0x09, 0x00})
	if err != nil || cmd != Command(0x09) {
		t.Fatalf("got %s, %v", cmd, err)
	}
	if _, err := ParseCommand([]byte{0x04, 0x01, 0x00}); !errors.Is(err, ErrVersion) {
		t.Fatalf("got %v", err)
	}
	if _, err := ParseCommand([]byte{0x05, 0x01, 0x01}); !errors.Is(err, ErrReserved) {
		t.Fatalf("got %v", err)
	}
}

func TestReplyFrames(t *testing.T) {
	tests := []struct {
		name  string
		write func(io.Writer) error
		want  []byte
	}{
		{name: "handshake", write: WriteHandshakeComplete, want: []byte{0x05, 0x00}},
		{name: "no acceptable method", write: WriteUnsupportedAuthMethod, want: []byte{0x05, 0xff}},
		{name: "connected", write: WriteConnectedReply, want: []byte{0x05, 0x00, 0x00, 0x01, 0, 0, 0, 0, 0, 0}},
		{name: "command not supported", write: WriteCommandNotSupportedReply, want: []byte{0x05, 0x07, 0x00, 0x01, 0, 0, 0, 0, 0, 0}},
		{
			name: "udp success ipv4",
			write: func(w io.Writer) error {
				return WriteSuccessReply(w, IPv4Addr(netip.MustParseAddr("127.0.0.1"), 0x1234))
			},
			want: []byte{0x05, 0x00, 0x00, 0x01, 127, 0, 0, 1, 0x12, 0x34},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			if err := tt.write(&buf); err != nil {
				t.Fatal(err)
			}
			if !bytes.Equal(buf.Bytes(), tt.want) {
				t.Fatalf("got %x want %x", buf.Bytes(), tt.want)
			}
		})
	}
}

func TestSuccessReplyParsesWithThirdPartyClient(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteSuccessReply(&buf, IPv6Addr(netip.MustParseAddr("::1"), 9000)); err != nil {
		t.Fatal(err)
	}
	rep, err := txsocks5.NewReplyFrom(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if rep.Rep != txsocks5.RepSuccess || rep.Atyp != txsocks5.ATYPIPv6 {
		t.Fatalf("unexpected reply %+v", rep)
	}
	if !bytes.Equal(rep.BndAddr, net.IPv6loopback) || !bytes.Equal(rep.BndPort, []byte{0x23, 0x28}) {
		t.Fatalf("got %x port %x", rep.BndAddr, rep.BndPort)
	}
}

func TestClientDialToServer(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	g := errgroup.Group{}
	g.Go(func() error {
		greeting := make([]byte, GreetingLen)
		if _, err := io.ReadFull(serverConn, greeting); err != nil {
			return err
		}
		if err := ParseGreeting(greeting); err != nil {
			return err
		}
		if err := WriteHandshakeComplete(serverConn); err != nil {
			return err
		}

		hdr := make([]byte, CommandLen)
		if _, err := io.ReadFull(serverConn, hdr); err != nil {
			return err
		}
		cmd, err := ParseCommand(hdr)
		if err != nil {
			return err
		}
		if cmd != CmdConnect {
			return fmt.Errorf("unexpected command: %s", cmd)
		}
		addr, err := ReadAddr(serverConn)
		if err != nil {
			return err
		}
		if addr.String() != "127.0.0.1:80" {
			return fmt.Errorf("unexpected address: %s", addr)
		}
		return WriteConnectedReply(serverConn)
	})

	if err := ClientDial(clientConn, "127.0.0.1:80"); err != nil {
		t.Fatal(err)
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
}

package socks5

import (
	"errors"
	"fmt"

	txsocks5 "github.com/txthinking/socks5"
)

// Command is the SOCKS5 CMD byte.
type Command byte

const (
	CmdConnect      Command = Command(txsocks5.CmdConnect)
	CmdBind         Command = Command(txsocks5.CmdBind)
	CmdUDPAssociate Command = Command(txsocks5.CmdUDP)
)

func (c Command) String() string {
	switch c {
	case CmdConnect:
		return "connect"
	case CmdBind:
		return "bind"
	case CmdUDPAssociate:
		return "udp-associate"
	default:
		return fmt.Sprintf("cmd(%d)", byte(c))
	}
}

// GreetingLen is the size of the only greeting accepted: VER, NMETHODS=1,
// METHOD=no-auth.
const GreetingLen = 3

// CommandLen is VER, CMD, RSV; the address follows separately.
const CommandLen = 3

var (
	ErrVersion    = errors.New("socks5: unsupported protocol version")
	ErrAuthMethod = errors.New("socks5: unsupported authentication method")
	ErrReserved   = errors.New("socks5: reserved byte is not zero")
)

// ParseGreeting validates a 3-byte method negotiation request.
func ParseGreeting(b []byte) error {
	if len(b) != GreetingLen {
		return fmt.Errorf("socks5: greeting length %d", len(b))
	}
	if b[0] != Version {
		return fmt.Errorf("%w: %d", ErrVersion, b[0])
	}
	if b[1] != 0x01 || b[2] != txsocks5.MethodNone {
		return ErrAuthMethod
	}
	return nil
}

// ParseCommand validates the VER and RSV bytes of a request header and
// returns its command. Unknown commands are returned as-is.
func ParseCommand(b []byte) (Command, error) {
	if len(b) != CommandLen {
		return 0, fmt.Errorf("socks5: request header length %d", len(b))
	}
	if b[0] != Version {
		return 0, fmt.Errorf("%w: %d", ErrVersion, b[0])
	}
	if b[2] != 0x00 {
		return 0, ErrReserved
	}
	return Command(b[1]), nil
}

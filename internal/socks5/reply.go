package socks5

import (
	"fmt"
	"io"

	txsocks5 "github.com/txthinking/socks5"
)

// Version is the only SOCKS protocol version spoken.
const Version = txsocks5.Ver

// RFC 1928: 0xFF indicates no acceptable methods.
const methodNoAcceptable byte = 0xff

// WriteHandshakeComplete selects the no-authentication method.
func WriteHandshakeComplete(w io.Writer) error {
	if _, err := txsocks5.NewNegotiationReply(txsocks5.MethodNone).WriteTo(w); err != nil {
		return fmt.Errorf("negotiation reply: %w", err)
	}
	return nil
}

// WriteUnsupportedAuthMethod tells the client none of its methods is
// acceptable.
func WriteUnsupportedAuthMethod(w io.Writer) error {
	_, err := txsocks5.NewNegotiationReply(methodNoAcceptable).WriteTo(w)
	return err
}

// WriteConnectedReply writes the CONNECT success reply. The bound address
// and port are always zero.
func WriteConnectedReply(w io.Writer) error {
	if _, err := newZeroAddrReply(txsocks5.RepSuccess).WriteTo(w); err != nil {
		return fmt.Errorf("connected reply: %w", err)
	}
	return nil
}

// WriteCommandNotSupportedReply writes the generic failure frame used for
// BIND and unknown commands.
func WriteCommandNotSupportedReply(w io.Writer) error {
	_, err := newZeroAddrReply(txsocks5.RepCommandNotSupported).WriteTo(w)
	return err
}

// WriteSuccessReply writes a success reply carrying bound as BND.ADDR and
// BND.PORT.
func WriteSuccessReply(w io.Writer, bound Addr) error {
	b, err := bound.AppendBinary([]byte{Version, txsocks5.RepSuccess, 0x00})
	if err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	if _, err := w.Write(b); err != nil {
		return fmt.Errorf("success reply: %w", err)
	}
	return nil
}

func newZeroAddrReply(rep byte) *txsocks5.Reply {
	return txsocks5.NewReply(rep, txsocks5.ATYPIPv4, []byte{0x00, 0x00, 0x00, 0x00}, []byte{0x00, 0x00})
}

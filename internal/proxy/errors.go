package proxy

import (
	"errors"
)

// Errors returned by Factory.NewSession. Every factory failure matches
// exactly one of them with errors.Is.
var (
	ErrCancelled                       = errors.New("proxy: connection closed during negotiation")
	ErrFailedToReadFromConnection      = errors.New("proxy: failed to read from connection")
	ErrHandshakeFailed                 = errors.New("proxy: handshake failed")
	ErrUnsupportedSocksVersion         = errors.New("proxy: unsupported socks version")
	ErrUnsupportedAuthenticationMethod = errors.New("proxy: unsupported authentication method")
	ErrContaminatedRequest             = errors.New("proxy: contaminated request")
	ErrInvalidSocksCommand             = errors.New("proxy: invalid socks command")
	ErrBindCommandNotSupported         = errors.New("proxy: bind command not supported")
	ErrFailedToInitializeSession       = errors.New("proxy: failed to initialize session")
	ErrConnectionFailed                = errors.New("proxy: connection failed")
)

var factoryErrorReasons = []struct {
	err    error
	reason string
}{
	{ErrCancelled, "cancelled"},
	{ErrFailedToReadFromConnection, "read_failed"},
	{ErrHandshakeFailed, "handshake_failed"},
	{ErrUnsupportedSocksVersion, "unsupported_version"},
	{ErrUnsupportedAuthenticationMethod, "unsupported_auth_method"},
	{ErrContaminatedRequest, "contaminated_request"},
	{ErrInvalidSocksCommand, "invalid_command"},
	{ErrBindCommandNotSupported, "bind_not_supported"},
	{ErrFailedToInitializeSession, "init_failed"},
	{ErrConnectionFailed, "connection_failed"},
}

// FactoryErrorReason returns a stable label for a factory error, suitable
// for metrics. It returns "" for nil and "unknown" for foreign errors.
func FactoryErrorReason(err error) string {
	if err == nil {
		return ""
	}
	for _, r := range factoryErrorReasons {
		if errors.Is(err, r.err) {
			return r.reason
		}
	}
	return "unknown"
}

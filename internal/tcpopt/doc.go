// Package tcpopt applies TCP socket options that net.ListenConfig and
// net.Dialer do not expose: TCP Fast Open on listening and connecting
// sockets, and TCP_USER_TIMEOUT, which bounds how long unacknowledged data
// may stay in flight (the "persist timeout").
//
// On Linux the options are set through golang.org/x/sys/unix from a
// syscall.RawConn control hook. On other platforms the hooks are no-ops and
// IsSupported is false.
package tcpopt

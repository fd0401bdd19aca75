// Package dialer provides outbound dialing implementations used by mixproxy.
//
// Dialers implement a small interface (DialContext) and are used by proxy
// sessions to establish outbound connections either directly or via an
// upstream proxy (HTTP CONNECT or SOCKS5). UDP is only ever dialed directly.
package dialer

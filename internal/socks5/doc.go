// Package socks5 holds the SOCKS5 wire formats used by mixproxy: the
// ATYP/ADDR/PORT address encoding, the UDP request header, the fixed
// negotiation and reply frames, and a small client used for upstream
// chaining.
//
// Protocol constants come from github.com/txthinking/socks5; the address and
// datagram codecs are implemented here because mixproxy needs exact control
// over fragment rejection, empty payloads and round-trip symmetry.
//
// Only the subset of RFC 1928 that mixproxy serves is covered: no
// authentication, CONNECT and UDP ASSOCIATE. BIND is answered with a
// command-not-supported reply.
package socks5

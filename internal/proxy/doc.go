// Package proxy implements the mixproxy listener side.
//
// A Factory sniffs the first bytes of each accepted connection and returns
// one of three sessions: SOCKS5 CONNECT, SOCKS5 UDP ASSOCIATE or an HTTP
// proxy request. Sessions relay with Relay until either side closes. Server
// ties a listener, a Factory and a Registry of live sessions together.
package proxy

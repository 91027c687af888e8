// Package dialer orchestrates connection establishment: address
// resolution, transport dialing, optional proxy negotiation and the
// TLS handshake compose into a single pipeline bounded by one
// deadline. The result is a live channel plus the protocol the remote
// agreed to speak.
package dialer

import (
	"net"

	"github.com/athq/go-httpcore/internal/errs"
	"github.com/athq/go-httpcore/internal/tlsconf"
)

// Version is the HTTP version selected for an established channel.
type Version int

const (
	HTTP1_1 Version = iota + 1
	HTTP2
)

func (v Version) String() string {
	if v == HTTP2 {
		return "http/2"
	}
	return "http/1.1"
}

// NegotiatedProtocol is the terminal output of the factory: an active
// channel and the version to run over it. Ownership of Conn transfers
// to the caller on return.
type NegotiatedProtocol struct {
	Version Version
	Conn    net.Conn
}

// MatchALPN maps a negotiated ALPN string onto an HTTP version. An
// empty string (no ALPN) selects HTTP/1.1.
func MatchALPN(proto string) (Version, error) {
	switch proto {
	case "", "http/1.1":
		return HTTP1_1, nil
	case "h2":
		return HTTP2, nil
	default:
		return 0, errs.UnsupportedALPN(proto)
	}
}

// HTTPVersionPolicy decides the ALPN list the core advertises. The
// caller never sets ALPN directly; the core overrides it.
type HTTPVersionPolicy int

const (
	HTTPVersionAuto  HTTPVersionPolicy = iota // h2 preferred, http/1.1 fallback
	HTTPVersion1Only                          // never advertise h2
)

func (p HTTPVersionPolicy) alpn() []string {
	if p == HTTPVersion1Only {
		return tlsconf.ALPNHTTP1Only
	}
	return tlsconf.ALPNAuto
}

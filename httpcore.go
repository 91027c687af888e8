// Package httpcore establishes protocol-negotiated channels for an
// asynchronous HTTP client: resolution, dialing, proxy negotiation
// and the TLS handshake compose into one deadline-bound pipeline, and
// a per-request transaction state machine drives the exchange over
// the result.
package httpcore

import (
	"github.com/athq/go-httpcore/internal/dialer"
	"github.com/athq/go-httpcore/internal/errs"
	"github.com/athq/go-httpcore/internal/target"
)

type Scheme = target.Scheme

const (
	SchemeHTTP      = target.SchemeHTTP
	SchemeHTTPS     = target.SchemeHTTPS
	SchemeHTTPUnix  = target.SchemeHTTPUnix
	SchemeHTTPSUnix = target.SchemeHTTPSUnix
	SchemeUnix      = target.SchemeUnix
)

// Targets are normalised destinations; PoolKey equality defines which
// established channels are interchangeable.
type Target = target.Target
type PoolKey = target.PoolKey

// PoolKeyForURL derives the pool key for a request URL plus optional
// explicit SNI and TLS fingerprint preset.
var PoolKeyForURL = target.KeyForURL

// Version of the protocol negotiated for a channel.
type Version = dialer.Version

const (
	HTTP1_1 = dialer.HTTP1_1
	HTTP2   = dialer.HTTP2
)

type NegotiatedProtocol = dialer.NegotiatedProtocol

// Error is the library-wide error type; match with [errors.Is]
// against the exported sentinels or inspect the kind.
type Error = errs.Error
type ErrorKind = errs.Kind

const (
	KindConnectTimeout              = errs.KindConnectTimeout
	KindSocksHandshakeTimeout       = errs.KindSocksHandshakeTimeout
	KindHTTPProxyHandshakeTimeout   = errs.KindHTTPProxyHandshakeTimeout
	KindTLSHandshakeTimeout         = errs.KindTLSHandshakeTimeout
	KindInvalidProxyResponse        = errs.KindInvalidProxyResponse
	KindProxyAuthenticationRequired = errs.KindProxyAuthenticationRequired
	KindUnsupportedALPN             = errs.KindUnsupportedALPN
	KindRemoteConnectionClosed      = errs.KindRemoteConnectionClosed
	KindCancelled                   = errs.KindCancelled
	KindDeadlineExceeded            = errs.KindDeadlineExceeded
	KindTLS                         = errs.KindTLS
	KindPosix                       = errs.KindPosix
)

var (
	ErrConnectTimeout      = errs.ErrConnectTimeout
	ErrSocksTimeout        = errs.ErrSocksTimeout
	ErrHTTPProxyTimeout    = errs.ErrHTTPProxyTimeout
	ErrTLSHandshakeTimeout = errs.ErrTLSHandshakeTimeout
	ErrProxyAuthRequired   = errs.ErrProxyAuthRequired
	ErrRemoteClosed        = errs.ErrRemoteClosed
	ErrCancelled           = errs.ErrCancelled
	ErrDeadlineExceeded    = errs.ErrDeadlineExceeded
)

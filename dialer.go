package httpcore

import (
	"github.com/athq/go-httpcore/internal/bootstrap"
	"github.com/athq/go-httpcore/internal/conn"
	"github.com/athq/go-httpcore/internal/dialer"
	"github.com/athq/go-httpcore/internal/proxy"
	"github.com/athq/go-httpcore/internal/resolver"
	"github.com/athq/go-httpcore/internal/tlsconf"
)

// CoreDialer is the connection factory. It holds configuration, never
// per-connection state, so it can be swapped out without pain.
type CoreDialer = dialer.CoreDialer

type ProxyConfig = proxy.Config
type ProxyKind = proxy.Kind

const (
	ProxyHTTP   = proxy.KindHTTP
	ProxySocks5 = proxy.KindSocks5
)

// BasicAuth and BearerAuth build proxy credentials; Basic also drives
// the SOCKSv5 username/password sub-negotiation.
var (
	BasicAuth  = proxy.BasicAuth
	BearerAuth = proxy.BearerAuth
)

type TLSConfig = tlsconf.Config
type ResolveConfig = resolver.Config

// Resolver maps a host to an ordered list of addresses; plug one in
// through [ResolveConfig.Custom].
type Resolver = resolver.Resolver

type HTTPVersionPolicy = dialer.HTTPVersionPolicy

const (
	HTTPVersionAuto  = dialer.HTTPVersionAuto
	HTTPVersion1Only = dialer.HTTPVersion1Only
)

// SocketHook mutates the raw socket before connect(2).
type SocketHook = bootstrap.Hook

// Connection starting over a negotiated channel.
type ConnectionMaker = conn.Maker
type ConnectionOptions = conn.Options
type Requester = conn.Requester
type DebugInitializer = conn.DebugInitializer
type HTTP1Connection = conn.HTTP1Connection
type HTTP2Connection = conn.HTTP2Connection

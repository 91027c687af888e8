package httpcore

import (
	"crypto/tls"
	"time"

	"github.com/athq/go-httpcore/internal/conn"
	"github.com/athq/go-httpcore/internal/dialer"
	"github.com/athq/go-httpcore/internal/resolver"
)

type Decompression = conn.Decompression

const (
	DecompressionDisabled = conn.DecompressionDisabled
	DecompressionEnabled  = conn.DecompressionEnabled
)

// Options is the full configuration surface of the connection core.
// The zero value dials directly, advertises h2+http/1.1 and uses the
// platform resolver.
type Options struct {
	// Proxy routes http/https requests through an HTTP or SOCKS5
	// proxy. Unix-socket schemes are never proxied.
	Proxy *ProxyConfig

	// TLSConfiguration is the default TLS surface; per-request keys
	// may override the fingerprint component.
	TLSConfiguration *TLSConfig

	// HTTPVersion decides the advertised ALPN list.
	HTTPVersion HTTPVersionPolicy

	// EnableMultipath turns on MPTCP where the platform offers it.
	EnableMultipath bool

	// WaitForConnectivity parks connect calls while the network is
	// unreachable instead of failing fast.
	WaitForConnectivity bool

	// DNSResolver plugs in a custom async resolver.
	DNSResolver Resolver

	// ResolveConfig tunes the built-in resolver (custom DNS server,
	// static hosts, address family).
	ResolveConfig *ResolveConfig

	// SocketHook mutates the raw socket before connect, standing in
	// for transport parameter configurators.
	SocketHook SocketHook

	// ConfigureTLSOptions mutates the per-connection handshake
	// config right before the handshake runs.
	ConfigureTLSOptions func(*tls.Config)

	HTTP1ConnectionDebugInitializer    DebugInitializer
	HTTP2ConnectionDebugInitializer    DebugInitializer
	HTTP2StreamChannelDebugInitializer DebugInitializer

	// MaximumUsesPerConnection retires a connection after this many
	// requests; zero means unlimited.
	MaximumUsesPerConnection int64

	// Decompression is forwarded to the HTTP layer untouched.
	Decompression Decompression

	// KeepAlive configures TCP keep-alive probes on stream sockets.
	KeepAlive time.Duration
}

// NewDialer builds the connection factory for o.
func (o Options) NewDialer() *CoreDialer {
	rc := o.ResolveConfig.Clone()
	if o.DNSResolver != nil {
		if rc == nil {
			rc = &resolver.Config{}
		}
		rc.Custom = o.DNSResolver
	}
	tc := o.TLSConfiguration.Clone()
	if o.ConfigureTLSOptions != nil {
		if tc == nil {
			tc = &TLSConfig{}
		}
		tc.OptionsHook = o.ConfigureTLSOptions
	}
	return &dialer.CoreDialer{
		ResolveConfig:       rc,
		TLSConfig:           tc,
		ProxyConfig:         o.Proxy.Clone(),
		HTTPVersion:         o.HTTPVersion,
		EnableMultipath:     o.EnableMultipath,
		KeepAlive:           o.KeepAlive,
		WaitForConnectivity: o.WaitForConnectivity,
		SocketHook:          o.SocketHook,
	}
}

// NewConnectionMaker builds the connection starter for o.
func (o Options) NewConnectionMaker() *ConnectionMaker {
	return &conn.Maker{
		Dialer: o.NewDialer(),
		Options: conn.Options{
			Decompression:               o.Decompression,
			MaximumUsesPerConnection:    o.MaximumUsesPerConnection,
			HTTP1DebugInitializer:       o.HTTP1ConnectionDebugInitializer,
			HTTP2DebugInitializer:       o.HTTP2ConnectionDebugInitializer,
			HTTP2StreamDebugInitializer: o.HTTP2StreamChannelDebugInitializer,
		},
	}
}

package dialer

import (
	"context"
	"net"
	"net/netip"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/athq/go-httpcore/internal/bootstrap"
	"github.com/athq/go-httpcore/internal/errs"
	"github.com/athq/go-httpcore/internal/proxy"
	"github.com/athq/go-httpcore/internal/resolver"
	"github.com/athq/go-httpcore/internal/target"
	"github.com/athq/go-httpcore/internal/tlsconf"
)

// CoreDialer is the connection factory. It holds configuration only,
// never per-connection state, so a Client can swap one out without
// pain.
type CoreDialer struct {
	ResolveConfig *resolver.Config
	TLSConfig     *tlsconf.Config
	ProxyConfig   *proxy.Config

	HTTPVersion         HTTPVersionPolicy
	EnableMultipath     bool
	KeepAlive           time.Duration
	WaitForConnectivity bool

	// SocketHook mutates the raw socket before connect, the
	// stream-bootstrap analogue of a transport parameter configurator.
	SocketHook bootstrap.Hook

	// OnWaiting is invoked once when a connect call parks awaiting
	// connectivity, unless the call's context carries a per-call
	// waiting callback, which is invoked instead.
	OnWaiting func(error)

	// Clock drives every deadline timer in the pipeline; nil means
	// the wall clock.
	Clock clock.Clock

	once  sync.Once
	boot  *bootstrap.Stream
	tlsN  *tlsconf.Negotiator
	cache *tlsconf.ContextCache
}

func (d *CoreDialer) Clone() *CoreDialer {
	return &CoreDialer{
		ResolveConfig:       d.ResolveConfig.Clone(),
		TLSConfig:           d.TLSConfig.Clone(),
		ProxyConfig:         d.ProxyConfig.Clone(),
		HTTPVersion:         d.HTTPVersion,
		EnableMultipath:     d.EnableMultipath,
		KeepAlive:           d.KeepAlive,
		WaitForConnectivity: d.WaitForConnectivity,
		SocketHook:          d.SocketHook,
		OnWaiting:           d.OnWaiting,
		Clock:               d.Clock,
	}
}

func (d *CoreDialer) init() {
	d.once.Do(func() {
		if d.Clock == nil {
			d.Clock = clock.New()
		}
		d.boot = bootstrap.NewStream(bootstrap.Config{
			EnableMultipath:     d.EnableMultipath,
			KeepAlive:           d.KeepAlive,
			WaitForConnectivity: d.WaitForConnectivity,
			Resolver:            d.ResolveConfig.Native(),
			Hook:                d.SocketHook,
			OnWaiting:           d.OnWaiting,
		}, d.Clock)
		d.cache = tlsconf.NewContextCache()
		d.tlsN = tlsconf.NewNegotiator(d.Clock, d.cache)
	})
}

// DialChannel establishes a channel for key, completing no later than
// deadline. Exactly one NegotiatedProtocol is produced on success and
// the returned channel is active; every stage failure surfaces here,
// passed through [errs.Translate]. Proxy configuration errors are
// returned as they are.
func (d *CoreDialer) DialChannel(ctx context.Context, key target.PoolKey, connID uint64, deadline time.Time, logger zerolog.Logger) (NegotiatedProtocol, error) {
	d.init()
	logger = logger.With().Uint64("connection_id", connID).Str("target", key.Target.String()).Logger()

	if d.Clock.Now().After(deadline) {
		return NegotiatedProtocol{}, errs.Wrap(errs.KindConnectTimeout, errors.New("deadline already passed"))
	}
	if err := d.ProxyConfig.Validate(key.Target); err != nil {
		return NegotiatedProtocol{}, err
	}
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	var np NegotiatedProtocol
	var err error
	if key.Scheme.Proxyable() && d.ProxyConfig != nil {
		np, err = d.dialProxied(ctx, key, deadline, logger)
	} else {
		np, err = d.dialDirect(ctx, key, deadline, logger)
	}
	if err != nil {
		return NegotiatedProtocol{}, errs.Translate(err)
	}
	logger.Debug().Stringer("version", np.Version).Msg("channel established")
	return np, nil
}

// dialDirect is the proxy-less pipeline: bootstrap connect, then for
// TLS schemes the handshake and ALPN match.
func (d *CoreDialer) dialDirect(ctx context.Context, key target.PoolKey, deadline time.Time, logger zerolog.Logger) (NegotiatedProtocol, error) {
	conn, err := d.connect(ctx, key.Target, deadline, logger)
	if err != nil {
		return NegotiatedProtocol{}, err
	}
	if !key.Scheme.UsesTLS() {
		return NegotiatedProtocol{Version: HTTP1_1, Conn: conn}, nil
	}
	return d.negotiateTLS(ctx, conn, key, deadline, logger)
}

// dialProxied connects to the proxy endpoint, runs its handshake and
// continues with the TLS sub-stage on the tunnelled channel when the
// ultimate scheme needs it. Cleartext h2 through a proxy is out of
// scope, so plaintext tunnels always come back HTTP/1.1.
func (d *CoreDialer) dialProxied(ctx context.Context, key target.PoolKey, deadline time.Time, logger zerolog.Logger) (NegotiatedProtocol, error) {
	pt, err := proxyTarget(d.ProxyConfig)
	if err != nil {
		return NegotiatedProtocol{}, err
	}
	logger = logger.With().Str("proxy", pt.String()).Str("proxy_kind", string(d.ProxyConfig.Kind)).Logger()
	conn, err := d.connect(ctx, pt, deadline, logger)
	if err != nil {
		return NegotiatedProtocol{}, err
	}
	logger.Debug().Msg("negotiating proxy tunnel")
	if err := d.ProxyConfig.Negotiator().Handshake(ctx, d.Clock, conn, key.Target, deadline); err != nil {
		return NegotiatedProtocol{}, err
	}
	if !key.Scheme.UsesTLS() {
		return NegotiatedProtocol{Version: HTTP1_1, Conn: conn}, nil
	}
	return d.negotiateTLS(ctx, conn, key, deadline, logger)
}

func (d *CoreDialer) negotiateTLS(ctx context.Context, conn net.Conn, key target.PoolKey, deadline time.Time, logger zerolog.Logger) (NegotiatedProtocol, error) {
	cfg := d.TLSConfig
	if key.TLSFingerprint != "" {
		cfg = cfg.Clone()
		if cfg == nil {
			cfg = &tlsconf.Config{}
		}
		cfg.FingerprintPreset = key.TLSFingerprint
	}
	tlsConn, proto, err := d.tlsN.Handshake(ctx, conn, cfg, key.ServerName(), d.HTTPVersion.alpn(), deadline)
	if err != nil {
		return NegotiatedProtocol{}, err
	}
	version, err := MatchALPN(proto)
	if err != nil {
		tlsConn.Close()
		return NegotiatedProtocol{}, err
	}
	logger.Debug().Str("alpn", proto).Msg("TLS established")
	return NegotiatedProtocol{Version: version, Conn: tlsConn}, nil
}

// connect picks between native bootstrap iteration and the explicit
// resolve-and-race path. The race path is taken only for non-local
// domain targets with a custom resolver configured; everywhere else
// the resolver rides on the bootstrap.
func (d *CoreDialer) connect(ctx context.Context, t target.Target, deadline time.Time, logger zerolog.Logger) (net.Conn, error) {
	rc := d.ResolveConfig
	if rc != nil && rc.Custom != nil && t.IsDomain() && !resolver.IsLocalhost(t.DomainName()) {
		return d.connectResolved(ctx, t, deadline, logger)
	}
	return d.boot.Connect(rc.WithServer(ctx), t, deadline)
}

func (d *CoreDialer) connectResolved(ctx context.Context, t target.Target, deadline time.Time, logger zerolog.Logger) (net.Conn, error) {
	ips, err := d.ResolveConfig.Lookup(ctx, t.DomainName())
	if err != nil {
		return nil, err
	}
	addrs := resolver.AddrPorts(ips, t.Port())
	if len(addrs) == 0 {
		return nil, errors.Errorf("resolver returned no usable addresses for %q", t.DomainName())
	}
	logger.Debug().Int("addresses", len(addrs)).Msg("racing resolved endpoints")
	return FirstSuccess(ctx, len(addrs),
		func(ctx context.Context, i int) (net.Conn, error) {
			return d.boot.ConnectAddr(ctx, addrs[i].String(), deadline)
		},
		func(net.Conn) bool { return true },
		func(c net.Conn) { c.Close() },
	)
}

func proxyTarget(cfg *proxy.Config) (target.Target, error) {
	if addr, err := netip.ParseAddr(cfg.Host); err == nil {
		return target.IP(addr, cfg.Port), nil
	}
	return target.Domain(cfg.Host, cfg.Port)
}

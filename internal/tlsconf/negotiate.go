package tlsconf

import (
	"context"
	"crypto/tls"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	utls "github.com/refraction-networking/utls"

	"github.com/athq/go-httpcore/internal/errs"
)

// ALPN token lists, in preference order. The core always overrides
// caller-provided ALPN with one of these.
var (
	ALPNAuto      = []string{"h2", "http/1.1"}
	ALPNHTTP1Only = []string{"http/1.1"}
)

// Negotiator wraps a plain channel with TLS under the pipeline
// deadline and reports the negotiated ALPN protocol.
type Negotiator struct {
	Clock clock.Clock
	Cache *ContextCache
}

func NewNegotiator(clk clock.Clock, cache *ContextCache) *Negotiator {
	if clk == nil {
		clk = clock.New()
	}
	if cache == nil {
		cache = NewContextCache()
	}
	return &Negotiator{Clock: clk, Cache: cache}
}

// Handshake runs the client handshake on conn. serverName may be ""
// (IP-literal targets omit SNI). It installs a deadline task that
// closes the channel and fails with the TLS-handshake-timeout kind if
// it fires before completion. Returns the wrapped channel and the
// negotiated protocol ("" when the server offered none).
func (n *Negotiator) Handshake(ctx context.Context, conn net.Conn, cfg *Config, serverName string, alpn []string, deadline time.Time) (net.Conn, string, error) {
	tctx, err := n.Cache.Get(cfg)
	if err != nil {
		return nil, "", err
	}
	remaining := deadline.Sub(n.Clock.Now())
	if remaining <= 0 {
		conn.Close()
		return nil, "", errs.Wrap(errs.KindTLSHandshakeTimeout, errors.New("deadline already passed"))
	}
	fired := make(chan struct{})
	timer := n.Clock.AfterFunc(remaining, func() {
		close(fired)
		conn.Close()
	})
	defer timer.Stop()

	finish := func(c net.Conn, proto string, err error) (net.Conn, string, error) {
		select {
		case <-fired:
			return nil, "", errs.ErrTLSHandshakeTimeout
		default:
		}
		if err != nil {
			conn.Close()
			// the pipeline ctx carries the same deadline and may win
			// the race against the timer
			if errors.Is(err, context.DeadlineExceeded) {
				return nil, "", errs.Wrap(errs.KindTLSHandshakeTimeout, err)
			}
			return nil, "", translateHandshake(err)
		}
		return c, proto, nil
	}

	if tctx.fingerprinted {
		uc := utls.UClient(conn, tctx.uclient(serverName, alpn), tctx.hello)
		if err := uc.HandshakeContext(ctx); err != nil {
			return finish(nil, "", err)
		}
		return finish(uc, uc.ConnectionState().NegotiatedProtocol, nil)
	}
	c := tls.Client(conn, tctx.client(serverName, alpn))
	if err := c.HandshakeContext(ctx); err != nil {
		return finish(nil, "", err)
	}
	return finish(c, c.ConnectionState().NegotiatedProtocol, nil)
}

// handshake failures are TLS errors unless the transport vanished or
// the library already classified them
func translateHandshake(err error) error {
	translated := errs.Translate(err)
	if _, ok := errs.KindOf(translated); ok {
		return translated
	}
	return errs.TLS(err)
}

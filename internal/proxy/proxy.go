// Package proxy negotiates tunnels over an already established plain
// channel. Both sub-protocols (HTTP CONNECT, SOCKSv5) share one
// contract: a Negotiator's Handshake succeeds iff the channel now
// carries end-to-end bytes for the real target, and fails the
// stage-local timeout kind when the pipeline deadline fires first.
package proxy

import (
	"context"
	"encoding/base64"
	"net"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/athq/go-httpcore/internal/errs"
	"github.com/athq/go-httpcore/internal/target"
)

type Kind string

const (
	KindHTTP   Kind = "http"
	KindSocks5 Kind = "socks5"
)

type authKind int

const (
	authNone authKind = iota
	authBasic
	authBearer
)

// Authorization carries proxy credentials. Basic serves both the
// HTTP Proxy-Authorization header and the SOCKSv5 username/password
// sub-negotiation; Bearer is HTTP-only.
type Authorization struct {
	kind       authKind
	user, pass string
	token      string
}

func BasicAuth(user, pass string) Authorization {
	return Authorization{kind: authBasic, user: user, pass: pass}
}

func BearerAuth(token string) Authorization {
	return Authorization{kind: authBearer, token: token}
}

func (a Authorization) IsZero() bool { return a.kind == authNone }

func (a Authorization) headerValue() string {
	switch a.kind {
	case authBasic:
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(a.user+":"+a.pass))
	case authBearer:
		return "Bearer " + a.token
	default:
		return ""
	}
}

type Config struct {
	Kind          Kind
	Host          string
	Port          uint16
	Authorization Authorization
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cc := *c
	return &cc
}

// Validate rejects combinations that can never negotiate: SOCKS has
// no bearer scheme and cannot address unix sockets.
func (c *Config) Validate(t target.Target) error {
	if c == nil {
		return nil
	}
	if c.Kind != KindHTTP && c.Kind != KindSocks5 {
		return errors.Errorf("unsupported proxy kind %q", c.Kind)
	}
	if c.Kind == KindSocks5 {
		if t.IsUnix() {
			return errors.New("unix sockets are not valid SOCKS targets")
		}
		if c.Authorization.kind == authBearer {
			return errors.New("SOCKS5 proxies do not support bearer authorization")
		}
	}
	return nil
}

func (c *Config) Negotiator() Negotiator {
	if c.Kind == KindSocks5 {
		return &Socks5{Authorization: c.Authorization}
	}
	return &HTTPConnect{Authorization: c.Authorization}
}

// Negotiator performs a proxy handshake on conn towards t, bounded by
// the pipeline deadline. On failure the channel is unusable and has
// been closed.
type Negotiator interface {
	Handshake(ctx context.Context, clk clock.Clock, conn net.Conn, t target.Target, deadline time.Time) error
}

// handshake state machine, identical shape for both sub-protocols:
//
//	initialized ─activate→ active(timer)
//	active ─establish→ established   (timer cancelled)
//	active ─timer fire→ failed(timeout), channel closed
//	any ─fail→ failed(err)
type hsState int

const (
	hsInitialized hsState = iota
	hsActive
	hsEstablished
	hsFailed
)

type guard struct {
	clk        clock.Clock
	conn       net.Conn
	timeoutErr *errs.Error

	state hsState
	timer *clock.Timer
	err   error
	fired chan struct{}
}

// newGuard is called before the first handshake byte moves so the
// failure path exists before the channel is used, then activate arms
// the deadline timer.
func newGuard(clk clock.Clock, conn net.Conn, timeoutErr *errs.Error) *guard {
	return &guard{clk: clk, conn: conn, timeoutErr: timeoutErr, fired: make(chan struct{})}
}

func (g *guard) activate(deadline time.Time) {
	remaining := deadline.Sub(g.clk.Now())
	g.state = hsActive
	g.timer = g.clk.AfterFunc(remaining, func() {
		close(g.fired)
		// closing unblocks the synchronous read/write; finish()
		// then reports the timeout instead of the I/O error
		g.conn.Close()
	})
}

// finish resolves the machine. A nil err with state active transitions
// to established; otherwise the canonical error is returned, with the
// deadline timer taking precedence over I/O fallout it caused.
func (g *guard) finish(err error) error {
	if g.timer != nil {
		g.timer.Stop()
	}
	select {
	case <-g.fired:
		g.state = hsFailed
		g.err = g.timeoutErr
		return g.err
	default:
	}
	if err != nil {
		g.state = hsFailed
		g.err = err
		g.conn.Close()
		return err
	}
	g.state = hsEstablished
	return nil
}

// readFull reads exactly len(buf) bytes, translating EOF-ish failures
// into the remote-closed kind.
func readFull(conn net.Conn, buf []byte) error {
	for n := 0; n < len(buf); {
		m, err := conn.Read(buf[n:])
		n += m
		if err != nil {
			return errs.Translate(err)
		}
	}
	return nil
}

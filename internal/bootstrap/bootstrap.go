// Package bootstrap builds outbound transport channels. A Bootstrap
// owns the platform-specific parts of connecting (timeouts, MPTCP,
// socket knobs); everything above it sees a plain [net.Conn].
package bootstrap

import (
	"context"
	"net"
	"syscall"
	"time"

	"github.com/benbjohnson/clock"
	backoff "github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/athq/go-httpcore/internal/errs"
	"github.com/athq/go-httpcore/internal/target"
)

// Bootstrap is the build-time platform branch: exactly one
// implementation is selected when the dialer is constructed, never
// per call.
type Bootstrap interface {
	// Connect dials t, completing no later than deadline. A deadline
	// already in the past fails with the connect-timeout kind without
	// touching the network.
	Connect(ctx context.Context, t target.Target, deadline time.Time) (net.Conn, error)
}

// Hook mutates the raw socket before connect(2), standing in for
// platform parameter configurators.
type Hook func(network, address string, c syscall.RawConn) error

type Config struct {
	EnableMultipath     bool
	KeepAlive           time.Duration
	WaitForConnectivity bool
	Resolver            *net.Resolver // nil means platform default
	Hook                Hook

	// OnWaiting fires once when the first transient connectivity
	// failure parks the connect call, unless the call's context carries
	// a callback from [WithWaitingCallback], which fires instead.
	OnWaiting func(error)
}

// Stream is the stream-socket implementation of [Bootstrap], used on
// every platform without a native transport framework.
type Stream struct {
	cfg Config
	clk clock.Clock
}

func NewStream(cfg Config, clk clock.Clock) *Stream {
	if clk == nil {
		clk = clock.New()
	}
	return &Stream{cfg: cfg, clk: clk}
}

func (s *Stream) Connect(ctx context.Context, t target.Target, deadline time.Time) (net.Conn, error) {
	remaining := deadline.Sub(s.clk.Now())
	if remaining <= 0 {
		return nil, errs.Wrap(errs.KindConnectTimeout, errors.New("deadline already passed"))
	}
	network, address := "tcp", t.HostPort()
	if t.IsUnix() {
		network, address = "unix", t.Path()
	}
	d := s.dialer(remaining)
	conn, err := s.dial(ctx, d, network, address)
	if err != nil {
		return nil, errs.Translate(err)
	}
	return conn, nil
}

// ConnectAddr dials a single already-resolved address. Used by the
// first-success selector when addresses are raced explicitly.
func (s *Stream) ConnectAddr(ctx context.Context, address string, deadline time.Time) (net.Conn, error) {
	remaining := deadline.Sub(s.clk.Now())
	if remaining <= 0 {
		return nil, errs.Wrap(errs.KindConnectTimeout, errors.New("deadline already passed"))
	}
	conn, err := s.dial(ctx, s.dialer(remaining), "tcp", address)
	if err != nil {
		return nil, errs.Translate(err)
	}
	return conn, nil
}

func (s *Stream) dialer(timeout time.Duration) *net.Dialer {
	d := &net.Dialer{
		Timeout:   timeout,
		KeepAlive: s.cfg.KeepAlive,
		Resolver:  s.cfg.Resolver,
	}
	if s.cfg.EnableMultipath {
		d.SetMultipathTCP(true)
	}
	if hook := s.cfg.Hook; hook != nil {
		d.ControlContext = func(_ context.Context, network, address string, c syscall.RawConn) error {
			return hook(network, address, c)
		}
	}
	return d
}

// this type should not be used outside this file; it rides the
// context so per-call requesters hear about parked connects without
// the bootstrap holding per-call state
type waitingCtx struct {
	context.Context
	fn func(error)
}

var waitingCtxKey = &waitingCtx{nil, nil}

func (c waitingCtx) Value(key interface{}) interface{} {
	if key == waitingCtxKey {
		return c.fn
	}
	return c.Context.Value(key)
}

// WithWaitingCallback arranges for fn to observe the first transient
// connectivity failure of a connect made under ctx.
func WithWaitingCallback(ctx context.Context, fn func(error)) context.Context {
	return waitingCtx{ctx, fn}
}

func (s *Stream) dial(ctx context.Context, d *net.Dialer, network, address string) (net.Conn, error) {
	if !s.cfg.WaitForConnectivity {
		return d.DialContext(ctx, network, address)
	}

	// park the connect call while the network is unreachable,
	// redialing under exponential backoff until the deadline cancels
	// the context
	var conn net.Conn
	notified := false
	op := func() error {
		c, err := d.DialContext(ctx, network, address)
		if err == nil {
			conn = c
			return nil
		}
		if !isConnectivityError(err) {
			return backoff.Permanent(err)
		}
		if !notified {
			notified = true
			if fn, ok := ctx.Value(waitingCtxKey).(func(error)); ok && fn != nil {
				fn(err)
			} else if s.cfg.OnWaiting != nil {
				s.cfg.OnWaiting(err)
			}
		}
		return err
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 3 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return conn, nil
}

func isConnectivityError(err error) bool {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return false
	}
	switch errno {
	case syscall.ENETUNREACH, syscall.ENETDOWN, syscall.EHOSTUNREACH:
		return true
	}
	return false
}

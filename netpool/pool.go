// Package netpool is the reuse primitive over established channels:
// connections are interchangeable exactly when their pool keys are
// equal. Each key has a cap on open and on idle channels and an
// optional maximum idle duration; any further policy (eviction,
// fairness) belongs to the layer above.
package netpool

import (
	"context"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/athq/go-httpcore/internal/target"
	"github.com/athq/go-httpcore/utils/nettools"
)

type Conn interface {
	io.ReadWriteCloser
	// Release returns the channel to its pool for reuse; Close
	// retires it.
	Release()
	Raw() net.Conn
}

type conn struct {
	conn     net.Conn
	isClosed atomic.Bool
	lastIdle time.Time
}

func (c *conn) available() bool {
	return !c.isClosed.Load() && nettools.Alive(c.conn)
}

func (c *conn) Write(p []byte) (int, error) {
	n, err := c.conn.Write(p)
	if err != nil {
		c.Close()
	}
	return n, err
}

func (c *conn) Read(p []byte) (int, error) {
	n, err := c.conn.Read(p)
	if err != nil && err != io.EOF {
		c.Close()
	}
	return n, err
}

func (c *conn) Close() error {
	c.isClosed.Store(true)
	return c.conn.Close()
}

type pooled struct {
	p *pool
	*conn
}

func (r pooled) Release()      { r.p.release(r.conn) }
func (r pooled) Raw() net.Conn { return r.conn.conn }

type pool struct {
	mu                     sync.Mutex
	connTicket, idleTicket chan struct{}
	idle                   []*conn
	maxIdleDuration        time.Duration
}

func newPool(maxIdle, maxConn uint, maxIdleDuration time.Duration) *pool {
	return &pool{
		connTicket:      make(chan struct{}, maxConn),
		idleTicket:      make(chan struct{}, maxIdle),
		maxIdleDuration: maxIdleDuration,
	}
}

func (p *pool) connect(ctx context.Context, dial func(ctx context.Context) (net.Conn, error)) (Conn, error) {
	select {
	case p.connTicket <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	for {
		select {
		case <-p.idleTicket:
			p.mu.Lock()
			c := p.idle[0]
			p.idle = p.idle[1:]
			p.mu.Unlock()
			if p.maxIdleDuration != 0 && time.Since(c.lastIdle) > p.maxIdleDuration {
				c.Close()
			} else if c.available() {
				return pooled{p, c}, nil
			}
		default:
			c, err := dial(ctx)
			if err != nil {
				<-p.connTicket
				return nil, err
			}
			return pooled{p, &conn{conn: c}}, nil
		}
	}
}

func (p *pool) release(c *conn) {
	<-p.connTicket
	if c.isClosed.Load() {
		return
	}
	select {
	case p.idleTicket <- struct{}{}:
		c.lastIdle = time.Now()
		p.mu.Lock()
		p.idle = append(p.idle, c)
		p.mu.Unlock()
	default:
		c.Close()
	}
}

// Group keys pools by [target.PoolKey]; scheme, target, SNI override
// and TLS fingerprint all participate, so channels negotiated
// differently never mix.
type Group struct {
	mu    sync.RWMutex
	pools map[string]*pool

	maxConnsPerKey, maxIdlePerKey uint
	maxIdleDuration               time.Duration
}

func NewGroup(maxConnsPerKey, maxIdlePerKey uint, maxIdleDuration time.Duration) *Group {
	return &Group{
		pools:          map[string]*pool{},
		maxConnsPerKey: maxConnsPerKey, maxIdlePerKey: maxIdlePerKey,
		maxIdleDuration: maxIdleDuration,
	}
}

// NewEmpty clones the group's limits without its connections.
func (g *Group) NewEmpty() *Group {
	return NewGroup(g.maxConnsPerKey, g.maxIdlePerKey, g.maxIdleDuration)
}

func (g *Group) Connect(ctx context.Context, key target.PoolKey, dial func(ctx context.Context) (net.Conn, error)) (Conn, error) {
	ks := key.String()
	g.mu.RLock()
	p, ok := g.pools[ks]
	g.mu.RUnlock()
	if ok {
		return p.connect(ctx, dial)
	}
	g.mu.Lock()
	if p, ok = g.pools[ks]; !ok {
		p = newPool(g.maxIdlePerKey, g.maxConnsPerKey, g.maxIdleDuration)
		g.pools[ks] = p
	}
	g.mu.Unlock()
	return p.connect(ctx, dial)
}

package conn

import (
	"bufio"
	"net"
	"sync/atomic"

	"github.com/pkg/errors"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/hpack"

	"github.com/athq/go-httpcore/internal/errs"
)

// h2 preface and the settings we advertise before handing the channel
// to the session layer
const clientPreface = "PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"

// peer default when the server's first SETTINGS carries no
// MAX_CONCURRENT_STREAMS
const defaultMaxConcurrentStreams = 100

// HTTP2Connection owns an h2-negotiated channel. start performs the
// connection preface exchange so the creator can report the peer's
// stream budget; everything past SETTINGS belongs to the session
// layer.
type HTTP2Connection struct {
	ID   uint64
	conn net.Conn

	framer  *http2.Framer
	br      *bufio.Reader
	decoder *hpack.Decoder

	maxStreams atomic.Uint32
	maxUses    int64
	uses       atomic.Int64

	streamInit DebugInitializer
}

// StreamInitializer is the per-stream debug hook the session layer
// runs on each stream channel it opens; nil when unconfigured.
func (c *HTTP2Connection) StreamInitializer() DebugInitializer { return c.streamInit }

func newHTTP2Connection(id uint64, c net.Conn, maxUses int64) *HTTP2Connection {
	br := bufio.NewReader(c)
	h := &HTTP2Connection{
		ID:      id,
		conn:    c,
		br:      br,
		framer:  http2.NewFramer(c, br),
		decoder: hpack.NewDecoder(4096, nil),
		maxUses: maxUses,
	}
	h.maxStreams.Store(defaultMaxConcurrentStreams)
	return h
}

func (c *HTTP2Connection) Conn() net.Conn { return c.conn }

func (c *HTTP2Connection) Close() error { return c.conn.Close() }

// MaximumStreams is the peer's MAX_CONCURRENT_STREAMS as of the
// preface exchange.
func (c *HTTP2Connection) MaximumStreams() uint32 { return c.maxStreams.Load() }

// Framer exposes the connection's framer to the session layer, which
// takes over all frame traffic after start.
func (c *HTTP2Connection) Framer() *http2.Framer { return c.framer }

func (c *HTTP2Connection) Use() bool {
	if c.maxUses <= 0 {
		return true
	}
	return c.uses.Add(1) <= c.maxUses
}

// start writes the client preface with our SETTINGS, then reads the
// server's first SETTINGS frame and acks it, recording the advertised
// stream budget.
func (c *HTTP2Connection) start() error {
	if _, err := c.conn.Write([]byte(clientPreface)); err != nil {
		return errs.Translate(err)
	}
	settings := []http2.Setting{
		{ID: http2.SettingEnablePush, Val: 0},
		{ID: http2.SettingInitialWindowSize, Val: 4 << 20},
	}
	if err := c.framer.WriteSettings(settings...); err != nil {
		return errs.Translate(err)
	}
	for {
		frame, err := c.framer.ReadFrame()
		if err != nil {
			return errs.Translate(err)
		}
		sf, ok := frame.(*http2.SettingsFrame)
		if !ok {
			return errors.Errorf("expected SETTINGS as first frame, got %T", frame)
		}
		if sf.IsAck() {
			continue
		}
		if v, ok := sf.Value(http2.SettingMaxConcurrentStreams); ok {
			c.maxStreams.Store(v)
		}
		return errs.Translate(c.framer.WriteSettingsAck())
	}
}

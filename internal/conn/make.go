package conn

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/athq/go-httpcore/internal/bootstrap"
	"github.com/athq/go-httpcore/internal/dialer"
	"github.com/athq/go-httpcore/internal/target"
)

// Decompression is the response-decompression policy; the connection
// layer never inspects it, it rides along for the HTTP layer.
type Decompression int

const (
	DecompressionDisabled Decompression = iota
	DecompressionEnabled
)

// Options configures connection start behavior past the channel
// pipeline itself.
type Options struct {
	// Decompression is handed to the HTTP layer with each started
	// connection.
	Decompression Decompression

	// MaximumUsesPerConnection caps how many requests a connection
	// serves before the pool retires it. Zero means unlimited.
	MaximumUsesPerConnection int64

	// Debug initializers run on the raw channel right after the
	// protocol connection starts; a failure fails creation. The
	// stream variant is handed to the HTTP/2 session layer to run on
	// each stream channel it opens.
	HTTP1DebugInitializer       DebugInitializer
	HTTP2DebugInitializer       DebugInitializer
	HTTP2StreamDebugInitializer DebugInitializer
}

// Maker builds started connections on top of a CoreDialer.
type Maker struct {
	Dialer  *dialer.CoreDialer
	Options Options
}

// MakeConnection drives the full pipeline for requester: establish
// the channel, start the protocol-specific connection object, run the
// debug initializer, then report exactly one terminal callback.
func (m *Maker) MakeConnection(ctx context.Context, req Requester, key target.PoolKey, connID uint64, deadline time.Time, logger zerolog.Logger) {
	ctx = bootstrap.WithWaitingCallback(ctx, func(err error) {
		req.WaitingForConnectivity(connID, err)
	})
	np, err := m.Dialer.DialChannel(ctx, key, connID, deadline, logger)
	if err != nil {
		req.FailedToCreate(connID, err)
		return
	}
	switch np.Version {
	case dialer.HTTP2:
		h2 := newHTTP2Connection(connID, np.Conn, m.Options.MaximumUsesPerConnection)
		h2.streamInit = m.Options.HTTP2StreamDebugInitializer
		if err := h2.start(); err != nil {
			np.Conn.Close()
			req.FailedToCreate(connID, err)
			return
		}
		if init := m.Options.HTTP2DebugInitializer; init != nil {
			if err := init(np.Conn); err != nil {
				np.Conn.Close()
				req.FailedToCreate(connID, err)
				return
			}
		}
		req.HTTP2Created(h2, h2.MaximumStreams())
	default:
		h1 := &HTTP1Connection{ID: connID, conn: np.Conn, maxUses: m.Options.MaximumUsesPerConnection}
		if init := m.Options.HTTP1DebugInitializer; init != nil {
			if err := init(np.Conn); err != nil {
				np.Conn.Close()
				req.FailedToCreate(connID, err)
				return
			}
		}
		req.HTTP1Created(h1)
	}
}

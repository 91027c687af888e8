package dialer

import (
	"context"
	"net"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	"github.com/athq/go-httpcore/internal/target"
	"github.com/athq/go-httpcore/netpool"
)

// DialPooled hands out an HTTP/1.1 channel for key, reusing an idle
// pooled one when available. HTTP/2 channels are multiplexed by the
// session layer and never enter the pool; callers wanting reuse here
// configure [HTTPVersion1Only].
func (d *CoreDialer) DialPooled(ctx context.Context, pool *netpool.Group, key target.PoolKey, connID uint64, deadline time.Time, logger zerolog.Logger) (netpool.Conn, error) {
	return pool.Connect(ctx, key, func(ctx context.Context) (net.Conn, error) {
		np, err := d.DialChannel(ctx, key, connID, deadline, logger)
		if err != nil {
			return nil, err
		}
		if np.Version != HTTP1_1 {
			np.Conn.Close()
			return nil, errors.Errorf("pooled dial requires http/1.1, negotiated %s", np.Version)
		}
		return np.Conn, nil
	})
}

// Package conn turns a negotiated channel into a started connection
// object and reports the outcome to the requester that asked for it.
package conn

import (
	"net"
	"sync/atomic"
)

// Requester receives the outcome of a MakeConnection call. Exactly
// one of the created/failed callbacks fires per call; WaitingForConnectivity
// may fire before either.
type Requester interface {
	HTTP1Created(*HTTP1Connection)
	HTTP2Created(c *HTTP2Connection, maximumStreams uint32)
	FailedToCreate(connID uint64, err error)
	WaitingForConnectivity(connID uint64, err error)
}

// DebugInitializer runs on a channel right after connection start;
// a non-nil error fails the connection creation.
type DebugInitializer func(net.Conn) error

// HTTP1Connection is the thin ownership wrapper handed to the HTTP/1.1
// session layer once a channel is established.
type HTTP1Connection struct {
	ID   uint64
	conn net.Conn

	maxUses int64
	uses    atomic.Int64
}

func (c *HTTP1Connection) Conn() net.Conn { return c.conn }

func (c *HTTP1Connection) Close() error { return c.conn.Close() }

// Use consumes one request slot; false means the connection exhausted
// its configured lifetime cap.
func (c *HTTP1Connection) Use() bool {
	if c.maxUses <= 0 {
		return true
	}
	return c.uses.Add(1) <= c.maxUses
}

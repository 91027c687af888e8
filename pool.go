package httpcore

import (
	"github.com/athq/go-httpcore/netpool"
)

// PoolGroup holds reusable channels keyed by [PoolKey]; see
// [CoreDialer.DialPooled].
type PoolGroup = netpool.Group
type PooledConn = netpool.Conn

var NewPoolGroup = netpool.NewGroup

// Package nettools probes raw sockets underneath pooled connections.
// An idle channel that went away while pooled should be detected
// before a request is written to it, not after.
package nettools

import (
	"net"
	"syscall"
)

type Mode int

const (
	ModePoll Mode = iota
	ModeAssume
)

var (
	supported = map[Mode]func(syscall.RawConn) bool{}
	picked    func(syscall.RawConn) bool
)

func init() {
	for _, mode := range []Mode{ModePoll} {
		if supported[mode] != nil {
			picked = supported[mode]
			break
		}
	}
	if picked == nil {
		// no probe on this platform; idle conns are assumed live and
		// failures surface on first write
		picked = func(syscall.RawConn) bool { return true }
	}
}

// Alive reports whether an idle connection is still usable. A pooled
// conn with pending readable data or a hangup is not: nothing should
// be in flight on an idle channel, so readability means the remote
// closed or broke protocol.
func Alive(c net.Conn) bool {
	raw := sysRawConn(c)
	if raw == nil {
		return true
	}
	return picked(raw)
}

func sysRawConn(raw net.Conn) syscall.RawConn {
	if t, ok := raw.(interface{ NetConn() net.Conn }); ok {
		// is *tls.Conn or a wrapper exposing the transport conn
		raw = t.NetConn()
	}
	if c, ok := raw.(syscall.Conn); ok {
		if rc, err := c.SyscallConn(); err == nil {
			return rc
		}
	}
	return nil
}

package bootstrap

import (
	"context"
	"net"
	"net/netip"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athq/go-httpcore/internal/errs"
	"github.com/athq/go-httpcore/internal/target"
)

func TestConnectPastDeadlineOpensNoSocket(t *testing.T) {
	s := NewStream(Config{}, nil)
	// an address nobody should be dialing; a past deadline must fail
	// before any I/O is attempted
	tgt := target.IP(netip.MustParseAddr("203.0.113.1"), 9)

	start := time.Now()
	_, err := s.Connect(context.Background(), tgt, time.Now().Add(-time.Second))
	assert.ErrorIs(t, err, errs.ErrConnectTimeout)
	assert.Less(t, time.Since(start), 100*time.Millisecond)
}

func TestConnectTCP(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go l.Accept()

	ap := netip.MustParseAddrPort(l.Addr().String())
	s := NewStream(Config{KeepAlive: 30 * time.Second}, nil)
	conn, err := s.Connect(context.Background(), target.IP(ap.Addr(), ap.Port()), time.Now().Add(2*time.Second))
	require.NoError(t, err)
	conn.Close()
}

func TestConnectUnixSocket(t *testing.T) {
	path := filepath.Join(t.TempDir(), "app.sock")
	l, err := net.Listen("unix", path)
	require.NoError(t, err)
	defer l.Close()
	go l.Accept()

	s := NewStream(Config{}, nil)
	conn, err := s.Connect(context.Background(), target.Unix(path), time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Equal(t, "unix", conn.RemoteAddr().Network())
	conn.Close()
}

func TestConnectRefusedIsPosix(t *testing.T) {
	// grab a port and close it so the dial is refused
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ap := netip.MustParseAddrPort(l.Addr().String())
	l.Close()

	s := NewStream(Config{}, nil)
	_, err = s.Connect(context.Background(), target.IP(ap.Addr(), ap.Port()), time.Now().Add(2*time.Second))
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindPosix, kind)
}

func TestConnectAddr(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go l.Accept()

	s := NewStream(Config{}, nil)
	conn, err := s.ConnectAddr(context.Background(), l.Addr().String(), time.Now().Add(2*time.Second))
	require.NoError(t, err)
	conn.Close()

	_, err = s.ConnectAddr(context.Background(), l.Addr().String(), time.Now().Add(-time.Second))
	assert.ErrorIs(t, err, errs.ErrConnectTimeout)
}

func TestSocketHookRuns(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go l.Accept()

	hookRan := make(chan struct{}, 1)
	s := NewStream(Config{Hook: func(network, address string, c syscall.RawConn) error {
		select {
		case hookRan <- struct{}{}:
		default:
		}
		return nil
	}}, nil)

	ap := netip.MustParseAddrPort(l.Addr().String())
	conn, err := s.Connect(context.Background(), target.IP(ap.Addr(), ap.Port()), time.Now().Add(2*time.Second))
	require.NoError(t, err)
	conn.Close()

	select {
	case <-hookRan:
	default:
		t.Fatal("socket hook did not run")
	}
}

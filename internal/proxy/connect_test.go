package proxy

import (
	"bufio"
	"context"
	"io"
	"net"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athq/go-httpcore/internal/errs"
	"github.com/athq/go-httpcore/internal/target"
)

// serve accepts one connection and runs handler on it.
func serve(t *testing.T, handler func(c net.Conn)) net.Addr {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		defer c.Close()
		handler(c)
	}()
	return l.Addr()
}

func dialTest(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func domainTarget(t *testing.T, name string, port uint16) target.Target {
	t.Helper()
	tgt, err := target.Domain(name, port)
	require.NoError(t, err)
	return tgt
}

func readRequestHead(c net.Conn) string {
	var head strings.Builder
	br := bufio.NewReader(c)
	for {
		line, err := br.ReadString('\n')
		head.WriteString(line)
		if err != nil || line == "\r\n" {
			return head.String()
		}
	}
}

func TestConnectSuccessLeavesTunnelBytesAlone(t *testing.T) {
	addr := serve(t, func(c net.Conn) {
		readRequestHead(c)
		// status, a header, then bytes that already belong to the tunnel
		c.Write([]byte("HTTP/1.1 200 Connection established\r\nVia: test\r\n\r\ntunnel-bytes"))
	})
	conn := dialTest(t, addr)

	neg := &HTTPConnect{}
	err := neg.Handshake(context.Background(), clock.New(), conn, domainTarget(t, "example.com", 80), time.Now().Add(2*time.Second))
	require.NoError(t, err)

	buf := make([]byte, 12)
	_, err = io.ReadFull(conn, buf)
	require.NoError(t, err)
	assert.Equal(t, "tunnel-bytes", string(buf))
}

func TestConnectRequestWireFormat(t *testing.T) {
	headCh := make(chan string, 1)
	addr := serve(t, func(c net.Conn) {
		headCh <- readRequestHead(c)
		c.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	})
	conn := dialTest(t, addr)

	neg := &HTTPConnect{Authorization: BasicAuth("user", "pass")}
	err := neg.Handshake(context.Background(), clock.New(), conn, domainTarget(t, "example.com", 443), time.Now().Add(2*time.Second))
	require.NoError(t, err)

	head := <-headCh
	assert.True(t, strings.HasPrefix(head, "CONNECT example.com:443 HTTP/1.1\r\n"), head)
	assert.Contains(t, head, "Host: example.com:443\r\n")
	assert.Contains(t, head, "Proxy-Authorization: Basic dXNlcjpwYXNz\r\n")
}

func TestConnectBearerAuthorization(t *testing.T) {
	headCh := make(chan string, 1)
	addr := serve(t, func(c net.Conn) {
		headCh <- readRequestHead(c)
		c.Write([]byte("HTTP/1.1 200 OK\r\n\r\n"))
	})
	conn := dialTest(t, addr)

	neg := &HTTPConnect{Authorization: BearerAuth("tok123")}
	err := neg.Handshake(context.Background(), clock.New(), conn, domainTarget(t, "example.com", 443), time.Now().Add(2*time.Second))
	require.NoError(t, err)
	assert.Contains(t, <-headCh, "Proxy-Authorization: Bearer tok123\r\n")
}

func TestConnectRejections(t *testing.T) {
	cases := map[string]struct {
		response string
		want     error
	}{
		"AuthRequired": {"HTTP/1.1 407 Proxy Authentication Required\r\n\r\n", errs.ErrProxyAuthRequired},
		"BadGateway":   {"HTTP/1.1 502 Bad Gateway\r\n\r\n", errs.InvalidProxyStatus(502)},
		"Garbage":      {"not-http\r\n\r\n", errs.InvalidProxyResponse("")},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			addr := serve(t, func(conn net.Conn) {
				readRequestHead(conn)
				conn.Write([]byte(c.response))
			})
			conn := dialTest(t, addr)
			neg := &HTTPConnect{}
			err := neg.Handshake(context.Background(), clock.New(), conn, domainTarget(t, "example.com", 80), time.Now().Add(2*time.Second))
			require.Error(t, err)
			wantKind, _ := errs.KindOf(c.want)
			kind, ok := errs.KindOf(err)
			require.True(t, ok)
			assert.Equal(t, wantKind, kind)
		})
	}
}

func TestConnectDeadProxyTimesOut(t *testing.T) {
	addr := serve(t, func(c net.Conn) {
		// accept TCP but never reply
		io.Copy(io.Discard, c)
	})
	conn := dialTest(t, addr)

	start := time.Now()
	neg := &HTTPConnect{}
	err := neg.Handshake(context.Background(), clock.New(), conn, domainTarget(t, "example.com", 80), time.Now().Add(200*time.Millisecond))
	assert.ErrorIs(t, err, errs.ErrHTTPProxyTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestConnectRemoteClosedMidHandshake(t *testing.T) {
	addr := serve(t, func(c net.Conn) {
		readRequestHead(c)
		c.Write([]byte("HTTP/1.1 2"))
	})
	conn := dialTest(t, addr)
	neg := &HTTPConnect{}
	err := neg.Handshake(context.Background(), clock.New(), conn, domainTarget(t, "example.com", 80), time.Now().Add(2*time.Second))
	assert.ErrorIs(t, err, errs.ErrRemoteClosed)
}

package proxy

import (
	"bufio"
	"context"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/athq/go-httpcore/internal/errs"
	"github.com/athq/go-httpcore/internal/target"
)

// HTTPConnect tunnels through an HTTP proxy with a CONNECT exchange:
//
//	CONNECT host:port HTTP/1.1\r\n
//	Host: host:port\r\n
//	[Proxy-Authorization: ...\r\n]
//	\r\n
type HTTPConnect struct {
	Authorization Authorization
}

func (h *HTTPConnect) Handshake(ctx context.Context, clk clock.Clock, conn net.Conn, t target.Target, deadline time.Time) error {
	g := newGuard(clk, conn, errs.ErrHTTPProxyTimeout)
	g.activate(deadline)

	authority := t.HostPort()
	if err := h.writeRequest(conn, authority); err != nil {
		return g.finish(err)
	}
	status, err := readResponseHead(conn)
	if err != nil {
		return g.finish(err)
	}
	switch {
	case status/100 == 2:
		return g.finish(nil)
	case status == 407:
		return g.finish(errs.ErrProxyAuthRequired)
	default:
		return g.finish(errs.InvalidProxyStatus(status))
	}
}

func (h *HTTPConnect) writeRequest(conn net.Conn, authority string) error {
	w := bufio.NewWriter(conn)
	w.WriteString("CONNECT ")
	w.WriteString(authority)
	w.WriteString(" HTTP/1.1\r\nHost: ")
	w.WriteString(authority)
	w.WriteString("\r\n")
	if auth := h.Authorization.headerValue(); auth != "" {
		w.WriteString("Proxy-Authorization: ")
		w.WriteString(auth)
		w.WriteString("\r\n")
	}
	w.WriteString("\r\n")
	if err := w.Flush(); err != nil {
		return errs.Translate(err)
	}
	return nil
}

// readResponseHead consumes the status line and header block and
// nothing past it. reads are single-byte on purpose: bytes after the
// terminator belong to the tunnel and must not sit in a buffer the
// proxy layer owns.
func readResponseHead(conn net.Conn) (int, error) {
	line, err := readLine(conn)
	if err != nil {
		return 0, err
	}
	status, err := parseStatusLine(line)
	if err != nil {
		return 0, err
	}
	for {
		line, err := readLine(conn)
		if err != nil {
			return 0, err
		}
		if line == "" {
			return status, nil
		}
	}
}

const maxHeadBytes = 16 << 10

func readLine(conn net.Conn) (string, error) {
	var b strings.Builder
	buf := [1]byte{}
	for b.Len() < maxHeadBytes {
		if err := readFull(conn, buf[:]); err != nil {
			return "", err
		}
		if buf[0] == '\n' {
			return strings.TrimSuffix(b.String(), "\r"), nil
		}
		b.WriteByte(buf[0])
	}
	return "", errs.InvalidProxyResponse("header line too long")
}

func parseStatusLine(line string) (int, error) {
	proto, rest, ok := strings.Cut(line, " ")
	if !ok || !strings.HasPrefix(proto, "HTTP/1.") {
		return 0, errs.InvalidProxyResponse("malformed status line " + strconv.Quote(line))
	}
	code, _, _ := strings.Cut(rest, " ")
	if len(code) != 3 {
		return 0, errs.InvalidProxyResponse("malformed status code " + strconv.Quote(code))
	}
	status, err := strconv.Atoi(code)
	if err != nil || status < 100 {
		return 0, errs.InvalidProxyResponse("malformed status code " + strconv.Quote(code))
	}
	return status, nil
}

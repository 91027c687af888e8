package proxy

import (
	"context"
	"encoding/binary"
	"net"
	"strconv"
	"time"

	"github.com/benbjohnson/clock"

	"github.com/athq/go-httpcore/internal/errs"
	"github.com/athq/go-httpcore/internal/target"
)

// Socks5 implements RFC 1928 with the RFC 1929 username/password
// sub-negotiation, no extensions. Domain targets are sent as-is so
// the proxy resolves them; the local resolver's results never appear
// on this wire.
type Socks5 struct {
	Authorization Authorization
}

const (
	socksVersion     = 0x05
	socksCmdConnect  = 0x01
	socksAuthVersion = 0x01

	methodNoAuth       = 0x00
	methodUserPass     = 0x02
	methodNoAcceptable = 0xFF

	atypIPv4   = 0x01
	atypDomain = 0x03
	atypIPv6   = 0x04
)

var socksReplies = map[byte]string{
	0x01: "general SOCKS server failure",
	0x02: "connection not allowed by ruleset",
	0x03: "network unreachable",
	0x04: "host unreachable",
	0x05: "connection refused",
	0x06: "TTL expired",
	0x07: "command not supported",
	0x08: "address type not supported",
}

func (s *Socks5) Handshake(ctx context.Context, clk clock.Clock, conn net.Conn, t target.Target, deadline time.Time) error {
	g := newGuard(clk, conn, errs.ErrSocksTimeout)
	g.activate(deadline)

	method, err := s.greet(conn)
	if err != nil {
		return g.finish(err)
	}
	switch method {
	case methodNoAuth:
	case methodUserPass:
		if err := s.authenticate(conn); err != nil {
			return g.finish(err)
		}
	case methodNoAcceptable:
		return g.finish(errs.ErrProxyAuthRequired)
	default:
		return g.finish(errs.InvalidProxyResponse("server selected unknown method " + strconv.Itoa(int(method))))
	}
	return g.finish(s.connect(conn, t))
}

func (s *Socks5) greet(conn net.Conn) (byte, error) {
	methods := []byte{methodNoAuth}
	if s.Authorization.kind == authBasic {
		methods = append(methods, methodUserPass)
	}
	greeting := append([]byte{socksVersion, byte(len(methods))}, methods...)
	if _, err := conn.Write(greeting); err != nil {
		return 0, errs.Translate(err)
	}
	var sel [2]byte
	if err := readFull(conn, sel[:]); err != nil {
		return 0, err
	}
	if sel[0] != socksVersion {
		return 0, errs.InvalidProxyResponse("bad version in method selection")
	}
	if sel[1] == methodUserPass && s.Authorization.kind != authBasic {
		return 0, errs.ErrProxyAuthRequired
	}
	return sel[1], nil
}

func (s *Socks5) authenticate(conn net.Conn) error {
	user, pass := s.Authorization.user, s.Authorization.pass
	if len(user) > 255 || len(pass) > 255 {
		return errs.Newf(errs.KindProxyAuthenticationRequired, "credentials exceed 255 bytes")
	}
	req := make([]byte, 0, 3+len(user)+len(pass))
	req = append(req, socksAuthVersion, byte(len(user)))
	req = append(req, user...)
	req = append(req, byte(len(pass)))
	req = append(req, pass...)
	if _, err := conn.Write(req); err != nil {
		return errs.Translate(err)
	}
	var resp [2]byte
	if err := readFull(conn, resp[:]); err != nil {
		return err
	}
	if resp[0] != socksAuthVersion {
		return errs.InvalidProxyResponse("bad version in auth reply")
	}
	if resp[1] != 0x00 {
		return errs.ErrProxyAuthRequired
	}
	return nil
}

func (s *Socks5) connect(conn net.Conn, t target.Target) error {
	req := []byte{socksVersion, socksCmdConnect, 0x00}
	switch {
	case t.IsIP() && t.Addr().Is4():
		ip := t.Addr().As4()
		req = append(req, atypIPv4)
		req = append(req, ip[:]...)
	case t.IsIP():
		ip := t.Addr().As16()
		req = append(req, atypIPv6)
		req = append(req, ip[:]...)
	default:
		name := t.DomainName()
		if len(name) > 255 {
			return errs.InvalidProxyResponse("domain name exceeds 255 bytes")
		}
		req = append(req, atypDomain, byte(len(name)))
		req = append(req, name...)
	}
	req = binary.BigEndian.AppendUint16(req, t.Port())
	if _, err := conn.Write(req); err != nil {
		return errs.Translate(err)
	}

	var head [4]byte
	if err := readFull(conn, head[:]); err != nil {
		return err
	}
	if head[0] != socksVersion {
		return errs.InvalidProxyResponse("bad version in connect reply")
	}
	if head[1] != 0x00 {
		detail := socksReplies[head[1]]
		if detail == "" {
			detail = "reply code " + strconv.Itoa(int(head[1]))
		}
		return errs.InvalidProxyResponse(detail)
	}
	// drain BND.ADDR/BND.PORT; nothing past it is ours to read
	var bndLen int
	switch head[3] {
	case atypIPv4:
		bndLen = 4
	case atypIPv6:
		bndLen = 16
	case atypDomain:
		var l [1]byte
		if err := readFull(conn, l[:]); err != nil {
			return err
		}
		bndLen = int(l[0])
	default:
		return errs.InvalidProxyResponse("bad address type in connect reply")
	}
	bnd := make([]byte, bndLen+2)
	return readFull(conn, bnd)
}

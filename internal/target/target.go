// Package target normalises request destinations into the values the
// connection layer keys on: a [Target], its [Scheme] and the [PoolKey]
// that decides whether an established channel may be reused.
package target

import (
	"net"
	"net/netip"
	"net/url"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"golang.org/x/net/idna"
)

type Scheme string

const (
	SchemeHTTP      Scheme = "http"
	SchemeHTTPS     Scheme = "https"
	SchemeHTTPUnix  Scheme = "http+unix"
	SchemeHTTPSUnix Scheme = "https+unix"
	SchemeUnix      Scheme = "unix"
)

func ParseScheme(s string) (Scheme, error) {
	switch sc := Scheme(strings.ToLower(s)); sc {
	case SchemeHTTP, SchemeHTTPS, SchemeHTTPUnix, SchemeHTTPSUnix, SchemeUnix:
		return sc, nil
	default:
		return "", errors.Errorf("unsupported scheme %q", s)
	}
}

func (s Scheme) UsesTLS() bool {
	return s == SchemeHTTPS || s == SchemeHTTPSUnix
}

// Proxyable reports whether requests for this scheme may be routed
// through a configured proxy. Unix-socket schemes never are.
func (s Scheme) Proxyable() bool {
	return s == SchemeHTTP || s == SchemeHTTPS
}

func (s Scheme) defaultPort() uint16 {
	if s.UsesTLS() {
		return 443
	}
	return 80
}

type targetKind int

const (
	kindIP targetKind = iota
	kindDomain
	kindUnix
)

// Target is the normalised destination of a connection attempt:
// an IP address with port, a domain with port, or a unix socket path.
// A domain Target never holds an IP literal.
type Target struct {
	kind   targetKind
	ip     netip.Addr
	domain string
	port   uint16
	path   string
}

func IP(addr netip.Addr, port uint16) Target {
	return Target{kind: kindIP, ip: addr.Unmap(), port: port}
}

func Domain(name string, port uint16) (Target, error) {
	if _, err := netip.ParseAddr(name); err == nil {
		return Target{}, errors.Errorf("domain target holds IP literal %q", name)
	}
	// idna lowercases, punycodes any non-ASCII label and rejects
	// anything it considers malformed
	ascii, err := idna.Lookup.ToASCII(name)
	if err != nil {
		return Target{}, errors.Wrapf(err, "invalid domain %q", name)
	}
	return Target{kind: kindDomain, domain: ascii, port: port}, nil
}

func Unix(path string) Target {
	return Target{kind: kindUnix, path: path}
}

func (t Target) IsIP() bool     { return t.kind == kindIP }
func (t Target) IsDomain() bool { return t.kind == kindDomain }
func (t Target) IsUnix() bool   { return t.kind == kindUnix }

func (t Target) Addr() netip.Addr { return t.ip }
func (t Target) DomainName() string { return t.domain }
func (t Target) Port() uint16     { return t.port }
func (t Target) Path() string     { return t.path }

// Host returns the value to present in Host headers and SNI-less
// contexts: the domain, the IP literal, or the socket path.
func (t Target) Host() string {
	switch t.kind {
	case kindIP:
		return t.ip.String()
	case kindDomain:
		return t.domain
	default:
		return t.path
	}
}

// HostPort renders the dialable "host:port" form. IPv6 literals are
// bracketed. Unix targets return the path unchanged.
func (t Target) HostPort() string {
	if t.kind == kindUnix {
		return t.path
	}
	return net.JoinHostPort(t.Host(), strconv.Itoa(int(t.port)))
}

func (t Target) String() string { return t.HostPort() }

// FromURL derives the Target for u. Bracketed IPv6 literals and IPv4
// dotted quads become IP targets, anything else a domain. Missing
// ports default per scheme. Unix schemes carry the socket path in the
// url host or path component.
func FromURL(u *url.URL, scheme Scheme) (Target, error) {
	if scheme == SchemeUnix || scheme == SchemeHTTPUnix || scheme == SchemeHTTPSUnix {
		path := u.Host
		if path == "" {
			path = u.Path
		}
		if path == "" {
			return Target{}, errors.New("unix target missing socket path")
		}
		return Unix(path), nil
	}
	host := u.Hostname()
	if host == "" {
		return Target{}, errors.New("target missing host")
	}
	port := scheme.defaultPort()
	if p := u.Port(); p != "" {
		n, err := strconv.ParseUint(p, 10, 16)
		if err != nil {
			return Target{}, errors.Wrapf(err, "invalid port %q", p)
		}
		port = uint16(n)
	}
	if addr, err := netip.ParseAddr(host); err == nil {
		return IP(addr, port), nil
	}
	return Domain(host, port)
}

// KeyForURL derives the pool key a request against u belongs to.
func KeyForURL(u *url.URL, sniOverride, fingerprint string) (PoolKey, error) {
	scheme, err := ParseScheme(u.Scheme)
	if err != nil {
		return PoolKey{}, err
	}
	t, err := FromURL(u, scheme)
	if err != nil {
		return PoolKey{}, err
	}
	return PoolKey{Scheme: scheme, Target: t, SNIOverride: sniOverride, TLSFingerprint: fingerprint}, nil
}

// PoolKey identifies a class of interchangeable channels. Two requests
// with equal keys may share an established connection; path, query,
// headers and body never participate.
type PoolKey struct {
	Scheme Scheme
	Target Target

	// SNIOverride is kept apart from the target host: a caller may
	// reach 10.0.0.1:443 while presenting SNI api.example.com.
	SNIOverride string

	// TLSFingerprint names a client-hello preset; channels built with
	// different fingerprints are never interchangeable.
	TLSFingerprint string
}

func (k PoolKey) String() string {
	var b strings.Builder
	b.WriteString(string(k.Scheme))
	b.WriteString("|")
	b.WriteString(k.Target.HostPort())
	if k.SNIOverride != "" {
		b.WriteString("|sni=")
		b.WriteString(k.SNIOverride)
	}
	if k.TLSFingerprint != "" {
		b.WriteString("|fp=")
		b.WriteString(k.TLSFingerprint)
	}
	return b.String()
}

// ServerName returns the SNI to present for this key: the override if
// any, else the domain name. IP and unix targets yield "" so the TLS
// layer omits the extension.
func (k PoolKey) ServerName() string {
	if k.SNIOverride != "" {
		return k.SNIOverride
	}
	if k.Target.IsDomain() {
		return k.Target.DomainName()
	}
	return ""
}

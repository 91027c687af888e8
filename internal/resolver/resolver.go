// Package resolver maps domain names onto dialable socket addresses.
//
// we need a dedicated resolver for two scenarios:
//
//  1. racing resolved addresses ourselves when a custom resolver is
//     configured (the bootstrap cannot iterate it natively then)
//  2. customizing the DNS server used for resolving hostnames
//
// the standard library didn't provide an intuitive way of setting DNS
// server addresses since it only follows the system configuration
// (e.g. /etc/resolv.conf), leaving only the [net.Resolver.Dial] hook
// with a Go Resolver. this package takes advantage of that hook.
package resolver

import (
	"context"
	"net"
	"net/netip"

	"github.com/pkg/errors"
)

// Resolver maps a host to an ordered, non-empty list of addresses.
// Implementations may be arbitrarily slow; they are always called with
// a deadline-carrying context.
type Resolver interface {
	LookupIP(ctx context.Context, network, host string) ([]net.IP, error)
}

type Config struct {
	CustomDNSServer string
	Network         string            // one of "ip4", "ip6", default is "ip"
	StaticHosts     map[string]string // resembles /etc/hosts

	// Custom overrides the default resolver entirely. When set, the
	// dial pipeline resolves explicitly and races the results instead
	// of installing the resolver on the bootstrap.
	Custom Resolver
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	return &Config{
		CustomDNSServer: c.CustomDNSServer,
		Network:         c.Network,
		StaticHosts:     c.StaticHosts,
		Custom:          c.Custom,
	}
}

// this type should not be used outside this file.
// prevents non-custom DNS server contexts to iterate through all keys
type dnsServerCtx struct {
	context.Context
	server string
}

var dnsServerCtxKey = &dnsServerCtx{nil, "dns-server"} // non-nil pointer to any object, definitely unique

func (c dnsServerCtx) Value(key interface{}) interface{} {
	if key == dnsServerCtxKey {
		return c.server
	}
	return c.Context.Value(key)
}

var zeroDialer net.Dialer

var customServerResolver = net.Resolver{
	PreferGo: true,
	Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
		if v, ok := ctx.Value(dnsServerCtxKey).(string); ok && v != "" {
			return zeroDialer.DialContext(ctx, network, v)
		}
		return zeroDialer.DialContext(ctx, network, address)
	},
}

// Native returns the *[net.Resolver] to install on a bootstrap so the
// platform iterates addresses itself (Happy Eyeballs). nil means the
// platform default. Configs with a Custom resolver have no native
// form; callers must take the explicit-resolution path instead.
func (c *Config) Native() *net.Resolver {
	if c == nil || c.CustomDNSServer == "" {
		return nil
	}
	return &customServerResolver
}

// WithServer wraps ctx so that [Native]'s resolver dials the
// configured DNS server for lookups made under it.
func (c *Config) WithServer(ctx context.Context) context.Context {
	if c == nil || c.CustomDNSServer == "" {
		return ctx
	}
	return dnsServerCtx{ctx, c.CustomDNSServer}
}

// Lookup resolves host through the configured resolver chain:
// static hosts first, then the custom resolver if any, then the Go
// resolver pointed at the custom DNS server.
func (c *Config) Lookup(ctx context.Context, host string) ([]net.IP, error) {
	network := "ip"
	if c != nil && c.Network != "" {
		network = c.Network
	}
	if c != nil {
		if static, ok := c.StaticHosts[host]; ok {
			ip := net.ParseIP(static)
			if ip == nil {
				return nil, errors.Errorf("static host %q maps to invalid address %q", host, static)
			}
			return []net.IP{ip}, nil
		}
		if c.Custom != nil {
			return lookupNonEmpty(ctx, c.Custom, network, host)
		}
	}
	var server string
	if c != nil {
		server = c.CustomDNSServer
	}
	return lookupNonEmpty(dnsServerCtx{ctx, server}, &goResolver{}, network, host)
}

func lookupNonEmpty(ctx context.Context, r Resolver, network, host string) ([]net.IP, error) {
	ips, err := r.LookupIP(ctx, network, host)
	if err != nil {
		return nil, err
	}
	if len(ips) == 0 {
		return nil, errors.Errorf("resolver returned no addresses for %q", host)
	}
	return ips, nil
}

type goResolver struct{}

func (goResolver) LookupIP(ctx context.Context, network, host string) ([]net.IP, error) {
	return customServerResolver.LookupIP(ctx, network, host)
}

// AddrPorts pairs resolved IPs with port, preserving resolver order.
func AddrPorts(ips []net.IP, port uint16) []netip.AddrPort {
	out := make([]netip.AddrPort, 0, len(ips))
	for _, ip := range ips {
		if a, ok := netip.AddrFromSlice(ip); ok {
			out = append(out, netip.AddrPortFrom(a.Unmap(), port))
		}
	}
	return out
}

// IsLocalhost reports whether host names the loopback interface; the
// explicit-resolution race path is skipped for these.
func IsLocalhost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

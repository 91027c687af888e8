// Package tlsconf compiles TLS configurations into reusable handshake
// contexts and performs the deadline-bound client handshake with
// ALPN-based protocol selection.
package tlsconf

import (
	"crypto/sha256"
	"crypto/tls"
	"crypto/x509"
	"encoding/binary"
	"encoding/hex"
	"fmt"
)

// Config is the caller-facing TLS surface. ALPN is deliberately
// absent: the core owns it (see [Negotiator]).
type Config struct {
	InsecureSkipVerify bool
	RootCAs            *x509.CertPool
	Certificates       []tls.Certificate
	MinVersion         uint16
	MaxVersion         uint16

	// FingerprintPreset names a client-hello shape ("chrome",
	// "firefox", "safari", "edge"). Empty means a stock handshake.
	FingerprintPreset string

	// OptionsHook mutates the per-connection handshake config right
	// before the handshake runs, the stream-transport analogue of a
	// native TLS options configurator. Hooks do not participate in
	// the cache key; configs differing only by hook share a context.
	OptionsHook func(*tls.Config)
}

func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	cc := *c
	cc.Certificates = append([]tls.Certificate(nil), c.Certificates...)
	return &cc
}

// key is the structural cache identity. Scalar fields go in verbatim;
// certificate chains by leaf digest; the root pool by pointer, since
// [x509.CertPool] contents cannot be enumerated and callers share
// pools rather than rebuild equal ones.
func (c *Config) key() string {
	h := sha256.New()
	var scalars [6]byte
	if c.InsecureSkipVerify {
		scalars[0] = 1
	}
	binary.BigEndian.PutUint16(scalars[1:3], c.MinVersion)
	binary.BigEndian.PutUint16(scalars[3:5], c.MaxVersion)
	h.Write(scalars[:])
	h.Write([]byte(c.FingerprintPreset))
	fmt.Fprintf(h, "%p", c.RootCAs)
	for _, cert := range c.Certificates {
		if len(cert.Certificate) > 0 {
			h.Write(cert.Certificate[0])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

// compile builds the immutable handshake context for c.
func (c *Config) compile() (*Context, error) {
	std := &tls.Config{
		InsecureSkipVerify: c.InsecureSkipVerify,
		RootCAs:            c.RootCAs,
		Certificates:       append([]tls.Certificate(nil), c.Certificates...),
		MinVersion:         c.MinVersion,
		MaxVersion:         c.MaxVersion,
	}
	ctx := &Context{std: std, hook: c.OptionsHook}
	if c.FingerprintPreset != "" {
		hello, err := lookupPreset(c.FingerprintPreset)
		if err != nil {
			return nil, err
		}
		ctx.hello = hello
		ctx.fingerprinted = true
	}
	return ctx, nil
}

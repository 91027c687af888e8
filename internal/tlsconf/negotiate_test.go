package tlsconf

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"io"
	"math/big"
	"net"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/athq/go-httpcore/internal/errs"
)

func selfSigned(t *testing.T) tls.Certificate {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	tmpl := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "localhost"},
		DNSNames:     []string{"localhost"},
		IPAddresses:  []net.IP{net.ParseIP("127.0.0.1")},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageDigitalSignature | x509.KeyUsageCertSign,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

// tlsServe runs a TLS server advertising the given ALPN protocols for
// a single connection.
func tlsServe(t *testing.T, nextProtos []string) net.Addr {
	t.Helper()
	cert := selfSigned(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		srv := tls.Server(c, &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: nextProtos})
		if err := srv.Handshake(); err != nil {
			c.Close()
			return
		}
		io.Copy(io.Discard, srv)
		srv.Close()
	}()
	return l.Addr()
}

func dialTCP(t *testing.T, addr net.Addr) net.Conn {
	t.Helper()
	c, err := net.Dial("tcp", addr.String())
	require.NoError(t, err)
	t.Cleanup(func() { c.Close() })
	return c
}

func TestHandshakeNegotiatesH2(t *testing.T) {
	addr := tlsServe(t, []string{"h2", "http/1.1"})
	conn := dialTCP(t, addr)

	n := NewNegotiator(nil, nil)
	cfg := &Config{InsecureSkipVerify: true}
	tlsConn, proto, err := n.Handshake(context.Background(), conn, cfg, "localhost", ALPNAuto, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	defer tlsConn.Close()
	assert.Equal(t, "h2", proto)
}

func TestHandshakeHTTP1OnlyNeverNegotiatesH2(t *testing.T) {
	addr := tlsServe(t, []string{"h2", "http/1.1"})
	conn := dialTCP(t, addr)

	n := NewNegotiator(nil, nil)
	cfg := &Config{InsecureSkipVerify: true}
	tlsConn, proto, err := n.Handshake(context.Background(), conn, cfg, "localhost", ALPNHTTP1Only, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	defer tlsConn.Close()
	assert.Equal(t, "http/1.1", proto)
}

func TestHandshakeNoALPN(t *testing.T) {
	addr := tlsServe(t, nil)
	conn := dialTCP(t, addr)

	n := NewNegotiator(nil, nil)
	cfg := &Config{InsecureSkipVerify: true}
	tlsConn, proto, err := n.Handshake(context.Background(), conn, cfg, "localhost", ALPNAuto, time.Now().Add(2*time.Second))
	require.NoError(t, err)
	defer tlsConn.Close()
	assert.Equal(t, "", proto)
}

func TestHandshakeHangTimesOut(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		// TCP accepts, TLS never completes
		io.Copy(io.Discard, c)
	}()
	conn := dialTCP(t, l.Addr())

	start := time.Now()
	n := NewNegotiator(nil, nil)
	_, _, err = n.Handshake(context.Background(), conn, &Config{InsecureSkipVerify: true}, "localhost", ALPNAuto, time.Now().Add(200*time.Millisecond))
	assert.ErrorIs(t, err, errs.ErrTLSHandshakeTimeout)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestHandshakePastDeadline(t *testing.T) {
	client, server := net.Pipe()
	defer server.Close()
	n := NewNegotiator(nil, nil)
	_, _, err := n.Handshake(context.Background(), client, nil, "localhost", ALPNAuto, time.Now().Add(-time.Second))
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindTLSHandshakeTimeout, kind)
}

func TestHandshakeVerificationFailureIsTLSError(t *testing.T) {
	addr := tlsServe(t, []string{"http/1.1"})
	conn := dialTCP(t, addr)

	n := NewNegotiator(clock.New(), NewContextCache())
	// no roots, verification on: the self-signed chain must fail
	_, _, err := n.Handshake(context.Background(), conn, &Config{}, "localhost", ALPNAuto, time.Now().Add(2*time.Second))
	require.Error(t, err)
	kind, ok := errs.KindOf(err)
	require.True(t, ok)
	assert.Equal(t, errs.KindTLS, kind)
}

func TestContextCacheSharesCompiledContexts(t *testing.T) {
	cache := NewContextCache()
	cfg := &Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS12}

	first, err := cache.Get(cfg)
	require.NoError(t, err)

	// structural equality, not object identity
	same, err := cache.Get(cfg.Clone())
	require.NoError(t, err)
	assert.Same(t, first, same)

	other, err := cache.Get(&Config{InsecureSkipVerify: true, MinVersion: tls.VersionTLS13})
	require.NoError(t, err)
	assert.NotSame(t, first, other)
}

func TestContextCacheConcurrentGets(t *testing.T) {
	cache := NewContextCache()
	cfg := &Config{InsecureSkipVerify: true}
	results := make(chan *Context, 16)
	for i := 0; i < 16; i++ {
		go func() {
			ctx, err := cache.Get(cfg.Clone())
			assert.NoError(t, err)
			results <- ctx
		}()
	}
	first := <-results
	for i := 1; i < 16; i++ {
		assert.Same(t, first, <-results)
	}
}

func TestUnknownFingerprintPreset(t *testing.T) {
	_, err := NewContextCache().Get(&Config{FingerprintPreset: "netscape"})
	assert.Error(t, err)
}

func TestFingerprintPresetCompiles(t *testing.T) {
	ctx, err := NewContextCache().Get(&Config{FingerprintPreset: "chrome", InsecureSkipVerify: true})
	require.NoError(t, err)
	assert.True(t, ctx.fingerprinted)
}

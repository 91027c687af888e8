package conn

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
	"net/url"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/http2"

	"github.com/athq/go-httpcore/internal/dialer"
	"github.com/athq/go-httpcore/internal/target"
	"github.com/athq/go-httpcore/internal/tlsconf"
)

type recordingRequester struct {
	http1   chan *HTTP1Connection
	http2   chan *HTTP2Connection
	streams chan uint32
	failed  chan error
	waiting chan error
}

func newRecordingRequester() *recordingRequester {
	return &recordingRequester{
		http1:   make(chan *HTTP1Connection, 1),
		http2:   make(chan *HTTP2Connection, 1),
		streams: make(chan uint32, 1),
		failed:  make(chan error, 1),
		waiting: make(chan error, 1),
	}
}

func (r *recordingRequester) HTTP1Created(c *HTTP1Connection) { r.http1 <- c }
func (r *recordingRequester) HTTP2Created(c *HTTP2Connection, maxStreams uint32) {
	r.http2 <- c
	r.streams <- maxStreams
}
func (r *recordingRequester) FailedToCreate(_ uint64, err error)         { r.failed <- err }
func (r *recordingRequester) WaitingForConnectivity(_ uint64, err error) { r.waiting <- err }

func keyFor(t *testing.T, raw string) target.PoolKey {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	key, err := target.KeyForURL(u, "", "")
	require.NoError(t, err)
	return key
}

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
		KeyUsage:     x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, tmpl, tmpl, &key.PublicKey, key)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: key}
}

func TestMakeConnectionHTTP1(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		io.Copy(io.Discard, c)
	}()

	initialized := make(chan struct{}, 1)
	m := &Maker{
		Dialer: &dialer.CoreDialer{},
		Options: Options{
			MaximumUsesPerConnection: 2,
			HTTP1DebugInitializer: func(net.Conn) error {
				initialized <- struct{}{}
				return nil
			},
		},
	}
	req := newRecordingRequester()
	m.MakeConnection(context.Background(), req, keyFor(t, "http://"+l.Addr().String()+"/"), 7, time.Now().Add(2*time.Second), zerolog.Nop())

	select {
	case c := <-req.http1:
		assert.Equal(t, uint64(7), c.ID)
		assert.True(t, c.Use())
		assert.True(t, c.Use())
		assert.False(t, c.Use(), "third use exceeds the configured cap")
		c.Close()
	case err := <-req.failed:
		t.Fatalf("unexpected failure: %v", err)
	}
	<-initialized
}

// h2Serve speaks just enough server-side HTTP/2 for the connection
// preface exchange.
func h2Serve(t *testing.T, maxStreams uint32) net.Addr {
	t.Helper()
	cert := selfSigned(t)
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })
	go func() {
		raw, err := l.Accept()
		if err != nil {
			return
		}
		srv := tls.Server(raw, &tls.Config{Certificates: []tls.Certificate{cert}, NextProtos: []string{"h2"}})
		if err := srv.Handshake(); err != nil {
			raw.Close()
			return
		}
		preface := make([]byte, len("PRI * HTTP/2.0\r\n\r\nSM\r\n\r\n"))
		if _, err := io.ReadFull(srv, preface); err != nil {
			return
		}
		framer := http2.NewFramer(srv, srv)
		if _, err := framer.ReadFrame(); err != nil { // client SETTINGS
			return
		}
		framer.WriteSettings(http2.Setting{ID: http2.SettingMaxConcurrentStreams, Val: maxStreams})
		framer.ReadFrame() // client SETTINGS ack
		io.Copy(io.Discard, srv)
	}()
	return l.Addr()
}

func TestMakeConnectionHTTP2ReportsMaximumStreams(t *testing.T) {
	addr := h2Serve(t, 250)

	m := &Maker{Dialer: &dialer.CoreDialer{TLSConfig: &tlsconf.Config{InsecureSkipVerify: true}}}
	req := newRecordingRequester()
	m.MakeConnection(context.Background(), req, keyFor(t, "https://"+addr.String()+"/"), 1, time.Now().Add(2*time.Second), zerolog.Nop())

	select {
	case c := <-req.http2:
		assert.Equal(t, uint32(250), <-req.streams)
		assert.Equal(t, uint32(250), c.MaximumStreams())
		c.Close()
	case err := <-req.failed:
		t.Fatalf("unexpected failure: %v", err)
	}
}

func TestMakeConnectionDebugInitializerFailureFailsCreation(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	go func() {
		c, err := l.Accept()
		if err != nil {
			return
		}
		io.Copy(io.Discard, c)
	}()

	boom := errors.New("initializer boom")
	m := &Maker{
		Dialer:  &dialer.CoreDialer{},
		Options: Options{HTTP1DebugInitializer: func(net.Conn) error { return boom }},
	}
	req := newRecordingRequester()
	m.MakeConnection(context.Background(), req, keyFor(t, "http://"+l.Addr().String()+"/"), 1, time.Now().Add(2*time.Second), zerolog.Nop())

	select {
	case err := <-req.failed:
		assert.ErrorIs(t, err, boom)
	case <-req.http1:
		t.Fatal("connection should not have been created")
	}
}

func TestMakeConnectionDialFailure(t *testing.T) {
	m := &Maker{Dialer: &dialer.CoreDialer{}}
	req := newRecordingRequester()
	m.MakeConnection(context.Background(), req, keyFor(t, "http://127.0.0.1:1/"), 1, time.Now().Add(time.Second), zerolog.Nop())
	assert.Error(t, <-req.failed)
}

// Package errs defines the error vocabulary of the connection layer.
// Stage failures are reported as an *[Error] with a [Kind]; [Translate]
// maps the platform errors it recognises into that vocabulary and
// returns any other error unchanged.
package errs

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"io"
	"net"
	"strconv"
	"syscall"

	pkgerrors "github.com/pkg/errors"
)

type Kind int

const (
	KindConnectTimeout Kind = iota
	KindSocksHandshakeTimeout
	KindHTTPProxyHandshakeTimeout
	KindTLSHandshakeTimeout
	KindInvalidProxyResponse
	KindProxyAuthenticationRequired
	KindUnsupportedALPN
	KindRemoteConnectionClosed
	KindCancelled
	KindDeadlineExceeded
	KindTLS
	KindPosix
)

var kindNames = map[Kind]string{
	KindConnectTimeout:              "connect timeout",
	KindSocksHandshakeTimeout:       "SOCKS handshake timeout",
	KindHTTPProxyHandshakeTimeout:   "HTTP proxy handshake timeout",
	KindTLSHandshakeTimeout:         "TLS handshake timeout",
	KindInvalidProxyResponse:        "invalid proxy response",
	KindProxyAuthenticationRequired: "proxy authentication required",
	KindUnsupportedALPN:             "server offered unsupported application protocol",
	KindRemoteConnectionClosed:      "remote connection closed",
	KindCancelled:                   "cancelled",
	KindDeadlineExceeded:            "deadline exceeded",
	KindTLS:                         "TLS error",
	KindPosix:                       "posix error",
}

type Error struct {
	kind   Kind
	detail string
	cause  error
}

func New(kind Kind) *Error { return &Error{kind: kind} }

func Newf(kind Kind, detail string) *Error { return &Error{kind: kind, detail: detail} }

// Wrap attaches a cause to kind. A nil cause is allowed.
func Wrap(kind Kind, cause error) *Error { return &Error{kind: kind, cause: cause} }

func (e *Error) Kind() Kind { return e.kind }

func (e *Error) Error() string {
	msg := kindNames[e.kind]
	if e.detail != "" {
		msg += ": " + e.detail
	}
	if e.cause != nil {
		msg += ": " + e.cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.cause }

// Is matches on kind only, so sentinel comparison via [errors.Is]
// works regardless of detail or cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.kind == e.kind
}

var (
	ErrConnectTimeout      = New(KindConnectTimeout)
	ErrSocksTimeout        = New(KindSocksHandshakeTimeout)
	ErrHTTPProxyTimeout    = New(KindHTTPProxyHandshakeTimeout)
	ErrTLSHandshakeTimeout = New(KindTLSHandshakeTimeout)
	ErrProxyAuthRequired   = New(KindProxyAuthenticationRequired)
	ErrRemoteClosed        = New(KindRemoteConnectionClosed)
	ErrCancelled           = New(KindCancelled)
	ErrDeadlineExceeded    = New(KindDeadlineExceeded)
)

func InvalidProxyResponse(detail string) *Error {
	return Newf(KindInvalidProxyResponse, detail)
}

func InvalidProxyStatus(status int) *Error {
	return Newf(KindInvalidProxyResponse, "status "+strconv.Itoa(status))
}

func UnsupportedALPN(proto string) *Error {
	return Newf(KindUnsupportedALPN, strconv.Quote(proto))
}

func Posix(errno syscall.Errno) *Error {
	return &Error{kind: KindPosix, detail: errno.Error(), cause: errno}
}

func TLS(cause error) *Error {
	return &Error{kind: KindTLS, cause: cause}
}

// KindOf reports the kind of err, walking the cause chain.
// ok is false when err carries no *[Error].
func KindOf(err error) (Kind, bool) {
	var e *Error
	if pkgerrors.As(err, &e) {
		return e.kind, true
	}
	return 0, false
}

// Translate maps platform errors into the library vocabulary at the
// factory boundary. Errors already in the vocabulary pass through
// untouched, keeping their cause chains.
func Translate(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if pkgerrors.As(err, &e) {
		return err
	}
	switch {
	case pkgerrors.Is(err, context.DeadlineExceeded):
		return Wrap(KindConnectTimeout, err)
	case pkgerrors.Is(err, context.Canceled):
		return Wrap(KindCancelled, err)
	case pkgerrors.Is(err, io.EOF), pkgerrors.Is(err, io.ErrUnexpectedEOF), pkgerrors.Is(err, net.ErrClosed):
		return Wrap(KindRemoteConnectionClosed, err)
	}
	var errno syscall.Errno
	if pkgerrors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.EPIPE:
			return Wrap(KindRemoteConnectionClosed, err)
		case syscall.ETIMEDOUT:
			return Wrap(KindConnectTimeout, err)
		}
		return &Error{kind: KindPosix, detail: errno.Error(), cause: err}
	}
	var (
		recordErr tls.RecordHeaderError
		alertErr  tls.AlertError
		certErr   *tls.CertificateVerificationError
		unkErr    x509.UnknownAuthorityError
		hostErr   x509.HostnameError
	)
	if pkgerrors.As(err, &recordErr) || pkgerrors.As(err, &alertErr) ||
		pkgerrors.As(err, &certErr) || pkgerrors.As(err, &unkErr) || pkgerrors.As(err, &hostErr) {
		return TLS(err)
	}
	var netErr net.Error
	if pkgerrors.As(err, &netErr) && netErr.Timeout() {
		return Wrap(KindConnectTimeout, err)
	}
	return err
}

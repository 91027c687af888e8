package errs

import (
	"context"
	"io"
	"syscall"
	"testing"

	pkgerrors "github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsMatchesOnKind(t *testing.T) {
	err := Wrap(KindConnectTimeout, syscall.ETIMEDOUT)
	assert.ErrorIs(t, err, ErrConnectTimeout)
	assert.NotErrorIs(t, err, ErrTLSHandshakeTimeout)

	wrapped := pkgerrors.Wrap(err, "dial stage")
	assert.ErrorIs(t, wrapped, ErrConnectTimeout)
	kind, ok := KindOf(wrapped)
	assert.True(t, ok)
	assert.Equal(t, KindConnectTimeout, kind)
}

func TestTranslate(t *testing.T) {
	cases := map[string]struct {
		in   error
		kind Kind
	}{
		"DeadlineExceeded":  {context.DeadlineExceeded, KindConnectTimeout},
		"ContextCancel":     {context.Canceled, KindCancelled},
		"EOF":               {io.EOF, KindRemoteConnectionClosed},
		"UnexpectedEOF":     {io.ErrUnexpectedEOF, KindRemoteConnectionClosed},
		"ConnReset":         {syscall.ECONNRESET, KindRemoteConnectionClosed},
		"BrokenPipe":        {syscall.EPIPE, KindRemoteConnectionClosed},
		"Errno":             {syscall.ECONNREFUSED, KindPosix},
		"EtimedoutIsTimout": {syscall.ETIMEDOUT, KindConnectTimeout},
	}
	for name, c := range cases {
		t.Run(name, func(t *testing.T) {
			kind, ok := KindOf(Translate(c.in))
			assert.True(t, ok)
			assert.Equal(t, c.kind, kind)
		})
	}
}

func TestTranslatePassesLibraryErrorsThrough(t *testing.T) {
	in := InvalidProxyStatus(502)
	assert.Equal(t, in, Translate(in))

	wrapped := pkgerrors.Wrap(ErrSocksTimeout, "stage")
	assert.Equal(t, wrapped, Translate(wrapped))
}

func TestTranslateNil(t *testing.T) {
	assert.NoError(t, Translate(nil))
}

func TestErrorStrings(t *testing.T) {
	assert.Equal(t, "invalid proxy response: status 502", InvalidProxyStatus(502).Error())
	assert.Equal(t, `server offered unsupported application protocol: "spdy/3"`, UnsupportedALPN("spdy/3").Error())
	assert.Contains(t, Wrap(KindConnectTimeout, io.EOF).Error(), "connect timeout")
}

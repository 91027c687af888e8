package tlsconf

import (
	"github.com/pkg/errors"
	utls "github.com/refraction-networking/utls"
)

// browser client-hello presets; "auto" variants track the latest
// shape the utls release knows
var presets = map[string]utls.ClientHelloID{
	"chrome":  utls.HelloChrome_Auto,
	"firefox": utls.HelloFirefox_Auto,
	"safari":  utls.HelloSafari_Auto,
	"edge":    utls.HelloEdge_Auto,
}

func lookupPreset(name string) (utls.ClientHelloID, error) {
	id, ok := presets[name]
	if !ok {
		return utls.ClientHelloID{}, errors.Errorf("unknown TLS fingerprint preset %q", name)
	}
	return id, nil
}

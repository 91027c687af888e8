package tlsconf

import (
	"crypto/tls"
	"sync"

	utls "github.com/refraction-networking/utls"
)

// Context is a compiled, immutable TLS handshake context shared by
// every channel whose [Config] is structurally equal.
type Context struct {
	std           *tls.Config
	hello         utls.ClientHelloID
	fingerprinted bool
	hook          func(*tls.Config)
}

// client returns a per-connection *[tls.Config] carrying the
// connection's SNI and ALPN on top of the shared context.
func (c *Context) client(serverName string, alpn []string) *tls.Config {
	cfg := c.std.Clone()
	cfg.ServerName = serverName
	cfg.NextProtos = alpn
	if c.hook != nil {
		c.hook(cfg)
	}
	return cfg
}

func (c *Context) uclient(serverName string, alpn []string) *utls.Config {
	return &utls.Config{
		ServerName:         serverName,
		NextProtos:         alpn,
		InsecureSkipVerify: c.std.InsecureSkipVerify,
		RootCAs:            c.std.RootCAs,
		MinVersion:         c.std.MinVersion,
		MaxVersion:         c.std.MaxVersion,
	}
}

// ContextCache memoises compiled contexts by structural config key.
// At most one compile runs per key; simultaneous requesters wait on
// the single in-flight build. Entries are immutable once cached.
type ContextCache struct {
	mu      sync.Mutex
	entries map[string]*cacheEntry
}

type cacheEntry struct {
	ready chan struct{}
	ctx   *Context
	err   error
}

func NewContextCache() *ContextCache {
	return &ContextCache{entries: map[string]*cacheEntry{}}
}

func (cc *ContextCache) Get(cfg *Config) (*Context, error) {
	if cfg == nil {
		cfg = &Config{}
	}
	key := cfg.key()
	cc.mu.Lock()
	e, ok := cc.entries[key]
	if ok {
		cc.mu.Unlock()
		<-e.ready
		return e.ctx, e.err
	}
	e = &cacheEntry{ready: make(chan struct{})}
	cc.entries[key] = e
	cc.mu.Unlock()

	e.ctx, e.err = cfg.compile()
	close(e.ready)
	if e.err != nil {
		// failed builds are not pinned; a later Get retries
		cc.mu.Lock()
		delete(cc.entries, key)
		cc.mu.Unlock()
	}
	return e.ctx, e.err
}

package transaction

import (
	"context"
	"sync"
)

// responsePromise is the single-shot rendezvous between the state
// machine and the caller awaiting the response head. Resolution is
// idempotent; the first succeed or fail wins.
type responsePromise struct {
	once sync.Once
	done chan struct{}
	resp *Response
	err  error
}

func newResponsePromise() *responsePromise {
	return &responsePromise{done: make(chan struct{})}
}

func (p *responsePromise) succeed(resp *Response) {
	p.once.Do(func() {
		p.resp = resp
		close(p.done)
	})
}

func (p *responsePromise) fail(err error) {
	p.once.Do(func() {
		p.err = err
		close(p.done)
	})
}

func (p *responsePromise) resolved() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

func (p *responsePromise) await(ctx context.Context) (*Response, error) {
	select {
	case <-p.done:
		return p.resp, p.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

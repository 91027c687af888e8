package dialer

import (
	"context"
)

// FirstSuccess runs n attempts concurrently and completes with the
// first result that pred accepts. Rejected and late results are
// handed to discard. When every attempt fails, the last error wins.
// This is the selection primitive for racing resolved endpoints when
// the platform bootstrap cannot iterate them natively.
func FirstSuccess[T any](ctx context.Context, n int, run func(ctx context.Context, i int) (T, error), pred func(T) bool, discard func(T)) (T, error) {
	type outcome struct {
		val T
		err error
	}
	ctx, cancel := context.WithCancel(ctx)
	results := make(chan outcome, n)
	for i := 0; i < n; i++ {
		go func(i int) {
			val, err := run(ctx, i)
			results <- outcome{val, err}
		}(i)
	}

	var zero T
	var lastErr error
	for i := 0; i < n; i++ {
		out := <-results
		if out.err != nil {
			lastErr = out.err
			continue
		}
		if !pred(out.val) {
			discard(out.val)
			continue
		}
		cancel()
		// stragglers drain in the background; the channel is
		// buffered so none of them block forever
		go func(remaining int) {
			for j := 0; j < remaining; j++ {
				if late := <-results; late.err == nil {
					discard(late.val)
				}
			}
		}(n - i - 1)
		return out.val, nil
	}
	cancel()
	return zero, lastErr
}

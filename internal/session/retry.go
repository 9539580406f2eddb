package session

import (
	"context"
	"time"
)

// retry runs op up to attempts times, doubling the pause between tries.
// Each try gets its own timeout derived from ctx.
func retry(ctx context.Context, attempts int, backoff, timeout time.Duration, op func(context.Context) error) error {
	var err error
	delay := backoff
	for i := 0; i < attempts; i++ {
		callCtx, cancel := context.WithTimeout(ctx, timeout)
		err = op(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		delay *= 2
	}
	return err
}

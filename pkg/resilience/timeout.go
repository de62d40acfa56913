package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// WithTimeout bounds one call of fn. fn must honour its context; the
// deadline error is reported with the operation name and limit.
func WithTimeout(ctx context.Context, timeout time.Duration, name string, fn func(ctx context.Context) error) error {
	if timeout <= 0 {
		return fn(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	err := fn(tctx)
	if err != nil && errors.Is(tctx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%s: %w (limit %v): %v", name, context.DeadlineExceeded, timeout, err)
	}
	return err
}

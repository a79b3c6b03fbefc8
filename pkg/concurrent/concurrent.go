package concurrent

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// Workers normalizes a requested worker count: anything below one means one
// worker per CPU.
func Workers(n int) int {
	if n < 1 {
		return runtime.GOMAXPROCS(0)
	}
	return n
}

// ForEach runs action for every item with at most workers goroutines in flight.
// It returns the first error; once an action fails or ctx is done no further
// items are scheduled, while actions already running finish.
func ForEach[T any](ctx context.Context, items []T, workers int, action func(context.Context, T) error) error {
	group, gctx := errgroup.WithContext(ctx)
	group.SetLimit(Workers(workers))

	for _, item := range items {
		if gctx.Err() != nil {
			break
		}
		group.Go(func() error {
			return action(gctx, item)
		})
	}

	if err := group.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

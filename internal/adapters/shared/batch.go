package shared

import (
	"context"

	"github.com/sourcegraph/conc/pool"
)

// Batch runs fn for every item with at most limit calls in flight and returns
// the results in input order.
func Batch[T, R any](ctx context.Context, items []T, limit int, fn func(context.Context, int, T) R) []R {
	results := make([]R, len(items))
	if len(items) == 0 {
		return results
	}
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	p := pool.New().WithMaxGoroutines(limit)
	for i, item := range items {
		p.Go(func() {
			results[i] = fn(ctx, i, item)
		})
	}
	p.Wait()
	return results
}

// ForEach runs fn for every item with at most limit calls in flight and joins the errors.
func ForEach[T any](ctx context.Context, items []T, limit int, fn func(context.Context, T) error) error {
	if len(items) == 0 {
		return nil
	}
	if limit <= 0 || limit > len(items) {
		limit = len(items)
	}
	p := pool.New().WithErrors().WithContext(ctx).WithMaxGoroutines(limit)
	for _, item := range items {
		p.Go(func(ctx context.Context) error {
			return fn(ctx, item)
		})
	}
	return p.Wait()
}

package reports

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// Settled is the outcome of one dependent fetch.
type Settled[R any] struct {
	Value R
	Err   error
}

// Or returns the value, or fallback when the call failed.
func (s Settled[R]) Or(fallback R) R {
	if s.Err != nil {
		return fallback
	}
	return s.Value
}

// MapSettled calls fn for every item with at most limit calls in flight and
// returns the outcomes in input order. A failing call never cancels the others.
// The error is non-nil only when ctx ends before every call has settled.
func MapSettled[T, R any](ctx context.Context, limit int, items []T, fn func(context.Context, T) (R, error)) ([]Settled[R], error) {
	out := make([]Settled[R], len(items))
	var g errgroup.Group
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, item := range items {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				out[i].Err = err
				return nil
			}
			v, err := fn(ctx, item)
			out[i] = Settled[R]{Value: v, Err: err}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

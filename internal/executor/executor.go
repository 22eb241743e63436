// Package executor runs independent items on a bounded worker pool and
// returns their results in input order.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
)

// ErrInvalidConcurrency is returned for a non-positive concurrency.
var ErrInvalidConcurrency = errors.New("concurrency must be > 0")

// ItemFailure is one failed item.
type ItemFailure struct {
	Index int
	Err   error
}

// AggregateError collects every item failure of one Execute call, ordered by
// item index.
type AggregateError struct {
	Failures []ItemFailure
}

func (e *AggregateError) Error() string {
	if len(e.Failures) == 1 {
		return fmt.Sprintf("item %d failed: %v", e.Failures[0].Index, e.Failures[0].Err)
	}
	msgs := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		msgs = append(msgs, fmt.Sprintf("item %d: %v", f.Index, f.Err))
	}
	return fmt.Sprintf("%d items failed: %s", len(e.Failures), strings.Join(msgs, "; "))
}

func (e *AggregateError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failures))
	for _, f := range e.Failures {
		errs = append(errs, f.Err)
	}
	return errs
}

// Execute applies fn to every item with at most min(concurrency, len(items))
// calls in flight. Results are positional: results[i] belongs to items[i],
// whatever the completion order. A failing item never cancels the others;
// every scheduled item runs to completion before Execute returns. When any
// item fails, the results of the items that succeeded are still returned
// alongside an *AggregateError.
func Execute[T, R any](ctx context.Context, items []T, concurrency int, fn func(ctx context.Context, index int, item T) (R, error)) ([]R, error) {
	if concurrency <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidConcurrency, concurrency)
	}
	results := make([]R, len(items))
	if len(items) == 0 {
		return results, nil
	}
	errs := make([]error, len(items))

	var g errgroup.Group
	g.SetLimit(min(concurrency, len(items)))
	for i, item := range items {
		g.Go(func() error {
			r, err := fn(ctx, i, item)
			results[i] = r
			errs[i] = err
			return nil
		})
	}
	_ = g.Wait()

	var agg AggregateError
	for i, err := range errs {
		if err != nil {
			agg.Failures = append(agg.Failures, ItemFailure{Index: i, Err: err})
		}
	}
	if len(agg.Failures) > 0 {
		return results, &agg
	}
	return results, nil
}

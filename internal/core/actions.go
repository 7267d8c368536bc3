package core

import (
	"context"
	"sync"

	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/semaphore"

	"github.com/faultline-io/faultline/internal/domain"
)

// forEachMember runs fn once per member concurrently, bounded by
// maxParallel, and joins on all of them: a failing member never aborts the
// others. Per-member failures are aggregated, with invalid requests ordered
// ahead of everything else so callers see the unrecoverable cause first.
func forEachMember(ctx context.Context, members []domain.Member, maxParallel int, fn func(context.Context, domain.Member) error) error {
	if maxParallel <= 0 {
		maxParallel = len(members)
	}
	sem := semaphore.NewWeighted(int64(maxParallel))
	errs := make([]error, len(members))

	var wg sync.WaitGroup
	for i, m := range members {
		wg.Add(1)
		go func(i int, m domain.Member) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				errs[i] = err
				return
			}
			defer sem.Release(1)
			errs[i] = fn(ctx, m)
		}(i, m)
	}
	wg.Wait()

	return aggregate(errs)
}

func aggregate(errs []error) error {
	var invalid, rest []error
	for _, err := range errs {
		switch {
		case err == nil:
		case domain.IsInvalidRequest(err):
			invalid = append(invalid, err)
		default:
			rest = append(rest, err)
		}
	}

	var agg *multierror.Error
	agg = multierror.Append(agg, invalid...)
	agg = multierror.Append(agg, rest...)
	return agg.ErrorOrNil()
}

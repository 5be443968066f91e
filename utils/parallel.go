package utils

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// ParallelFactor is the worker count used when a caller asks for zero or fewer workers.
var ParallelFactor = runtime.GOMAXPROCS(0)

func init() {
	if ParallelFactor <= 0 {
		ParallelFactor = 1
	}
}

// IndexedWorkFunc does one unit of work identified by its index.
type IndexedWorkFunc func(ctx context.Context, index int) error

// ParallelFor calls f for every index in [0, totalSize) on at most numWorkers goroutines. The first
// error (or recovered panic) cancels the context handed to the remaining work and is returned.
func ParallelFor(ctx context.Context, numWorkers, totalSize int, f IndexedWorkFunc) error {
	if numWorkers <= 0 {
		numWorkers = ParallelFactor
	}
	if numWorkers == 1 {
		for i := 0; i < totalSize; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := f(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(numWorkers)
	for i := 0; i < totalSize; i++ {
		index := i
		group.Go(func() (err error) {
			defer func() {
				if thePanic := recover(); thePanic != nil {
					err = fmt.Errorf("got panic running work item %d in parallel: %v", index, thePanic)
				}
			}()
			if err := groupCtx.Err(); err != nil {
				return err
			}
			return f(groupCtx, index)
		})
	}
	return group.Wait()
}

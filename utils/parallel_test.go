package utils

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"

	"go.viam.com/test"
)

func TestParallelFor(t *testing.T) {
	for _, workers := range []int{0, 1, 4} {
		out := make([]int, 100)
		err := ParallelFor(context.Background(), workers, len(out), func(ctx context.Context, i int) error {
			out[i] = i * i
			return nil
		})
		test.That(t, err, test.ShouldBeNil)
		for i, v := range out {
			test.That(t, v, test.ShouldEqual, i*i)
		}
	}

	var calls atomic.Int32
	err := ParallelFor(context.Background(), 1, 10, func(ctx context.Context, i int) error {
		calls.Add(1)
		if i == 2 {
			return errors.New("bad")
		}
		return nil
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldEqual, "bad")
	test.That(t, calls.Load(), test.ShouldEqual, int32(3))

	err = ParallelFor(context.Background(), 3, 10, func(ctx context.Context, i int) error {
		if i == 5 {
			panic(1)
		}
		return nil
	})
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "panic")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err = ParallelFor(ctx, 2, 10, func(ctx context.Context, i int) error { return nil })
	test.That(t, err, test.ShouldBeError, context.Canceled)
}

// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package workerspool runs bounded fork-join batches of workers.
//
// Every call to Pool.ForkJoin spawns a fresh set of goroutines and returns only after all of them
// finished: there are no long-lived workers.
package workerspool

import (
	"context"
	"fmt"
	"runtime"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"
)

// ErrWorkerFailed is wrapped by the error returned by ForkJoin when a worker panics.
var ErrWorkerFailed = errors.New("worker failed")

// Range is a half-open interval [Start, End) of row indices.
type Range struct {
	Start, End int
}

// Len returns the number of rows in the range.
func (r Range) Len() int { return r.End - r.Start }

// String implements fmt.Stringer.
func (r Range) String() string { return fmt.Sprintf("[%d, %d)", r.Start, r.End) }

// Partition splits [0, total) into `parts` contiguous chunks of total/parts rows each.
//
// Remainder rows are not assigned to any chunk: they are returned in dropped, and are the
// last `total % parts` rows. It panics if parts <= 0.
func Partition(total, parts int) (ranges []Range, dropped int) {
	if parts <= 0 {
		exceptions.Panicf("workerspool.Partition: parts must be > 0, got %d", parts)
	}
	chunk := total / parts
	ranges = make([]Range, parts)
	for i := range ranges {
		ranges[i] = Range{Start: i * chunk, End: (i + 1) * chunk}
	}
	return ranges, total - chunk*parts
}

type Pool struct {
	// maxParallelism is a hard limit on the number of goroutines running at the same time.
	// If set to 0 tasks are executed inline, sequentially.
	// If set to -1 parallelism is unlimited.
	maxParallelism int
}

// New returns a new Pool of workers with the default parallelism (runtime.NumCPU()).
func New() *Pool {
	return &Pool{maxParallelism: runtime.NumCPU()}
}

// IsEnabled returns whether parallelism is enabled (maxParallelism is != 0)
func (w *Pool) IsEnabled() bool {
	return w.maxParallelism != 0
}

// IsUnlimited returns whether parallelism is unlimited (maxParallelism < 0)
func (w *Pool) IsUnlimited() bool {
	return w.maxParallelism < 0
}

// MaxParallelism returns the limit of goroutines running at the same time.
func (w *Pool) MaxParallelism() int {
	return w.maxParallelism
}

// SetMaxParallelism sets the maxParallelism. It returns the pool itself, so calls can be chained.
//
// You should only change the parallelism while no ForkJoin is running.
func (w *Pool) SetMaxParallelism(maxParallelism int) *Pool {
	w.maxParallelism = maxParallelism
	return w
}

// ForkJoin runs task(ctx, i) for i in [0, n), each on a fresh goroutine (at most MaxParallelism at a time),
// and waits for all of them.
//
// It returns the first error returned by a task. A task that panics is reported as an error wrapping
// ErrWorkerFailed. The ctx passed to the tasks is cancelled as soon as one of them fails, but tasks
// are not interrupted: they should check it if they run for long.
func (w *Pool) ForkJoin(ctx context.Context, n int, task func(ctx context.Context, worker int) error) error {
	if n <= 0 {
		return nil
	}
	if !w.IsEnabled() {
		for i := range n {
			if err := runTask(ctx, i, task); err != nil {
				return err
			}
		}
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	if !w.IsUnlimited() {
		g.SetLimit(w.maxParallelism)
	}
	for i := range n {
		g.Go(func() error {
			return runTask(gCtx, i, task)
		})
	}
	return g.Wait()
}

// runTask runs the task converting panics to errors.
func runTask(ctx context.Context, worker int, task func(ctx context.Context, worker int) error) error {
	var taskErr error
	exception := exceptions.Try(func() {
		taskErr = task(ctx, worker)
	})
	if exception != nil {
		klog.Errorf("worker #%d panicked: %v", worker, exception)
		if err, ok := exception.(error); ok {
			return errors.Wrapf(ErrWorkerFailed, "worker #%d: %+v", worker, err)
		}
		return errors.Wrapf(ErrWorkerFailed, "worker #%d: %v", worker, exception)
	}
	return taskErr
}

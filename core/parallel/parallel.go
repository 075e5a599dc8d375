// Package parallel is the fixed-size worker pool shared by dataset construction,
// histogram building and prediction. Every call blocks until all work is done.
package parallel

import (
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Workers normalizes a num_threads setting: non-positive means one worker per CPU.
func Workers(numThreads int) int {
	if numThreads <= 0 {
		return runtime.NumCPU()
	}
	return numThreads
}

// Parallelize divides items into at most numWorkers contiguous ranges and runs fn
// on each range (start, end) concurrently.
func Parallelize(numWorkers, items int, fn func(start, end int)) {
	if items <= 0 {
		return
	}
	numWorkers = Workers(numWorkers)
	if numWorkers > items {
		numWorkers = items
	}
	if numWorkers == 1 {
		fn(0, items)
		return
	}

	chunkSize := (items + numWorkers - 1) / numWorkers

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > items {
			end = items
		}
		if start >= end {
			continue
		}

		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			fn(s, e)
		}(start, end)
	}
	wg.Wait()
}

// ParallelizeWithThreshold runs fn sequentially when items <= threshold.
func ParallelizeWithThreshold(numWorkers, items, threshold int, fn func(start, end int)) {
	if items <= threshold {
		if items > 0 {
			fn(0, items)
		}
		return
	}
	Parallelize(numWorkers, items, fn)
}

// ForEach calls fn(i) for every i in [0, n) with at most numWorkers goroutines in
// flight. The first error is returned after all started calls have finished.
func ForEach(numWorkers, n int, fn func(i int) error) error {
	if n <= 0 {
		return nil
	}
	numWorkers = Workers(numWorkers)
	if numWorkers == 1 {
		for i := 0; i < n; i++ {
			if err := fn(i); err != nil {
				return err
			}
		}
		return nil
	}

	var g errgroup.Group
	g.SetLimit(numWorkers)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return fn(i)
		})
	}
	return g.Wait()
}

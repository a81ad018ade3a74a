// Package parallel runs independent jobs on a bounded number of goroutines.
package parallel

import (
	"context"
	"runtime"
	"sync"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled    bool // Whether parallel execution is enabled.
	NumWorkers int  // Maximum number of concurrent jobs.
}

// DefaultConfig returns sensible defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:    n > 1,
		NumWorkers: n,
	}
}

// For executes f(ctx, i) for i in [0, n) and returns the error of each job,
// indexed like the jobs. Jobs not started before ctx is done get ctx.Err().
// Falls back to sequential execution if parallelism is disabled or there is a
// single job.
func For(ctx context.Context, n int, f func(ctx context.Context, i int) error, cfg Config) []error {
	errs := make([]error, n)
	run := func(i int) {
		if err := ctx.Err(); err != nil {
			errs[i] = err
			return
		}
		errs[i] = f(ctx, i)
	}

	workers := min(cfg.NumWorkers, n)
	if !cfg.Enabled || workers <= 1 {
		for i := 0; i < n; i++ {
			run(i)
		}
		return errs
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				run(i)
			}
		}()
	}
	for i := 0; i < n; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()
	return errs
}

// First returns the first non-nil error of errs, or nil.
func First(errs []error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}

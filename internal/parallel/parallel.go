// Package parallel runs independent units of conversion work concurrently.
package parallel

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Config controls parallel execution behavior.
type Config struct {
	Enabled      bool // Whether parallel execution is enabled.
	NumWorkers   int  // Number of worker goroutines to use.
	MinChunkSize int  // Minimum items per goroutine for For.
}

// DefaultConfig returns defaults based on CPU count.
func DefaultConfig() Config {
	n := runtime.NumCPU()
	return Config{
		Enabled:      n > 1,
		NumWorkers:   n,
		MinChunkSize: 64,
	}
}

// Sequential returns a configuration that runs everything on the calling goroutine.
func Sequential() Config {
	return Config{NumWorkers: 1}
}

func (cfg Config) workers() int {
	if !cfg.Enabled || cfg.NumWorkers < 1 {
		return 1
	}
	return cfg.NumWorkers
}

// For executes f(i) for i in [0, n), splitting the range in contiguous chunks.
// Falls back to sequential execution if parallelism is disabled or n is too small.
// Used for cheap per-row work such as quantizing the rows of a weight matrix.
func For(n int, f func(i int), cfg Config) {
	workers := cfg.workers()
	if workers == 1 || n < cfg.MinChunkSize {
		for i := 0; i < n; i++ {
			f(i)
		}
		return
	}

	var wg sync.WaitGroup
	chunkSize := max((n+workers-1)/workers, cfg.MinChunkSize, 1)

	for start := 0; start < n; start += chunkSize {
		end := min(start+chunkSize, n)
		wg.Add(1)
		go func(s, e int) {
			defer wg.Done()
			for i := s; i < e; i++ {
				f(i)
			}
		}(start, end)
	}
	wg.Wait()
}

// ForEach executes f(ctx, i) for i in [0, n) on at most cfg.NumWorkers goroutines.
//
// Each index is one unit of work (e.g. filling one decoder layer), so there is no
// chunking. The first error cancels the context passed to the remaining calls and is
// returned once all started calls have finished. A canceled ctx is reported as ctx.Err()
// even when every started call succeeded.
func ForEach(ctx context.Context, n int, f func(ctx context.Context, i int) error, cfg Config) error {
	workers := cfg.workers()
	if workers == 1 {
		for i := 0; i < n; i++ {
			if err := ctx.Err(); err != nil {
				return err
			}
			if err := f(ctx, i); err != nil {
				return err
			}
		}
		return nil
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for i := 0; i < n; i++ {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return f(gctx, i)
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

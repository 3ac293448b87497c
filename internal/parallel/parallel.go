// Package parallel splits index ranges across goroutines for the CPU kernels.
package parallel

import (
	"runtime"
	"sync"
)

// Config bounds the fan-out of a kernel. Workers <= 1 runs everything on
// the calling goroutine.
type Config struct {
	Workers int
	// MinRows is the smallest range worth splitting and the smallest
	// share handed to one worker.
	MinRows int
}

// DefaultConfig uses one worker per CPU.
func DefaultConfig() Config {
	return Config{Workers: runtime.NumCPU(), MinRows: 64}
}

// Sequential runs every kernel inline.
func Sequential() Config {
	return Config{Workers: 1}
}

func (c Config) share(n int) int {
	if c.Workers <= 1 || n < max(c.MinRows, 2) {
		return n
	}
	return max((n+c.Workers-1)/c.Workers, c.MinRows, 1)
}

// For calls fn(i) once for every i in [0, n). Indexes are split into
// contiguous ranges, one goroutine per range; For returns when all are done.
func For(n int, fn func(i int), cfg Config) {
	share := cfg.share(n)
	if share >= n {
		for i := range n {
			fn(i)
		}
		return
	}

	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += share {
		hi := min(lo+share, n)
		wg.Go(func() {
			for i := lo; i < hi; i++ {
				fn(i)
			}
		})
	}
	wg.Wait()
}

// ForBatch iterates the (batch, row) grid of a batched kernel as one flat
// range, so small batches of tall matrices still spread across workers.
func ForBatch(batch, rows int, fn func(b, r int), cfg Config) {
	For(batch*rows, func(k int) {
		fn(k/rows, k%rows)
	}, cfg)
}

// Package parallel splits row-oriented kernels of the CPU backend across
// goroutines.
package parallel

import (
	"runtime"
	"sync"
)

// Config controls how work is partitioned.
type Config struct {
	Workers  int // Upper bound on goroutines; <= 1 disables parallelism.
	MinWork  int // Minimum rows*costPerRow a goroutine is given.
	Disabled bool
}

// DefaultConfig uses every CPU with a chunk size that keeps goroutine
// overhead below the cost of the arithmetic.
func DefaultConfig() Config {
	return Config{
		Workers: runtime.NumCPU(),
		MinWork: 1 << 15,
	}
}

// Rows calls f on disjoint half-open ranges covering [0, n).
//
// costPerRow estimates the scalar operations per row and decides how many
// ranges are worth creating. Every row is visited exactly once by exactly one
// goroutine, so kernels writing only to their own rows stay deterministic.
func Rows(n, costPerRow int, f func(lo, hi int), cfg Config) {
	if n <= 0 {
		return
	}
	chunks := cfg.chunks(n, costPerRow)
	if chunks <= 1 {
		f(0, n)
		return
	}

	size := (n + chunks - 1) / chunks
	var wg sync.WaitGroup
	for lo := 0; lo < n; lo += size {
		hi := min(lo+size, n)
		wg.Add(1)
		go func(lo, hi int) {
			defer wg.Done()
			f(lo, hi)
		}(lo, hi)
	}
	wg.Wait()
}

func (cfg Config) chunks(n, costPerRow int) int {
	if cfg.Disabled || cfg.Workers <= 1 {
		return 1
	}
	minWork := max(cfg.MinWork, 1)
	byWork := n * max(costPerRow, 1) / minWork
	return max(min(cfg.Workers, byWork, n), 1)
}

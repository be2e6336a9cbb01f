package testutil

import (
	"sync"
	"sync/atomic"
)

// RunConcurrent executes fn in n parallel goroutines and returns how many
// calls reported true.
func RunConcurrent(n int, fn func(idx int) bool) int32 {
	var wg sync.WaitGroup
	var hits atomic.Int32

	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			if fn(idx) {
				hits.Add(1)
			}
		}(i)
	}
	wg.Wait()
	return hits.Load()
}

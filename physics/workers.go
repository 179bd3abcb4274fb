package physics

import (
	"runtime"

	"golang.org/x/sync/errgroup"
)

// WorkerPool runs fork-join batches on a bounded number of goroutines.
// Run returns only after every task of the batch has finished, which is the
// barrier between simulation phases.
type WorkerPool struct {
	size int
}

// NewWorkerPool creates a pool. A size of zero or less uses the CPU count.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = runtime.NumCPU()
	}
	return &WorkerPool{size: size}
}

// Size returns the number of concurrent workers.
func (p *WorkerPool) Size() int {
	return p.size
}

// Run calls fn for every index in [0, n) and waits for all calls. The first
// error is returned; tasks already started still run to completion.
func (p *WorkerPool) Run(n int, fn func(i int) error) error {
	var g errgroup.Group
	g.SetLimit(p.size)
	for i := 0; i < n; i++ {
		g.Go(func() error {
			return fn(i)
		})
	}
	return g.Wait()
}

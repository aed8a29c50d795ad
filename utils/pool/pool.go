// Package pool provides a typed sync.Pool that counts misses as a metric.
package pool

import (
	"sync"

	"github.com/linchenxuan/strixlink/metrics"
)

// Pool is a typed wrapper around sync.Pool. Every allocation caused by an
// empty pool increments pool_create_total{poolname}.
type Pool[T any] struct {
	name string
	pool sync.Pool
}

// NewPool creates a new instrumented pool. newFunc builds an item when the pool is empty.
func NewPool[T any](name string, newFunc func() T) *Pool[T] {
	p := &Pool[T]{name: name}
	p.pool.New = func() any {
		metrics.IncrCounterWithDimGroup(metrics.NamePoolCreateTotal, metrics.GroupStrixLink, 1, metrics.Dimension{
			metrics.DimPoolName: name,
		})
		return newFunc()
	}
	return p
}

// Name returns the metric dimension of the pool.
func (p *Pool[T]) Name() string {
	return p.name
}

// Get retrieves an item from the pool, creating one if it is empty.
func (p *Pool[T]) Get() T {
	return p.pool.Get().(T)
}

// Put adds x back to the pool for reuse.
func (p *Pool[T]) Put(x T) {
	p.pool.Put(x)
}

// NewBufferPool returns a pool of byte slices with length size. Callers must
// Put back slices obtained from Get without reslicing their capacity away.
func NewBufferPool(name string, size int) *Pool[*[]byte] {
	return NewPool(name, func() *[]byte {
		b := make([]byte, size)
		return &b
	})
}

package fn

import "sync"

// Pool is a fixed set of worker goroutines shared across many PoolMap calls.
// The zero value is not usable; create one with NewPool and Close it when done.
type Pool struct {
	jobs    chan func()
	wg      sync.WaitGroup
	workers int
	once    sync.Once
}

// NewPool starts workers goroutines. workers <= 0 means one.
func NewPool(workers int) *Pool {
	if workers <= 0 {
		workers = 1
	}
	p := &Pool{jobs: make(chan func()), workers: workers}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// Workers returns the pool size.
func (p *Pool) Workers() int { return p.workers }

// Close stops accepting work and waits for the workers to exit. Safe to call twice.
func (p *Pool) Close() {
	p.once.Do(func() {
		close(p.jobs)
		p.wg.Wait()
	})
}

// PoolMap applies f to each item on the pool, preserving order. It returns
// only after every item has been processed.
func PoolMap[T, U any](p *Pool, items []T, f func(T) U) []U {
	out := make([]U, len(items))
	var wg sync.WaitGroup
	wg.Add(len(items))
	for i, v := range items {
		p.jobs <- func() {
			defer wg.Done()
			out[i] = f(v)
		}
	}
	wg.Wait()
	return out
}

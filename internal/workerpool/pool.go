package workerpool

import (
	"context"
	"sync"

	"golang.org/x/sync/errgroup"
)

// Pool bounds concurrent work-order execution (default 5
// concurrent workers, configurable 1-10). It wraps errgroup.Group's
// SetLimit rather than hand-rolling a semaphore.
type Pool struct {
	capacity int

	mu      sync.Mutex
	active  int
	running map[string]bool
}

// NewPool constructs a Pool with the given capacity, clamped to [1, 10]
// within the configured bound.
func NewPool(capacity int) *Pool {
	if capacity < 1 {
		capacity = 1
	}
	if capacity > 10 {
		capacity = 10
	}
	return &Pool{capacity: capacity, running: map[string]bool{}}
}

// Capacity returns the pool's configured concurrency bound.
func (p *Pool) Capacity() int { return p.capacity }

// Active returns the number of work orders currently in flight.
func (p *Pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// RunAll dispatches fn for every work order in orders, bounded to the
// pool's capacity, and waits for all to finish. The first error returned
// by any fn cancels the shared context for the rest (errgroup.WithContext
// semantics); callers that want best-effort completion of every order
// should have fn swallow its own errors before returning.
func (p *Pool) RunAll(ctx context.Context, orders []WorkOrder, fn func(ctx context.Context, wo WorkOrder) error) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.capacity)

	for _, wo := range orders {
		wo := wo
		g.Go(func() error {
			p.enter(wo.ID)
			defer p.leave(wo.ID)
			return fn(gctx, wo)
		})
	}
	return g.Wait()
}

func (p *Pool) enter(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active++
	p.running[id] = true
}

func (p *Pool) leave(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.active--
	delete(p.running, id)
}

// RunningIDs returns the work-order ids currently executing, for
// monitor.go's periodic snapshot.
func (p *Pool) RunningIDs() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]string, 0, len(p.running))
	for id := range p.running {
		ids = append(ids, id)
	}
	return ids
}

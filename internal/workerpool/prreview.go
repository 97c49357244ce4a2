package workerpool

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// PRReviewPool bounds concurrent PR-review workers independently of the
// implementation pool (deployment-configurable: "should PR review share
// the worker pool or have a separate budget?" — resolved in favor of a
// separate, smaller budget by default, with an opt-in to share capacity).
//
// It uses semaphore.Weighted instead of Pool's errgroup.SetLimit: review
// requests arrive one at a time from the orchestrator rather than as a
// batch, so acquiring and releasing a single weighted slot fits better
// than spinning up an errgroup per review.
type PRReviewPool struct {
	sem      *semaphore.Weighted
	capacity int64
	shared   *Pool // non-nil when NewPRReviewPool was called with share=true
}

// NewPRReviewPool builds a review pool. When share is true, review work
// draws from the implementation pool's own capacity instead of a separate
// budget, and capacity is ignored.
func NewPRReviewPool(capacity int, share bool, implPool *Pool) *PRReviewPool {
	if capacity < 1 {
		capacity = 1
	}
	p := &PRReviewPool{capacity: int64(capacity)}
	if share {
		p.shared = implPool
		return p
	}
	p.sem = semaphore.NewWeighted(p.capacity)
	return p
}

// Review runs fn once a review slot is available, blocking until one
// frees up or ctx is cancelled.
func (p *PRReviewPool) Review(ctx context.Context, fn func(ctx context.Context) error) error {
	if p.shared != nil {
		return p.shared.RunAll(ctx, []WorkOrder{{ID: "pr-review"}}, func(ctx context.Context, _ WorkOrder) error {
			return fn(ctx)
		})
	}
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	return fn(ctx)
}

package workerpool

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ad-sdlc/pipeline-core/internal/depgraph"
	"github.com/ad-sdlc/pipeline-core/internal/retry"
)

// IssueSource supplies the context and acceptance criteria for an issue id
// when the dispatcher materializes it into a WorkOrder. The orchestrator's
// Controller implements it over the issues it has loaded for the project.
type IssueSource interface {
	ContextFor(issueID string) (title string, criteria []string, snapshot map[string]any, err error)
}

// Dispatcher pops the highest-scored ready node from a depgraph.Analyzer,
// materializes a WorkOrder, and hands it to a Worker under the pool's
// concurrency bound.
type Dispatcher struct {
	graph    *depgraph.Graph
	analyzer *depgraph.Analyzer
	pool     *Pool
	issues   IssueSource
	now      func() time.Time

	mu      sync.Mutex
	results map[string]map[string]any
	errs    map[string]error
}

// NewDispatcher builds a Dispatcher over an already-analyzed graph.
func NewDispatcher(graph *depgraph.Graph, analyzer *depgraph.Analyzer, pool *Pool, issues IssueSource) *Dispatcher {
	return &Dispatcher{
		graph:    graph,
		analyzer: analyzer,
		pool:     pool,
		issues:   issues,
		now:      time.Now,
		results:  map[string]map[string]any{},
		errs:     map[string]error{},
	}
}

// Drain dispatches ready nodes to newWorker-produced workers until none
// remain ready and none are in flight, running up to the pool's capacity
// at once. It returns per-issue results and errors keyed by issue id.
func (d *Dispatcher) Drain(ctx context.Context, checkpoints retry.CheckpointStore, newWorker func(id string) *Worker) (map[string]map[string]any, map[string]error) {
	inFlight := 0
	for {
		var batch []WorkOrder
		for inFlight+len(batch) < d.pool.Capacity() {
			id, ok := d.analyzer.GetNextExecutable()
			if !ok {
				break
			}
			d.graph.SetStatus(id, depgraph.StatusRunning)
			wo, err := d.materialize(id)
			if err != nil {
				d.mu.Lock()
				d.errs[id] = err
				d.mu.Unlock()
				d.graph.SetStatus(id, depgraph.StatusBlocked)
				continue
			}
			batch = append(batch, wo)
		}
		if len(batch) == 0 {
			break
		}
		inFlight += len(batch)

		_ = d.pool.RunAll(ctx, batch, func(ctx context.Context, wo WorkOrder) error {
			issueID := wo.IssueID
			worker := newWorker(wo.ID)
			state, err := worker.Run(ctx, checkpoints, wo)
			d.mu.Lock()
			defer d.mu.Unlock()
			if err != nil {
				d.errs[issueID] = err
				d.graph.SetStatus(issueID, depgraph.StatusBlocked)
				return nil // don't cancel sibling work orders over one failure
			}
			d.results[issueID] = state
			d.graph.SetStatus(issueID, depgraph.StatusCompleted)
			return nil
		})
		inFlight -= len(batch)
	}
	return d.results, d.errs
}

func (d *Dispatcher) materialize(issueID string) (WorkOrder, error) {
	node, ok := d.graph.Node(issueID)
	if !ok {
		return WorkOrder{}, fmt.Errorf("workerpool: unknown issue %q", issueID)
	}
	title, criteria, snapshot, err := d.issues.ContextFor(issueID)
	if err != nil {
		return WorkOrder{}, fmt.Errorf("workerpool: context for %q: %w", issueID, err)
	}
	if title == "" {
		title = node.Title
	}
	return newWorkOrder(issueID, title, criteria, snapshot, d.now()), nil
}

// Package balancer picks the best node for a task among an
// already-capability-filtered candidate set. Strategies compute a composite
// cost per node and take the minimum, lower is always better so strategies
// remain interchangeable.
package balancer

import (
	"time"

	"github.com/quantive/grid/grid"
)

// Strategy selects one node from a non-empty candidate list.
type Strategy interface {
	Name() string
	Pick(task *grid.Task, candidates []*grid.Node) *grid.Node
}

// Balancer ties a strategy to the shared observation history the scheduler
// and service feed.
type Balancer struct {
	strategy Strategy
	history  *History
}

// New makes a Balancer. A nil strategy defaults to the intelligent scorer.
func New(strategy Strategy, history *History) *Balancer {
	if history == nil {
		history = NewHistory()
	}
	if strategy == nil {
		strategy = NewIntelligent(history)
	}
	return &Balancer{strategy: strategy, history: history}
}

// Pick returns nil when there are no candidates.
func (b *Balancer) Pick(task *grid.Task, candidates []*grid.Node) *grid.Node {
	if len(candidates) == 0 {
		return nil
	}
	if n := b.strategy.Pick(task, candidates); n != nil {
		return n
	}
	return candidates[0]
}

// RecordCompletion feeds the sliding-window statistics behind scoring.
// Must be called exactly once per task terminal transition, the scheduler
// guards against double counting.
func (b *Balancer) RecordCompletion(id grid.NodeId, d time.Duration, success bool) {
	b.history.RecordCompletion(id, d, success)
}

// RecordLatency and RecordLoad are fed by the health-check loop.
func (b *Balancer) RecordLatency(id grid.NodeId, d time.Duration) { b.history.RecordLatency(id, d) }
func (b *Balancer) RecordLoad(id grid.NodeId, load float64)       { b.history.RecordLoad(id, load) }

// Forget drops per-node history, used on deregistration.
func (b *Balancer) Forget(id grid.NodeId) { b.history.Forget(id) }

func (b *Balancer) StrategyName() string { return b.strategy.Name() }

// pickMin returns the candidate with the lowest cost, first wins ties so
// selection is deterministic for a given candidate order.
func pickMin(candidates []*grid.Node, cost func(*grid.Node) float64) *grid.Node {
	var best *grid.Node
	bestCost := 0.0
	for _, n := range candidates {
		c := cost(n)
		if best == nil || c < bestCost {
			best = n
			bestCost = c
		}
	}
	return best
}

package balancer

import (
	"math/rand"
	"sync"

	"github.com/quantive/grid/grid"
)

// RoundRobin cycles through candidates regardless of load.
type RoundRobin struct {
	mu   sync.Mutex
	next int
}

func NewRoundRobin() *RoundRobin { return &RoundRobin{} }

func (s *RoundRobin) Name() string { return "round_robin" }

func (s *RoundRobin) Pick(task *grid.Task, candidates []*grid.Node) *grid.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := candidates[s.next%len(candidates)]
	s.next++
	return n
}

// LeastConnections picks the candidate with the fewest running tasks.
type LeastConnections struct{}

func NewLeastConnections() *LeastConnections { return &LeastConnections{} }

func (s *LeastConnections) Name() string { return "least_connections" }

func (s *LeastConnections) Pick(task *grid.Task, candidates []*grid.Node) *grid.Node {
	return pickMin(candidates, func(n *grid.Node) float64 {
		return float64(n.TaskCount)
	})
}

// WeightedRoundRobin picks candidates with probability proportional to a
// static per-node weight. Unknown nodes get weight 1.
type WeightedRoundRobin struct {
	mu      sync.Mutex
	weights map[grid.NodeId]float64
	rng     *rand.Rand
}

func NewWeightedRoundRobin(weights map[grid.NodeId]float64, seed int64) *WeightedRoundRobin {
	if weights == nil {
		weights = map[grid.NodeId]float64{}
	}
	return &WeightedRoundRobin{weights: weights, rng: rand.New(rand.NewSource(seed))}
}

func (s *WeightedRoundRobin) Name() string { return "weighted_round_robin" }

func (s *WeightedRoundRobin) SetWeight(id grid.NodeId, w float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.weights[id] = w
}

func (s *WeightedRoundRobin) Pick(task *grid.Task, candidates []*grid.Node) *grid.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0.0
	for _, n := range candidates {
		total += s.weight(n.Id)
	}
	if total <= 0 {
		return candidates[0]
	}
	r := s.rng.Float64() * total
	for _, n := range candidates {
		r -= s.weight(n.Id)
		if r <= 0 {
			return n
		}
	}
	return candidates[len(candidates)-1]
}

func (s *WeightedRoundRobin) weight(id grid.NodeId) float64 {
	if w, ok := s.weights[id]; ok && w > 0 {
		return w
	}
	return 1
}

// ResourceBased scores by the average of normalized free cpu, free memory,
// and inverse current load.
type ResourceBased struct{}

func NewResourceBased() *ResourceBased { return &ResourceBased{} }

func (s *ResourceBased) Name() string { return "resource_based" }

func (s *ResourceBased) Pick(task *grid.Task, candidates []*grid.Node) *grid.Node {
	return pickMin(candidates, func(n *grid.Node) float64 {
		return 1 - resourceAvailability(n)
	})
}

// resourceAvailability is a [0,1] goodness shared with the intelligent scorer.
func resourceAvailability(n *grid.Node) float64 {
	freeCPU := clamp01(1 - n.CPUPercent/100)
	freeMem := clamp01(1 - n.MemoryPercent/100)
	freeSlots := clamp01(1 - n.LoadFraction())
	return (freeCPU + freeMem + freeSlots) / 3
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

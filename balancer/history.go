package balancer

import (
	"math"
	"sync"
	"time"

	"github.com/quantive/grid/grid"
)

const (
	// Response-time window per node.
	windowSize = 50
	// Load samples kept for trend regression.
	loadSamples = 5
	// Success-rate exponential moving average smoothing factor.
	emaAlpha = 0.3
)

// nodeHistory is the per-node sliding-window state behind the intelligent
// strategy's sub-scores.
type nodeHistory struct {
	respTimes  []time.Duration // ring, most recent last
	successEMA float64
	failures   int
	latency    time.Duration
	loads      []float64 // last loadSamples load fractions, most recent last
}

// History accumulates completion, latency, and load observations per node.
// All methods are safe for concurrent use.
type History struct {
	mu    sync.RWMutex
	nodes map[grid.NodeId]*nodeHistory
}

func NewHistory() *History {
	return &History{nodes: map[grid.NodeId]*nodeHistory{}}
}

func (h *History) get(id grid.NodeId) *nodeHistory {
	nh, ok := h.nodes[id]
	if !ok {
		nh = &nodeHistory{successEMA: 1}
		h.nodes[id] = nh
	}
	return nh
}

// RecordCompletion folds one task outcome into the node's window. The
// scheduler calls this exactly once per terminal transition.
func (h *History) RecordCompletion(id grid.NodeId, d time.Duration, success bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	nh := h.get(id)
	nh.respTimes = append(nh.respTimes, d)
	if len(nh.respTimes) > windowSize {
		nh.respTimes = nh.respTimes[len(nh.respTimes)-windowSize:]
	}
	v := 0.0
	if success {
		v = 1
	} else {
		nh.failures++
	}
	nh.successEMA = emaAlpha*v + (1-emaAlpha)*nh.successEMA
}

// RecordLatency stores the most recent probe round-trip for the node.
func (h *History) RecordLatency(id grid.NodeId, d time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.get(id).latency = d
}

// RecordLoad appends one load-fraction sample for trend analysis.
func (h *History) RecordLoad(id grid.NodeId, load float64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	nh := h.get(id)
	nh.loads = append(nh.loads, load)
	if len(nh.loads) > loadSamples {
		nh.loads = nh.loads[len(nh.loads)-loadSamples:]
	}
}

// Forget drops all state for a node, used on deregistration.
func (h *History) Forget(id grid.NodeId) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nodes, id)
}

// WindowLen reports how many completions sit in the node's window, the
// window is bounded at windowSize.
func (h *History) WindowLen(id grid.NodeId) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if nh, ok := h.nodes[id]; ok {
		return len(nh.respTimes)
	}
	return 0
}

// meanResponse returns the node's mean response time over its window, or 0.
func (h *History) meanResponse(id grid.NodeId) time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	nh, ok := h.nodes[id]
	if !ok || len(nh.respTimes) == 0 {
		return 0
	}
	var sum time.Duration
	for _, d := range nh.respTimes {
		sum += d
	}
	return sum / time.Duration(len(nh.respTimes))
}

func (h *History) successRate(id grid.NodeId) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if nh, ok := h.nodes[id]; ok {
		return nh.successEMA
	}
	return 1
}

func (h *History) failureCount(id grid.NodeId) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if nh, ok := h.nodes[id]; ok {
		return nh.failures
	}
	return 0
}

func (h *History) probeLatency(id grid.NodeId) time.Duration {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if nh, ok := h.nodes[id]; ok {
		return nh.latency
	}
	return 0
}

// loadTrend is the least-squares slope over the node's recent load samples.
// Positive means load is rising.
func (h *History) loadTrend(id grid.NodeId) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	nh, ok := h.nodes[id]
	if !ok || len(nh.loads) < 2 {
		return 0
	}
	n := float64(len(nh.loads))
	var sumX, sumY, sumXY, sumXX float64
	for i, y := range nh.loads {
		x := float64(i)
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}
	denom := n*sumXX - sumX*sumX
	if denom == 0 {
		return 0
	}
	return (n*sumXY - sumX*sumY) / denom
}

// completionVariation is the coefficient of variation of mean completion
// times across all nodes with data. Drives adaptive reweighting.
func (h *History) completionVariation() float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var means []float64
	for _, nh := range h.nodes {
		if len(nh.respTimes) == 0 {
			continue
		}
		var sum time.Duration
		for _, d := range nh.respTimes {
			sum += d
		}
		means = append(means, float64(sum)/float64(len(nh.respTimes)))
	}
	if len(means) < 2 {
		return 0
	}
	var mean float64
	for _, m := range means {
		mean += m
	}
	mean /= float64(len(means))
	if mean == 0 {
		return 0
	}
	var variance float64
	for _, m := range means {
		variance += (m - mean) * (m - mean)
	}
	variance /= float64(len(means))
	return math.Sqrt(variance) / mean
}

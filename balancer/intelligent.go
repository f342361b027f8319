package balancer

import (
	"strings"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quantive/grid/grid"
)

// Sub-score weights, must sum to 1.
type Weights struct {
	Resource    float64
	Performance float64
	Latency     float64
	Affinity    float64
	Reliability float64
	Trend       float64
}

func DefaultWeights() Weights {
	return Weights{
		Resource:    0.25,
		Performance: 0.25,
		Latency:     0.20,
		Affinity:    0.15,
		Reliability: 0.10,
		Trend:       0.05,
	}
}

// Adaptive reweighting parameters. High variation in completion times across
// nodes shifts weight from resource to performance, low variation reverses.
const (
	adaptEpoch    = 30 * time.Second
	adaptStep     = 0.05
	highVariation = 0.5
	lowVariation  = 0.2
	minWeight     = 0.05
	maxWeight     = 0.45
)

// Intelligent is the default strategy, a weighted sum of six normalized
// sub-scores with periodically adapted weights.
type Intelligent struct {
	history *History

	mu         sync.Mutex
	weights    Weights
	lastAdjust time.Time
}

func NewIntelligent(history *History) *Intelligent {
	if history == nil {
		history = NewHistory()
	}
	return &Intelligent{history: history, weights: DefaultWeights(), lastAdjust: time.Now()}
}

func (s *Intelligent) Name() string { return "intelligent" }

func (s *Intelligent) Pick(task *grid.Task, candidates []*grid.Node) *grid.Node {
	s.maybeAdapt()
	w := s.Weights()
	clusterMean := s.clusterMeanResponse(candidates)
	return pickMin(candidates, func(n *grid.Node) float64 {
		return s.cost(task, n, w, clusterMean)
	})
}

// cost = 1 - weighted goodness, so lower is better like every other strategy.
func (s *Intelligent) cost(task *grid.Task, n *grid.Node, w Weights, clusterMean time.Duration) float64 {
	goodness := w.Resource*resourceAvailability(n) +
		w.Performance*s.performanceScore(n.Id, clusterMean) +
		w.Latency*s.latencyScore(n.Id) +
		w.Affinity*affinityScore(task, n) +
		w.Reliability*s.reliabilityScore(n) +
		w.Trend*s.trendScore(n.Id)
	return 1 - clamp01(goodness)
}

// performanceScore compares the node's mean response time against the
// cluster mean, 0.5 means average, and folds in the success rate.
func (s *Intelligent) performanceScore(id grid.NodeId, clusterMean time.Duration) float64 {
	mean := s.history.meanResponse(id)
	if mean == 0 || clusterMean == 0 {
		// No data yet, neutral.
		return 0.5
	}
	relative := float64(clusterMean) / float64(mean+clusterMean)
	return clamp01(relative * s.history.successRate(id))
}

func (s *Intelligent) latencyScore(id grid.NodeId) float64 {
	lat := s.history.probeLatency(id)
	if lat == 0 {
		return 0.5
	}
	// 0ms -> 1.0, 100ms -> 0.5, unbounded decay after that.
	return clamp01(1 / (1 + float64(lat)/float64(100*time.Millisecond)))
}

func (s *Intelligent) reliabilityScore(n *grid.Node) float64 {
	ema := s.history.successRate(n.Id)
	failures := s.history.failureCount(n.Id)
	failurePenalty := 1 / (1 + 0.2*float64(failures))
	statusPenalty := 1.0
	switch n.Status {
	case grid.NodeActive:
		statusPenalty = 1
	case grid.NodeBusy:
		statusPenalty = 0.8
	case grid.NodeOverloaded:
		statusPenalty = 0.5
	default:
		statusPenalty = 0.2
	}
	return clamp01(ema * failurePenalty * statusPenalty)
}

// trendScore rewards a falling or flat load trend and penalizes a rising one.
func (s *Intelligent) trendScore(id grid.NodeId) float64 {
	slope := s.history.loadTrend(id)
	if slope > 1 {
		slope = 1
	} else if slope < -1 {
		slope = -1
	}
	return clamp01(0.5 - 0.5*slope)
}

// affinityScore is the fraction of the task's affinity rules the node
// matches. Rules bias selection, they never hard-filter.
func affinityScore(task *grid.Task, n *grid.Node) float64 {
	rules := task.Def.AffinityRules
	if len(rules) == 0 {
		return 1
	}
	matched := 0
	for key, want := range rules {
		switch key {
		case "node_type":
			if strings.EqualFold(n.Type.String(), want) {
				matched++
			}
		case "capability":
			if n.HasCapability(want) {
				matched++
			}
		default:
			if n.Labels[key] == want {
				matched++
			}
		}
	}
	return float64(matched) / float64(len(rules))
}

func (s *Intelligent) clusterMeanResponse(candidates []*grid.Node) time.Duration {
	var sum time.Duration
	count := 0
	for _, n := range candidates {
		if m := s.history.meanResponse(n.Id); m > 0 {
			sum += m
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / time.Duration(count)
}

// Weights returns the current weights.
func (s *Intelligent) Weights() Weights {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.weights
}

func (s *Intelligent) maybeAdapt() {
	s.mu.Lock()
	due := time.Since(s.lastAdjust) >= adaptEpoch
	if due {
		s.lastAdjust = time.Now()
	}
	s.mu.Unlock()
	if due {
		s.Rebalance()
	}
}

// Rebalance inspects the coefficient of variation of completion times across
// nodes and shifts weight between performance and resource accordingly,
// renormalizing to sum 1.
func (s *Intelligent) Rebalance() {
	cv := s.history.completionVariation()

	s.mu.Lock()
	defer s.mu.Unlock()
	w := s.weights
	switch {
	case cv > highVariation:
		w.Performance += adaptStep
		w.Resource -= adaptStep
	case cv < lowVariation:
		w.Performance -= adaptStep
		w.Resource += adaptStep
	default:
		return
	}
	w.Performance = clampWeight(w.Performance)
	w.Resource = clampWeight(w.Resource)
	normalize(&w)
	s.weights = w
	log.WithFields(log.Fields{
		"variation":   cv,
		"resource":    w.Resource,
		"performance": w.Performance,
	}).Debug("Rebalanced scoring weights")
}

func clampWeight(v float64) float64 {
	if v < minWeight {
		return minWeight
	}
	if v > maxWeight {
		return maxWeight
	}
	return v
}

func normalize(w *Weights) {
	sum := w.Resource + w.Performance + w.Latency + w.Affinity + w.Reliability + w.Trend
	if sum <= 0 {
		*w = DefaultWeights()
		return
	}
	w.Resource /= sum
	w.Performance /= sum
	w.Latency /= sum
	w.Affinity /= sum
	w.Reliability /= sum
	w.Trend /= sum
}

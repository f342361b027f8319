package balancer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/quantive/grid/grid"
)

func Test_Intelligent_PrefersIdleNode(t *testing.T) {
	s := NewIntelligent(NewHistory())
	got := s.Pick(&grid.Task{}, testNodes())
	assert.Equal(t, grid.NodeId("n2"), got.Id)
}

func Test_Intelligent_PerformanceHistoryWins(t *testing.T) {
	h := NewHistory()
	s := NewIntelligent(h)
	nodes := []*grid.Node{
		{Id: "slow", Status: grid.NodeActive, MaxConcurrentTasks: 4, CPUPercent: 20, MemoryPercent: 20},
		{Id: "fast", Status: grid.NodeActive, MaxConcurrentTasks: 4, CPUPercent: 20, MemoryPercent: 20},
	}
	for i := 0; i < 10; i++ {
		h.RecordCompletion("slow", 10*time.Second, true)
		h.RecordCompletion("fast", 100*time.Millisecond, true)
	}
	got := s.Pick(&grid.Task{}, nodes)
	assert.Equal(t, grid.NodeId("fast"), got.Id)
}

func Test_Intelligent_ReliabilityPenalizesFailures(t *testing.T) {
	h := NewHistory()
	s := NewIntelligent(h)
	nodes := []*grid.Node{
		{Id: "flaky", Status: grid.NodeActive, MaxConcurrentTasks: 4, CPUPercent: 20, MemoryPercent: 20},
		{Id: "steady", Status: grid.NodeActive, MaxConcurrentTasks: 4, CPUPercent: 20, MemoryPercent: 20},
	}
	for i := 0; i < 10; i++ {
		h.RecordCompletion("flaky", time.Second, false)
		h.RecordCompletion("steady", time.Second, true)
	}
	got := s.Pick(&grid.Task{}, nodes)
	assert.Equal(t, grid.NodeId("steady"), got.Id)
}

func Test_Intelligent_AffinityScore(t *testing.T) {
	gpuNode := &grid.Node{
		Id: "gpu", Type: grid.NodeWorker, Capabilities: []string{"ml_train"},
		Labels: map[string]string{"rack": "r1"},
	}
	plainNode := &grid.Node{Id: "plain", Type: grid.NodeWorker}

	task := &grid.Task{Def: grid.TaskDefinition{AffinityRules: map[string]string{
		"capability": "ml_train",
		"rack":       "r1",
	}}}
	assert.Equal(t, 1.0, affinityScore(task, gpuNode))
	assert.Equal(t, 0.0, affinityScore(task, plainNode))

	// No rules means every node scores full marks.
	assert.Equal(t, 1.0, affinityScore(&grid.Task{}, plainNode))
}

func Test_Intelligent_AffinityBiasesSelection(t *testing.T) {
	s := NewIntelligent(NewHistory())
	nodes := []*grid.Node{
		{Id: "far", Status: grid.NodeActive, MaxConcurrentTasks: 4, Labels: map[string]string{"region": "eu"}},
		{Id: "near", Status: grid.NodeActive, MaxConcurrentTasks: 4, Labels: map[string]string{"region": "us"}},
	}
	task := &grid.Task{Def: grid.TaskDefinition{
		AffinityRules: map[string]string{"region": "us"},
	}}
	got := s.Pick(task, nodes)
	assert.Equal(t, grid.NodeId("near"), got.Id)
}

func Test_Intelligent_TrendScore(t *testing.T) {
	h := NewHistory()
	s := NewIntelligent(h)
	for _, load := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		h.RecordLoad("rising", load)
	}
	for _, load := range []float64{0.9, 0.7, 0.5, 0.3, 0.1} {
		h.RecordLoad("falling", load)
	}
	assert.True(t, s.trendScore("falling") > s.trendScore("rising"))
	assert.Equal(t, 0.5, s.trendScore("fresh"))
}

func Test_Intelligent_Rebalance_HighVariation(t *testing.T) {
	h := NewHistory()
	s := NewIntelligent(h)
	h.RecordCompletion("a", 100*time.Millisecond, true)
	h.RecordCompletion("b", 10*time.Second, true)

	s.Rebalance()
	w := s.Weights()
	def := DefaultWeights()
	assert.True(t, w.Performance > def.Performance, "performance weight should rise")
	assert.True(t, w.Resource < def.Resource, "resource weight should fall")
	assertWeightsSumToOne(t, w)
}

func Test_Intelligent_Rebalance_LowVariation(t *testing.T) {
	h := NewHistory()
	s := NewIntelligent(h)
	h.RecordCompletion("a", time.Second, true)
	h.RecordCompletion("b", time.Second, true)

	s.Rebalance()
	w := s.Weights()
	def := DefaultWeights()
	assert.True(t, w.Performance < def.Performance, "performance weight should fall")
	assert.True(t, w.Resource > def.Resource, "resource weight should rise")
	assertWeightsSumToOne(t, w)
}

func Test_Intelligent_Rebalance_Clamped(t *testing.T) {
	h := NewHistory()
	s := NewIntelligent(h)
	h.RecordCompletion("a", 100*time.Millisecond, true)
	h.RecordCompletion("b", 10*time.Second, true)

	for i := 0; i < 20; i++ {
		s.Rebalance()
	}
	w := s.Weights()
	assert.True(t, w.Resource >= minWeight/2, "resource weight must not collapse, got %v", w.Resource)
	assert.True(t, w.Performance <= maxWeight+0.01, "performance weight must stay clamped, got %v", w.Performance)
	assertWeightsSumToOne(t, w)
}

func assertWeightsSumToOne(t *testing.T, w Weights) {
	t.Helper()
	sum := w.Resource + w.Performance + w.Latency + w.Affinity + w.Reliability + w.Trend
	assert.InDelta(t, 1.0, sum, 1e-9)
}

package balancer

import (
	"testing"

	"github.com/quantive/grid/grid"
)

func testNodes() []*grid.Node {
	return []*grid.Node{
		{Id: "n1", Status: grid.NodeActive, MaxConcurrentTasks: 4, TaskCount: 3, CPUPercent: 80, MemoryPercent: 70},
		{Id: "n2", Status: grid.NodeActive, MaxConcurrentTasks: 4, TaskCount: 0, CPUPercent: 10, MemoryPercent: 20},
		{Id: "n3", Status: grid.NodeActive, MaxConcurrentTasks: 4, TaskCount: 1, CPUPercent: 40, MemoryPercent: 50},
	}
}

func Test_RoundRobin_Cycles(t *testing.T) {
	s := NewRoundRobin()
	nodes := testNodes()
	task := &grid.Task{}
	want := []grid.NodeId{"n1", "n2", "n3", "n1"}
	for i, id := range want {
		if got := s.Pick(task, nodes).Id; got != id {
			t.Errorf("pick %d: expected %v, got %v", i, id, got)
		}
	}
}

func Test_LeastConnections(t *testing.T) {
	s := NewLeastConnections()
	if got := s.Pick(&grid.Task{}, testNodes()).Id; got != "n2" {
		t.Errorf("expected n2 with zero running tasks, got %v", got)
	}
}

func Test_WeightedRoundRobin_FavorsHeavyWeight(t *testing.T) {
	s := NewWeightedRoundRobin(map[grid.NodeId]float64{"n3": 100}, 1)
	nodes := testNodes()
	task := &grid.Task{}
	picks := map[grid.NodeId]int{}
	for i := 0; i < 200; i++ {
		picks[s.Pick(task, nodes).Id]++
	}
	if picks["n3"] < 150 {
		t.Errorf("expected n3 to dominate with weight 100, got %v", picks)
	}
	if picks["n1"]+picks["n2"]+picks["n3"] != 200 {
		t.Errorf("picks must cover every draw, got %v", picks)
	}
}

func Test_ResourceBased(t *testing.T) {
	s := NewResourceBased()
	if got := s.Pick(&grid.Task{}, testNodes()).Id; got != "n2" {
		t.Errorf("expected the idle node, got %v", got)
	}
}

func Test_Balancer_EmptyCandidates(t *testing.T) {
	b := New(NewRoundRobin(), nil)
	if got := b.Pick(&grid.Task{}, nil); got != nil {
		t.Errorf("expected nil pick with no candidates, got %v", got.Id)
	}
}

func Test_Balancer_DefaultsToIntelligent(t *testing.T) {
	b := New(nil, nil)
	if got := b.StrategyName(); got != "intelligent" {
		t.Errorf("expected intelligent default, got %q", got)
	}
}

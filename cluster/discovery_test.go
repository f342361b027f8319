package cluster

import (
	"testing"

	"github.com/quantive/grid/grid"
)

func Test_Discovery_HandleAnnouncement(t *testing.T) {
	r := NewRegistry()
	d := NewDiscovery(r, DiscoveryConfig{}, nil)

	d.handleAnnouncement([]byte(`{"node_id":"w1","host":"10.0.0.5","port":9100,` +
		`"node_type":"hybrid","capabilities":["backtest"],"max_tasks":8}`))

	n := r.Get("w1")
	if n == nil {
		t.Fatalf("expected announced node to be registered")
	}
	if n.Type != grid.NodeHybrid || n.Host != "10.0.0.5" || n.MaxConcurrentTasks != 8 {
		t.Errorf("node fields not taken from announcement: %+v", n)
	}
	if n.Status != grid.NodeActive {
		t.Errorf("expected discovered node to default active, got %v", n.Status)
	}
}

func Test_Discovery_HandleAnnouncement_Defaults(t *testing.T) {
	r := NewRegistry()
	d := NewDiscovery(r, DiscoveryConfig{}, nil)

	d.handleAnnouncement([]byte(`{"node_id":"w2","host":"10.0.0.6","port":9100}`))

	n := r.Get("w2")
	if n == nil {
		t.Fatalf("expected announced node to be registered")
	}
	if n.Type != grid.NodeWorker {
		t.Errorf("expected worker type default, got %v", n.Type)
	}
	if n.MaxConcurrentTasks != 4 {
		t.Errorf("expected max tasks default of 4, got %d", n.MaxConcurrentTasks)
	}
}

func Test_Discovery_HandleAnnouncement_Malformed(t *testing.T) {
	r := NewRegistry()
	d := NewDiscovery(r, DiscoveryConfig{}, nil)

	d.handleAnnouncement([]byte(`not json`))
	d.handleAnnouncement([]byte(`{"host":"10.0.0.7"}`))

	if r.Len() != 0 {
		t.Errorf("expected malformed announcements to be ignored, registry has %d nodes", r.Len())
	}
}

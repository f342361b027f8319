package failover

import (
	"errors"
	"testing"
	"time"

	"github.com/quantive/grid/cluster"
	"github.com/quantive/grid/grid"
	"github.com/quantive/grid/runner"
)

func setup(cooldown time.Duration) (*cluster.Registry, *runner.FakeProbe, *Manager) {
	registry := cluster.NewRegistry()
	registry.Register(&grid.Node{Id: "n1", Host: "localhost", Port: 9000, MaxConcurrentTasks: 4})
	probe := runner.NewFakeProbe()
	return registry, probe, NewManager(registry, probe, cooldown, nil)
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func Test_Failover_QuarantinesNode(t *testing.T) {
	registry, _, m := setup(time.Hour)
	defer m.Stop()

	m.OnFailure("n1", errors.New("probe timeout"))

	if !m.IsQuarantined("n1") {
		t.Errorf("expected n1 quarantined")
	}
	n := registry.Get("n1")
	if n.Status != grid.NodeFailed || n.ConsecutiveFailures != 1 {
		t.Errorf("expected failed node with one failure, got status=%v failures=%d",
			n.Status, n.ConsecutiveFailures)
	}
	if registry.Get("n1") == nil {
		t.Errorf("quarantine must not deregister the node")
	}
}

// Repeated failures while a probe is pending must not pile up extra probes.
func Test_Failover_SingleProbePerBurst(t *testing.T) {
	_, probe, m := setup(20 * time.Millisecond)
	defer m.Stop()

	for i := 0; i < 5; i++ {
		m.OnFailure("n1", errors.New("down"))
	}

	waitFor(t, time.Second, "recovery probe", func() bool { return probe.ProbeCount("n1") > 0 })
	time.Sleep(50 * time.Millisecond)
	if got := probe.ProbeCount("n1"); got != 1 {
		t.Errorf("expected exactly one probe for the burst, got %d", got)
	}
}

func Test_Failover_RecoveryLiftsQuarantine(t *testing.T) {
	registry, probe, m := setup(10 * time.Millisecond)
	defer m.Stop()
	probe.SetSnapshot("n1", runner.NodeSnapshot{CPUPercent: 12, MemoryPercent: 34})

	m.OnFailure("n1", errors.New("down"))
	waitFor(t, time.Second, "quarantine lifted", func() bool { return !m.IsQuarantined("n1") })

	n := registry.Get("n1")
	if n.Status != grid.NodeActive {
		t.Errorf("expected recovered node active, got %v", n.Status)
	}
	if n.ConsecutiveFailures != 0 || n.HealthScore != 1 {
		t.Errorf("expected failure state reset, got failures=%d score=%v",
			n.ConsecutiveFailures, n.HealthScore)
	}
	if n.CPUPercent != 12 || n.MemoryPercent != 34 {
		t.Errorf("expected probe snapshot applied, got cpu=%v mem=%v", n.CPUPercent, n.MemoryPercent)
	}
}

func Test_Failover_FailedProbeStaysQuarantined(t *testing.T) {
	_, probe, m := setup(10 * time.Millisecond)
	defer m.Stop()
	probe.SetUnreachable("n1", true)

	m.OnFailure("n1", errors.New("down"))
	waitFor(t, 5*time.Second, "probe attempt", func() bool { return probe.ProbeCount("n1") >= 3 })

	// The probe burned its retries and gave up.
	time.Sleep(50 * time.Millisecond)
	if !m.IsQuarantined("n1") {
		t.Errorf("expected node to stay quarantined after failed probe")
	}
}

func Test_Failover_DeregisteredNodeClearsQuarantine(t *testing.T) {
	registry, probe, m := setup(10 * time.Millisecond)
	defer m.Stop()

	m.OnFailure("n1", errors.New("down"))
	registry.Deregister("n1")

	waitFor(t, time.Second, "quarantine cleared", func() bool { return !m.IsQuarantined("n1") })
	if got := probe.ProbeCount("n1"); got != 0 {
		t.Errorf("expected no probe for a deregistered node, got %d", got)
	}
}

package stats

import (
	"encoding/json"
	"testing"
	"time"
)

func Test_Stats_CounterAndGauge(t *testing.T) {
	stat := NewStatsReceiver()
	stat.Counter("completed").Inc(2)
	stat.Counter("completed").Inc(1)
	stat.Gauge("pending").Update(7)

	if got := stat.Counter("completed").Count(); got != 3 {
		t.Errorf("expected counter 3, got %d", got)
	}
	if got := stat.Gauge("pending").Value(); got != 7 {
		t.Errorf("expected gauge 7, got %d", got)
	}
}

func Test_Stats_Scoping(t *testing.T) {
	stat := NewStatsReceiver()
	scoped := stat.Scope("sched").Scope("tick")
	scoped.Counter("count").Inc(1)

	var out map[string]interface{}
	if err := json.Unmarshal(stat.Render(false), &out); err != nil {
		t.Fatalf("render is not valid json: %v", err)
	}
	if _, ok := out["sched/tick/count"]; !ok {
		t.Errorf("expected scoped name sched/tick/count, got %v", out)
	}
}

func Test_Stats_SlashInName(t *testing.T) {
	stat := NewStatsReceiver()
	stat.Counter("errs/timeout").Inc(1)

	var out map[string]interface{}
	json.Unmarshal(stat.Render(false), &out)
	if _, ok := out["errs_SLASH_timeout"]; !ok {
		t.Errorf("expected slash replacement in instrument name, got %v", out)
	}
}

func Test_Stats_Latency(t *testing.T) {
	stat := NewStatsReceiver()
	l := stat.Latency("op_ms").Time()
	time.Sleep(2 * time.Millisecond)
	l.Stop()

	if got := stat.Latency("op_ms").Snapshot().Count(); got != 1 {
		t.Errorf("expected one latency sample, got %d", got)
	}
	// Stop without Time must record nothing.
	stat.Latency("op_ms").Stop()
	if got := stat.Latency("op_ms").Snapshot().Count(); got != 1 {
		t.Errorf("expected stray Stop to record nothing, got %d samples", got)
	}
}

func Test_Stats_Remove(t *testing.T) {
	stat := NewStatsReceiver()
	stat.Counter("gone").Inc(5)
	stat.Remove("gone")
	if got := stat.Counter("gone").Count(); got != 0 {
		t.Errorf("expected fresh counter after removal, got %d", got)
	}
}

func Test_Stats_NilReceiver(t *testing.T) {
	stat := NilStatsReceiver()
	stat.Counter("x").Inc(5)
	if got := stat.Counter("x").Count(); got != 0 {
		t.Errorf("expected nil receiver to discard, got %d", got)
	}
	if got := string(stat.Render(false)); got != "{}" {
		t.Errorf("expected empty render, got %q", got)
	}
}

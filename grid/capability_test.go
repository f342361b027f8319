package grid

import (
	"testing"
)

// backtest substitutes to {backtest, analysis, data_process}, so a node
// advertising only analysis still qualifies.
func Test_CapabilityTable_Substitution(t *testing.T) {
	table := DefaultCapabilityTable()

	if !table.Satisfies("backtest", []string{"analysis"}) {
		t.Errorf("expected analysis node to satisfy backtest")
	}
	if !table.Satisfies("backtest", []string{"backtest"}) {
		t.Errorf("expected exact match to satisfy backtest")
	}
	if table.Satisfies("backtest", []string{"gpu_compute"}) {
		t.Errorf("expected gpu_compute node to not satisfy backtest")
	}
}

// Unknown task types fall back to exact match only.
func Test_CapabilityTable_UnknownType(t *testing.T) {
	table := DefaultCapabilityTable()

	if !table.Satisfies("custom_report", []string{"custom_report"}) {
		t.Errorf("expected exact match for unknown type")
	}
	if table.Satisfies("custom_report", []string{"analysis"}) {
		t.Errorf("expected no substitution for unknown type")
	}
}

func Test_Node_HasCapability(t *testing.T) {
	n := &Node{Id: "n1", Capabilities: []string{"analysis", "data_process"}}
	if !n.HasCapability("analysis") {
		t.Errorf("expected n1 to have analysis")
	}
	if n.HasCapability("backtest") {
		t.Errorf("expected n1 to not have backtest")
	}
}

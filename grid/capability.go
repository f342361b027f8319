package grid

// CapabilityTable maps a task type to the set of node capability labels that
// may execute it. The task type itself is always acceptable (exact match),
// entries add substitutable capability families on top. This is configuration,
// not learned state.
type CapabilityTable map[string][]string

// DefaultCapabilityTable covers the task types the analytics platform ships with.
func DefaultCapabilityTable() CapabilityTable {
	return CapabilityTable{
		"backtest":     {"backtest", "analysis", "data_process"},
		"analysis":     {"analysis", "data_process"},
		"data_process": {"data_process"},
		"data_fetch":   {"data_fetch", "data_process"},
		"optimize":     {"optimize", "analysis"},
		"train":        {"train", "gpu_compute"},
	}
}

// Acceptable returns the capability labels that satisfy the given task type.
func (t CapabilityTable) Acceptable(taskType string) []string {
	if labels, ok := t[taskType]; ok {
		return labels
	}
	// Unknown task types fall back to exact match only.
	return []string{taskType}
}

// Satisfies reports whether a node advertising 'capabilities' can run a task
// of the given type, via exact or substitutable match.
func (t CapabilityTable) Satisfies(taskType string, capabilities []string) bool {
	for _, want := range t.Acceptable(taskType) {
		for _, have := range capabilities {
			if want == have {
				return true
			}
		}
	}
	return false
}

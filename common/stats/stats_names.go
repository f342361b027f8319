package stats

// Named stats recorded by the control plane. Callers should use these
// constants instead of raw strings so dashboards stay stable.
const (
	// SchedTickLatency_ms - duration of one scheduling tick.
	SchedTickLatency_ms = "schedTickLatency_ms"

	// SchedPendingTasksGauge - tasks waiting in the priority queue.
	SchedPendingTasksGauge = "schedPendingTasksGauge"

	// SchedRunningTasksGauge - tasks currently executing.
	SchedRunningTasksGauge = "schedRunningTasksGauge"

	// SchedAssignedTasksCounter - tasks bound to a remote node.
	SchedAssignedTasksCounter = "schedAssignedTasksCounter"

	// SchedLocalFallbackCounter - tasks dispatched to the local worker pool.
	SchedLocalFallbackCounter = "schedLocalFallbackCounter"

	// SchedCompletedTasksCounter - tasks that reached Completed.
	SchedCompletedTasksCounter = "schedCompletedTasksCounter"

	// SchedFailedTasksCounter - tasks that reached terminal Failed.
	SchedFailedTasksCounter = "schedFailedTasksCounter"

	// SchedRetriedTasksCounter - Failed->Pending requeues.
	SchedRetriedTasksCounter = "schedRetriedTasksCounter"

	// SchedTimedOutTasksCounter - Running tasks expired by the timeout sweep.
	SchedTimedOutTasksCounter = "schedTimedOutTasksCounter"

	// ClusterActiveNodesGauge - nodes in Active status.
	ClusterActiveNodesGauge = "clusterActiveNodesGauge"

	// ClusterQuarantinedNodesGauge - nodes held by the failover manager.
	ClusterQuarantinedNodesGauge = "clusterQuarantinedNodesGauge"

	// ClusterCpuGaugeFloat - mean cpu percent across active nodes.
	ClusterCpuGaugeFloat = "clusterCpuGaugeFloat"

	// ClusterMemoryGaugeFloat - mean memory percent across active nodes.
	ClusterMemoryGaugeFloat = "clusterMemoryGaugeFloat"

	// FailoverProbesScheduledCounter - recovery probes scheduled.
	FailoverProbesScheduledCounter = "failoverProbesScheduledCounter"

	// FailoverRecoveredNodesCounter - nodes that passed a recovery probe.
	FailoverRecoveredNodesCounter = "failoverRecoveredNodesCounter"

	// DiscoveryNodesFoundCounter - nodes registered via discovery.
	DiscoveryNodesFoundCounter = "discoveryNodesFoundCounter"
)

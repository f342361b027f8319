package service

import (
	log "github.com/sirupsen/logrus"
)

// ClusterMetrics is the aggregate snapshot pushed to the metrics sink.
type ClusterMetrics struct {
	ClusterCPU    float64 `json:"cluster_cpu"`
	ClusterMemory float64 `json:"cluster_memory"`
	ActiveNodes   int     `json:"active_nodes"`
	Pending       int     `json:"pending"`
	Running       int     `json:"running"`
	Completed     int64   `json:"completed"`
	Failed        int64   `json:"failed"`
}

// MetricsSink receives periodic cluster metrics. Push failures are logged
// and swallowed by the caller, no response is expected.
type MetricsSink interface {
	Push(m ClusterMetrics) error
}

// LogSink writes metrics to the structured log, the default when no real
// sink is wired.
type LogSink struct{}

func (LogSink) Push(m ClusterMetrics) error {
	log.WithFields(log.Fields{
		"clusterCpu":    m.ClusterCPU,
		"clusterMemory": m.ClusterMemory,
		"activeNodes":   m.ActiveNodes,
		"pending":       m.Pending,
		"running":       m.Running,
		"completed":     m.Completed,
		"failed":        m.Failed,
	}).Info("Cluster metrics")
	return nil
}

// ScaleDirection of an auto-scaling proposal.
type ScaleDirection int

const (
	ScaleOut ScaleDirection = iota
	ScaleIn
)

func (d ScaleDirection) String() string {
	if d == ScaleOut {
		return "out"
	}
	return "in"
}

// ScaleAdvisor receives scaling proposals. Actual provisioning is the
// collaborator's business, the control plane only proposes.
type ScaleAdvisor interface {
	Advise(direction ScaleDirection, reason string, activeNodes, backlog int)
}

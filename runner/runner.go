// Package runner defines how tasks actually execute, remotely on a worker
// node or locally on a bounded in-process pool, plus the health probe the
// control plane uses to watch nodes.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/quantive/grid/grid"
)

// Result is the outcome of a successful execution.
type Result struct {
	Output []byte
}

// ExecutionError marks failures originating in the execution layer so the
// scheduler can tell them apart from its own bookkeeping errors.
type ExecutionError struct {
	NodeId grid.NodeId
	Err    error
}

func (e *ExecutionError) Error() string {
	if e.NodeId != "" {
		return fmt.Sprintf("execution failed on node %s: %v", e.NodeId, e.Err)
	}
	return fmt.Sprintf("execution failed: %v", e.Err)
}

// RemoteExecutor dispatches one task. Implementations must be safe for
// concurrent calls with distinct tasks and must honor ctx cancellation and
// deadline.
type RemoteExecutor interface {
	Execute(ctx context.Context, node *grid.Node, task *grid.Task) (Result, error)
}

// NodeSnapshot is the resource view a health probe returns.
type NodeSnapshot struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryPercent float64 `json:"memory_percent"`
	DiskPercent   float64 `json:"disk_percent"`
	GPUPercent    float64 `json:"gpu_percent"`
	TaskCount     int     `json:"task_count"`
}

// HealthProbe is a lightweight reachability check returning the node's
// resource snapshot. Used by the health-check loop and by failover recovery.
type HealthProbe interface {
	Probe(ctx context.Context, node *grid.Node) (NodeSnapshot, error)
}

// DefaultExecTimeout bounds executions whose task carries no timeout.
const DefaultExecTimeout = 10 * time.Minute

// ExecTimeout resolves the effective timeout for a task.
func ExecTimeout(task *grid.Task) time.Duration {
	if task.Def.Timeout > 0 {
		return task.Def.Timeout
	}
	return DefaultExecTimeout
}

package grid

import (
	"fmt"
	"time"
)

type NodeId string

// NodeStatus is the lifecycle state of a worker node.
type NodeStatus int

const (
	NodeUnknown NodeStatus = iota
	NodeActive
	NodeInactive
	NodeBusy
	NodeOverloaded
	NodeFailed
	NodeMaintenance
)

func (s NodeStatus) String() string {
	asString := [7]string{"Unknown", "Active", "Inactive", "Busy", "Overloaded", "Failed", "Maintenance"}
	if s < NodeUnknown || s > NodeMaintenance {
		return fmt.Sprintf("NodeStatus(%d)", int(s))
	}
	return asString[s]
}

type NodeType int

const (
	NodeMaster NodeType = iota
	NodeWorker
	NodeHybrid
)

func (t NodeType) String() string {
	asString := [3]string{"Master", "Worker", "Hybrid"}
	if t < NodeMaster || t > NodeHybrid {
		return fmt.Sprintf("NodeType(%d)", int(t))
	}
	return asString[t]
}

// Node is a worker process capable of executing tasks. The registry owns the
// canonical copy, everything else references nodes by id.
type Node struct {
	Id   NodeId
	Host string
	Port int

	Status       NodeStatus
	Type         NodeType
	Capabilities []string

	// Labels carry placement hints matched against task affinity rules, e.g.
	// {"region": "us-east"}. Missing labels bias selection, they never hard-filter.
	Labels map[string]string

	// Live resource metrics, refreshed by heartbeats and the health-check loop.
	CPUPercent    float64
	MemoryPercent float64
	DiskPercent   float64
	GPUPercent    float64

	TaskCount          int
	MaxConcurrentTasks int

	HealthScore         float64 // [0,1]
	ConsecutiveFailures int

	CreatedAt     time.Time
	LastHeartbeat time.Time
}

// Addr returns the host:port form used by probes and executors.
func (n *Node) Addr() string {
	return fmt.Sprintf("%s:%d", n.Host, n.Port)
}

// HasCapability reports whether the node advertises the given capability label.
func (n *Node) HasCapability(label string) bool {
	for _, c := range n.Capabilities {
		if c == label {
			return true
		}
	}
	return false
}

// Uptime is the time since the node was first registered.
func (n *Node) Uptime(now time.Time) time.Duration {
	if n.CreatedAt.IsZero() {
		return 0
	}
	return now.Sub(n.CreatedAt)
}

// LoadFraction is current task load as a fraction of capacity in [0,1].
func (n *Node) LoadFraction() float64 {
	if n.MaxConcurrentTasks <= 0 {
		return 1
	}
	f := float64(n.TaskCount) / float64(n.MaxConcurrentTasks)
	if f > 1 {
		f = 1
	}
	return f
}

// HasFreeSlot reports whether the node can accept one more task.
func (n *Node) HasFreeSlot() bool {
	return n.TaskCount < n.MaxConcurrentTasks
}

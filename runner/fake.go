package runner

import (
	"context"
	"sync"
	"time"

	"github.com/quantive/grid/grid"
)

// FakeExecutor is a deterministic in-memory executor for tests and demos.
// It sleeps for Delay, honoring ctx, and fails any task whose type appears
// in FailTypes.
type FakeExecutor struct {
	Delay     time.Duration
	FailTypes map[string]bool

	mu       sync.Mutex
	executed []string // task ids in completion order
}

func NewFakeExecutor() *FakeExecutor {
	return &FakeExecutor{FailTypes: map[string]bool{}}
}

func (f *FakeExecutor) Execute(ctx context.Context, node *grid.Node, task *grid.Task) (Result, error) {
	if f.Delay > 0 {
		select {
		case <-time.After(f.Delay):
		case <-ctx.Done():
			return Result{}, &ExecutionError{Err: ctx.Err()}
		}
	}
	if f.FailTypes[task.Def.TaskType] {
		return Result{}, &ExecutionError{Err: context.DeadlineExceeded}
	}
	f.mu.Lock()
	f.executed = append(f.executed, task.Id)
	f.mu.Unlock()
	return Result{Output: []byte("ok")}, nil
}

// Executed returns completed task ids in order.
func (f *FakeExecutor) Executed() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string{}, f.executed...)
}

var _ RemoteExecutor = (*FakeExecutor)(nil)

// FakeProbe returns canned snapshots and can be flipped unreachable.
type FakeProbe struct {
	mu          sync.Mutex
	snapshots   map[grid.NodeId]NodeSnapshot
	unreachable map[grid.NodeId]bool
	probes      map[grid.NodeId]int
}

func NewFakeProbe() *FakeProbe {
	return &FakeProbe{
		snapshots:   map[grid.NodeId]NodeSnapshot{},
		unreachable: map[grid.NodeId]bool{},
		probes:      map[grid.NodeId]int{},
	}
}

func (f *FakeProbe) SetSnapshot(id grid.NodeId, snap NodeSnapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapshots[id] = snap
}

func (f *FakeProbe) SetUnreachable(id grid.NodeId, down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.unreachable[id] = down
}

// ProbeCount reports how many times a node was probed.
func (f *FakeProbe) ProbeCount(id grid.NodeId) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.probes[id]
}

func (f *FakeProbe) Probe(ctx context.Context, node *grid.Node) (NodeSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.probes[node.Id]++
	if f.unreachable[node.Id] {
		return NodeSnapshot{}, &ExecutionError{NodeId: node.Id, Err: context.DeadlineExceeded}
	}
	return f.snapshots[node.Id], nil
}

var _ HealthProbe = (*FakeProbe)(nil)

package runner

import (
	"context"
	"fmt"
	"runtime"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/quantive/grid/grid"
)

// HandlerFunc executes one task type in-process. Handlers must watch ctx and
// stop at their next checkpoint once it is cancelled.
type HandlerFunc func(ctx context.Context, task *grid.Task) ([]byte, error)

// LocalRunner executes tasks on a bounded worker pool inside the control
// plane process. It backs the degrade-to-local fallback when no remote node
// qualifies, so a cluster of zero nodes still drains its queue.
type LocalRunner struct {
	slots chan struct{}

	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewLocalRunner makes a pool with the given concurrency. size <= 0 defaults
// to twice the available cores.
func NewLocalRunner(size int) *LocalRunner {
	if size <= 0 {
		size = 2 * runtime.NumCPU()
	}
	return &LocalRunner{
		slots:    make(chan struct{}, size),
		handlers: map[string]HandlerFunc{},
	}
}

// Register installs the handler for a task type, replacing any previous one.
func (r *LocalRunner) Register(taskType string, h HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[taskType] = h
}

// Execute runs the task once a pool slot frees up. The node argument is
// ignored, local execution has no node. Blocks for a slot but gives up if ctx
// expires first, so a full pool cannot wedge callers forever.
func (r *LocalRunner) Execute(ctx context.Context, _ *grid.Node, task *grid.Task) (Result, error) {
	r.mu.RLock()
	h, ok := r.handlers[task.Def.TaskType]
	r.mu.RUnlock()
	if !ok {
		return Result{}, &ExecutionError{Err: fmt.Errorf("no local handler for task type %q", task.Def.TaskType)}
	}

	select {
	case r.slots <- struct{}{}:
	case <-ctx.Done():
		return Result{}, &ExecutionError{Err: ctx.Err()}
	}
	defer func() { <-r.slots }()

	log.WithFields(log.Fields{"taskID": task.Id, "taskType": task.Def.TaskType}).Debug("Executing task locally")
	out, err := h(ctx, task)
	if err != nil {
		return Result{}, &ExecutionError{Err: err}
	}
	return Result{Output: out}, nil
}

var _ RemoteExecutor = (*LocalRunner)(nil)

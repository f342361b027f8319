package scheduler

import (
	"context"
	"sort"

	"github.com/quantive/grid/grid"
)

// taskState is the scheduler's private bookkeeping around one task. The
// scheduler exclusively owns the task object from submission to terminal
// state, callers only ever see copies.
type taskState struct {
	task *grid.Task

	// seq breaks priority ties in submission order. Retried tasks get a
	// fresh seq so a requeue goes behind its priority peers.
	seq int64

	// attempt distinguishes execution attempts so a stale executor return
	// from before a retry cannot settle the requeued task.
	attempt int64

	// cancel aborts the in-flight execution, set while dispatched.
	cancel context.CancelFunc

	// cancelRequested marks a cooperative cancellation of a running task.
	cancelRequested bool

	// timedOut marks a task already failed by the timeout sweep so a late
	// executor return is ignored.
	timedOut bool

	// recorded guards the exactly-once RecordCompletion contract.
	recorded bool
}

// pendingQueue keeps tasks ordered by ascending priority value, then seq.
type pendingQueue struct {
	items []*taskState
}

func (q *pendingQueue) len() int { return len(q.items) }

// push inserts in order.
func (q *pendingQueue) push(ts *taskState) {
	i := sort.Search(len(q.items), func(i int) bool {
		it := q.items[i]
		if it.task.Def.Priority != ts.task.Def.Priority {
			return it.task.Def.Priority > ts.task.Def.Priority
		}
		return it.seq > ts.seq
	})
	q.items = append(q.items, nil)
	copy(q.items[i+1:], q.items[i:])
	q.items[i] = ts
}

// remove deletes the task with the given id, returning whether it was found.
func (q *pendingQueue) remove(id string) bool {
	for i, it := range q.items {
		if it.task.Id == id {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// oldest returns pending tasks ordered by submission (seq), for the
// degrade-to-local fallback.
func (q *pendingQueue) oldest() []*taskState {
	out := append([]*taskState{}, q.items...)
	sort.Slice(out, func(i, j int) bool { return out[i].seq < out[j].seq })
	return out
}

func copyTask(t *grid.Task) *grid.Task {
	if t == nil {
		return nil
	}
	cp := *t
	cp.Def.Dependencies = append([]string{}, t.Def.Dependencies...)
	cp.Def.PreferredNodes = append([]grid.NodeId{}, t.Def.PreferredNodes...)
	cp.Def.ExcludedNodes = append([]grid.NodeId{}, t.Def.ExcludedNodes...)
	if t.Def.AffinityRules != nil {
		cp.Def.AffinityRules = map[string]string{}
		for k, v := range t.Def.AffinityRules {
			cp.Def.AffinityRules[k] = v
		}
	}
	return &cp
}

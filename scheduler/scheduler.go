// Package scheduler owns the pending/running/completed task queues, applies
// capability filtering, invokes the load balancer, and dispatches work to a
// remote executor or the local fallback worker pool.
//
// Concurrency: all task collections live behind one mutex with critical
// sections sized to individual queue/map operations. Execution never happens
// under the lock, dispatch runs on a bounded goroutine pool so a stalled
// executor cannot starve scheduling of unrelated tasks.
package scheduler

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	log "github.com/sirupsen/logrus"

	"github.com/quantive/grid/balancer"
	"github.com/quantive/grid/cluster"
	"github.com/quantive/grid/common"
	"github.com/quantive/grid/common/stats"
	"github.com/quantive/grid/failover"
	"github.com/quantive/grid/grid"
	"github.com/quantive/grid/runner"
)

// Eligibility gates for the candidate node set.
const (
	DefaultMinHealthScore     = 0.5
	DefaultMaxNodeFailures    = 5
	DefaultCompletedRetention = 1024
)

type Config struct {
	// Capabilities maps task types to acceptable node capability labels.
	Capabilities grid.CapabilityTable

	// MaxDispatchers bounds concurrent executions, <= 0 means 2x cores.
	MaxDispatchers int

	// MinHealthScore excludes nodes scoring below it, <= 0 means 0.5.
	MinHealthScore float64

	// MaxNodeFailures excludes nodes at or past it, <= 0 means 5.
	MaxNodeFailures int

	// CompletedRetention caps how many terminal tasks GetStatus still sees.
	CompletedRetention int

	// DisableLocalFallback turns off degrade-to-local dispatch.
	DisableLocalFallback bool
}

type assignment struct {
	ts   *taskState
	node *grid.Node
}

// TaskScheduler implements the scheduling tick described in the package doc.
type TaskScheduler struct {
	registry *cluster.Registry
	balancer *balancer.Balancer
	failover *failover.Manager
	remote   runner.RemoteExecutor
	local    *runner.LocalRunner
	caps     grid.CapabilityTable
	config   Config
	stat     stats.StatsReceiver

	mu        sync.Mutex
	queue     pendingQueue
	tasks     map[string]*taskState // everything not yet terminal
	completed *lru.Cache            // terminal task snapshots by id
	seq       int64

	// Cumulative terminal totals, not retention-bounded. These are the
	// authority for Counts, stats counters only mirror them.
	completedTotal int64
	failedTotal    int64

	dispatchSlots chan struct{}
}

func NewTaskScheduler(
	registry *cluster.Registry,
	bal *balancer.Balancer,
	fo *failover.Manager,
	remote runner.RemoteExecutor,
	local *runner.LocalRunner,
	config Config,
	stat stats.StatsReceiver,
) *TaskScheduler {
	if config.Capabilities == nil {
		config.Capabilities = grid.DefaultCapabilityTable()
	}
	if config.MaxDispatchers <= 0 {
		config.MaxDispatchers = 2 * runtime.NumCPU()
	}
	if config.MinHealthScore <= 0 {
		config.MinHealthScore = DefaultMinHealthScore
	}
	if config.MaxNodeFailures <= 0 {
		config.MaxNodeFailures = DefaultMaxNodeFailures
	}
	if config.CompletedRetention <= 0 {
		config.CompletedRetention = DefaultCompletedRetention
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	if local == nil {
		local = runner.NewLocalRunner(0)
	}
	completed, _ := lru.New(config.CompletedRetention)
	return &TaskScheduler{
		registry:      registry,
		balancer:      bal,
		failover:      fo,
		remote:        remote,
		local:         local,
		caps:          config.Capabilities,
		config:        config,
		stat:          stat.Scope("sched"),
		tasks:         map[string]*taskState{},
		completed:     completed,
		dispatchSlots: make(chan struct{}, config.MaxDispatchers),
	}
}

// LocalRunner exposes the fallback pool so callers can register handlers.
func (s *TaskScheduler) LocalRunner() *runner.LocalRunner { return s.local }

// Submit validates the definition and enqueues a new task, returning its id.
// It never blocks on dispatch, all matching happens in Tick.
func (s *TaskScheduler) Submit(def grid.TaskDefinition) (string, error) {
	if err := grid.ValidateTaskDef(def); err != nil {
		return "", err
	}
	task := &grid.Task{
		Id:        common.GenUUID(),
		Def:       def,
		Status:    grid.Pending,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	s.seq++
	ts := &taskState{task: task, seq: s.seq}
	s.tasks[task.Id] = ts
	s.queue.push(ts)
	pending := s.queue.len()
	s.mu.Unlock()

	s.stat.Gauge(stats.SchedPendingTasksGauge).Update(int64(pending))
	log.WithFields(log.Fields{
		"taskID":   task.Id,
		"taskType": def.TaskType,
		"priority": def.Priority,
	}).Info("Submitted task")
	return task.Id, nil
}

// GetStatus returns a copy of the task, or nil if the id is unknown (or its
// terminal snapshot aged out of retention).
func (s *TaskScheduler) GetStatus(id string) *grid.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	if ts, ok := s.tasks[id]; ok {
		return copyTask(ts.task)
	}
	if v, ok := s.completed.Get(id); ok {
		return copyTask(v.(*grid.Task))
	}
	return nil
}

// Cancel cancels a task that has not reached a terminal state. Pending tasks
// are removed immediately, running tasks get a cooperative cancellation the
// executor honors at its next checkpoint.
func (s *TaskScheduler) Cancel(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	ts, ok := s.tasks[id]
	if !ok {
		return false
	}
	switch ts.task.Status {
	case grid.Pending:
		s.finalizeLocked(ts, nil, nil, true)
		return true
	case grid.Assigned, grid.Running:
		ts.cancelRequested = true
		if ts.cancel != nil {
			ts.cancel()
		}
		log.WithFields(log.Fields{"taskID": id}).Info("Requested cooperative cancellation")
		return true
	}
	return false
}

// Tick runs one scheduling step: timeout sweep, dependency-failure
// propagation, candidate matching, remote dispatch, and local fallback.
// Returns the number of remote assignments and local fallback dispatches.
func (s *TaskScheduler) Tick() (int, int) {
	defer s.stat.Latency(stats.SchedTickLatency_ms).Time().Stop()

	s.sweepTimeouts(time.Now())
	s.propagateDepFailures()

	assignments := s.match()
	for _, a := range assignments {
		s.dispatch(a.ts.task.Id, a.node)
	}
	fallback := 0
	if !s.config.DisableLocalFallback {
		fallback = s.localFallback()
	}

	s.mu.Lock()
	pending := s.queue.len()
	running := 0
	for _, ts := range s.tasks {
		if ts.task.Status == grid.Running {
			running++
		}
	}
	s.mu.Unlock()
	s.stat.Gauge(stats.SchedPendingTasksGauge).Update(int64(pending))
	s.stat.Gauge(stats.SchedRunningTasksGauge).Update(int64(running))
	return len(assignments), fallback
}

// Counts returns (pending, running, completed, failed) totals. Terminal
// counts are cumulative counters, not retention-bounded.
func (s *TaskScheduler) Counts() (int, int, int64, int64) {
	s.mu.Lock()
	pending := s.queue.len()
	running := 0
	for _, ts := range s.tasks {
		if ts.task.Status == grid.Running || ts.task.Status == grid.Assigned {
			running++
		}
	}
	completed := s.completedTotal
	failed := s.failedTotal
	s.mu.Unlock()
	return pending, running, completed, failed
}

// Stop cancels all in-flight executions.
func (s *TaskScheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range s.tasks {
		if ts.cancel != nil {
			ts.cancel()
		}
	}
}

// sweepTimeouts fails every Running task past its timeout. This is the
// scheduler-driven transition, a wedged executor cannot hold a task Running
// past one tick of its deadline.
func (s *TaskScheduler) sweepTimeouts(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range s.tasks {
		t := ts.task
		if t.Status != grid.Running || t.Def.Timeout <= 0 {
			continue
		}
		if now.Sub(t.StartedAt) <= t.Def.Timeout {
			continue
		}
		ts.timedOut = true
		if ts.cancel != nil {
			ts.cancel()
		}
		s.stat.Counter(stats.SchedTimedOutTasksCounter).Inc(1)
		log.WithFields(log.Fields{
			"taskID":  t.Id,
			"timeout": t.Def.Timeout,
			"node":    t.AssignedNode,
		}).Warn("Task timed out")
		s.finalizeLocked(ts, nil, fmt.Errorf("timed out after %v", t.Def.Timeout), false)
	}
}

// propagateDepFailures fails pending tasks whose dependency reached Failed or
// Cancelled, rather than leaving them queued forever.
func (s *TaskScheduler) propagateDepFailures() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range append([]*taskState{}, s.queue.items...) {
		if failedDep := s.failedDepLocked(ts); failedDep != "" {
			log.WithFields(log.Fields{"taskID": ts.task.Id, "dep": failedDep}).Warn(
				"Failing task, dependency failed")
			ts.task.RetryCount = ts.task.Def.MaxRetries // retrying cannot fix a dead dependency
			s.finalizeLocked(ts, nil, fmt.Errorf("dependency %s failed", failedDep), false)
		}
	}
}

// depsReadyLocked reports whether every dependency reached Completed.
func (s *TaskScheduler) depsReadyLocked(ts *taskState) bool {
	for _, dep := range ts.task.Def.Dependencies {
		if v, ok := s.completed.Get(dep); ok && v.(*grid.Task).Status == grid.Completed {
			continue
		}
		return false
	}
	return true
}

// failedDepLocked returns the id of a dependency in a non-Completed terminal
// state, or "".
func (s *TaskScheduler) failedDepLocked(ts *taskState) string {
	for _, dep := range ts.task.Def.Dependencies {
		if v, ok := s.completed.Get(dep); ok {
			if st := v.(*grid.Task).Status; st == grid.Failed || st == grid.Cancelled {
				return dep
			}
		}
	}
	return ""
}

// candidateNodes builds the eligible node set: Active, free slot, healthy,
// not quarantined, ordered by ascending load (task count, then cpu).
func (s *TaskScheduler) candidateNodes() []*grid.Node {
	nodes := s.registry.List(grid.NodeActive)
	var out []*grid.Node
	for _, n := range nodes {
		if !n.HasFreeSlot() {
			continue
		}
		if n.HealthScore < s.config.MinHealthScore {
			continue
		}
		if n.ConsecutiveFailures >= s.config.MaxNodeFailures {
			continue
		}
		if s.failover != nil && s.failover.IsQuarantined(n.Id) {
			continue
		}
		out = append(out, n)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TaskCount != out[j].TaskCount {
			return out[i].TaskCount < out[j].TaskCount
		}
		return out[i].CPUPercent < out[j].CPUPercent
	})
	return out
}

// eligibleFor applies the capability table and the task's exclusion list.
func (s *TaskScheduler) eligibleFor(t *grid.Task, n *grid.Node) bool {
	for _, ex := range t.Def.ExcludedNodes {
		if ex == n.Id {
			return false
		}
	}
	return s.caps.Satisfies(t.Def.TaskType, n.Capabilities)
}

// match pairs pending tasks with candidate nodes under the lock and returns
// the assignments to dispatch. Tasks are considered strictly by priority,
// then submission order.
func (s *TaskScheduler) match() []assignment {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.queue.len() == 0 || s.remote == nil {
		return nil
	}
	cands := s.candidateNodes()
	if len(cands) == 0 {
		return nil
	}

	var out []assignment
	for {
		progress := false
		for _, cand := range cands {
			if !cand.HasFreeSlot() {
				continue
			}
			ts := s.pickTaskForLocked(cand)
			if ts == nil {
				continue
			}
			// Refine among every eligible candidate, honoring preference.
			node := s.refineLocked(ts, cands)
			if node == nil {
				node = cand
			}

			s.setStatusLocked(ts, grid.Assigned)
			ts.task.AssignedNode = node.Id
			s.queue.remove(ts.task.Id)
			node.TaskCount++ // keep the local snapshot honest for this tick
			s.registry.Mutate(node.Id, func(n *grid.Node) { n.TaskCount++ })
			out = append(out, assignment{ts: ts, node: node})
			s.stat.Counter(stats.SchedAssignedTasksCounter).Inc(1)
			log.WithFields(log.Fields{
				"taskID":   ts.task.Id,
				"taskType": ts.task.Def.TaskType,
				"priority": ts.task.Def.Priority,
				"node":     node.Id,
			}).Info("Assigned task to node")
			progress = true
		}
		if !progress {
			break
		}
	}
	return out
}

// pickTaskForLocked selects the highest-priority pending task this candidate
// can run, skipping tasks with unmet dependencies.
func (s *TaskScheduler) pickTaskForLocked(cand *grid.Node) *taskState {
	for _, ts := range s.queue.items {
		if !s.depsReadyLocked(ts) {
			continue
		}
		if s.eligibleFor(ts.task, cand) {
			return ts
		}
	}
	return nil
}

// refineLocked lets the load balancer choose among all eligible candidates,
// restricted to the preferred set when any preferred node is eligible.
func (s *TaskScheduler) refineLocked(ts *taskState, cands []*grid.Node) *grid.Node {
	var eligible []*grid.Node
	for _, n := range cands {
		if n.HasFreeSlot() && s.eligibleFor(ts.task, n) {
			eligible = append(eligible, n)
		}
	}
	if len(eligible) == 0 {
		return nil
	}
	if len(ts.task.Def.PreferredNodes) > 0 {
		var preferred []*grid.Node
		for _, n := range eligible {
			for _, p := range ts.task.Def.PreferredNodes {
				if n.Id == p {
					preferred = append(preferred, n)
					break
				}
			}
		}
		if len(preferred) > 0 {
			eligible = preferred
		}
	}
	if s.balancer == nil {
		return eligible[0]
	}
	return s.balancer.Pick(ts.task, eligible)
}

// localFallback dispatches the oldest dependency-ready pending tasks that no
// registered node could ever serve to the local worker pool. This is a
// deliberate degrade-to-local policy so a cluster with zero qualifying nodes
// still drains its queue. A task some node is capable of waits for that node
// instead, saturation and transient unhealth are not grounds for fallback.
func (s *TaskScheduler) localFallback() int {
	s.mu.Lock()
	nodes := s.registry.List()
	var batch []*taskState
	for _, ts := range s.queue.oldest() {
		if len(batch) >= s.config.MaxDispatchers {
			break
		}
		if !s.depsReadyLocked(ts) {
			continue
		}
		servable := false
		if s.remote != nil {
			for _, n := range nodes {
				if s.eligibleFor(ts.task, n) {
					servable = true
					break
				}
			}
		}
		if servable {
			continue
		}
		s.setStatusLocked(ts, grid.Assigned)
		ts.task.AssignedNode = ""
		s.queue.remove(ts.task.Id)
		batch = append(batch, ts)
	}
	s.mu.Unlock()

	for _, ts := range batch {
		s.stat.Counter(stats.SchedLocalFallbackCounter).Inc(1)
		log.WithFields(log.Fields{"taskID": ts.task.Id, "taskType": ts.task.Def.TaskType}).Info(
			"No qualifying node, dispatching task to local pool")
		s.dispatch(ts.task.Id, nil)
	}
	return len(batch)
}

// dispatch launches one execution on the bounded pool. node == nil means the
// local fallback pool.
func (s *TaskScheduler) dispatch(taskId string, node *grid.Node) {
	go func() {
		s.dispatchSlots <- struct{}{}
		defer func() { <-s.dispatchSlots }()

		s.mu.Lock()
		ts, ok := s.tasks[taskId]
		if !ok || ts.task.Status != grid.Assigned {
			s.mu.Unlock()
			return
		}
		if ts.cancelRequested {
			s.finalizeLocked(ts, nil, nil, true)
			s.mu.Unlock()
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), runner.ExecTimeout(ts.task))
		ts.cancel = cancel
		ts.attempt++
		myAttempt := ts.attempt
		s.setStatusLocked(ts, grid.Running)
		ts.task.StartedAt = time.Now()
		task := copyTask(ts.task)
		s.mu.Unlock()
		defer cancel()

		exec := s.remote
		if node == nil {
			exec = s.local
		}
		res, err := exec.Execute(ctx, node, task)

		s.mu.Lock()
		defer s.mu.Unlock()
		ts, ok = s.tasks[taskId]
		if !ok || ts.attempt != myAttempt || ts.task.Status != grid.Running {
			// The timeout sweep or a cancel already settled this attempt.
			return
		}
		ts.cancel = nil
		if err != nil && node != nil && !ts.cancelRequested {
			s.registry.Mutate(node.Id, func(n *grid.Node) { n.ConsecutiveFailures++ })
		} else if err == nil && node != nil {
			s.registry.Mutate(node.Id, func(n *grid.Node) { n.ConsecutiveFailures = 0 })
		}
		s.finalizeLocked(ts, res.Output, err, false)
	}()
}

// finalizeLocked settles one execution attempt: complete, cancel, retry, or
// fail. Exactly one RecordCompletion happens per terminal transition of a
// remotely-executed task, guarded by ts.recorded.
func (s *TaskScheduler) finalizeLocked(ts *taskState, output []byte, execErr error, cancelled bool) {
	t := ts.task
	if t.Status.Terminal() {
		return
	}
	now := time.Now()
	s.queue.remove(t.Id)

	// The node slot is taken at assignment, so it must be released whenever
	// an assigned-or-running task settles, not only after dispatch started.
	wasDispatched := t.Status == grid.Running
	nodeId := t.AssignedNode
	if nodeId != "" {
		s.registry.Mutate(nodeId, func(n *grid.Node) {
			if n.TaskCount > 0 {
				n.TaskCount--
			}
		})
	}
	duration := time.Duration(0)
	if wasDispatched {
		duration = now.Sub(t.StartedAt)
	}

	switch {
	case cancelled || ts.cancelRequested:
		s.setStatusLocked(ts, grid.Cancelled)
		t.CompletedAt = now
		log.WithFields(log.Fields{"taskID": t.Id}).Info("Task cancelled")

	case execErr == nil:
		s.setStatusLocked(ts, grid.Completed)
		t.Result = output
		t.CompletedAt = now
		s.completedTotal++
		s.stat.Counter(stats.SchedCompletedTasksCounter).Inc(1)
		s.recordOnceLocked(ts, nodeId, duration, true)
		log.WithFields(log.Fields{"taskID": t.Id, "node": nodeId, "duration": duration}).Info("Task completed")

	case t.RetryCount < t.Def.MaxRetries:
		// Failed -> Pending, the retry path.
		t.RetryCount++
		t.Err = execErr.Error()
		s.setStatusLocked(ts, grid.Failed)
		s.setStatusLocked(ts, grid.Pending)
		t.AssignedNode = ""
		t.StartedAt = time.Time{}
		ts.timedOut = false
		ts.cancel = nil
		s.seq++
		ts.seq = s.seq
		s.queue.push(ts)
		s.stat.Counter(stats.SchedRetriedTasksCounter).Inc(1)
		log.WithFields(log.Fields{
			"taskID": t.Id,
			"retry":  t.RetryCount,
			"max":    t.Def.MaxRetries,
			"err":    execErr,
		}).Warn("Task failed, requeued for retry")
		return

	default:
		s.setStatusLocked(ts, grid.Failed)
		t.Err = execErr.Error()
		t.CompletedAt = now
		s.failedTotal++
		s.stat.Counter(stats.SchedFailedTasksCounter).Inc(1)
		s.recordOnceLocked(ts, nodeId, duration, false)
		log.WithFields(log.Fields{"taskID": t.Id, "node": nodeId, "err": execErr}).Warn("Task failed, retries exhausted")
	}

	delete(s.tasks, t.Id)
	s.completed.Add(t.Id, copyTask(t))
}

// setStatusLocked moves a task through the state machine, checking every
// transition against the legal-transition table.
func (s *TaskScheduler) setStatusLocked(ts *taskState, to grid.TaskStatus) {
	if from := ts.task.Status; !grid.ValidTransition(from, to) {
		log.WithFields(log.Fields{
			"taskID": ts.task.Id,
			"from":   from,
			"to":     to,
		}).Error("Illegal task status transition")
	}
	ts.task.Status = to
}

func (s *TaskScheduler) recordOnceLocked(ts *taskState, nodeId grid.NodeId, d time.Duration, success bool) {
	if ts.recorded || nodeId == "" || s.balancer == nil {
		return
	}
	ts.recorded = true
	s.balancer.RecordCompletion(nodeId, d, success)
}

// Package service wires the registry, scheduler, balancer, and failover
// manager together and runs the periodic scheduling, health-check,
// metrics-collection, and auto-scaling loops. Each loop runs on its own
// ticker and goroutine, shared state is guarded inside the components, never
// across a whole loop iteration.
package service

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quantive/grid/balancer"
	"github.com/quantive/grid/cluster"
	"github.com/quantive/grid/common/stats"
	"github.com/quantive/grid/failover"
	"github.com/quantive/grid/grid"
	"github.com/quantive/grid/runner"
	"github.com/quantive/grid/scheduler"
	"github.com/quantive/grid/security"
)

type Config struct {
	ScheduleInterval  time.Duration // default 1s
	HealthInterval    time.Duration // default 30s
	MetricsInterval   time.Duration // default 60s
	AutoScaleInterval time.Duration // default 120s

	// MinNodes is the floor below which scale-in is never proposed.
	MinNodes int

	// Auto-scaling thresholds on mean active-node load.
	ScaleOutLoad float64 // default 0.8
	ScaleInLoad  float64 // default 0.3

	// ProbeFailureLimit is how many consecutive probe failures hand a node
	// to the failover manager.
	ProbeFailureLimit int // default 3

	// ProbeTimeout bounds one health probe.
	ProbeTimeout time.Duration // default 5s
}

func (c *Config) fillDefaults() {
	if c.ScheduleInterval <= 0 {
		c.ScheduleInterval = time.Second
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = 30 * time.Second
	}
	if c.MetricsInterval <= 0 {
		c.MetricsInterval = 60 * time.Second
	}
	if c.AutoScaleInterval <= 0 {
		c.AutoScaleInterval = 120 * time.Second
	}
	if c.MinNodes <= 0 {
		c.MinNodes = 1
	}
	if c.ScaleOutLoad <= 0 {
		c.ScaleOutLoad = 0.8
	}
	if c.ScaleInLoad <= 0 {
		c.ScaleInLoad = 0.3
	}
	if c.ProbeFailureLimit <= 0 {
		c.ProbeFailureLimit = 3
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 5 * time.Second
	}
}

// DistributedService is the orchestrator and task-submission boundary.
// Construct one per deployment and pass explicit references, there is no
// process-wide instance.
type DistributedService struct {
	registry  *cluster.Registry
	scheduler *scheduler.TaskScheduler
	balancer  *balancer.Balancer
	failover  *failover.Manager
	probe     runner.HealthProbe
	config    Config
	stat      stats.StatsReceiver

	// Optional collaborators.
	discovery *cluster.Discovery
	tokens    *security.Manager
	sink      MetricsSink
	advisor   ScaleAdvisor

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	registry *cluster.Registry,
	sched *scheduler.TaskScheduler,
	bal *balancer.Balancer,
	fo *failover.Manager,
	probe runner.HealthProbe,
	config Config,
	stat stats.StatsReceiver,
) *DistributedService {
	config.fillDefaults()
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	return &DistributedService{
		registry:  registry,
		scheduler: sched,
		balancer:  bal,
		failover:  fo,
		probe:     probe,
		config:    config,
		stat:      stat.Scope("service"),
		sink:      LogSink{},
	}
}

// Optional wiring, call before Start.
func (s *DistributedService) SetDiscovery(d *cluster.Discovery)   { s.discovery = d }
func (s *DistributedService) SetTokenManager(m *security.Manager) { s.tokens = m }
func (s *DistributedService) SetMetricsSink(sink MetricsSink)     { s.sink = sink }
func (s *DistributedService) SetScaleAdvisor(a ScaleAdvisor)      { s.advisor = a }

// Start launches the four periodic loops and optional discovery.
func (s *DistributedService) Start() {
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.loop(s.config.ScheduleInterval, func() { s.scheduler.Tick() })
	s.loop(s.config.HealthInterval, s.healthCheck)
	s.loop(s.config.MetricsInterval, s.collectMetrics)
	s.loop(s.config.AutoScaleInterval, s.evaluateScaling)
	if s.discovery != nil {
		s.discovery.Start()
	}
	log.WithFields(log.Fields{
		"scheduleInterval": s.config.ScheduleInterval,
		"healthInterval":   s.config.HealthInterval,
	}).Info("Distributed service started")
}

// Stop shuts the loops down and cancels in-flight work.
func (s *DistributedService) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
	if s.discovery != nil {
		s.discovery.Stop()
	}
	if s.failover != nil {
		s.failover.Stop()
	}
	s.scheduler.Stop()
	log.Info("Distributed service stopped")
}

func (s *DistributedService) loop(intvl time.Duration, f func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(intvl)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				f()
			}
		}
	}()
}

// SubmitTask is the task-submission API. Callers observe failures via
// GetStatus, a successful submit only means the task was enqueued.
func (s *DistributedService) SubmitTask(def grid.TaskDefinition) (string, error) {
	return s.scheduler.Submit(def)
}

func (s *DistributedService) GetStatus(taskId string) *grid.Task {
	return s.scheduler.GetStatus(taskId)
}

func (s *DistributedService) CancelTask(taskId string) bool {
	return s.scheduler.Cancel(taskId)
}

// AddNode registers a node, optionally issuing it an auth token when the
// security manager is wired.
func (s *DistributedService) AddNode(node *grid.Node) (token string, ok bool) {
	if !s.registry.Register(node) {
		return "", false
	}
	if s.tokens != nil {
		token = s.tokens.IssueToken(node.Id)
	}
	return token, true
}

func (s *DistributedService) RemoveNode(id grid.NodeId) bool {
	if !s.registry.Deregister(id) {
		return false
	}
	if s.balancer != nil {
		s.balancer.Forget(id)
	}
	return true
}

// VerifyNodeToken reports whether a node-presented token is valid. Always
// true when the optional security manager is not wired.
func (s *DistributedService) VerifyNodeToken(id grid.NodeId, token string) bool {
	if s.tokens == nil {
		return true
	}
	return s.tokens.VerifyToken(id, token)
}

// GetClusterMetrics aggregates cpu/memory/task counts across active nodes.
func (s *DistributedService) GetClusterMetrics() ClusterMetrics {
	nodes := s.registry.List(grid.NodeActive)
	m := ClusterMetrics{ActiveNodes: len(nodes)}
	for _, n := range nodes {
		m.ClusterCPU += n.CPUPercent
		m.ClusterMemory += n.MemoryPercent
	}
	if len(nodes) > 0 {
		m.ClusterCPU /= float64(len(nodes))
		m.ClusterMemory /= float64(len(nodes))
	}
	m.Pending, m.Running, m.Completed, m.Failed = s.scheduler.Counts()
	return m
}

// healthCheck probes every known node, refreshes its metrics and health
// score, and hands persistently failing nodes to the failover manager.
// Probes happen outside any lock.
func (s *DistributedService) healthCheck() {
	for _, node := range s.registry.List() {
		if node.Status == grid.NodeMaintenance {
			continue
		}
		if s.failover != nil && s.failover.IsQuarantined(node.Id) {
			continue
		}

		ctx, cancel := context.WithTimeout(s.ctx, s.config.ProbeTimeout)
		start := time.Now()
		snap, err := s.probe.Probe(ctx, node)
		rtt := time.Since(start)
		cancel()

		if err != nil {
			s.handleProbeFailure(node, err)
			continue
		}

		if s.balancer != nil {
			s.balancer.RecordLatency(node.Id, rtt)
		}
		s.registry.Mutate(node.Id, func(n *grid.Node) {
			n.CPUPercent = snap.CPUPercent
			n.MemoryPercent = snap.MemoryPercent
			n.DiskPercent = snap.DiskPercent
			n.GPUPercent = snap.GPUPercent
			n.LastHeartbeat = time.Now()
			n.ConsecutiveFailures = 0
			n.HealthScore = healthScore(n)
			n.Status = statusFor(n)
			if s.balancer != nil {
				s.balancer.RecordLoad(n.Id, n.LoadFraction())
			}
			log.WithFields(log.Fields{
				"node":   n.Id,
				"score":  n.HealthScore,
				"status": n.Status,
				"uptime": n.Uptime(time.Now()),
				"rtt":    rtt,
			}).Debug("Node health refreshed")
		})
	}

	active := s.registry.List(grid.NodeActive)
	s.stat.Gauge(stats.ClusterActiveNodesGauge).Update(int64(len(active)))
}

func (s *DistributedService) handleProbeFailure(node *grid.Node, err error) {
	var failures int
	var score float64
	s.registry.Mutate(node.Id, func(n *grid.Node) {
		n.ConsecutiveFailures++
		n.HealthScore = healthScore(n)
		failures = n.ConsecutiveFailures
		score = n.HealthScore
	})
	log.WithFields(log.Fields{
		"node":     node.Id,
		"failures": failures,
		"score":    score,
		"err":      err,
	}).Warn("Node health probe failed")

	if s.failover != nil && (failures >= s.config.ProbeFailureLimit || score < DefaultUnhealthyScore) {
		s.failover.OnFailure(node.Id, err)
	}
}

// DefaultUnhealthyScore is the health-score floor below which a node is
// handed to failover.
const DefaultUnhealthyScore = 0.5

// healthScore composes resource usage, failure count, and heartbeat
// freshness into [0,1].
func healthScore(n *grid.Node) float64 {
	usage := (0.4*n.CPUPercent + 0.4*n.MemoryPercent + 0.2*n.DiskPercent) / 100
	if usage > 1 {
		usage = 1
	}
	resourceScore := 1 - usage
	failureScore := 1 / (1 + 0.5*float64(n.ConsecutiveFailures))
	freshness := 1.0
	if !n.LastHeartbeat.IsZero() {
		age := time.Since(n.LastHeartbeat)
		if age > time.Minute {
			freshness = float64(time.Minute) / float64(age)
		}
	}
	score := 0.5*resourceScore + 0.3*failureScore + 0.2*freshness
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}

// statusFor derives the lifecycle status from load for nodes that are
// otherwise healthy. Failed and Maintenance are owned elsewhere.
func statusFor(n *grid.Node) grid.NodeStatus {
	switch n.Status {
	case grid.NodeFailed, grid.NodeMaintenance, grid.NodeInactive:
		return n.Status
	}
	if n.CPUPercent > 90 || n.MemoryPercent > 90 {
		return grid.NodeOverloaded
	}
	if !n.HasFreeSlot() {
		return grid.NodeBusy
	}
	return grid.NodeActive
}

// collectMetrics pushes an aggregate snapshot to the sink. Sink failures are
// logged and swallowed.
func (s *DistributedService) collectMetrics() {
	m := s.GetClusterMetrics()
	s.stat.GaugeFloat(stats.ClusterCpuGaugeFloat).Update(m.ClusterCPU)
	s.stat.GaugeFloat(stats.ClusterMemoryGaugeFloat).Update(m.ClusterMemory)
	if s.sink == nil {
		return
	}
	if err := s.sink.Push(m); err != nil {
		log.WithFields(log.Fields{"err": err}).Warn("Metrics sink push failed")
	}
}

// evaluateScaling proposes scale-out when the backlog outruns the cluster or
// load is high, scale-in when the cluster idles above the minimum size.
// Provisioning itself is delegated to the advisor.
func (s *DistributedService) evaluateScaling() {
	nodes := s.registry.List(grid.NodeActive)
	active := len(nodes)
	pending, _, _, _ := s.scheduler.Counts()

	load := 0.0
	for _, n := range nodes {
		load += n.LoadFraction()
	}
	if active > 0 {
		load /= float64(active)
	}

	switch {
	case pending > 2*active:
		s.advise(ScaleOut, "pending backlog exceeds 2x active nodes", active, pending)
	case active > 0 && load > s.config.ScaleOutLoad:
		s.advise(ScaleOut, "average cluster load high", active, pending)
	case active > s.config.MinNodes && load < s.config.ScaleInLoad:
		s.advise(ScaleIn, "average cluster load low", active, pending)
	}
}

func (s *DistributedService) advise(dir ScaleDirection, reason string, active, backlog int) {
	log.WithFields(log.Fields{
		"direction": dir,
		"reason":    reason,
		"active":    active,
		"backlog":   backlog,
	}).Info("Auto-scaling proposal")
	if s.advisor != nil {
		s.advisor.Advise(dir, reason, active, backlog)
	}
}

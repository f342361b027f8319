// Package failover watches node failures, quarantines unhealthy nodes, and
// schedules recovery probes. A failed node is quarantined, never deleted,
// only explicit deregistration removes it from the registry.
package failover

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"

	"github.com/quantive/grid/cluster"
	"github.com/quantive/grid/common/stats"
	"github.com/quantive/grid/grid"
	"github.com/quantive/grid/runner"
)

const (
	// DefaultCooldown is how long a node sits quarantined before its
	// recovery probe fires.
	DefaultCooldown = 300 * time.Second

	// probeTimeout bounds one recovery probe round trip.
	probeTimeout = 10 * time.Second
)

type failureRecord struct {
	lastFailure time.Time
	lastError   string
}

// Manager tracks the quarantine set. One recovery probe is scheduled per
// OnFailure burst, further failures while a probe is pending are recorded but
// schedule nothing.
type Manager struct {
	registry *cluster.Registry
	probe    runner.HealthProbe
	cooldown time.Duration
	stat     stats.StatsReceiver

	mu          sync.Mutex
	quarantined map[grid.NodeId]*failureRecord
	probing     map[grid.NodeId]*time.Timer

	ctx    context.Context
	cancel context.CancelFunc
}

func NewManager(registry *cluster.Registry, probe runner.HealthProbe, cooldown time.Duration, stat stats.StatsReceiver) *Manager {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		registry:    registry,
		probe:       probe,
		cooldown:    cooldown,
		stat:        stat.Scope("failover"),
		quarantined: map[grid.NodeId]*failureRecord{},
		probing:     map[grid.NodeId]*time.Timer{},
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Stop cancels pending probes.
func (m *Manager) Stop() {
	m.cancel()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, timer := range m.probing {
		timer.Stop()
		delete(m.probing, id)
	}
}

// OnFailure quarantines the node and schedules exactly one recovery probe
// after the cooldown, unless one is already scheduled for it.
func (m *Manager) OnFailure(id grid.NodeId, err error) {
	errStr := ""
	if err != nil {
		errStr = err.Error()
	}

	m.mu.Lock()
	rec, ok := m.quarantined[id]
	if !ok {
		rec = &failureRecord{}
		m.quarantined[id] = rec
	}
	rec.lastFailure = time.Now()
	rec.lastError = errStr
	_, probePending := m.probing[id]
	if !probePending {
		m.probing[id] = time.AfterFunc(m.cooldown, func() { m.runProbe(id) })
	}
	m.mu.Unlock()

	m.registry.Mutate(id, func(n *grid.Node) {
		n.Status = grid.NodeFailed
		n.ConsecutiveFailures++
	})

	if !probePending {
		m.stat.Counter(stats.FailoverProbesScheduledCounter).Inc(1)
		log.WithFields(log.Fields{"node": id, "err": errStr, "cooldown": m.cooldown}).Warn(
			"Quarantined node, recovery probe scheduled")
	} else {
		log.WithFields(log.Fields{"node": id, "err": errStr}).Debug("Node failed again, probe already scheduled")
	}
	m.updateGauge()
}

// IsQuarantined reports whether the node is currently excluded from scheduling.
func (m *Manager) IsQuarantined(id grid.NodeId) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.quarantined[id]
	return ok
}

// Quarantined returns the current quarantine set.
func (m *Manager) Quarantined() []grid.NodeId {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []grid.NodeId
	for id := range m.quarantined {
		out = append(out, id)
	}
	return out
}

// runProbe performs the single scheduled recovery probe. The probe itself
// retries transient errors briefly, the overall attempt either lifts the
// quarantine or leaves the node benched until the next OnFailure.
func (m *Manager) runProbe(id grid.NodeId) {
	defer func() {
		m.mu.Lock()
		delete(m.probing, id)
		m.mu.Unlock()
	}()

	node := m.registry.Get(id)
	if node == nil {
		// Deregistered while quarantined, nothing to recover.
		m.mu.Lock()
		delete(m.quarantined, id)
		m.mu.Unlock()
		return
	}

	var snap runner.NodeSnapshot
	b := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 2), m.ctx)
	err := backoff.Retry(func() error {
		ctx, cancel := context.WithTimeout(m.ctx, probeTimeout)
		defer cancel()
		var perr error
		snap, perr = m.probe.Probe(ctx, node)
		return perr
	}, b)

	if err != nil {
		log.WithFields(log.Fields{"node": id, "err": err}).Warn(
			"Recovery probe failed, node stays quarantined")
		return
	}

	m.mu.Lock()
	delete(m.quarantined, id)
	m.mu.Unlock()
	m.registry.Mutate(id, func(n *grid.Node) {
		n.Status = grid.NodeActive
		n.ConsecutiveFailures = 0
		n.HealthScore = 1
		n.LastHeartbeat = time.Now()
		n.CPUPercent = snap.CPUPercent
		n.MemoryPercent = snap.MemoryPercent
		n.DiskPercent = snap.DiskPercent
		n.GPUPercent = snap.GPUPercent
	})
	m.stat.Counter(stats.FailoverRecoveredNodesCounter).Inc(1)
	log.WithFields(log.Fields{"node": id}).Info("Node recovered, quarantine lifted")
	m.updateGauge()
}

func (m *Manager) updateGauge() {
	m.mu.Lock()
	n := len(m.quarantined)
	m.mu.Unlock()
	m.stat.Gauge(stats.ClusterQuarantinedNodesGauge).Update(int64(n))
}

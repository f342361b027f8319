// Package cluster tracks the set of known worker nodes and their live
// resource and health state, and optionally discovers new nodes over UDP
// broadcast.
package cluster

import (
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/quantive/grid/grid"
)

// Registry holds the canonical copy of every known node. Nodes are added by
// explicit registration or a discovery callback and removed only by explicit
// deregistration. A failed node is quarantined elsewhere, never deleted here.
type Registry struct {
	mu    sync.RWMutex
	nodes map[grid.NodeId]*grid.Node
	subs  []chan NodeUpdate
}

func NewRegistry() *Registry {
	return &Registry{nodes: map[grid.NodeId]*grid.Node{}}
}

// Register adds a node. Returns false if the id already exists, duplicate
// registration is rejected, not overwritten.
func (r *Registry) Register(node *grid.Node) bool {
	if node == nil || node.Id == "" {
		return false
	}
	r.mu.Lock()
	if _, ok := r.nodes[node.Id]; ok {
		r.mu.Unlock()
		log.WithFields(log.Fields{"node": node.Id}).Info("Rejecting duplicate node registration")
		return false
	}
	n := *node
	now := time.Now()
	if n.CreatedAt.IsZero() {
		n.CreatedAt = now
	}
	if n.LastHeartbeat.IsZero() {
		n.LastHeartbeat = now
	}
	if n.Status == grid.NodeUnknown {
		n.Status = grid.NodeActive
	}
	if n.HealthScore == 0 {
		n.HealthScore = 1
	}
	r.nodes[n.Id] = &n
	r.mu.Unlock()

	log.WithFields(log.Fields{"node": n.Id, "addr": n.Addr(), "capabilities": n.Capabilities}).Info("Registered node")
	r.notify(NodeUpdate{UpdateType: NodeAdded, Id: n.Id, Node: copyNode(&n)})
	return true
}

// Deregister removes a node entirely. Returns false if the id is unknown.
func (r *Registry) Deregister(id grid.NodeId) bool {
	r.mu.Lock()
	_, ok := r.nodes[id]
	if ok {
		delete(r.nodes, id)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	log.WithFields(log.Fields{"node": id}).Info("Deregistered node")
	r.notify(NodeUpdate{UpdateType: NodeRemoved, Id: id})
	return true
}

// Get returns a snapshot copy of the node, or nil if unknown.
func (r *Registry) Get(id grid.NodeId) *grid.Node {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return copyNode(r.nodes[id])
}

// List returns snapshot copies of nodes, optionally filtered by status,
// sorted by id for deterministic iteration.
func (r *Registry) List(statuses ...grid.NodeStatus) []*grid.Node {
	r.mu.RLock()
	var out []*grid.Node
	for _, n := range r.nodes {
		if len(statuses) == 0 {
			out = append(out, copyNode(n))
			continue
		}
		for _, s := range statuses {
			if n.Status == s {
				out = append(out, copyNode(n))
				break
			}
		}
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Id < out[j].Id })
	return out
}

// Len returns the number of registered nodes.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.nodes)
}

// Mutate applies f to the canonical copy of the node under the registry lock.
// f must be short, it runs inside the critical section. Returns false if the
// id is unknown.
func (r *Registry) Mutate(id grid.NodeId, f func(*grid.Node)) bool {
	r.mu.Lock()
	n, ok := r.nodes[id]
	if ok {
		f(n)
	}
	var snap *grid.Node
	if ok {
		snap = copyNode(n)
	}
	r.mu.Unlock()
	if !ok {
		return false
	}
	r.notify(NodeUpdate{UpdateType: NodeChanged, Id: id, Node: snap})
	return true
}

// Heartbeat refreshes the node's liveness timestamp and resource metrics.
func (r *Registry) Heartbeat(id grid.NodeId, cpu, mem, disk, gpu float64) bool {
	return r.Mutate(id, func(n *grid.Node) {
		n.LastHeartbeat = time.Now()
		n.CPUPercent = cpu
		n.MemoryPercent = mem
		n.DiskPercent = disk
		n.GPUPercent = gpu
	})
}

// Subscribe returns a channel of registry changes. Slow subscribers miss
// updates rather than block registry operations.
func (r *Registry) Subscribe() <-chan NodeUpdate {
	ch := make(chan NodeUpdate, 64)
	r.mu.Lock()
	r.subs = append(r.subs, ch)
	r.mu.Unlock()
	return ch
}

func (r *Registry) notify(update NodeUpdate) {
	r.mu.RLock()
	subs := r.subs
	r.mu.RUnlock()
	for _, sub := range subs {
		select {
		case sub <- update:
		default:
			log.WithFields(log.Fields{"node": update.Id}).Debug("Dropping node update for slow subscriber")
		}
	}
}

func copyNode(n *grid.Node) *grid.Node {
	if n == nil {
		return nil
	}
	cp := *n
	cp.Capabilities = append([]string{}, n.Capabilities...)
	if n.Labels != nil {
		cp.Labels = map[string]string{}
		for k, v := range n.Labels {
			cp.Labels[k] = v
		}
	}
	return &cp
}

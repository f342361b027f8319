package cluster

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/cenkalti/backoff"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/quantive/grid/common/stats"
	"github.com/quantive/grid/grid"
)

// Default discovery timings.
const (
	DefaultDiscoverInterval = 30 * time.Second
	DefaultListenWindow     = 5 * time.Second
)

// announcement is the payload a worker sends back in response to a beacon.
// The wire format is a private detail of this package.
type announcement struct {
	NodeId       string   `json:"node_id"`
	Host         string   `json:"host"`
	Port         int      `json:"port"`
	NodeType     string   `json:"node_type"`
	Capabilities []string `json:"capabilities"`
	MaxTasks     int      `json:"max_tasks"`
}

type DiscoveryConfig struct {
	// BroadcastAddr is where beacons are sent, e.g. "255.255.255.255:9530".
	BroadcastAddr string
	// ListenAddr is the local addr responses arrive on, e.g. ":9531".
	ListenAddr string
	// Interval between beacons.
	Interval time.Duration
	// ListenWindow bounds how long we collect responses after each beacon.
	ListenWindow time.Duration
}

// Discovery is a best-effort background process that finds nodes via periodic
// broadcast/listen and registers them. Any failure here is logged and
// degrades the service to manual registration only, it never stops the
// control plane.
type Discovery struct {
	registry *Registry
	config   DiscoveryConfig
	limiter  *rate.Limiter
	stat     stats.StatsReceiver
	cancel   context.CancelFunc
}

func NewDiscovery(registry *Registry, config DiscoveryConfig, stat stats.StatsReceiver) *Discovery {
	if config.Interval == 0 {
		config.Interval = DefaultDiscoverInterval
	}
	if config.ListenWindow == 0 {
		config.ListenWindow = DefaultListenWindow
	}
	if stat == nil {
		stat = stats.NilStatsReceiver()
	}
	// The limiter caps beacon traffic even if the interval is misconfigured low.
	return &Discovery{
		registry: registry,
		config:   config,
		limiter:  rate.NewLimiter(rate.Every(time.Second), 1),
		stat:     stat.Scope("discovery"),
	}
}

// Start launches the broadcast/listen loop in its own goroutine.
func (d *Discovery) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	d.cancel = cancel
	go d.loop(ctx)
}

func (d *Discovery) Stop() {
	if d.cancel != nil {
		d.cancel()
	}
}

func (d *Discovery) loop(ctx context.Context) {
	ticker := time.NewTicker(d.config.Interval)
	defer ticker.Stop()
	for {
		d.discoverOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// discoverOnce sends one beacon and collects responses for the listen window.
func (d *Discovery) discoverOnce(ctx context.Context) {
	if err := d.limiter.Wait(ctx); err != nil {
		return
	}

	conn, err := d.listen()
	if err != nil {
		log.WithFields(log.Fields{"addr": d.config.ListenAddr, "err": err}).Warn(
			"Discovery listen failed, falling back to manual registration")
		return
	}
	defer conn.Close()

	if err := d.beacon(); err != nil {
		log.WithFields(log.Fields{"addr": d.config.BroadcastAddr, "err": err}).Warn("Discovery beacon failed")
		return
	}

	conn.SetReadDeadline(time.Now().Add(d.config.ListenWindow))
	buf := make([]byte, 4096)
	for {
		n, _, err := conn.ReadFrom(buf)
		if err != nil {
			// Deadline expiry ends the window, anything else is logged the same way.
			if nerr, ok := err.(net.Error); !ok || !nerr.Timeout() {
				log.WithFields(log.Fields{"err": err}).Debug("Discovery read error")
			}
			return
		}
		d.handleAnnouncement(buf[:n])
	}
}

// listen binds the response socket, retrying briefly since a previous window
// may still hold the port.
func (d *Discovery) listen() (net.PacketConn, error) {
	var conn net.PacketConn
	b := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3)
	err := backoff.Retry(func() error {
		var err error
		conn, err = net.ListenPacket("udp", d.config.ListenAddr)
		return err
	}, b)
	return conn, err
}

func (d *Discovery) beacon() error {
	conn, err := net.Dial("udp", d.config.BroadcastAddr)
	if err != nil {
		return err
	}
	defer conn.Close()
	_, err = conn.Write([]byte(`{"grid_discover":1}`))
	return err
}

func (d *Discovery) handleAnnouncement(raw []byte) {
	var ann announcement
	if err := json.Unmarshal(raw, &ann); err != nil || ann.NodeId == "" {
		log.WithFields(log.Fields{"err": err}).Debug("Ignoring malformed discovery announcement")
		return
	}
	nodeType := grid.NodeWorker
	if ann.NodeType == "hybrid" {
		nodeType = grid.NodeHybrid
	}
	maxTasks := ann.MaxTasks
	if maxTasks <= 0 {
		maxTasks = 4
	}
	node := &grid.Node{
		Id:                 grid.NodeId(ann.NodeId),
		Host:               ann.Host,
		Port:               ann.Port,
		Type:               nodeType,
		Capabilities:       ann.Capabilities,
		MaxConcurrentTasks: maxTasks,
	}
	if d.registry.Register(node) {
		d.stat.Counter(stats.DiscoveryNodesFoundCounter).Inc(1)
		log.WithFields(log.Fields{"node": node.Id, "addr": node.Addr()}).Info("Discovered node")
	}
}

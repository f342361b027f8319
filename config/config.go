// Package config parses the gridserver JSON config document. Each section
// selects an implementation via its Type field and carries that
// implementation's parameters, sections left out fall back to defaults.
package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/quantive/grid/balancer"
	"github.com/quantive/grid/cluster"
	"github.com/quantive/grid/common/stats"
	"github.com/quantive/grid/failover"
	"github.com/quantive/grid/grid"
	"github.com/quantive/grid/scheduler"
	"github.com/quantive/grid/security"
	"github.com/quantive/grid/service"
)

// Config is the parsed top-level document.
type Config struct {
	Balancer  BalancerConfig
	Discovery DiscoveryConfig
	Security  SecurityConfig
	Failover  FailoverConfig
	Service   ServiceConfig
	Scheduler SchedulerConfig
}

// Parse unmarshals and validates a config document. An empty document yields
// all defaults.
func Parse(text []byte) (*Config, error) {
	c := &Config{
		Balancer:  BalancerConfig{Type: "intelligent"},
		Discovery: DiscoveryConfig{Type: "none", ListenAddr: ":9531"},
		Security:  SecurityConfig{Type: "none"},
	}
	if len(text) == 0 {
		text = []byte("{}")
	}
	if err := json.Unmarshal(text, c); err != nil {
		return nil, fmt.Errorf("couldn't parse config: %v", err)
	}
	if _, err := c.Balancer.Create(balancer.NewHistory()); err != nil {
		return nil, err
	}
	if err := c.Discovery.validate(); err != nil {
		return nil, err
	}
	if err := c.Security.validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// BalancerConfig selects the load-balancing strategy.
// Weights only applies to Type "weighted_round_robin".
type BalancerConfig struct {
	Type    string
	Weights map[string]float64
}

func (c *BalancerConfig) Create(history *balancer.History) (balancer.Strategy, error) {
	switch c.Type {
	case "round_robin":
		return balancer.NewRoundRobin(), nil
	case "least_connections":
		return balancer.NewLeastConnections(), nil
	case "weighted_round_robin":
		wrr := balancer.NewWeightedRoundRobin(nil, time.Now().UnixNano())
		for id, w := range c.Weights {
			wrr.SetWeight(grid.NodeId(id), w)
		}
		return wrr, nil
	case "resource_based":
		return balancer.NewResourceBased(), nil
	case "", "intelligent":
		return balancer.NewIntelligent(history), nil
	}
	return nil, fmt.Errorf("unknown balancer type %q", c.Type)
}

// DiscoveryConfig configures UDP node discovery. Type "none" disables it.
type DiscoveryConfig struct {
	Type           string
	BroadcastAddr  string
	ListenAddr     string
	IntervalMs     int
	ListenWindowMs int
}

func (c *DiscoveryConfig) validate() error {
	switch c.Type {
	case "", "none":
		return nil
	case "udp":
		if c.BroadcastAddr == "" {
			return fmt.Errorf("udp discovery requires a BroadcastAddr")
		}
		return nil
	}
	return fmt.Errorf("unknown discovery type %q", c.Type)
}

// Enabled reports whether a discovery process should run at all.
func (c *DiscoveryConfig) Enabled() bool { return c.Type == "udp" }

func (c *DiscoveryConfig) Create(registry *cluster.Registry, stat stats.StatsReceiver) *cluster.Discovery {
	return cluster.NewDiscovery(registry, cluster.DiscoveryConfig{
		BroadcastAddr: c.BroadcastAddr,
		ListenAddr:    c.ListenAddr,
		Interval:      time.Duration(c.IntervalMs) * time.Millisecond,
		ListenWindow:  time.Duration(c.ListenWindowMs) * time.Millisecond,
	}, stat)
}

// SecurityConfig configures node auth tokens. Type "none" disables them.
type SecurityConfig struct {
	Type            string
	Secret          string
	TokenLifetimeMs int
}

func (c *SecurityConfig) validate() error {
	switch c.Type {
	case "", "none":
		return nil
	case "hmac":
		if c.Secret == "" {
			return fmt.Errorf("hmac security requires a Secret")
		}
		return nil
	}
	return fmt.Errorf("unknown security type %q", c.Type)
}

func (c *SecurityConfig) Enabled() bool { return c.Type == "hmac" }

func (c *SecurityConfig) Create() (*security.Manager, error) {
	return security.NewManager([]byte(c.Secret), time.Duration(c.TokenLifetimeMs)*time.Millisecond)
}

// FailoverConfig tunes the quarantine cooldown.
type FailoverConfig struct {
	CooldownMs int
}

func (c *FailoverConfig) Cooldown() time.Duration {
	if c.CooldownMs <= 0 {
		return failover.DefaultCooldown
	}
	return time.Duration(c.CooldownMs) * time.Millisecond
}

// ServiceConfig tunes the orchestrator loops. Zero values defer to the
// service package defaults.
type ServiceConfig struct {
	ScheduleIntervalMs  int
	HealthIntervalMs    int
	MetricsIntervalMs   int
	AutoScaleIntervalMs int
	MinNodes            int
	ScaleOutLoad        float64
	ScaleInLoad         float64
	ProbeFailureLimit   int
	ProbeTimeoutMs      int
}

func (c *ServiceConfig) Create() service.Config {
	return service.Config{
		ScheduleInterval:  time.Duration(c.ScheduleIntervalMs) * time.Millisecond,
		HealthInterval:    time.Duration(c.HealthIntervalMs) * time.Millisecond,
		MetricsInterval:   time.Duration(c.MetricsIntervalMs) * time.Millisecond,
		AutoScaleInterval: time.Duration(c.AutoScaleIntervalMs) * time.Millisecond,
		MinNodes:          c.MinNodes,
		ScaleOutLoad:      c.ScaleOutLoad,
		ScaleInLoad:       c.ScaleInLoad,
		ProbeFailureLimit: c.ProbeFailureLimit,
		ProbeTimeout:      time.Duration(c.ProbeTimeoutMs) * time.Millisecond,
	}
}

// SchedulerConfig tunes dispatch concurrency and eligibility gates.
// LocalWorkers sizes the fallback pool, it is consumed by the binary rather
// than the scheduler itself.
type SchedulerConfig struct {
	MaxDispatchers       int
	LocalWorkers         int
	MinHealthScore       float64
	MaxNodeFailures      int
	CompletedRetention   int
	DisableLocalFallback bool
}

func (c *SchedulerConfig) Create() scheduler.Config {
	return scheduler.Config{
		MaxDispatchers:       c.MaxDispatchers,
		MinHealthScore:       c.MinHealthScore,
		MaxNodeFailures:      c.MaxNodeFailures,
		CompletedRetention:   c.CompletedRetention,
		DisableLocalFallback: c.DisableLocalFallback,
	}
}

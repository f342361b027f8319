package config

import (
	"testing"
	"time"

	"github.com/quantive/grid/balancer"
)

func Test_Config_EmptyDocumentDefaults(t *testing.T) {
	c, err := Parse(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if c.Balancer.Type != "intelligent" {
		t.Errorf("expected intelligent balancer default, got %q", c.Balancer.Type)
	}
	if c.Discovery.Enabled() || c.Security.Enabled() {
		t.Errorf("expected discovery and security disabled by default")
	}
	if got := c.Failover.Cooldown(); got != 300*time.Second {
		t.Errorf("expected default failover cooldown, got %v", got)
	}
}

func Test_Config_FullDocument(t *testing.T) {
	text := []byte(`{
		"Balancer": {"Type": "weighted_round_robin", "Weights": {"n1": 3}},
		"Discovery": {"Type": "udp", "BroadcastAddr": "255.255.255.255:9530", "ListenAddr": ":9531"},
		"Security": {"Type": "hmac", "Secret": "s3cret"},
		"Failover": {"CooldownMs": 60000},
		"Service": {"ScheduleIntervalMs": 500, "MinNodes": 2},
		"Scheduler": {"MaxDispatchers": 8, "DisableLocalFallback": true}
	}`)
	c, err := Parse(text)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	strategy, err := c.Balancer.Create(balancer.NewHistory())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if strategy.Name() != "weighted_round_robin" {
		t.Errorf("expected weighted_round_robin, got %q", strategy.Name())
	}
	if !c.Discovery.Enabled() || !c.Security.Enabled() {
		t.Errorf("expected discovery and security enabled")
	}
	if got := c.Failover.Cooldown(); got != time.Minute {
		t.Errorf("expected 1m cooldown, got %v", got)
	}
	svc := c.Service.Create()
	if svc.ScheduleInterval != 500*time.Millisecond || svc.MinNodes != 2 {
		t.Errorf("unexpected service config: %+v", svc)
	}
	sched := c.Scheduler.Create()
	if sched.MaxDispatchers != 8 || !sched.DisableLocalFallback {
		t.Errorf("unexpected scheduler config: %+v", sched)
	}
}

func Test_Config_Invalid(t *testing.T) {
	bad := [][]byte{
		[]byte(`not json`),
		[]byte(`{"Balancer": {"Type": "wishful"}}`),
		[]byte(`{"Discovery": {"Type": "udp"}}`),
		[]byte(`{"Discovery": {"Type": "zeroconf"}}`),
		[]byte(`{"Security": {"Type": "hmac"}}`),
		[]byte(`{"Security": {"Type": "kerberos", "Secret": "s"}}`),
	}
	for _, text := range bad {
		if _, err := Parse(text); err == nil {
			t.Errorf("expected parse error for %s", text)
		}
	}
}

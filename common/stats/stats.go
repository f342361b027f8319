// Package stats provides a set of minimal interfaces which both build on and
// are by default backed by go-metrics. We wrap go-metrics so that a
// StatsReceiver object can be passed down a call tree and scoped to each
// level, and so instrument output can be rendered as JSON for the metrics
// sink without leaking our dependencies to callers.
package stats

import (
	"encoding/json"
	"strings"
	"sync"
	"time"

	"golang.org/x/net/context"

	"github.com/rcrowley/go-metrics"
)

// Stats users can either reference this global receiver or construct their own.
var CurrentStatsReceiver StatsReceiver = NilStatsReceiver()

// Counter is a cumulative int64 instrument.
type Counter interface {
	Inc(int64)
	Count() int64
	Clear()
}

// Gauge holds an instantaneous int64 value.
type Gauge interface {
	Update(int64)
	Value() int64
}

// GaugeFloat holds an instantaneous float64 value.
type GaugeFloat interface {
	Update(float64)
	Value() float64
}

// Latency records callsite latency into a histogram.
// Usage: defer stat.Latency("foo_ms").Time().Stop()
type Latency interface {
	Time() Latency
	Stop()
	Snapshot() metrics.Histogram
}

// StatsReceiver provides scoped access to instruments.
// Scoped names are joined with '/' when rendered.
type StatsReceiver interface {
	// Scope returns a receiver with the given name elements appended to its prefix.
	Scope(scope ...string) StatsReceiver

	Counter(name ...string) Counter
	Gauge(name ...string) Gauge
	GaugeFloat(name ...string) GaugeFloat
	Latency(name ...string) Latency

	// Render marshals all instruments under this receiver's registry to JSON.
	Render(pretty bool) []byte

	// Remove unregisters the named instrument.
	Remove(name ...string)
}

// NewStatsReceiver makes a receiver backed by a private go-metrics registry.
func NewStatsReceiver() StatsReceiver {
	return &defaultStatsReceiver{registry: metrics.NewRegistry()}
}

// NilStatsReceiver makes a receiver that accepts and discards all updates.
func NilStatsReceiver(scope ...string) StatsReceiver {
	return &nilStatsReceiver{}
}

// StartReportingLoop renders the receiver on an interval and hands the JSON to
// 'report' until the context is cancelled. Report failures are the callee's
// problem, the loop never stops on its own.
func StartReportingLoop(ctx context.Context, stat StatsReceiver, intvl time.Duration, report func([]byte)) {
	go func() {
		ticker := time.NewTicker(intvl)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				report(stat.Render(false))
			}
		}
	}()
}

type defaultStatsReceiver struct {
	registry metrics.Registry
	scope    []string
}

func (s *defaultStatsReceiver) Scope(scope ...string) StatsReceiver {
	return &defaultStatsReceiver{registry: s.registry, scope: s.scoped(scope...)}
}

func (s *defaultStatsReceiver) Counter(name ...string) Counter {
	c := s.registry.GetOrRegister(s.scopedName(name...), metrics.NewCounter())
	return c.(metrics.Counter)
}

func (s *defaultStatsReceiver) Gauge(name ...string) Gauge {
	g := s.registry.GetOrRegister(s.scopedName(name...), metrics.NewGauge())
	return g.(metrics.Gauge)
}

func (s *defaultStatsReceiver) GaugeFloat(name ...string) GaugeFloat {
	g := s.registry.GetOrRegister(s.scopedName(name...), metrics.NewGaugeFloat64())
	return gaugeFloat{g.(metrics.GaugeFloat64)}
}

func (s *defaultStatsReceiver) Latency(name ...string) Latency {
	h := s.registry.GetOrRegister(s.scopedName(name...),
		func() metrics.Histogram { return metrics.NewHistogram(metrics.NewUniformSample(1028)) })
	return &latency{hist: h.(metrics.Histogram)}
}

func (s *defaultStatsReceiver) Remove(name ...string) {
	s.registry.Unregister(s.scopedName(name...))
}

func (s *defaultStatsReceiver) Render(pretty bool) []byte {
	out := map[string]interface{}{}
	s.registry.Each(func(name string, i interface{}) {
		switch m := i.(type) {
		case metrics.Counter:
			out[name] = m.Count()
		case metrics.Gauge:
			out[name] = m.Value()
		case metrics.GaugeFloat64:
			out[name] = m.Value()
		case metrics.Histogram:
			h := m.Snapshot()
			out[name+".count"] = h.Count()
			out[name+".mean"] = h.Mean()
			out[name+".p95"] = h.Percentile(0.95)
		}
	})
	var b []byte
	if pretty {
		b, _ = json.MarshalIndent(out, "", "  ")
	} else {
		b, _ = json.Marshal(out)
	}
	return b
}

func (s *defaultStatsReceiver) scoped(scope ...string) []string {
	// '/' is the path separator, replace it rather than fail since some
	// names are dynamically generated (i.e. with error names).
	for i, s := range scope {
		scope[i] = strings.Replace(s, "/", "_SLASH_", -1)
	}
	return append(append([]string{}, s.scope...), scope...)
}

func (s *defaultStatsReceiver) scopedName(name ...string) string {
	return strings.Join(s.scoped(name...), "/")
}

type gaugeFloat struct {
	metrics.GaugeFloat64
}

func (g gaugeFloat) Update(v float64) { g.GaugeFloat64.Update(v) }
func (g gaugeFloat) Value() float64   { return g.GaugeFloat64.Value() }

type latency struct {
	hist  metrics.Histogram
	start time.Time
	mu    sync.Mutex
}

func (l *latency) Time() Latency {
	l.mu.Lock()
	l.start = time.Now()
	l.mu.Unlock()
	return l
}

func (l *latency) Stop() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.start.IsZero() {
		l.hist.Update(int64(time.Since(l.start) / time.Millisecond))
		l.start = time.Time{}
	}
}

func (l *latency) Snapshot() metrics.Histogram { return l.hist.Snapshot() }

type nilStatsReceiver struct{}

func (s *nilStatsReceiver) Scope(scope ...string) StatsReceiver     { return s }
func (s *nilStatsReceiver) Counter(name ...string) Counter          { return metrics.NilCounter{} }
func (s *nilStatsReceiver) Gauge(name ...string) Gauge              { return metrics.NilGauge{} }
func (s *nilStatsReceiver) GaugeFloat(name ...string) GaugeFloat    { return nilGaugeFloat{} }
func (s *nilStatsReceiver) Latency(name ...string) Latency          { return &nilLatency{} }
func (s *nilStatsReceiver) Render(pretty bool) []byte               { return []byte("{}") }
func (s *nilStatsReceiver) Remove(name ...string)                   {}

type nilGaugeFloat struct{}

func (nilGaugeFloat) Update(float64) {}
func (nilGaugeFloat) Value() float64 { return 0 }

type nilLatency struct{}

func (l *nilLatency) Time() Latency               { return l }
func (l *nilLatency) Stop()                       {}
func (l *nilLatency) Snapshot() metrics.Histogram { return metrics.NilHistogram{} }

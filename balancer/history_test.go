package balancer

import (
	"testing"
	"time"
)

func Test_History_WindowBound(t *testing.T) {
	h := NewHistory()
	for i := 0; i < windowSize+20; i++ {
		h.RecordCompletion("n1", time.Second, true)
	}
	if got := h.WindowLen("n1"); got != windowSize {
		t.Errorf("expected window capped at %d, got %d", windowSize, got)
	}
}

func Test_History_MeanResponse(t *testing.T) {
	h := NewHistory()
	if got := h.meanResponse("n1"); got != 0 {
		t.Errorf("expected zero mean with no data, got %v", got)
	}
	h.RecordCompletion("n1", time.Second, true)
	h.RecordCompletion("n1", 3*time.Second, true)
	if got := h.meanResponse("n1"); got != 2*time.Second {
		t.Errorf("expected mean of 2s, got %v", got)
	}
}

func Test_History_SuccessRate(t *testing.T) {
	h := NewHistory()
	if got := h.successRate("n1"); got != 1 {
		t.Errorf("expected optimistic rate for unseen node, got %v", got)
	}
	for i := 0; i < 20; i++ {
		h.RecordCompletion("n1", time.Second, false)
	}
	if got := h.successRate("n1"); got > 0.05 {
		t.Errorf("expected rate to decay toward 0 after failures, got %v", got)
	}
	if got := h.failureCount("n1"); got != 20 {
		t.Errorf("expected 20 failures, got %d", got)
	}
}

func Test_History_LoadTrend(t *testing.T) {
	h := NewHistory()
	if got := h.loadTrend("n1"); got != 0 {
		t.Errorf("expected zero trend with no samples, got %v", got)
	}

	for _, load := range []float64{0.1, 0.3, 0.5, 0.7, 0.9} {
		h.RecordLoad("rising", load)
	}
	if got := h.loadTrend("rising"); got <= 0 {
		t.Errorf("expected positive slope for rising load, got %v", got)
	}

	for _, load := range []float64{0.9, 0.7, 0.5, 0.3, 0.1} {
		h.RecordLoad("falling", load)
	}
	if got := h.loadTrend("falling"); got >= 0 {
		t.Errorf("expected negative slope for falling load, got %v", got)
	}
}

func Test_History_Forget(t *testing.T) {
	h := NewHistory()
	h.RecordCompletion("n1", time.Second, true)
	h.RecordLatency("n1", 10*time.Millisecond)
	h.Forget("n1")
	if got := h.WindowLen("n1"); got != 0 {
		t.Errorf("expected empty window after forget, got %d", got)
	}
	if got := h.probeLatency("n1"); got != 0 {
		t.Errorf("expected no latency after forget, got %v", got)
	}
}

func Test_History_CompletionVariation(t *testing.T) {
	h := NewHistory()
	if got := h.completionVariation(); got != 0 {
		t.Errorf("expected zero variation with no data, got %v", got)
	}

	// Uniform nodes, near-zero variation.
	h.RecordCompletion("a", time.Second, true)
	h.RecordCompletion("b", time.Second, true)
	if got := h.completionVariation(); got != 0 {
		t.Errorf("expected zero variation for identical means, got %v", got)
	}

	// One slow node drives the spread up.
	h.RecordCompletion("c", 10*time.Second, true)
	if got := h.completionVariation(); got <= highVariation {
		t.Errorf("expected high variation with an outlier node, got %v", got)
	}
}

package runner

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/quantive/grid/grid"
)

func testNode(t *testing.T, srv *httptest.Server) *grid.Node {
	t.Helper()
	host, portStr, err := net.SplitHostPort(srv.Listener.Addr().String())
	if err != nil {
		t.Fatalf("bad test server address: %v", err)
	}
	port, _ := strconv.Atoi(portStr)
	return &grid.Node{Id: "n1", Host: host, Port: port}
}

func Test_HTTPExecutor_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req execRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad exec request: %v", err)
		}
		if req.TaskType != "analysis" {
			t.Errorf("expected analysis task, got %q", req.TaskType)
		}
		json.NewEncoder(w).Encode(execResponse{Result: []byte("done")})
	}))
	defer srv.Close()

	task := &grid.Task{Id: "t1", Def: grid.TaskDefinition{TaskType: "analysis", Timeout: time.Second}}
	res, err := NewHTTPExecutor().Execute(context.Background(), testNode(t, srv), task)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(res.Output) != "done" {
		t.Errorf("expected done, got %q", res.Output)
	}
}

// A worker error message is opaque text, a stray format verb must survive.
func Test_HTTPExecutor_WorkerErrorVerbatim(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(execResponse{Error: "rejected: utilization at 100% (cap %d)"})
	}))
	defer srv.Close()

	task := &grid.Task{Id: "t1", Def: grid.TaskDefinition{TaskType: "analysis", Timeout: time.Second}}
	_, err := NewHTTPExecutor().Execute(context.Background(), testNode(t, srv), task)
	if err == nil {
		t.Fatalf("expected worker error")
	}
	if !strings.Contains(err.Error(), "rejected: utilization at 100% (cap %d)") {
		t.Errorf("expected verbatim worker message, got %q", err)
	}
}

func Test_HTTPProbe_Snapshot(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(NodeSnapshot{CPUPercent: 12, MemoryPercent: 34})
	}))
	defer srv.Close()

	snap, err := NewHTTPProbe(time.Second).Probe(context.Background(), testNode(t, srv))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.CPUPercent != 12 || snap.MemoryPercent != 34 {
		t.Errorf("expected decoded snapshot, got %+v", snap)
	}
}

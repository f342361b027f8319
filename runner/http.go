package runner

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/sethgrid/pester"

	"github.com/quantive/grid/grid"
)

// execRequest is the body POSTed to a worker's /execute endpoint.
type execRequest struct {
	TaskId    string `json:"task_id"`
	TaskType  string `json:"task_type"`
	Payload   []byte `json:"payload"`
	TimeoutMs int64  `json:"timeout_ms"`
}

type execResponse struct {
	Result []byte `json:"result"`
	Error  string `json:"error"`
}

// HTTPExecutor dispatches tasks to worker nodes over HTTP, with pester
// supplying retries and backoff for transient transport errors. The worker
// endpoint is expected at POST http://host:port/execute.
type HTTPExecutor struct {
	client *pester.Client
}

func NewHTTPExecutor() *HTTPExecutor {
	client := pester.New()
	client.Concurrency = 1
	client.MaxRetries = 3
	client.Backoff = pester.ExponentialBackoff
	client.KeepLog = false
	return &HTTPExecutor{client: client}
}

func (e *HTTPExecutor) Execute(ctx context.Context, node *grid.Node, task *grid.Task) (Result, error) {
	if node == nil {
		return Result{}, &ExecutionError{Err: fmt.Errorf("http executor requires a node")}
	}
	body, err := json.Marshal(execRequest{
		TaskId:    task.Id,
		TaskType:  task.Def.TaskType,
		Payload:   task.Def.Payload,
		TimeoutMs: int64(ExecTimeout(task) / time.Millisecond),
	})
	if err != nil {
		return Result{}, &ExecutionError{NodeId: node.Id, Err: errors.Wrap(err, "marshaling exec request")}
	}

	url := fmt.Sprintf("http://%s/execute", node.Addr())
	req, err := http.NewRequest("POST", url, bytes.NewReader(body))
	if err != nil {
		return Result{}, &ExecutionError{NodeId: node.Id, Err: err}
	}
	req = req.WithContext(ctx)
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return Result{}, &ExecutionError{NodeId: node.Id, Err: errors.Wrap(err, "posting task")}
	}
	defer resp.Body.Close()
	raw, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &ExecutionError{NodeId: node.Id, Err: errors.Wrap(err, "reading exec response")}
	}
	if resp.StatusCode != http.StatusOK {
		return Result{}, &ExecutionError{NodeId: node.Id, Err: fmt.Errorf("worker returned %d: %s", resp.StatusCode, raw)}
	}

	var er execResponse
	if err := json.Unmarshal(raw, &er); err != nil {
		return Result{}, &ExecutionError{NodeId: node.Id, Err: errors.Wrap(err, "decoding exec response")}
	}
	if er.Error != "" {
		// The worker-supplied message is opaque, never a format string.
		return Result{}, &ExecutionError{NodeId: node.Id, Err: errors.New(er.Error)}
	}
	return Result{Output: er.Result}, nil
}

var _ RemoteExecutor = (*HTTPExecutor)(nil)

// HTTPProbe checks worker reachability via GET http://host:port/health and
// decodes the resource snapshot the worker reports.
type HTTPProbe struct {
	client *pester.Client
}

func NewHTTPProbe(timeout time.Duration) *HTTPProbe {
	client := pester.New()
	client.Concurrency = 1
	client.MaxRetries = 2
	client.Backoff = pester.DefaultBackoff
	client.Timeout = timeout
	return &HTTPProbe{client: client}
}

func (p *HTTPProbe) Probe(ctx context.Context, node *grid.Node) (NodeSnapshot, error) {
	url := fmt.Sprintf("http://%s/health", node.Addr())
	req, err := http.NewRequest("GET", url, nil)
	if err != nil {
		return NodeSnapshot{}, err
	}
	req = req.WithContext(ctx)

	resp, err := p.client.Do(req)
	if err != nil {
		return NodeSnapshot{}, errors.Wrapf(err, "probing node %s", node.Id)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return NodeSnapshot{}, fmt.Errorf("node %s health returned %d", node.Id, resp.StatusCode)
	}
	var snap NodeSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return NodeSnapshot{}, errors.Wrapf(err, "decoding health snapshot from node %s", node.Id)
	}
	return snap, nil
}

var _ HealthProbe = (*HTTPProbe)(nil)

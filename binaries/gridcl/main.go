// gridcl drives an in-process control plane for local experiments, the same
// submission boundary the service exposes to any RPC transport.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/quantive/grid/balancer"
	"github.com/quantive/grid/cluster"
	"github.com/quantive/grid/common/stats"
	"github.com/quantive/grid/failover"
	"github.com/quantive/grid/grid"
	"github.com/quantive/grid/runner"
	"github.com/quantive/grid/scheduler"
	"github.com/quantive/grid/service"
)

var (
	numNodes = 3
	numTasks = 10
	taskType = "backtest"
	priority = int(grid.Normal)
	timeout  = 30 * time.Second
	waitDone = true
)

func main() {
	log.SetLevel(log.WarnLevel)

	rootCmd := &cobra.Command{
		Use:   "gridcl",
		Short: "gridcl runs a local task-distribution control plane demo",
		Run:   func(*cobra.Command, []string) {},
	}

	runCmd := &cobra.Command{
		Use:   "run_tasks",
		Short: "submit tasks to an in-process cluster and report their fate",
		RunE:  runTasks,
	}
	runCmd.Flags().IntVar(&numNodes, "nodes", numNodes, "number of simulated worker nodes, 0 exercises local fallback")
	runCmd.Flags().IntVar(&numTasks, "tasks", numTasks, "number of tasks to submit")
	runCmd.Flags().StringVar(&taskType, "task_type", taskType, "task type to submit")
	runCmd.Flags().IntVar(&priority, "priority", priority, "task priority, lower is more urgent")
	runCmd.Flags().DurationVar(&timeout, "timeout", timeout, "per-task timeout")
	runCmd.Flags().BoolVar(&waitDone, "wait", waitDone, "wait for all tasks to reach a terminal state")
	rootCmd.AddCommand(runCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runTasks(cmd *cobra.Command, args []string) error {
	stat := stats.NewStatsReceiver()
	registry := cluster.NewRegistry()
	history := balancer.NewHistory()
	bal := balancer.New(nil, history)
	probe := runner.NewFakeProbe()
	fo := failover.NewManager(registry, probe, time.Second, stat)
	exec := runner.NewFakeExecutor()
	exec.Delay = 10 * time.Millisecond
	local := runner.NewLocalRunner(0)
	local.Register(taskType, func(ctx context.Context, task *grid.Task) ([]byte, error) {
		select {
		case <-time.After(10 * time.Millisecond):
			return []byte("local ok"), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	})
	sched := scheduler.NewTaskScheduler(registry, bal, fo, exec, local, scheduler.Config{}, stat)
	svc := service.New(registry, sched, bal, fo, probe, service.Config{
		ScheduleInterval: 50 * time.Millisecond,
	}, stat)

	for i := 0; i < numNodes; i++ {
		node := &grid.Node{
			Id:                 grid.NodeId(fmt.Sprintf("node%d", i+1)),
			Host:               "localhost",
			Port:               9000 + i,
			Capabilities:       []string{"analysis", "data_process"},
			MaxConcurrentTasks: 4,
		}
		if _, ok := svc.AddNode(node); !ok {
			return fmt.Errorf("could not register %s", node.Id)
		}
	}

	svc.Start()
	defer svc.Stop()

	var ids []string
	for i := 0; i < numTasks; i++ {
		id, err := svc.SubmitTask(grid.TaskDefinition{
			TaskType: taskType,
			Priority: grid.Priority(priority),
			Timeout:  timeout,
		})
		if err != nil {
			return err
		}
		ids = append(ids, id)
	}
	fmt.Printf("submitted %d %s tasks to %d nodes\n", numTasks, taskType, numNodes)

	if !waitDone {
		return nil
	}
	deadline := time.Now().Add(timeout + 10*time.Second)
	for {
		done := 0
		var states []string
		for _, id := range ids {
			t := svc.GetStatus(id)
			if t == nil {
				return fmt.Errorf("task %s vanished", id)
			}
			states = append(states, t.Status.String())
			if t.Status.Terminal() {
				done++
			}
		}
		if done == len(ids) {
			fmt.Printf("all tasks terminal: %s\n", strings.Join(states, ","))
			m := svc.GetClusterMetrics()
			fmt.Printf("completed=%d failed=%d activeNodes=%d\n", m.Completed, m.Failed, m.ActiveNodes)
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting, states: %s", strings.Join(states, ","))
		}
		time.Sleep(100 * time.Millisecond)
	}
}

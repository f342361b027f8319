// Package grid provides definitions for the Tasks and Nodes the control plane schedules.
package grid

import (
	"fmt"
	"time"
)

// Priority determines scheduling order, lower is more urgent.
type Priority int

const (
	Critical Priority = iota
	High
	Normal
	Low
	Background
)

func (p Priority) String() string {
	asString := [5]string{"Critical", "High", "Normal", "Low", "Background"}
	if p < Critical || p > Background {
		return fmt.Sprintf("Priority(%d)", int(p))
	}
	return asString[p]
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus int

const (
	// Waiting in the pending queue to be matched to a node.
	Pending TaskStatus = iota

	// Matched to a node, dispatch in flight.
	Assigned

	// Executing on a remote node or the local worker pool.
	Running

	// States below are end states, a Task in an end state will not change its state.

	// Finished successfully.
	Completed

	// Finished unsuccessfully with retries exhausted.
	Failed

	// Killed by request from the client.
	Cancelled
)

func (s TaskStatus) String() string {
	asString := [6]string{"Pending", "Assigned", "Running", "Completed", "Failed", "Cancelled"}
	if s < Pending || s > Cancelled {
		return fmt.Sprintf("TaskStatus(%d)", int(s))
	}
	return asString[s]
}

// Terminal reports whether a task in this state can never change state again.
func (s TaskStatus) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

// Legal transitions. Failed->Pending is the retry path and is only taken
// while RetryCount < MaxRetries, which the scheduler enforces.
var legalTransitions = map[TaskStatus][]TaskStatus{
	Pending:  {Assigned, Running, Cancelled, Failed},
	Assigned: {Running, Pending, Cancelled, Failed},
	Running:  {Completed, Failed, Cancelled},
	Failed:   {Pending},
}

// ValidTransition reports whether moving a task from 'from' to 'to' is legal.
func ValidTransition(from, to TaskStatus) bool {
	for _, next := range legalTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// TaskDefinition is the definition the client sent us.
type TaskDefinition struct {
	TaskType string
	Payload  []byte
	Priority Priority

	// Resource requirements.
	RequiredCPU      float64 // cores
	RequiredMemoryMB int
	RequiresGPU      bool

	// Placement hints and constraints.
	Dependencies   []string // task ids that must reach Completed first
	PreferredNodes []NodeId
	ExcludedNodes  []NodeId
	AffinityRules  map[string]string

	Timeout    time.Duration
	MaxRetries int
}

// Task is one unit of work the scheduler owns from submission to a terminal state.
type Task struct {
	Id  string
	Def TaskDefinition

	Status       TaskStatus
	AssignedNode NodeId
	RetryCount   int

	CreatedAt   time.Time
	StartedAt   time.Time
	CompletedAt time.Time

	Result []byte
	Err    string
}

// ValidateTaskDef checks the client-supplied fields before a task is enqueued.
// Validation failures are reported synchronously, an invalid task is never enqueued.
func ValidateTaskDef(def TaskDefinition) error {
	if def.TaskType == "" {
		return fmt.Errorf("task type cannot be empty")
	}
	if def.Priority < Critical || def.Priority > Background {
		return fmt.Errorf("priority %d outside of [%d, %d]", def.Priority, Critical, Background)
	}
	if def.RequiredCPU < 0 {
		return fmt.Errorf("required cpu cannot be negative: %v", def.RequiredCPU)
	}
	if def.RequiredMemoryMB < 0 {
		return fmt.Errorf("required memory cannot be negative: %d", def.RequiredMemoryMB)
	}
	if def.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative: %v", def.Timeout)
	}
	if def.MaxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative: %d", def.MaxRetries)
	}
	for _, dep := range def.Dependencies {
		if dep == "" {
			return fmt.Errorf("dependency task id cannot be empty")
		}
	}
	return nil
}

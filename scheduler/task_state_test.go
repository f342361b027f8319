package scheduler

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"

	"github.com/quantive/grid/grid"
)

func queueOrdered(q *pendingQueue) bool {
	for i := 1; i < len(q.items); i++ {
		prev, cur := q.items[i-1], q.items[i]
		if prev.task.Def.Priority > cur.task.Def.Priority {
			return false
		}
		if prev.task.Def.Priority == cur.task.Def.Priority && prev.seq > cur.seq {
			return false
		}
	}
	return true
}

// Whatever order tasks arrive in, the queue stays sorted by priority then
// submission sequence, with all pushed tasks present.
func Test_PendingQueue_OrderingProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	properties.Property("queue keeps priority/seq order", prop.ForAll(
		func(priorities []int) bool {
			var q pendingQueue
			for i, p := range priorities {
				q.push(&taskState{
					seq: int64(i),
					task: &grid.Task{
						Id:  fmt.Sprintf("t%d", i),
						Def: grid.TaskDefinition{Priority: grid.Priority(p)},
					},
				})
			}
			return q.len() == len(priorities) && queueOrdered(&q)
		},
		gen.SliceOf(gen.IntRange(int(grid.Critical), int(grid.Background))),
	))

	properties.Property("removal preserves order", prop.ForAll(
		func(priorities []int, removeIdx int) bool {
			var q pendingQueue
			for i, p := range priorities {
				q.push(&taskState{
					seq: int64(i),
					task: &grid.Task{
						Id:  fmt.Sprintf("t%d", i),
						Def: grid.TaskDefinition{Priority: grid.Priority(p)},
					},
				})
			}
			if len(priorities) > 0 {
				q.remove(fmt.Sprintf("t%d", removeIdx%len(priorities)))
			}
			return queueOrdered(&q)
		},
		gen.SliceOf(gen.IntRange(int(grid.Critical), int(grid.Background))),
		gen.IntRange(0, 1<<20),
	))

	properties.TestingRun(t)
}

func Test_PendingQueue_Oldest(t *testing.T) {
	var q pendingQueue
	// High priority but submitted later.
	q.push(&taskState{seq: 2, task: &grid.Task{Id: "b", Def: grid.TaskDefinition{Priority: grid.Critical}}})
	q.push(&taskState{seq: 1, task: &grid.Task{Id: "a", Def: grid.TaskDefinition{Priority: grid.Background}}})

	oldest := q.oldest()
	if len(oldest) != 2 || oldest[0].task.Id != "a" || oldest[1].task.Id != "b" {
		t.Errorf("expected submission order [a b], got %v", oldest)
	}
}

func Test_PendingQueue_RemoveUnknown(t *testing.T) {
	var q pendingQueue
	q.push(&taskState{seq: 1, task: &grid.Task{Id: "a"}})
	if q.remove("zzz") {
		t.Errorf("expected removal of unknown id to report false")
	}
	if !q.remove("a") {
		t.Errorf("expected removal of known id to report true")
	}
	if q.len() != 0 {
		t.Errorf("expected empty queue, got %d items", q.len())
	}
}

func Test_CopyTask_DeepCopies(t *testing.T) {
	orig := &grid.Task{
		Id: "t1",
		Def: grid.TaskDefinition{
			TaskType:      "analysis",
			Dependencies:  []string{"d1"},
			AffinityRules: map[string]string{"rack": "r1"},
		},
	}
	cp := copyTask(orig)
	cp.Def.Dependencies[0] = "changed"
	cp.Def.AffinityRules["rack"] = "changed"
	if orig.Def.Dependencies[0] != "d1" || orig.Def.AffinityRules["rack"] != "r1" {
		t.Errorf("copy must not alias the original's slices or maps")
	}
}

package subagent

import (
	"context"
	"fmt"
)

// NodeStatus is a DAG node's execution state.
type NodeStatus string

const (
	NodePending   NodeStatus = "pending"
	NodeRunning   NodeStatus = "running"
	NodeCompleted NodeStatus = "completed"
	NodeFailed    NodeStatus = "failed"
	NodeSkipped   NodeStatus = "skipped"
)

// Node is one unit of dependency-ordered subagent work.
type Node struct {
	ID           string
	Config       Config
	Dependencies []string

	Status NodeStatus
	Result *Result
	Err    error
}

// DAGExecutor runs a dependency-ordered graph of subagents concurrently,
// starting every node whose dependencies have all completed. It runs over
// the same Scheduler (and therefore the same depth/concurrency/total-count
// budget) as a plain Spawn.
//
// Execution proceeds in waves: each wave spawns every currently-ready node
// in parallel via SpawnMany and waits for the whole wave before deciding
// what the next wave is. This trades a little concurrency (a node cannot
// start the instant its last dependency finishes, only at the next wave
// boundary) for an executor with no goroutine-recursion to reason about.
type DAGExecutor struct {
	scheduler *Scheduler
}

// NewDAGExecutor binds a DAGExecutor to the Scheduler whose budget it runs
// inside.
func NewDAGExecutor(scheduler *Scheduler) *DAGExecutor {
	return &DAGExecutor{scheduler: scheduler}
}

// Execute runs every node in nodes, returning once every node has reached a
// terminal status. A node whose dependency failed or was skipped is marked
// NodeSkipped rather than run.
func (e *DAGExecutor) Execute(ctx context.Context, nodes []*Node) error {
	byID := make(map[string]*Node, len(nodes))
	for _, n := range nodes {
		if _, dup := byID[n.ID]; dup {
			return fmt.Errorf("subagent: duplicate DAG node id %s", n.ID)
		}
		byID[n.ID] = n
		n.Status = NodePending
	}
	for _, n := range nodes {
		for _, dep := range n.Dependencies {
			if _, ok := byID[dep]; !ok {
				return fmt.Errorf("subagent: node %s depends on unknown node %s", n.ID, dep)
			}
		}
	}

	for {
		var wave []*Node

		for _, n := range nodes {
			if n.Status != NodePending {
				continue
			}

			ready, blocked := true, false
			for _, dep := range n.Dependencies {
				switch byID[dep].Status {
				case NodeCompleted:
				case NodeFailed, NodeSkipped:
					blocked = true
				default:
					ready = false
				}
			}
			switch {
			case blocked:
				n.Status = NodeSkipped
			case ready:
				wave = append(wave, n)
			}
		}

		if len(wave) == 0 {
			// Either every node has settled, or the remaining pending nodes
			// are all waiting on a dependency that will never complete —
			// the dependency-existence check above rules out the latter for
			// any well-formed (acyclic) graph.
			return nil
		}

		cfgs := make([]Config, len(wave))
		for i, n := range wave {
			cfgs[i] = n.Config
			n.Status = NodeRunning
		}
		runs, err := e.scheduler.SpawnMany(ctx, cfgs)
		if err != nil {
			for _, n := range wave {
				n.Status = NodeFailed
				n.Err = err
			}
			continue
		}
		for i, n := range wave {
			run := runs[i]
			n.Result = run.Result
			n.Err = run.Err
			if run.Status == StatusCompleted {
				n.Status = NodeCompleted
			} else {
				n.Status = NodeFailed
			}
		}
	}
}

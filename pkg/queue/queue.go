// Package queue implements the Task Retriever / Queue (spec.md §4.2):
// two per-project lists, ready and waiting, gated by hard dependencies,
// plus the dependency graph used for cycle detection and promotion.
package queue

import (
	"fmt"
	"strings"

	"github.com/foundry-run/foundry/pkg/ferrors"
	"github.com/foundry-run/foundry/pkg/task"
)

// NodeStatus is the lifecycle of a DependencyNode (spec.md §3).
type NodeStatus string

const (
	NodePending    NodeStatus = "pending"
	NodeReady      NodeStatus = "ready"
	NodeInProgress NodeStatus = "in_progress"
	NodeCompleted  NodeStatus = "completed"
	NodeBlocked    NodeStatus = "blocked"
	NodeFailed     NodeStatus = "failed"
)

// QueueLocation is which logical list a node currently sits in.
type QueueLocation string

const (
	LocationReady   QueueLocation = "ready"
	LocationWaiting QueueLocation = "waiting"
	LocationNone    QueueLocation = ""
)

// Node is a DependencyNode (spec.md §3).
type Node struct {
	TaskID        string
	Status        NodeStatus
	QueueLocation QueueLocation
	HardDeps      []string
	SoftDeps      []string
	Dependents    []string
}

// Graph is the project's DependencyNode/Edge set (spec.md §3). The
// directed graph restricted to hard edges must be acyclic (invariant P4).
type Graph struct {
	nodes map[string]*Node
}

// NewGraph returns an empty dependency graph.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*Node)}
}

// Node returns the node for taskID, or nil.
func (g *Graph) Node(taskID string) *Node { return g.nodes[taskID] }

// Queue holds the ready/waiting lists and their backing Graph for one
// project (spec.md §4.2).
type Queue struct {
	projectID string
	graph     *Graph
	ready     []string // task_id, FIFO
	waiting   map[string]bool
	completed map[string]bool
	tasks     map[string]*task.Task
}

// New returns an empty Queue for a project.
func New(projectID string) *Queue {
	return &Queue{
		projectID: projectID,
		graph:     NewGraph(),
		waiting:   make(map[string]bool),
		completed: make(map[string]bool),
		tasks:     make(map[string]*task.Task),
	}
}

// Graph exposes the underlying dependency graph (read-only use expected;
// the Control Loop is the sole writer per spec.md §3 Ownership).
func (q *Queue) Graph() *Graph { return q.graph }

// Enqueue validates depends_on targets exist, refuses on hard-cycle
// detection, and places the task in ready (all hard deps completed) or
// waiting otherwise (spec.md §4.2 enqueue). Re-enqueueing an existing
// task_id is rejected (R1).
func (q *Queue) Enqueue(t *task.Task) error {
	if _, exists := q.tasks[t.TaskID]; exists {
		return fmt.Errorf("%w: %s", ferrors.ErrDuplicateTaskID, t.TaskID)
	}

	node := &Node{TaskID: t.TaskID, Status: NodePending}
	for _, dep := range t.DependsOn {
		switch dep.Type {
		case task.DependencySoft:
			node.SoftDeps = append(node.SoftDeps, dep.TaskID)
		default:
			node.HardDeps = append(node.HardDeps, dep.TaskID)
		}
	}

	for _, dep := range node.HardDeps {
		if _, ok := q.graph.nodes[dep]; !ok {
			return fmt.Errorf("%w: %s -> %s", ferrors.ErrDependencyMissing, t.TaskID, dep)
		}
	}

	q.tasks[t.TaskID] = t
	q.graph.nodes[t.TaskID] = node
	for _, dep := range node.HardDeps {
		q.graph.nodes[dep].Dependents = append(q.graph.nodes[dep].Dependents, t.TaskID)
	}

	if cyclePath, cyclic := q.detectCycle(t.TaskID); cyclic {
		// Roll back before reporting, so the queue is unchanged on failure.
		q.removeNode(t.TaskID)
		return fmt.Errorf("%w: %s", ferrors.ErrDependencyCycle, strings.Join(cyclePath, " -> "))
	}

	if q.hardDepsSatisfied(node) {
		node.Status = NodeReady
		node.QueueLocation = LocationReady
		q.ready = append(q.ready, t.TaskID)
	} else {
		node.Status = NodePending
		node.QueueLocation = LocationWaiting
		q.waiting[t.TaskID] = true
	}
	return nil
}

func (q *Queue) removeNode(taskID string) {
	delete(q.tasks, taskID)
	node := q.graph.nodes[taskID]
	if node == nil {
		return
	}
	for _, dep := range node.HardDeps {
		if depNode := q.graph.nodes[dep]; depNode != nil {
			depNode.Dependents = removeString(depNode.Dependents, taskID)
		}
	}
	delete(q.graph.nodes, taskID)
}

func removeString(list []string, s string) []string {
	out := list[:0]
	for _, v := range list {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

func (q *Queue) hardDepsSatisfied(node *Node) bool {
	for _, dep := range node.HardDeps {
		if !q.completed[dep] {
			return false
		}
	}
	return true
}

// detectCycle walks hard edges reachable from start looking for a
// path back to start (invariant P4).
func (q *Queue) detectCycle(start string) ([]string, bool) {
	visited := make(map[string]int) // 0 unvisited, 1 in-stack, 2 done
	var path []string

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = 1
		path = append(path, id)
		node := q.graph.nodes[id]
		if node != nil {
			for _, dep := range node.HardDeps {
				switch visited[dep] {
				case 1:
					path = append(path, dep)
					return true
				case 0:
					if visit(dep) {
						return true
					}
				}
			}
		}
		visited[id] = 2
		path = path[:len(path)-1]
		return false
	}

	if visit(start) {
		return path, true
	}
	return nil, false
}

// Retrieve pops the head of ready, returning the task and true. Callers
// responsible for resource_exhausted_retry preemption (spec.md §4.2)
// check that slot before calling Retrieve.
func (q *Queue) Retrieve() (*task.Task, bool) {
	if len(q.ready) == 0 {
		return nil, false
	}
	id := q.ready[0]
	q.ready = q.ready[1:]
	if node := q.graph.nodes[id]; node != nil {
		node.Status = NodeInProgress
		node.QueueLocation = LocationNone
	}
	return q.tasks[id], true
}

// Requeue places a task back at the head of ready (used by the Retry
// Orchestrator's fix-retry step, spec.md §4.11 step 3, and by
// resource-exhausted-retry resumption, spec.md §4.2).
func (q *Queue) Requeue(taskID string) {
	q.ready = append([]string{taskID}, q.ready...)
	if node := q.graph.nodes[taskID]; node != nil {
		node.Status = NodeReady
		node.QueueLocation = LocationReady
	}
}

// PromoteOnCompletion marks taskID completed and moves every waiting
// task whose hard dependencies are now all completed into ready,
// returning the promoted task IDs (spec.md §4.2, §4.12).
func (q *Queue) PromoteOnCompletion(taskID string) []string {
	q.completed[taskID] = true
	if node := q.graph.nodes[taskID]; node != nil {
		node.Status = NodeCompleted
		node.QueueLocation = LocationNone
	}

	var promoted []string
	for id := range q.waiting {
		node := q.graph.nodes[id]
		if node == nil || !q.hardDepsSatisfied(node) {
			continue
		}
		delete(q.waiting, id)
		node.Status = NodeReady
		node.QueueLocation = LocationReady
		q.ready = append(q.ready, id)
		promoted = append(promoted, id)
	}
	return promoted
}

// MarkBlocked transitions a node to blocked (spec.md §4.11 step 4).
func (q *Queue) MarkBlocked(taskID string) {
	if node := q.graph.nodes[taskID]; node != nil {
		node.Status = NodeBlocked
		node.QueueLocation = LocationNone
	}
}

// Exhausted is true iff both lists are empty and no task is
// current_task (spec.md §4.2); the caller supplies whether a task is
// currently in flight since that is tracked in SupervisorState.
func (q *Queue) Exhausted(currentTaskInFlight bool) bool {
	return len(q.ready) == 0 && len(q.waiting) == 0 && !currentTaskInFlight
}

// Task returns the enqueued task for taskID, if any. Used by the
// Control Loop to resolve a pending resource_exhausted_retry slot,
// whose task has already left the ready list (spec.md §4.2 retrieve()).
func (q *Queue) Task(taskID string) (*task.Task, bool) {
	t, ok := q.tasks[taskID]
	return t, ok
}

// ReadyLen and WaitingLen expose list sizes for diagnostics/tests.
func (q *Queue) ReadyLen() int   { return len(q.ready) }
func (q *Queue) WaitingLen() int { return len(q.waiting) }

// Lists returns the current ready/waiting task-id lists for
// persistence (spec.md §6 "queue:<project_id>:ready/waiting"). The
// waiting order is not significant; ready order is FIFO.
func (q *Queue) Lists() (ready, waiting []string) {
	ready = append([]string(nil), q.ready...)
	waiting = make([]string, 0, len(q.waiting))
	for id := range q.waiting {
		waiting = append(waiting, id)
	}
	return ready, waiting
}

// Rebuild constructs a Queue from a full task list in one pass,
// producing an identical ready/waiting partitioning to the incremental
// Enqueue path (R2): every hard-dependency target must already be
// present in the list (declared before or after its dependent).
func Rebuild(projectID string, tasks []*task.Task, completedIDs []string) (*Queue, error) {
	q := New(projectID)
	for _, id := range completedIDs {
		q.completed[id] = true
	}

	// Pre-register all nodes first so forward references resolve,
	// mirroring the two-pass construction a full-file enqueue performs.
	for _, t := range tasks {
		if _, exists := q.tasks[t.TaskID]; exists {
			return nil, fmt.Errorf("%w: %s", ferrors.ErrDuplicateTaskID, t.TaskID)
		}
		node := &Node{TaskID: t.TaskID, Status: NodePending}
		for _, dep := range t.DependsOn {
			if dep.Type == task.DependencySoft {
				node.SoftDeps = append(node.SoftDeps, dep.TaskID)
			} else {
				node.HardDeps = append(node.HardDeps, dep.TaskID)
			}
		}
		q.tasks[t.TaskID] = t
		q.graph.nodes[t.TaskID] = node
	}
	for _, t := range tasks {
		node := q.graph.nodes[t.TaskID]
		for _, dep := range node.HardDeps {
			depNode, ok := q.graph.nodes[dep]
			if !ok {
				return nil, fmt.Errorf("%w: %s -> %s", ferrors.ErrDependencyMissing, t.TaskID, dep)
			}
			depNode.Dependents = append(depNode.Dependents, t.TaskID)
		}
	}
	for _, t := range tasks {
		if _, cyclic := q.detectCycle(t.TaskID); cyclic {
			return nil, fmt.Errorf("%w: involving %s", ferrors.ErrDependencyCycle, t.TaskID)
		}
	}
	for _, t := range tasks {
		node := q.graph.nodes[t.TaskID]
		if q.completed[t.TaskID] {
			node.Status = NodeCompleted
			continue
		}
		if q.hardDepsSatisfied(node) {
			node.Status = NodeReady
			node.QueueLocation = LocationReady
			q.ready = append(q.ready, t.TaskID)
		} else {
			node.Status = NodePending
			node.QueueLocation = LocationWaiting
			q.waiting[t.TaskID] = true
		}
	}
	return q, nil
}

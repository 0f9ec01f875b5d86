// Package pendingqueue holds tasks that have arrived but could not be placed
// on any stable host (SPEC_FULL.md §3 PendingTaskQueue). The teacher's
// common/queue is channel-backed for cross-goroutine delivery; the scheduler
// is driven single-threadedly by the simulator and needs random-access
// removal (a queued task is pulled out of the middle of the queue once the
// wake-up drainer places it, not necessarily in arrival order), so this is a
// plain ordered slice instead of a channel.
package pendingqueue

import "github.com/caspian-labs/vsched/runtime"

// Queue is an ordered, arrival-order sequence of task ids awaiting a stable
// host.
type Queue struct {
	order []runtime.TaskID
	set   map[runtime.TaskID]bool
}

// New builds an empty Queue.
func New() *Queue {
	return &Queue{set: make(map[runtime.TaskID]bool)}
}

// Enqueue appends task to the end of the queue. Re-enqueuing a task already
// present is a no-op.
func (q *Queue) Enqueue(task runtime.TaskID) {
	if q.set[task] {
		return
	}
	q.set[task] = true
	q.order = append(q.order, task)
}

// Remove drops task from the queue, wherever it sits. Reports whether the
// task was present.
func (q *Queue) Remove(task runtime.TaskID) bool {
	if !q.set[task] {
		return false
	}
	delete(q.set, task)
	for i, t := range q.order {
		if t == task {
			q.order = append(q.order[:i], q.order[i+1:]...)
			break
		}
	}
	return true
}

// Contains reports whether task is currently queued.
func (q *Queue) Contains(task runtime.TaskID) bool {
	return q.set[task]
}

// Snapshot returns the queued task ids in arrival order. The drainer walks
// this snapshot rather than q.order directly, since placing a task mutates
// the queue mid-walk (SPEC_FULL.md §4.5, §4.6 re-entrancy note).
func (q *Queue) Snapshot() []runtime.TaskID {
	out := make([]runtime.TaskID, len(q.order))
	copy(out, q.order)
	return out
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	return len(q.order)
}

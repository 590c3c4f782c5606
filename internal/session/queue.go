package session

import "panosphere/internal/sphere"

// Queue is the strictly ordered capture queue, drained front to back in plan
// order. Empty is an expected terminal condition, never an error.
type Queue struct {
	targets []sphere.Target
}

// NewQueue copies the plan's targets into a fresh queue.
func NewQueue(plan sphere.CoveragePlan) *Queue {
	q := &Queue{}
	q.Reset(plan)
	return q
}

// Reset replaces the queue contents with a fresh copy of the plan.
func (q *Queue) Reset(plan sphere.CoveragePlan) {
	q.targets = make([]sphere.Target, len(plan.Targets))
	copy(q.targets, plan.Targets)
}

// PeekNext returns the head without removing it.
func (q *Queue) PeekNext() (sphere.Target, bool) {
	if len(q.targets) == 0 {
		return sphere.Target{}, false
	}
	return q.targets[0], true
}

// Dequeue removes and returns the head.
func (q *Queue) Dequeue() (sphere.Target, bool) {
	if len(q.targets) == 0 {
		return sphere.Target{}, false
	}
	head := q.targets[0]
	q.targets = q.targets[1:]
	return head, true
}

// Len reports how many captures remain.
func (q *Queue) Len() int { return len(q.targets) }

// IsEmpty reports whether the queue is drained.
func (q *Queue) IsEmpty() bool { return len(q.targets) == 0 }

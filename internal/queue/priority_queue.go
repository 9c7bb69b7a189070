package queue

import (
	"sync"
	"time"

	"chainscan/internal/models"
)

type entry struct {
	id         string
	priority   string
	eligibleAt time.Time
}

// PriorityQueue orders queued jobs for admission. Within a class, jobs are
// FIFO by enqueue time; across classes, critical > high > medium > low. Each
// class carries an admission delay counted from enqueue, modelling that
// higher-priority analyses start sooner.
type PriorityQueue struct {
	mu      sync.Mutex
	classes map[string][]*entry
	delays  map[string]time.Duration
	notify  chan struct{}
}

// New builds a queue with per-class admission delays. Missing classes get no
// delay.
func New(delays map[string]time.Duration) *PriorityQueue {
	q := &PriorityQueue{
		classes: make(map[string][]*entry, 4),
		delays:  make(map[string]time.Duration, len(delays)),
		notify:  make(chan struct{}, 1),
	}
	for p, d := range delays {
		q.delays[p] = d
	}
	return q
}

// Enqueue admits a job to the back of its priority class. The admission
// delay starts now, whether this is a fresh submission or a re-queue after a
// pause.
func (q *PriorityQueue) Enqueue(id, priority string) {
	if !models.ValidPriority(priority) {
		priority = models.PriorityMedium
	}
	q.mu.Lock()
	q.classes[priority] = append(q.classes[priority], &entry{
		id:         id,
		priority:   priority,
		eligibleAt: time.Now().Add(q.delays[priority]),
	})
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
}

// DequeueNext pops the highest-priority eligible job. A class whose head is
// still inside its admission delay does not block lower classes. Returns
// ok=false when nothing is eligible yet.
func (q *PriorityQueue) DequeueNext(now time.Time) (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range models.Priorities() {
		class := q.classes[p]
		if len(class) == 0 {
			continue
		}
		// Same delay per class, so FIFO order is eligibility order.
		if class[0].eligibleAt.After(now) {
			continue
		}
		id := class[0].id
		q.classes[p] = class[1:]
		return id, true
	}
	return "", false
}

// Remove drops a job from the queue, wherever it sits. Used when a queued
// job is cancelled.
func (q *PriorityQueue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for p, class := range q.classes {
		for i, e := range class {
			if e.id == id {
				q.classes[p] = append(class[:i], class[i+1:]...)
				return true
			}
		}
	}
	return false
}

// Position reports the 1-indexed rank of a job in the combined admission
// order, for user-facing queue position. Zero means not queued.
func (q *PriorityQueue) Position(id string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	pos := 0
	for _, p := range models.Priorities() {
		for _, e := range q.classes[p] {
			pos++
			if e.id == id {
				return pos
			}
		}
	}
	return 0
}

// Len reports how many jobs are waiting across all classes.
func (q *PriorityQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := 0
	for _, class := range q.classes {
		n += len(class)
	}
	return n
}

// NextEligible reports the earliest moment any waiting job becomes eligible.
// ok=false when the queue is empty.
func (q *PriorityQueue) NextEligible() (time.Time, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	var earliest time.Time
	found := false
	for _, class := range q.classes {
		if len(class) == 0 {
			continue
		}
		if !found || class[0].eligibleAt.Before(earliest) {
			earliest = class[0].eligibleAt
			found = true
		}
	}
	return earliest, found
}

// Notify wakes one waiter when a job is enqueued.
func (q *PriorityQueue) Notify() <-chan struct{} {
	return q.notify
}

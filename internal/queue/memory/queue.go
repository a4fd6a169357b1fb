// Package memory provides the in-memory pending queue used by the dispatcher.
package memory

import "github.com/JakeFAU/scrape-queue/internal/job"

// Queue is an unbounded FIFO of pending jobs. It is not safe for concurrent
// use; the dispatcher serializes access under its own lock.
type Queue struct {
	items []job.Job
	head  int
}

// NewQueue constructs an empty queue with room for capacity jobs.
func NewQueue(capacity int) *Queue {
	if capacity < 0 {
		capacity = 0
	}
	return &Queue{items: make([]job.Job, 0, capacity)}
}

// Enqueue appends a job to the back of the queue.
func (q *Queue) Enqueue(j job.Job) {
	q.items = append(q.items, j)
}

// Dequeue pops the front job. The boolean is false when the queue is empty.
func (q *Queue) Dequeue() (job.Job, bool) {
	if q.head >= len(q.items) {
		return job.Job{}, false
	}
	j := q.items[q.head]
	q.items[q.head] = job.Job{}
	q.head++
	q.compact()
	return j, true
}

// Len reports the number of queued jobs.
func (q *Queue) Len() int {
	return len(q.items) - q.head
}

// Items returns a copy of the queued jobs in FIFO order.
func (q *Queue) Items() []job.Job {
	out := make([]job.Job, 0, q.Len())
	for _, j := range q.items[q.head:] {
		out = append(out, j.Clone())
	}
	return out
}

// Drain removes and returns every queued job in FIFO order.
func (q *Queue) Drain() []job.Job {
	out := append([]job.Job(nil), q.items[q.head:]...)
	q.items = q.items[:0]
	q.head = 0
	return out
}

func (q *Queue) compact() {
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
		return
	}
	// Reclaim the dead prefix once it dominates the backing array.
	if q.head > 32 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		for i := n; i < len(q.items); i++ {
			q.items[i] = job.Job{}
		}
		q.items = q.items[:n]
		q.head = 0
	}
}

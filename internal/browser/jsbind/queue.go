package jsbind

import (
	"go.uber.org/zap"
)

// Job is a deferred callback: a timer, a load listener, a mocked network
// completion.
type Job struct {
	ID     int
	Name   string
	Repeat bool
	Fn     func() error
}

// JobError pairs a failed job with its error.
type JobError struct {
	Name string
	Err  error
}

// DrainStats summarises one drain of the queue.
type DrainStats struct {
	Ran       int
	Errors    []JobError
	Truncated bool
	Stopped   bool
}

// JobQueue holds deferred work in insertion order. Timer delays are
// ignored so the order of execution is deterministic.
type JobQueue struct {
	logger    *zap.Logger
	nextID    int
	pending   []*Job
	cancelled map[int]bool
}

// NewJobQueue creates an empty queue.
func NewJobQueue(logger *zap.Logger) *JobQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobQueue{logger: logger.Named("jobs"), cancelled: make(map[int]bool)}
}

// Enqueue schedules a one-shot job and returns its id.
func (q *JobQueue) Enqueue(name string, fn func() error) int {
	return q.push(name, fn, false)
}

// EnqueueRepeating schedules a job that fires once per drain until it is
// cancelled.
func (q *JobQueue) EnqueueRepeating(name string, fn func() error) int {
	return q.push(name, fn, true)
}

func (q *JobQueue) push(name string, fn func() error, repeat bool) int {
	q.nextID++
	q.pending = append(q.pending, &Job{ID: q.nextID, Name: name, Repeat: repeat, Fn: fn})
	return q.nextID
}

// Cancel drops a job. Unknown ids are ignored.
func (q *JobQueue) Cancel(id int) {
	if id > 0 {
		q.cancelled[id] = true
	}
}

// Len is the number of queued jobs, cancelled ones included.
func (q *JobQueue) Len() int { return len(q.pending) }

// Drain runs queued jobs until the queue is empty, max jobs have run, or
// stop returns true. stop is checked before every job. A job error is
// collected and the drain continues; an uncatchable engine error
// (interrupt, stack overflow) ends the drain and is returned.
func (q *JobQueue) Drain(max int, stop func() bool) (DrainStats, error) {
	var stats DrainStats
	var again []*Job

	defer func() {
		// Intervals that fired go back in line for the next drain.
		q.pending = append(q.pending, again...)
	}()

	for len(q.pending) > 0 {
		if stats.Ran >= max {
			stats.Truncated = true
			break
		}
		if stop != nil && stop() {
			stats.Stopped = true
			break
		}
		job := q.pending[0]
		q.pending = q.pending[1:]
		if q.cancelled[job.ID] {
			delete(q.cancelled, job.ID)
			continue
		}

		stats.Ran++
		err := job.Fn()
		if job.Repeat && !q.cancelled[job.ID] {
			again = append(again, job)
		}
		if err == nil {
			continue
		}
		if isUncatchable(err) {
			return stats, err
		}
		q.logger.Debug("Deferred job failed.", zap.String("job", job.Name), zap.Error(err))
		stats.Errors = append(stats.Errors, JobError{Name: job.Name, Err: err})
	}
	return stats, nil
}

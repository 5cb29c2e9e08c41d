package queue

import (
	"context"
	"sort"
	"sync"
	"time"
)

type memState int

const (
	memReady memState = iota
	memProcessing
	memDead
)

type memEntry struct {
	job   Job
	state memState
}

// MemoryQueue is an in-process Queue for tests and single-process runs. It
// honours the same contract as RedisQueue but loses everything on exit.
type MemoryQueue struct {
	mu   sync.Mutex
	jobs map[string]*memEntry
	now  func() time.Time
}

var _ Queue = (*MemoryQueue)(nil)

// NewMemoryQueue returns an empty queue.
func NewMemoryQueue() *MemoryQueue {
	return &MemoryQueue{jobs: make(map[string]*memEntry), now: func() time.Time { return time.Now().UTC() }}
}

// Enqueue stores a copy of j.
func (q *MemoryQueue) Enqueue(_ context.Context, j *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if _, ok := q.jobs[j.ID]; ok {
		return ErrDuplicateJob
	}
	q.jobs[j.ID] = &memEntry{job: *j, state: memReady}
	return nil
}

// Dequeue claims up to limit due jobs in run_at order.
func (q *MemoryQueue) Dequeue(_ context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 1
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	due := make([]*memEntry, 0)
	for _, e := range q.jobs {
		if e.state == memReady && !e.job.RunAt.After(now) {
			due = append(due, e)
		}
	}
	sort.Slice(due, func(a, b int) bool {
		if due[a].job.RunAt.Equal(due[b].job.RunAt) {
			return due[a].job.ID < due[b].job.ID
		}
		return due[a].job.RunAt.Before(due[b].job.RunAt)
	})
	if len(due) > limit {
		due = due[:limit]
	}

	out := make([]*Job, 0, len(due))
	for _, e := range due {
		e.state = memProcessing
		e.job.Attempt++
		e.job.ClaimedAt = now
		cp := e.job
		out = append(out, &cp)
	}
	return out, nil
}

// Ack forgets the job.
func (q *MemoryQueue) Ack(_ context.Context, j *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.jobs, j.ID)
	return nil
}

// Retry releases a claimed job to run at runAt.
func (q *MemoryQueue) Retry(_ context.Context, j *Job, runAt time.Time, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[j.ID]
	if !ok || e.state != memProcessing {
		return ErrClaimLost
	}
	e.state = memReady
	e.job.RunAt = runAt
	e.job.LastError = reason
	j.RunAt = runAt
	j.LastError = reason
	return nil
}

// DeadLetter parks a claimed job.
func (q *MemoryQueue) DeadLetter(_ context.Context, j *Job, reason string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	e, ok := q.jobs[j.ID]
	if !ok || e.state != memProcessing {
		return ErrClaimLost
	}
	now := q.now()
	e.state = memDead
	e.job.DeadAt = now
	e.job.LastError = reason
	j.DeadAt = now
	j.LastError = reason
	return nil
}

// Exists reports whether id is known.
func (q *MemoryQueue) Exists(_ context.Context, id string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.jobs[id]
	return ok, nil
}

// ListDead returns dead jobs, most recent first.
func (q *MemoryQueue) ListDead(_ context.Context, limit int) ([]*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*Job, 0)
	for _, e := range q.jobs {
		if e.state == memDead {
			cp := e.job
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].DeadAt.After(out[b].DeadAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RequeueStale returns jobs claimed longer than visibility ago.
func (q *MemoryQueue) RequeueStale(_ context.Context, visibility time.Duration) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.now()
	cutoff := now.Add(-visibility)
	n := 0
	for _, e := range q.jobs {
		if e.state == memProcessing && !e.job.ClaimedAt.After(cutoff) {
			e.state = memReady
			e.job.RunAt = now
			n++
		}
	}
	return n, nil
}

// Ping always succeeds.
func (q *MemoryQueue) Ping(context.Context) error { return nil }

// Len returns the number of jobs in any state.
func (q *MemoryQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.jobs)
}

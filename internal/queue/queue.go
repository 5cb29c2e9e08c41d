// Package queue provides the durable job queue used to hand deliveries from
// the API process to workers: the Job type, its retry policy, two Queue
// implementations (Redis and in-memory) and the worker Pool that runs a
// Handler over dequeued jobs and maps its Outcome to ack, retry or
// dead-letter.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrDuplicateJob is returned by Enqueue when a job with the same id is
	// already known to the queue (ready, in flight or dead).
	ErrDuplicateJob = errors.New("queue: job already exists")
	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("queue: job not found")
	// ErrClaimLost is returned by Retry/DeadLetter when the job is no longer
	// held by the caller, e.g. after a stale claim was requeued.
	ErrClaimLost = errors.New("queue: claim lost")
)

// Job is one unit of delivery work. ID equals DeliveryID so that enqueueing
// the same delivery twice is rejected.
type Job struct {
	ID          string
	DeliveryID  string
	Attempt     int // 1-indexed attempt being made; set by Dequeue
	MaxAttempts int
	Backoff     BackoffOptions
	RunAt       time.Time
	LastError   string
	CreatedAt   time.Time
	ClaimedAt   time.Time
	DeadAt      time.Time
}

// BackoffOptions is the wire form of a job's retry delay policy.
type BackoffOptions struct {
	Kind           string `json:"type"`
	InitialDelayMs int64  `json:"delay"`
}

// Options is the wire form of a job's retry policy.
type Options struct {
	Attempts int            `json:"attempts"`
	Backoff  BackoffOptions `json:"backoff"`
}

// Payload is the wire form of a job's body.
type Payload struct {
	DeliveryID string `json:"deliveryId"`
}

// Policy is the retry policy applied to delivery jobs.
type Policy struct {
	MaxAttempts int
	Backoff     Strategy
}

// DefaultPolicy returns five attempts with exponential backoff from 1s.
func DefaultPolicy() Policy {
	return Policy{MaxAttempts: 5, Backoff: NewExponential(time.Second, 0)}
}

// NewJob builds a job for deliveryID using p, ready to run immediately.
func NewJob(deliveryID string, p Policy) *Job {
	now := time.Now().UTC()
	return &Job{
		ID:          deliveryID,
		DeliveryID:  deliveryID,
		MaxAttempts: p.MaxAttempts,
		Backoff:     optionsOf(p.Backoff),
		RunAt:       now,
		CreatedAt:   now,
	}
}

// Options returns the job's retry policy in wire form.
func (j *Job) Options() Options {
	return Options{Attempts: j.MaxAttempts, Backoff: j.Backoff}
}

// MarshalPayload encodes the job body.
func (j *Job) MarshalPayload() ([]byte, error) {
	return json.Marshal(Payload{DeliveryID: j.DeliveryID})
}

// Strategy returns the backoff strategy described by the job's options.
func (j *Job) Strategy() Strategy {
	return strategyOf(j.Backoff)
}

// Exhausted reports whether the current attempt is the last one allowed.
func (j *Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}

// Queue is the contract shared by the Redis and in-memory queues.
type Queue interface {
	// Enqueue stores j and makes it available at j.RunAt.
	Enqueue(ctx context.Context, j *Job) error
	// Dequeue claims up to limit due jobs, incrementing their Attempt.
	Dequeue(ctx context.Context, limit int) ([]*Job, error)
	// Ack removes a finished job.
	Ack(ctx context.Context, j *Job) error
	// Retry releases a claimed job to run again at runAt.
	Retry(ctx context.Context, j *Job, runAt time.Time, reason string) error
	// DeadLetter parks a claimed job; it will not run again.
	DeadLetter(ctx context.Context, j *Job, reason string) error
	// Exists reports whether the queue still knows a job id.
	Exists(ctx context.Context, id string) (bool, error)
	// ListDead returns dead-lettered jobs, most recent first.
	ListDead(ctx context.Context, limit int) ([]*Job, error)
	// RequeueStale returns jobs claimed longer than visibility ago to the
	// ready set and reports how many were moved.
	RequeueStale(ctx context.Context, visibility time.Duration) (int, error)
	// Ping checks the backing store.
	Ping(ctx context.Context) error
}

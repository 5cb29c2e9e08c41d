package queue

import "context"

// OutcomeKind classifies how a handler finished a job.
type OutcomeKind int

const (
	// OutcomeDone means the work completed; the job is acked.
	OutcomeDone OutcomeKind = iota
	// OutcomeAbsorbed means the work failed permanently but the failure is
	// already recorded; the job is acked without retry.
	OutcomeAbsorbed
	// OutcomePermanent means the job can never succeed; it is dead-lettered.
	OutcomePermanent
	// OutcomeTransient means the job should be retried with backoff.
	OutcomeTransient
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeDone:
		return "done"
	case OutcomeAbsorbed:
		return "absorbed"
	case OutcomePermanent:
		return "permanent"
	case OutcomeTransient:
		return "transient"
	}
	return "unknown"
}

// Outcome is the result a Handler returns for one job.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
}

// Done reports success.
func Done() Outcome { return Outcome{Kind: OutcomeDone} }

// Absorbed reports a permanent failure the handler has already recorded.
func Absorbed(reason string) Outcome { return Outcome{Kind: OutcomeAbsorbed, Reason: reason} }

// Permanent reports a failure that must not be retried.
func Permanent(reason string) Outcome { return Outcome{Kind: OutcomePermanent, Reason: reason} }

// Transient reports a failure that should be retried.
func Transient(reason string) Outcome { return Outcome{Kind: OutcomeTransient, Reason: reason} }

// Handler processes one claimed job.
type Handler interface {
	Handle(ctx context.Context, j *Job) Outcome
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, j *Job) Outcome

// Handle calls f(ctx, j).
func (f HandlerFunc) Handle(ctx context.Context, j *Job) Outcome { return f(ctx, j) }

// DeadLetterHook is invoked after a job has been dead-lettered.
type DeadLetterHook func(ctx context.Context, j *Job, reason string)

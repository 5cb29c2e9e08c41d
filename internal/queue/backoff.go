package queue

import (
	"math"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retrying after attempt n
	// (1-indexed) failed.
	Delay(attempt int) time.Duration
}

// Backoff kinds carried in BackoffOptions.Kind.
const (
	BackoffExponential = "exponential"
	BackoffFixed       = "fixed"
)

// Exponential doubles the delay each attempt.
// Delay = min(Initial * 2^(attempt-1), Max).
type Exponential struct {
	Initial time.Duration
	Max     time.Duration
}

// NewExponential creates an exponential backoff strategy. A zero maxDelay
// leaves the delay uncapped.
func NewExponential(initial, maxDelay time.Duration) *Exponential {
	return &Exponential{Initial: initial, Max: maxDelay}
}

// Delay returns Initial * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := time.Duration(float64(e.Initial) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// Fixed always returns the same delay regardless of attempt number.
type Fixed struct {
	Interval time.Duration
}

// Delay returns the fixed interval.
func (f *Fixed) Delay(_ int) time.Duration { return f.Interval }

func optionsOf(s Strategy) BackoffOptions {
	switch v := s.(type) {
	case *Exponential:
		return BackoffOptions{Kind: BackoffExponential, InitialDelayMs: v.Initial.Milliseconds()}
	case *Fixed:
		return BackoffOptions{Kind: BackoffFixed, InitialDelayMs: v.Interval.Milliseconds()}
	}
	return BackoffOptions{Kind: BackoffExponential, InitialDelayMs: time.Second.Milliseconds()}
}

func strategyOf(o BackoffOptions) Strategy {
	d := time.Duration(o.InitialDelayMs) * time.Millisecond
	if o.Kind == BackoffFixed {
		return &Fixed{Interval: d}
	}
	return NewExponential(d, 0)
}

package domain

// DeliveryStatus is the lifecycle state of a DeliveryRecord.
type DeliveryStatus string

const (
	StatusQueued DeliveryStatus = "QUEUED"
	StatusSent   DeliveryStatus = "SENT"
	StatusFailed DeliveryStatus = "FAILED"
	// StatusDead marks a record whose job exhausted its retries or hit a
	// permanent error. No further attempts are made.
	StatusDead DeliveryStatus = "DEAD"
)

// Valid reports whether s is a known status.
func (s DeliveryStatus) Valid() bool {
	switch s {
	case StatusQueued, StatusSent, StatusFailed, StatusDead:
		return true
	}
	return false
}

// Terminal reports whether no further transition is allowed out of s.
func (s DeliveryStatus) Terminal() bool { return s == StatusSent || s == StatusDead }

// CanTransition reports whether a record in state from may move to state to.
// SENT and DEAD are absorbing; FAILED may be retried into any outcome.
func CanTransition(from, to DeliveryStatus) bool {
	switch from {
	case StatusQueued, StatusFailed:
		return to == StatusSent || to == StatusFailed || to == StatusDead
	default:
		return false
	}
}

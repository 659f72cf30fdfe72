// Package dunning decides how to recover a subscription in arrears.
//
// The policy is a pure function over the attempt history: it returns
// next-action descriptors and never performs I/O or timer scheduling itself.
// The job queue executes the descriptors; the subscription service applies
// the terminal cancellation.
package dunning

import (
	"time"
)

// ActionType is the kind of next action the policy decides on.
type ActionType string

const (
	// ActionScheduleRetry schedules one more payment attempt at RetryAt.
	ActionScheduleRetry ActionType = "schedule_retry"

	// ActionCancelSubscription ends recovery: the schedule is exhausted and
	// the subscription must be cancelled, not paused.
	ActionCancelSubscription ActionType = "cancel_subscription"
)

// Action is a next-action descriptor for the external scheduler.
type Action struct {
	Type ActionType

	// AttemptNumber is the attempt being scheduled (1-based). Zero for
	// ActionCancelSubscription.
	AttemptNumber int32

	// RetryAt is when the attempt should run. Zero for ActionCancelSubscription.
	RetryAt time.Time
}

// Policy holds the retry offsets. Offsets are cumulative: each is measured
// from the previous attempt (or the initial failure), not from the original
// failure date.
type Policy struct {
	offsetsDays []int
}

// NewPolicy creates a policy with the given day offsets between attempts.
func NewPolicy(offsetsDays ...int) Policy {
	return Policy{offsetsDays: offsetsDays}
}

// DefaultPolicy is the standard three-attempt schedule: +3, +5, +7 days.
func DefaultPolicy() Policy {
	return NewPolicy(3, 5, 7)
}

// MaxAttempts is the number of attempts before the terminal cancellation.
func (p Policy) MaxAttempts() int32 {
	return int32(len(p.offsetsDays))
}

// Decide returns the next action after a payment failure.
//
// failedAttempts is how many dunning attempts have already failed: zero right
// after the initial invoice failure, k after attempt #k failed. lastFailureAt
// anchors the next offset. Once every scheduled attempt has failed, the
// decision is cancellation; there is never an indefinite retry.
func (p Policy) Decide(failedAttempts int32, lastFailureAt time.Time) Action {
	if failedAttempts >= p.MaxAttempts() {
		return Action{Type: ActionCancelSubscription}
	}

	next := failedAttempts + 1
	return Action{
		Type:          ActionScheduleRetry,
		AttemptNumber: next,
		RetryAt:       lastFailureAt.AddDate(0, 0, p.offsetsDays[failedAttempts]),
	}
}

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Job-related domain errors.
var (
	ErrNoJobAvailable = &Error{Code: ENOTFOUND, Message: "No job available"}
)

// Job statuses.
const (
	JobStatusPending   = "pending"
	JobStatusRunning   = "running"
	JobStatusCompleted = "completed"
	JobStatusFailed    = "failed"
)

// Job is one unit of deferred work for the background worker. The job queue
// is the scheduling substrate the dunning manager hands its next-action
// descriptors to; the core decides what runs and when, the worker decides how.
type Job struct {
	ID      uuid.UUID
	JobType string
	Queue   string
	Payload []byte

	Status     string
	RetryCount int32
	MaxRetries int32

	ScheduledAt    time.Time
	TimeoutSeconds int32

	ErrorMessage string

	CreatedAt time.Time
	UpdatedAt time.Time
}

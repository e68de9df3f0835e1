package jobs

import (
	"context"
	"encoding/json"
	"time"
)

// Job statuses. A running job whose lease expired is claimable again.
const (
	StatusQueued  = "queued"
	StatusRunning = "running"
	StatusRetry   = "retry"
	StatusDone    = "done"
	StatusFailed  = "failed"
)

// Job is one row of the outbox. Lower Priority runs first.
type Job struct {
	ID          int64           `json:"id"`
	Type        string          `json:"type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	Priority    int             `json:"priority"`
	ScheduledAt time.Time       `json:"scheduled_at"`
	NextTryAt   *time.Time      `json:"next_try_at,omitempty"`
	LastError   string          `json:"last_error,omitempty"`
	Created     time.Time       `json:"created"`
	Updated     time.Time       `json:"updated"`
}

// Handler processes a claimed job. A non-nil error schedules a retry until
// MaxAttempts is reached, after which the job is dead-lettered.
type Handler func(ctx context.Context, j *Job) error

const maxBackoff = 5 * time.Minute

// BackoffDuration is 2^attempt seconds, capped at five minutes.
func BackoffDuration(attempt int) time.Duration {
	if attempt <= 0 {
		return time.Second
	}
	if attempt > 16 {
		attempt = 16
	}
	if d := time.Duration(1<<uint(attempt)) * time.Second; d < maxBackoff {
		return d
	}
	return maxBackoff
}

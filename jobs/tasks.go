// Package jobs defines the background tasks that keep access state honest:
// the expiry sweep that revokes lapsed grants and the cleanup of stale
// requests.
package jobs

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// TaskAccessExpirySweep revokes grants whose expiry has passed.
	TaskAccessExpirySweep = "access:expiry_sweep"
	// TaskRequestCleanup purges stale pending access requests.
	TaskRequestCleanup = "access:request_cleanup"
)

// ExpirySweepPayload bounds one sweep run.
type ExpirySweepPayload struct {
	Limit int `json:"limit"`
}

// NewExpirySweepTask constructs an expiry sweep task.
func NewExpirySweepTask(limit int) (*asynq.Task, error) {
	if limit <= 0 {
		limit = 500
	}
	data, err := json.Marshal(ExpirySweepPayload{Limit: limit})
	if err != nil {
		return nil, fmt.Errorf("jobs: marshal sweep payload: %w", err)
	}
	return asynq.NewTask(TaskAccessExpirySweep, data), nil
}

// RequestCleanupPayload selects which pending requests count as stale.
type RequestCleanupPayload struct {
	OlderThan time.Duration `json:"olderThan"`
}

// NewRequestCleanupTask constructs a request cleanup task.
func NewRequestCleanupTask(olderThan time.Duration) (*asynq.Task, error) {
	if olderThan <= 0 {
		olderThan = 30 * 24 * time.Hour
	}
	data, err := json.Marshal(RequestCleanupPayload{OlderThan: olderThan})
	if err != nil {
		return nil, fmt.Errorf("jobs: marshal cleanup payload: %w", err)
	}
	return asynq.NewTask(TaskRequestCleanup, data), nil
}

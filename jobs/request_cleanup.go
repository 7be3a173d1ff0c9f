package jobs

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"
)

// Purger removes stale pending requests. approval.Service satisfies it.
type Purger interface {
	PurgeStale(ctx context.Context, olderThan time.Duration) (int64, error)
}

// RequestCleanupJob drops requests nobody ever decided on.
type RequestCleanupJob struct {
	purger Purger
	logger *slog.Logger
}

// NewRequestCleanupJob constructs a RequestCleanupJob.
func NewRequestCleanupJob(purger Purger, logger *slog.Logger) *RequestCleanupJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &RequestCleanupJob{purger: purger, logger: logger}
}

// Handle processes TaskRequestCleanup tasks.
func (j *RequestCleanupJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload RequestCleanupPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	removed, err := j.purger.PurgeStale(ctx, payload.OlderThan)
	if err != nil {
		j.logger.Error("request cleanup", slog.Any("error", err))
		return err
	}
	if removed > 0 {
		j.logger.Info("request cleanup complete", slog.Int64("removed", removed))
	}
	return nil
}

package jobs

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/hibiken/asynq"
)

// Sweeper reaps expired grants and broadcasts their revocation.
// access.Service satisfies it.
type Sweeper interface {
	Sweep(ctx context.Context, limit int) (int, error)
}

// ExpirySweepJob runs the periodic grant sweep. The sweep is the server-side
// authority behind every client countdown: even if no page is open when a
// grant lapses, the grant is gone and the revocation is broadcast.
type ExpirySweepJob struct {
	sweeper Sweeper
	logger  *slog.Logger
}

// NewExpirySweepJob constructs an ExpirySweepJob.
func NewExpirySweepJob(sweeper Sweeper, logger *slog.Logger) *ExpirySweepJob {
	if logger == nil {
		logger = slog.Default()
	}
	return &ExpirySweepJob{sweeper: sweeper, logger: logger}
}

// Handle processes TaskAccessExpirySweep tasks.
func (j *ExpirySweepJob) Handle(ctx context.Context, t *asynq.Task) error {
	var payload ExpirySweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return asynq.SkipRetry
	}
	removed, err := j.sweeper.Sweep(ctx, payload.Limit)
	if err != nil {
		j.logger.Error("expiry sweep", slog.Any("error", err))
		return err
	}
	if removed > 0 {
		j.logger.Info("expiry sweep complete", slog.Int("revoked", removed))
	}
	return nil
}
